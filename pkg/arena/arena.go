// Package arena implements a region-based bump allocator. An Arena hands out
// carved-off ranges of its regions and only reclaims memory as a whole, via
// Reset or Release.
package arena

import (
	"errors"
	"math"
	"unsafe"
)

// DefaultRegionSize is the minimum size of regions appended by a growable
// arena.
const DefaultRegionSize = 1 << 16

// MaxAlloc is the largest single allocation an arena accepts.
const MaxAlloc = math.MaxInt32

var (
	ErrOutOfCapacity = errors.New("arena: out of capacity")
	ErrReleased      = errors.New("arena: use after release")
	ErrInvalidSize   = errors.New("arena: invalid size")
)

const align = unsafe.Sizeof(uintptr(0))

type region struct {
	buf    []byte
	offset uintptr
}

func (r *region) fit(n int) (uintptr, bool) {
	off := alignUp(r.offset)
	return off, off+uintptr(n) <= uintptr(len(r.buf))
}

// An Arena is a list of regions with a bump pointer into the last one. A
// growable arena appends a region when the current one is exhausted; a fixed
// arena fails the allocation instead. Arenas are not safe for concurrent use.
type Arena struct {
	regions  []region
	current  int
	initial  int
	growable bool
	released bool
}

// New creates an arena with one initial region of size bytes.
func New(size int, growable bool) (*Arena, error) {
	if size <= 0 || size > MaxAlloc {
		return nil, ErrInvalidSize
	}
	a := &Arena{
		initial:  size,
		growable: growable,
	}
	a.grow(size)
	return a, nil
}

// Alloc returns n zeroed bytes from the arena. The returned slice is valid
// until the arena is reset or released. Alloc returns nil for n <= 0 and
// ErrInvalidSize for n > MaxAlloc.
func (a *Arena) Alloc(n int) ([]byte, error) {
	if a.released {
		return nil, ErrReleased
	}
	if n <= 0 {
		return nil, nil
	}
	if n > MaxAlloc {
		return nil, ErrInvalidSize
	}

	// regions before current may have been rewound by Reset, so walk forward
	// rather than only looking at the last one
	for a.current < len(a.regions) {
		r := &a.regions[a.current]
		if off, ok := r.fit(n); ok {
			r.offset = off + uintptr(n)
			b := r.buf[off:r.offset:r.offset]
			clear(b)
			return b, nil
		}
		if a.current == len(a.regions)-1 {
			break
		}
		a.current++
	}

	if !a.growable {
		return nil, ErrOutOfCapacity
	}

	size := DefaultRegionSize
	if a.initial > size {
		size = a.initial
	}
	if n > size {
		size = n
	}
	a.grow(size)
	r := &a.regions[a.current]
	r.offset = uintptr(n)
	return r.buf[:n:n], nil
}

// AllocSlice allocates n zeroed elements of T from the arena. T must not
// contain pointers: the garbage collector does not scan arena memory.
func AllocSlice[T any](a *Arena, n int) ([]T, error) {
	if n <= 0 {
		return nil, nil
	}
	var zero T
	size := int(unsafe.Sizeof(zero))
	if size == 0 {
		return make([]T, n), nil
	}
	if n > math.MaxInt/size {
		return nil, ErrInvalidSize
	}
	b, err := a.Alloc(size * n)
	if err != nil {
		return nil, err
	}
	return unsafe.Slice((*T)(unsafe.Pointer(&b[0])), n), nil
}

// Reset rewinds every region. Memory is kept for reuse and all previously
// returned slices must no longer be used.
func (a *Arena) Reset() {
	if a.released {
		return
	}
	for i := range a.regions {
		a.regions[i].offset = 0
	}
	a.current = 0
}

// Release drops every region. Subsequent allocations return ErrReleased.
func (a *Arena) Release() {
	a.regions = nil
	a.current = 0
	a.released = true
}

// Released reports whether Release has been called.
func (a *Arena) Released() bool {
	return a.released
}

// Growable reports whether the arena appends regions when full.
func (a *Arena) Growable() bool {
	return a.growable
}

// Regions returns the number of regions in the arena.
func (a *Arena) Regions() int {
	return len(a.regions)
}

// Size returns the total capacity of all regions in bytes.
func (a *Arena) Size() int {
	total := 0
	for _, r := range a.regions {
		total += len(r.buf)
	}
	return total
}

// Used returns the number of bytes handed out, including alignment padding.
func (a *Arena) Used() int {
	total := 0
	for _, r := range a.regions {
		total += int(r.offset)
	}
	return total
}

func (a *Arena) grow(size int) {
	a.regions = append(a.regions, region{buf: make([]byte, size)})
	a.current = len(a.regions) - 1
}

func alignUp(off uintptr) uintptr {
	mask := align - 1
	return (off + mask) &^ mask
}
