package cputrace

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/zyedidia/cputrace/pkg/arena"
	"github.com/zyedidia/cputrace/pkg/hwcounter"
)

// MaxAnchors is the capacity of an AnchorTable.
const MaxAnchors = 128

// samples are stored in fixed-size blocks carved from the anchor arena
const sampleBlock = 128

var (
	ErrIndexRange     = fmt.Errorf("cputrace: anchor index out of range [0, %d)", MaxAnchors)
	ErrTooManyAnchors = fmt.Errorf("cputrace: more than %d call sites registered", MaxAnchors)
	ErrClosed         = errors.New("cputrace: profiler closed")
)

// A Sample is one counter value recorded by one call.
type Sample struct {
	Metric hwcounter.Metric
	Value  uint64
}

// An Anchor accumulates the statistics of one instrumented code region. All
// mutable fields are guarded by mu, and no other lock is ever taken while mu
// is held.
type Anchor struct {
	index int
	name  string

	mu       sync.Mutex
	results  *arena.Arena
	calls    uint64
	sums     []uint64 // NumMetrics entries, allocated from results
	seen     Flags
	errors   uint64
	dropped  uint64
	samples  [][]Sample
	nsamples int
	dead     bool
}

func newAnchor(index int, name string, size int, growable bool) (*Anchor, error) {
	results, err := arena.New(size, growable)
	if err != nil {
		return nil, err
	}
	sums, err := arena.AllocSlice[uint64](results, hwcounter.NumMetrics)
	if err != nil {
		results.Release()
		return nil, fmt.Errorf("anchor %q: %w", name, err)
	}
	return &Anchor{
		index:   index,
		name:    name,
		results: results,
		sums:    sums,
	}, nil
}

// Index returns the anchor's slot in its table.
func (a *Anchor) Index() int {
	return a.index
}

// Name returns the label the anchor was registered with.
func (a *Anchor) Name() string {
	return a.name
}

// commit folds one measurement into the anchor. It returns false if the
// anchor was released in the meantime.
func (a *Anchor) commit(m *hwcounter.Measurement, flags Flags, record bool) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.dead {
		return false
	}
	a.calls++
	a.seen |= flags & AllMetrics
	for i := range a.sums {
		metric := hwcounter.Metric(i)
		if !flags.Has(metric) {
			continue
		}
		a.sums[i] += m[i]
		if record {
			a.record(Sample{Metric: metric, Value: m[i]})
		}
	}
	return true
}

func (a *Anchor) record(s Sample) {
	if a.nsamples == len(a.samples)*sampleBlock {
		block, err := arena.AllocSlice[Sample](a.results, sampleBlock)
		if err != nil {
			a.dropped++
			return
		}
		a.samples = append(a.samples, block)
	}
	a.samples[a.nsamples/sampleBlock][a.nsamples%sampleBlock] = s
	a.nsamples++
}

func (a *Anchor) fail() {
	a.mu.Lock()
	if !a.dead {
		a.errors++
	}
	a.mu.Unlock()
}

// reset zeroes the statistics but keeps the arena and sample blocks.
func (a *Anchor) reset() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.calls = 0
	clear(a.sums)
	a.seen = 0
	a.errors = 0
	a.dropped = 0
	a.nsamples = 0
}

func (a *Anchor) stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()

	s := Stats{
		Index:   a.index,
		Name:    a.name,
		Calls:   a.calls,
		Metrics: a.seen,
		Errors:  a.errors,
		Dropped: a.dropped,
	}
	copy(s.Sums[:], a.sums)
	if a.nsamples > 0 {
		s.Samples = make([]Sample, 0, a.nsamples)
		for i := 0; i < a.nsamples; i++ {
			s.Samples = append(s.Samples, a.samples[i/sampleBlock][i%sampleBlock])
		}
	}
	return s
}

func (a *Anchor) release() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.dead {
		return
	}
	a.dead = true
	a.sums = nil
	a.samples = nil
	a.nsamples = 0
	a.results.Release()
}

// An AnchorTable is a fixed-capacity registry of anchors indexed by call
// site. Lookups are lock-free; each anchor is created at most once.
type AnchorTable struct {
	slots    [MaxAnchors]atomic.Pointer[Anchor]
	closed   atomic.Bool
	size     int
	growable bool
}

// NewAnchorTable creates an empty table whose anchors get results arenas of
// the given initial size.
func NewAnchorTable(arenaSize int, growable bool) *AnchorTable {
	return &AnchorTable{
		size:     arenaSize,
		growable: growable,
	}
}

// Get returns the anchor at index, or nil if it was never used.
func (t *AnchorTable) Get(index int) *Anchor {
	if index < 0 || index >= MaxAnchors {
		return nil
	}
	return t.slots[index].Load()
}

// LookupOrCreate returns the anchor at index, creating it with the given name
// on first use. When several goroutines race to create the same anchor, the
// first one to publish wins and the others use its anchor.
func (t *AnchorTable) LookupOrCreate(index int, name string) (*Anchor, error) {
	if index < 0 || index >= MaxAnchors {
		return nil, fmt.Errorf("%w: %d", ErrIndexRange, index)
	}
	slot := &t.slots[index]
	if a := slot.Load(); a != nil {
		return a, nil
	}
	if t.closed.Load() {
		return nil, ErrClosed
	}

	a, err := newAnchor(index, name, t.size, t.growable)
	if err != nil {
		return nil, err
	}
	if !slot.CompareAndSwap(nil, a) {
		a.release()
		return slot.Load(), nil
	}
	// lost a race with close, which may not have seen this slot
	if t.closed.Load() {
		a.release()
		return nil, ErrClosed
	}
	return a, nil
}

// Anchors returns every registered anchor in index order.
func (t *AnchorTable) Anchors() []*Anchor {
	var as []*Anchor
	for i := range t.slots {
		if a := t.slots[i].Load(); a != nil {
			as = append(as, a)
		}
	}
	return as
}

func (t *AnchorTable) close() {
	t.closed.Store(true)
	for _, a := range t.Anchors() {
		a.release()
	}
}
