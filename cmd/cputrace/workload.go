package main

import (
	"math/rand"
	"sync"
	"sync/atomic"

	"github.com/zyedidia/cputrace"
)

// stride in elements between consecutive accesses of the stride workload;
// 4096 int32s puts every access on a different page.
const stride = 4096

type workload struct {
	name string
	site *cputrace.Site
	fn   func(numbers []int32) int64
}

var workloads = []*workload{
	{name: "sum", site: cputrace.NewSite("sum"), fn: sum},
	{name: "branchy", site: cputrace.NewSite("branchy"), fn: branchy},
	{name: "stride", site: cputrace.NewSite("stride"), fn: strided},
}

func findWorkload(name string) *workload {
	for _, w := range workloads {
		if w.name == name {
			return w
		}
	}
	return nil
}

// sink keeps workload results alive.
var sink atomic.Int64

func sum(numbers []int32) int64 {
	var sum int64
	for _, i := range numbers {
		sum += int64(i)
	}
	return sum
}

func branchy(numbers []int32) int64 {
	var n int64
	for _, i := range numbers {
		if i&1 == 0 {
			n += int64(i >> 3)
		} else if i&2 == 0 {
			n -= int64(i >> 5)
		} else {
			n ^= int64(i)
		}
	}
	return n
}

func strided(numbers []int32) int64 {
	var sum int64
	for start := 0; start < stride && start < len(numbers); start++ {
		for i := start; i < len(numbers); i += stride {
			sum += int64(numbers[i])
		}
	}
	return sum
}

func randomNumbers(n int, seed int64) []int32 {
	r := rand.New(rand.NewSource(seed))
	numbers := make([]int32, n)
	for i := range numbers {
		numbers[i] = r.Int31()
	}
	return numbers
}

// run executes every workload iterations times on each of threads
// goroutines, measuring each call with p.
func run(p *cputrace.Profiler, ws []*workload, flags cputrace.Flags, threads, iterations, size int) {
	var wg sync.WaitGroup
	for t := 0; t < threads; t++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			numbers := randomNumbers(size, seed)
			var local int64
			for i := 0; i < iterations; i++ {
				for _, w := range ws {
					sc := w.site.BeginOn(p, flags)
					local += w.fn(numbers)
					sc.End()
				}
			}
			sink.Add(local)
		}(int64(t + 1))
	}
	wg.Wait()
}
