package main

import (
	"fmt"
	"strings"
)

var opts struct {
	List        bool     `short:"l" long:"list" description:"List the hardware metrics that can be counted on this system"`
	Events      string   `short:"e" long:"events" default:"cyc,ins,cmiss,bmiss" env:"CPUTRACE_EVENTS" description:"Comma-separated list of metrics to capture (swi, cyc, cmiss, bmiss, ins)"`
	Workloads   []string `short:"w" long:"workload" description:"Workload(s) to run: sum, branchy, stride (default: all)"`
	Threads     int      `short:"t" long:"threads" default:"4" env:"CPUTRACE_THREADS" description:"Number of goroutines running the workloads"`
	Iterations  int      `short:"n" long:"iterations" default:"50" env:"CPUTRACE_ITERATIONS" description:"Calls of each workload per goroutine"`
	Size        int      `long:"size" default:"1000000" description:"Number of elements each workload call touches"`
	ArenaSize   int      `long:"arena-size" default:"4096" env:"CPUTRACE_ARENA_SIZE" description:"Initial size in bytes of each anchor's results arena"`
	FixedArena  bool     `long:"fixed-arena" description:"Don't grow anchor arenas; drop samples once they are full"`
	Samples     string   `long:"samples" description:"Record every per-call counter value and write them to this CSV file"`
	Kernel      bool     `long:"kernel" description:"Include kernel code in measurements (context switches always include it)"`
	Hypervisor  bool     `long:"hypervisor" description:"Include hypervisor code in measurements"`
	SortKey     string   `long:"sort-key" default:"index" description:"Key to sort the summary table with: index, name, calls or a metric name"`
	ReverseSort bool     `long:"reverse-sort" description:"Reverse summary table sorting"`
	Csv         bool     `long:"csv" description:"Write summary output in CSV format"`
	Output      string   `short:"o" long:"output" description:"Write summary output to file"`
	Pprof       string   `long:"pprof" description:"Also write the summary as a pprof profile to this file"`
	Serve       string   `long:"serve" env:"CPUTRACE_SERVE" description:"After the run, serve Prometheus metrics on this address (e.g. :9100)"`
	LogLevel    string   `long:"log-level" default:"warn" env:"CPUTRACE_LOG_LEVEL" description:"Log level: trace, debug, info, warn, error"`
	Verbose     bool     `short:"V" long:"verbose" description:"Show verbose debug information"`
	Version     bool     `short:"v" long:"version" description:"Show version information"`
	Help        bool     `short:"h" long:"help" description:"Show this help message"`
}

// selectWorkloads returns the workloads named in names, or all of them if
// names is empty.
func selectWorkloads(names []string) ([]*workload, error) {
	if len(names) == 0 {
		return workloads, nil
	}

	var selected []*workload
	for _, list := range names {
		for _, name := range strings.Split(list, ",") {
			w := findWorkload(strings.TrimSpace(name))
			if w == nil {
				return nil, fmt.Errorf("unknown workload '%s'", name)
			}
			selected = append(selected, w)
		}
	}
	return selected, nil
}
