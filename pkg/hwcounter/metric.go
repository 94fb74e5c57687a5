package hwcounter

import (
	"fmt"
	"strings"

	"go.uber.org/multierr"
)

// A Metric is one of the countable events a Session can capture.
type Metric uint8

const (
	SoftwareInterrupts Metric = iota
	Cycles
	CacheMisses
	BranchMisses
	Instructions

	NumMetrics = 5
)

var shortNames = [NumMetrics]string{
	SoftwareInterrupts: "swi",
	Cycles:             "cyc",
	CacheMisses:        "cmiss",
	BranchMisses:       "bmiss",
	Instructions:       "ins",
}

// perf event names, as printed by perf-list
var labels = [NumMetrics]string{
	SoftwareInterrupts: "context-switches",
	Cycles:             "cpu-cycles",
	CacheMisses:        "cache-misses",
	BranchMisses:       "branch-misses",
	Instructions:       "instructions",
}

var byName = func() map[string]Metric {
	m := make(map[string]Metric, 2*NumMetrics)
	for i := Metric(0); i < NumMetrics; i++ {
		m[shortNames[i]] = i
		m[labels[i]] = i
	}
	m["cycles"] = Cycles
	m["software-interrupts"] = SoftwareInterrupts
	return m
}()

func (m Metric) String() string {
	if m < NumMetrics {
		return shortNames[m]
	}
	return fmt.Sprintf("metric(%d)", uint8(m))
}

// Label returns the kernel event name the metric is counted with.
func (m Metric) Label() string {
	if m < NumMetrics {
		return labels[m]
	}
	return m.String()
}

// AllMetrics lists every metric in slot order.
func AllMetrics() []Metric {
	return []Metric{SoftwareInterrupts, Cycles, CacheMisses, BranchMisses, Instructions}
}

// A Config selects which counters a Session opens. A Session copies its
// Config on Open, so later changes have no effect on it.
type Config struct {
	SoftwareInterrupts bool
	Cycles             bool
	CacheMisses        bool
	BranchMisses       bool
	Instructions       bool

	ExcludeKernel     bool
	ExcludeHypervisor bool
}

// Enabled reports whether metric m is requested.
func (c Config) Enabled(m Metric) bool {
	switch m {
	case SoftwareInterrupts:
		return c.SoftwareInterrupts
	case Cycles:
		return c.Cycles
	case CacheMisses:
		return c.CacheMisses
	case BranchMisses:
		return c.BranchMisses
	case Instructions:
		return c.Instructions
	}
	return false
}

// Set enables or disables metric m.
func (c *Config) Set(m Metric, on bool) {
	switch m {
	case SoftwareInterrupts:
		c.SoftwareInterrupts = on
	case Cycles:
		c.Cycles = on
	case CacheMisses:
		c.CacheMisses = on
	case BranchMisses:
		c.BranchMisses = on
	case Instructions:
		c.Instructions = on
	}
}

// excludeKernel reports whether the counter for m leaves out kernel mode.
// Context switches only happen in the kernel, so the software-interrupts
// counter always includes it.
func (c Config) excludeKernel(m Metric) bool {
	return c.ExcludeKernel && m != SoftwareInterrupts
}

// Metrics returns the enabled metrics in slot order.
func (c Config) Metrics() []Metric {
	var ms []Metric
	for _, m := range AllMetrics() {
		if c.Enabled(m) {
			ms = append(ms, m)
		}
	}
	return ms
}

// Empty reports whether no metric is enabled.
func (c Config) Empty() bool {
	return len(c.Metrics()) == 0
}

func (c Config) String() string {
	names := make([]string, 0, NumMetrics)
	for _, m := range c.Metrics() {
		names = append(names, m.String())
	}
	return strings.Join(names, ",")
}

// A Measurement holds one counter delta per metric slot. Slots of metrics
// that were not enabled are zero and carry no meaning.
type Measurement [NumMetrics]uint64

// ParseMetric converts a metric name, either its short form ("cyc") or its
// kernel event name ("cpu-cycles"), to a Metric.
func ParseMetric(name string) (Metric, error) {
	m, ok := byName[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return 0, fmt.Errorf("not found: metric %s", name)
	}
	return m, nil
}

// ParseMetrics looks at a comma-separated list of metric names and returns a
// Config with those metrics enabled.
func ParseMetrics(s string) (Config, error) {
	var cfg Config
	var errs error
	for _, name := range strings.Split(s, ",") {
		if strings.TrimSpace(name) == "" {
			continue
		}
		m, err := ParseMetric(name)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		cfg.Set(m, true)
	}
	return cfg, errs
}
