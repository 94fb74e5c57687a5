package cputrace

import (
	"strings"

	"github.com/zyedidia/cputrace/pkg/hwcounter"
)

// Flags selects the metrics a scope captures. Flags combine with |.
type Flags uint8

const (
	SoftwareInterrupts Flags = 1 << iota
	Cycles
	CacheMisses
	BranchMisses
	Instructions

	AllMetrics = SoftwareInterrupts | Cycles | CacheMisses | BranchMisses | Instructions
)

// FlagOf returns the flag for a single metric.
func FlagOf(m hwcounter.Metric) Flags {
	return 1 << m
}

// Has reports whether metric m is selected.
func (f Flags) Has(m hwcounter.Metric) bool {
	return f&FlagOf(m) != 0
}

// Metrics returns the selected metrics in slot order.
func (f Flags) Metrics() []hwcounter.Metric {
	var ms []hwcounter.Metric
	for _, m := range hwcounter.AllMetrics() {
		if f.Has(m) {
			ms = append(ms, m)
		}
	}
	return ms
}

// Config converts the flag set into a counter session configuration.
func (f Flags) Config(excludeKernel, excludeHypervisor bool) hwcounter.Config {
	cfg := hwcounter.Config{
		ExcludeKernel:     excludeKernel,
		ExcludeHypervisor: excludeHypervisor,
	}
	for _, m := range f.Metrics() {
		cfg.Set(m, true)
	}
	return cfg
}

func (f Flags) String() string {
	if f&AllMetrics == 0 {
		return "none"
	}
	names := make([]string, 0, hwcounter.NumMetrics)
	for _, m := range f.Metrics() {
		names = append(names, m.String())
	}
	return strings.Join(names, "|")
}

// ParseFlags parses a comma-separated list of metric names such as
// "cycles,cache-misses" or "cyc,cmiss".
func ParseFlags(s string) (Flags, error) {
	cfg, err := hwcounter.ParseMetrics(s)
	var f Flags
	for _, m := range cfg.Metrics() {
		f |= FlagOf(m)
	}
	return f, err
}
