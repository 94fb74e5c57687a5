package cputrace

import (
	"github.com/zyedidia/cputrace/pkg/hwcounter"
)

// DefaultArenaSize is the initial size of each anchor's results arena.
const DefaultArenaSize = 4096

// A CounterSession brackets one measurement. *hwcounter.Session is the
// implementation used outside of tests.
type CounterSession interface {
	Start() error
	Stop(m *hwcounter.Measurement) error
	Close() error
}

// SessionOpener opens a counter session for the calling thread.
type SessionOpener func(cfg hwcounter.Config) (CounterSession, error)

// Config controls a Profiler.
type Config struct {
	// Initial size in bytes of each anchor's results arena.
	ArenaSize int
	// Whether anchor arenas grow when full. Fixed arenas drop samples once
	// exhausted and count them.
	Growable bool
	// Keep every per-call counter value in the anchor arena, not just sums.
	RecordSamples bool

	// Metrics opened once by Start to check that counting works here.
	Probe Flags
	// Skip the kernel version and probe checks in Start.
	SkipPlatformCheck bool

	ExcludeKernel     bool
	ExcludeHypervisor bool

	// OpenSession defaults to hwcounter.Open.
	OpenSession SessionOpener
}

// DefaultConfig returns the configuration used by the default profiler.
func DefaultConfig() Config {
	return Config{
		ArenaSize:         DefaultArenaSize,
		Growable:          true,
		Probe:             Cycles,
		ExcludeHypervisor: true,
		OpenSession:       openHardwareSession,
	}
}

func (c Config) withDefaults() Config {
	if c.ArenaSize <= 0 {
		c.ArenaSize = DefaultArenaSize
	}
	if c.Probe&AllMetrics == 0 {
		c.Probe = Cycles
	}
	if c.OpenSession == nil {
		c.OpenSession = openHardwareSession
	}
	return c
}

func openHardwareSession(cfg hwcounter.Config) (CounterSession, error) {
	s, err := hwcounter.Open(cfg)
	if err != nil {
		return nil, err
	}
	return s, nil
}
