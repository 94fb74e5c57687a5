// Package cputrace samples hardware performance counters around named code
// regions ("anchors") and accumulates per-anchor totals.
//
// A region is measured with a Scope:
//
//	var parseSite = cputrace.NewSite("parse")
//
//	func parse() {
//		defer parseSite.Begin(cputrace.Cycles | cputrace.Instructions).End()
//		...
//	}
//
// Nothing is measured until Start is called. While the profiler is stopped a
// scope opens no counters and touches no anchor.
package cputrace

import (
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/zyedidia/cputrace/pkg/hwcounter"
	"go.uber.org/multierr"
)

const (
	stateDisabled int32 = iota
	stateEnabled
	stateClosed
)

// A Profiler owns an anchor table and the switch that turns measurement on
// and off. Anchor statistics are guarded per anchor; mu only serializes the
// table-wide operations Dump, Reset and Close against each other.
type Profiler struct {
	cfg   Config
	state atomic.Int32
	table *AnchorTable

	mu       sync.Mutex
	checked  bool
	platform hwcounter.Platform
}

// New creates a stopped profiler.
func New(cfg Config) *Profiler {
	cfg = cfg.withDefaults()
	return &Profiler{
		cfg:   cfg,
		table: NewAnchorTable(cfg.ArenaSize, cfg.Growable),
	}
}

// Config returns the profiler's configuration.
func (p *Profiler) Config() Config {
	return p.cfg
}

// Table returns the profiler's anchor table.
func (p *Profiler) Table() *AnchorTable {
	return p.table
}

// Enabled reports whether scopes are currently being measured.
func (p *Profiler) Enabled() bool {
	return p.state.Load() == stateEnabled
}

// Start enables profiling. The first call checks that the kernel supports the
// counters and that the probe metrics can be opened; if not, profiling stays
// disabled and the error is returned.
func (p *Profiler) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state.Load() == stateClosed {
		return ErrClosed
	}
	if !p.checked {
		if err := p.check(); err != nil {
			Logger.Error().Err(err).Msg("profiling unavailable")
			return err
		}
		p.checked = true
	}
	p.state.Store(stateEnabled)
	Logger.Info().Msg("profiling started")
	return nil
}

func (p *Profiler) check() error {
	if !p.cfg.SkipPlatformCheck {
		pl, err := hwcounter.CheckPlatform()
		if err != nil {
			return err
		}
		p.platform = pl
	}

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	s, err := p.cfg.OpenSession(p.cfg.Probe.Config(p.cfg.ExcludeKernel, p.cfg.ExcludeHypervisor))
	if err != nil {
		return err
	}
	var m hwcounter.Measurement
	err = s.Start()
	if err == nil {
		err = s.Stop(&m)
	}
	return multierr.Append(err, s.Close())
}

// Platform returns the platform found by the first successful Start.
func (p *Profiler) Platform() hwcounter.Platform {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.platform
}

// Stop disables profiling. Scopes that began while profiling was enabled
// still commit their measurement when they end.
func (p *Profiler) Stop() error {
	if !p.state.CompareAndSwap(stateEnabled, stateDisabled) {
		if p.state.Load() == stateClosed {
			return ErrClosed
		}
		return nil
	}
	Logger.Info().Msg("profiling stopped")
	return nil
}

// Reset zeroes the call count and sums of every anchor. Anchors keep their
// names, indices and arenas.
func (p *Profiler) Reset() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state.Load() == stateClosed {
		return ErrClosed
	}
	for _, a := range p.table.Anchors() {
		a.reset()
	}
	Logger.Debug().Msg("anchors reset")
	return nil
}

// Snapshot returns the statistics of every registered anchor in index order.
func (p *Profiler) Snapshot() ([]Stats, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshot()
}

func (p *Profiler) snapshot() ([]Stats, error) {
	if p.state.Load() == stateClosed {
		return nil, ErrClosed
	}
	anchors := p.table.Anchors()
	stats := make([]Stats, 0, len(anchors))
	// one anchor lock at a time
	for _, a := range anchors {
		stats = append(stats, a.stats())
	}
	return stats, nil
}

// Dump writes a snapshot of every anchor to w. Concurrent dumps are
// serialized.
func (p *Profiler) Dump(w MetricsWriter) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	stats, err := p.snapshot()
	if err != nil {
		return err
	}
	return WriteStats(w, stats)
}

// Close stops profiling and releases every anchor. The profiler cannot be
// used afterwards: control operations return ErrClosed and beginning a scope
// panics.
func (p *Profiler) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state.Swap(stateClosed) == stateClosed {
		return ErrClosed
	}
	p.table.close()
	Logger.Info().Msg("profiler closed")
	return nil
}

var std = New(DefaultConfig())

// Default returns the process-wide profiler used by the package-level
// functions and by Site.Begin.
func Default() *Profiler {
	return std
}

// Start enables the default profiler.
func Start() error {
	return std.Start()
}

// Stop disables the default profiler.
func Stop() error {
	return std.Stop()
}

// Reset zeroes the default profiler's statistics.
func Reset() error {
	return std.Reset()
}

// Dump writes the default profiler's statistics to w.
func Dump(w MetricsWriter) error {
	return std.Dump(w)
}

// Close releases the default profiler.
func Close() error {
	return std.Close()
}
