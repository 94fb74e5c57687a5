//go:build linux

package hwcounter

import (
	"errors"
	"fmt"
	"time"

	"github.com/zyedidia/perf"
	"golang.org/x/sys/unix"
)

var configurators = [NumMetrics]perf.Configurator{
	SoftwareInterrupts: perf.ContextSwitches,
	Cycles:             perf.CPUCycles,
	CacheMisses:        perf.CacheMisses,
	BranchMisses:       perf.BranchMisses,
	Instructions:       perf.Instructions,
}

// A perfCounter is one perf event. perf tracks "enabled time" but does not
// reset it when "reset" is called, so on every reset we remember the times
// so far and subtract them when scaling the next reading.
type perfCounter struct {
	*perf.Event
	enabled time.Duration
	running time.Duration
}

func openCounter(m Metric, cfg Config, leader counter) (counter, error) {
	fa := &perf.Attr{
		CountFormat: perf.CountFormat{
			Enabled: true,
			Running: true,
		},
		Options: perf.Options{
			ExcludeKernel:     cfg.excludeKernel(m),
			ExcludeHypervisor: cfg.ExcludeHypervisor,
			// only the leader starts disabled, the rest follow it
			Disabled: leader == nil,
		},
	}
	if err := configurators[m].Configure(fa); err != nil {
		return nil, err
	}

	var group *perf.Event
	if leader != nil {
		group = leader.(*perfCounter).Event
	}
	ev, err := perf.Open(fa, perf.CallingThread, perf.AnyCPU, group)
	if err != nil {
		return nil, classify(err)
	}
	return &perfCounter{Event: ev}, nil
}

func (p *perfCounter) Reset() error {
	c, err := p.ReadCount()
	if err != nil {
		return err
	}
	p.enabled = c.Enabled
	p.running = c.Running
	return p.Event.Reset()
}

func (p *perfCounter) Read() (uint64, error) {
	c, err := p.ReadCount()
	if err != nil {
		return 0, err
	}
	enabled := c.Enabled - p.enabled
	running := c.Running - p.running
	if running > 0 && enabled != running {
		Logger.Warn().Str("event", c.Label).Dur("enabled", enabled).Dur("running", running).Msg("multiplexing occurred")
	}
	return scale(c.Value, enabled, running)
}

// classify maps perf_event_open errno values onto the package errors.
func classify(err error) error {
	switch {
	case errors.Is(err, unix.EACCES), errors.Is(err, unix.EPERM):
		return fmt.Errorf("%w (tid %d): %v", ErrPermission, unix.Gettid(), err)
	case errors.Is(err, unix.ENOENT), errors.Is(err, unix.ENODEV),
		errors.Is(err, unix.EOPNOTSUPP), errors.Is(err, unix.EINVAL),
		errors.Is(err, unix.ENOSYS):
		return fmt.Errorf("%w: %v", ErrUnsupported, err)
	}
	return err
}
