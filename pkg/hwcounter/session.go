// Package hwcounter opens, starts, stops and reads groups of kernel
// performance counters for the calling thread.
//
// Counting requires permission to use perf events from user code (see
// /proc/sys/kernel/perf_event_paranoid). Platforms without perf events fail
// closed with ErrUnsupported.
package hwcounter

import (
	"errors"
	"fmt"
	"runtime"
	"time"

	"go.uber.org/multierr"
)

var (
	ErrUnsupported  = errors.New("hwcounter: performance counters not supported")
	ErrPermission   = errors.New("hwcounter: permission denied opening performance counter")
	ErrNoMetrics    = errors.New("hwcounter: no metrics requested")
	ErrNotScheduled = errors.New("hwcounter: counter was never scheduled")
)

// scale extrapolates a counter value read after the kernel multiplexed it,
// i.e. it only ran for part of the time it was enabled.
func scale(value uint64, enabled, running time.Duration) (uint64, error) {
	if running <= 0 {
		return 0, ErrNotScheduled
	}
	if enabled == running {
		return value, nil
	}
	return uint64(float64(value) * float64(enabled) / float64(running)), nil
}

// A counter is one open kernel counter handle.
type counter interface {
	Reset() error
	Enable() error
	Disable() error
	Read() (uint64, error)
	Close() error
}

// An opener opens the counter for metric m. The first counter of a session
// is opened with a nil leader and becomes the group leader; the remaining
// ones join its group.
type opener func(m Metric, cfg Config, leader counter) (counter, error)

type state uint8

const (
	stateOpen state = iota
	stateRunning
	stateStopped
	stateClosed
)

type handle struct {
	metric Metric
	c      counter
}

// A Session is a group of counters, one per enabled metric, that are started
// and stopped together. The lifecycle is Open, then any number of Start/Stop
// brackets, then Close. Calling Start twice, Stop without Start, or anything
// after Close is a programming error and panics.
//
// A Session counts the OS thread that opened it; callers must keep the
// goroutine locked to that thread (runtime.LockOSThread) until Close.
type Session struct {
	cfg     Config
	handles []handle
	state   state
}

// Open opens one counter per metric enabled in cfg. If any counter fails to
// open, the counters opened so far are closed and the whole session fails.
func Open(cfg Config) (*Session, error) {
	return open(cfg, openCounter)
}

func open(cfg Config, openFn opener) (*Session, error) {
	metrics := cfg.Metrics()
	if len(metrics) == 0 {
		return nil, ErrNoMetrics
	}

	s := &Session{
		cfg:     cfg,
		handles: make([]handle, 0, len(metrics)),
	}
	var leader counter
	for _, m := range metrics {
		c, err := openFn(m, cfg, leader)
		if err != nil {
			return nil, multierr.Append(fmt.Errorf("open %s: %w", m.Label(), err), s.closeHandles())
		}
		if leader == nil {
			leader = c
		}
		s.handles = append(s.handles, handle{metric: m, c: c})
	}
	return s, nil
}

// Config returns the configuration the session was opened with.
func (s *Session) Config() Config {
	return s.cfg
}

// Start resets every counter and enables the group.
func (s *Session) Start() error {
	switch s.state {
	case stateRunning:
		panic("hwcounter: Start called on a running session")
	case stateClosed:
		panic("hwcounter: Start called on a closed session")
	}

	var errs error
	for _, h := range s.handles {
		errs = multierr.Append(errs, h.c.Reset())
	}
	if errs != nil {
		return errs
	}
	// siblings follow the leader
	if err := s.handles[0].c.Enable(); err != nil {
		return err
	}
	s.state = stateRunning
	return nil
}

// Stop disables the group and reads every counter into the slot of its
// metric in m. Slots of metrics that are not enabled are set to zero.
func (s *Session) Stop(m *Measurement) error {
	if s.state != stateRunning {
		panic("hwcounter: Stop called without Start")
	}

	s.state = stateStopped
	if err := s.handles[0].c.Disable(); err != nil {
		return err
	}

	*m = Measurement{}
	var errs error
	for _, h := range s.handles {
		v, err := h.c.Read()
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("read %s: %w", h.metric.Label(), err))
			continue
		}
		m[h.metric] = v
	}
	return errs
}

// Close closes every counter handle.
func (s *Session) Close() error {
	if s.state == stateClosed {
		panic("hwcounter: Close called twice")
	}
	s.state = stateClosed
	return s.closeHandles()
}

// closeHandles closes siblings before the leader.
func (s *Session) closeHandles() error {
	var errs error
	for i := len(s.handles) - 1; i >= 0; i-- {
		errs = multierr.Append(errs, s.handles[i].c.Close())
	}
	s.handles = nil
	return errs
}

// Probe checks that a session with cfg can be opened, started, stopped and
// closed on the calling thread.
func Probe(cfg Config) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	s, err := Open(cfg)
	if err != nil {
		return err
	}
	var m Measurement
	err = s.Start()
	if err == nil {
		err = s.Stop(&m)
	}
	return multierr.Append(err, s.Close())
}

// Available returns the metrics whose counters can be opened on this system.
func Available() []Metric {
	var ms []Metric
	for _, m := range AllMetrics() {
		var cfg Config
		cfg.Set(m, true)
		if Probe(cfg) == nil {
			ms = append(ms, m)
		}
	}
	return ms
}
