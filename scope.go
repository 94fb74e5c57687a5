package cputrace

import (
	"errors"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/zyedidia/cputrace/pkg/hwcounter"
	"go.uber.org/multierr"
)

// ScopeState is the state of a Scope.
type ScopeState uint8

const (
	// Idle scopes measure nothing; End is a no-op.
	Idle ScopeState = iota
	// Measuring scopes hold a running counter session.
	Measuring
	// Committed scopes have ended, whether or not the measurement was kept.
	Committed
)

func (s ScopeState) String() string {
	switch s {
	case Measuring:
		return "measuring"
	case Committed:
		return "committed"
	}
	return "idle"
}

// A Scope brackets one measurement of an anchor. It is created by Begin and
// committed by End, which must run on the same goroutine: the goroutine stays
// locked to its OS thread in between, since the counters only count that
// thread.
//
// Copies of a Scope share its state, so ending any of them ends all.
type Scope struct {
	p       *Profiler
	anchor  *Anchor
	session CounterSession
	flags   Flags
	ended   *atomic.Bool
}

// State reports whether the scope is idle, measuring or committed.
func (s Scope) State() ScopeState {
	switch {
	case s.session == nil:
		return Idle
	case s.ended.Load():
		return Committed
	}
	return Measuring
}

// Anchor returns the anchor the scope commits to, or nil for idle scopes.
func (s Scope) Anchor() *Anchor {
	return s.anchor
}

// Begin starts measuring the anchor at index, registering it under name on
// first use. If profiling is disabled the returned scope is idle and no
// counter is opened. Counter failures are logged and counted on the anchor,
// and also yield an idle scope; use TryBegin to see them.
//
// Begin panics if index is outside [0, MaxAnchors) or if the profiler has
// been closed.
func (p *Profiler) Begin(name string, index int, flags Flags) Scope {
	s, err := p.TryBegin(name, index, flags)
	if err != nil {
		Logger.Debug().Str("anchor", name).Int("index", index).Err(err).Msg("scope not measured")
	}
	return s
}

// TryBegin is like Begin but returns the error that left the scope idle.
func (p *Profiler) TryBegin(name string, index int, flags Flags) (Scope, error) {
	switch p.state.Load() {
	case stateDisabled:
		return Scope{}, nil
	case stateClosed:
		panic(ErrClosed)
	}
	if flags&AllMetrics == 0 {
		return Scope{}, hwcounter.ErrNoMetrics
	}

	a, err := p.table.LookupOrCreate(index, name)
	if errors.Is(err, ErrIndexRange) {
		panic(err)
	}
	if err != nil {
		return Scope{}, err
	}

	runtime.LockOSThread()
	s, err := p.cfg.OpenSession(flags.Config(p.cfg.ExcludeKernel, p.cfg.ExcludeHypervisor))
	if err != nil {
		runtime.UnlockOSThread()
		a.fail()
		return Scope{}, err
	}
	if err := s.Start(); err != nil {
		err = multierr.Append(err, s.Close())
		runtime.UnlockOSThread()
		a.fail()
		return Scope{}, err
	}
	return Scope{
		p:       p,
		anchor:  a,
		session: s,
		flags:   flags,
		ended:   new(atomic.Bool),
	}, nil
}

// End stops the counters and adds their values to the anchor. End on an
// idle scope does nothing; ending a scope twice panics.
func (s Scope) End() {
	if s.session == nil {
		return
	}
	if s.ended.Swap(true) {
		panic("cputrace: scope ended twice")
	}

	var m hwcounter.Measurement
	err := s.session.Stop(&m)
	err = multierr.Append(err, s.session.Close())
	runtime.UnlockOSThread()

	if err != nil {
		Logger.Warn().Str("anchor", s.anchor.name).Err(err).Msg("measurement failed")
		s.anchor.fail()
		return
	}
	if !s.anchor.commit(&m, s.flags, s.p.cfg.RecordSamples) {
		Logger.Debug().Str("anchor", s.anchor.name).Msg("measurement dropped, profiler closed")
	}
}

var nextSite atomic.Int64

// A Site is one instrumented call site. Its anchor index is assigned from a
// process-wide counter the first time the site is used and never changes.
// Sites are meant to be package-level variables.
//
// Indices handed out to sites and indices passed to Begin directly share the
// same table, so a profiler should use one scheme or the other.
type Site struct {
	name  string
	once  sync.Once
	index int
	err   error
}

// NewSite creates a call site labelled name.
func NewSite(name string) *Site {
	return &Site{name: name}
}

// Name returns the site's label.
func (s *Site) Name() string {
	return s.name
}

// Index returns the site's anchor index, assigning it on first use. It
// panics with ErrTooManyAnchors once more than MaxAnchors sites are in use.
func (s *Site) Index() int {
	s.once.Do(func() {
		i := nextSite.Add(1) - 1
		if i >= MaxAnchors {
			s.err = ErrTooManyAnchors
			return
		}
		s.index = int(i)
	})
	if s.err != nil {
		panic(s.err)
	}
	return s.index
}

// Begin starts measuring the site with the default profiler.
func (s *Site) Begin(flags Flags) Scope {
	return s.BeginOn(std, flags)
}

// BeginOn starts measuring the site with profiler p.
func (s *Site) BeginOn(p *Profiler, flags Flags) Scope {
	// skip index assignment while stopped
	if p.state.Load() == stateDisabled {
		return Scope{}
	}
	return p.Begin(s.name, s.Index(), flags)
}

var sites sync.Map // name -> *Site

// Profile starts measuring the site labelled name with the default profiler
// and returns the function that ends the measurement:
//
//	defer cputrace.Profile("compress", cputrace.Cycles)()
//
// Every call with the same name shares one site.
func Profile(name string, flags Flags) func() {
	v, ok := sites.Load(name)
	if !ok {
		v, _ = sites.LoadOrStore(name, NewSite(name))
	}
	return v.(*Site).Begin(flags).End
}
