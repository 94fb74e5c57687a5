package hwcounter

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCounter struct {
	metric   Metric
	leader   bool
	value    uint64
	resets   int
	enabled  bool
	closed   int
	closeErr error
	readErr  error
	log      *[]string
}

func (f *fakeCounter) Reset() error {
	f.resets++
	return nil
}

func (f *fakeCounter) Enable() error {
	f.enabled = true
	*f.log = append(*f.log, "enable "+f.metric.String())
	return nil
}

func (f *fakeCounter) Disable() error {
	f.enabled = false
	*f.log = append(*f.log, "disable "+f.metric.String())
	return nil
}

func (f *fakeCounter) Read() (uint64, error) {
	if f.readErr != nil {
		return 0, f.readErr
	}
	return f.value, nil
}

func (f *fakeCounter) Close() error {
	f.closed++
	*f.log = append(*f.log, "close "+f.metric.String())
	return f.closeErr
}

type fakeOpener struct {
	counters []*fakeCounter
	failOn   Metric
	fail     bool
	log      []string
}

func (o *fakeOpener) open(m Metric, cfg Config, leader counter) (counter, error) {
	if o.fail && m == o.failOn {
		return nil, ErrPermission
	}
	c := &fakeCounter{
		metric: m,
		leader: leader == nil,
		value:  uint64(m+1) * 1000,
		log:    &o.log,
	}
	o.counters = append(o.counters, c)
	return c, nil
}

func allConfig() Config {
	return Config{
		SoftwareInterrupts: true,
		Cycles:             true,
		CacheMisses:        true,
		BranchMisses:       true,
		Instructions:       true,
	}
}

func TestOpenOneHandlePerMetric(t *testing.T) {
	o := &fakeOpener{}
	s, err := open(Config{Cycles: true, Instructions: true}, o.open)
	require.NoError(t, err)
	require.Len(t, o.counters, 2)
	assert.True(t, o.counters[0].leader)
	assert.False(t, o.counters[1].leader)
	assert.Equal(t, Cycles, o.counters[0].metric)
	assert.Equal(t, Instructions, o.counters[1].metric)
	require.NoError(t, s.Close())
}

func TestOpenEmptyConfig(t *testing.T) {
	o := &fakeOpener{}
	_, err := open(Config{ExcludeKernel: true}, o.open)
	require.ErrorIs(t, err, ErrNoMetrics)
	assert.Empty(t, o.counters)
}

func TestOpenPartialFailureClosesOpened(t *testing.T) {
	o := &fakeOpener{fail: true, failOn: BranchMisses}
	s, err := open(allConfig(), o.open)
	require.Error(t, err)
	assert.Nil(t, s)
	assert.ErrorIs(t, err, ErrPermission)
	assert.Contains(t, err.Error(), "branch-misses")

	require.Len(t, o.counters, 3)
	for _, c := range o.counters {
		assert.Equal(t, 1, c.closed, "%s not closed exactly once", c.metric)
	}
	assert.Equal(t, []string{"close cmiss", "close cyc", "close swi"}, o.log)
}

func TestOpenPartialFailureReportsCloseErrors(t *testing.T) {
	o := &fakeOpener{fail: true, failOn: Instructions}
	closeErr := errors.New("bad fd")
	opener := func(m Metric, cfg Config, leader counter) (counter, error) {
		c, err := o.open(m, cfg, leader)
		if c != nil {
			c.(*fakeCounter).closeErr = closeErr
		}
		return c, err
	}
	_, err := open(Config{Cycles: true, Instructions: true}, opener)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPermission)
	assert.ErrorIs(t, err, closeErr)
}

func TestStartStopMapsSlots(t *testing.T) {
	o := &fakeOpener{}
	s, err := open(Config{SoftwareInterrupts: true, CacheMisses: true, Instructions: true}, o.open)
	require.NoError(t, err)

	require.NoError(t, s.Start())
	for _, c := range o.counters {
		assert.Equal(t, 1, c.resets)
	}
	assert.True(t, o.counters[0].enabled)

	m := Measurement{7, 7, 7, 7, 7}
	require.NoError(t, s.Stop(&m))
	assert.Equal(t, Measurement{
		SoftwareInterrupts: 1000,
		CacheMisses:        3000,
		Instructions:       5000,
	}, m)
	assert.Equal(t, []string{"enable swi", "disable swi"}, o.log)

	// sessions can be restarted after a stop
	require.NoError(t, s.Start())
	require.NoError(t, s.Stop(&m))
	require.NoError(t, s.Close())
}

func TestStopReportsUnscheduledCounter(t *testing.T) {
	o := &fakeOpener{}
	s, err := open(Config{Cycles: true, Instructions: true}, o.open)
	require.NoError(t, err)
	defer s.Close()
	o.counters[1].readErr = ErrNotScheduled

	var m Measurement
	require.NoError(t, s.Start())
	err = s.Stop(&m)
	require.ErrorIs(t, err, ErrNotScheduled)
	assert.Contains(t, err.Error(), "read instructions")
	assert.Equal(t, uint64(2000), m[Cycles])
	assert.Zero(t, m[Instructions])
}

func TestScale(t *testing.T) {
	tests := []struct {
		name             string
		value            uint64
		enabled, running time.Duration
		want             uint64
		err              error
	}{
		{"full time", 500, time.Millisecond, time.Millisecond, 500, nil},
		{"half time", 500, 2 * time.Millisecond, time.Millisecond, 1000, nil},
		{"never scheduled", 0, time.Millisecond, 0, 0, ErrNotScheduled},
		{"never enabled", 0, 0, 0, 0, ErrNotScheduled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := scale(tt.value, tt.enabled, tt.running)
			if tt.err != nil {
				require.ErrorIs(t, err, tt.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, v)
		})
	}
}

func TestSessionMisusePanics(t *testing.T) {
	o := &fakeOpener{}
	s, err := open(Config{Cycles: true}, o.open)
	require.NoError(t, err)

	var m Measurement
	assert.Panics(t, func() { s.Stop(&m) }, "stop without start")

	require.NoError(t, s.Start())
	assert.Panics(t, func() { s.Start() }, "double start")
	require.NoError(t, s.Stop(&m))
	assert.Panics(t, func() { s.Stop(&m) }, "double stop")

	require.NoError(t, s.Close())
	assert.Panics(t, func() { s.Close() }, "double close")
	assert.Panics(t, func() { s.Start() }, "start after close")
}

func TestRepeatedOpenCloseDoesNotLeak(t *testing.T) {
	o := &fakeOpener{}
	for i := 0; i < 10; i++ {
		s, err := open(allConfig(), o.open)
		require.NoError(t, err)
		require.NoError(t, s.Close())
	}
	require.Len(t, o.counters, 10*NumMetrics)
	for _, c := range o.counters {
		assert.Equal(t, 1, c.closed)
	}
}
