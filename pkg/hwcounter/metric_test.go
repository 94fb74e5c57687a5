package hwcounter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMetrics(t *testing.T) {
	cfg, err := ParseMetrics("cyc, instructions,branch-misses")
	require.NoError(t, err)
	assert.Equal(t, []Metric{Cycles, BranchMisses, Instructions}, cfg.Metrics())
	assert.Equal(t, "cyc,bmiss,ins", cfg.String())

	cfg, err = ParseMetrics("swi,bogus,cmiss,nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bogus")
	assert.Contains(t, err.Error(), "nope")
	assert.True(t, cfg.SoftwareInterrupts)
	assert.True(t, cfg.CacheMisses)

	cfg, err = ParseMetrics("")
	require.NoError(t, err)
	assert.True(t, cfg.Empty())
}

func TestMetricNames(t *testing.T) {
	for _, m := range AllMetrics() {
		p, err := ParseMetric(m.String())
		require.NoError(t, err)
		assert.Equal(t, m, p)

		p, err = ParseMetric(m.Label())
		require.NoError(t, err)
		assert.Equal(t, m, p)
	}
	assert.Equal(t, "metric(9)", Metric(9).String())
}

func TestConfigSet(t *testing.T) {
	var cfg Config
	for _, m := range AllMetrics() {
		assert.False(t, cfg.Enabled(m))
		cfg.Set(m, true)
		assert.True(t, cfg.Enabled(m))
	}
	cfg.Set(Cycles, false)
	assert.Equal(t, []Metric{SoftwareInterrupts, CacheMisses, BranchMisses, Instructions}, cfg.Metrics())
	assert.False(t, cfg.Enabled(Metric(42)))
}

func TestSoftwareInterruptsIncludeKernel(t *testing.T) {
	cfg := Config{SoftwareInterrupts: true, Cycles: true, ExcludeKernel: true}
	assert.False(t, cfg.excludeKernel(SoftwareInterrupts))
	assert.True(t, cfg.excludeKernel(Cycles))

	cfg.ExcludeKernel = false
	for _, m := range AllMetrics() {
		assert.False(t, cfg.excludeKernel(m))
	}
}
