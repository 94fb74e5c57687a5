package cputrace

import (
	"bytes"
	"encoding/csv"
	"errors"
	"strings"
	"testing"

	"github.com/google/pprof/profile"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zyedidia/cputrace/pkg/hwcounter"
)

func sampleStats() []Stats {
	return []Stats{
		{
			Index:   0,
			Name:    "parse",
			Calls:   4,
			Sums:    hwcounter.Measurement{hwcounter.Cycles: 400, hwcounter.Instructions: 1000},
			Metrics: Cycles | Instructions,
		},
		{
			Index:   1,
			Name:    "_ZN4ceph6encodeEv",
			Calls:   0,
			Metrics: 0,
			Errors:  2,
		},
		{
			Index:   2,
			Name:    "flush",
			Calls:   10,
			Sums:    hwcounter.Measurement{hwcounter.Cycles: 9000},
			Metrics: Cycles,
			Dropped: 3,
		},
	}
}

func TestWriteStatsCSV(t *testing.T) {
	buf := &bytes.Buffer{}
	require.NoError(t, WriteStats(NewCSVWriter(buf), sampleStats()))

	records, err := csv.NewReader(buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 4)

	assert.Equal(t, []string{
		"anchor", "calls",
		"cpu-cycles", "cpu-cycles/call",
		"instructions", "instructions/call",
		"errors", "dropped",
	}, records[0])
	assert.Equal(t, []string{"parse", "4", "400", "100.0", "1000", "250.0", "0", "0"}, records[1])
	assert.Equal(t, []string{"ceph::encode()", "0", "-", "-", "-", "-", "2", "0"}, records[2])
	assert.Equal(t, []string{"flush", "10", "9000", "900.0", "-", "-", "0", "3"}, records[3])
}

func TestWriteStatsTable(t *testing.T) {
	buf := &bytes.Buffer{}
	require.NoError(t, WriteStats(NewTableWriter(buf), sampleStats()))

	out := buf.String()
	assert.Contains(t, out, "cpu-cycles/call")
	assert.Contains(t, out, "parse")
	assert.Contains(t, out, "ceph::encode()")
	assert.Contains(t, out, "flush")
}

type failingWriter struct{}

func (failingWriter) Write(p []byte) (int, error) {
	return 0, errors.New("disk full")
}

func TestWriteStatsReportsWriteErrors(t *testing.T) {
	err := WriteStats(NewCSVWriter(failingWriter{}), sampleStats())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")

	p, _ := startedProfiler(t, DefaultConfig())
	p.Begin("first", 0, Cycles).End()
	assert.Error(t, p.Dump(NewCSVWriter(failingWriter{})))
}

func TestSortStats(t *testing.T) {
	stats := sampleStats()

	require.NoError(t, SortStats(stats, "cyc", false))
	assert.Equal(t, "flush", stats[0].Name)
	assert.Equal(t, "parse", stats[1].Name)

	require.NoError(t, SortStats(stats, "calls", true))
	assert.Equal(t, uint64(0), stats[0].Calls)
	assert.Equal(t, uint64(10), stats[2].Calls)

	require.NoError(t, SortStats(stats, "index", false))
	for i, s := range stats {
		assert.Equal(t, i, s.Index)
	}

	require.NoError(t, SortStats(stats, "name", false))
	assert.Equal(t, "_ZN4ceph6encodeEv", stats[0].Name)

	assert.Error(t, SortStats(stats, "bogus", false))
}

func TestDumpWritesEveryAnchor(t *testing.T) {
	p, _ := startedProfiler(t, DefaultConfig())
	p.Begin("first", 0, Cycles).End()
	p.Begin("second", 1, CacheMisses).End()

	buf := &bytes.Buffer{}
	require.NoError(t, p.Dump(NewCSVWriter(buf)))

	records, err := csv.NewReader(buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "first", records[1][0])
	assert.Equal(t, "second", records[2][0])
}

func TestCollector(t *testing.T) {
	p, _ := startedProfiler(t, DefaultConfig())
	p.Begin("collected", 0, Cycles|Instructions).End()
	p.Begin("other", 1, BranchMisses).End()

	c := NewCollector(p, "cputrace")
	// 3 per-anchor series each, plus one per captured metric
	assert.Equal(t, 3*2+3, testutil.CollectAndCount(c))
	assert.Equal(t, 2, testutil.CollectAndCount(c, "cputrace_anchor_calls_total"))

	reg := prometheus.NewPedanticRegistry()
	require.NoError(t, reg.Register(c))
	expected := `
# HELP cputrace_anchor_calls_total Number of measured executions of the anchor
# TYPE cputrace_anchor_calls_total counter
cputrace_anchor_calls_total{anchor="collected",index="0"} 1
cputrace_anchor_calls_total{anchor="other",index="1"} 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "cputrace_anchor_calls_total"))

	require.NoError(t, p.Close())
	assert.Equal(t, 0, testutil.CollectAndCount(c))
}

func TestWriteProfile(t *testing.T) {
	buf := &bytes.Buffer{}
	require.NoError(t, WriteProfile(buf, sampleStats()))

	prof, err := profile.Parse(buf)
	require.NoError(t, err)
	require.Len(t, prof.SampleType, 1+hwcounter.NumMetrics)
	assert.Equal(t, "calls", prof.SampleType[0].Type)
	assert.Equal(t, "cpu-cycles", prof.SampleType[1+int(hwcounter.Cycles)].Type)
	require.Len(t, prof.Sample, 3)

	first := prof.Sample[0]
	assert.Equal(t, int64(4), first.Value[0])
	assert.Equal(t, int64(400), first.Value[1+int(hwcounter.Cycles)])
	assert.Equal(t, int64(1000), first.Value[1+int(hwcounter.Instructions)])
	assert.Equal(t, "parse", first.Location[0].Line[0].Function.Name)
	assert.Equal(t, []string{"0"}, first.Label["anchor_index"])

	mangled := prof.Sample[1].Location[0].Line[0].Function
	assert.Equal(t, "ceph::encode()", mangled.Name)
	assert.Equal(t, "_ZN4ceph6encodeEv", mangled.SystemName)
}
