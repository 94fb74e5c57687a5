package cputrace

import (
	"io"
	"strconv"
	"time"

	"github.com/google/pprof/profile"
	"github.com/zyedidia/cputrace/pkg/hwcounter"
)

// BuildProfile converts anchor statistics into a pprof profile with one
// sample per anchor. The sample values are the call count followed by the
// total of every metric, so `pprof -sample_index=cpu-cycles` ranks anchors
// by cycles.
func BuildProfile(stats []Stats) *profile.Profile {
	p := &profile.Profile{
		SampleType: []*profile.ValueType{{Type: "calls", Unit: "count"}},
		TimeNanos:  time.Now().UnixNano(),
	}
	for _, m := range hwcounter.AllMetrics() {
		p.SampleType = append(p.SampleType, &profile.ValueType{Type: m.Label(), Unit: "count"})
	}
	p.DefaultSampleType = hwcounter.Cycles.Label()

	for i, s := range stats {
		id := uint64(i + 1)
		fn := &profile.Function{
			ID:         id,
			Name:       displayName(s.Name),
			SystemName: s.Name,
		}
		loc := &profile.Location{
			ID:   id,
			Line: []profile.Line{{Function: fn}},
		}
		values := make([]int64, 0, 1+hwcounter.NumMetrics)
		values = append(values, int64(s.Calls))
		for _, v := range s.Sums {
			values = append(values, int64(v))
		}

		p.Function = append(p.Function, fn)
		p.Location = append(p.Location, loc)
		p.Sample = append(p.Sample, &profile.Sample{
			Location: []*profile.Location{loc},
			Value:    values,
			Label:    map[string][]string{"anchor_index": {strconv.Itoa(s.Index)}},
		})
	}
	return p
}

// WriteProfile writes stats to w as a gzipped pprof profile.
func WriteProfile(w io.Writer, stats []Stats) error {
	p := BuildProfile(stats)
	if err := p.CheckValid(); err != nil {
		return err
	}
	return p.Write(w)
}
