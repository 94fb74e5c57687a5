package hwcounter

import (
	"fmt"

	"github.com/blang/semver"
)

// ParanoidUnknown is reported when the perf_event_paranoid setting cannot be
// read.
const ParanoidUnknown = -100

// Platform describes the kernel the counters run on.
type Platform struct {
	Release  string
	Kernel   semver.Version
	Paranoid int
}

func (p Platform) String() string {
	if p.Paranoid == ParanoidUnknown {
		return fmt.Sprintf("kernel %s", p.Release)
	}
	return fmt.Sprintf("kernel %s (perf_event_paranoid=%d)", p.Release, p.Paranoid)
}
