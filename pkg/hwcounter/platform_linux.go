//go:build linux

package hwcounter

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/blang/semver"
	"golang.org/x/sys/unix"
)

const paranoidFile = "/proc/sys/kernel/perf_event_paranoid"

// perf_event_open with PERF_FLAG_FD_CLOEXEC
var minKernel = semver.Version{Major: 3, Minor: 14}

// CheckPlatform verifies that the running kernel supports the counters this
// package opens. It does not check permissions; use Probe for that.
func CheckPlatform() (Platform, error) {
	var uts unix.Utsname
	if err := unix.Uname(&uts); err != nil {
		return Platform{}, err
	}

	pl := Platform{
		Release:  unix.ByteSliceToString(uts.Release[:]),
		Paranoid: readParanoid(),
	}
	v, err := kernelVersion(pl.Release)
	if err != nil {
		return pl, fmt.Errorf("%w: %v", ErrUnsupported, err)
	}
	pl.Kernel = v
	if v.LT(minKernel) {
		return pl, fmt.Errorf("%w: kernel %s is older than %s", ErrUnsupported, v, minKernel)
	}

	Logger.Debug().Str("release", pl.Release).Int("paranoid", pl.Paranoid).Msg("platform check passed")
	return pl, nil
}

// kernelVersion extracts major.minor.patch from a release string such as
// "5.15.0-91-generic" or "3.10.0-1160.el7.x86_64".
func kernelVersion(release string) (semver.Version, error) {
	end := strings.IndexFunc(release, func(r rune) bool {
		return (r < '0' || r > '9') && r != '.'
	})
	if end >= 0 {
		release = release[:end]
	}
	parts := strings.Split(strings.Trim(release, "."), ".")
	for len(parts) < 3 {
		parts = append(parts, "0")
	}
	return semver.Parse(strings.Join(parts[:3], "."))
}

func readParanoid() int {
	b, err := os.ReadFile(paranoidFile)
	if err != nil {
		return ParanoidUnknown
	}
	v, err := strconv.Atoi(strings.TrimSpace(string(b)))
	if err != nil {
		return ParanoidUnknown
	}
	return v
}
