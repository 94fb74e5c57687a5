//go:build !linux

package hwcounter

import "runtime"

func CheckPlatform() (Platform, error) {
	return Platform{Release: runtime.GOOS, Paranoid: ParanoidUnknown}, ErrUnsupported
}
