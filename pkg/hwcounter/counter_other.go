//go:build !linux

package hwcounter

func openCounter(m Metric, cfg Config, leader counter) (counter, error) {
	return nil, ErrUnsupported
}
