package hwcounter

import (
	"io"

	"github.com/phuslu/log"
)

// Logger receives diagnostics such as multiplexing warnings. It discards
// everything until SetLogger is called.
var Logger = log.Logger{
	Level:  log.InfoLevel,
	Writer: &log.IOWriter{Writer: io.Discard},
}

func SetLogger(l log.Logger) {
	Logger = l
}
