package cputrace

import (
	"io"

	"github.com/phuslu/log"
)

// Logger receives profiler diagnostics. Nothing is written until SetLogger
// is called with a logger that has a real writer.
var Logger = log.Logger{
	Level:  log.InfoLevel,
	Writer: &log.IOWriter{Writer: io.Discard},
}

func SetLogger(l log.Logger) {
	Logger = l
}
