package monitoring

import (
	"log"
	"sync/atomic"
)

// Logf is the package-level diagnostic logger. It defaults to log.Printf but may
// be replaced by SetLogger. Fitters, workers and stores all log through it.
var Logf func(format string, v ...interface{}) = log.Printf

var verbosity atomic.Int32

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// SetVerbosity sets the highest Debugf level that is emitted. Level 0 (the
// default) drops all debug output.
func SetVerbosity(level int) {
	verbosity.Store(int32(level))
}

// Verbosity returns the current debug level.
func Verbosity() int {
	return int(verbosity.Load())
}

// Debugf logs through Logf when the configured verbosity is at least level.
// Search progress is logged at level 1, per-expansion detail at level 2.
func Debugf(level int, format string, v ...interface{}) {
	if Verbosity() < level {
		return
	}
	Logf(format, v...)
}
