package resource

import (
	"log/slog"
	"sync/atomic"
)

// loggerPtr receives allocation and release events. It is set by the
// encoder package, which owns the user facing SetLogger.
var loggerPtr atomic.Pointer[slog.Logger]

func init() {
	loggerPtr.Store(slog.New(slog.DiscardHandler))
}

func slogger() *slog.Logger { return loggerPtr.Load() }

// SetLogger replaces the logger used for "resource: allocated" and
// "resource: freeing locked resource" events. Nil discards them.
func SetLogger(l *slog.Logger) {
	if l == nil {
		l = slog.New(slog.DiscardHandler)
	}
	loggerPtr.Store(l)
}
