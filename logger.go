package vdenc

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/gogpu/vdenc/internal/resource"
)

// nopHandler drops every record. Enabled reports false for all levels,
// so the attributes of a pass or buffer event are never evaluated.
type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (nopHandler) WithAttrs([]slog.Attr) slog.Handler        { return nopHandler{} }
func (nopHandler) WithGroup(string) slog.Handler             { return nopHandler{} }

func newNopLogger() *slog.Logger { return slog.New(nopHandler{}) }

// loggerPtr holds the logger shared by every Encoder. Pipes build their
// passes on separate goroutines, so reads and SetLogger race without it.
var loggerPtr atomic.Pointer[slog.Logger]

func init() {
	loggerPtr.Store(newNopLogger())
}

// SetLogger routes the encoder's events to l and forwards it to the buffer
// allocator. Encoders are silent until it is called; nil silences them again.
//
// Every record carries the "encoder" attribute with the instance id, so the
// output of several encoders sharing one logger can be told apart.
//
// Events:
//   - [slog.LevelDebug]: encoder created, sequence set, picture set (tile
//     count and recycled set), pass built (command bytes and address
//     patches), and every buffer the allocator creates
//   - [slog.LevelInfo]: frame buffers allocated, HuC authentication check
//     scheduled
//   - [slog.LevelWarn]: a buffer freed while still locked
//
// Example:
//
//	vdenc.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
//	    Level: slog.LevelDebug,
//	})))
func SetLogger(l *slog.Logger) {
	if l == nil {
		l = newNopLogger()
	}
	loggerPtr.Store(l)
	resource.SetLogger(l)
}

// Logger returns the logger encoder events are written to.
func Logger() *slog.Logger {
	return loggerPtr.Load()
}
