// Package testutil provides logging helpers for package tests.
package testutil

import (
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/lmittmann/tint"
)

// NewTestLogger returns a debug-level logger whose records go to t.Log, so
// pipeline and engine logs show up next to the failing assertion.
// Output uses the CLI's tint format without colors.
func NewTestLogger(t testing.TB) *slog.Logger {
	t.Helper()
	return slog.New(tint.NewHandler(tbWriter{t}, &tint.Options{
		Level:      slog.LevelDebug,
		NoColor:    true,
		TimeFormat: time.TimeOnly,
	}))
}

// tbWriter forwards each record to the test log.
type tbWriter struct {
	t testing.TB
}

func (w tbWriter) Write(p []byte) (int, error) {
	w.t.Helper()
	w.t.Log(strings.TrimRight(string(p), "\n"))
	return len(p), nil
}
