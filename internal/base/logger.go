// Package base holds small capability types shared across the cache
// package and any caller embedding it, without pulling in the cache's
// own dependency surface.
package base

import (
	"fmt"
	"log"
)

// Logger is the pluggable logging capability the cache accepts (spec §6
// "log" option). It is intentionally narrow: the cache never needs more
// than an informational sink, since integrity and I/O failures at read
// time are reported as misses, not logged-and-thrown.
type Logger interface {
	Infof(format string, args ...interface{})
}

// DefaultLogger logs to the Go standard library's log package.
type DefaultLogger struct{}

// Infof implements Logger.
func (DefaultLogger) Infof(format string, args ...interface{}) {
	_ = log.Output(2, fmt.Sprintf(format, args...))
}

// NoopLogger discards everything. Useful in tests that want to assert on
// behavior without log noise.
type NoopLogger struct{}

// Infof implements Logger.
func (NoopLogger) Infof(format string, args ...interface{}) {}
