//go:build invariants || race

package cache

// debugAssertionsEnabled mirrors the teacher's internal/invariants
// on.go/off.go split (internal/invariants.Enabled): building with
// -tags invariants, or any race build, turns the programmer-error
// checks in debugAssert into panics. It's a var rather than the
// teacher's const so that a test binary can also flip it on at runtime
// without needing the build tag (see TestMain in cache_test.go).
var debugAssertionsEnabled = true
