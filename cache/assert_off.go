//go:build !invariants && !race

package cache

// debugAssertionsEnabled mirrors the teacher's internal/invariants
// on.go/off.go split (internal/invariants.Enabled): without the
// invariants or race build tag, debugAssert never panics, and
// production builds pay nothing for the check.
var debugAssertionsEnabled = false
