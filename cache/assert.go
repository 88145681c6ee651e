package cache

import "fmt"

// debugAssert panics if debugAssertionsEnabled and cond is false. It is
// reserved for the programmer-error class of failure in spec.md §7 —
// non-zero refcount at Close, duplicate BlockInfo Add, an LBA whose
// cache_id doesn't match the file that's parsing it, buffers completing
// out of FIFO order — never for data-integrity or I/O failures, which
// are always surfaced as a miss instead. debugAssertionsEnabled itself
// is declared in assert_on.go/assert_off.go.
func debugAssert(cond bool, format string, args ...interface{}) {
	if !cond && debugAssertionsEnabled {
		panic(fmt.Sprintf(format, args...))
	}
}
