package cache

import (
	"sync"
	"time"

	"golang.org/x/exp/rand"
)

// jitter provides small randomized backoff delays for the insert worker
// retrying a transient buffer-allocator failure (spec.md §4.5 "retrying
// indefinitely on TryAgain"). Reserve does not need this: it holds the
// cache-level write lock for its entire eviction decision, so it can
// resolve "skip files that are still busy" (spec.md §9 open question
// (a)/(b)) by scanning past them within that single critical section
// rather than releasing the lock and spinning. Grounded
// on the teacher's use of golang.org/x/exp/rand for its per-allocCache
// PCG source (internal/cache/alloc.go) rather than math/rand, which in
// older Go toolchains required explicit seeding to avoid a shared global
// lock across every allocator/backoff in the process.
type jitter struct {
	mu  sync.Mutex
	rnd rand.PCGSource
}

func newJitter() *jitter {
	j := &jitter{}
	j.rnd.Seed(uint64(time.Now().UnixNano()))
	return j
}

// sleep blocks for a random duration in [base/2, base*3/2).
func (j *jitter) sleep(base time.Duration) {
	j.mu.Lock()
	n := j.rnd.Uint64()
	j.mu.Unlock()
	d := base/2 + time.Duration(n%uint64(base))
	time.Sleep(d)
}
