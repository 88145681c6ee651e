package cache

import (
	"sync"
	"time"

	"github.com/cockroachdb/errors"
)

// insertOp is one item on the InsertQueue (spec.md §4.5). A zero-value
// op with quit set terminates the worker.
type insertOp struct {
	key, data []byte
	quit      bool
}

// insertQueue is the bounded MPSC-style queue feeding the insert worker
// (spec.md §2, §4.5): when pipeline_writes is enabled, Insert copies its
// argument into an owned buffer, enqueues it, and returns immediately;
// a dedicated goroutine drains the queue and calls process (InsertImpl),
// retrying indefinitely on ErrNoBuffer.
type insertQueue struct {
	ch      chan insertOp
	jit     *jitter
	done    sync.WaitGroup
	process func(key, val []byte) error
}

func newInsertQueue(depth int, process func(key, val []byte) error) *insertQueue {
	q := &insertQueue{
		ch:      make(chan insertOp, depth),
		jit:     newJitter(),
		process: process,
	}
	q.done.Add(1)
	go q.run()
	return q
}

func (q *insertQueue) run() {
	defer q.done.Done()
	for op := range q.ch {
		if op.quit {
			return
		}
		for {
			err := q.process(op.key, op.data)
			if err == nil || !errors.Is(err, ErrNoBuffer) {
				break
			}
			q.jit.sleep(time.Millisecond)
		}
	}
}

// enqueue copies key/val and queues an insert op. It blocks if the
// queue is at its configured depth.
func (q *insertQueue) enqueue(key, val []byte) {
	ownedKey := append([]byte(nil), key...)
	ownedVal := append([]byte(nil), val...)
	q.ch <- insertOp{key: ownedKey, data: ownedVal}
}

// close enqueues a quit op and joins the worker (spec.md §4.5 "Close
// enqueues it and joins the worker").
func (q *insertQueue) close() {
	q.ch <- insertOp{quit: true}
	q.done.Wait()
}
