// Package scheduler provides the bounded-concurrency worker queue that runs
// ready leaf tasks. The queue itself performs no blocking work: it only
// admits, orders, and releases waiters.
package scheduler

import (
	"container/heap"
	"context"
	"runtime"
	"sync"
)

// Work is one unit of task execution.
type Work func(ctx context.Context) error

// Queue admits up to limit concurrent workers. Waiters are released in FIFO
// order by admission wave; within a wave, heavier scheduling weight goes
// first, a heuristic that starts historically slow tasks earlier to shorten
// the critical path.
type Queue struct {
	mu          sync.Mutex
	limit       int
	running     int
	completions uint64 // wave stamp: waiters admitted between two completions tie
	nextSeq     uint64
	pending     itemHeap
}

// NewQueue creates a queue with the given concurrency ceiling. A limit of
// zero or less uses the machine's CPU count.
func NewQueue(limit int) *Queue {
	if limit <= 0 {
		limit = runtime.NumCPU()
	}
	return &Queue{limit: limit}
}

// Concurrency returns the configured ceiling.
func (q *Queue) Concurrency() int { return q.limit }

// Execute blocks until a worker slot is available, runs fn, and releases the
// slot. A context cancelled while still waiting returns ctx.Err() without
// running fn; once admitted, fn is invoked and must honor ctx itself.
func (q *Queue) Execute(ctx context.Context, weight int, fn Work) error {
	it := &item{
		weight: weight,
		ready:  make(chan struct{}),
		index:  -1,
	}

	q.mu.Lock()
	it.wave = q.completions
	it.seq = q.nextSeq
	q.nextSeq++
	heap.Push(&q.pending, it)
	q.dispatchLocked()
	q.mu.Unlock()

	select {
	case <-it.ready:
	case <-ctx.Done():
		q.mu.Lock()
		if it.index >= 0 {
			heap.Remove(&q.pending, it.index)
			q.mu.Unlock()
			return ctx.Err()
		}
		q.mu.Unlock()
		// Already admitted: fall through and let fn observe the cancelled ctx
		// so the slot accounting stays balanced.
		<-it.ready
	}

	err := fn(ctx)

	q.mu.Lock()
	q.running--
	q.completions++
	q.dispatchLocked()
	q.mu.Unlock()
	return err
}

// dispatchLocked releases waiters while slots are free. Caller holds q.mu.
func (q *Queue) dispatchLocked() {
	for q.running < q.limit && q.pending.Len() > 0 {
		it := heap.Pop(&q.pending).(*item)
		q.running++
		close(it.ready)
	}
}

type item struct {
	weight int
	wave   uint64
	seq    uint64
	ready  chan struct{}
	index  int
}

type itemHeap []*item

func (h itemHeap) Len() int { return len(h) }

func (h itemHeap) Less(i, j int) bool {
	if h[i].wave != h[j].wave {
		return h[i].wave < h[j].wave
	}
	if h[i].weight != h[j].weight {
		return h[i].weight > h[j].weight
	}
	return h[i].seq < h[j].seq
}

func (h itemHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *itemHeap) Push(x any) {
	it := x.(*item)
	it.index = len(*h)
	*h = append(*h, it)
}

func (h *itemHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.index = -1
	*h = old[:n-1]
	return it
}
