package render

import (
	"container/heap"
	"context"
	"sync"
)

// queueCapacity bounds the number of jobs waiting to run; Submit past
// this bound returns ErrOverloaded rather than growing unbounded.
const queueCapacity = 1000

// jobHeap orders jobs by Priority first (thumbnail < avatar < sprite),
// then by seq (FIFO within a tier). It implements container/heap.Interface.
type jobHeap []*Job

func (h jobHeap) Len() int { return len(h) }
func (h jobHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority < h[j].Priority
	}
	return h[i].seq < h[j].seq
}
func (h jobHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *jobHeap) Push(x any)   { *h = append(*h, x.(*Job)) }
func (h *jobHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// queue is a bounded priority queue of jobs, safe for concurrent
// producers and consumers. Pop blocks until a job is available, the
// queue is closed, or the caller's context is done.
type queue struct {
	mu       sync.Mutex
	cond     *sync.Cond
	heap     jobHeap
	seq      int64
	capacity int
	paused   bool
	closed   bool
}

func newQueue(capacity int) *queue {
	if capacity <= 0 {
		capacity = queueCapacity
	}
	q := &queue{capacity: capacity}
	q.cond = sync.NewCond(&q.mu)
	heap.Init(&q.heap)
	return q
}

// tryPush enqueues job, returning false (without enqueuing) if the
// queue is at capacity or closed.
func (q *queue) tryPush(job *Job) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed || len(q.heap) >= q.capacity {
		return false
	}
	heap.Push(&q.heap, job)
	q.cond.Signal()
	return true
}

// nextSeq returns a monotonically increasing sequence number used to
// order jobs of equal priority FIFO.
func (q *queue) nextSeq() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.seq++
	return q.seq
}

// pop removes and returns the highest-priority job, blocking until one
// is available, ctx is done, or the queue is closed.
func (q *queue) pop(ctx context.Context) (*Job, bool) {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			// Taking the lock before broadcasting closes the window
			// where the popper has checked ctx.Err but not yet parked
			// in Wait; the broadcast can then never be missed.
			q.mu.Lock()
			q.cond.Broadcast()
			q.mu.Unlock()
		case <-done:
		}
	}()

	q.mu.Lock()
	defer q.mu.Unlock()
	for q.paused || len(q.heap) == 0 {
		if q.closed {
			return nil, false
		}
		if ctx.Err() != nil {
			return nil, false
		}
		q.cond.Wait()
	}
	return heap.Pop(&q.heap).(*Job), true
}

// setPaused gates workers: while paused, pop blocks even with jobs
// waiting. Submissions still enqueue (the queue keeps absorbing work
// up to capacity); only dispatch stops.
func (q *queue) setPaused(paused bool) {
	q.mu.Lock()
	q.paused = paused
	q.mu.Unlock()
	q.cond.Broadcast()
}

// isPaused reports whether dispatch is currently gated.
func (q *queue) isPaused() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.paused
}

// len reports the number of jobs currently waiting.
func (q *queue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.heap)
}

// drain removes and returns every waiting job, leaving the queue
// empty. Used by CancelAll to cancel queued-but-not-yet-running jobs.
func (q *queue) drain() []*Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	jobs := make([]*Job, len(q.heap))
	copy(jobs, q.heap)
	q.heap = q.heap[:0]
	return jobs
}

// close marks the queue closed and wakes every blocked popper.
func (q *queue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.cond.Broadcast()
}
