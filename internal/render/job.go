// Package render implements the render coordinator: single-flight
// dedup keyed by (username, fingerprint), a bounded priority queue with
// a fixed-size worker pool, retry with exponential backoff, per-job
// timeout, and cancellation. The single-flight primitive is
// golang.org/x/sync/singleflight, so dedup works per render job rather
// than per HTTP request.
package render

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// Priority orders jobs within the queue: thumbnail > avatar > sprite.
// Lower numeric value means higher priority.
type Priority int

const (
	PriorityThumbnail Priority = iota
	PriorityAvatar
	PrioritySprite
)

func (p Priority) String() string {
	switch p {
	case PriorityThumbnail:
		return "thumbnail"
	case PriorityAvatar:
		return "avatar"
	case PrioritySprite:
		return "sprite"
	default:
		return "unknown"
	}
}

// State is a job's position in the state machine:
// Queued -> Running -> {Succeeded, Failed, Cancelled}, with Running
// able to cycle through Retrying back to Running.
type State int

const (
	Queued State = iota
	Running
	Retrying
	Succeeded
	Failed
	Cancelled
)

func (s State) String() string {
	switch s {
	case Queued:
		return "queued"
	case Running:
		return "running"
	case Retrying:
		return "retrying"
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal reports whether s is one of the three terminal states.
func (s State) Terminal() bool {
	return s == Succeeded || s == Failed || s == Cancelled
}

var (
	// ErrOverloaded is returned by Submit when the queue is at
	// capacity; the job is not enqueued.
	ErrOverloaded = errors.New("render queue overloaded")
	// ErrCacheCleared is delivered to waiters of a job cancelled by
	// /clear-cache.
	ErrCacheCleared = errors.New("cache cleared, render cancelled")
	// ErrJobTimeout is delivered when a job's 30s wall-clock budget is
	// exceeded.
	ErrJobTimeout = errors.New("render job timed out")
)

// Job is one unit of work in the coordinator: render the three
// derived rasters for (username, fingerprint).
type Job struct {
	Username    string
	Fingerprint uint32
	Priority    Priority

	seq   int64
	state atomic.Int32

	cancelMu  sync.Mutex
	jobCtx    context.Context
	jobCancel context.CancelFunc
	cancelled bool

	done chan struct{}
	err  error
}

// newJob constructs a Job in the Queued state. seq is assigned by the
// queue to preserve FIFO order within a priority tier.
func newJob(username string, fingerprint uint32, priority Priority, seq int64) *Job {
	j := &Job{
		Username:    username,
		Fingerprint: fingerprint,
		Priority:    priority,
		seq:         seq,
		done:        make(chan struct{}),
	}
	j.state.Store(int32(Queued))
	return j
}

// State returns the job's current state. Safe for concurrent use.
func (j *Job) State() State {
	return State(j.state.Load())
}

func (j *Job) setState(s State) {
	j.state.Store(int32(s))
}

// setRunCtx records the context/cancel pair a running job executes
// under, so requestCancel can reach it. Called once by the worker
// before invoking the render function.
func (j *Job) setRunCtx(ctx context.Context, cancel context.CancelFunc) {
	j.cancelMu.Lock()
	defer j.cancelMu.Unlock()
	j.jobCtx = ctx
	j.jobCancel = cancel
	if j.cancelled {
		cancel()
	}
}

// requestCancel marks the job cancelled and, if it is already running,
// cancels its context so the render function returns early. A job
// that is still queued is instead removed and finished directly by
// the caller (see Coordinator.CancelAll).
func (j *Job) requestCancel() {
	j.cancelMu.Lock()
	defer j.cancelMu.Unlock()
	j.cancelled = true
	if j.jobCancel != nil {
		j.jobCancel()
	}
}

// wasCancelled reports whether requestCancel was called on this job.
func (j *Job) wasCancelled() bool {
	j.cancelMu.Lock()
	defer j.cancelMu.Unlock()
	return j.cancelled
}

// finish transitions the job to a terminal state, records err, and
// wakes every waiter exactly once.
func (j *Job) finish(s State, err error) {
	j.err = err
	j.setState(s)
	close(j.done)
}

// Wait blocks until the job reaches a terminal state or ctx is done,
// whichever comes first. A caller's context being cancelled does not
// cancel the underlying job — other waiters and the eventual cache
// write still complete.
func (j *Job) Wait(ctx context.Context) error {
	select {
	case <-j.done:
		return j.err
	case <-ctx.Done():
		return ctx.Err()
	}
}
