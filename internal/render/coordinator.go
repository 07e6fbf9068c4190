package render

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/allaspectsdev/avatarforge/internal/breaker"
)

// jobTimeout is the default per-job wall-clock budget: a render that
// exceeds this, including all of its retries, is abandoned and
// reported as ErrJobTimeout.
const jobTimeout = 30 * time.Second

// maxAttempts is the default bound on render attempts before a job is
// reported as failed.
const maxAttempts = 3

// retryInitialInterval is the default starting delay for the
// exponential backoff between attempts.
const retryInitialInterval = 2 * time.Second

// RenderFunc performs the actual render work for (username,
// fingerprint): loading parts, compositing, and writing the result
// into the cache tiers. The coordinator only knows how to schedule,
// retry, and time out a call to it — it never touches pixels itself,
// keeping this package independent of compositor/part/cache/objectstore
// and free of import cycles with internal/handler, which supplies the
// concrete RenderFunc.
type RenderFunc func(ctx context.Context, username string, fingerprint uint32) error

// Coordinator is the render coordinator: single-flight dedup,
// a bounded priority queue, a fixed-size worker pool, retry with
// exponential backoff, a per-job timeout, and a circuit breaker
// guarding the render dependency.
type Coordinator struct {
	render   RenderFunc
	queue    *queue
	sf       singleflight.Group
	breakers *breaker.Registry
	log      zerolog.Logger

	subMu sync.Mutex
	subs  []chan Event

	inFlightMu sync.Mutex
	inFlight   map[string]*Job

	workers      int
	jobTimeout   time.Duration
	maxAttempts  int
	retryInitial time.Duration
	stop         context.CancelFunc
	workersWG    sync.WaitGroup
}

// Config holds Coordinator construction parameters. Zero values fall
// back to the service defaults (3 workers, capacity 1000, 30s job
// budget, 3 attempts, 2s initial backoff).
type Config struct {
	Render               RenderFunc
	Workers              int
	QueueCapacity        int
	JobTimeout           time.Duration
	MaxAttempts          int
	RetryInitialInterval time.Duration
	Breakers             *breaker.Registry
	Logger               zerolog.Logger
}

// New builds a Coordinator and starts its worker pool. Call Stop to
// drain and shut it down.
func New(cfg Config) *Coordinator {
	if cfg.Workers <= 0 {
		cfg.Workers = 3
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = jobTimeout
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = maxAttempts
	}
	if cfg.RetryInitialInterval <= 0 {
		cfg.RetryInitialInterval = retryInitialInterval
	}
	if cfg.Breakers == nil {
		cfg.Breakers = breaker.NewRegistry(5, 30*time.Second, 2)
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		render:       cfg.Render,
		queue:        newQueue(cfg.QueueCapacity),
		breakers:     cfg.Breakers,
		log:          cfg.Logger,
		inFlight:     make(map[string]*Job),
		workers:      cfg.Workers,
		jobTimeout:   cfg.JobTimeout,
		maxAttempts:  cfg.MaxAttempts,
		retryInitial: cfg.RetryInitialInterval,
		stop:         cancel,
	}
	for i := 0; i < c.workers; i++ {
		c.workersWG.Add(1)
		go c.runWorker(ctx)
	}
	return c
}

// Stop closes the queue, cancels worker contexts, and waits for the
// worker pool to drain.
func (c *Coordinator) Stop() {
	c.stop()
	c.queue.close()
	c.workersWG.Wait()
}

// Subscribe registers a channel that receives coordinator lifecycle
// events. Delivery is non-blocking: a full channel drops the event.
func (c *Coordinator) Subscribe(ch chan Event) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	c.subs = append(c.subs, ch)
}

func (c *Coordinator) publish(e Event) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	for _, ch := range c.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

func flightKey(username string, fingerprint uint32) string {
	return fmt.Sprintf("%s:%d", username, fingerprint)
}

// Submit enqueues a render job for (username, fingerprint) at the
// given priority, or joins an identical job already in flight. It
// blocks until the job completes or ctx is done; ctx being cancelled
// (a client disconnect) does not cancel the underlying job — other
// waiters, and the eventual cache write, still complete.
func (c *Coordinator) Submit(ctx context.Context, username string, fingerprint uint32, priority Priority) (*Job, error) {
	key := flightKey(username, fingerprint)

	ch := c.sf.DoChan(key, func() (any, error) {
		job := newJob(username, fingerprint, priority, c.queue.nextSeq())

		c.inFlightMu.Lock()
		c.inFlight[key] = job
		c.inFlightMu.Unlock()

		if !c.queue.tryPush(job) {
			c.inFlightMu.Lock()
			delete(c.inFlight, key)
			c.inFlightMu.Unlock()
			job.finish(Failed, ErrOverloaded)
			return job, ErrOverloaded
		}

		c.publish(Event{Kind: EventJobAdded, Username: username, Fingerprint: fingerprint, Priority: priority})
		err := job.Wait(context.Background())
		return job, err
	})

	select {
	case res := <-ch:
		job, _ := res.Val.(*Job)
		return job, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// CancelAll transitions every queued (not yet running) job to
// Cancelled and delivers ErrCacheCleared to every attached waiter.
// Queued jobs are finished immediately; running jobs have their
// per-job context cancelled, and runJob finishes them as Cancelled when
// the render function returns, whatever it returned. Used by /clear-cache.
func (c *Coordinator) CancelAll() {
	queued := c.queue.drain()
	queuedSet := make(map[*Job]struct{}, len(queued))
	for _, job := range queued {
		queuedSet[job] = struct{}{}
		c.inFlightMu.Lock()
		delete(c.inFlight, flightKey(job.Username, job.Fingerprint))
		c.inFlightMu.Unlock()
		job.finish(Cancelled, ErrCacheCleared)
	}

	c.inFlightMu.Lock()
	running := make([]*Job, 0, len(c.inFlight))
	for _, job := range c.inFlight {
		if _, wasQueued := queuedSet[job]; !wasQueued {
			running = append(running, job)
		}
	}
	c.inFlightMu.Unlock()

	for _, job := range running {
		job.requestCancel()
	}
}

// QueueLen reports the number of jobs currently waiting to run.
func (c *Coordinator) QueueLen() int {
	return c.queue.len()
}

// Pause stops dispatching queued jobs to workers. Jobs already
// running are unaffected, and Submit keeps enqueuing up to capacity.
func (c *Coordinator) Pause() {
	c.queue.setPaused(true)
}

// Resume restarts dispatch after a Pause.
func (c *Coordinator) Resume() {
	c.queue.setPaused(false)
}

// Paused reports whether dispatch is currently paused.
func (c *Coordinator) Paused() bool {
	return c.queue.isPaused()
}

// InFlight reports whether a render for (username, fingerprint) is
// currently queued or running. The request handler uses this to serve
// a previous object as a fallback without attaching to the job.
func (c *Coordinator) InFlight(username string, fingerprint uint32) bool {
	c.inFlightMu.Lock()
	defer c.inFlightMu.Unlock()
	_, ok := c.inFlight[flightKey(username, fingerprint)]
	return ok
}

// InFlightCount reports the number of jobs currently queued or
// running. Shutdown uses it to drain before cancelling stragglers.
func (c *Coordinator) InFlightCount() int {
	c.inFlightMu.Lock()
	defer c.inFlightMu.Unlock()
	return len(c.inFlight)
}

// Drain blocks until every queued and running job has finished or ctx
// is done, whichever comes first. It does not stop new submissions;
// callers are expected to have closed the request surface first.
func (c *Coordinator) Drain(ctx context.Context) {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for c.InFlightCount() > 0 {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (c *Coordinator) runWorker(ctx context.Context) {
	defer c.workersWG.Done()
	for {
		job, ok := c.queue.pop(ctx)
		if !ok {
			return
		}
		c.runJob(job)
	}
}

func (c *Coordinator) runJob(job *Job) {
	job.setState(Running)
	c.publish(Event{Kind: EventJobStarted, Username: job.Username, Fingerprint: job.Fingerprint, Priority: job.Priority})

	jobCtx, cancel := context.WithTimeout(context.Background(), c.jobTimeout)
	job.setRunCtx(jobCtx, cancel)
	defer cancel()

	cb := c.breakers.Get("render")
	attempt := 0

	op := func() (struct{}, error) {
		attempt++
		job.setState(Running)
		if !cb.Allow() {
			return struct{}{}, backoff.Permanent(breaker.ErrOpen)
		}
		if err := c.render(jobCtx, job.Username, job.Fingerprint); err != nil {
			cb.RecordFailure()
			return struct{}{}, err
		}
		cb.RecordSuccess()
		return struct{}{}, nil
	}

	notify := func(err error) {
		job.setState(Retrying)
		c.publish(Event{Kind: EventJobRetried, Username: job.Username, Fingerprint: job.Fingerprint, Priority: job.Priority, Attempt: attempt, Err: err})
		c.log.Warn().Err(err).Str("username", job.Username).Uint32("fingerprint", job.Fingerprint).Int("attempt", attempt).Msg("render attempt failed, retrying")
	}

	_, err := retryWithNotify(jobCtx, op, notify, c.maxAttempts, c.retryInitial)

	key := flightKey(job.Username, job.Fingerprint)
	c.inFlightMu.Lock()
	delete(c.inFlight, key)
	c.inFlightMu.Unlock()

	if job.wasCancelled() {
		job.finish(Cancelled, ErrCacheCleared)
		c.publish(Event{Kind: EventJobCancelled, Username: job.Username, Fingerprint: job.Fingerprint, Priority: job.Priority, Attempt: attempt})
		return
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = ErrJobTimeout
		}
		job.finish(Failed, err)
		c.publish(Event{Kind: EventJobFailed, Username: job.Username, Fingerprint: job.Fingerprint, Priority: job.Priority, Attempt: attempt, Err: err})
		return
	}
	job.finish(Succeeded, nil)
	c.publish(Event{Kind: EventJobSucceeded, Username: job.Username, Fingerprint: job.Fingerprint, Priority: job.Priority, Attempt: attempt})
}

// retryWithNotify wraps backoff.Retry with an exponential backoff
// policy and a notify callback invoked before each retry (backoff/v5
// dropped the v4 WithNotify option, so the callback is driven here
// instead, between the operation's own invocations).
func retryWithNotify(ctx context.Context, op func() (struct{}, error), notify func(error), attempts int, initial time.Duration) (struct{}, error) {
	attempt := 0
	wrapped := func() (struct{}, error) {
		attempt++
		res, err := op()
		if err != nil && attempt < attempts {
			var perm *backoff.PermanentError
			if !errors.As(err, &perm) {
				notify(err)
			}
		}
		return res, err
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = initial
	return backoff.Retry(ctx, wrapped,
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(uint(attempts)),
	)
}
