package jobs

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/apex/log"
	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/errgroup"
)

// Job is a unit of pipeline work. Run may be called more than once when it returns a
// RetryableError.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// Finisher is implemented by jobs that need to act on their final outcome, after retries are
// exhausted. err is nil on success.
type Finisher interface {
	Finished(ctx context.Context, err error)
}

type PoolOptionFN func(*Pool)

// Pool runs jobs on a fixed set of workers pulling from an unbounded FIFO queue. Submit never
// blocks, so jobs may submit follow-up jobs from inside Run or Finished.
type Pool struct {
	workers     int
	maxAttempts int
	backoff     time.Duration

	mu      sync.Mutex
	queue   []Job
	closed  bool
	wakeup  chan struct{}
	pending sync.WaitGroup
	group   *errgroup.Group
}

func NewPool(optFNs ...PoolOptionFN) *Pool {
	p := &Pool{
		workers:     8,
		maxAttempts: 3,
		backoff:     30 * time.Second,
		wakeup:      make(chan struct{}, 1),
	}

	for _, optfn := range optFNs {
		optfn(p)
	}

	if p.workers < 1 {
		p.workers = 1
	}

	if p.maxAttempts < 1 {
		p.maxAttempts = 1
	}

	if p.backoff <= 0 {
		p.backoff = time.Millisecond
	}

	return p
}

func WithWorkers(workers int) PoolOptionFN {
	return func(p *Pool) {
		p.workers = workers
	}
}

// WithRetry sets how many times a job returning a RetryableError is attempted in total, and
// the constant delay between attempts.
func WithRetry(maxAttempts int, backoff time.Duration) PoolOptionFN {
	return func(p *Pool) {
		p.maxAttempts = maxAttempts
		p.backoff = backoff
	}
}

// Start launches the workers. They exit once ctx is canceled; Wait blocks until they have.
func (p *Pool) Start(ctx context.Context) {
	var g *errgroup.Group
	g, ctx = errgroup.WithContext(ctx)
	p.group = g

	for i := 0; i < p.workers; i++ {
		g.Go(func() error {
			p.work(ctx)
			return nil
		})
	}
}

// Wait returns after Start's context is canceled and every worker has exited.
func (p *Pool) Wait() error {
	if p.group == nil {
		return nil
	}

	return p.group.Wait()
}

// WaitIdle blocks until every submitted job, including jobs submitted by other jobs, has run
// to completion.
func (p *Pool) WaitIdle() {
	p.pending.Wait()
}

// Submit queues job. Jobs submitted after the pool has shut down are dropped.
func (p *Pool) Submit(job Job) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		log.WithField("job", job.Name()).Warn("Pool closed, dropping job")
		return
	}

	p.pending.Add(1)
	p.queue = append(p.queue, job)
	p.mu.Unlock()

	select {
	case p.wakeup <- struct{}{}:
	default:
	}
}

func (p *Pool) next() (Job, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.queue) == 0 {
		return nil, false
	}

	job := p.queue[0]
	p.queue[0] = nil
	p.queue = p.queue[1:]

	if len(p.queue) != 0 {
		// Pass the wakeup on so another idle worker picks up the rest.
		select {
		case p.wakeup <- struct{}{}:
		default:
		}
	}

	return job, true
}

func (p *Pool) work(ctx context.Context) {
	for {
		if job, ok := p.next(); ok {
			p.runJob(ctx, job)
			continue
		}

		select {
		case <-ctx.Done():
			p.drain()
			return
		case <-p.wakeup:
		}
	}
}

// drain closes the pool and releases jobs left in the queue so WaitIdle doesn't hang.
func (p *Pool) drain() {
	p.mu.Lock()
	p.closed = true
	dropped := len(p.queue)
	p.queue = nil
	p.mu.Unlock()

	for i := 0; i < dropped; i++ {
		p.pending.Done()
	}
}

func (p *Pool) runJob(ctx context.Context, job Job) {
	defer p.pending.Done()

	l := log.WithField("job", job.Name())
	attempt := 0

	b := retry.WithMaxRetries(uint64(p.maxAttempts-1), retry.NewConstant(p.backoff))
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		attempt++
		err := job.Run(ctx)
		if IsRetryable(err) {
			l.Warnf("Attempt %d failed, will retry: %s", attempt, err)
			return retry.RetryableError(err)
		}

		return err
	})

	switch {
	case err == nil:
	case errors.Is(err, ErrInterrupted):
		l.Infof("Stopped: %s", err)
	default:
		l.Errorf("Failed after %d attempt(s): %s", attempt, err)
	}

	if finisher, ok := job.(Finisher); ok {
		finisher.Finished(ctx, err)
	}
}
