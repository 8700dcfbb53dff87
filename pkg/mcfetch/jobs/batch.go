package jobs

import (
	"context"
	"errors"
	"sync"
)

// Batch is a join barrier over a fixed number of member jobs. onSuccess runs once, after every
// member has succeeded. onFailure runs once, on the first member failure; later failures and
// successes are ignored. A member reporting ErrInterrupted suppresses onSuccess without calling
// onFailure.
type Batch struct {
	ID string

	mu          sync.Mutex
	remaining   int
	failed      bool
	interrupted bool

	onSuccess func(ctx context.Context)
	onFailure func(ctx context.Context, err error)
}

func NewBatch(id string, size int, onSuccess func(ctx context.Context), onFailure func(ctx context.Context, err error)) *Batch {
	return &Batch{
		ID:        id,
		remaining: size,
		onSuccess: onSuccess,
		onFailure: onFailure,
	}
}

// Done records one member's final outcome.
func (b *Batch) Done(ctx context.Context, err error) {
	b.mu.Lock()
	b.remaining--

	var fire func()
	switch {
	case err == nil:
		if b.remaining == 0 && !b.failed && !b.interrupted {
			fire = func() { b.onSuccess(ctx) }
		}

	case errors.Is(err, ErrInterrupted):
		b.interrupted = true

	case !b.failed:
		b.failed = true
		fire = func() { b.onFailure(ctx, err) }
	}
	b.mu.Unlock()

	if fire != nil {
		fire()
	}
}

// Member wraps job so that its final outcome is reported to the batch. A job that is itself
// a Finisher is told first.
func (b *Batch) Member(job Job) Job {
	return &batchMember{Job: job, batch: b}
}

type batchMember struct {
	Job
	batch *Batch
}

func (m *batchMember) Finished(ctx context.Context, err error) {
	if finisher, ok := m.Job.(Finisher); ok {
		finisher.Finished(ctx, err)
	}

	m.batch.Done(ctx, err)
}
