// Package broadcast turns transfer state into events for subscribers. Broadcasting is fire and
// forget: the pipeline only enqueues a request and never waits on delivery.
package broadcast

import (
	"context"
	"sync"
	"time"

	"github.com/apex/log"
	"github.com/materials-commons/mcfetch/pkg/clog"
	"github.com/materials-commons/mcfetch/pkg/mcdb/stor"
	"golang.org/x/time/rate"
)

type request struct {
	transferID int
	force      bool
}

type BroadcasterOptionFN func(*ProgressBroadcaster)

// ProgressBroadcaster publishes transfer state. Forced broadcasts (status changes) always go
// out. Progress broadcasts go out only when the percent has changed since the last one and the
// transfer's rate limiter allows it.
type ProgressBroadcaster struct {
	transferStor stor.DownloadTransferStor
	publisher    EventPublisher
	interval     time.Duration
	requests     chan request

	mu       sync.Mutex
	limiters map[int]*rate.Limiter
}

func NewProgressBroadcaster(transferStor stor.DownloadTransferStor, publisher EventPublisher,
	optFNs ...BroadcasterOptionFN) *ProgressBroadcaster {
	b := &ProgressBroadcaster{
		transferStor: transferStor,
		publisher:    publisher,
		interval:     time.Second,
		requests:     make(chan request, 1024),
		limiters:     make(map[int]*rate.Limiter),
	}

	for _, optfn := range optFNs {
		optfn(b)
	}

	return b
}

// WithInterval sets the minimum time between progress broadcasts for one transfer.
func WithInterval(interval time.Duration) BroadcasterOptionFN {
	return func(b *ProgressBroadcaster) {
		b.interval = interval
	}
}

func WithQueueSize(size int) BroadcasterOptionFN {
	return func(b *ProgressBroadcaster) {
		b.requests = make(chan request, size)
	}
}

// Broadcast queues an unconditional broadcast of the transfer's current state.
func (b *ProgressBroadcaster) Broadcast(_ context.Context, transferID int) {
	b.enqueue(request{transferID: transferID, force: true})
}

// MaybeBroadcast queues a throttled progress broadcast.
func (b *ProgressBroadcaster) MaybeBroadcast(_ context.Context, transferID int) {
	b.enqueue(request{transferID: transferID})
}

func (b *ProgressBroadcaster) enqueue(r request) {
	select {
	case b.requests <- r:
	default:
		clog.ForTransfer(r.transferID).Debug("Broadcast queue full, dropping")
	}
}

// Run delivers queued broadcasts until ctx is done.
func (b *ProgressBroadcaster) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case r := <-b.requests:
			b.deliver(r)
		}
	}
}

func (b *ProgressBroadcaster) deliver(r request) {
	l := clog.ForTransfer(r.transferID)

	transfer, err := b.transferStor.GetTransferByID(r.transferID)
	if err != nil {
		l.Debugf("Broadcast skipped, unable to load transfer: %s", err)
		return
	}

	percent := transfer.Percent()

	if !r.force {
		if percent == nil {
			return
		}

		if transfer.LastBroadcastPercent != nil && *transfer.LastBroadcastPercent == *percent {
			return
		}

		if !b.limiter(r.transferID).Allow() {
			return
		}
	}

	if percent != nil {
		if err := b.transferStor.SetLastBroadcastPercent(r.transferID, *percent); err != nil {
			l.Debugf("Unable to record broadcast percent: %s", err)
		}
	}

	if err := b.publisher.Publish(EventFromTransfer(transfer)); err != nil {
		l.WithFields(log.Fields{"status": transfer.Status}).Debugf("Publish failed: %s", err)
	}

	if transfer.Status.IsTerminal() {
		b.forget(r.transferID)
	}
}

func (b *ProgressBroadcaster) limiter(transferID int) *rate.Limiter {
	b.mu.Lock()
	defer b.mu.Unlock()

	l, ok := b.limiters[transferID]
	if !ok {
		l = rate.NewLimiter(rate.Every(b.interval), 1)
		b.limiters[transferID] = l
	}

	return l
}

func (b *ProgressBroadcaster) forget(transferID int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.limiters, transferID)
}
