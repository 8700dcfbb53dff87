package broadcast

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/materials-commons/mcfetch/pkg/mcdb/mcmodel"
	"github.com/materials-commons/mcfetch/pkg/mcdb/stor"
	"github.com/materials-commons/mcfetch/pkg/tutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (p *recordingPublisher) Publish(e Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return p.err
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

type broadcasterTestCase struct {
	*testing.T
	stors     *stor.Stors
	publisher *recordingPublisher
	transfer  *mcmodel.DownloadTransfer
}

func newBroadcasterTestCase(t *testing.T) *broadcasterTestCase {
	tc := &broadcasterTestCase{
		T:         t,
		stors:     stor.NewGormStors(tutil.OpenTestDB(t)),
		publisher: &recordingPublisher{},
	}

	tc.populateDatabase()
	return tc
}

func (tc *broadcasterTestCase) populateDatabase() {
	file, err := tc.stors.FileStor.CreateFile(&mcmodel.File{Name: "f.bin"})
	require.NoErrorf(tc.T, err, "CreateFile failed: %s", err)

	tc.transfer, err = tc.stors.DownloadTransferStor.CreateTransfer(&mcmodel.DownloadTransfer{
		FileID: file.ID,
		URL:    "https://a.example/f.bin",
		Domain: "a.example",
		Status: mcmodel.TransferDownloading,
	})
	require.NoErrorf(tc.T, err, "CreateTransfer failed: %s", err)

	total := int64(1000)
	require.NoError(tc.T, tc.stors.DownloadTransferStor.SetProbeResult(tc.transfer.ID, &total, ""))
}

func (tc *broadcasterTestCase) addBytes(n int64) {
	require.NoError(tc.T, tc.stors.DownloadTransferStor.IncrementBytesDownloaded(tc.transfer.ID, n))
}

func TestForcedBroadcastAlwaysPublishes(t *testing.T) {
	tc := newBroadcasterTestCase(t)
	b := NewProgressBroadcaster(tc.stors.DownloadTransferStor, tc.publisher, WithInterval(time.Hour))

	b.deliver(request{transferID: tc.transfer.ID, force: true})
	b.deliver(request{transferID: tc.transfer.ID, force: true})

	require.Equal(t, 2, tc.publisher.count())
	e := tc.publisher.events[0]
	assert.Equal(t, tc.transfer.ID, e.TransferID)
	assert.Equal(t, mcmodel.TransferDownloading, e.Status)
	require.NotNil(t, e.Percent)
	assert.Equal(t, 0, *e.Percent)
}

func TestProgressBroadcastSkipsUnchangedPercent(t *testing.T) {
	tc := newBroadcasterTestCase(t)
	b := NewProgressBroadcaster(tc.stors.DownloadTransferStor, tc.publisher, WithInterval(time.Nanosecond))

	tc.addBytes(250)
	b.deliver(request{transferID: tc.transfer.ID})
	b.deliver(request{transferID: tc.transfer.ID})
	assert.Equal(t, 1, tc.publisher.count(), "25% was already broadcast")

	loaded, err := tc.stors.DownloadTransferStor.GetTransferByID(tc.transfer.ID)
	require.NoError(t, err)
	require.NotNil(t, loaded.LastBroadcastPercent)
	assert.Equal(t, 25, *loaded.LastBroadcastPercent)

	tc.addBytes(250)
	time.Sleep(time.Millisecond)
	b.deliver(request{transferID: tc.transfer.ID})
	assert.Equal(t, 2, tc.publisher.count())
}

func TestProgressBroadcastIsRateLimited(t *testing.T) {
	tc := newBroadcasterTestCase(t)
	b := NewProgressBroadcaster(tc.stors.DownloadTransferStor, tc.publisher, WithInterval(time.Hour))

	tc.addBytes(100)
	b.deliver(request{transferID: tc.transfer.ID})
	tc.addBytes(100)
	b.deliver(request{transferID: tc.transfer.ID})

	assert.Equal(t, 1, tc.publisher.count())
}

func TestPublishErrorsAreSwallowed(t *testing.T) {
	tc := newBroadcasterTestCase(t)
	tc.publisher.err = errors.New("transport down")
	b := NewProgressBroadcaster(tc.stors.DownloadTransferStor, tc.publisher)

	assert.NotPanics(t, func() {
		b.deliver(request{transferID: tc.transfer.ID, force: true})
		b.deliver(request{transferID: tc.transfer.ID + 1000, force: true})
	})
}

func TestRunDeliversQueuedBroadcasts(t *testing.T) {
	tc := newBroadcasterTestCase(t)
	b := NewProgressBroadcaster(tc.stors.DownloadTransferStor, tc.publisher)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Run(ctx)

	b.Broadcast(ctx, tc.transfer.ID)

	require.Eventually(t, func() bool { return tc.publisher.count() == 1 }, 2*time.Second, 5*time.Millisecond)
}
