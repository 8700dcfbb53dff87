package mcfetch

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/hashicorp/go-uuid"
	"github.com/materials-commons/mcfetch/pkg/clog"
	"github.com/materials-commons/mcfetch/pkg/mcdb/mcmodel"
	"github.com/materials-commons/mcfetch/pkg/mcfetch/jobs"
)

// capabilities is what probing learned about a resource.
type capabilities struct {
	total        *int64
	acceptRanges bool
	contentType  string
}

// prepareJob decides how a transfer is downloaded and starts it.
type prepareJob struct {
	p          *Pipeline
	transferID int
}

func (j *prepareJob) Name() string {
	return fmt.Sprintf("prepare:%d", j.transferID)
}

func (j *prepareJob) Finished(ctx context.Context, err error) {
	j.p.finishJob(ctx, j.transferID, err)
}

func (j *prepareJob) Run(ctx context.Context) error {
	var (
		p     = j.p
		l     = clog.ForTransfer(j.transferID)
		store = p.stors.DownloadTransferStor
	)

	// A retried prepare finds the transfer already PREPARING and carries on.
	started, err := store.CompareAndSetStatus(j.transferID, []mcmodel.TransferStatus{mcmodel.TransferQueued},
		mcmodel.TransferPreparing, map[string]interface{}{"started_at": time.Now()})
	if err != nil {
		return jobs.Retryable(err)
	}

	t, err := store.GetTransferByID(j.transferID)
	if err != nil {
		return jobs.Retryable(err)
	}

	if !started && t.Status != mcmodel.TransferPreparing {
		l.Debugf("Not preparing, status is %s", t.Status)
		return nil
	}

	p.broadcaster.Broadcast(ctx, t.ID)

	if t.Strategy == mcmodel.StrategyExternal {
		return j.startExternal(ctx, t)
	}

	caps, err := j.probe(ctx, t)
	if err != nil {
		return err
	}

	if err := store.SetProbeResult(t.ID, caps.total, caps.contentType); err != nil {
		return jobs.Retryable(err)
	}

	if caps.total != nil {
		if err := p.stors.FileStor.BackfillSize(t.FileID, *caps.total); err != nil {
			l.Warnf("Unable to backfill file size: %s", err)
		}
	}

	chunked := caps.acceptRanges && caps.total != nil && *caps.total >= p.cfg.ChunkThreshold
	if chunked {
		// Chunk rows must exist before the status flips, so a restart never sees a chunked
		// DOWNLOADING transfer without them.
		batch, members, err := j.createBatch(t, *caps.total)
		if err != nil {
			return err
		}

		if ok, err := j.startDownloading(ctx, t.ID); !ok {
			return err
		}

		l.Infof("Downloading %d bytes in %d chunks (batch %s)", *caps.total, len(members), batch.ID)
		for _, member := range members {
			p.pool.Submit(batch.Member(member))
		}

		return nil
	}

	if ok, err := j.startDownloading(ctx, t.ID); !ok {
		return err
	}

	if caps.total == nil {
		l.Infof("Downloading in a single stream, size unknown")
	} else {
		l.Infof("Downloading %d bytes in a single stream", *caps.total)
	}

	p.pool.Submit(&singleStreamJob{p: p, transferID: t.ID})
	return nil
}

// probe sends a HEAD and, when that doesn't settle both range support and size, a one byte
// range GET. A server that answers neither usefully leaves the transfer single-stream with an
// unknown size rather than failing it.
func (j *prepareJob) probe(ctx context.Context, t *mcmodel.DownloadTransfer) (capabilities, error) {
	var (
		caps capabilities
		l    = clog.ForTransfer(t.ID)
		ref  = referer(t)
	)

	head, err := j.p.client.Head(ctx, t.URL, ref)
	if err != nil {
		return caps, err
	}

	switch {
	case head.StatusCode >= 200 && head.StatusCode < 300:
		caps.acceptRanges = head.AcceptRanges
		caps.contentType = head.ContentType
		if head.ContentLength > 0 {
			total := head.ContentLength
			caps.total = &total
		}

	case head.StatusCode >= 500 || head.StatusCode == http.StatusTooManyRequests:
		return caps, jobs.Retryable(fmt.Errorf("HEAD %s: status %d", t.URL, head.StatusCode))

	default:
		l.Debugf("HEAD returned %d, falling back to range probe", head.StatusCode)
	}

	if caps.acceptRanges && caps.total != nil {
		return caps, nil
	}

	probe, err := j.p.client.ProbeRange(ctx, t.URL, ref)
	if err != nil {
		return caps, err
	}

	if probe.StatusCode == http.StatusPartialContent {
		caps.acceptRanges = true
		if probe.Total > 0 {
			total := probe.Total
			caps.total = &total
		} else {
			// A 206 we can't size is no good for chunking.
			caps.acceptRanges = false
		}
	}

	return caps, nil
}

// createBatch creates the chunk rows and the batch that joins their jobs.
func (j *prepareJob) createBatch(t *mcmodel.DownloadTransfer, total int64) (*jobs.Batch, []jobs.Job, error) {
	p := j.p

	dir, err := p.workspace(t.ID)
	if err != nil {
		return nil, nil, jobs.Fatal(err)
	}

	// A retried prepare reuses the chunks an earlier attempt created.
	chunks, err := p.stors.DownloadChunkStor.ListChunksForTransfer(t.ID)
	if err != nil {
		return nil, nil, jobs.Retryable(err)
	}

	if len(chunks) == 0 {
		if chunks, err = j.createChunks(t.ID, dir, total); err != nil {
			return nil, nil, err
		}
	}

	batchID, err := uuid.GenerateUUID()
	if err != nil {
		return nil, nil, err
	}

	if err := p.stors.DownloadTransferStor.SetBatchID(t.ID, batchID); err != nil {
		return nil, nil, jobs.Retryable(err)
	}

	transferID := t.ID
	batch := jobs.NewBatch(batchID, len(chunks),
		func(ctx context.Context) {
			p.pool.Submit(&assembleJob{p: p, transferID: transferID})
		},
		func(ctx context.Context, err error) {
			if ctx.Err() != nil {
				return
			}
			p.failTransfer(ctx, transferID, err)
		})

	members := make([]jobs.Job, 0, len(chunks))
	for _, chunk := range chunks {
		members = append(members, &chunkJob{p: p, transferID: t.ID, chunkID: chunk.ID})
	}

	return batch, members, nil
}

func (j *prepareJob) createChunks(transferID int, dir string, total int64) ([]mcmodel.DownloadChunk, error) {
	ranges := PartitionRanges(total, j.p.cfg.ChunkCount)
	chunks := make([]mcmodel.DownloadChunk, 0, len(ranges))
	for i, r := range ranges {
		chunks = append(chunks, mcmodel.DownloadChunk{
			Index:      i,
			RangeStart: r.Start,
			RangeEnd:   r.End,
			Status:     mcmodel.ChunkPending,
			PartPath:   filepath.Join(dir, fmt.Sprintf("part-%d.part", i)),
		})
	}

	chunks, err := j.p.stors.DownloadChunkStor.CreateChunks(transferID, chunks)
	if err != nil {
		return nil, jobs.Retryable(err)
	}

	return chunks, nil
}

// startExternal hands an external-strategy transfer straight to the external tool.
func (j *prepareJob) startExternal(ctx context.Context, t *mcmodel.DownloadTransfer) error {
	if err := j.p.stors.DownloadTransferStor.SetProbeResult(t.ID, nil, ""); err != nil {
		return jobs.Retryable(err)
	}

	if ok, err := j.startDownloading(ctx, t.ID); !ok {
		return err
	}

	j.p.pool.Submit(&externalJob{p: j.p, transferID: t.ID})
	return nil
}

// startDownloading moves PREPARING to DOWNLOADING. It returns false when the transfer was
// paused or failed while being prepared; err is set only for store failures.
func (j *prepareJob) startDownloading(ctx context.Context, transferID int) (bool, error) {
	ok, err := j.p.stors.DownloadTransferStor.CompareAndSetStatus(transferID,
		[]mcmodel.TransferStatus{mcmodel.TransferPreparing}, mcmodel.TransferDownloading, nil)
	if err != nil {
		return false, jobs.Retryable(err)
	}

	if !ok {
		clog.ForTransfer(transferID).Info("Transfer left PREPARING before the download started")
		return false, nil
	}

	j.p.broadcaster.Broadcast(ctx, transferID)
	return true, nil
}
