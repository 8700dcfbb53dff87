package mcfetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/materials-commons/mcfetch/pkg/clog"
	"github.com/materials-commons/mcfetch/pkg/mcdb/mcmodel"
	"github.com/materials-commons/mcfetch/pkg/mcfetch/jobs"
)

// chunkJob downloads one byte range of a chunked transfer into its part file. It runs as a
// member of the transfer's batch.
type chunkJob struct {
	p          *Pipeline
	transferID int
	chunkID    int
}

func (j *chunkJob) Name() string {
	return fmt.Sprintf("chunk:%d:%d", j.transferID, j.chunkID)
}

// Finished marks the chunk FAILED. Failing the transfer is left to the batch, which does it
// once for the first failed member.
func (j *chunkJob) Finished(ctx context.Context, err error) {
	if err == nil || errors.Is(err, jobs.ErrInterrupted) || ctx.Err() != nil {
		return
	}

	if err := j.p.stors.DownloadChunkStor.SetChunkStatus(j.chunkID, mcmodel.ChunkFailed, err.Error()); err != nil {
		clog.ForTransfer(j.transferID).Errorf("Unable to mark chunk %d failed: %s", j.chunkID, err)
	}
}

func (j *chunkJob) Run(ctx context.Context) error {
	p := j.p

	t, err := p.stors.DownloadTransferStor.GetTransferByID(j.transferID)
	if err != nil {
		return jobs.Retryable(err)
	}

	chunk, err := p.stors.DownloadChunkStor.GetChunkByID(j.chunkID)
	if err != nil {
		return jobs.Retryable(err)
	}

	l := clog.ForChunk(t.ID, chunk.Index)

	if t.Status != mcmodel.TransferDownloading {
		return j.interrupt(chunk, t.Status)
	}

	switch chunk.Status {
	case mcmodel.ChunkPending, mcmodel.ChunkDownloading:
	case mcmodel.ChunkCompleted:
		return nil
	default:
		l.Debugf("Not downloading, chunk is %s", chunk.Status)
		return jobs.ErrInterrupted
	}

	if err := p.stors.DownloadChunkStor.StartChunk(chunk); err != nil {
		return jobs.Retryable(err)
	}

	body, err := p.client.GetRange(ctx, t.URL, referer(t), chunk.RangeStart, chunk.RangeEnd)
	if err != nil {
		return fmt.Errorf("chunk %d: %w", chunk.Index, err)
	}
	defer body.Close()

	part, err := os.Create(chunk.PartPath)
	if err != nil {
		return jobs.Fatal(fmt.Errorf("chunk %d: %w", chunk.Index, err))
	}

	expected := chunk.Length()

	// Reading one byte past the range is enough to tell an oversized body from a correct one.
	// That extra byte is never counted, so progress can't pass the range length.
	var counted int64
	written, stoppedBy, err := p.stream(ctx, t.ID, part, io.LimitReader(body, expected+1), func(n int64) error {
		n = min(n, expected-counted)
		if n <= 0 {
			return nil
		}

		if err := p.stors.DownloadChunkStor.AddChunkBytes(chunk, n); err != nil {
			return err
		}
		counted += n

		p.broadcaster.MaybeBroadcast(ctx, t.ID)
		return nil
	})

	if closeErr := part.Close(); closeErr != nil && err == nil {
		err = jobs.Fatal(fmt.Errorf("close part file: %w", closeErr))
	}

	switch {
	case err != nil:
		return fmt.Errorf("chunk %d: %w", chunk.Index, err)
	case stoppedBy != "":
		return j.interrupt(chunk, stoppedBy)
	case written != expected:
		return jobs.Fatal(fmt.Errorf("chunk %d: size mismatch: expected %d bytes, got %d", chunk.Index, expected, written))
	}

	if err := p.stors.DownloadChunkStor.SetChunkStatus(chunk.ID, mcmodel.ChunkCompleted, ""); err != nil {
		return jobs.Retryable(err)
	}

	l.Debugf("Completed %d bytes", written)
	p.broadcaster.MaybeBroadcast(ctx, t.ID)
	return nil
}

// interrupt records that the chunk stopped because its transfer left DOWNLOADING. Siblings are
// left to notice on their own.
func (j *chunkJob) interrupt(chunk *mcmodel.DownloadChunk, transferStatus mcmodel.TransferStatus) error {
	status := mcmodel.ChunkCanceled
	if transferStatus == mcmodel.TransferPaused {
		status = mcmodel.ChunkPaused
	}

	if chunk.Status != mcmodel.ChunkCompleted {
		if err := j.p.stors.DownloadChunkStor.SetChunkStatus(chunk.ID, status, ""); err != nil {
			clog.ForChunk(j.transferID, chunk.Index).Warnf("Unable to mark chunk %s: %s", status, err)
		}
	}

	return fmt.Errorf("chunk %d stopped, transfer is %s: %w", chunk.Index, transferStatus, jobs.ErrInterrupted)
}
