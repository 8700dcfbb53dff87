package mcfetch

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/materials-commons/mcfetch/pkg/clog"
	"github.com/materials-commons/mcfetch/pkg/mcdb/mcmodel"
	"github.com/materials-commons/mcfetch/pkg/mcfetch/jobs"
)

// singleStreamJob downloads a whole resource with one GET. It is used when the host doesn't
// honor ranges, the size is unknown, or the file is too small to be worth chunking.
type singleStreamJob struct {
	p          *Pipeline
	transferID int
}

func (j *singleStreamJob) Name() string {
	return fmt.Sprintf("single-stream:%d", j.transferID)
}

func (j *singleStreamJob) Finished(ctx context.Context, err error) {
	j.p.finishJob(ctx, j.transferID, err)
}

func (j *singleStreamJob) Run(ctx context.Context) error {
	var (
		p     = j.p
		l     = clog.ForTransfer(j.transferID)
		store = p.stors.DownloadTransferStor
	)

	t, err := store.GetTransferByID(j.transferID)
	if err != nil {
		return jobs.Retryable(err)
	}

	if t.Status != mcmodel.TransferDownloading {
		l.Debugf("Not downloading, status is %s", t.Status)
		return nil
	}

	// Progress from an earlier attempt doesn't carry over.
	if err := store.ResetBytesDownloaded(t.ID); err != nil {
		return jobs.Retryable(err)
	}

	dir, err := p.workspace(t.ID)
	if err != nil {
		return jobs.Fatal(err)
	}

	body, err := p.client.Get(ctx, t.URL, referer(t))
	if err != nil {
		return err
	}
	defer body.Close()

	path := filepath.Join(dir, "single.tmp")
	out, err := os.Create(path)
	if err != nil {
		return jobs.Fatal(err)
	}

	var (
		src     io.Reader = body
		counted int64
	)
	if t.BytesTotal != nil {
		src = io.LimitReader(body, *t.BytesTotal+1)
	}

	written, stoppedBy, err := p.stream(ctx, t.ID, out, src, func(n int64) error {
		if t.BytesTotal != nil {
			n = min(n, *t.BytesTotal-counted)
			if n <= 0 {
				return nil
			}
		}

		if err := store.IncrementBytesDownloaded(t.ID, n); err != nil {
			return err
		}
		counted += n

		p.broadcaster.MaybeBroadcast(ctx, t.ID)
		return nil
	})

	if closeErr := out.Close(); closeErr != nil && err == nil {
		err = jobs.Fatal(fmt.Errorf("close %s: %w", path, closeErr))
	}

	switch {
	case err != nil:
		return err
	case stoppedBy != "":
		return fmt.Errorf("single stream stopped, transfer is %s: %w", stoppedBy, jobs.ErrInterrupted)
	case t.BytesTotal != nil && written != *t.BytesTotal:
		return jobs.Fatal(fmt.Errorf("size mismatch: expected %d bytes, got %d", *t.BytesTotal, written))
	}

	if t.BytesTotal == nil {
		if err := p.stors.FileStor.BackfillSize(t.FileID, written); err != nil {
			l.Warnf("Unable to backfill file size: %s", err)
		}
	}

	hint := t.ContentType
	if hint == "" {
		hint = body.ContentType
	}

	if err := p.finalizer.Finalize(ctx, t.File, path, hint, true); err != nil {
		return jobs.Fatal(fmt.Errorf("finalize: %w", err))
	}

	completed, err := p.transition(t.ID, mcmodel.TransferDownloading, mcmodel.TransferCompleted)
	if err != nil {
		return jobs.Retryable(err)
	}

	if !completed {
		return fmt.Errorf("transfer left DOWNLOADING during finalize: %w", jobs.ErrInterrupted)
	}

	if err := p.stors.FileStor.UpdateDownloadProgress(t.FileID, 100); err != nil {
		l.Warnf("Unable to set file progress: %s", err)
	}

	l.Infof("Completed, %d bytes", written)
	p.broadcaster.Broadcast(ctx, t.ID)
	p.removeWorkspace(t.ID)
	p.Readmit(t.Domain)
	return nil
}
