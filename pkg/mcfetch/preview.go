package mcfetch

import (
	"context"
	"errors"
	"fmt"

	"github.com/materials-commons/mcfetch/pkg/clog"
	"github.com/materials-commons/mcfetch/pkg/mcdb/mcmodel"
	"github.com/materials-commons/mcfetch/pkg/mcfetch/jobs"
)

// submitPreview queues the preview step unless one was queued for the transfer within the
// preview window.
func (p *Pipeline) submitPreview(transferID int) {
	if !p.previewGate.Allow(fmt.Sprintf("preview:%d", transferID)) {
		clog.ForTransfer(transferID).Debug("Preview already queued")
		return
	}

	p.pool.Submit(&previewJob{p: p, transferID: transferID})
}

// previewJob derives preview assets for a finalized file and completes the transfer. It acts
// only on PREVIEWING transfers, so a redundant run does nothing.
type previewJob struct {
	p          *Pipeline
	transferID int
}

func (j *previewJob) Name() string {
	return fmt.Sprintf("preview:%d", j.transferID)
}

// Finished fails the transfer on a final error. Its domain was re-admitted when it entered
// PREVIEWING, so it is not re-admitted again.
func (j *previewJob) Finished(ctx context.Context, err error) {
	if err == nil || errors.Is(err, jobs.ErrInterrupted) || ctx.Err() != nil {
		return
	}

	j.p.markFailed(ctx, j.transferID, err)
}

func (j *previewJob) Run(ctx context.Context) error {
	var (
		p = j.p
		l = clog.ForTransfer(j.transferID)
	)

	t, err := p.stors.DownloadTransferStor.GetTransferByID(j.transferID)
	if err != nil {
		return jobs.Retryable(err)
	}

	if t.Status != mcmodel.TransferPreviewing {
		l.Debugf("Skipping preview, status is %s", t.Status)
		return nil
	}

	// The bytes are already stored, so a preview that can't be made doesn't fail the transfer.
	updates, err := p.finalizer.GeneratePreviewAssets(ctx, t.File)
	switch {
	case err != nil:
		l.Warnf("Unable to generate preview: %s", err)
	case len(updates) != 0:
		if err := p.stors.FileStor.UpdateFields(t.FileID, updates); err != nil {
			return jobs.Retryable(err)
		}
	}

	completed, err := p.transition(t.ID, mcmodel.TransferPreviewing, mcmodel.TransferCompleted)
	if err != nil {
		return jobs.Retryable(err)
	}

	if completed {
		l.Info("Completed")
		p.broadcaster.Broadcast(ctx, t.ID)
	}

	return nil
}
