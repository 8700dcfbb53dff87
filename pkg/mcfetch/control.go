package mcfetch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/materials-commons/mcfetch/pkg/clog"
	"github.com/materials-commons/mcfetch/pkg/mcdb/mcmodel"
	"github.com/materials-commons/mcfetch/pkg/mcdb/stor"
)

var (
	ErrInvalidURL       = errors.New("invalid url")
	ErrTransferNotFound = errors.New("transfer not found")
	ErrNotActive        = errors.New("transfer is not active")
)

// EnqueueRequest describes a new transfer. Name is derived from the URL when empty, Strategy
// defaults to http.
type EnqueueRequest struct {
	URL      string                   `json:"url"`
	Name     string                   `json:"name"`
	Referer  string                   `json:"referer"`
	Strategy mcmodel.TransferStrategy `json:"strategy"`
}

// TransferReport is a transfer as seen from outside: the row, its chunks and its percent
// complete (nil while the size is unknown).
type TransferReport struct {
	Transfer *mcmodel.DownloadTransfer `json:"transfer"`
	Chunks   []mcmodel.DownloadChunk   `json:"chunks"`
	Percent  *int                      `json:"percent"`
}

// Enqueue creates the file and a PENDING transfer for it, then runs admission for the
// transfer's domain.
func (p *Pipeline) Enqueue(_ context.Context, req EnqueueRequest) (*mcmodel.DownloadTransfer, error) {
	domain, err := DomainOf(req.URL)
	if err != nil || domain == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidURL, req.URL)
	}

	switch req.Strategy {
	case "":
		req.Strategy = mcmodel.StrategyHTTP
	case mcmodel.StrategyHTTP, mcmodel.StrategyExternal:
	default:
		return nil, fmt.Errorf("unknown strategy %q", req.Strategy)
	}

	name := req.Name
	if name == "" {
		name = FileNameFromURL(req.URL)
	}

	file, err := p.stors.FileStor.CreateFile(&mcmodel.File{Name: name, Referer: req.Referer})
	if err != nil {
		return nil, err
	}

	t, err := p.stors.DownloadTransferStor.CreateTransfer(&mcmodel.DownloadTransfer{
		FileID:   file.ID,
		URL:      req.URL,
		Domain:   domain,
		Strategy: req.Strategy,
		Status:   mcmodel.TransferPending,
	})
	if err != nil {
		return nil, err
	}

	t.File = file
	clog.ForTransfer(t.ID).Infof("Enqueued %s as %s", req.URL, name)
	p.Readmit(domain)
	return t, nil
}

// Pause stops an active transfer. Its downloaders notice at their next checkpoint. A paused
// transfer is not resumed; it frees its admission slot straight away.
func (p *Pipeline) Pause(ctx context.Context, transferID int) error {
	t, err := p.getTransfer(transferID)
	if err != nil {
		return err
	}

	paused, err := p.stors.DownloadTransferStor.CompareAndSetStatus(transferID, mcmodel.ActiveTransferStatuses,
		mcmodel.TransferPaused, nil)
	if err != nil {
		return err
	}

	if !paused {
		return fmt.Errorf("%w: status is %s", ErrNotActive, t.Status)
	}

	clog.ForTransfer(transferID).Info("Paused")
	p.broadcaster.Broadcast(ctx, transferID)
	p.Readmit(t.Domain)
	return nil
}

// Cancel fails a transfer that hasn't finished.
func (p *Pipeline) Cancel(ctx context.Context, transferID int) error {
	t, err := p.getTransfer(transferID)
	if err != nil {
		return err
	}

	if t.Status.IsTerminal() {
		return fmt.Errorf("%w: status is %s", ErrNotActive, t.Status)
	}

	if t.Status == mcmodel.TransferPending {
		// A PENDING transfer holds no slot, so there is nothing to re-admit.
		now := time.Now()
		_, err := p.stors.DownloadTransferStor.CompareAndSetStatus(transferID,
			[]mcmodel.TransferStatus{mcmodel.TransferPending}, mcmodel.TransferFailed,
			map[string]interface{}{"error": "canceled", "failed_at": now, "finished_at": now})
		if err == nil {
			p.broadcaster.Broadcast(ctx, transferID)
		}
		return err
	}

	p.failTransfer(ctx, transferID, errors.New("canceled"))
	return nil
}

func (p *Pipeline) Status(_ context.Context, transferID int) (*TransferReport, error) {
	t, err := p.getTransfer(transferID)
	if err != nil {
		return nil, err
	}

	chunks, err := p.stors.DownloadChunkStor.ListChunksForTransfer(transferID)
	if err != nil {
		return nil, err
	}

	return &TransferReport{Transfer: t, Chunks: chunks, Percent: t.Percent()}, nil
}

// Recover is run once at startup. Transfers that were mid-flight when the daemon stopped have
// lost their jobs, so they are failed; then every domain with PENDING transfers is admitted.
func (p *Pipeline) Recover(ctx context.Context) error {
	stranded, err := p.stors.DownloadTransferStor.ListTransfersByStatus(mcmodel.FailableTransferStatuses...)
	if err != nil {
		return err
	}

	for _, t := range stranded {
		if _, err := p.stors.DownloadTransferStor.MarkFailed(t.ID, "interrupted by restart"); err != nil {
			return err
		}

		clog.ForTransfer(t.ID).Warnf("Was %s at startup, marked failed", t.Status)
		p.broadcaster.Broadcast(ctx, t.ID)
	}

	pending, err := p.stors.DownloadTransferStor.ListTransfersByStatus(mcmodel.TransferPending)
	if err != nil {
		return err
	}

	seen := make(map[string]bool)
	for _, t := range pending {
		if !seen[t.Domain] {
			seen[t.Domain] = true
			p.Readmit(t.Domain)
		}
	}

	return nil
}

func (p *Pipeline) getTransfer(transferID int) (*mcmodel.DownloadTransfer, error) {
	t, err := p.stors.DownloadTransferStor.GetTransferByID(transferID)
	switch {
	case stor.IsRecordNotFound(err):
		return nil, fmt.Errorf("%w: %d", ErrTransferNotFound, transferID)
	case err != nil:
		return nil, err
	default:
		return t, nil
	}
}
