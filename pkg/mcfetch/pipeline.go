// Package mcfetch drives remote file transfers from admission to completion: capability
// probing, chunked or single-stream retrieval (or an external tool), ordered reassembly,
// finalization and preview generation. Every step runs as a job on a jobs.Pool and every step
// that ends a transfer's active life re-runs admission for its domain.
package mcfetch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/materials-commons/mcfetch/pkg/clog"
	"github.com/materials-commons/mcfetch/pkg/config"
	"github.com/materials-commons/mcfetch/pkg/mcdb/mcmodel"
	"github.com/materials-commons/mcfetch/pkg/mcdb/stor"
	"github.com/materials-commons/mcfetch/pkg/mcfetch/jobs"
	"github.com/materials-commons/mcfetch/pkg/mcfetch/rangeclient"
)

type PipelineOptionFN func(*Pipeline)

type Pipeline struct {
	cfg         config.FetchConfig
	stors       *stor.Stors
	pool        *jobs.Pool
	client      HTTPClient
	finalizer   Finalizer
	broadcaster ProgressBroadcaster
	commands    ProcessCommandBuilder
	admitter    Admitter
	previewGate *jobs.UniqueWindow

	// externalPoll is how often a running external tool's transfer status is checked.
	externalPoll time.Duration
}

// NewPipeline wires a pipeline. A Finalizer must be supplied with WithFinalizer; the HTTP
// client, admitter and broadcaster default to the real implementations built from cfg (the
// broadcaster to one that discards everything).
func NewPipeline(cfg config.FetchConfig, stors *stor.Stors, pool *jobs.Pool, optFNs ...PipelineOptionFN) *Pipeline {
	p := &Pipeline{
		cfg:         cfg,
		stors:       stors,
		pool:        pool,
		broadcaster: nopBroadcaster{},
		previewGate: jobs.NewUniqueWindow(cfg.PreviewWindow),

		externalPoll: 2 * time.Second,
	}

	for _, optfn := range optFNs {
		optfn(p)
	}

	if p.client == nil {
		p.client = rangeclient.New(rangeclient.Options{
			HeaderTimeout: cfg.HTTPHeaderTimeout,
			UserAgent:     cfg.UserAgent,
		})
	}

	if p.admitter == nil {
		p.admitter = NewAdmissionController(stors.DownloadTransferStor, cfg.DomainCap, cfg.GlobalCap)
	}

	return p
}

func WithHTTPClient(client HTTPClient) PipelineOptionFN {
	return func(p *Pipeline) {
		p.client = client
	}
}

func WithFinalizer(finalizer Finalizer) PipelineOptionFN {
	return func(p *Pipeline) {
		p.finalizer = finalizer
	}
}

func WithBroadcaster(broadcaster ProgressBroadcaster) PipelineOptionFN {
	return func(p *Pipeline) {
		p.broadcaster = broadcaster
	}
}

func WithCommandBuilder(commands ProcessCommandBuilder) PipelineOptionFN {
	return func(p *Pipeline) {
		p.commands = commands
	}
}

func WithAdmitter(admitter Admitter) PipelineOptionFN {
	return func(p *Pipeline) {
		p.admitter = admitter
	}
}

// Readmit queues an admission run for domain.
func (p *Pipeline) Readmit(domain string) {
	p.pool.Submit(&admitJob{p: p, domain: domain})
}

// failTransfer moves the transfer to FAILED with cause as its error. Only the caller whose
// update wins broadcasts and re-admits, so concurrent failures of one transfer produce a
// single admission run.
func (p *Pipeline) failTransfer(ctx context.Context, transferID int, cause error) {
	if !p.markFailed(ctx, transferID, cause) {
		return
	}

	t, err := p.stors.DownloadTransferStor.GetTransferByID(transferID)
	if err != nil {
		clog.ForTransfer(transferID).Errorf("Unable to load failed transfer to re-admit its domain: %s", err)
		return
	}

	p.Readmit(t.Domain)
}

// markFailed is failTransfer without the re-admission, for transfers that already gave up
// their admission slot. It reports whether this call failed the transfer.
func (p *Pipeline) markFailed(ctx context.Context, transferID int, cause error) bool {
	l := clog.ForTransfer(transferID)

	failed, err := p.stors.DownloadTransferStor.MarkFailed(transferID, cause.Error())
	if err != nil {
		l.Errorf("Unable to mark transfer failed (%s): %s", cause, err)
		return false
	}

	if failed {
		l.Warnf("Transfer failed: %s", cause)
		p.broadcaster.Broadcast(ctx, transferID)
	}

	return failed
}

// finishJob is the common Finished handling for transfer-level jobs: a final error fails the
// transfer unless the job was interrupted or the pool is shutting down.
func (p *Pipeline) finishJob(ctx context.Context, transferID int, err error) {
	if err == nil || errors.Is(err, jobs.ErrInterrupted) || ctx.Err() != nil {
		return
	}

	p.failTransfer(ctx, transferID, err)
}

// workspace creates, if needed, and returns the transfer's temporary directory.
func (p *Pipeline) workspace(transferID int) (string, error) {
	dir := p.cfg.WorkspaceDir(transferID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create workspace %s: %w", dir, err)
	}

	return dir, nil
}

func (p *Pipeline) removeWorkspace(transferID int) {
	dir := p.cfg.WorkspaceDir(transferID)
	if err := os.RemoveAll(dir); err != nil {
		clog.ForTransfer(transferID).Warnf("Unable to remove workspace %s: %s", dir, err)
	}
}

// transition moves a transfer from `from` to `to`, stamping finished_at when `to` is COMPLETED.
// false means something else changed the status first.
func (p *Pipeline) transition(transferID int, from, to mcmodel.TransferStatus) (bool, error) {
	var updates map[string]interface{}
	if to == mcmodel.TransferCompleted {
		updates = map[string]interface{}{"finished_at": time.Now()}
	}

	return p.stors.DownloadTransferStor.CompareAndSetStatus(transferID, []mcmodel.TransferStatus{from}, to, updates)
}

func referer(t *mcmodel.DownloadTransfer) string {
	if t.File == nil {
		return ""
	}

	return t.File.Referer
}
