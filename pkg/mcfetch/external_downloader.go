package mcfetch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/materials-commons/mcfetch/pkg/clog"
	"github.com/materials-commons/mcfetch/pkg/mcdb/mcmodel"
	"github.com/materials-commons/mcfetch/pkg/mcfetch/jobs"
	"github.com/saracen/walker"
)

const (
	externalOutputPrefix = "download."

	// maxToolOutput bounds how much of the tool's output is kept as the transfer error.
	maxToolOutput = 4096
)

// externalJob downloads through an external tool (yt-dlp) for sources that need extraction
// rather than a plain GET.
type externalJob struct {
	p          *Pipeline
	transferID int
}

func (j *externalJob) Name() string {
	return fmt.Sprintf("external:%d", j.transferID)
}

func (j *externalJob) Finished(ctx context.Context, err error) {
	j.p.finishJob(ctx, j.transferID, err)
}

func (j *externalJob) Run(ctx context.Context) error {
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

	if p.commands == nil {
		return jobs.Fatal(errors.New("no external download tool configured"))
	}

	// Leftovers from an earlier attempt would be mistaken for output.
	p.removeWorkspace(t.ID)
	dir, err := p.workspace(t.ID)
	if err != nil {
		return jobs.Fatal(err)
	}

	argv, err := p.commands.Build(ctx, t.URL, filepath.Join(dir, externalOutputPrefix+"%(ext)s"))
	if err != nil {
		return jobs.Fatal(fmt.Errorf("build external command: %w", err))
	}

	if len(argv) == 0 {
		return jobs.Fatal(errors.New("build external command: empty command line"))
	}

	if err := j.runTool(ctx, t.ID, dir, argv); err != nil {
		return err
	}

	path, size, err := findLargestOutput(dir)
	if err != nil {
		return jobs.Fatal(err)
	}

	l.Infof("External tool produced %s (%d bytes)", filepath.Base(path), size)

	if err := p.stors.FileStor.BackfillSize(t.FileID, size); err != nil {
		l.Warnf("Unable to backfill file size: %s", err)
	}

	if err := store.SetProbeResult(t.ID, &size, ""); err != nil {
		return jobs.Retryable(err)
	}

	if err := store.IncrementBytesDownloaded(t.ID, size); err != nil {
		return jobs.Retryable(err)
	}

	if err := p.finalizer.Finalize(ctx, t.File, path, "", true); err != nil {
		return jobs.Fatal(fmt.Errorf("finalize: %w", err))
	}

	previewing, err := p.transition(t.ID, mcmodel.TransferDownloading, mcmodel.TransferPreviewing)
	if err != nil {
		return jobs.Retryable(err)
	}

	if !previewing {
		return fmt.Errorf("transfer left DOWNLOADING during finalize: %w", jobs.ErrInterrupted)
	}

	if err := p.stors.FileStor.UpdateDownloadProgress(t.FileID, 100); err != nil {
		l.Warnf("Unable to set file progress: %s", err)
	}

	p.broadcaster.Broadcast(ctx, t.ID)
	p.submitPreview(t.ID)
	p.removeWorkspace(t.ID)
	p.Readmit(t.Domain)
	return nil
}

// runTool runs argv in dir under the external timeout. The process is killed if the transfer
// leaves DOWNLOADING while it runs.
func (j *externalJob) runTool(ctx context.Context, transferID int, dir string, argv []string) error {
	runCtx, cancel := context.WithTimeout(ctx, j.p.cfg.ExternalTimeout)
	defer cancel()

	var (
		wg        sync.WaitGroup
		done      = make(chan struct{})
		stoppedBy mcmodel.TransferStatus
	)

	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(j.p.externalPoll)
		defer ticker.Stop()

		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				status, err := j.p.stors.DownloadTransferStor.GetTransferStatus(transferID)
				if err == nil && status != mcmodel.TransferDownloading {
					stoppedBy = status
					cancel()
					return
				}
			}
		}
	}()

	cmd := exec.CommandContext(runCtx, argv[0], argv[1:]...)
	cmd.Dir = dir
	output, err := cmd.CombinedOutput()

	close(done)
	wg.Wait()

	switch {
	case stoppedBy != "":
		return fmt.Errorf("external tool stopped, transfer is %s: %w", stoppedBy, jobs.ErrInterrupted)
	case ctx.Err() != nil:
		return ctx.Err()
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		return jobs.Fatal(fmt.Errorf("external download tool timed out after %s", j.p.cfg.ExternalTimeout))
	case err != nil:
		return jobs.Fatal(errors.New(toolFailureMessage(output)))
	}

	return nil
}

// toolFailureMessage is the tail of the tool's output, or a generic message when it printed
// nothing.
func toolFailureMessage(output []byte) string {
	msg := strings.TrimSpace(string(output))
	if msg == "" {
		return "external download tool failed"
	}

	if len(msg) > maxToolOutput {
		msg = msg[len(msg)-maxToolOutput:]
	}

	return msg
}

// findLargestOutput returns the largest download.* file under dir. Tools that produce more
// than one rendition leave the best one as the largest.
func findLargestOutput(dir string) (string, int64, error) {
	var (
		mu      sync.Mutex
		largest string
		size    int64 = -1
	)

	err := walker.Walk(dir, func(pathname string, fi os.FileInfo) error {
		if !fi.Mode().IsRegular() || !isToolOutput(fi.Name()) {
			return nil
		}

		mu.Lock()
		defer mu.Unlock()
		if fi.Size() > size {
			largest, size = pathname, fi.Size()
		}

		return nil
	})

	if err != nil {
		return "", 0, fmt.Errorf("scan %s: %w", dir, err)
	}

	if largest == "" {
		return "", 0, errors.New("external download tool produced no output")
	}

	return largest, size, nil
}

func isToolOutput(name string) bool {
	if !strings.HasPrefix(name, externalOutputPrefix) {
		return false
	}

	switch filepath.Ext(name) {
	case ".part", ".ytdl", ".temp":
		return false
	default:
		return true
	}
}
