package mcfetch

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/materials-commons/mcfetch/pkg/clog"
	"github.com/materials-commons/mcfetch/pkg/mcdb/mcmodel"
	"github.com/materials-commons/mcfetch/pkg/mcfetch/jobs"
)

// assembleJob concatenates a chunked transfer's part files, in index order, into the final
// file and hands it to the Finalizer.
type assembleJob struct {
	p          *Pipeline
	transferID int
}

func (j *assembleJob) Name() string {
	return fmt.Sprintf("assemble:%d", j.transferID)
}

func (j *assembleJob) Finished(ctx context.Context, err error) {
	j.p.finishJob(ctx, j.transferID, err)
}

func (j *assembleJob) Run(ctx context.Context) error {
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
		l.Debugf("Not assembling, status is %s", t.Status)
		return nil
	}

	chunks, err := p.stors.DownloadChunkStor.ListChunksForTransfer(t.ID)
	if err != nil {
		return jobs.Retryable(err)
	}

	for _, chunk := range chunks {
		if chunk.Status != mcmodel.ChunkCompleted {
			return jobs.Fatal(fmt.Errorf("chunk %d is %s, cannot assemble", chunk.Index, chunk.Status))
		}
	}

	assembling, err := p.transition(t.ID, mcmodel.TransferDownloading, mcmodel.TransferAssembling)
	if err != nil {
		return jobs.Retryable(err)
	}

	if !assembling {
		return nil
	}

	p.broadcaster.Broadcast(ctx, t.ID)

	path := filepath.Join(p.cfg.WorkspaceDir(t.ID), "assembled.tmp")
	size, err := j.concatenate(path, chunks)
	if err != nil {
		return jobs.Fatal(err)
	}

	if t.BytesTotal != nil && size != *t.BytesTotal {
		return jobs.Fatal(fmt.Errorf("assembled size mismatch: expected %d bytes, got %d", *t.BytesTotal, size))
	}

	if err := p.finalizer.Finalize(ctx, t.File, path, t.ContentType, false); err != nil {
		return jobs.Fatal(fmt.Errorf("finalize: %w", err))
	}

	previewing, err := p.transition(t.ID, mcmodel.TransferAssembling, mcmodel.TransferPreviewing)
	if err != nil {
		return jobs.Retryable(err)
	}

	if !previewing {
		return fmt.Errorf("transfer left ASSEMBLING during finalize: %w", jobs.ErrInterrupted)
	}

	if err := p.stors.FileStor.UpdateDownloadProgress(t.FileID, 100); err != nil {
		l.Warnf("Unable to set file progress: %s", err)
	}

	l.Infof("Assembled %d chunks, %d bytes", len(chunks), size)
	p.broadcaster.Broadcast(ctx, t.ID)
	p.submitPreview(t.ID)

	for _, chunk := range chunks {
		if err := os.Remove(chunk.PartPath); err != nil && !os.IsNotExist(err) {
			l.Warnf("Unable to remove part %s: %s", chunk.PartPath, err)
		}
	}

	p.removeWorkspace(t.ID)
	p.Readmit(t.Domain)
	return nil
}

// concatenate writes the parts to path in order and returns the number of bytes written. A
// missing part or a part whose size doesn't match its range is an error.
func (j *assembleJob) concatenate(path string, chunks []mcmodel.DownloadChunk) (int64, error) {
	out, err := os.Create(path)
	if err != nil {
		return 0, err
	}
	defer out.Close()

	w := bufio.NewWriterSize(out, max(j.p.cfg.BufferSize, 4096))
	var total int64

	for _, chunk := range chunks {
		n, err := appendPart(w, chunk)
		if err != nil {
			return total, err
		}

		total += n
	}

	if err := w.Flush(); err != nil {
		return total, err
	}

	return total, out.Close()
}

func appendPart(w io.Writer, chunk mcmodel.DownloadChunk) (int64, error) {
	part, err := os.Open(chunk.PartPath)
	if err != nil {
		return 0, fmt.Errorf("chunk %d: part file: %w", chunk.Index, err)
	}
	defer part.Close()

	n, err := io.Copy(w, part)
	if err != nil {
		return n, fmt.Errorf("chunk %d: copy part: %w", chunk.Index, err)
	}

	if n != chunk.Length() {
		return n, fmt.Errorf("chunk %d: part size mismatch: expected %d bytes, got %d", chunk.Index, chunk.Length(), n)
	}

	return n, nil
}
