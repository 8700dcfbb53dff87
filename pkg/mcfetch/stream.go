package mcfetch

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/materials-commons/mcfetch/pkg/mcdb/mcmodel"
	"github.com/materials-commons/mcfetch/pkg/mcfetch/jobs"
)

// stream copies src to dst in BufferSize reads, calling onWrite after every write. Every
// CheckpointBytes it re-reads the transfer status; if the transfer is no longer DOWNLOADING
// the copy stops and that status is returned as stoppedBy.
//
// Read errors are retryable, write errors are not.
func (p *Pipeline) stream(ctx context.Context, transferID int, dst io.Writer, src io.Reader,
	onWrite func(n int64) error) (written int64, stoppedBy mcmodel.TransferStatus, err error) {
	buf := make([]byte, max(p.cfg.BufferSize, 4096))
	var sinceCheckpoint int64

	for {
		if err := ctx.Err(); err != nil {
			return written, "", err
		}

		n, readErr := src.Read(buf)
		if n > 0 {
			if _, err := dst.Write(buf[:n]); err != nil {
				return written, "", jobs.Fatal(fmt.Errorf("write failed: %w", err))
			}

			written += int64(n)
			sinceCheckpoint += int64(n)

			if err := onWrite(int64(n)); err != nil {
				return written, "", jobs.Retryable(err)
			}

			if sinceCheckpoint >= p.cfg.CheckpointBytes {
				sinceCheckpoint = 0
				status, err := p.stors.DownloadTransferStor.GetTransferStatus(transferID)
				if err != nil {
					return written, "", jobs.Retryable(err)
				}

				if status != mcmodel.TransferDownloading {
					return written, status, nil
				}
			}
		}

		switch {
		case readErr == nil:
		case errors.Is(readErr, io.EOF):
			return written, "", nil
		case ctx.Err() != nil:
			return written, "", ctx.Err()
		default:
			return written, "", jobs.Retryable(fmt.Errorf("read failed after %d bytes: %w", written, readErr))
		}
	}
}
