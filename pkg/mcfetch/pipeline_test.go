package mcfetch

import (
	"bytes"
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/materials-commons/mcfetch/pkg/mcdb/mcmodel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomContent(size int) []byte {
	content := make([]byte, size)
	rand.New(rand.NewSource(int64(size))).Read(content)
	return content
}

// serveContent serves content with full HEAD and Range support.
func serveContent(content []byte) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		http.ServeContent(w, r, "data.bin", time.Time{}, bytes.NewReader(content))
	}))
}

func TestChunkedTransferAssemblesByteExactFile(t *testing.T) {
	content := randomContent(100_000)
	server := serveContent(content)
	defer server.Close()

	h := newHarness(t, testFetchConfig(t), true)

	transfer, err := h.p.Enqueue(context.Background(), EnqueueRequest{URL: server.URL + "/files/data.bin"})
	require.NoError(t, err)
	h.pool.WaitIdle()

	got := h.transfer(t, transfer.ID)
	require.Equalf(t, mcmodel.TransferCompleted, got.Status, "error: %s", got.Error)
	require.NotNil(t, got.BytesTotal)
	assert.EqualValues(t, len(content), *got.BytesTotal)
	assert.EqualValues(t, len(content), got.BytesDownloaded)
	assert.NotEmpty(t, got.BatchID)
	assert.NotNil(t, got.FinishedAt)

	assert.True(t, bytes.Equal(content, h.finalizer.get(transfer.FileID)), "assembled file differs from source")

	chunks, err := h.stors.DownloadChunkStor.ListChunksForTransfer(transfer.ID)
	require.NoError(t, err)
	require.Len(t, chunks, 4)
	for i, chunk := range chunks {
		assert.Equal(t, i, chunk.Index)
		assert.Equal(t, mcmodel.ChunkCompleted, chunk.Status)
		assert.Equal(t, chunk.Length(), chunk.BytesDownloaded)
	}

	file, err := h.stors.FileStor.GetFileByID(transfer.FileID)
	require.NoError(t, err)
	assert.Equal(t, "data.bin", file.Name)
	assert.EqualValues(t, len(content), file.Size)
	assert.Equal(t, 100, file.DownloadProgress)
	assert.Equal(t, file.UUID+".thumb.jpg", file.PreviewKey)

	_, err = os.Stat(h.cfg.WorkspaceDir(transfer.ID))
	assert.True(t, os.IsNotExist(err), "workspace should be removed")

	// One admission from Enqueue, one when the transfer left the active set.
	assert.Equal(t, 2, h.admitter.count("127.0.0.1"))
}

func TestSmallTransferUsesSingleStream(t *testing.T) {
	content := randomContent(500)
	server := serveContent(content)
	defer server.Close()

	h := newHarness(t, testFetchConfig(t), true)

	transfer, err := h.p.Enqueue(context.Background(), EnqueueRequest{URL: server.URL + "/small.txt"})
	require.NoError(t, err)
	h.pool.WaitIdle()

	got := h.transfer(t, transfer.ID)
	require.Equalf(t, mcmodel.TransferCompleted, got.Status, "error: %s", got.Error)
	assert.Empty(t, got.BatchID)
	assert.True(t, bytes.Equal(content, h.finalizer.get(transfer.FileID)))
	assert.Equal(t, "application/octet-stream", h.finalizer.hints[transfer.FileID])

	chunks, err := h.stors.DownloadChunkStor.ListChunksForTransfer(transfer.ID)
	require.NoError(t, err)
	assert.Empty(t, chunks)

	assert.Equal(t, 2, h.admitter.count("127.0.0.1"))
}

func TestSingleStreamAcceptsNonAuthoritativeResponse(t *testing.T) {
	content := randomContent(500)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", strconv.Itoa(len(content)))
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusOK)
			return
		}

		w.WriteHeader(http.StatusNonAuthoritativeInfo)
		_, _ = w.Write(content)
	}))
	defer server.Close()

	h := newHarness(t, testFetchConfig(t), true)

	transfer, err := h.p.Enqueue(context.Background(), EnqueueRequest{URL: server.URL + "/mirror.bin"})
	require.NoError(t, err)
	h.pool.WaitIdle()

	got := h.transfer(t, transfer.ID)
	require.Equalf(t, mcmodel.TransferCompleted, got.Status, "error: %s", got.Error)
	assert.EqualValues(t, len(content), got.BytesDownloaded)
	assert.True(t, bytes.Equal(content, h.finalizer.get(transfer.FileID)))
}

func TestUnknownSizeStreamsWithoutPercent(t *testing.T) {
	content := randomContent(20_000)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusOK)
			return
		}

		// Ranges are ignored and the body goes out chunked, so the size is never announced.
		w.WriteHeader(http.StatusOK)
		for offset := 0; offset < len(content); offset += 5000 {
			_, _ = w.Write(content[offset : offset+5000])
			w.(http.Flusher).Flush()
		}
	}))
	defer server.Close()

	h := newHarness(t, testFetchConfig(t), true)

	transfer, err := h.p.Enqueue(context.Background(), EnqueueRequest{URL: server.URL + "/stream"})
	require.NoError(t, err)
	h.pool.WaitIdle()

	got := h.transfer(t, transfer.ID)
	require.Equalf(t, mcmodel.TransferCompleted, got.Status, "error: %s", got.Error)
	assert.Nil(t, got.BytesTotal)
	assert.Nil(t, got.Percent())
	assert.EqualValues(t, len(content), got.BytesDownloaded)
	assert.True(t, bytes.Equal(content, h.finalizer.get(transfer.FileID)))

	file, err := h.stors.FileStor.GetFileByID(transfer.FileID)
	require.NoError(t, err)
	assert.EqualValues(t, len(content), file.Size)
}

func TestChunkSizeMismatchFailsTransfer(t *testing.T) {
	content := randomContent(100_000)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rangeHeader := r.Header.Get("Range")
		if r.Method == http.MethodHead || rangeHeader == "" || rangeHeader == "bytes=0-0" {
			http.ServeContent(w, r, "data.bin", time.Time{}, bytes.NewReader(content))
			return
		}

		var start, end int
		_, err := fmt.Sscanf(rangeHeader, "bytes=%d-%d", &start, &end)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		// The third range comes back 10 bytes short without a Content-Length to give it away.
		if start == 50_000 {
			end -= 10
		}

		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, len(content)))
		w.WriteHeader(http.StatusPartialContent)
		_, _ = w.Write(content[start : end+1])
	}))
	defer server.Close()

	h := newHarness(t, testFetchConfig(t), true)

	transfer, err := h.p.Enqueue(context.Background(), EnqueueRequest{URL: server.URL + "/data.bin"})
	require.NoError(t, err)
	h.pool.WaitIdle()

	got := h.transfer(t, transfer.ID)
	require.Equal(t, mcmodel.TransferFailed, got.Status)
	assert.Contains(t, got.Error, "expected 25000 bytes, got 24990")
	assert.NotNil(t, got.FailedAt)

	chunks, err := h.stors.DownloadChunkStor.ListChunksForTransfer(transfer.ID)
	require.NoError(t, err)
	require.Len(t, chunks, 4)
	assert.Equal(t, mcmodel.ChunkFailed, chunks[2].Status)
	assert.Contains(t, chunks[2].Error, "expected 25000 bytes, got 24990")

	assert.Nil(t, h.finalizer.get(transfer.FileID))
	assert.Equal(t, 2, h.admitter.count("127.0.0.1"))
}

func TestAllChunksFailingReadmitsOnce(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodHead:
			w.Header().Set("Accept-Ranges", "bytes")
			w.Header().Set("Content-Length", "40000")
			w.WriteHeader(http.StatusOK)
		default:
			// Every range request gets a full 200, which is a protocol violation for a chunk.
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write(make([]byte, 40000))
		}
	}))
	defer server.Close()

	h := newHarness(t, testFetchConfig(t), true)

	transfer, err := h.p.Enqueue(context.Background(), EnqueueRequest{URL: server.URL + "/data.bin"})
	require.NoError(t, err)
	h.pool.WaitIdle()

	got := h.transfer(t, transfer.ID)
	require.Equal(t, mcmodel.TransferFailed, got.Status)
	assert.Contains(t, got.Error, "got 200, want 206")
	assert.Equal(t, 2, h.admitter.count("127.0.0.1"))
}

func TestPauseAndCancel(t *testing.T) {
	h := newHarness(t, testFetchConfig(t), false)

	downloading := h.createTransfer(t, "http://example.com/a", mcmodel.TransferDownloading)
	require.NoError(t, h.p.Pause(context.Background(), downloading.ID))
	assert.Equal(t, mcmodel.TransferPaused, h.transfer(t, downloading.ID).Status)

	err := h.p.Pause(context.Background(), downloading.ID)
	assert.ErrorIs(t, err, ErrNotActive)

	queued := h.createTransfer(t, "http://example.com/b", mcmodel.TransferQueued)
	require.NoError(t, h.p.Cancel(context.Background(), queued.ID))
	got := h.transfer(t, queued.ID)
	assert.Equal(t, mcmodel.TransferFailed, got.Status)
	assert.Equal(t, "canceled", got.Error)

	pending := h.createTransfer(t, "http://example.com/c", mcmodel.TransferPending)
	require.NoError(t, h.p.Cancel(context.Background(), pending.ID))
	assert.Equal(t, mcmodel.TransferFailed, h.transfer(t, pending.ID).Status)

	err = h.p.Cancel(context.Background(), 9999)
	assert.ErrorIs(t, err, ErrTransferNotFound)
}

func TestRecoverFailsStrandedTransfers(t *testing.T) {
	h := newHarness(t, testFetchConfig(t), false)

	stranded := h.createTransfer(t, "http://example.com/a", mcmodel.TransferDownloading)
	pending := h.createTransfer(t, "http://other.org/b", mcmodel.TransferPending)
	done := h.createTransfer(t, "http://example.com/c", mcmodel.TransferCompleted)

	require.NoError(t, h.p.Recover(context.Background()))

	got := h.transfer(t, stranded.ID)
	assert.Equal(t, mcmodel.TransferFailed, got.Status)
	assert.Equal(t, "interrupted by restart", got.Error)
	assert.Equal(t, mcmodel.TransferPending, h.transfer(t, pending.ID).Status)
	assert.Equal(t, mcmodel.TransferCompleted, h.transfer(t, done.ID).Status)
}

func TestStatusReportsPercent(t *testing.T) {
	h := newHarness(t, testFetchConfig(t), false)

	transfer := h.createTransfer(t, "http://example.com/a", mcmodel.TransferDownloading)
	total := int64(1000)
	require.NoError(t, h.stors.DownloadTransferStor.SetProbeResult(transfer.ID, &total, ""))
	require.NoError(t, h.stors.DownloadTransferStor.IncrementBytesDownloaded(transfer.ID, 255))

	report, err := h.p.Status(context.Background(), transfer.ID)
	require.NoError(t, err)
	require.NotNil(t, report.Percent)
	assert.Equal(t, 25, *report.Percent)
	assert.Empty(t, report.Chunks)
}
