package mcfetch

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/materials-commons/mcfetch/pkg/config"
	"github.com/materials-commons/mcfetch/pkg/mcdb/mcmodel"
	"github.com/materials-commons/mcfetch/pkg/mcdb/stor"
	"github.com/materials-commons/mcfetch/pkg/mcfetch/jobs"
	"github.com/materials-commons/mcfetch/pkg/mcfetch/rangeclient"
	"github.com/materials-commons/mcfetch/pkg/tutil"
	"github.com/stretchr/testify/require"
)

// memFinalizer keeps finalized bytes in memory, keyed by file id.
type memFinalizer struct {
	mu           sync.Mutex
	stored       map[int][]byte
	hints        map[int]string
	previewCalls int
}

func newMemFinalizer() *memFinalizer {
	return &memFinalizer{stored: make(map[int][]byte), hints: make(map[int]string)}
}

func (f *memFinalizer) Finalize(_ context.Context, file *mcmodel.File, path, hint string, move bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	f.mu.Lock()
	f.stored[file.ID] = data
	f.hints[file.ID] = hint
	f.mu.Unlock()

	if move {
		return os.Remove(path)
	}

	return nil
}

func (f *memFinalizer) GeneratePreviewAssets(_ context.Context, file *mcmodel.File) (map[string]interface{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.previewCalls++
	return map[string]interface{}{"preview_key": file.UUID + ".thumb.jpg"}, nil
}

func (f *memFinalizer) get(fileID int) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stored[fileID]
}

func (f *memFinalizer) previews() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.previewCalls
}

// countingAdmitter counts admission runs per domain.
type countingAdmitter struct {
	Admitter
	mu     sync.Mutex
	counts map[string]int
}

func (a *countingAdmitter) Admit(ctx context.Context, domain string) ([]mcmodel.DownloadTransfer, error) {
	a.mu.Lock()
	a.counts[domain]++
	a.mu.Unlock()
	return a.Admitter.Admit(ctx, domain)
}

func (a *countingAdmitter) count(domain string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.counts[domain]
}

type harness struct {
	p         *Pipeline
	stors     *stor.Stors
	pool      *jobs.Pool
	finalizer *memFinalizer
	admitter  *countingAdmitter
	cfg       config.FetchConfig
}

func testFetchConfig(t *testing.T) config.FetchConfig {
	return config.FetchConfig{
		DomainCap:         2,
		GlobalCap:         5,
		ChunkCount:        4,
		ChunkThreshold:    1024,
		BufferSize:        4096,
		CheckpointBytes:   8192,
		TmpRoot:           t.TempDir(),
		Workers:           8,
		JobAttempts:       1,
		JobBackoff:        time.Millisecond,
		HTTPHeaderTimeout: 10 * time.Second,
		ExternalTimeout:   time.Minute,
		PreviewWindow:     time.Minute,
	}
}

// newHarness builds a pipeline over a fresh database. The pool is started only when start is
// true so tests can drive single jobs by hand.
func newHarness(t *testing.T, cfg config.FetchConfig, start bool, optFNs ...PipelineOptionFN) *harness {
	t.Helper()

	stors := stor.NewGormStors(tutil.OpenTestDB(t))
	pool := jobs.NewPool(jobs.WithWorkers(cfg.Workers), jobs.WithRetry(cfg.JobAttempts, cfg.JobBackoff))
	finalizer := newMemFinalizer()
	admitter := &countingAdmitter{
		Admitter: NewAdmissionController(stors.DownloadTransferStor, cfg.DomainCap, cfg.GlobalCap),
		counts:   make(map[string]int),
	}

	opts := []PipelineOptionFN{
		WithFinalizer(finalizer),
		WithAdmitter(admitter),
		WithHTTPClient(rangeclient.New(rangeclient.Options{HeaderTimeout: cfg.HTTPHeaderTimeout})),
	}

	p := NewPipeline(cfg, stors, pool, append(opts, optFNs...)...)
	p.externalPoll = 50 * time.Millisecond

	if start {
		ctx, cancel := context.WithCancel(context.Background())
		pool.Start(ctx)
		t.Cleanup(func() {
			cancel()
			_ = pool.Wait()
		})
	}

	return &harness{p: p, stors: stors, pool: pool, finalizer: finalizer, admitter: admitter, cfg: cfg}
}

// createTransfer inserts a file and a transfer in the given status without going through
// admission.
func (h *harness) createTransfer(t *testing.T, url string, status mcmodel.TransferStatus) *mcmodel.DownloadTransfer {
	t.Helper()

	file, err := h.stors.FileStor.CreateFile(&mcmodel.File{Name: "test.bin"})
	require.NoError(t, err)

	domain, err := DomainOf(url)
	require.NoError(t, err)

	transfer, err := h.stors.DownloadTransferStor.CreateTransfer(&mcmodel.DownloadTransfer{
		FileID: file.ID,
		URL:    url,
		Domain: domain,
		Status: status,
	})
	require.NoError(t, err)

	return transfer
}

func (h *harness) transfer(t *testing.T, id int) *mcmodel.DownloadTransfer {
	t.Helper()
	transfer, err := h.stors.DownloadTransferStor.GetTransferByID(id)
	require.NoError(t, err)
	return transfer
}
