package monitor

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/materials-commons/mcfetch/pkg/mcdb/mcmodel"
	"github.com/materials-commons/mcfetch/pkg/mcdb/stor"
	"github.com/materials-commons/mcfetch/pkg/tutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSweepRemovesOnlyStaleTerminalWorkspaces(t *testing.T) {
	stors := stor.NewGormStors(tutil.OpenTestDB(t))
	root := t.TempDir()

	mkTransfer := func(status mcmodel.TransferStatus) int {
		file, err := stors.FileStor.CreateFile(&mcmodel.File{Name: "f"})
		require.NoError(t, err)

		transfer, err := stors.DownloadTransferStor.CreateTransfer(&mcmodel.DownloadTransfer{
			FileID: file.ID,
			URL:    "http://example.com/f",
			Domain: "example.com",
			Status: status,
		})
		require.NoError(t, err)
		return transfer.ID
	}

	mkWorkspace := func(id int) string {
		dir := filepath.Join(root, fmt.Sprintf("transfer-%d", id))
		require.NoError(t, os.MkdirAll(dir, 0755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "part-0.part"), []byte("x"), 0644))
		return dir
	}

	failed := mkWorkspace(mkTransfer(mcmodel.TransferFailed))
	downloading := mkWorkspace(mkTransfer(mcmodel.TransferDownloading))
	orphan := mkWorkspace(9999)
	unrelated := filepath.Join(root, "something-else")
	require.NoError(t, os.MkdirAll(unrelated, 0755))

	m := NewWorkspaceMonitor(
		WithDownloadTransferStor(stors.DownloadTransferStor),
		WithTmpRoot(root),
		WithMaxAge(time.Hour))

	// Nothing is old enough yet.
	removed, err := m.Sweep()
	require.NoError(t, err)
	assert.Equal(t, 0, removed)

	m.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	removed, err = m.Sweep()
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	assert.NoDirExists(t, failed)
	assert.NoDirExists(t, orphan)
	assert.DirExists(t, downloading)
	assert.DirExists(t, unrelated)
}

func TestSweepMissingRoot(t *testing.T) {
	m := NewWorkspaceMonitor(WithTmpRoot(filepath.Join(t.TempDir(), "nope")))
	removed, err := m.Sweep()
	assert.NoError(t, err)
	assert.Equal(t, 0, removed)
}
