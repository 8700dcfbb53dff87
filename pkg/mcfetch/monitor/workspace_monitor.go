// Package monitor cleans up transfer workspaces that the pipeline left behind. Failed and
// paused transfers keep their workspace because sibling chunks may still be writing into it.
package monitor

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/apex/log"
	"github.com/materials-commons/mcfetch/pkg/clog"
	"github.com/materials-commons/mcfetch/pkg/mcdb/stor"
)

const workspacePrefix = "transfer-"

type WorkspaceMonitorOptionFN func(*WorkspaceMonitor)

type WorkspaceMonitor struct {
	transferStor stor.DownloadTransferStor
	tmpRoot      string
	interval     time.Duration

	// maxAge is how long a workspace of a finished transfer is kept after it was last
	// modified.
	maxAge time.Duration

	now func() time.Time
}

func NewWorkspaceMonitor(optFNs ...WorkspaceMonitorOptionFN) *WorkspaceMonitor {
	m := &WorkspaceMonitor{
		interval: 5 * time.Minute,
		maxAge:   time.Hour,
		now:      time.Now,
	}

	for _, optfn := range optFNs {
		optfn(m)
	}

	return m
}

func WithDownloadTransferStor(transferStor stor.DownloadTransferStor) WorkspaceMonitorOptionFN {
	return func(m *WorkspaceMonitor) {
		m.transferStor = transferStor
	}
}

func WithTmpRoot(tmpRoot string) WorkspaceMonitorOptionFN {
	return func(m *WorkspaceMonitor) {
		m.tmpRoot = tmpRoot
	}
}

func WithInterval(interval time.Duration) WorkspaceMonitorOptionFN {
	return func(m *WorkspaceMonitor) {
		m.interval = interval
	}
}

func WithMaxAge(maxAge time.Duration) WorkspaceMonitorOptionFN {
	return func(m *WorkspaceMonitor) {
		m.maxAge = maxAge
	}
}

// Run sweeps the workspace root every interval until c is canceled.
func (m *WorkspaceMonitor) Run(c context.Context) {
	for {
		if _, err := m.Sweep(); err != nil {
			log.Errorf("Workspace sweep failed: %s", err)
		}

		select {
		case <-c.Done():
			return
		case <-time.After(m.interval):
		}
	}
}

// Sweep removes stale workspaces and returns how many it removed. A workspace is stale when
// its transfer is terminal (or no longer exists) and it hasn't been touched for maxAge.
func (m *WorkspaceMonitor) Sweep() (int, error) {
	entries, err := os.ReadDir(m.tmpRoot)
	switch {
	case os.IsNotExist(err):
		return 0, nil
	case err != nil:
		return 0, err
	}

	removed := 0
	for _, entry := range entries {
		transferID, ok := workspaceTransferID(entry)
		if !ok {
			continue
		}

		info, err := entry.Info()
		if err != nil || m.now().Sub(info.ModTime()) < m.maxAge {
			continue
		}

		status, err := m.transferStor.GetTransferStatus(transferID)
		switch {
		case stor.IsRecordNotFound(err):
			// The transfer was deleted, nothing will come back for this workspace.
		case err != nil:
			// Don't keep hammering a database that is having problems; try again next sweep.
			return removed, err
		case !status.IsTerminal():
			continue
		}

		dir := filepath.Join(m.tmpRoot, entry.Name())
		if err := os.RemoveAll(dir); err != nil {
			clog.ForTransfer(transferID).Warnf("Unable to remove stale workspace %s: %s", dir, err)
			continue
		}

		clog.ForTransfer(transferID).Infof("Removed stale workspace %s", dir)
		removed++
	}

	return removed, nil
}

func workspaceTransferID(entry os.DirEntry) (int, bool) {
	if !entry.IsDir() || !strings.HasPrefix(entry.Name(), workspacePrefix) {
		return 0, false
	}

	id, err := strconv.Atoi(strings.TrimPrefix(entry.Name(), workspacePrefix))
	if err != nil {
		return 0, false
	}

	return id, true
}
