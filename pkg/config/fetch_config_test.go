package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFetchConfigDefaults(t *testing.T) {
	c := LoadFetchConfig(NewMapConfig(map[string]string{}))

	assert.Equal(t, 2, c.DomainCap)
	assert.Equal(t, 5, c.GlobalCap)
	assert.Equal(t, 4, c.ChunkCount)
	assert.Equal(t, int64(8*1024*1024), c.ChunkThreshold)
	assert.Equal(t, 1024*1024, c.BufferSize)
	assert.Equal(t, int64(2*1024*1024), c.CheckpointBytes)
	assert.Equal(t, "/tmp/mcfetch", c.TmpRoot)
	assert.Equal(t, 30*time.Minute, c.ExternalTimeout)
	assert.Equal(t, 30*time.Second, c.JobBackoff)
	assert.Equal(t, time.Second, c.BroadcastInterval)
	assert.Equal(t, 1354, c.Port)
}

func TestLoadFetchConfigOverrides(t *testing.T) {
	c := LoadFetchConfig(NewMapConfig(map[string]string{
		"MCFETCH_DOMAIN_CAP":               "3",
		"MCFETCH_GLOBAL_CAP":               "10",
		"MCFETCH_CHUNK_THRESHOLD":          "1024",
		"MCFETCH_TMP_ROOT":                 "~/mcfetch-tmp",
		"MCFETCH_EXTERNAL_TIMEOUT_MINUTES": "5",
		"MCFETCH_BROADCAST_INTERVAL_MS":    "250",
		"MCFETCH_JOB_BACKOFF_SECONDS":      "not-a-number",
	}))

	home, err := homedir.Dir()
	require.NoErrorf(t, err, "homedir.Dir failed: %s", err)

	assert.Equal(t, 3, c.DomainCap)
	assert.Equal(t, 10, c.GlobalCap)
	assert.Equal(t, int64(1024), c.ChunkThreshold)
	assert.Equal(t, filepath.Join(home, "mcfetch-tmp"), c.TmpRoot)
	assert.Equal(t, 5*time.Minute, c.ExternalTimeout)
	assert.Equal(t, 250*time.Millisecond, c.BroadcastInterval)
	assert.Equal(t, 30*time.Second, c.JobBackoff, "malformed values fall back to the default")
}

func TestWorkspaceDir(t *testing.T) {
	c := FetchConfig{TmpRoot: "/var/tmp/fetch"}
	assert.Equal(t, "/var/tmp/fetch/transfer-42", c.WorkspaceDir(42))
}
