package config

import (
	"path/filepath"
	"strconv"
	"time"
)

// FetchConfig is the immutable configuration handed to every pipeline component. It is built
// once at startup with LoadFetchConfig and passed by value.
type FetchConfig struct {
	// DomainCap is the most transfers for one domain that may be active at once.
	DomainCap int

	// GlobalCap is the most transfers that may be active at once across all domains.
	GlobalCap int

	// ChunkCount is the number of ranges a chunked transfer is split into.
	ChunkCount int

	// ChunkThreshold is the smallest known size that is downloaded in chunks. Smaller files,
	// and files whose host doesn't honor ranges, use a single stream.
	ChunkThreshold int64

	// BufferSize is the read size used when streaming a body to disk.
	BufferSize int

	// CheckpointBytes is how many bytes a downloader writes between checks of the transfer
	// status.
	CheckpointBytes int64

	TmpRoot string

	Workers     int
	JobAttempts int
	JobBackoff  time.Duration

	HTTPHeaderTimeout time.Duration
	UserAgent         string

	ExternalTool    string
	ExternalFormat  string
	ExternalTimeout time.Duration

	PreviewWindow     time.Duration
	BroadcastInterval time.Duration

	BlobURL string

	JanitorInterval time.Duration
	JanitorMaxAge   time.Duration

	Port int
}

const (
	DefaultDomainCap       = 2
	DefaultGlobalCap       = 5
	DefaultChunkCount      = 4
	DefaultChunkThreshold  = 8 * 1024 * 1024
	DefaultBufferSize      = 1024 * 1024
	DefaultCheckpointBytes = 2 * 1024 * 1024
)

// LoadFetchConfig reads every MCFETCH_* key from c, filling in defaults for anything missing
// or malformed.
func LoadFetchConfig(c Configer) FetchConfig {
	return FetchConfig{
		DomainCap:         c.GetIntKeyWithDefault("MCFETCH_DOMAIN_CAP", DefaultDomainCap),
		GlobalCap:         c.GetIntKeyWithDefault("MCFETCH_GLOBAL_CAP", DefaultGlobalCap),
		ChunkCount:        c.GetIntKeyWithDefault("MCFETCH_CHUNK_COUNT", DefaultChunkCount),
		ChunkThreshold:    c.GetInt64KeyWithDefault("MCFETCH_CHUNK_THRESHOLD", DefaultChunkThreshold),
		BufferSize:        c.GetIntKeyWithDefault("MCFETCH_BUFFER_SIZE", DefaultBufferSize),
		CheckpointBytes:   c.GetInt64KeyWithDefault("MCFETCH_CHECKPOINT_BYTES", DefaultCheckpointBytes),
		TmpRoot:           filepath.Clean(c.GetPathKeyWithDefault("MCFETCH_TMP_ROOT", "/tmp/mcfetch")),
		Workers:           c.GetIntKeyWithDefault("MCFETCH_WORKERS", 16),
		JobAttempts:       c.GetIntKeyWithDefault("MCFETCH_JOB_ATTEMPTS", 3),
		JobBackoff:        c.GetDurationKeyWithDefault("MCFETCH_JOB_BACKOFF_SECONDS", time.Second, 30*time.Second),
		HTTPHeaderTimeout: c.GetDurationKeyWithDefault("MCFETCH_HTTP_HEADER_TIMEOUT_SECONDS", time.Second, time.Minute),
		UserAgent:         c.GetKeyWithDefault("MCFETCH_USER_AGENT", "mcfetch/1.0"),
		ExternalTool:      c.GetKeyWithDefault("MCFETCH_EXTERNAL_TOOL", "yt-dlp"),
		ExternalFormat:    c.GetKeyWithDefault("MCFETCH_EXTERNAL_FORMAT", "bestvideo*+bestaudio/best"),
		ExternalTimeout:   c.GetDurationKeyWithDefault("MCFETCH_EXTERNAL_TIMEOUT_MINUTES", time.Minute, 30*time.Minute),
		PreviewWindow:     c.GetDurationKeyWithDefault("MCFETCH_PREVIEW_WINDOW_SECONDS", time.Second, time.Minute),
		BroadcastInterval: c.GetDurationKeyWithDefault("MCFETCH_BROADCAST_INTERVAL_MS", time.Millisecond, time.Second),
		BlobURL:           c.GetKeyWithDefault("MCFETCH_BLOB_URL", "file:///var/lib/mcfetch/store"),
		JanitorInterval:   c.GetDurationKeyWithDefault("MCFETCH_JANITOR_INTERVAL_SECONDS", time.Second, 5*time.Minute),
		JanitorMaxAge:     c.GetDurationKeyWithDefault("MCFETCH_JANITOR_MAX_AGE_MINUTES", time.Minute, time.Hour),
		Port:              c.GetIntKeyWithDefault("MCFETCH_PORT", 1354),
	}
}

// WorkspaceDir is the per-transfer temporary directory.
func (c FetchConfig) WorkspaceDir(transferID int) string {
	return filepath.Join(c.TmpRoot, "transfer-"+strconv.Itoa(transferID))
}
