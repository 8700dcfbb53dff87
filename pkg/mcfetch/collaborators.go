package mcfetch

import (
	"context"

	"github.com/materials-commons/mcfetch/pkg/mcdb/mcmodel"
	"github.com/materials-commons/mcfetch/pkg/mcfetch/rangeclient"
)

// Finalizer moves downloaded bytes into permanent storage and derives preview assets.
type Finalizer interface {
	// Finalize stores the file at path as file's content. contentTypeHint may be empty. When
	// move is true the source may be consumed.
	Finalize(ctx context.Context, file *mcmodel.File, path, contentTypeHint string, move bool) error

	// GeneratePreviewAssets returns column updates to apply to file.
	GeneratePreviewAssets(ctx context.Context, file *mcmodel.File) (map[string]interface{}, error)
}

// ProgressBroadcaster tells subscribers about a transfer. Neither call may block or fail the
// caller.
type ProgressBroadcaster interface {
	// MaybeBroadcast sends progress when it has changed enough to be worth sending.
	MaybeBroadcast(ctx context.Context, transferID int)

	// Broadcast always sends. Used on status changes.
	Broadcast(ctx context.Context, transferID int)
}

// ProcessCommandBuilder builds the argv for the external download tool. outputTemplate tells
// the tool where to write; it contains the tool's extension placeholder.
type ProcessCommandBuilder interface {
	Build(ctx context.Context, url, outputTemplate string) ([]string, error)
}

// Admitter decides which PENDING transfers for a domain may start.
type Admitter interface {
	Admit(ctx context.Context, domain string) ([]mcmodel.DownloadTransfer, error)
}

// HTTPClient is the outbound HTTP surface the pipeline uses. *rangeclient.Client implements it.
type HTTPClient interface {
	Head(ctx context.Context, url, referer string) (*rangeclient.HeadResult, error)
	ProbeRange(ctx context.Context, url, referer string) (*rangeclient.ProbeResult, error)
	GetRange(ctx context.Context, url, referer string, start, end int64) (*rangeclient.Body, error)
	Get(ctx context.Context, url, referer string) (*rangeclient.Body, error)
}

type nopBroadcaster struct{}

func (nopBroadcaster) MaybeBroadcast(context.Context, int) {}
func (nopBroadcaster) Broadcast(context.Context, int)      {}
