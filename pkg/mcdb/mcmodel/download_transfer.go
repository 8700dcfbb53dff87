package mcmodel

import "time"

type TransferStatus string

const (
	TransferPending     TransferStatus = "PENDING"
	TransferQueued      TransferStatus = "QUEUED"
	TransferPreparing   TransferStatus = "PREPARING"
	TransferDownloading TransferStatus = "DOWNLOADING"
	TransferAssembling  TransferStatus = "ASSEMBLING"
	TransferPreviewing  TransferStatus = "PREVIEWING"
	TransferCompleted   TransferStatus = "COMPLETED"
	TransferFailed      TransferStatus = "FAILED"
	TransferPaused      TransferStatus = "PAUSED"
)

// ActiveTransferStatuses are the statuses that count against the admission caps.
var ActiveTransferStatuses = []TransferStatus{
	TransferQueued, TransferPreparing, TransferDownloading, TransferAssembling,
}

// FailableTransferStatuses are the statuses a transfer can be failed from.
var FailableTransferStatuses = []TransferStatus{
	TransferQueued, TransferPreparing, TransferDownloading, TransferAssembling, TransferPreviewing,
}

func (s TransferStatus) IsActive() bool {
	for _, active := range ActiveTransferStatuses {
		if s == active {
			return true
		}
	}

	return false
}

// IsTerminal is true for statuses the pipeline never moves a transfer out of.
func (s TransferStatus) IsTerminal() bool {
	return s == TransferCompleted || s == TransferFailed || s == TransferPaused
}

type TransferStrategy string

const (
	StrategyHTTP     TransferStrategy = "http"
	StrategyExternal TransferStrategy = "external"
)

// DownloadTransfer is one request to fetch URL into File.
type DownloadTransfer struct {
	ID                   int              `json:"id"`
	FileID               int              `json:"file_id"`
	File                 *File            `json:"file,omitempty" gorm:"foreignKey:FileID;references:ID"`
	URL                  string           `json:"url"`
	Domain               string           `json:"domain" gorm:"index"`
	Strategy             TransferStrategy `json:"strategy"`
	Status               TransferStatus   `json:"status" gorm:"index"`
	ContentType          string           `json:"content_type"`
	BytesTotal           *int64           `json:"bytes_total"`
	BytesDownloaded      int64            `json:"bytes_downloaded"`
	LastBroadcastPercent *int             `json:"last_broadcast_percent"`
	QueuedAt             *time.Time       `json:"queued_at"`
	StartedAt            *time.Time       `json:"started_at"`
	FinishedAt           *time.Time       `json:"finished_at"`
	FailedAt             *time.Time       `json:"failed_at"`
	BatchID              string           `json:"batch_id"`
	Error                string           `json:"error"`
	CreatedAt            time.Time        `json:"created_at"`
	UpdatedAt            time.Time        `json:"updated_at"`
}

func (DownloadTransfer) TableName() string {
	return "download_transfers"
}

// Percent is floor(downloaded*100/total) clamped to 100, or nil when the total isn't known.
func (t DownloadTransfer) Percent() *int {
	if t.BytesTotal == nil || *t.BytesTotal <= 0 {
		return nil
	}

	pct := int(t.BytesDownloaded * 100 / *t.BytesTotal)
	if pct > 100 {
		pct = 100
	}

	return &pct
}
