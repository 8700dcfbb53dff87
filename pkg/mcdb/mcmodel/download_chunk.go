package mcmodel

import "time"

type ChunkStatus string

const (
	ChunkPending     ChunkStatus = "PENDING"
	ChunkDownloading ChunkStatus = "DOWNLOADING"
	ChunkCompleted   ChunkStatus = "COMPLETED"
	ChunkFailed      ChunkStatus = "FAILED"
	ChunkPaused      ChunkStatus = "PAUSED"
	ChunkCanceled    ChunkStatus = "CANCELED"
)

// DownloadChunk is one inclusive byte range of a chunked transfer. Index, RangeStart, RangeEnd
// and PartPath never change after creation.
type DownloadChunk struct {
	ID                 int         `json:"id"`
	DownloadTransferID int         `json:"download_transfer_id" gorm:"index"`
	Index              int         `json:"index"`
	RangeStart         int64       `json:"range_start"`
	RangeEnd           int64       `json:"range_end"`
	BytesDownloaded    int64       `json:"bytes_downloaded"`
	Status             ChunkStatus `json:"status"`
	PartPath           string      `json:"part_path"`
	Error              string      `json:"error"`
	StartedAt          *time.Time  `json:"started_at"`
	FinishedAt         *time.Time  `json:"finished_at"`
	CreatedAt          time.Time   `json:"created_at"`
	UpdatedAt          time.Time   `json:"updated_at"`
}

func (DownloadChunk) TableName() string {
	return "download_chunks"
}

// Length is the number of bytes in the inclusive range.
func (c DownloadChunk) Length() int64 {
	return c.RangeEnd - c.RangeStart + 1
}
