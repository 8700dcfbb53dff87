package stor

import (
	"github.com/materials-commons/mcfetch/pkg/mcdb/mcmodel"
	"gorm.io/gorm"
)

type FileStor interface {
	CreateFile(file *mcmodel.File) (*mcmodel.File, error)
	GetFileByID(fileID int) (*mcmodel.File, error)
	BackfillSize(fileID int, size int64) error
	UpdateDownloadProgress(fileID int, percent int) error
	UpdateFinalized(fileID int, storageKey, checksum, mimeType string, size int64) error
	UpdateFields(fileID int, fields map[string]interface{}) error
}

type DownloadTransferStor interface {
	CreateTransfer(transfer *mcmodel.DownloadTransfer) (*mcmodel.DownloadTransfer, error)
	GetTransferByID(transferID int) (*mcmodel.DownloadTransfer, error)
	GetTransferStatus(transferID int) (mcmodel.TransferStatus, error)
	ListTransfersByStatus(statuses ...mcmodel.TransferStatus) ([]mcmodel.DownloadTransfer, error)
	AdmitPending(domain string, domainCap, globalCap int) ([]mcmodel.DownloadTransfer, error)
	CompareAndSetStatus(transferID int, from []mcmodel.TransferStatus, to mcmodel.TransferStatus, updates map[string]interface{}) (bool, error)
	MarkFailed(transferID int, reason string) (bool, error)
	SetProbeResult(transferID int, bytesTotal *int64, contentType string) error
	SetBatchID(transferID int, batchID string) error
	IncrementBytesDownloaded(transferID int, n int64) error
	ResetBytesDownloaded(transferID int) error
	SetLastBroadcastPercent(transferID int, percent int) error
}

type DownloadChunkStor interface {
	CreateChunks(transferID int, chunks []mcmodel.DownloadChunk) ([]mcmodel.DownloadChunk, error)
	GetChunkByID(chunkID int) (*mcmodel.DownloadChunk, error)
	ListChunksForTransfer(transferID int) ([]mcmodel.DownloadChunk, error)
	StartChunk(chunk *mcmodel.DownloadChunk) error
	AddChunkBytes(chunk *mcmodel.DownloadChunk, n int64) error
	SetChunkStatus(chunkID int, status mcmodel.ChunkStatus, errMsg string) error
}

type Stors struct {
	FileStor             FileStor
	DownloadTransferStor DownloadTransferStor
	DownloadChunkStor    DownloadChunkStor
}

func NewGormStors(db *gorm.DB) *Stors {
	return &Stors{
		FileStor:             NewGormFileStor(db),
		DownloadTransferStor: NewGormDownloadTransferStor(db),
		DownloadChunkStor:    NewGormDownloadChunkStor(db),
	}
}
