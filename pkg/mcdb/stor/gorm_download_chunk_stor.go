package stor

import (
	"time"

	"github.com/materials-commons/mcfetch/pkg/mcdb/mcmodel"
	"gorm.io/gorm"
)

type GormDownloadChunkStor struct {
	db *gorm.DB
}

func NewGormDownloadChunkStor(db *gorm.DB) *GormDownloadChunkStor {
	return &GormDownloadChunkStor{db: db}
}

// CreateChunks inserts every chunk of a transfer in a single transaction.
func (s *GormDownloadChunkStor) CreateChunks(transferID int, chunks []mcmodel.DownloadChunk) ([]mcmodel.DownloadChunk, error) {
	for i := range chunks {
		chunks[i].DownloadTransferID = transferID
		if chunks[i].Status == "" {
			chunks[i].Status = mcmodel.ChunkPending
		}
	}

	err := WithTxRetry(s.db, func(tx *gorm.DB) error {
		return tx.Create(&chunks).Error
	})

	if err != nil {
		return nil, err
	}

	return chunks, nil
}

func (s *GormDownloadChunkStor) GetChunkByID(chunkID int) (*mcmodel.DownloadChunk, error) {
	var chunk mcmodel.DownloadChunk
	if err := s.db.First(&chunk, chunkID).Error; err != nil {
		return nil, err
	}

	return &chunk, nil
}

func (s *GormDownloadChunkStor) ListChunksForTransfer(transferID int) ([]mcmodel.DownloadChunk, error) {
	var chunks []mcmodel.DownloadChunk
	err := s.db.Where("download_transfer_id = ?", transferID).
		Order("`index`").
		Find(&chunks).Error
	if err != nil {
		return nil, err
	}

	return chunks, nil
}

// StartChunk marks the chunk DOWNLOADING. If a previous attempt already counted bytes, they
// are taken back out of both the chunk and the transfer so the restart begins from zero.
func (s *GormDownloadChunkStor) StartChunk(chunk *mcmodel.DownloadChunk) error {
	return WithTxRetry(s.db, func(tx *gorm.DB) error {
		var current mcmodel.DownloadChunk
		if err := tx.First(&current, chunk.ID).Error; err != nil {
			return err
		}

		if current.BytesDownloaded > 0 {
			err := tx.Model(&mcmodel.DownloadTransfer{}).
				Where("id = ?", current.DownloadTransferID).
				UpdateColumn("bytes_downloaded", gorm.Expr("bytes_downloaded - ?", current.BytesDownloaded)).Error
			if err != nil {
				return err
			}
		}

		updates := map[string]interface{}{
			"status":           mcmodel.ChunkDownloading,
			"bytes_downloaded": 0,
			"error":            "",
		}

		if current.StartedAt == nil {
			updates["started_at"] = time.Now()
		}

		if err := tx.Model(&mcmodel.DownloadChunk{}).Where("id = ?", chunk.ID).Updates(updates).Error; err != nil {
			return err
		}

		chunk.Status = mcmodel.ChunkDownloading
		chunk.BytesDownloaded = 0
		return nil
	})
}

// AddChunkBytes increments the chunk's and its transfer's counters together.
func (s *GormDownloadChunkStor) AddChunkBytes(chunk *mcmodel.DownloadChunk, n int64) error {
	err := WithTxRetry(s.db, func(tx *gorm.DB) error {
		err := tx.Model(&mcmodel.DownloadChunk{}).
			Where("id = ?", chunk.ID).
			UpdateColumn("bytes_downloaded", gorm.Expr("bytes_downloaded + ?", n)).Error
		if err != nil {
			return err
		}

		return tx.Model(&mcmodel.DownloadTransfer{}).
			Where("id = ?", chunk.DownloadTransferID).
			UpdateColumn("bytes_downloaded", gorm.Expr("bytes_downloaded + ?", n)).Error
	})

	if err == nil {
		chunk.BytesDownloaded += n
	}

	return err
}

// SetChunkStatus sets the status and error message. Any status other than DOWNLOADING or
// PENDING also stamps finished_at.
func (s *GormDownloadChunkStor) SetChunkStatus(chunkID int, status mcmodel.ChunkStatus, errMsg string) error {
	updates := map[string]interface{}{
		"status": status,
		"error":  errMsg,
	}

	if status != mcmodel.ChunkDownloading && status != mcmodel.ChunkPending {
		updates["finished_at"] = time.Now()
	}

	return WithTxRetry(s.db, func(tx *gorm.DB) error {
		return tx.Model(&mcmodel.DownloadChunk{}).Where("id = ?", chunkID).Updates(updates).Error
	})
}
