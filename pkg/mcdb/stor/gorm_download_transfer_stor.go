package stor

import (
	"time"

	"github.com/materials-commons/mcfetch/pkg/mcdb/mcmodel"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type GormDownloadTransferStor struct {
	db *gorm.DB
}

func NewGormDownloadTransferStor(db *gorm.DB) *GormDownloadTransferStor {
	return &GormDownloadTransferStor{db: db}
}

func (s *GormDownloadTransferStor) CreateTransfer(transfer *mcmodel.DownloadTransfer) (*mcmodel.DownloadTransfer, error) {
	if transfer.Status == "" {
		transfer.Status = mcmodel.TransferPending
	}

	if transfer.Strategy == "" {
		transfer.Strategy = mcmodel.StrategyHTTP
	}

	err := WithTxRetry(s.db, func(tx *gorm.DB) error {
		return tx.Omit(clause.Associations).Create(transfer).Error
	})

	if err != nil {
		return nil, err
	}

	return transfer, nil
}

func (s *GormDownloadTransferStor) GetTransferByID(transferID int) (*mcmodel.DownloadTransfer, error) {
	var transfer mcmodel.DownloadTransfer
	err := s.db.Preload("File").First(&transfer, transferID).Error
	if err != nil {
		return nil, err
	}

	return &transfer, nil
}

// GetTransferStatus reads only the status column. Downloaders call it at every checkpoint.
func (s *GormDownloadTransferStor) GetTransferStatus(transferID int) (mcmodel.TransferStatus, error) {
	var transfer mcmodel.DownloadTransfer
	err := s.db.Select("id", "status").First(&transfer, transferID).Error
	if err != nil {
		return "", err
	}

	return transfer.Status, nil
}

func (s *GormDownloadTransferStor) ListTransfersByStatus(statuses ...mcmodel.TransferStatus) ([]mcmodel.DownloadTransfer, error) {
	var transfers []mcmodel.DownloadTransfer
	query := s.db.Order("id")
	if len(statuses) != 0 {
		query = query.Where("status IN ?", statuses)
	}

	if err := query.Find(&transfers).Error; err != nil {
		return nil, err
	}

	return transfers, nil
}

// AdmitPending moves the oldest PENDING transfers for domain to QUEUED, as many as both caps
// allow, and returns them. Counting and updating happen in one transaction with the counted
// rows locked, so two admissions can't both claim the same free slot.
func (s *GormDownloadTransferStor) AdmitPending(domain string, domainCap, globalCap int) ([]mcmodel.DownloadTransfer, error) {
	var admitted []mcmodel.DownloadTransfer

	err := WithTxRetry(s.db, func(tx *gorm.DB) error {
		admitted = nil
		locking := clause.Locking{Strength: "UPDATE"}

		var globalActive []int
		err := tx.Model(&mcmodel.DownloadTransfer{}).
			Clauses(locking).
			Where("status IN ?", mcmodel.ActiveTransferStatuses).
			Pluck("id", &globalActive).Error
		if err != nil {
			return err
		}

		var domainActive []int
		err = tx.Model(&mcmodel.DownloadTransfer{}).
			Clauses(locking).
			Where("status IN ?", mcmodel.ActiveTransferStatuses).
			Where("domain = ?", domain).
			Pluck("id", &domainActive).Error
		if err != nil {
			return err
		}

		slots := min(domainCap-len(domainActive), globalCap-len(globalActive))
		if slots <= 0 {
			return nil
		}

		var pending []mcmodel.DownloadTransfer
		err = tx.Clauses(locking).
			Where("status = ?", mcmodel.TransferPending).
			Where("domain = ?", domain).
			Order("created_at, id").
			Limit(slots).
			Find(&pending).Error
		if err != nil {
			return err
		}

		if len(pending) == 0 {
			return nil
		}

		ids := make([]int, 0, len(pending))
		for _, t := range pending {
			ids = append(ids, t.ID)
		}

		now := time.Now()
		err = tx.Model(&mcmodel.DownloadTransfer{}).
			Where("id IN ?", ids).
			Where("status = ?", mcmodel.TransferPending).
			Updates(map[string]interface{}{"status": mcmodel.TransferQueued, "queued_at": now}).Error
		if err != nil {
			return err
		}

		for i := range pending {
			pending[i].Status = mcmodel.TransferQueued
			pending[i].QueuedAt = &now
		}

		admitted = pending
		return nil
	})

	if err != nil {
		return nil, err
	}

	return admitted, nil
}

// CompareAndSetStatus moves the transfer to `to` only if its current status is one of from.
// The returned bool reports whether this call made the change.
func (s *GormDownloadTransferStor) CompareAndSetStatus(transferID int, from []mcmodel.TransferStatus, to mcmodel.TransferStatus,
	updates map[string]interface{}) (bool, error) {
	changes := map[string]interface{}{"status": to}
	for k, v := range updates {
		changes[k] = v
	}

	var changed bool
	err := WithTxRetry(s.db, func(tx *gorm.DB) error {
		result := tx.Model(&mcmodel.DownloadTransfer{}).
			Where("id = ?", transferID).
			Where("status IN ?", from).
			Updates(changes)
		if result.Error != nil {
			return result.Error
		}

		changed = result.RowsAffected == 1
		return nil
	})

	return changed, err
}

// MarkFailed fails a transfer that hasn't already finished, failed or been paused. Only the
// caller that performed the transition gets true back.
func (s *GormDownloadTransferStor) MarkFailed(transferID int, reason string) (bool, error) {
	now := time.Now()
	return s.CompareAndSetStatus(transferID, mcmodel.FailableTransferStatuses, mcmodel.TransferFailed,
		map[string]interface{}{
			"error":       reason,
			"failed_at":   now,
			"finished_at": now,
		})
}

// SetProbeResult records what the probe learned and resets the progress counters.
func (s *GormDownloadTransferStor) SetProbeResult(transferID int, bytesTotal *int64, contentType string) error {
	return WithTxRetry(s.db, func(tx *gorm.DB) error {
		return tx.Model(&mcmodel.DownloadTransfer{}).
			Where("id = ?", transferID).
			Updates(map[string]interface{}{
				"bytes_total":            bytesTotal,
				"bytes_downloaded":       0,
				"last_broadcast_percent": nil,
				"content_type":           contentType,
			}).Error
	})
}

func (s *GormDownloadTransferStor) SetBatchID(transferID int, batchID string) error {
	return WithTxRetry(s.db, func(tx *gorm.DB) error {
		return tx.Model(&mcmodel.DownloadTransfer{}).Where("id = ?", transferID).Update("batch_id", batchID).Error
	})
}

// IncrementBytesDownloaded adds n in the database rather than writing a value read earlier, so
// concurrent chunks never lose each other's progress.
func (s *GormDownloadTransferStor) IncrementBytesDownloaded(transferID int, n int64) error {
	return WithTxRetry(s.db, func(tx *gorm.DB) error {
		return tx.Model(&mcmodel.DownloadTransfer{}).
			Where("id = ?", transferID).
			UpdateColumn("bytes_downloaded", gorm.Expr("bytes_downloaded + ?", n)).Error
	})
}

func (s *GormDownloadTransferStor) ResetBytesDownloaded(transferID int) error {
	return WithTxRetry(s.db, func(tx *gorm.DB) error {
		return tx.Model(&mcmodel.DownloadTransfer{}).
			Where("id = ?", transferID).
			UpdateColumn("bytes_downloaded", 0).Error
	})
}

func (s *GormDownloadTransferStor) SetLastBroadcastPercent(transferID int, percent int) error {
	return WithTxRetry(s.db, func(tx *gorm.DB) error {
		return tx.Model(&mcmodel.DownloadTransfer{}).
			Where("id = ?", transferID).
			UpdateColumn("last_broadcast_percent", percent).Error
	})
}
