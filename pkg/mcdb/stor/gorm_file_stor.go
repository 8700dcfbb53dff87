package stor

import (
	"github.com/hashicorp/go-uuid"
	"github.com/materials-commons/mcfetch/pkg/mcdb/mcmodel"
	"gorm.io/gorm"
)

type GormFileStor struct {
	db *gorm.DB
}

func NewGormFileStor(db *gorm.DB) *GormFileStor {
	return &GormFileStor{db: db}
}

func (s *GormFileStor) CreateFile(file *mcmodel.File) (*mcmodel.File, error) {
	var err error

	if file.UUID == "" {
		if file.UUID, err = uuid.GenerateUUID(); err != nil {
			return nil, err
		}
	}

	err = WithTxRetry(s.db, func(tx *gorm.DB) error {
		return tx.Create(file).Error
	})

	if err != nil {
		return nil, err
	}

	return file, nil
}

func (s *GormFileStor) GetFileByID(fileID int) (*mcmodel.File, error) {
	var file mcmodel.File
	if err := s.db.First(&file, fileID).Error; err != nil {
		return nil, err
	}

	return &file, nil
}

// BackfillSize records size only when the file doesn't already have one.
func (s *GormFileStor) BackfillSize(fileID int, size int64) error {
	return WithTxRetry(s.db, func(tx *gorm.DB) error {
		return tx.Model(&mcmodel.File{}).
			Where("id = ?", fileID).
			Where("size IS NULL OR size = 0").
			Update("size", size).Error
	})
}

func (s *GormFileStor) UpdateDownloadProgress(fileID int, percent int) error {
	return WithTxRetry(s.db, func(tx *gorm.DB) error {
		return tx.Model(&mcmodel.File{}).Where("id = ?", fileID).Update("download_progress", percent).Error
	})
}

// UpdateFinalized records where the finalized bytes were stored and what they turned out to be.
// An empty mimeType leaves the existing value alone.
func (s *GormFileStor) UpdateFinalized(fileID int, storageKey, checksum, mimeType string, size int64) error {
	updates := map[string]interface{}{
		"storage_key": storageKey,
		"checksum":    checksum,
		"size":        size,
	}

	if mimeType != "" {
		updates["mime_type"] = mimeType
	}

	return s.UpdateFields(fileID, updates)
}

func (s *GormFileStor) UpdateFields(fileID int, fields map[string]interface{}) error {
	if len(fields) == 0 {
		return nil
	}

	return WithTxRetry(s.db, func(tx *gorm.DB) error {
		return tx.Model(&mcmodel.File{}).Where("id = ?", fileID).Updates(fields).Error
	})
}
