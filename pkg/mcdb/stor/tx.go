package stor

import (
	"errors"

	"github.com/materials-commons/mcfetch/pkg/mcdb/config"
	"gorm.io/gorm"
)

// WithTxRetry runs fn in a transaction, retrying the whole transaction up to
// config.GetTxRetry() times. The last error is returned.
func WithTxRetry(db *gorm.DB, fn func(tx *gorm.DB) error) error {
	var err error

	retryCount := config.GetTxRetry()

	for i := 0; i < retryCount; i++ {
		err = db.Transaction(fn)
		if err == nil || IsRecordNotFound(err) {
			break
		}
	}

	return err
}

func IsRecordNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
