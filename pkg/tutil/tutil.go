package tutil

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/materials-commons/mcfetch/pkg/mcdb"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var dbCounter atomic.Int64

// OpenTestDB opens a fresh, migrated in-memory sqlite database that is closed when the test
// ends. Each call gets its own database so tests never see each other's rows.
func OpenTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:mcfetch_test_%d?mode=memory&cache=shared&_busy_timeout=5000", dbCounter.Add(1))
	db, err := mcdb.OpenSqlite(dsn)
	require.NoErrorf(t, err, "OpenSqlite failed: %s", err)

	err = mcdb.RunMigrations(db)
	require.NoErrorf(t, err, "Migration failed with: %s", err)

	t.Cleanup(func() {
		time.Sleep(time.Millisecond)
		sqlDB, err := db.DB()
		if err != nil || sqlDB == nil {
			return
		}

		_ = sqlDB.Close()
	})

	return db
}
