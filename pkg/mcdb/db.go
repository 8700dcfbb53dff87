package mcdb

import (
	"fmt"
	"log"
	"time"

	"github.com/materials-commons/mcfetch/pkg/config"
	"github.com/materials-commons/mcfetch/pkg/mcdb/mcmodel"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// SqliteInMemoryDSN gives every connection in a pool the same in-memory database. Callers
// should still limit the pool to one open connection.
const SqliteInMemoryDSN = "file::memory:?cache=shared&_busy_timeout=5000"

func MakeDSN(c config.Configer) string {
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		c.GetKey("DB_USERNAME"),
		c.GetKey("DB_PASSWORD"),
		c.GetKey("DB_HOST"),
		c.GetKeyWithDefault("DB_PORT", "3306"),
		c.GetKey("DB_DATABASE"))
}

const maxDBRetries = 5

func gormConfig() *gorm.Config {
	return &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	}
}

// MustConnectToDB will attempt to connect to the database maxDBRetries times. If it isn't successful
// after that number of retries then it will call log.Fatalf(), which will cause the server to exit.
// Between retry attempts it will sleep for 3 seconds.
//
// When DB_DRIVER is "sqlite" the DB_DATABASE key names the sqlite file instead.
func MustConnectToDB(c config.Configer) *gorm.DB {
	var (
		err error
		db  *gorm.DB
	)

	retryCount := 1
	for {
		db, err = open(c)
		switch {
		case err == nil:
			return db
		case retryCount >= maxDBRetries:
			log.Fatalf("Failed to open db (driver %s): %s", c.GetKeyWithDefault("DB_DRIVER", "mysql"), err)
		default:
			retryCount++
			time.Sleep(3 * time.Second)
		}
	}
}

func open(c config.Configer) (*gorm.DB, error) {
	if c.GetKeyWithDefault("DB_DRIVER", "mysql") == "sqlite" {
		return OpenSqlite(c.MustGetKey("DB_DATABASE"))
	}

	return gorm.Open(mysql.Open(MakeDSN(c)), gormConfig())
}

// OpenSqlite opens a sqlite database with a single connection, which serializes writers the
// way sqlite requires.
func OpenSqlite(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(dsn), gormConfig())
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	sqlDB.SetMaxOpenConns(1)

	return db, nil
}

// RunMigrations creates or updates the tables the pipeline owns.
func RunMigrations(db *gorm.DB) error {
	return db.AutoMigrate(&mcmodel.File{}, &mcmodel.DownloadTransfer{}, &mcmodel.DownloadChunk{})
}
