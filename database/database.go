package database

import (
	"context"
	"fmt"
	"time"

	"swap-metrics-indexer/config"

	"github.com/go-sql-driver/mysql"
	"github.com/pkg/errors"
	gormMysql "gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const tcp = "tcp"

var (
	// List entities to auto-migrate
	entities = []interface{}{
		Checkpoint{},
		TransactionRecord{},
		SwapEvent{},
	}
	DBTransactionBatchesSize = 500
)

func ConnectAndInitialize(ctx context.Context, cfg *config.DBConfig) (*gorm.DB, error) {
	db, err := Connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("ConnectAndInitialize: Connect: %w", err)
	}

	if err := Initialize(ctx, db, cfg.DropTableAtStart); err != nil {
		Close(db)
		return nil, fmt.Errorf("ConnectAndInitialize: %w", err)
	}

	return db, nil
}

// Initialize creates the tables, optionally dropping them first.
func Initialize(ctx context.Context, db *gorm.DB, dropTables bool) error {
	db = db.WithContext(ctx)

	if dropTables {
		err := db.Migrator().DropTable(entities...)
		if err != nil {
			return errors.Wrap(err, "DropTable")
		}
	}

	err := db.AutoMigrate(entities...)
	if err != nil {
		return errors.Wrap(err, "AutoMigrate")
	}

	return nil
}

func Connect(cfg *config.DBConfig) (*gorm.DB, error) {
	gormConfig := gorm.Config{
		Logger:          gormlogger.Default.LogMode(getGormLogLevel(cfg)),
		CreateBatchSize: DBTransactionBatchesSize,
	}

	switch cfg.Driver {
	case config.DriverSqlite, "":
		return gorm.Open(sqlite.Open(sqliteDSN(cfg.Path)), &gormConfig)
	case config.DriverMysql:
		return gorm.Open(gormMysql.Open(mysqlDSN(cfg)), &gormConfig)
	default:
		return nil, errors.Errorf("unknown db driver %q", cfg.Driver)
	}
}

// WAL lets the HTTP readers query while a scan holds the write lock.
func sqliteDSN(path string) string {
	return fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on", path)
}

func mysqlDSN(cfg *config.DBConfig) string {
	dbConfig := mysql.Config{
		User:                 cfg.Username,
		Passwd:               cfg.Password,
		Net:                  tcp,
		Addr:                 fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		DBName:               cfg.Database,
		AllowNativePasswords: true,
		ParseTime:            true,
		Loc:                  time.UTC,
		Params:               map[string]string{"time_zone": "'+00:00'"},
	}
	return dbConfig.FormatDSN()
}

func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return errors.Wrap(err, "db.DB")
	}
	return sqlDB.Close()
}

func getGormLogLevel(cfg *config.DBConfig) gormlogger.LogLevel {
	if cfg.LogQueries {
		return gormlogger.Info
	}

	return gormlogger.Silent
}
