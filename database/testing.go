package database

import (
	"context"
	"path/filepath"

	"swap-metrics-indexer/config"

	"gorm.io/gorm"
)

// ConnectAndInitializeTestDB opens a fresh SQLite database file inside dir.
func ConnectAndInitializeTestDB(ctx context.Context, dir string) (*gorm.DB, error) {
	cfg := &config.DBConfig{
		Driver: config.DriverSqlite,
		Path:   filepath.Join(dir, "test.db"),
	}

	return ConnectAndInitialize(ctx, cfg)
}

// Queries for testing
/////////////////////////////////////////////////////////////////////////////////////////

func FetchTransactions(ctx context.Context, db *gorm.DB) ([]*TransactionRecord, error) {
	var records []*TransactionRecord
	err := db.WithContext(ctx).Order("block_number, tx_hash").Find(&records).Error
	return records, err
}

func FetchSwaps(ctx context.Context, db *gorm.DB) ([]*SwapEvent, error) {
	var swaps []*SwapEvent
	err := db.WithContext(ctx).Order("block_number, log_index").Find(&swaps).Error
	return swaps, err
}
