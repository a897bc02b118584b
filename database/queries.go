package database

import (
	"context"

	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// InsertTransactions inserts records whose tx_hash is not stored yet and
// returns the number of rows actually written.
func InsertTransactions(db *gorm.DB, records []*TransactionRecord) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}

	res := db.Clauses(clause.OnConflict{DoNothing: true}).Create(records)
	if res.Error != nil {
		return 0, errors.Wrap(res.Error, "InsertTransactions")
	}

	return res.RowsAffected, nil
}

// InsertSwaps inserts swaps whose (tx_hash, log_index) is not stored yet.
func InsertSwaps(db *gorm.DB, swaps []*SwapEvent) (int64, error) {
	if len(swaps) == 0 {
		return 0, nil
	}

	res := db.Clauses(clause.OnConflict{DoNothing: true}).Create(swaps)
	if res.Error != nil {
		return 0, errors.Wrap(res.Error, "InsertSwaps")
	}

	return res.RowsAffected, nil
}

// DoInTransaction runs operations in one database transaction, rolling
// back on the first error.
func DoInTransaction(ctx context.Context, db *gorm.DB, operations ...func(tx *gorm.DB) error) error {
	tx := db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return errors.Wrap(tx.Error, "Begin")
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()

	for _, f := range operations {
		if err := f(tx); err != nil {
			tx.Rollback()
			return err
		}
	}

	return tx.Commit().Error
}

func CountTransactions(ctx context.Context, db *gorm.DB) (int64, error) {
	var n int64
	err := db.WithContext(ctx).Model(&TransactionRecord{}).Count(&n).Error
	return n, err
}

func CountSwaps(ctx context.Context, db *gorm.DB) (int64, error) {
	var n int64
	err := db.WithContext(ctx).Model(&SwapEvent{}).Count(&n).Error
	return n, err
}
