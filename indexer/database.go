package indexer

import (
	"context"

	"swap-metrics-indexer/database"

	"gorm.io/gorm"
)

// saveWindow writes all rows of a window in one transaction. Rows that
// are already stored are left untouched.
func (ci *BlockIndexer) saveWindow(ctx context.Context, batch *windowBatch) (int64, int64, error) {
	if len(batch.transactions) == 0 && len(batch.swaps) == 0 {
		return 0, 0, nil
	}

	var txCount, swapCount int64
	err := database.DoInTransaction(ctx, ci.db,
		func(tx *gorm.DB) (err error) {
			txCount, err = database.InsertTransactions(tx, batch.transactions)
			return err
		},
		func(tx *gorm.DB) (err error) {
			swapCount, err = database.InsertSwaps(tx, batch.swaps)
			return err
		},
	)
	if err != nil {
		return 0, 0, err
	}

	return txCount, swapCount, nil
}
