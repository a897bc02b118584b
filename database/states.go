package database

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	LastScannedBlockKey string = "lastScannedBlock"
)

// GetCheckpoint returns the stored value for key; found is false when the
// key has never been written.
func GetCheckpoint(ctx context.Context, db *gorm.DB, key string) (value string, found bool, err error) {
	var cp Checkpoint
	err = db.WithContext(ctx).Where(&Checkpoint{Key: key}).Take(&cp).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("GetCheckpoint: %w", err)
	}

	return cp.Value, true, nil
}

// SetCheckpoint overwrites the value stored for key.
func SetCheckpoint(ctx context.Context, db *gorm.DB, key, value string) error {
	cp := &Checkpoint{Key: key, Value: value, Updated: time.Now().UTC()}
	err := db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated"}),
	}).Create(cp).Error
	if err != nil {
		return fmt.Errorf("SetCheckpoint: %w", err)
	}

	return nil
}

func LastScannedBlock(ctx context.Context, db *gorm.DB) (uint64, bool, error) {
	value, found, err := GetCheckpoint(ctx, db, LastScannedBlockKey)
	if err != nil || !found {
		return 0, false, err
	}

	block, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		return 0, false, errors.Wrapf(err, "LastScannedBlock: corrupt checkpoint value %q", value)
	}

	return block, true, nil
}

// SetLastScannedBlock stores block as the scan checkpoint unless a larger
// value is already stored. It reports the value that ends up persisted.
func SetLastScannedBlock(ctx context.Context, db *gorm.DB, block uint64) (uint64, error) {
	stored := block
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, found, err := LastScannedBlock(ctx, tx)
		if err != nil {
			return err
		}
		if found && current >= block {
			stored = current
			return nil
		}

		return SetCheckpoint(ctx, tx, LastScannedBlockKey, strconv.FormatUint(block, 10))
	})
	if err != nil {
		return 0, fmt.Errorf("SetLastScannedBlock: %w", err)
	}

	return stored, nil
}
