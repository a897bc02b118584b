package database

import (
	"time"
)

// BaseEntity is an abstract entity, all other entities should be derived from it
type BaseEntity struct {
	ID uint64 `gorm:"primaryKey"`
}

// Checkpoint is a key/value record of scan progress.
type Checkpoint struct {
	Key     string `gorm:"column:key;primaryKey;type:varchar(64)"`
	Value   string `gorm:"type:varchar(255)"`
	Updated time.Time
}

// TransactionRecord is one observed transaction that emitted a log at the
// scanned contract. Addresses are lowercase hex, gas is decimal text.
type TransactionRecord struct {
	BaseEntity
	TxHash      string `gorm:"type:varchar(66);uniqueIndex"`
	BlockNumber uint64 `gorm:"index"`
	FromAddress string `gorm:"type:varchar(42);index"`
	GasUsed     string `gorm:"type:varchar(78)"`
	Timestamp   uint64 `gorm:"index"`
}

// SwapEvent is a decoded Swap log. Amounts are base-10 integers as text.
type SwapEvent struct {
	BaseEntity
	TxHash      string `gorm:"type:varchar(66);uniqueIndex:idx_swap_tx_log"`
	LogIndex    uint   `gorm:"uniqueIndex:idx_swap_tx_log"`
	BlockNumber uint64 `gorm:"index"`
	Sender      string `gorm:"type:varchar(42)"`
	AmountIn    string `gorm:"type:varchar(78)"`
	AmountOut   string `gorm:"type:varchar(78)"`
	TokenIn     string `gorm:"type:varchar(42);index:idx_swap_pair"`
	TokenOut    string `gorm:"type:varchar(42);index:idx_swap_pair"`
	Destination string `gorm:"type:varchar(42)"`
	Timestamp   uint64 `gorm:"index"`
}
