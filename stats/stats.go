package stats

import (
	"context"
	"fmt"
	"time"

	"swap-metrics-indexer/config"
	"swap-metrics-indexer/database"

	"gorm.io/gorm"
)

// Document is the aggregated view served over HTTP and exported to file.
type Document struct {
	UniqueUsers      int64        `json:"uniqueUsers"`
	UniqueTxCount    int64        `json:"uniqueTxCount"`
	TotalSwaps       int64        `json:"totalSwaps"`
	TotalGasUsed     string       `json:"totalGasUsed"`
	TopUsers         []UserCount  `json:"topUsers"`
	Daily            []DailyStats `json:"daily"`
	TopTokenPairs    []TokenPair  `json:"topTokenPairs"`
	LastScannedBlock *uint64      `json:"lastScannedBlock"`
	GeneratedAt      string       `json:"generatedAt"`
}

type UserCount struct {
	Address string `json:"address"`
	TxCount int64  `json:"txCount"`
}

// DailyStats buckets rows by the UTC calendar day of their timestamp.
type DailyStats struct {
	Date        string `json:"date"`
	TxCount     int64  `json:"txCount"`
	UniqueUsers int64  `json:"uniqueUsers"`
	SwapCount   int64  `json:"swapCount"`
}

type TokenPair struct {
	TokenIn   string `json:"tokenIn"`
	TokenOut  string `json:"tokenOut"`
	SwapCount int64  `json:"swapCount"`
	VolumeIn  string `json:"volumeIn"`
	VolumeOut string `json:"volumeOut"`
}

type Aggregator struct {
	db          *gorm.DB
	gasDecimals int32
	topN        int
	now         func() time.Time
}

func NewAggregator(db *gorm.DB, cfg config.StatsConfig) *Aggregator {
	topN := cfg.TopN
	if topN <= 0 {
		topN = 10
	}

	return &Aggregator{
		db:          db,
		gasDecimals: cfg.GasDecimals,
		topN:        topN,
		now:         time.Now,
	}
}

// Compute aggregates the stored rows from scratch. All queries run in one
// read transaction so the figures are mutually consistent.
func (a *Aggregator) Compute(ctx context.Context) (*Document, error) {
	doc := &Document{
		TopUsers:      make([]UserCount, 0),
		Daily:         make([]DailyStats, 0),
		TopTokenPairs: make([]TokenPair, 0),
	}

	err := a.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return a.compute(ctx, tx, doc)
	})
	if err != nil {
		return nil, fmt.Errorf("Compute: %w", err)
	}

	doc.GeneratedAt = a.now().UTC().Format(time.RFC3339)
	return doc, nil
}

func (a *Aggregator) compute(ctx context.Context, tx *gorm.DB, doc *Document) error {
	var err error

	if doc.UniqueUsers, err = countUniqueUsers(tx); err != nil {
		return err
	}
	if doc.UniqueTxCount, err = database.CountTransactions(ctx, tx); err != nil {
		return err
	}
	if doc.TotalSwaps, err = database.CountSwaps(ctx, tx); err != nil {
		return err
	}

	gas, err := sumGasUsed(tx)
	if err != nil {
		return err
	}
	doc.TotalGasUsed = gas.Shift(-a.gasDecimals).String()

	if doc.TopUsers, err = topUsers(tx, a.topN); err != nil {
		return err
	}
	if doc.Daily, err = dailyStats(tx); err != nil {
		return err
	}
	if doc.TopTokenPairs, err = topTokenPairs(tx, a.topN); err != nil {
		return err
	}

	block, found, err := database.LastScannedBlock(ctx, tx)
	if err != nil {
		return err
	}
	if found {
		doc.LastScannedBlock = &block
	}

	return nil
}
