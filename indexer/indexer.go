package indexer

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"swap-metrics-indexer/boff"
	"swap-metrics-indexer/chain"
	"swap-metrics-indexer/config"
	"swap-metrics-indexer/database"
	"swap-metrics-indexer/logger"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
	"gorm.io/gorm"
)

var (
	ErrNoClient       = errors.New("indexer: chain client is nil")
	ErrScanInProgress = errors.New("indexer: a scan is already running")
)

// ChainClient is the subset of the node API the indexer uses.
type ChainClient interface {
	BlockNumber(ctx context.Context) (uint64, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*chain.Header, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*chain.Receipt, error)
	TransactionSender(ctx context.Context, txHash common.Hash) (common.Address, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
}

type ScanState int

const (
	StateIdle ScanState = iota
	StateResolvingRange
	StateFetchingBatch
	StateEnrichingBatch
	StatePersistingBatch
	StateCheckpointing
	StateDone
	StateFailed
)

func (s ScanState) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateResolvingRange:
		return "ResolvingRange"
	case StateFetchingBatch:
		return "FetchingBatch"
	case StateEnrichingBatch:
		return "EnrichingBatch"
	case StatePersistingBatch:
		return "PersistingBatch"
	case StateCheckpointing:
		return "Checkpointing"
	case StateDone:
		return "Done"
	case StateFailed:
		return "Failed"
	default:
		return fmt.Sprintf("ScanState(%d)", int(s))
	}
}

// ScanResult summarises one Scan call.
type ScanResult struct {
	State                ScanState
	FromBlock            uint64
	ToBlock              uint64
	Windows              int
	LogsFetched          int
	LogsSkipped          int
	TransactionsInserted int64
	SwapsInserted        int64
	UpToDate             bool
}

type BlockIndexer struct {
	db       *gorm.DB
	params   config.IndexerConfig
	contract common.Address
	client   ChainClient
	policy   boff.Policy

	scanMu sync.Mutex
}

func CreateBlockIndexer(cfg *config.Config, db *gorm.DB, client ChainClient) (*BlockIndexer, error) {
	if client == nil {
		return nil, ErrNoClient
	}
	if cfg.Indexer.ContractAddress == "" {
		return nil, errors.New("indexer: contract address is not set")
	}

	blockIndexer := BlockIndexer{
		db:       db,
		params:   cfg.Indexer,
		contract: cfg.Indexer.Address(),
		client:   client,
	}

	if blockIndexer.params.BatchSize == 0 {
		blockIndexer.params.BatchSize = 1
	}
	if blockIndexer.params.MaxRetries < 1 {
		blockIndexer.params.MaxRetries = 1
	}
	if blockIndexer.params.TimeoutMillis <= 0 {
		blockIndexer.params.TimeoutMillis = 10000
	}

	blockIndexer.policy = boff.Policy{
		MaxTries: uint(blockIndexer.params.MaxRetries),
		Delay:    blockIndexer.params.RetryDelay(),
	}

	return &blockIndexer, nil
}

func (ci *BlockIndexer) Contract() common.Address {
	return ci.contract
}

// Scan indexes [lower, head] where lower is 0 (or the configured start
// block) for a full scan and the block after the checkpoint for an
// incremental one. The checkpoint only advances when every window was
// persisted.
func (ci *BlockIndexer) Scan(ctx context.Context, incremental bool) (*ScanResult, error) {
	if !ci.scanMu.TryLock() {
		return nil, ErrScanInProgress
	}
	defer ci.scanMu.Unlock()

	res := &ScanResult{State: StateIdle}
	startTime := time.Now()

	err := ci.scan(ctx, incremental, res)
	if err != nil {
		ci.transition(res, StateFailed)
		scanFailures.Inc()
		return res, fmt.Errorf("Scan: %w", err)
	}

	logger.Info(
		"Scan of %s finished in %d milliseconds: blocks %d-%d, %d windows, %d logs (%d skipped), %d new transactions, %d new swaps",
		ci.contract.Hex(), time.Since(startTime).Milliseconds(), res.FromBlock, res.ToBlock, res.Windows,
		res.LogsFetched, res.LogsSkipped, res.TransactionsInserted, res.SwapsInserted,
	)

	return res, nil
}

func (ci *BlockIndexer) scan(ctx context.Context, incremental bool, res *ScanResult) error {
	ci.transition(res, StateResolvingRange)

	head, err := ci.fetchHead(ctx)
	if err != nil {
		return err
	}
	lastChainBlock.Set(float64(head))

	lower, err := ci.lowerBound(ctx, incremental)
	if err != nil {
		return err
	}

	res.FromBlock, res.ToBlock = lower, head
	if lower > head {
		res.UpToDate = true
		ci.transition(res, StateDone)
		logger.Info("Already up to date: next block %d, chain head %d", lower, head)
		return nil
	}

	logger.Info("Scanning %s blocks %d to %d in %d windows",
		ci.contract.Hex(), lower, head, windowCount(lower, head, ci.params.BatchSize))

	windows := newWindowIterator(lower, head, ci.params.BatchSize)
	for w, ok := windows.Next(); ok; w, ok = windows.Next() {
		if err := ci.processWindow(ctx, w, res); err != nil {
			return errors.Wrapf(err, "window %d-%d", w.From, w.To)
		}
		res.Windows++
		windowsProcessed.Inc()
	}

	ci.transition(res, StateCheckpointing)
	stored, err := database.SetLastScannedBlock(ctx, ci.db, head)
	if err != nil {
		return err
	}
	lastScannedBlock.Set(float64(stored))

	ci.transition(res, StateDone)
	return nil
}

func (ci *BlockIndexer) lowerBound(ctx context.Context, incremental bool) (uint64, error) {
	if incremental {
		checkpoint, found, err := database.LastScannedBlock(ctx, ci.db)
		if err != nil {
			return 0, err
		}
		if found {
			return checkpoint + 1, nil
		}
		logger.Info("No checkpoint stored, falling back to a full scan")
	}

	return ci.params.StartBlock, nil
}

func (ci *BlockIndexer) processWindow(ctx context.Context, w Window, res *ScanResult) error {
	startTime := time.Now()

	ci.transition(res, StateFetchingBatch)
	logs, err := ci.fetchLogs(ctx, w.From, w.To)
	if err != nil {
		return err
	}
	res.LogsFetched += len(logs)
	logsFetched.Add(float64(len(logs)))

	ci.transition(res, StateEnrichingBatch)
	batch := ci.enrichLogs(ctx, logs)
	if err := ctx.Err(); err != nil {
		// lookups failed because of cancellation, not because of the logs
		return err
	}
	res.LogsSkipped += batch.skipped
	logsSkipped.Add(float64(batch.skipped))

	ci.transition(res, StatePersistingBatch)
	txCount, swapCount, err := ci.saveWindow(ctx, batch)
	if err != nil {
		return err
	}
	res.TransactionsInserted += txCount
	res.SwapsInserted += swapCount
	rowsInserted.WithLabelValues("transaction").Add(float64(txCount))
	rowsInserted.WithLabelValues("swap").Add(float64(swapCount))

	logger.Info(
		"Window %d-%d: %d logs, %d skipped, %d new transactions, %d new swaps in %d milliseconds",
		w.From, w.To, len(logs), batch.skipped, txCount, swapCount, time.Since(startTime).Milliseconds(),
	)

	return nil
}

func (ci *BlockIndexer) transition(res *ScanResult, state ScanState) {
	logger.Debug("Scan state %s -> %s", res.State, state)
	res.State = state
}
