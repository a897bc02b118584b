package indexer

import (
	"context"
	"math"
	"strings"
	"testing"
	"time"

	"swap-metrics-indexer/config"
	"swap-metrics-indexer/database"

	"github.com/bradleyjkemp/cupaloy/v2"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func testIndexerConfig() *config.Config {
	return &config.Config{
		Indexer: config.IndexerConfig{
			ContractAddress:  testContract.Hex(),
			BatchSize:        5,
			MaxRetries:       2,
			RetryDelayMillis: 1,
			TimeoutMillis:    1000,
		},
	}
}

func setupIndexer(t *testing.T, fake *fakeChain) (*BlockIndexer, *gorm.DB) {
	t.Helper()

	db, err := database.ConnectAndInitializeTestDB(context.Background(), t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { database.Close(db) })

	ci, err := CreateBlockIndexer(testIndexerConfig(), db, fake)
	require.NoError(t, err)

	return ci, db
}

func lastScanned(t *testing.T, db *gorm.DB) (uint64, bool) {
	t.Helper()

	block, found, err := database.LastScannedBlock(context.Background(), db)
	require.NoError(t, err)
	return block, found
}

func TestPartition(t *testing.T) {
	tests := []struct {
		lower, upper, size uint64
	}{
		{0, 0, 5},
		{0, 4, 5},
		{0, 5, 5},
		{3, 17, 5},
		{10, 10, 1},
		{7, 100, 13},
		{0, 20, 100},
	}

	for _, tc := range tests {
		windows := Partition(tc.lower, tc.upper, tc.size)
		require.NotEmpty(t, windows)

		next := tc.lower
		for _, w := range windows {
			assert.Equal(t, next, w.From, "windows must be contiguous")
			assert.LessOrEqual(t, w.From, w.To)
			assert.LessOrEqual(t, w.To-w.From+1, tc.size)
			next = w.To + 1
		}
		assert.Equal(t, tc.upper, windows[len(windows)-1].To)
	}

	assert.Empty(t, Partition(6, 5, 5))
	assert.Equal(t, []Window{{0, 4}, {5, 9}, {10, 11}}, Partition(0, 11, 5))
}

func TestWindowIterator(t *testing.T) {
	it := newWindowIterator(0, 20_000_000, 1)
	for i := uint64(0); i < 3; i++ {
		w, ok := it.Next()
		require.True(t, ok)
		assert.Equal(t, Window{i, i}, w)
	}
	assert.Equal(t, uint64(20_000_001), windowCount(0, 20_000_000, 1))
	assert.Equal(t, uint64(3), windowCount(0, 11, 5))
	assert.Zero(t, windowCount(6, 5, 5))

	// the last window ends exactly at upper without overflowing
	it = newWindowIterator(math.MaxUint64-3, math.MaxUint64, 2)
	w, ok := it.Next()
	require.True(t, ok)
	assert.Equal(t, Window{math.MaxUint64 - 3, math.MaxUint64 - 2}, w)
	w, ok = it.Next()
	require.True(t, ok)
	assert.Equal(t, Window{math.MaxUint64 - 1, math.MaxUint64}, w)
	_, ok = it.Next()
	assert.False(t, ok)

	_, ok = newWindowIterator(6, 5, 5).Next()
	assert.False(t, ok)
}

func TestCreateBlockIndexerValidation(t *testing.T) {
	_, err := CreateBlockIndexer(testIndexerConfig(), nil, nil)
	require.ErrorIs(t, err, ErrNoClient)

	cfg := testIndexerConfig()
	cfg.Indexer.ContractAddress = ""
	_, err = CreateBlockIndexer(cfg, nil, newFakeChain(0))
	require.Error(t, err)
}

func TestFullScanIsIdempotent(t *testing.T) {
	fake := newFakeChain(20)
	fake.addTx(2, userAlice, 21000, 1, 0)
	fake.addTx(2, userBob, 42000, 2, 1)
	fake.addTx(13, userAlice, 21000, 0, 1)
	fake.addTx(20, userBob, 30000, 1, 0)

	ci, db := setupIndexer(t, fake)
	ctx := context.Background()

	res, err := ci.Scan(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, StateDone, res.State)
	assert.Equal(t, uint64(0), res.FromBlock)
	assert.Equal(t, uint64(20), res.ToBlock)
	assert.Equal(t, 5, res.Windows)
	assert.Equal(t, 6, res.LogsFetched)
	assert.Equal(t, int64(4), res.TransactionsInserted)
	assert.Equal(t, int64(4), res.SwapsInserted)
	assert.Equal(t, [][2]uint64{{0, 4}, {5, 9}, {10, 14}, {15, 19}, {20, 20}}, fake.filterQueries())

	block, found := lastScanned(t, db)
	require.True(t, found)
	assert.Equal(t, uint64(20), block)

	records, err := database.FetchTransactions(ctx, db)
	require.NoError(t, err)
	require.Len(t, records, 4)
	for _, r := range records {
		assert.Equal(t, strings.ToLower(r.FromAddress), r.FromAddress)
		assert.Equal(t, fakeGenesisTime+r.BlockNumber*12, r.Timestamp)
	}

	swaps, err := database.FetchSwaps(ctx, db)
	require.NoError(t, err)
	require.Len(t, swaps, 4)
	for _, s := range swaps {
		s.ID = 0
		for _, a := range []string{s.Sender, s.TokenIn, s.TokenOut, s.Destination} {
			assert.Equal(t, strings.ToLower(a), a)
		}
	}
	assert.Equal(t, "0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed", swaps[0].Sender)
	assert.Equal(t, "0xdbf03b407c01e7cd3cbea99509d93f8dddc8c6fb", swaps[0].TokenIn)
	assert.Equal(t, "0xd1220a0cf47c7b9be7a2e6ba89f429762e7b9adb", swaps[0].TokenOut)
	assert.Equal(t, "0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed", swaps[0].Destination)
	cupaloy.SnapshotT(t, swaps)

	res, err = ci.Scan(ctx, false)
	require.NoError(t, err)
	assert.Zero(t, res.TransactionsInserted)
	assert.Zero(t, res.SwapsInserted)

	count, err := database.CountTransactions(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, int64(4), count)
}

func TestIncrementalResume(t *testing.T) {
	fake := newFakeChain(9)
	fake.addTx(4, userAlice, 21000, 1, 0)

	ci, db := setupIndexer(t, fake)
	ctx := context.Background()

	res, err := ci.Scan(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), res.FromBlock, "no checkpoint falls back to a full scan")

	fake.addTx(12, userBob, 21000, 1, 0)
	fake.setHead(14)
	fake.resetQueries()

	res, err = ci.Scan(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), res.FromBlock)
	assert.Equal(t, uint64(14), res.ToBlock)
	assert.Equal(t, [][2]uint64{{10, 14}}, fake.filterQueries())
	assert.Equal(t, int64(1), res.TransactionsInserted)

	block, _ := lastScanned(t, db)
	assert.Equal(t, uint64(14), block)

	fake.resetQueries()
	res, err = ci.Scan(ctx, true)
	require.NoError(t, err)
	assert.True(t, res.UpToDate)
	assert.Equal(t, StateDone, res.State)
	assert.Empty(t, fake.filterQueries())
}

func TestConcurrentScanRejected(t *testing.T) {
	fake := newFakeChain(9)
	fake.addTx(3, userAlice, 21000, 1, 0)

	ci, db := setupIndexer(t, fake)
	ctx := context.Background()

	called, release := fake.holdHead()
	first := make(chan error, 1)
	go func() {
		_, err := ci.Scan(ctx, false)
		first <- err
	}()
	<-called

	res, err := ci.Scan(ctx, true)
	require.ErrorIs(t, err, ErrScanInProgress)
	assert.Nil(t, res)

	close(release)
	require.NoError(t, <-first)

	block, ok := lastScanned(t, db)
	require.True(t, ok)
	assert.Equal(t, uint64(9), block)

	// the lock is released once the running scan returns
	res, err = ci.Scan(ctx, true)
	require.NoError(t, err)
	assert.True(t, res.UpToDate)
}

func TestCheckpointNeverMovesBackwards(t *testing.T) {
	fake := newFakeChain(30)
	ci, db := setupIndexer(t, fake)
	ctx := context.Background()

	_, err := ci.Scan(ctx, false)
	require.NoError(t, err)

	// a node lagging behind reports a lower head
	fake.setHead(25)
	_, err = ci.Scan(ctx, false)
	require.NoError(t, err)

	block, _ := lastScanned(t, db)
	assert.Equal(t, uint64(30), block)
}

func TestStartBlock(t *testing.T) {
	fake := newFakeChain(12)
	fake.addTx(1, userAlice, 21000, 1, 0)
	fake.addTx(11, userBob, 21000, 1, 0)

	db, err := database.ConnectAndInitializeTestDB(context.Background(), t.TempDir())
	require.NoError(t, err)
	defer database.Close(db)

	cfg := testIndexerConfig()
	cfg.Indexer.StartBlock = 10
	ci, err := CreateBlockIndexer(cfg, db, fake)
	require.NoError(t, err)

	res, err := ci.Scan(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), res.FromBlock)
	assert.Equal(t, int64(1), res.TransactionsInserted)
}

func TestEnrichmentFailureSkipsLog(t *testing.T) {
	fake := newFakeChain(4)
	fake.addTx(1, userAlice, 21000, 1, 0)
	broken := fake.addTx(2, userBob, 42000, 2, 0)
	fake.addTx(3, userBob, 21000, 1, 0)
	fake.breakTx(broken)

	ci, db := setupIndexer(t, fake)
	ctx := context.Background()

	res, err := ci.Scan(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, StateDone, res.State)
	assert.Equal(t, 4, res.LogsFetched)
	assert.Equal(t, 2, res.LogsSkipped)
	assert.Equal(t, int64(2), res.TransactionsInserted)
	assert.Equal(t, int64(2), res.SwapsInserted)

	block, found := lastScanned(t, db)
	require.True(t, found)
	assert.Equal(t, uint64(4), block)
}

func TestFetchFailureAbortsWithoutCheckpoint(t *testing.T) {
	fake := newFakeChain(14)
	fake.addTx(1, userAlice, 21000, 1, 0)
	fake.addTx(7, userBob, 21000, 1, 0)
	fake.failFilterAt(5)

	ci, db := setupIndexer(t, fake)
	ctx := context.Background()

	res, err := ci.Scan(ctx, false)
	require.Error(t, err)
	assert.Equal(t, StateFailed, res.State)
	assert.Equal(t, 1, res.Windows)

	// the failing window was tried MaxRetries times, later windows never
	assert.Equal(t, [][2]uint64{{0, 4}, {5, 9}, {5, 9}}, fake.filterQueries())

	_, found := lastScanned(t, db)
	assert.False(t, found)

	// the committed first window survives, the next run redoes the rest
	count, err := database.CountTransactions(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestPersistFailureRollsBackWindow(t *testing.T) {
	fake := newFakeChain(4)
	fake.addTx(1, userAlice, 21000, 1, 0)
	fake.addTx(2, userBob, 21000, 1, 0)

	ci, db := setupIndexer(t, fake)
	ctx := context.Background()

	err := db.Callback().Create().Before("gorm:create").Register("test:fail_swaps", func(tx *gorm.DB) {
		if tx.Statement.Table == "swap_events" {
			tx.AddError(errors.New("injected swap insert failure"))
		}
	})
	require.NoError(t, err)

	res, err := ci.Scan(ctx, false)
	require.ErrorContains(t, err, "injected swap insert failure")
	assert.Equal(t, StateFailed, res.State)

	count, err := database.CountTransactions(ctx, db)
	require.NoError(t, err)
	assert.Zero(t, count, "transactions of the failed window are rolled back")

	_, found := lastScanned(t, db)
	assert.False(t, found)

	require.NoError(t, db.Callback().Create().Remove("test:fail_swaps"))

	res, err = ci.Scan(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.TransactionsInserted)
	assert.Equal(t, int64(2), res.SwapsInserted)
}

func TestCancelledScanDoesNotCheckpoint(t *testing.T) {
	fake := newFakeChain(4)
	fake.addTx(1, userAlice, 21000, 1, 0)

	ci, db := setupIndexer(t, fake)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := ci.Scan(ctx, false)
	require.Error(t, err)

	_, found := lastScanned(t, db)
	assert.False(t, found)
}

func TestScheduler(t *testing.T) {
	fake := newFakeChain(3)
	fake.addTx(2, userAlice, 21000, 1, 0)

	ci, db := setupIndexer(t, fake)

	_, err := NewScheduler(ci, "not a schedule")
	require.Error(t, err)

	s, err := NewScheduler(ci, "@every 1s")
	require.NoError(t, err)
	s.Start()
	defer s.Stop()

	require.Eventually(t, func() bool {
		block, found, err := database.LastScannedBlock(context.Background(), db)
		return err == nil && found && block == 3
	}, 5*time.Second, 50*time.Millisecond)
}
