package indexer

import (
	"context"
	"strconv"
	"strings"
	"sync"

	"swap-metrics-indexer/boff"
	"swap-metrics-indexer/chain"
	"swap-metrics-indexer/database"
	"swap-metrics-indexer/indexer/abi"
	"swap-metrics-indexer/logger"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// windowBatch holds the rows derived from one window's logs.
type windowBatch struct {
	transactions []*database.TransactionRecord
	swaps        []*database.SwapEvent
	skipped      int
}

type txInfo struct {
	receipt *chain.Receipt
	header  *chain.Header
	sender  common.Address
}

type txLogs struct {
	hash        common.Hash
	blockNumber uint64
	logs        []*types.Log
}

// enrichLogs fetches receipt, header and sender for every transaction in
// logs concurrently. Transactions whose lookups fail are dropped together
// with their logs.
func (ci *BlockIndexer) enrichLogs(ctx context.Context, logs []types.Log) *windowBatch {
	groups := groupByTransaction(logs)
	infos := make([]*txInfo, len(groups))
	headers := newHeaderCache()

	var eg errgroup.Group
	if ci.params.NumParallelReq > 0 {
		eg.SetLimit(ci.params.NumParallelReq)
	}
	for i, group := range groups {
		eg.Go(func() error {
			info, err := ci.enrichTransaction(ctx, group, headers)
			if err != nil {
				logger.Warn("Skipping %d log(s) of transaction %s in block %d: %s",
					len(group.logs), group.hash.Hex(), group.blockNumber, err)
				return nil
			}
			infos[i] = info
			return nil
		})
	}
	_ = eg.Wait()

	batch := &windowBatch{}
	for i, group := range groups {
		info := infos[i]
		if info == nil {
			batch.skipped += len(group.logs)
			continue
		}

		batch.transactions = append(batch.transactions, &database.TransactionRecord{
			TxHash:      group.hash.Hex(),
			BlockNumber: group.blockNumber,
			FromAddress: lowerHex(info.sender),
			GasUsed:     strconv.FormatUint(info.receipt.GasUsed, 10),
			Timestamp:   info.header.Time,
		})

		for _, l := range group.logs {
			swap, ok := abi.DecodeSwap(l)
			if !ok {
				continue
			}
			batch.swaps = append(batch.swaps, swapToDB(swap, info.header.Time))
		}
	}

	return batch
}

func (ci *BlockIndexer) enrichTransaction(ctx context.Context, group *txLogs, headers *headerCache) (*txInfo, error) {
	info := &txInfo{}
	eg, txCtx := errgroup.WithContext(ctx)

	eg.Go(func() (err error) {
		info.receipt, err = ci.fetchReceipt(txCtx, group.hash)
		return err
	})
	eg.Go(func() (err error) {
		// shared with other transactions of the block, so not bound to txCtx
		info.header, err = headers.get(group.blockNumber, func() (*chain.Header, error) {
			return ci.fetchBlockHeader(ctx, group.blockNumber)
		})
		return err
	})
	eg.Go(func() (err error) {
		info.sender, err = ci.fetchSender(txCtx, group.hash)
		return err
	})

	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return info, nil
}

func (ci *BlockIndexer) fetchReceipt(ctx context.Context, txHash common.Hash) (*chain.Receipt, error) {
	receipt, err := boff.Retry(ctx, ci.policy, func() (*chain.Receipt, error) {
		ctx, cancelFunc := context.WithTimeout(ctx, ci.params.Timeout())
		defer cancelFunc()

		return ci.client.TransactionReceipt(ctx, txHash)
	}, "TransactionReceipt")
	if err != nil {
		return nil, errors.Wrap(err, "ci.client.TransactionReceipt")
	}

	return receipt, nil
}

func (ci *BlockIndexer) fetchSender(ctx context.Context, txHash common.Hash) (common.Address, error) {
	sender, err := boff.Retry(ctx, ci.policy, func() (common.Address, error) {
		ctx, cancelFunc := context.WithTimeout(ctx, ci.params.Timeout())
		defer cancelFunc()

		return ci.client.TransactionSender(ctx, txHash)
	}, "TransactionSender")
	if err != nil {
		return common.Address{}, errors.Wrap(err, "ci.client.TransactionSender")
	}

	return sender, nil
}

// groupByTransaction keeps the order in which transactions first appear.
func groupByTransaction(logs []types.Log) []*txLogs {
	var groups []*txLogs
	byHash := make(map[common.Hash]*txLogs)

	for i := range logs {
		l := &logs[i]
		group, ok := byHash[l.TxHash]
		if !ok {
			group = &txLogs{hash: l.TxHash, blockNumber: l.BlockNumber}
			byHash[l.TxHash] = group
			groups = append(groups, group)
		}
		group.logs = append(group.logs, l)
	}

	return groups
}

func swapToDB(swap *abi.SwapLog, timestamp uint64) *database.SwapEvent {
	return &database.SwapEvent{
		TxHash:      swap.TxHash.Hex(),
		LogIndex:    swap.LogIndex,
		BlockNumber: swap.BlockNumber,
		Sender:      lowerHex(swap.Sender),
		AmountIn:    swap.AmountIn.String(),
		AmountOut:   swap.AmountOut.String(),
		TokenIn:     lowerHex(swap.TokenIn),
		TokenOut:    lowerHex(swap.TokenOut),
		Destination: lowerHex(swap.Destination),
		Timestamp:   timestamp,
	}
}

func lowerHex(a common.Address) string {
	return strings.ToLower(a.Hex())
}

// headerCache shares header lookups between transactions of one block.
type headerCache struct {
	group   singleflight.Group
	mu      sync.Mutex
	headers map[uint64]*chain.Header
}

func newHeaderCache() *headerCache {
	return &headerCache{headers: make(map[uint64]*chain.Header)}
}

func (c *headerCache) get(number uint64, fetch func() (*chain.Header, error)) (*chain.Header, error) {
	c.mu.Lock()
	header, ok := c.headers[number]
	c.mu.Unlock()
	if ok {
		return header, nil
	}

	v, err, _ := c.group.Do(strconv.FormatUint(number, 10), func() (interface{}, error) {
		header, err := fetch()
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.headers[number] = header
		c.mu.Unlock()
		return header, nil
	})
	if err != nil {
		return nil, err
	}

	return v.(*chain.Header), nil
}
