package indexer

import (
	"context"
	"math/big"

	"swap-metrics-indexer/boff"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
)

// fetchLogs returns the contract's logs in the inclusive range [from, to].
func (ci *BlockIndexer) fetchLogs(ctx context.Context, from, to uint64) ([]types.Log, error) {
	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{ci.contract},
	}

	logs, err := boff.Retry(ctx, ci.policy, func() ([]types.Log, error) {
		ctx, cancelFunc := context.WithTimeout(ctx, ci.params.Timeout())
		defer cancelFunc()

		return ci.client.FilterLogs(ctx, query)
	}, "FilterLogs")
	if err != nil {
		return nil, errors.Wrapf(err, "ci.client.FilterLogs %d-%d", from, to)
	}

	filtered := logs[:0]
	for _, l := range logs {
		if l.Removed {
			continue
		}
		filtered = append(filtered, l)
	}

	return filtered, nil
}
