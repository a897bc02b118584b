package indexer

import (
	"context"
	"math/big"

	"swap-metrics-indexer/boff"
	"swap-metrics-indexer/chain"

	"github.com/pkg/errors"
)

// Window is an inclusive block range.
type Window struct {
	From uint64
	To   uint64
}

// windowIterator walks [lower, upper] in ascending windows of size blocks,
// producing one window at a time.
type windowIterator struct {
	next  uint64
	upper uint64
	size  uint64
	done  bool
}

func newWindowIterator(lower, upper, size uint64) *windowIterator {
	if size == 0 {
		size = 1
	}
	return &windowIterator{next: lower, upper: upper, size: size, done: lower > upper}
}

// Next returns the following window; the last one ends at upper.
func (it *windowIterator) Next() (Window, bool) {
	if it.done {
		return Window{}, false
	}

	from, to := it.next, it.upper
	if it.upper-from >= it.size {
		to = from + it.size - 1
	}
	if to == it.upper {
		it.done = true
	} else {
		it.next = to + 1
	}

	return Window{From: from, To: to}, true
}

// windowCount is the number of windows Next will produce.
func windowCount(lower, upper, size uint64) uint64 {
	if lower > upper {
		return 0
	}
	if size == 0 {
		size = 1
	}
	return (upper-lower)/size + 1
}

// Partition splits [lower, upper] into ascending windows of size blocks;
// the last window ends at upper.
func Partition(lower, upper, size uint64) []Window {
	var windows []Window
	it := newWindowIterator(lower, upper, size)
	for w, ok := it.Next(); ok; w, ok = it.Next() {
		windows = append(windows, w)
	}
	return windows
}

func (ci *BlockIndexer) fetchHead(ctx context.Context) (uint64, error) {
	head, err := boff.Retry(ctx, ci.policy, func() (uint64, error) {
		ctx, cancelFunc := context.WithTimeout(ctx, ci.params.Timeout())
		defer cancelFunc()

		return ci.client.BlockNumber(ctx)
	}, "BlockNumber")
	if err != nil {
		return 0, errors.Wrap(err, "ci.client.BlockNumber")
	}

	return head, nil
}

func (ci *BlockIndexer) fetchBlockHeader(ctx context.Context, number uint64) (*chain.Header, error) {
	header, err := boff.Retry(ctx, ci.policy, func() (*chain.Header, error) {
		ctx, cancelFunc := context.WithTimeout(ctx, ci.params.Timeout())
		defer cancelFunc()

		return ci.client.HeaderByNumber(ctx, new(big.Int).SetUint64(number))
	}, "HeaderByNumber")
	if err != nil {
		return nil, errors.Wrap(err, "ci.client.HeaderByNumber")
	}

	return header, nil
}
