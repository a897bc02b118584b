package indexer

import (
	"context"
	"math/big"
	"sync"

	"swap-metrics-indexer/chain"
	"swap-metrics-indexer/indexer/abi"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
)

const fakeGenesisTime = 1700000000

var (
	testContract = common.HexToAddress("0x1000000000000000000000000000000000000001")

	// checksummed forms of these are mixed case
	tokenA    = common.HexToAddress("0xdbF03B407c01E7cD3CBea99509d93f8DDDC8C6FB")
	tokenB    = common.HexToAddress("0xD1220A0cf47c7B9Be7A2E6BA89F429762e7b9aDb")
	userAlice = common.HexToAddress("0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed")
	userBob   = common.HexToAddress("0xfB6916095ca1df60bB79Ce92cE3Ea74c37c5d359")
)

// fakeChain serves logs, receipts, headers and senders from memory.
type fakeChain struct {
	mu sync.Mutex

	head     uint64
	logs     []types.Log
	receipts map[common.Hash]*chain.Receipt
	senders  map[common.Hash]common.Address
	txCount  int64
	logIndex map[uint64]uint

	filterCalls    [][2]uint64
	failFilterFrom map[uint64]bool
	brokenTxs      map[common.Hash]bool
	receiptCalls   int

	// when set, BlockNumber signals headCalled and waits for headRelease
	headCalled  chan struct{}
	headRelease chan struct{}
}

func newFakeChain(head uint64) *fakeChain {
	return &fakeChain{
		head:           head,
		receipts:       make(map[common.Hash]*chain.Receipt),
		senders:        make(map[common.Hash]common.Address),
		logIndex:       make(map[uint64]uint),
		failFilterFrom: make(map[uint64]bool),
		brokenTxs:      make(map[common.Hash]bool),
	}
}

func (f *fakeChain) addTx(block uint64, sender common.Address, gasUsed uint64, swaps int, otherLogs int) common.Hash {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.txCount++
	txHash := common.BigToHash(big.NewInt(f.txCount))

	for i := 0; i < swaps; i++ {
		idx := f.logIndex[block]
		f.logIndex[block]++
		l, err := abi.EncodeSwap(testContract, &abi.SwapLog{
			TxHash:      txHash,
			LogIndex:    idx,
			BlockNumber: block,
			Sender:      sender,
			TokenIn:     tokenA,
			TokenOut:    tokenB,
			AmountIn:    big.NewInt(int64(1000 * (i + 1))),
			AmountOut:   big.NewInt(int64(990 * (i + 1))),
			Destination: sender,
		})
		if err != nil {
			panic(err)
		}
		f.logs = append(f.logs, l)
	}
	for i := 0; i < otherLogs; i++ {
		idx := f.logIndex[block]
		f.logIndex[block]++
		f.logs = append(f.logs, types.Log{
			Address:     testContract,
			Topics:      []common.Hash{common.HexToHash("0xdeadbeef")},
			BlockNumber: block,
			TxHash:      txHash,
			Index:       idx,
		})
	}

	f.receipts[txHash] = &chain.Receipt{TxHash: txHash, BlockNumber: block, GasUsed: gasUsed, Status: 1}
	f.senders[txHash] = sender

	return txHash
}

func (f *fakeChain) setHead(head uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.head = head
}

func (f *fakeChain) failFilterAt(from uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failFilterFrom[from] = true
}

func (f *fakeChain) breakTx(txHash common.Hash) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.brokenTxs[txHash] = true
}

func (f *fakeChain) filterQueries() [][2]uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][2]uint64{}, f.filterCalls...)
}

func (f *fakeChain) resetQueries() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.filterCalls = nil
}

func (f *fakeChain) holdHead() (called, release chan struct{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.headCalled = make(chan struct{}, 1)
	f.headRelease = make(chan struct{})
	return f.headCalled, f.headRelease
}

func (f *fakeChain) BlockNumber(ctx context.Context) (uint64, error) {
	f.mu.Lock()
	called, release := f.headCalled, f.headRelease
	f.headCalled, f.headRelease = nil, nil
	f.mu.Unlock()

	if called != nil {
		called <- struct{}{}
		select {
		case <-release:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	return f.head, nil
}

func (f *fakeChain) HeaderByNumber(ctx context.Context, number *big.Int) (*chain.Header, error) {
	n := number.Uint64()
	return &chain.Header{
		Number: n,
		Hash:   common.BigToHash(number),
		Time:   fakeGenesisTime + n*12,
	}, nil
}

func (f *fakeChain) TransactionReceipt(ctx context.Context, txHash common.Hash) (*chain.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.receiptCalls++
	if f.brokenTxs[txHash] {
		return nil, errors.New("receipt unavailable")
	}
	r, ok := f.receipts[txHash]
	if !ok {
		return nil, ethereum.NotFound
	}
	return r, nil
}

func (f *fakeChain) TransactionSender(ctx context.Context, txHash common.Hash) (common.Address, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	s, ok := f.senders[txHash]
	if !ok {
		return common.Address{}, ethereum.NotFound
	}
	return s, nil
}

func (f *fakeChain) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	from, to := q.FromBlock.Uint64(), q.ToBlock.Uint64()
	f.filterCalls = append(f.filterCalls, [2]uint64{from, to})
	if f.failFilterFrom[from] {
		return nil, errors.Errorf("node unavailable for %d-%d", from, to)
	}

	var logs []types.Log
	for _, l := range f.logs {
		if l.BlockNumber >= from && l.BlockNumber <= to && l.Address == q.Addresses[0] {
			logs = append(logs, l)
		}
	}
	return logs, nil
}
