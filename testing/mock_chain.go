package testing

import (
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	"swap-metrics-indexer/indexer/abi"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"
)

const (
	GenesisTime uint64 = 1700000000
	BlockTime   uint64 = 12
)

// MockChain is an in-memory EVM node answering the JSON-RPC calls the
// indexer makes.
type MockChain struct {
	mu sync.RWMutex

	chainID  *big.Int
	signer   types.Signer
	head     uint64
	times    map[uint64]uint64
	logs     []types.Log
	receipts map[common.Hash]*types.Receipt
	txs      map[common.Hash]*types.Transaction
	nonces   map[common.Address]uint64
	logIndex map[uint64]uint

	failNext   map[string]int
	brokenTxs  map[common.Hash]bool
	calls      map[string]int
	logQueries [][2]uint64
}

type Account struct {
	Key     *ecdsa.PrivateKey
	Address common.Address
}

// NewAccount derives a deterministic key from seed.
func NewAccount(seed string) Account {
	key, err := crypto.ToECDSA(crypto.Keccak256([]byte(seed)))
	if err != nil {
		panic(err)
	}
	return Account{Key: key, Address: crypto.PubkeyToAddress(key.PublicKey)}
}

func NewMockChain(chainID int64, head uint64) *MockChain {
	id := big.NewInt(chainID)
	return &MockChain{
		chainID:   id,
		signer:    types.LatestSignerForChainID(id),
		head:      head,
		times:     make(map[uint64]uint64),
		receipts:  make(map[common.Hash]*types.Receipt),
		txs:       make(map[common.Hash]*types.Transaction),
		nonces:    make(map[common.Address]uint64),
		logIndex:  make(map[uint64]uint),
		failNext:  make(map[string]int),
		brokenTxs: make(map[common.Hash]bool),
		calls:     make(map[string]int),
	}
}

func (m *MockChain) SetHead(head uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.head = head
}

func (m *MockChain) Head() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.head
}

// SetBlockTime overrides the default GenesisTime + number*BlockTime.
func (m *MockChain) SetBlockTime(number, timestamp uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.times[number] = timestamp
}

// AddTransaction signs a transaction from sender mined in block number and
// attaches one log per swap, emitted by contract. extra logs are appended
// as they are, with tx hash and indexes filled in.
func (m *MockChain) AddTransaction(
	sender Account, contract common.Address, number, gasUsed uint64, swaps []*abi.SwapLog, extra ...types.Log,
) (common.Hash, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	nonce := m.nonces[sender.Address]
	m.nonces[sender.Address] = nonce + 1

	tx, err := types.SignNewTx(sender.Key, m.signer, &types.LegacyTx{
		Nonce:    nonce,
		To:       &contract,
		Gas:      gasUsed,
		GasPrice: big.NewInt(25_000_000_000),
		Value:    big.NewInt(0),
	})
	if err != nil {
		return common.Hash{}, errors.Wrap(err, "SignNewTx")
	}
	txHash := tx.Hash()

	var txLogs []*types.Log
	for _, swap := range swaps {
		swap.TxHash = txHash
		swap.BlockNumber = number
		swap.LogIndex = m.nextLogIndex(number)
		l, err := abi.EncodeSwap(contract, swap)
		if err != nil {
			return common.Hash{}, err
		}
		txLogs = append(txLogs, &l)
	}
	for i := range extra {
		l := extra[i]
		l.TxHash = txHash
		l.BlockNumber = number
		l.Index = m.nextLogIndex(number)
		txLogs = append(txLogs, &l)
	}

	blockHash := m.blockHash(number)
	for _, l := range txLogs {
		l.BlockHash = blockHash
		m.logs = append(m.logs, *l)
	}

	m.txs[txHash] = tx
	m.receipts[txHash] = &types.Receipt{
		Type:              types.LegacyTxType,
		Status:            types.ReceiptStatusSuccessful,
		CumulativeGasUsed: gasUsed,
		Logs:              append([]*types.Log{}, txLogs...),
		TxHash:            txHash,
		GasUsed:           gasUsed,
		EffectiveGasPrice: big.NewInt(25_000_000_000),
		BlockHash:         blockHash,
		BlockNumber:       new(big.Int).SetUint64(number),
	}

	return txHash, nil
}

func (m *MockChain) nextLogIndex(number uint64) uint {
	idx := m.logIndex[number]
	m.logIndex[number] = idx + 1
	return idx
}

// FailNext makes the next n calls of method return an RPC error.
func (m *MockChain) FailNext(method string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNext[method] = n
}

// BreakTransaction makes every receipt lookup for txHash fail.
func (m *MockChain) BreakTransaction(txHash common.Hash) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.brokenTxs[txHash] = true
}

func (m *MockChain) Calls(method string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.calls[method]
}

// LogQueries returns the [from, to] ranges requested through eth_getLogs.
func (m *MockChain) LogQueries() [][2]uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([][2]uint64{}, m.logQueries...)
}

func (m *MockChain) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/", m.ChainMockResponses).Methods(http.MethodPost)
	return r
}

// NewServer starts an HTTP server for the mock; the caller closes it.
func (m *MockChain) NewServer() *httptest.Server {
	return httptest.NewServer(m.Handler())
}

type rpcRequest struct {
	ID     json.RawMessage   `json:"id"`
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	Version string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

func (m *MockChain) ChainMockResponses(writer http.ResponseWriter, request *http.Request) {
	body, err := io.ReadAll(request.Body)
	if err != nil {
		http.Error(writer, "Invalid request body", http.StatusBadRequest)
		return
	}

	var req rpcRequest
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(writer, "Invalid json", http.StatusBadRequest)
		return
	}

	result, err := m.call(req.Method, req.Params)

	resp := rpcResponse{Version: "2.0", ID: req.ID}
	if err == nil {
		// a missing object is encoded as an explicit null result
		resp.Result, err = json.Marshal(result)
	}
	if err != nil {
		resp.Error = &rpcError{Code: -32000, Message: err.Error()}
	}

	writer.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(writer).Encode(resp); err != nil {
		fmt.Printf("Error returning response: %v\n", err)
	}
}

func (m *MockChain) call(method string, params []json.RawMessage) (interface{}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls[method]++
	if m.failNext[method] > 0 {
		m.failNext[method]--
		return nil, errors.Errorf("injected %s failure", method)
	}

	switch method {
	case "eth_chainId":
		return (*hexutil.Big)(m.chainID), nil
	case "eth_blockNumber":
		return hexutil.Uint64(m.head), nil
	case "eth_getBlockByNumber":
		return m.getHeader(params)
	case "eth_getLogs":
		return m.getLogs(params)
	case "eth_getTransactionReceipt":
		return m.getReceipt(params)
	case "eth_getTransactionByHash":
		return m.getTransaction(params)
	default:
		return nil, errors.Errorf("method %s not supported", method)
	}
}

func (m *MockChain) blockHash(number uint64) common.Hash {
	return crypto.Keccak256Hash([]byte(fmt.Sprintf("block-%d", number)))
}

func (m *MockChain) blockTime(number uint64) uint64 {
	if t, ok := m.times[number]; ok {
		return t
	}
	return GenesisTime + number*BlockTime
}

func (m *MockChain) parseBlockNumber(raw json.RawMessage) (uint64, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, err
	}
	switch s {
	case "latest", "finalized", "safe", "pending":
		return m.head, nil
	case "earliest":
		return 0, nil
	}
	return hexutil.DecodeUint64(s)
}

func (m *MockChain) getHeader(params []json.RawMessage) (interface{}, error) {
	if len(params) == 0 {
		return nil, errors.New("missing block number")
	}
	number, err := m.parseBlockNumber(params[0])
	if err != nil {
		return nil, err
	}
	if number > m.head {
		return nil, nil
	}

	header := &types.Header{
		ParentHash: m.blockHash(number - 1),
		Number:     new(big.Int).SetUint64(number),
		Time:       m.blockTime(number),
		Difficulty: big.NewInt(1),
		GasLimit:   8_000_000,
	}

	raw, err := header.MarshalJSON()
	if err != nil {
		return nil, err
	}

	var fields map[string]interface{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	fields["transactions"] = []interface{}{}

	return fields, nil
}

type filterArg struct {
	Address   json.RawMessage `json:"address"`
	FromBlock json.RawMessage `json:"fromBlock"`
	ToBlock   json.RawMessage `json:"toBlock"`
}

func parseAddresses(raw json.RawMessage) ([]common.Address, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	if strings.HasPrefix(string(raw), "[") {
		var addresses []common.Address
		err := json.Unmarshal(raw, &addresses)
		return addresses, err
	}
	var address common.Address
	err := json.Unmarshal(raw, &address)
	return []common.Address{address}, err
}

func (m *MockChain) getLogs(params []json.RawMessage) (interface{}, error) {
	if len(params) == 0 {
		return nil, errors.New("missing filter")
	}

	var arg filterArg
	if err := json.Unmarshal(params[0], &arg); err != nil {
		return nil, err
	}
	addresses, err := parseAddresses(arg.Address)
	if err != nil {
		return nil, err
	}
	from, err := m.parseBlockNumber(arg.FromBlock)
	if err != nil {
		return nil, err
	}
	to, err := m.parseBlockNumber(arg.ToBlock)
	if err != nil {
		return nil, err
	}

	m.logQueries = append(m.logQueries, [2]uint64{from, to})

	logs := make([]types.Log, 0)
	for _, l := range m.logs {
		if l.BlockNumber < from || l.BlockNumber > to {
			continue
		}
		if len(addresses) > 0 && !containsAddress(addresses, l.Address) {
			continue
		}
		logs = append(logs, l)
	}

	return logs, nil
}

func containsAddress(addresses []common.Address, a common.Address) bool {
	for _, addr := range addresses {
		if addr == a {
			return true
		}
	}
	return false
}

func parseHash(params []json.RawMessage) (common.Hash, error) {
	if len(params) == 0 {
		return common.Hash{}, errors.New("missing hash")
	}
	var h common.Hash
	err := json.Unmarshal(params[0], &h)
	return h, err
}

func (m *MockChain) getReceipt(params []json.RawMessage) (interface{}, error) {
	txHash, err := parseHash(params)
	if err != nil {
		return nil, err
	}
	if m.brokenTxs[txHash] {
		return nil, errors.Errorf("receipt for %s unavailable", txHash.Hex())
	}

	receipt, ok := m.receipts[txHash]
	if !ok {
		return nil, nil
	}
	return receipt, nil
}

func (m *MockChain) getTransaction(params []json.RawMessage) (interface{}, error) {
	txHash, err := parseHash(params)
	if err != nil {
		return nil, err
	}

	tx, ok := m.txs[txHash]
	if !ok {
		return nil, nil
	}
	receipt := m.receipts[txHash]

	raw, err := tx.MarshalJSON()
	if err != nil {
		return nil, err
	}
	var fields map[string]interface{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	fields["blockHash"] = receipt.BlockHash
	fields["blockNumber"] = (*hexutil.Big)(receipt.BlockNumber)
	fields["transactionIndex"] = hexutil.Uint64(0)

	return fields, nil
}
