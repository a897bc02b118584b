package testing

import (
	"context"
	"math/big"
	"testing"

	"swap-metrics-indexer/indexer/abi"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockChain(t *testing.T) {
	mock := NewMockChain(14, 20)
	server := mock.NewServer()
	defer server.Close()

	contract := common.HexToAddress("0x1000000000000000000000000000000000000001")
	alice := NewAccount("alice")

	txHash, err := mock.AddTransaction(alice, contract, 5, 21000, []*abi.SwapLog{{
		Sender:    alice.Address,
		TokenIn:   common.HexToAddress("0xaa"),
		TokenOut:  common.HexToAddress("0xbb"),
		AmountIn:  big.NewInt(100),
		AmountOut: big.NewInt(90),
	}})
	require.NoError(t, err)

	client, err := ethclient.Dial(server.URL)
	require.NoError(t, err)
	defer client.Close()

	ctx := context.Background()

	head, err := client.BlockNumber(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(20), head)

	header, err := client.HeaderByNumber(ctx, big.NewInt(5))
	require.NoError(t, err)
	assert.Equal(t, GenesisTime+5*BlockTime, header.Time)

	_, err = client.HeaderByNumber(ctx, big.NewInt(21))
	require.ErrorIs(t, err, ethereum.NotFound)

	logs, err := client.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: big.NewInt(0),
		ToBlock:   big.NewInt(10),
		Addresses: []common.Address{contract},
	})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, txHash, logs[0].TxHash)
	assert.Equal(t, [][2]uint64{{0, 10}}, mock.LogQueries())

	receipt, err := client.TransactionReceipt(ctx, txHash)
	require.NoError(t, err)
	assert.Equal(t, uint64(21000), receipt.GasUsed)

	tx, _, err := client.TransactionByHash(ctx, txHash)
	require.NoError(t, err)
	sender, err := types.Sender(types.LatestSignerForChainID(big.NewInt(14)), tx)
	require.NoError(t, err)
	assert.Equal(t, alice.Address, sender)
}

func TestMockChainInjectedFailures(t *testing.T) {
	mock := NewMockChain(14, 3)
	server := mock.NewServer()
	defer server.Close()

	client, err := ethclient.Dial(server.URL)
	require.NoError(t, err)
	defer client.Close()

	mock.FailNext("eth_blockNumber", 1)

	_, err = client.BlockNumber(context.Background())
	require.Error(t, err)

	head, err := client.BlockNumber(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(3), head)
	assert.Equal(t, 2, mock.Calls("eth_blockNumber"))
}
