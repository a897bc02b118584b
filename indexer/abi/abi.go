package abi

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

const (
	SwapEventName string = "Swap"

	swapTopicCount = 4
)

//go:embed contracts/SwapRouter.json
var swapRouterContract []byte

var (
	SwapRouterAbi abi.ABI
	SwapEvent     abi.Event
	// SwapEventID is topic0 of every Swap log.
	SwapEventID common.Hash
)

func init() {
	var err error
	SwapRouterAbi, err = parseContractAbi(swapRouterContract)
	if err != nil {
		panic(fmt.Sprintf("swap router abi: %v", err))
	}

	SwapEvent = SwapRouterAbi.Events[SwapEventName]
	SwapEventID = SwapEvent.ID
}

func parseContractAbi(contract []byte) (abi.ABI, error) {
	var objMap map[string]json.RawMessage
	if err := json.Unmarshal(contract, &objMap); err != nil {
		return abi.ABI{}, err
	}

	return abi.JSON(strings.NewReader(string(objMap["abi"])))
}

// IsSwap reports whether topic0 belongs to the Swap event.
func IsSwap(log *types.Log) bool {
	return log != nil && len(log.Topics) > 0 && log.Topics[0] == SwapEventID
}

// DecodeSwap turns a raw log into a SwapLog. Logs of other events and
// logs that do not unpack against the Swap layout yield ok == false.
func DecodeSwap(log *types.Log) (swap *SwapLog, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			swap, ok = nil, false
		}
	}()

	if !IsSwap(log) || len(log.Topics) != swapTopicCount {
		return nil, false
	}

	values := make(map[string]interface{})
	if err := SwapEvent.Inputs.UnpackIntoMap(values, log.Data); err != nil {
		return nil, false
	}

	var indexed abi.Arguments
	for _, arg := range SwapEvent.Inputs {
		if arg.Indexed {
			indexed = append(indexed, arg)
		}
	}
	if err := abi.ParseTopicsIntoMap(values, indexed, log.Topics[1:]); err != nil {
		return nil, false
	}

	swap = &SwapLog{
		TxHash:      log.TxHash,
		LogIndex:    log.Index,
		BlockNumber: log.BlockNumber,
	}
	if swap.Sender, ok = values["sender"].(common.Address); !ok {
		return nil, false
	}
	if swap.TokenIn, ok = values["tokenIn"].(common.Address); !ok {
		return nil, false
	}
	if swap.TokenOut, ok = values["tokenOut"].(common.Address); !ok {
		return nil, false
	}
	if swap.Destination, ok = values["destination"].(common.Address); !ok {
		return nil, false
	}
	if swap.AmountIn, ok = values["amountIn"].(*big.Int); !ok {
		return nil, false
	}
	if swap.AmountOut, ok = values["amountOut"].(*big.Int); !ok {
		return nil, false
	}

	return swap, true
}

// EncodeSwap builds the raw log a contract at address would emit for swap.
func EncodeSwap(address common.Address, swap *SwapLog) (types.Log, error) {
	data, err := SwapEvent.Inputs.NonIndexed().Pack(swap.AmountIn, swap.AmountOut, swap.Destination)
	if err != nil {
		return types.Log{}, fmt.Errorf("EncodeSwap: %w", err)
	}

	return types.Log{
		Address: address,
		Topics: []common.Hash{
			SwapEventID,
			common.BytesToHash(swap.Sender.Bytes()),
			common.BytesToHash(swap.TokenIn.Bytes()),
			common.BytesToHash(swap.TokenOut.Bytes()),
		},
		Data:        data,
		BlockNumber: swap.BlockNumber,
		TxHash:      swap.TxHash,
		Index:       swap.LogIndex,
	}, nil
}
