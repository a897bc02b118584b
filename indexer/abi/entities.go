package abi

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

type SwapLog struct {
	TxHash      common.Hash
	LogIndex    uint
	BlockNumber uint64

	Sender      common.Address
	TokenIn     common.Address
	TokenOut    common.Address
	AmountIn    *big.Int
	AmountOut   *big.Int
	Destination common.Address
}
