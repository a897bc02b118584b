package chain

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	avxClient "github.com/ava-labs/coreth/ethclient"
	"github.com/ava-labs/coreth/interfaces"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethClient "github.com/ethereum/go-ethereum/ethclient"
	"github.com/pkg/errors"

	avxTypes "github.com/ava-labs/coreth/core/types"
	ethTypes "github.com/ethereum/go-ethereum/core/types"
)

// ChainType differentiates between node flavours that need a different
// client to decode their headers and transactions.
type ChainType int

const (
	ChainTypeAvax ChainType = iota + 1 // Add 1 to skip 0 - avoids the zero value defaulting to Avax
	ChainTypeEth
)

var errInvalidChain = errors.New("invalid chain")

func ParseChainType(s string) (ChainType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "eth":
		return ChainTypeEth, nil
	case "avax":
		return ChainTypeAvax, nil
	default:
		return 0, errors.Errorf("unknown chain type %q", s)
	}
}

func (t ChainType) String() string {
	switch t {
	case ChainTypeAvax:
		return "avax"
	case ChainTypeEth:
		return "eth"
	default:
		return fmt.Sprintf("ChainType(%d)", int(t))
	}
}

type Client struct {
	chain   ChainType
	chainID *big.Int
	eth     *ethClient.Client
	avx     avxClient.Client
}

// Header holds the block header fields the indexer needs, independent of
// the chain flavour.
type Header struct {
	Number uint64
	Hash   common.Hash
	Time   uint64
}

type Receipt struct {
	TxHash      common.Hash
	BlockNumber uint64
	GasUsed     uint64
	Status      uint64
}

// DialRPCNode connects to the node. chainID is used for sender recovery;
// call VerifyChainID to check it against the node.
func DialRPCNode(nodeURL string, chainType ChainType, chainID int64) (*Client, error) {
	c := &Client{chain: chainType, chainID: big.NewInt(chainID)}
	var err error

	switch c.chain {
	case ChainTypeAvax:
		c.avx, err = avxClient.Dial(nodeURL)
	case ChainTypeEth:
		c.eth, err = ethClient.Dial(nodeURL)
	default:
		return nil, errInvalidChain
	}
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", nodeURL)
	}

	return c, nil
}

func (c *Client) Close() {
	switch c.chain {
	case ChainTypeAvax:
		c.avx.Close()
	case ChainTypeEth:
		c.eth.Close()
	}
}

func (c *Client) Type() ChainType {
	return c.chain
}

func (c *Client) ChainID(ctx context.Context) (*big.Int, error) {
	switch c.chain {
	case ChainTypeAvax:
		return c.avx.ChainID(ctx)
	case ChainTypeEth:
		return c.eth.ChainID(ctx)
	default:
		return nil, errInvalidChain
	}
}

// VerifyChainID fails when the node reports a chain ID different from the
// configured one.
func (c *Client) VerifyChainID(ctx context.Context) error {
	nodeID, err := c.ChainID(ctx)
	if err != nil {
		return errors.Wrap(err, "ChainID")
	}

	if nodeID.Cmp(c.chainID) != 0 {
		return errors.Errorf("node chain id %s does not match configured chain id %s", nodeID, c.chainID)
	}

	return nil
}

func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	switch c.chain {
	case ChainTypeAvax:
		return c.avx.BlockNumber(ctx)
	case ChainTypeEth:
		return c.eth.BlockNumber(ctx)
	default:
		return 0, errInvalidChain
	}
}

func (c *Client) HeaderByNumber(ctx context.Context, number *big.Int) (*Header, error) {
	switch c.chain {
	case ChainTypeAvax:
		h, err := c.avx.HeaderByNumber(ctx, number)
		if err != nil {
			return nil, err
		}
		return &Header{Number: h.Number.Uint64(), Hash: h.Hash(), Time: h.Time}, nil
	case ChainTypeEth:
		h, err := c.eth.HeaderByNumber(ctx, number)
		if err != nil {
			return nil, err
		}
		return &Header{Number: h.Number.Uint64(), Hash: h.Hash(), Time: h.Time}, nil
	default:
		return nil, errInvalidChain
	}
}

func (c *Client) TransactionReceipt(ctx context.Context, txHash common.Hash) (*Receipt, error) {
	switch c.chain {
	case ChainTypeAvax:
		r, err := c.avx.TransactionReceipt(ctx, txHash)
		if err != nil {
			return nil, err
		}
		return &Receipt{TxHash: r.TxHash, BlockNumber: blockNumberOf(r.BlockNumber), GasUsed: r.GasUsed, Status: r.Status}, nil
	case ChainTypeEth:
		r, err := c.eth.TransactionReceipt(ctx, txHash)
		if err != nil {
			return nil, err
		}
		return &Receipt{TxHash: r.TxHash, BlockNumber: blockNumberOf(r.BlockNumber), GasUsed: r.GasUsed, Status: r.Status}, nil
	default:
		return nil, errInvalidChain
	}
}

// TransactionSender recovers the signer of a transaction using the
// configured chain ID.
func (c *Client) TransactionSender(ctx context.Context, txHash common.Hash) (common.Address, error) {
	switch c.chain {
	case ChainTypeAvax:
		tx, _, err := c.avx.TransactionByHash(ctx, txHash)
		if err != nil {
			return common.Address{}, err
		}
		return avxTypes.Sender(avxTypes.LatestSignerForChainID(c.chainID), tx)
	case ChainTypeEth:
		tx, _, err := c.eth.TransactionByHash(ctx, txHash)
		if err != nil {
			return common.Address{}, err
		}
		return ethTypes.Sender(ethTypes.LatestSignerForChainID(c.chainID), tx)
	default:
		return common.Address{}, errInvalidChain
	}
}

func (c *Client) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]ethTypes.Log, error) {
	switch c.chain {
	case ChainTypeAvax:
		avxLogs, err := c.avx.FilterLogs(ctx, interfaces.FilterQuery(q))
		if err != nil {
			return nil, err
		}
		logs := make([]ethTypes.Log, len(avxLogs))
		for i, e := range avxLogs {
			logs[i] = ethTypes.Log(e)
		}
		return logs, nil
	case ChainTypeEth:
		return c.eth.FilterLogs(ctx, q)
	default:
		return nil, errInvalidChain
	}
}

func blockNumberOf(n *big.Int) uint64 {
	if n == nil {
		return 0
	}
	return n.Uint64()
}
