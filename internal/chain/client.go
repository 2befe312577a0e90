package chain

import (
	"context"
	"math/big"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"
)

// Caller abstracts read-only contract calls so venue adapters and the quote
// layer can be exercised against fakes in tests.
type Caller interface {
	Call(ctx context.Context, to common.Address, data []byte) ([]byte, error)
}

// Client wraps an ethclient for contract reads and gas pricing.
type Client struct {
	ec  *ethclient.Client
	log *zap.Logger
}

func Dial(rpcURL string, log *zap.Logger) (*Client, error) {
	ec, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, err
	}
	return &Client{ec: ec, log: log}, nil
}

func (c *Client) Call(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	return c.ec.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
}

// GasPrice returns an EIP-1559 style fee cap: 2*baseFee + tip, with fallbacks
// when the node does not expose a base fee.
func (c *Client) GasPrice(ctx context.Context) *big.Int {
	tip, _ := c.ec.SuggestGasTipCap(ctx)
	if tip == nil {
		tip = big.NewInt(2_000_000_000)
	}
	var baseFee *big.Int
	if h, _ := c.ec.HeaderByNumber(ctx, nil); h != nil && h.BaseFee != nil {
		baseFee = new(big.Int).Set(h.BaseFee)
	} else if sp, _ := c.ec.SuggestGasPrice(ctx); sp != nil {
		baseFee = sp
	} else {
		baseFee = big.NewInt(5_000_000_000)
	}
	return new(big.Int).Add(new(big.Int).Mul(baseFee, big.NewInt(2)), tip)
}

func (c *Client) Close() {
	if c.ec != nil {
		c.ec.Close()
	}
}
