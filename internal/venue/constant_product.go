package venue

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/you/flasharb/internal/chain"
	"github.com/you/flasharb/internal/swapdata"
	"go.uber.org/zap"
)

const v2RouterABI = `[
 {"inputs":[{"internalType":"uint256","name":"amountIn","type":"uint256"},{"internalType":"uint256","name":"amountOutMin","type":"uint256"},{"internalType":"address[]","name":"path","type":"address[]"},{"internalType":"address","name":"to","type":"address"},{"internalType":"uint256","name":"deadline","type":"uint256"}],"name":"swapExactTokensForTokens","outputs":[{"internalType":"uint256[]","name":"amounts","type":"uint256[]"}],"stateMutability":"nonpayable","type":"function"}
]`

// ConstantProduct drives Uniswap-V2-style routers: a two-token exact-input
// path, output read as the last element of the returned amounts array.
type ConstantProduct struct {
	c   chain.Caller
	abi abi.ABI
	log *zap.Logger
}

func NewConstantProduct(c chain.Caller, log *zap.Logger) *ConstantProduct {
	rABI, err := abi.JSON(strings.NewReader(v2RouterABI))
	if err != nil {
		panic(err)
	}
	return &ConstantProduct{c: c, abi: rABI, log: log}
}

func (a *ConstantProduct) Swap(ctx context.Context, hop Hop) (*big.Int, common.Address, error) {
	p, err := swapdata.DecodeConstantProduct(hop.Data)
	if err != nil {
		return nil, common.Address{}, err
	}

	path := []common.Address{hop.TokenIn, p.TokenOut}
	deadline := big.NewInt(time.Now().Add(5 * time.Minute).Unix())
	data, err := a.abi.Pack("swapExactTokensForTokens", hop.AmountIn, big.NewInt(0), path, hop.Recipient, deadline)
	if err != nil {
		return nil, common.Address{}, fmt.Errorf("pack swapExactTokensForTokens: %w", err)
	}

	raw, err := a.c.Call(ctx, hop.Venue.Router, data)
	if err != nil {
		return nil, common.Address{}, fmt.Errorf("venue %s swap: %w", hop.Venue.Name, err)
	}
	outs, err := a.abi.Methods["swapExactTokensForTokens"].Outputs.Unpack(raw)
	if err != nil || len(outs) == 0 {
		return nil, common.Address{}, errors.New("decode swap amounts")
	}
	amounts := outs[0].([]*big.Int)
	if len(amounts) < 2 {
		return nil, common.Address{}, errors.New("bad amounts length")
	}
	out := amounts[len(amounts)-1]

	if p.MinOut != nil && p.MinOut.Sign() > 0 && out.Cmp(p.MinOut) < 0 {
		return nil, common.Address{}, fmt.Errorf("%w: got %s want >= %s", ErrInsufficientHopOutput, out, p.MinOut)
	}
	a.log.Debug("constant-product hop",
		zap.String("venue", hop.Venue.Name),
		zap.String("amount_in", hop.AmountIn.String()),
		zap.String("amount_out", out.String()),
	)
	return out, p.TokenOut, nil
}
