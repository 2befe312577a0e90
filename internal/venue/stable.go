package venue

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/you/flasharb/internal/chain"
	"github.com/you/flasharb/internal/swapdata"
	"go.uber.org/zap"
)

const stablePoolABI = `[
 {"inputs":[{"internalType":"int128","name":"i","type":"int128"},{"internalType":"int128","name":"j","type":"int128"},{"internalType":"uint256","name":"dx","type":"uint256"},{"internalType":"uint256","name":"min_dy","type":"uint256"}],"name":"exchange","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"nonpayable","type":"function"},
 {"inputs":[{"internalType":"int128","name":"i","type":"int128"},{"internalType":"int128","name":"j","type":"int128"},{"internalType":"uint256","name":"dx","type":"uint256"},{"internalType":"uint256","name":"min_dy","type":"uint256"}],"name":"exchange_underlying","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"nonpayable","type":"function"}
]`

// Stable drives Curve-style pools with integer coin indexes. Stable pools
// are assumed to be single-pair terminal hops: the hop's output token is
// forced to the arbitrage's overall tokenOut regardless of the coin index
// the venue-side call actually pays out. Callers must only route stable
// hops whose j index provably maps to that token.
type Stable struct {
	c   chain.Caller
	abi abi.ABI
	log *zap.Logger
}

func NewStable(c chain.Caller, log *zap.Logger) *Stable {
	pABI, err := abi.JSON(strings.NewReader(stablePoolABI))
	if err != nil {
		panic(err)
	}
	return &Stable{c: c, abi: pABI, log: log}
}

func (a *Stable) Swap(ctx context.Context, hop Hop) (*big.Int, common.Address, error) {
	p, err := swapdata.DecodeStable(hop.Data)
	if err != nil {
		return nil, common.Address{}, err
	}

	method := "exchange"
	if p.UseUnderlying {
		method = "exchange_underlying"
	}
	data, err := a.abi.Pack(method, big.NewInt(p.IndexIn), big.NewInt(p.IndexOut), hop.AmountIn, big.NewInt(0))
	if err != nil {
		return nil, common.Address{}, fmt.Errorf("pack %s: %w", method, err)
	}

	raw, err := a.c.Call(ctx, hop.Venue.Router, data)
	if err != nil {
		return nil, common.Address{}, fmt.Errorf("venue %s %s: %w", hop.Venue.Name, method, err)
	}
	outs, err := a.abi.Methods[method].Outputs.Unpack(raw)
	if err != nil || len(outs) == 0 {
		return nil, common.Address{}, errors.New("decode exchange output")
	}
	out := outs[0].(*big.Int)

	if p.MinOut != nil && p.MinOut.Sign() > 0 && out.Cmp(p.MinOut) < 0 {
		return nil, common.Address{}, fmt.Errorf("%w: got %s want >= %s", ErrInsufficientHopOutput, out, p.MinOut)
	}
	a.log.Debug("stable hop",
		zap.String("venue", hop.Venue.Name),
		zap.Int64("i", p.IndexIn),
		zap.Int64("j", p.IndexOut),
		zap.Bool("underlying", p.UseUnderlying),
		zap.String("amount_out", out.String()),
	)
	return out, hop.ArbTokenOut, nil
}
