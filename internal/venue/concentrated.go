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

const v3RouterABI = `[
 {"inputs":[{"components":[
   {"internalType":"address","name":"tokenIn","type":"address"},
   {"internalType":"address","name":"tokenOut","type":"address"},
   {"internalType":"uint24","name":"fee","type":"uint24"},
   {"internalType":"address","name":"recipient","type":"address"},
   {"internalType":"uint256","name":"deadline","type":"uint256"},
   {"internalType":"uint256","name":"amountIn","type":"uint256"},
   {"internalType":"uint256","name":"amountOutMinimum","type":"uint256"},
   {"internalType":"uint160","name":"sqrtPriceLimitX96","type":"uint160"}],
  "internalType":"struct ISwapRouter.ExactInputSingleParams","name":"params","type":"tuple"}],
  "name":"exactInputSingle","outputs":[{"internalType":"uint256","name":"amountOut","type":"uint256"}],"stateMutability":"payable","type":"function"}
]`

// Concentrated drives Uniswap-V3-style routers: single-hop exact input with
// no price-limit constraint (sqrtPriceLimitX96 = 0).
type Concentrated struct {
	c   chain.Caller
	abi abi.ABI
	log *zap.Logger
}

func NewConcentrated(c chain.Caller, log *zap.Logger) *Concentrated {
	rABI, err := abi.JSON(strings.NewReader(v3RouterABI))
	if err != nil {
		panic(err)
	}
	return &Concentrated{c: c, abi: rABI, log: log}
}

type exactInputSingleParams struct {
	TokenIn           common.Address
	TokenOut          common.Address
	Fee               *big.Int
	Recipient         common.Address
	Deadline          *big.Int
	AmountIn          *big.Int
	AmountOutMinimum  *big.Int
	SqrtPriceLimitX96 *big.Int
}

func (a *Concentrated) Swap(ctx context.Context, hop Hop) (*big.Int, common.Address, error) {
	p, err := swapdata.DecodeConcentrated(hop.Data)
	if err != nil {
		return nil, common.Address{}, err
	}

	params := exactInputSingleParams{
		TokenIn:           hop.TokenIn,
		TokenOut:          p.TokenOut,
		Fee:               big.NewInt(int64(p.Fee)),
		Recipient:         hop.Recipient,
		Deadline:          big.NewInt(time.Now().Add(5 * time.Minute).Unix()),
		AmountIn:          hop.AmountIn,
		AmountOutMinimum:  big.NewInt(0),
		SqrtPriceLimitX96: big.NewInt(0),
	}
	data, err := a.abi.Pack("exactInputSingle", params)
	if err != nil {
		return nil, common.Address{}, fmt.Errorf("pack exactInputSingle: %w", err)
	}

	raw, err := a.c.Call(ctx, hop.Venue.Router, data)
	if err != nil {
		return nil, common.Address{}, fmt.Errorf("venue %s swap: %w", hop.Venue.Name, err)
	}
	outs, err := a.abi.Methods["exactInputSingle"].Outputs.Unpack(raw)
	if err != nil || len(outs) == 0 {
		return nil, common.Address{}, errors.New("decode exactInputSingle output")
	}
	out := outs[0].(*big.Int)

	if p.MinOut != nil && p.MinOut.Sign() > 0 && out.Cmp(p.MinOut) < 0 {
		return nil, common.Address{}, fmt.Errorf("%w: got %s want >= %s", ErrInsufficientHopOutput, out, p.MinOut)
	}
	a.log.Debug("concentrated hop",
		zap.String("venue", hop.Venue.Name),
		zap.Uint32("fee", p.Fee),
		zap.String("amount_out", out.String()),
	)
	return out, p.TokenOut, nil
}
