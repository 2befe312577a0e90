// Package venue provides a uniform swap interface over heterogeneous
// liquidity venues. Each venue type decodes its own hop parameters and
// speaks its own router call shape; the engine only sees (amountOut,
// tokenOut).
package venue

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/you/flasharb/internal/chain"
	"github.com/you/flasharb/internal/types"
	"go.uber.org/zap"
)

var (
	// ErrInsufficientHopOutput aborts the whole settlement: a venue returned
	// less than the hop's declared minimum output.
	ErrInsufficientHopOutput = errors.New("venue: insufficient hop output")
	ErrUnsupportedVenueType  = errors.New("venue: unsupported venue type")
)

// Hop is one swap in the settlement sequence.
type Hop struct {
	Venue     types.VenueInfo
	TokenIn   common.Address
	AmountIn  *big.Int
	Data      []byte // opaque per-hop parameters, see swapdata
	Recipient common.Address
	// ArbTokenOut is the overall tokenOut of the arbitrage. Stable-swap hops
	// force their output token to this value (terminal-hop assumption).
	ArbTokenOut common.Address
}

// Adapter executes one hop against a venue of its type.
type Adapter interface {
	Swap(ctx context.Context, hop Hop) (amountOut *big.Int, tokenOut common.Address, err error)
}

// Dispatch builds the venue-type dispatch table over a shared caller.
func Dispatch(c chain.Caller, log *zap.Logger) map[types.VenueType]Adapter {
	return map[types.VenueType]Adapter{
		types.ConstantProduct:       NewConstantProduct(c, log),
		types.ConcentratedLiquidity: NewConcentrated(c, log),
		types.StableSwap:            NewStable(c, log),
	}
}
