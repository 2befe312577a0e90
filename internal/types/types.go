package types

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

type VenueType string

const (
	ConstantProduct       VenueType = "constant_product"
	ConcentratedLiquidity VenueType = "concentrated_liquidity"
	StableSwap            VenueType = "stable_swap"
	Custom                VenueType = "custom"
)

// VenueInfo is one registry entry, keyed by the router address.
type VenueInfo struct {
	Router common.Address
	Type   VenueType
	Name   string
	Active bool
}

// ArbitrageParams describes one atomic settlement attempt. Immutable once
// built; consumed exactly once by the engine.
type ArbitrageParams struct {
	TokenIn      common.Address
	TokenOut     common.Address
	AmountIn     *big.Int
	MinAmountOut *big.Int
	Venues       []common.Address
	SwapData     [][]byte // one opaque blob per hop, len == len(Venues)
	Deadline     int64    // unix seconds
	Recipient    common.Address
}

// LoanContext lives only inside the capital-source callback scope.
type LoanContext struct {
	BorrowedAsset  common.Address
	BorrowedAmount *big.Int
	Premium        *big.Int
	Initiator      common.Address
}

// PriceDenom is the fixed-point denominator all venue prices are scaled to.
const PriceDenom = 1_000_000

// PriceQuote is a freshly derived spot price for one venue. Never cached
// across polling cycles.
type PriceQuote struct {
	Venue             common.Address
	Price             *big.Int // quote-per-base, scaled by PriceDenom
	LiquidityEstimate *big.Int // USD-comparable depth proxy
}

// PriceFloat returns the quoted price as a float for spread arithmetic.
func (q PriceQuote) PriceFloat() float64 {
	if q.Price == nil {
		return 0
	}
	f, _ := new(big.Float).SetInt(q.Price).Float64()
	return f
}

type Opportunity struct {
	PairID                 string
	QuoteA, QuoteB         PriceQuote
	SpreadPercent          float64
	EstimatedProfitPercent float64
	Ts                     time.Time
}

// ExecutionRecord is emitted once per settled arbitrage.
type ExecutionRecord struct {
	ID          string
	Initiator   common.Address
	TokenIn     common.Address
	TokenOut    common.Address
	AmountIn    *big.Int
	FinalAmount *big.Int
	Profit      *big.Int
	ProtocolFee *big.Int
	Ts          time.Time
}
