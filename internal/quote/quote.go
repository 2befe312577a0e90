// Package quote derives comparable spot prices from raw venue state. Every
// quote is computed fresh from on-chain reads; nothing here is cached
// between polling cycles.
package quote

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
	"github.com/you/flasharb/internal/metrics"
	"github.com/you/flasharb/internal/types"
)

var (
	ErrEmptyReserves = errors.New("quote: pool has empty reserves")
	ErrZeroPrice     = errors.New("quote: sqrt price is zero")
)

const pairABI = `[
 {"inputs":[],"name":"getReserves","outputs":[{"internalType":"uint112","name":"reserve0","type":"uint112"},{"internalType":"uint112","name":"reserve1","type":"uint112"},{"internalType":"uint32","name":"blockTimestampLast","type":"uint32"}],"stateMutability":"view","type":"function"},
 {"inputs":[],"name":"token0","outputs":[{"internalType":"address","name":"","type":"address"}],"stateMutability":"view","type":"function"}
]`

const clPoolABI = `[
 {"inputs":[],"name":"slot0","outputs":[{"internalType":"uint160","name":"sqrtPriceX96","type":"uint160"},{"internalType":"int24","name":"tick","type":"int24"},{"internalType":"uint16","name":"observationIndex","type":"uint16"},{"internalType":"uint16","name":"observationCardinality","type":"uint16"},{"internalType":"uint16","name":"observationCardinalityNext","type":"uint16"},{"internalType":"uint8","name":"feeProtocol","type":"uint8"},{"internalType":"bool","name":"unlocked","type":"bool"}],"stateMutability":"view","type":"function"},
 {"inputs":[],"name":"token0","outputs":[{"internalType":"address","name":"","type":"address"}],"stateMutability":"view","type":"function"}
]`

var (
	denom = big.NewInt(types.PriceDenom)
	q192  = new(big.Int).Lsh(big.NewInt(1), 192)
)

// Source produces a fresh quote for one venue.
type Source interface {
	Venue() common.Address
	Quote(ctx context.Context) (types.PriceQuote, error)
}

// ConstantProduct reads a reserve-pair pool. The price of base in quote
// units is the reserve ratio; depth is approximated as twice the base side
// valued at that price.
type ConstantProduct struct {
	c    chain.Caller
	abi  abi.ABI
	pool common.Address
	base common.Address
}

func NewConstantProduct(c chain.Caller, pool, base common.Address) (*ConstantProduct, error) {
	a, err := abi.JSON(strings.NewReader(pairABI))
	if err != nil {
		return nil, err
	}
	return &ConstantProduct{c: c, abi: a, pool: pool, base: base}, nil
}

func (s *ConstantProduct) Venue() common.Address { return s.pool }

func (s *ConstantProduct) Quote(ctx context.Context) (types.PriceQuote, error) {
	start := time.Now()
	defer func() { metrics.QuoteLatency.Observe(time.Since(start).Seconds()) }()

	token0, err := s.token0(ctx)
	if err != nil {
		return types.PriceQuote{}, err
	}

	data, err := s.abi.Pack("getReserves")
	if err != nil {
		return types.PriceQuote{}, err
	}
	raw, err := s.c.Call(ctx, s.pool, data)
	if err != nil {
		return types.PriceQuote{}, fmt.Errorf("quote: getReserves %s: %w", s.pool.Hex(), err)
	}
	out, err := s.abi.Unpack("getReserves", raw)
	if err != nil {
		return types.PriceQuote{}, err
	}
	r0 := out[0].(*big.Int)
	r1 := out[1].(*big.Int)

	// orient reserves so rBase matches the queried base token
	rBase, rQuote := r0, r1
	if s.base != token0 {
		rBase, rQuote = r1, r0
	}
	if rBase.Sign() == 0 || rQuote.Sign() == 0 {
		return types.PriceQuote{}, fmt.Errorf("%w: %s", ErrEmptyReserves, s.pool.Hex())
	}

	price := new(big.Int).Mul(rQuote, denom)
	price.Div(price, rBase)

	liq := new(big.Int).Mul(big.NewInt(2), rBase)
	liq.Mul(liq, price)
	liq.Div(liq, denom)

	return types.PriceQuote{Venue: s.pool, Price: price, LiquidityEstimate: liq}, nil
}

func (s *ConstantProduct) token0(ctx context.Context) (common.Address, error) {
	data, err := s.abi.Pack("token0")
	if err != nil {
		return common.Address{}, err
	}
	raw, err := s.c.Call(ctx, s.pool, data)
	if err != nil {
		return common.Address{}, fmt.Errorf("quote: token0 %s: %w", s.pool.Hex(), err)
	}
	out, err := s.abi.Unpack("token0", raw)
	if err != nil {
		return common.Address{}, err
	}
	return out[0].(common.Address), nil
}

// Concentrated reads a packed sqrt-price pool. Depth is a configured
// placeholder, not in-range liquidity; good enough for the scanner's gate,
// not for sizing.
type Concentrated struct {
	c     chain.Caller
	abi   abi.ABI
	pool  common.Address
	base  common.Address
	depth *big.Int
}

func NewConcentrated(c chain.Caller, pool, base common.Address, depth *big.Int) (*Concentrated, error) {
	a, err := abi.JSON(strings.NewReader(clPoolABI))
	if err != nil {
		return nil, err
	}
	if depth == nil {
		depth = new(big.Int)
	}
	return &Concentrated{c: c, abi: a, pool: pool, base: base, depth: depth}, nil
}

func (s *Concentrated) Venue() common.Address { return s.pool }

func (s *Concentrated) Quote(ctx context.Context) (types.PriceQuote, error) {
	start := time.Now()
	defer func() { metrics.QuoteLatency.Observe(time.Since(start).Seconds()) }()

	token0, err := s.token0(ctx)
	if err != nil {
		return types.PriceQuote{}, err
	}

	data, err := s.abi.Pack("slot0")
	if err != nil {
		return types.PriceQuote{}, err
	}
	raw, err := s.c.Call(ctx, s.pool, data)
	if err != nil {
		return types.PriceQuote{}, fmt.Errorf("quote: slot0 %s: %w", s.pool.Hex(), err)
	}
	out, err := s.abi.Unpack("slot0", raw)
	if err != nil {
		return types.PriceQuote{}, err
	}
	sqrtPriceX96 := out[0].(*big.Int)
	if sqrtPriceX96.Sign() == 0 {
		return types.PriceQuote{}, fmt.Errorf("%w: %s", ErrZeroPrice, s.pool.Hex())
	}

	// token1-per-token0 = sqrtPriceX96^2 / 2^192, scaled to DENOM
	sq := new(big.Int).Mul(sqrtPriceX96, sqrtPriceX96)
	var price *big.Int
	if s.base == token0 {
		price = new(big.Int).Mul(sq, denom)
		price.Div(price, q192)
	} else {
		price = new(big.Int).Mul(q192, denom)
		price.Div(price, sq)
	}

	return types.PriceQuote{
		Venue:             s.pool,
		Price:             price,
		LiquidityEstimate: new(big.Int).Set(s.depth),
	}, nil
}

func (s *Concentrated) token0(ctx context.Context) (common.Address, error) {
	data, err := s.abi.Pack("token0")
	if err != nil {
		return common.Address{}, err
	}
	raw, err := s.c.Call(ctx, s.pool, data)
	if err != nil {
		return common.Address{}, fmt.Errorf("quote: token0 %s: %w", s.pool.Hex(), err)
	}
	out, err := s.abi.Unpack("token0", raw)
	if err != nil {
		return common.Address{}, err
	}
	return out[0].(common.Address), nil
}
