// Package trigger turns scanner opportunities into settlement requests. It
// decides the trade direction, re-checks profitability net of gas, builds
// the hop payloads and submits with bounded retry. Failures never stop the
// scanner loop.
package trigger

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/you/flasharb/internal/chain"
	"github.com/you/flasharb/internal/metrics"
	"github.com/you/flasharb/internal/registry"
	"github.com/you/flasharb/internal/swapdata"
	"github.com/you/flasharb/internal/types"
	"github.com/you/flasharb/internal/venue"
)

var (
	ErrUnknownPair   = errors.New("trigger: opportunity for unconfigured pair")
	ErrNotProfitable = errors.New("trigger: spread does not cover gas")
)

// defaultCLFeeTier is used when a concentrated-liquidity hop has no
// configured tier (0.3%).
const defaultCLFeeTier = 3000

// Submitter is the settlement engine surface the trigger needs.
type Submitter interface {
	Execute(ctx context.Context, caller common.Address, p types.ArbitrageParams) (*types.ExecutionRecord, error)
}

// GasEstimator supplies the current gas price in wei.
type GasEstimator interface {
	GasPrice(ctx context.Context) *big.Int
}

// PairSpec maps a scanner pair onto tradable tokens. The borrowed token is
// the quote currency; the route buys base on the cheap venue and sells it
// on the expensive one, ending back in the borrowed token.
type PairSpec struct {
	Borrow      common.Address // tokenIn == tokenOut
	Base        common.Address
	AmountIn    *big.Int
	NotionalUSD float64
	CLFeeTier   uint32
}

type Config struct {
	Deadline       time.Duration
	Attempts       int
	BackoffStep    time.Duration
	GasLimit       uint64
	NativeUSD      float64 // USD price of the gas token
	MinNetUSD      float64
	MaxSlippageBps int64
}

type Trigger struct {
	cfg       Config
	engine    Submitter
	gas       GasEstimator
	reg       *registry.Registry
	pairs     map[string]PairSpec
	caller    common.Address
	recipient common.Address
	log       *zap.Logger
}

func New(cfg Config, engine Submitter, gas GasEstimator, reg *registry.Registry,
	pairs map[string]PairSpec, caller, recipient common.Address, log *zap.Logger) *Trigger {

	if cfg.Attempts <= 0 {
		cfg.Attempts = 1
	}
	return &Trigger{
		cfg:       cfg,
		engine:    engine,
		gas:       gas,
		reg:       reg,
		pairs:     pairs,
		caller:    caller,
		recipient: recipient,
		log:       log,
	}
}

// Run consumes opportunities until the channel closes or ctx is cancelled.
func (t *Trigger) Run(ctx context.Context, in <-chan types.Opportunity) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case opp, ok := <-in:
			if !ok {
				return nil
			}
			if _, err := t.Fire(ctx, opp); err != nil {
				metrics.TriggerSubmissions.WithLabelValues("failed").Inc()
				t.log.Warn("submission failed",
					zap.String("pair", opp.PairID),
					zap.Float64("spread_percent", opp.SpreadPercent),
					zap.Error(err),
				)
				continue
			}
			metrics.TriggerSubmissions.WithLabelValues("settled").Inc()
		}
	}
}

// Fire evaluates one opportunity and, if it survives the gas re-check,
// submits it with bounded retry.
func (t *Trigger) Fire(ctx context.Context, opp types.Opportunity) (*types.ExecutionRecord, error) {
	spec, ok := t.pairs[opp.PairID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPair, opp.PairID)
	}

	gasUSD := t.gasCostUSD(ctx)
	grossUSD := spec.NotionalUSD * opp.EstimatedProfitPercent / 100
	netUSD := grossUSD - gasUSD
	if netUSD <= t.cfg.MinNetUSD {
		return nil, fmt.Errorf("%w: gross %.2f USD, gas %.2f USD", ErrNotProfitable, grossUSD, gasUSD)
	}

	params, err := t.buildParams(spec, opp)
	if err != nil {
		return nil, err
	}

	t.log.Info("firing settlement",
		zap.String("pair", opp.PairID),
		zap.Float64("net_usd", netUSD),
		zap.String("buy_venue", opp.QuoteA.Venue.Hex()),
		zap.String("sell_venue", opp.QuoteB.Venue.Hex()),
	)

	var rec *types.ExecutionRecord
	err = chain.WithRetry(ctx, t.cfg.Attempts, t.cfg.BackoffStep, func(ctx context.Context) error {
		var err error
		rec, err = t.engine.Execute(ctx, t.caller, params)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// gasCostUSD estimates the full settlement cost at the current gas price.
func (t *Trigger) gasCostUSD(ctx context.Context) float64 {
	price := t.gas.GasPrice(ctx)
	costWei := new(big.Int).Mul(price, new(big.Int).SetUint64(t.cfg.GasLimit))
	costEth, _ := new(big.Float).Quo(
		new(big.Float).SetInt(costWei),
		big.NewFloat(1e18),
	).Float64()
	usd := costEth * t.cfg.NativeUSD
	metrics.GasUSD.Set(usd)
	return usd
}

// buildParams assembles the two-hop cyclic route: borrow→base on the
// cheaper venue, base→borrow on the more expensive one.
func (t *Trigger) buildParams(spec PairSpec, opp types.Opportunity) (types.ArbitrageParams, error) {
	buy, sell := opp.QuoteA, opp.QuoteB

	// expected base out of hop 1 at the cheap venue's price
	expectBase := new(big.Int).Mul(spec.AmountIn, big.NewInt(types.PriceDenom))
	expectBase.Div(expectBase, buy.Price)
	// expected borrow-token out of hop 2 at the expensive venue's price
	expectBack := new(big.Int).Mul(expectBase, sell.Price)
	expectBack.Div(expectBack, big.NewInt(types.PriceDenom))

	buyData, err := t.hopData(buy.Venue, spec, spec.Base, t.slipped(expectBase))
	if err != nil {
		return types.ArbitrageParams{}, err
	}
	sellData, err := t.hopData(sell.Venue, spec, spec.Borrow, t.slipped(expectBack))
	if err != nil {
		return types.ArbitrageParams{}, err
	}

	return types.ArbitrageParams{
		TokenIn:      spec.Borrow,
		TokenOut:     spec.Borrow,
		AmountIn:     new(big.Int).Set(spec.AmountIn),
		MinAmountOut: t.slipped(expectBack),
		Venues:       []common.Address{buy.Venue, sell.Venue},
		SwapData:     [][]byte{buyData, sellData},
		Deadline:     time.Now().Add(t.cfg.Deadline).Unix(),
		Recipient:    t.recipient,
	}, nil
}

// slipped applies the configured slippage haircut to an expected amount.
func (t *Trigger) slipped(expected *big.Int) *big.Int {
	out := new(big.Int).Mul(expected, big.NewInt(10_000-t.cfg.MaxSlippageBps))
	return out.Div(out, big.NewInt(10_000))
}

func (t *Trigger) hopData(router common.Address, spec PairSpec, tokenOut common.Address, minOut *big.Int) ([]byte, error) {
	info, ok := t.reg.Get(router)
	if !ok {
		return nil, fmt.Errorf("%w: %s", registry.ErrUnknownVenue, router.Hex())
	}
	switch info.Type {
	case types.ConstantProduct:
		return swapdata.EncodeConstantProduct(swapdata.ConstantProductHop{
			TokenOut: tokenOut,
			MinOut:   minOut,
		})
	case types.ConcentratedLiquidity:
		tier := spec.CLFeeTier
		if tier == 0 {
			tier = defaultCLFeeTier
		}
		return swapdata.EncodeConcentrated(swapdata.ConcentratedHop{
			TokenOut: tokenOut,
			Fee:      tier,
			MinOut:   minOut,
		})
	default:
		return nil, fmt.Errorf("%w: %s", venue.ErrUnsupportedVenueType, info.Type)
	}
}
