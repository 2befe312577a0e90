// Package scanner runs the polling loop: every cycle it fetches fresh
// quotes for each configured pair across its venues, computes the
// normalized spread and emits opportunities that clear the profit and
// liquidity gates.
package scanner

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/you/flasharb/internal/metrics"
	"github.com/you/flasharb/internal/quote"
	"github.com/you/flasharb/internal/types"
)

// Pair is one scanned trading pair with its venue quote sources.
type Pair struct {
	ID          string
	Base        common.Address
	Quote       common.Address
	Sources     []quote.Source // at least two
	TradeAmount *big.Int
}

type Config struct {
	PollInterval       time.Duration
	QuoteTimeout       time.Duration
	MinProfitThreshold float64 // percent
	MinLiquidityUSD    *big.Int
}

type Scanner struct {
	cfg   Config
	pairs []Pair
	log   *zap.Logger
}

func New(cfg Config, pairs []Pair, log *zap.Logger) *Scanner {
	if cfg.MinLiquidityUSD == nil {
		cfg.MinLiquidityUSD = new(big.Int)
	}
	return &Scanner{cfg: cfg, pairs: pairs, log: log}
}

// Run polls until ctx is cancelled, sending gated opportunities to out.
// A full out channel drops the opportunity rather than stalling the loop;
// a stale opportunity is worthless anyway.
func (s *Scanner) Run(ctx context.Context, out chan<- types.Opportunity) error {
	tick := time.NewTicker(s.cfg.PollInterval)
	defer tick.Stop()

	for {
		for _, opp := range s.ScanOnce(ctx) {
			select {
			case out <- opp:
			default:
				s.log.Warn("opportunity dropped: consumer busy", zap.String("pair", opp.PairID))
			}
		}
		metrics.ScanCycles.Inc()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick.C:
		}
	}
}

// ScanOnce runs a single cycle over all pairs. Quotes are fetched once per
// venue per cycle even when venues appear in several pairs, and never
// reused across cycles.
func (s *Scanner) ScanOnce(ctx context.Context) []types.Opportunity {
	cache := newCycleCache()
	var opps []types.Opportunity
	for _, p := range s.pairs {
		if opp, ok := s.scanPair(ctx, p, cache); ok {
			opps = append(opps, opp)
		}
	}
	return opps
}

func (s *Scanner) scanPair(ctx context.Context, p Pair, cache *cycleCache) (types.Opportunity, bool) {
	if len(p.Sources) < 2 {
		return types.Opportunity{}, false
	}

	qctx, cancel := context.WithTimeout(ctx, s.cfg.QuoteTimeout)
	defer cancel()

	quotes := make([]types.PriceQuote, len(p.Sources))
	errs := make([]error, len(p.Sources))
	var wg sync.WaitGroup
	for i, src := range p.Sources {
		wg.Add(1)
		go func(i int, src quote.Source) {
			defer wg.Done()
			quotes[i], errs[i] = cache.fetch(qctx, src)
		}(i, src)
	}
	wg.Wait()

	ok := quotes[:0]
	for i, q := range quotes {
		if errs[i] != nil {
			metrics.QuoteErrors.Inc()
			s.log.Debug("quote failed",
				zap.String("pair", p.ID),
				zap.String("venue", p.Sources[i].Venue().Hex()),
				zap.Error(errs[i]),
			)
			continue
		}
		ok = append(ok, q)
	}
	if len(ok) < 2 {
		s.log.Debug("pair skipped: not enough quotes", zap.String("pair", p.ID), zap.Int("got", len(ok)))
		return types.Opportunity{}, false
	}

	// widest spread: cheapest venue against the most expensive one
	lo, hi := ok[0], ok[0]
	for _, q := range ok[1:] {
		if q.Price.Cmp(lo.Price) < 0 {
			lo = q
		}
		if q.Price.Cmp(hi.Price) > 0 {
			hi = q
		}
	}
	if lo.Price.Sign() == 0 {
		return types.Opportunity{}, false
	}

	spread := (hi.PriceFloat() - lo.PriceFloat()) / lo.PriceFloat() * 100
	metrics.SpreadPercent.WithLabelValues(p.ID).Set(spread)

	if spread <= s.cfg.MinProfitThreshold {
		return types.Opportunity{}, false
	}
	if lo.LiquidityEstimate.Cmp(s.cfg.MinLiquidityUSD) <= 0 ||
		hi.LiquidityEstimate.Cmp(s.cfg.MinLiquidityUSD) <= 0 {
		s.log.Debug("pair skipped: thin liquidity", zap.String("pair", p.ID))
		return types.Opportunity{}, false
	}

	metrics.OpportunitiesFound.Inc()
	opp := types.Opportunity{
		PairID:                 p.ID,
		QuoteA:                 lo,
		QuoteB:                 hi,
		SpreadPercent:          spread,
		EstimatedProfitPercent: spread,
		Ts:                     time.Now(),
	}
	s.log.Info("opportunity",
		zap.String("pair", p.ID),
		zap.Float64("spread_percent", spread),
		zap.String("buy_venue", lo.Venue.Hex()),
		zap.String("sell_venue", hi.Venue.Hex()),
	)
	return opp, true
}

// cycleCache deduplicates venue reads within one polling cycle.
type cycleCache struct {
	mu   sync.Mutex
	done map[common.Address]cachedQuote
}

type cachedQuote struct {
	q   types.PriceQuote
	err error
}

func newCycleCache() *cycleCache {
	return &cycleCache{done: make(map[common.Address]cachedQuote, 8)}
}

func (c *cycleCache) fetch(ctx context.Context, src quote.Source) (types.PriceQuote, error) {
	c.mu.Lock()
	if hit, ok := c.done[src.Venue()]; ok {
		c.mu.Unlock()
		return hit.q, hit.err
	}
	c.mu.Unlock()

	q, err := src.Quote(ctx)

	c.mu.Lock()
	c.done[src.Venue()] = cachedQuote{q: q, err: err}
	c.mu.Unlock()
	return q, err
}
