// Package control is the in-process operator surface: current
// opportunities, dry-run simulation and manual execution. An HTTP or RPC
// layer can sit on top of it without knowing the engine.
package control

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/you/flasharb/internal/types"
)

// Executor is the engine surface exposed to operators.
type Executor interface {
	Execute(ctx context.Context, caller common.Address, p types.ArbitrageParams) (*types.ExecutionRecord, error)
	Simulate(ctx context.Context, caller common.Address, p types.ArbitrageParams) (*types.ExecutionRecord, error)
}

type Service struct {
	mu        sync.RWMutex
	latest    map[string]types.Opportunity
	observers []func(types.Opportunity)
	eng       Executor
	log       *zap.Logger
}

func NewService(eng Executor, log *zap.Logger) *Service {
	return &Service{
		latest: make(map[string]types.Opportunity, 16),
		eng:    eng,
		log:    log,
	}
}

// AddObserver registers a callback invoked for every observed opportunity
// (feed publishing, alerting). Register before the pipeline starts.
func (s *Service) AddObserver(fn func(types.Opportunity)) {
	s.mu.Lock()
	s.observers = append(s.observers, fn)
	s.mu.Unlock()
}

// Observe keeps the newest opportunity per pair and notifies observers.
func (s *Service) Observe(opp types.Opportunity) {
	s.mu.Lock()
	if cur, ok := s.latest[opp.PairID]; !ok || opp.Ts.After(cur.Ts) {
		s.latest[opp.PairID] = opp
	}
	obs := s.observers
	s.mu.Unlock()

	for _, fn := range obs {
		fn(opp)
	}
}

// Tee forwards opportunities from in to out while recording each one.
// It returns when in closes or ctx is cancelled.
func (s *Service) Tee(ctx context.Context, in <-chan types.Opportunity, out chan<- types.Opportunity) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case opp, ok := <-in:
			if !ok {
				return nil
			}
			s.Observe(opp)
			select {
			case out <- opp:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// Opportunities returns opportunities younger than maxAge, widest spread
// first. maxAge <= 0 returns everything observed.
func (s *Service) Opportunities(maxAge time.Duration) []types.Opportunity {
	cutoff := time.Time{}
	if maxAge > 0 {
		cutoff = time.Now().Add(-maxAge)
	}

	s.mu.RLock()
	out := make([]types.Opportunity, 0, len(s.latest))
	for _, opp := range s.latest {
		if opp.Ts.After(cutoff) {
			out = append(out, opp)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].SpreadPercent > out[j].SpreadPercent
	})
	return out
}

func (s *Service) Simulate(ctx context.Context, caller common.Address, p types.ArbitrageParams) (*types.ExecutionRecord, error) {
	rec, err := s.eng.Simulate(ctx, caller, p)
	if err != nil {
		s.log.Debug("simulation rejected", zap.String("caller", caller.Hex()), zap.Error(err))
		return nil, err
	}
	return rec, nil
}

func (s *Service) Execute(ctx context.Context, caller common.Address, p types.ArbitrageParams) (*types.ExecutionRecord, error) {
	s.log.Info("manual execution requested",
		zap.String("caller", caller.Hex()),
		zap.String("token_in", p.TokenIn.Hex()),
		zap.String("amount_in", p.AmountIn.String()),
	)
	return s.eng.Execute(ctx, caller, p)
}
