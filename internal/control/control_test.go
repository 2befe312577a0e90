package control

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/you/flasharb/internal/types"
)

type fakeExecutor struct {
	execCalls int
	simCalls  int
	err       error
}

func (f *fakeExecutor) Execute(_ context.Context, _ common.Address, _ types.ArbitrageParams) (*types.ExecutionRecord, error) {
	f.execCalls++
	if f.err != nil {
		return nil, f.err
	}
	return &types.ExecutionRecord{ID: "0xexec"}, nil
}

func (f *fakeExecutor) Simulate(_ context.Context, _ common.Address, _ types.ArbitrageParams) (*types.ExecutionRecord, error) {
	f.simCalls++
	if f.err != nil {
		return nil, f.err
	}
	return &types.ExecutionRecord{ID: "0xsim"}, nil
}

func opp(pair string, spread float64, ts time.Time) types.Opportunity {
	return types.Opportunity{PairID: pair, SpreadPercent: spread, Ts: ts}
}

func TestObserveKeepsNewestPerPair(t *testing.T) {
	s := NewService(&fakeExecutor{}, zap.NewNop())
	now := time.Now()

	s.Observe(opp("WETH/USDC", 1.0, now))
	s.Observe(opp("WETH/USDC", 2.0, now.Add(-time.Minute))) // older, ignored
	s.Observe(opp("WBTC/USDC", 5.0, now))

	opps := s.Opportunities(0)
	require.Len(t, opps, 2)
	assert.Equal(t, "WBTC/USDC", opps[0].PairID) // widest spread first
	assert.Equal(t, 1.0, opps[1].SpreadPercent)
}

func TestOpportunitiesMaxAge(t *testing.T) {
	s := NewService(&fakeExecutor{}, zap.NewNop())
	s.Observe(opp("STALE/USDC", 9.0, time.Now().Add(-time.Hour)))
	s.Observe(opp("WETH/USDC", 1.0, time.Now()))

	assert.Len(t, s.Opportunities(time.Minute), 1)
	assert.Len(t, s.Opportunities(0), 2)
}

func TestObserversNotified(t *testing.T) {
	s := NewService(&fakeExecutor{}, zap.NewNop())

	var seen []string
	s.AddObserver(func(o types.Opportunity) { seen = append(seen, o.PairID) })

	s.Observe(opp("WETH/USDC", 1.0, time.Now()))
	s.Observe(opp("WBTC/USDC", 2.0, time.Now()))
	assert.Equal(t, []string{"WETH/USDC", "WBTC/USDC"}, seen)
}

func TestTeeForwardsAndRecords(t *testing.T) {
	s := NewService(&fakeExecutor{}, zap.NewNop())

	in := make(chan types.Opportunity, 1)
	out := make(chan types.Opportunity, 1)
	in <- opp("WETH/USDC", 2.5, time.Now())
	close(in)

	require.NoError(t, s.Tee(context.Background(), in, out))
	got := <-out
	assert.Equal(t, "WETH/USDC", got.PairID)
	assert.Len(t, s.Opportunities(0), 1)
}

func TestSimulateAndExecuteDelegate(t *testing.T) {
	fe := &fakeExecutor{}
	s := NewService(fe, zap.NewNop())
	p := types.ArbitrageParams{
		TokenIn:  common.HexToAddress("0x05"),
		AmountIn: big.NewInt(1),
	}

	rec, err := s.Simulate(context.Background(), common.HexToAddress("0x03"), p)
	require.NoError(t, err)
	assert.Equal(t, "0xsim", rec.ID)
	assert.Equal(t, 1, fe.simCalls)
	assert.Zero(t, fe.execCalls)

	rec, err = s.Execute(context.Background(), common.HexToAddress("0x03"), p)
	require.NoError(t, err)
	assert.Equal(t, "0xexec", rec.ID)
	assert.Equal(t, 1, fe.execCalls)
}

func TestErrorsPropagate(t *testing.T) {
	boom := errors.New("insufficient profit")
	s := NewService(&fakeExecutor{err: boom}, zap.NewNop())

	_, err := s.Simulate(context.Background(), common.Address{}, types.ArbitrageParams{AmountIn: big.NewInt(1)})
	require.ErrorIs(t, err, boom)
}
