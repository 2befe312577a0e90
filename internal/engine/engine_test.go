package engine

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/you/flasharb/internal/capital"
	"github.com/you/flasharb/internal/ledger"
	"github.com/you/flasharb/internal/registry"
	"github.com/you/flasharb/internal/types"
	"github.com/you/flasharb/internal/venue"
	"go.uber.org/zap"
)

var (
	engineAddr = common.HexToAddress("0xE0")
	ownerAddr  = common.HexToAddress("0x01")
	opAddr     = common.HexToAddress("0x02")
	userAddr   = common.HexToAddress("0x03")
	poolAddr   = common.HexToAddress("0xF0")
	routerAddr = common.HexToAddress("0xA1")
	weth       = common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")
)

// fakeAdapter returns a fixed output regardless of input.
type fakeAdapter struct {
	out      *big.Int
	tokenOut common.Address
	err      error
	calls    int
}

func (f *fakeAdapter) Swap(_ context.Context, hop venue.Hop) (*big.Int, common.Address, error) {
	f.calls++
	if f.err != nil {
		return nil, common.Address{}, f.err
	}
	return new(big.Int).Set(f.out), f.tokenOut, nil
}

type memSink struct{ recs []types.ExecutionRecord }

func (m *memSink) Record(_ context.Context, rec types.ExecutionRecord) {
	m.recs = append(m.recs, rec)
}

// eth converts a decimal ether amount to wei exactly; float64 math would
// drift by a few wei on values like 0.0386.
func eth(s string) *big.Int {
	r, ok := new(big.Rat).SetString(s)
	if !ok {
		panic("bad ether literal: " + s)
	}
	r.Mul(r, new(big.Rat).SetInt64(1_000_000_000_000_000_000))
	if !r.IsInt() {
		panic("sub-wei ether literal: " + s)
	}
	return new(big.Int).Set(r.Num())
}

func newTestEngine(t *testing.T, adapter venue.Adapter) (*Engine, *ledger.Ledger, *capital.Pool) {
	t.Helper()
	log := zap.NewNop()
	led := ledger.New()
	pool := capital.NewPool(poolAddr, 9, led, log)
	pool.Fund(weth, eth("10"))

	reg := registry.New(log)
	require.NoError(t, reg.Add(routerAddr, types.ConstantProduct, "univ2"))

	adapters := map[types.VenueType]venue.Adapter{types.ConstantProduct: adapter}
	e := New(engineAddr, ownerAddr, opAddr, reg, adapters, led, pool, 100, log)
	require.NoError(t, e.AddSupportedToken(opAddr, weth))
	return e, led, pool
}

func cyclicParams() types.ArbitrageParams {
	return types.ArbitrageParams{
		TokenIn:      weth,
		TokenOut:     weth,
		AmountIn:     eth("1"),
		MinAmountOut: big.NewInt(0),
		Venues:       []common.Address{routerAddr},
		SwapData:     [][]byte{{0x01}},
		Deadline:     time.Now().Add(5 * time.Minute).Unix(),
		Recipient:    userAddr,
	}
}

func TestExecuteSettlesProfitableRoute(t *testing.T) {
	adapter := &fakeAdapter{out: eth("1.05"), tokenOut: weth}
	e, led, _ := newTestEngine(t, adapter)
	sink := &memSink{}
	e.AddSink(sink)

	rec, err := e.Execute(context.Background(), userAddr, cyclicParams())
	require.NoError(t, err)

	// amountIn 1e18 at 9 bps premium, 100 bps fee on 1.05e18 out:
	// fee 0.0105, remaining 1.0395, repayment 1.0009, profit 0.0386.
	assert.Equal(t, eth("1.05"), rec.FinalAmount)
	assert.Equal(t, eth("0.0105"), rec.ProtocolFee)
	assert.Equal(t, eth("0.0386"), rec.Profit)

	assert.Equal(t, eth("0.0386"), led.Balance(weth, userAddr))
	assert.Equal(t, eth("0.0105"), led.Balance(weth, ownerAddr))
	// pool got principal plus premium back on top of its remaining stock
	assert.Equal(t, eth("10.0009"), led.Balance(weth, poolAddr))
	assert.Equal(t, big.NewInt(0).String(), led.Balance(weth, engineAddr).String())

	require.Len(t, sink.recs, 1)
	assert.Equal(t, rec.ID, sink.recs[0].ID)
	assert.Equal(t, userAddr, sink.recs[0].Initiator)
}

func TestExecuteInsufficientProfitLeavesBalancesUntouched(t *testing.T) {
	// 1.005e18 out: remaining 0.99495 < repayment 1.0009, must abort.
	adapter := &fakeAdapter{out: eth("1.005"), tokenOut: weth}
	e, led, _ := newTestEngine(t, adapter)

	_, err := e.Execute(context.Background(), userAddr, cyclicParams())
	require.ErrorIs(t, err, ErrInsufficientProfit)

	assert.Equal(t, eth("10"), led.Balance(weth, poolAddr))
	assert.Equal(t, big.NewInt(0).String(), led.Balance(weth, userAddr).String())
	assert.Equal(t, big.NewInt(0).String(), led.Balance(weth, ownerAddr).String())
}

func TestExecuteHopFailureAborts(t *testing.T) {
	adapter := &fakeAdapter{err: venue.ErrInsufficientHopOutput}
	e, led, _ := newTestEngine(t, adapter)

	_, err := e.Execute(context.Background(), userAddr, cyclicParams())
	require.ErrorIs(t, err, venue.ErrInsufficientHopOutput)
	assert.Equal(t, eth("10"), led.Balance(weth, poolAddr))
}

func TestExecuteBelowMinAmountOut(t *testing.T) {
	adapter := &fakeAdapter{out: eth("1.05"), tokenOut: weth}
	e, _, _ := newTestEngine(t, adapter)

	p := cyclicParams()
	p.MinAmountOut = eth("1.2")
	_, err := e.Execute(context.Background(), userAddr, p)
	require.ErrorIs(t, err, ErrBelowMinAmountOut)
}

func TestExecuteTerminalTokenMismatch(t *testing.T) {
	other := common.HexToAddress("0xBEEF")
	adapter := &fakeAdapter{out: eth("1.05"), tokenOut: other}
	e, _, _ := newTestEngine(t, adapter)

	_, err := e.Execute(context.Background(), userAddr, cyclicParams())
	require.ErrorIs(t, err, ErrTerminalTokenMismatch)
}

func TestValidationRejectsBeforeLoan(t *testing.T) {
	adapter := &fakeAdapter{out: eth("1.05"), tokenOut: weth}
	e, _, _ := newTestEngine(t, adapter)

	cases := []struct {
		name   string
		mut    func(*types.ArbitrageParams)
		expect error
	}{
		{"zero amount", func(p *types.ArbitrageParams) { p.AmountIn = big.NewInt(0) }, ErrZeroAmount},
		{"no hops", func(p *types.ArbitrageParams) { p.Venues = nil; p.SwapData = nil }, ErrNoHops},
		{"hop mismatch", func(p *types.ArbitrageParams) { p.SwapData = append(p.SwapData, []byte{0x02}) }, ErrHopMismatch},
		{"zero recipient", func(p *types.ArbitrageParams) { p.Recipient = common.Address{} }, ErrZeroRecipient},
		{"expired deadline", func(p *types.ArbitrageParams) { p.Deadline = time.Now().Add(-time.Minute).Unix() }, ErrDeadlineExpired},
		{"unsupported token", func(p *types.ArbitrageParams) { p.TokenIn = common.HexToAddress("0xDEAD") }, ErrTokenNotSupported},
		{"unknown venue", func(p *types.ArbitrageParams) { p.Venues = []common.Address{common.HexToAddress("0xBB")} }, registry.ErrUnknownVenue},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := cyclicParams()
			tc.mut(&p)
			_, err := e.Execute(context.Background(), userAddr, p)
			require.ErrorIs(t, err, tc.expect)
			// the adapter must never have run
			assert.Equal(t, 0, adapter.calls)
		})
	}
}

func TestInactiveVenueRejected(t *testing.T) {
	adapter := &fakeAdapter{out: eth("1.05"), tokenOut: weth}
	e, _, _ := newTestEngine(t, adapter)
	require.NoError(t, e.reg.Update(routerAddr, false))

	_, err := e.Execute(context.Background(), userAddr, cyclicParams())
	require.ErrorIs(t, err, ErrVenueNotActive)
	assert.Equal(t, 0, adapter.calls)
}

func TestSimulateDoesNotMoveFunds(t *testing.T) {
	adapter := &fakeAdapter{out: eth("1.05"), tokenOut: weth}
	e, led, _ := newTestEngine(t, adapter)

	rec, err := e.Simulate(context.Background(), userAddr, cyclicParams())
	require.NoError(t, err)
	assert.Equal(t, eth("0.0386"), rec.Profit)

	assert.Equal(t, eth("10"), led.Balance(weth, poolAddr))
	assert.Equal(t, big.NewInt(0).String(), led.Balance(weth, userAddr).String())
}

func TestOnLoanReceivedRejectsStrangers(t *testing.T) {
	adapter := &fakeAdapter{out: eth("1.05"), tokenOut: weth}
	e, led, _ := newTestEngine(t, adapter)

	j := led.Begin()
	defer j.Discard()
	err := e.OnLoanReceived(context.Background(), j, common.HexToAddress("0x99"),
		[]common.Address{weth}, []*big.Int{eth("1")}, []*big.Int{eth("0.0009")}, engineAddr, []byte("{}"))
	require.ErrorIs(t, err, ErrUnauthorizedCallback)

	err = e.OnLoanReceived(context.Background(), j, poolAddr,
		[]common.Address{weth}, []*big.Int{eth("1")}, []*big.Int{eth("0.0009")}, userAddr, []byte("{}"))
	require.ErrorIs(t, err, ErrUnauthorizedCallback)
}

func TestSequentialExecutionsGetDistinctIDs(t *testing.T) {
	adapter := &fakeAdapter{out: eth("1.05"), tokenOut: weth}
	e, _, pool := newTestEngine(t, adapter)
	pool.Fund(weth, eth("10"))

	r1, err := e.Execute(context.Background(), userAddr, cyclicParams())
	require.NoError(t, err)
	r2, err := e.Execute(context.Background(), userAddr, cyclicParams())
	require.NoError(t, err)
	assert.NotEqual(t, r1.ID, r2.ID)
}

func TestMinProfitThresholdGatesSettlement(t *testing.T) {
	adapter := &fakeAdapter{out: eth("1.05"), tokenOut: weth}
	e, _, _ := newTestEngine(t, adapter)

	require.NoError(t, e.SetMinProfitThreshold(opAddr, eth("0.05")))
	_, err := e.Execute(context.Background(), userAddr, cyclicParams())
	require.ErrorIs(t, err, ErrInsufficientProfit)

	require.NoError(t, e.SetMinProfitThreshold(opAddr, eth("0.01")))
	_, err = e.Execute(context.Background(), userAddr, cyclicParams())
	require.NoError(t, err)
}

func TestAdminGating(t *testing.T) {
	adapter := &fakeAdapter{out: eth("1.05"), tokenOut: weth}
	e, _, _ := newTestEngine(t, adapter)

	require.ErrorIs(t, e.SetProtocolFeeBps(userAddr, 50), ErrNotAuthorized)
	require.ErrorIs(t, e.SetProtocolFeeBps(opAddr, 501), ErrFeeTooHigh)
	require.NoError(t, e.SetProtocolFeeBps(opAddr, 500))
	assert.Equal(t, uint32(500), e.ProtocolFeeBps())

	require.ErrorIs(t, e.AddSupportedToken(userAddr, weth), ErrNotAuthorized)
	require.NoError(t, e.RemoveSupportedToken(ownerAddr, weth))
	assert.False(t, e.IsSupported(weth))

	// capital source swap is owner only
	require.ErrorIs(t, e.UpdateCapitalSource(opAddr, nil), ErrNotAuthorized)
}

func TestEmergencyWithdraw(t *testing.T) {
	adapter := &fakeAdapter{out: eth("1.05"), tokenOut: weth}
	e, led, _ := newTestEngine(t, adapter)
	led.Mint(weth, engineAddr, eth("0.5"))

	_, err := e.EmergencyWithdraw(opAddr, weth)
	require.ErrorIs(t, err, ErrNotAuthorized)

	got, err := e.EmergencyWithdraw(ownerAddr, weth)
	require.NoError(t, err)
	assert.Equal(t, eth("0.5"), got)
	assert.Equal(t, eth("0.5"), led.Balance(weth, ownerAddr))
	assert.Equal(t, big.NewInt(0).String(), led.Balance(weth, engineAddr).String())
}
