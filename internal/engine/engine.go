// Package engine is the atomic settlement core: it borrows capital, walks
// the hop sequence through venue adapters, verifies net profit, repays the
// loan and disburses fee and proceeds. Every token movement is staged in a
// ledger journal committed only after the whole sequence succeeds.
package engine

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/you/flasharb/internal/capital"
	"github.com/you/flasharb/internal/ledger"
	"github.com/you/flasharb/internal/metrics"
	"github.com/you/flasharb/internal/registry"
	"github.com/you/flasharb/internal/types"
	"github.com/you/flasharb/internal/venue"
	"go.uber.org/zap"
	"golang.org/x/crypto/sha3"
)

var (
	ErrZeroAmount            = errors.New("engine: amountIn must be positive")
	ErrHopMismatch           = errors.New("engine: venues and swapData length mismatch")
	ErrNoHops                = errors.New("engine: at least one hop required")
	ErrZeroRecipient         = errors.New("engine: recipient is the zero address")
	ErrDeadlineExpired       = errors.New("engine: deadline expired")
	ErrTokenNotSupported     = errors.New("engine: token not supported")
	ErrVenueNotActive        = errors.New("engine: venue not active")
	ErrUnauthorizedCallback  = errors.New("engine: unauthorized loan callback")
	ErrInsufficientProfit    = errors.New("engine: insufficient profit")
	ErrBelowMinAmountOut     = errors.New("engine: final amount below minAmountOut")
	ErrTerminalTokenMismatch = errors.New("engine: terminal token does not match tokenOut")
	ErrNotAuthorized         = errors.New("engine: not authorized")
	ErrFeeTooHigh            = errors.New("engine: protocol fee exceeds ceiling")
)

// MaxProtocolFeeBps is the hard ceiling on the protocol fee (5%).
const MaxProtocolFeeBps = 500

// RecordSink receives emitted execution records (redis feed, postgres, ...).
type RecordSink interface {
	Record(ctx context.Context, rec types.ExecutionRecord)
}

// Engine is the settlement state machine. One settlement at a time; the
// all-or-nothing guarantee comes from the journal, not from rollback code.
type Engine struct {
	addr     common.Address
	owner    common.Address
	operator common.Address

	mu        sync.Mutex
	reg       *registry.Registry
	adapters  map[types.VenueType]venue.Adapter
	led       *ledger.Ledger
	source    capital.Source
	feeBps    uint32
	minProfit *big.Int
	supported map[common.Address]bool
	nonce     uint64
	sinks     []RecordSink

	// inflight carries the venue snapshot and results across the loan
	// callback; valid only while mu is held.
	inflight *inflightExec

	log *zap.Logger
}

type inflightExec struct {
	params      types.ArbitrageParams
	snap        []types.VenueInfo
	finalAmount *big.Int
	profit      *big.Int
	protocolFee *big.Int
}

type callbackCtx struct {
	Params types.ArbitrageParams `json:"params"`
	Caller common.Address        `json:"caller"`
}

func New(addr, owner, operator common.Address, reg *registry.Registry,
	adapters map[types.VenueType]venue.Adapter, led *ledger.Ledger,
	source capital.Source, feeBps uint32, log *zap.Logger) *Engine {

	return &Engine{
		addr:      addr,
		owner:     owner,
		operator:  operator,
		reg:       reg,
		adapters:  adapters,
		led:       led,
		source:    source,
		feeBps:    feeBps,
		minProfit: new(big.Int),
		supported: make(map[common.Address]bool, 8),
		log:       log,
	}
}

func (e *Engine) Address() common.Address { return e.addr }

// AddSink registers an execution-record sink.
func (e *Engine) AddSink(s RecordSink) {
	e.mu.Lock()
	e.sinks = append(e.sinks, s)
	e.mu.Unlock()
}

func (e *Engine) validate(p types.ArbitrageParams) ([]types.VenueInfo, error) {
	if p.AmountIn == nil || p.AmountIn.Sign() <= 0 {
		return nil, ErrZeroAmount
	}
	if len(p.Venues) == 0 {
		return nil, ErrNoHops
	}
	if len(p.Venues) != len(p.SwapData) {
		return nil, ErrHopMismatch
	}
	if p.Recipient == (common.Address{}) {
		return nil, ErrZeroRecipient
	}
	if p.Deadline != 0 && time.Now().Unix() > p.Deadline {
		return nil, ErrDeadlineExpired
	}
	if !e.supported[p.TokenIn] {
		return nil, fmt.Errorf("%w: tokenIn %s", ErrTokenNotSupported, p.TokenIn.Hex())
	}
	if !e.supported[p.TokenOut] {
		return nil, fmt.Errorf("%w: tokenOut %s", ErrTokenNotSupported, p.TokenOut.Hex())
	}
	snap, err := e.reg.Snapshot(p.Venues)
	if err != nil {
		return nil, err
	}
	for _, v := range snap {
		if !v.Active {
			return nil, fmt.Errorf("%w: %s", ErrVenueNotActive, v.Router.Hex())
		}
	}
	return snap, nil
}

// Execute runs one atomic settlement attempt and commits it.
func (e *Engine) Execute(ctx context.Context, caller common.Address, p types.ArbitrageParams) (*types.ExecutionRecord, error) {
	return e.run(ctx, caller, p, true)
}

// Simulate runs the identical settlement path but discards the journal.
// The returned record reflects what Execute would have settled.
func (e *Engine) Simulate(ctx context.Context, caller common.Address, p types.ArbitrageParams) (*types.ExecutionRecord, error) {
	return e.run(ctx, caller, p, false)
}

func (e *Engine) run(ctx context.Context, caller common.Address, p types.ArbitrageParams, commit bool) (*types.ExecutionRecord, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	// Idle -> LoanRequested: everything is validated before any capital
	// moves; an invalid request leaves no trace.
	snap, err := e.validate(p)
	if err != nil {
		metrics.SettlementsRejected.Inc()
		return nil, err
	}
	for _, v := range snap {
		e.led.SetExternal(v.Router)
	}

	cb, err := json.Marshal(callbackCtx{Params: p, Caller: caller})
	if err != nil {
		return nil, fmt.Errorf("engine: encode callback params: %w", err)
	}

	e.inflight = &inflightExec{params: p, snap: snap}
	defer func() { e.inflight = nil }()

	j := e.led.Begin()
	err = e.source.FlashLoan(ctx, j, e,
		[]common.Address{p.TokenIn}, []*big.Int{p.AmountIn}, e.addr, cb)
	if err != nil {
		j.Discard()
		metrics.SettlementsAborted.Inc()
		e.log.Warn("settlement aborted",
			zap.String("token_in", p.TokenIn.Hex()),
			zap.String("amount_in", p.AmountIn.String()),
			zap.Error(err),
		)
		return nil, err
	}

	if !commit {
		j.Discard()
	} else if err := j.Commit(); err != nil {
		metrics.SettlementsAborted.Inc()
		return nil, err
	}

	e.nonce++
	rec := types.ExecutionRecord{
		ID:          e.recordID(p),
		Initiator:   caller,
		TokenIn:     p.TokenIn,
		TokenOut:    p.TokenOut,
		AmountIn:    new(big.Int).Set(p.AmountIn),
		FinalAmount: e.inflight.finalAmount,
		Profit:      e.inflight.profit,
		ProtocolFee: e.inflight.protocolFee,
		Ts:          time.Now(),
	}
	if commit {
		metrics.SettlementsSettled.Inc()
		e.log.Info("settlement committed",
			zap.String("id", rec.ID),
			zap.String("token_in", rec.TokenIn.Hex()),
			zap.String("token_out", rec.TokenOut.Hex()),
			zap.String("final_amount", rec.FinalAmount.String()),
			zap.String("profit", rec.Profit.String()),
			zap.String("protocol_fee", rec.ProtocolFee.String()),
		)
		for _, s := range e.sinks {
			s.Record(ctx, rec)
		}
	}
	return &rec, nil
}

// OnLoanReceived is the capital-source callback: HopExecuting through
// Settled all happen here, staged into the journal.
func (e *Engine) OnLoanReceived(ctx context.Context, j *ledger.Journal, from common.Address,
	assets []common.Address, amounts, premiums []*big.Int,
	initiator common.Address, params []byte) error {

	if from != e.source.Address() || initiator != e.addr {
		return ErrUnauthorizedCallback
	}
	if e.inflight == nil {
		return ErrUnauthorizedCallback
	}
	if len(assets) != 1 || len(amounts) != 1 || len(premiums) != 1 {
		return capital.ErrBadLoan
	}
	var cb callbackCtx
	if err := json.Unmarshal(params, &cb); err != nil {
		return fmt.Errorf("engine: decode callback params: %w", err)
	}
	p := e.inflight.params
	if cb.Params.TokenIn != assets[0] || cb.Params.AmountIn == nil || cb.Params.AmountIn.Cmp(amounts[0]) != 0 {
		return capital.ErrBadLoan
	}

	loan := types.LoanContext{
		BorrowedAsset:  assets[0],
		BorrowedAmount: amounts[0],
		Premium:        premiums[0],
		Initiator:      initiator,
	}

	// HopExecuting(i): each hop's output feeds the next hop's input.
	runningToken := p.TokenIn
	runningAmount := new(big.Int).Set(p.AmountIn)
	for i, v := range e.inflight.snap {
		adapter, ok := e.adapters[v.Type]
		if !ok {
			return fmt.Errorf("%w: %s", venue.ErrUnsupportedVenueType, v.Type)
		}
		out, tokenOut, err := adapter.Swap(ctx, venue.Hop{
			Venue:       v,
			TokenIn:     runningToken,
			AmountIn:    runningAmount,
			Data:        p.SwapData[i],
			Recipient:   e.addr,
			ArbTokenOut: p.TokenOut,
		})
		if err != nil {
			return fmt.Errorf("hop %d (%s): %w", i, v.Name, err)
		}
		if err := j.Transfer(runningToken, e.addr, v.Router, runningAmount); err != nil {
			return err
		}
		if err := j.Transfer(tokenOut, v.Router, e.addr, out); err != nil {
			return err
		}
		runningToken, runningAmount = tokenOut, out
	}
	if runningToken != p.TokenOut {
		return ErrTerminalTokenMismatch
	}
	finalAmount := runningAmount
	if p.MinAmountOut != nil && p.MinAmountOut.Sign() > 0 && finalAmount.Cmp(p.MinAmountOut) < 0 {
		return fmt.Errorf("%w: got %s want >= %s", ErrBelowMinAmountOut, finalAmount, p.MinAmountOut)
	}

	// ProfitVerified.
	totalRepayment := new(big.Int).Add(loan.BorrowedAmount, loan.Premium)
	protocolFee := new(big.Int).Mul(finalAmount, big.NewInt(int64(e.feeBps)))
	protocolFee.Div(protocolFee, big.NewInt(10_000))
	remaining := new(big.Int).Sub(finalAmount, protocolFee)
	if remaining.Cmp(totalRepayment) <= 0 {
		return fmt.Errorf("%w: remaining %s repayment %s", ErrInsufficientProfit, remaining, totalRepayment)
	}
	profit := new(big.Int).Sub(remaining, totalRepayment)
	if e.minProfit.Sign() > 0 && profit.Cmp(e.minProfit) < 0 {
		return fmt.Errorf("%w: profit %s below threshold %s", ErrInsufficientProfit, profit, e.minProfit)
	}

	// Repaid: stage the pull the capital source verifies.
	if err := j.Transfer(p.TokenOut, e.addr, e.source.Address(), totalRepayment); err != nil {
		return err
	}
	// Settled: fee to the owner, proceeds to the recipient.
	if protocolFee.Sign() > 0 {
		if err := j.Transfer(p.TokenOut, e.addr, e.owner, protocolFee); err != nil {
			return err
		}
	}
	if err := j.Transfer(p.TokenOut, e.addr, p.Recipient, profit); err != nil {
		return err
	}

	e.inflight.finalAmount = finalAmount
	e.inflight.profit = profit
	e.inflight.protocolFee = protocolFee
	return nil
}

func (e *Engine) recordID(p types.ArbitrageParams) string {
	h := sha3.NewLegacyKeccak256()
	h.Write(p.TokenIn.Bytes())
	h.Write(p.TokenOut.Bytes())
	h.Write(p.AmountIn.Bytes())
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], e.nonce)
	h.Write(buf[:])
	return common.BytesToHash(h.Sum(nil)).Hex()
}
