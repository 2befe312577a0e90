package engine

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/you/flasharb/internal/capital"
	"go.uber.org/zap"
)

// Operator-gated configuration surface. The owner is implicitly an operator.

func (e *Engine) authorized(caller common.Address) bool {
	return caller == e.owner || caller == e.operator
}

func (e *Engine) SetProtocolFeeBps(caller common.Address, bps uint32) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.authorized(caller) {
		return ErrNotAuthorized
	}
	if bps > MaxProtocolFeeBps {
		return fmt.Errorf("%w: %d > %d", ErrFeeTooHigh, bps, MaxProtocolFeeBps)
	}
	old := e.feeBps
	e.feeBps = bps
	e.log.Info("protocol fee updated", zap.Uint32("old_bps", old), zap.Uint32("new_bps", bps))
	return nil
}

func (e *Engine) SetMinProfitThreshold(caller common.Address, wei *big.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.authorized(caller) {
		return ErrNotAuthorized
	}
	if wei == nil || wei.Sign() < 0 {
		return ErrZeroAmount
	}
	e.minProfit = new(big.Int).Set(wei)
	e.log.Info("min profit threshold updated", zap.String("wei", wei.String()))
	return nil
}

func (e *Engine) AddSupportedToken(caller, token common.Address) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.authorized(caller) {
		return ErrNotAuthorized
	}
	e.supported[token] = true
	e.log.Info("token enabled", zap.String("token", token.Hex()))
	return nil
}

func (e *Engine) RemoveSupportedToken(caller, token common.Address) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.authorized(caller) {
		return ErrNotAuthorized
	}
	delete(e.supported, token)
	e.log.Info("token disabled", zap.String("token", token.Hex()))
	return nil
}

// UpdateCapitalSource swaps the flash-loan provider. Owner only: pointing
// the engine at a hostile source must not be an operator-level action.
func (e *Engine) UpdateCapitalSource(caller common.Address, src capital.Source) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if caller != e.owner {
		return ErrNotAuthorized
	}
	if src == nil || src.Address() == (common.Address{}) {
		return capital.ErrBadLoan
	}
	e.source = src
	e.log.Info("capital source updated", zap.String("source", src.Address().Hex()))
	return nil
}

// EmergencyWithdraw moves the engine's full balance of token to the owner.
// It bypasses the settlement path entirely.
func (e *Engine) EmergencyWithdraw(caller, token common.Address) (*big.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if caller != e.owner {
		return nil, ErrNotAuthorized
	}
	bal := e.led.Balance(token, e.addr)
	if bal.Sign() == 0 {
		return bal, nil
	}
	j := e.led.Begin()
	if err := j.Transfer(token, e.addr, e.owner, bal); err != nil {
		j.Discard()
		return nil, err
	}
	if err := j.Commit(); err != nil {
		return nil, err
	}
	e.log.Warn("emergency withdraw",
		zap.String("token", token.Hex()),
		zap.String("amount", bal.String()),
	)
	return bal, nil
}

// ProtocolFeeBps returns the current fee setting.
func (e *Engine) ProtocolFeeBps() uint32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.feeBps
}

// MinProfitThreshold returns a copy of the current threshold.
func (e *Engine) MinProfitThreshold() *big.Int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return new(big.Int).Set(e.minProfit)
}

// IsSupported reports whether token passes the allow-list gate.
func (e *Engine) IsSupported(token common.Address) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.supported[token]
}
