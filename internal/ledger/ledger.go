// Package ledger is the settlement substrate: a token balance book with
// journaled staging. Every movement of one settlement is staged into a
// Journal and becomes visible only on Commit; a failed settlement discards
// its journal, so no partial movement is ever observable.
package ledger

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrInsufficientBalance = errors.New("ledger: insufficient balance")
	ErrBadAmount           = errors.New("ledger: amount must be positive")
)

type key struct {
	token   common.Address
	account common.Address
}

// Ledger tracks per-token account balances. External accounts represent the
// rest of the chain (venue routers) and are allowed to go negative; every
// other account is balance-checked.
type Ledger struct {
	mu       sync.Mutex
	balances map[key]*big.Int
	external map[common.Address]bool
}

func New() *Ledger {
	return &Ledger{
		balances: make(map[key]*big.Int, 16),
		external: make(map[common.Address]bool, 8),
	}
}

// SetExternal marks an account as an external counterparty.
func (l *Ledger) SetExternal(account common.Address) {
	l.mu.Lock()
	l.external[account] = true
	l.mu.Unlock()
}

// Mint credits an account directly, outside any journal. Used to fund the
// capital pool and in tests.
func (l *Ledger) Mint(token, account common.Address, amount *big.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	k := key{token, account}
	cur, ok := l.balances[k]
	if !ok {
		cur = new(big.Int)
		l.balances[k] = cur
	}
	cur.Add(cur, amount)
}

// Balance returns a copy of the committed balance.
func (l *Ledger) Balance(token, account common.Address) *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if b, ok := l.balances[key{token, account}]; ok {
		return new(big.Int).Set(b)
	}
	return new(big.Int)
}

// Entry is one staged transfer.
type Entry struct {
	Token  common.Address
	From   common.Address
	To     common.Address
	Amount *big.Int
}

// Journal stages transfers against a consistent view of the ledger.
type Journal struct {
	l       *Ledger
	entries []Entry
	deltas  map[key]*big.Int
	done    bool
}

func (l *Ledger) Begin() *Journal {
	return &Journal{l: l, deltas: make(map[key]*big.Int, 8)}
}

func (j *Journal) staged(token, account common.Address) *big.Int {
	out := j.l.Balance(token, account)
	if d, ok := j.deltas[key{token, account}]; ok {
		out.Add(out, d)
	}
	return out
}

// Staged returns the balance an account would have if the journal committed.
func (j *Journal) Staged(token, account common.Address) *big.Int {
	return j.staged(token, account)
}

func (j *Journal) addDelta(token, account common.Address, amount *big.Int) {
	k := key{token, account}
	d, ok := j.deltas[k]
	if !ok {
		d = new(big.Int)
		j.deltas[k] = d
	}
	d.Add(d, amount)
}

// Transfer stages a movement. The sender must be able to cover the amount
// from its staged balance unless it is an external account.
func (j *Journal) Transfer(token, from, to common.Address, amount *big.Int) error {
	if j.done {
		return errors.New("ledger: journal already finished")
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrBadAmount
	}
	j.l.mu.Lock()
	isExt := j.l.external[from]
	j.l.mu.Unlock()
	if !isExt && j.staged(token, from).Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s from %s", ErrInsufficientBalance, token.Hex(), from.Hex())
	}
	j.addDelta(token, from, new(big.Int).Neg(amount))
	j.addDelta(token, to, new(big.Int).Set(amount))
	j.entries = append(j.entries, Entry{Token: token, From: from, To: to, Amount: new(big.Int).Set(amount)})
	return nil
}

// Commit applies all staged entries atomically. Commit re-verifies that no
// internal account ends negative; staged checks make that unreachable unless
// a concurrent journal raced this one, in which case nothing is applied.
func (j *Journal) Commit() error {
	if j.done {
		return errors.New("ledger: journal already finished")
	}
	j.done = true

	j.l.mu.Lock()
	defer j.l.mu.Unlock()
	for k, d := range j.deltas {
		if j.l.external[k.account] {
			continue
		}
		cur, ok := j.l.balances[k]
		if !ok {
			cur = new(big.Int)
		}
		if new(big.Int).Add(cur, d).Sign() < 0 {
			return fmt.Errorf("%w: commit would overdraw %s", ErrInsufficientBalance, k.account.Hex())
		}
	}
	for k, d := range j.deltas {
		cur, ok := j.l.balances[k]
		if !ok {
			cur = new(big.Int)
			j.l.balances[k] = cur
		}
		cur.Add(cur, d)
	}
	return nil
}

// Discard drops the journal without applying anything.
func (j *Journal) Discard() {
	j.done = true
	j.entries = nil
	j.deltas = nil
}

// Entries returns the staged transfers, oldest first.
func (j *Journal) Entries() []Entry {
	return j.entries
}
