// Package store persists execution records in Postgres. The feed is the
// fast path; this is the durable one.
package store

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/you/flasharb/internal/types"
)

var ErrNotFound = errors.New("store: execution not found")

const schema = `
CREATE TABLE IF NOT EXISTS executions (
	id           TEXT PRIMARY KEY,
	initiator    TEXT NOT NULL,
	token_in     TEXT NOT NULL,
	token_out    TEXT NOT NULL,
	amount_in    NUMERIC(78,0) NOT NULL,
	final_amount NUMERIC(78,0) NOT NULL,
	profit       NUMERIC(78,0) NOT NULL,
	protocol_fee NUMERIC(78,0) NOT NULL,
	ts           TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS executions_ts_idx ON executions (ts DESC);
`

type Store struct {
	pool *pgxpool.Pool
	log  *zap.Logger
}

func New(ctx context.Context, dsn string, log *zap.Logger) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("store: pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	s := &Store{pool: pool, log: log}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: ensure schema: %w", err)
	}
	return s, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Record implements the engine's sink interface. Like the feed, persistence
// failures are logged, not propagated into the settlement path.
func (s *Store) Record(ctx context.Context, rec types.ExecutionRecord) {
	if err := s.Insert(ctx, rec); err != nil {
		s.log.Warn("store: insert failed", zap.String("id", rec.ID), zap.Error(err))
	}
}

func (s *Store) Insert(ctx context.Context, rec types.ExecutionRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO executions (
			id, initiator, token_in, token_out,
			amount_in, final_amount, profit, protocol_fee, ts
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (id) DO NOTHING
	`,
		rec.ID,
		rec.Initiator.Hex(),
		rec.TokenIn.Hex(),
		rec.TokenOut.Hex(),
		rec.AmountIn.String(),
		rec.FinalAmount.String(),
		rec.Profit.String(),
		rec.ProtocolFee.String(),
		rec.Ts,
	)
	return err
}

func (s *Store) Get(ctx context.Context, id string) (types.ExecutionRecord, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, initiator, token_in, token_out,
		       amount_in::TEXT, final_amount::TEXT, profit::TEXT, protocol_fee::TEXT, ts
		FROM executions WHERE id = $1
	`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return types.ExecutionRecord{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return rec, err
}

// Recent returns up to limit executions, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]types.ExecutionRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, initiator, token_in, token_out,
		       amount_in::TEXT, final_amount::TEXT, profit::TEXT, protocol_fee::TEXT, ts
		FROM executions ORDER BY ts DESC LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.ExecutionRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (types.ExecutionRecord, error) {
	var (
		rec                                types.ExecutionRecord
		initiator, tokenIn, tokenOut       string
		amountIn, finalAmount, profit, fee string
	)
	if err := row.Scan(&rec.ID, &initiator, &tokenIn, &tokenOut,
		&amountIn, &finalAmount, &profit, &fee, &rec.Ts); err != nil {
		return types.ExecutionRecord{}, err
	}
	rec.Initiator = common.HexToAddress(initiator)
	rec.TokenIn = common.HexToAddress(tokenIn)
	rec.TokenOut = common.HexToAddress(tokenOut)
	var ok bool
	if rec.AmountIn, ok = new(big.Int).SetString(amountIn, 10); !ok {
		return types.ExecutionRecord{}, fmt.Errorf("store: bad amount_in %q", amountIn)
	}
	if rec.FinalAmount, ok = new(big.Int).SetString(finalAmount, 10); !ok {
		return types.ExecutionRecord{}, fmt.Errorf("store: bad final_amount %q", finalAmount)
	}
	if rec.Profit, ok = new(big.Int).SetString(profit, 10); !ok {
		return types.ExecutionRecord{}, fmt.Errorf("store: bad profit %q", profit)
	}
	if rec.ProtocolFee, ok = new(big.Int).SetString(fee, 10); !ok {
		return types.ExecutionRecord{}, fmt.Errorf("store: bad protocol_fee %q", fee)
	}
	return rec, nil
}
