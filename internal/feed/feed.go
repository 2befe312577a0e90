// Package feed publishes settlement results to Redis so external consumers
// (dashboards, alerting) can follow executions without touching the engine.
package feed

import (
	"context"
	"math/big"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/you/flasharb/internal/config"
	"github.com/you/flasharb/internal/types"
)

const (
	defaultStream = "arb:executions"
	oppStream     = "arb:opportunities"
	latestKey     = "arb:latest"
	profitZSet    = "arb:profit"
)

type Publisher struct {
	rdb    *redis.Client
	stream string
	log    *zap.Logger
}

func NewPublisher(cfg *config.Config, log *zap.Logger) *Publisher {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		DB:       cfg.Redis.DB,
		Username: cfg.Redis.Username,
		Password: cfg.Redis.Password,
	})
	stream := cfg.Redis.Stream
	if stream == "" {
		stream = defaultStream
	}
	return &Publisher{rdb: rdb, stream: stream, log: log}
}

func (p *Publisher) Close() error { return p.rdb.Close() }

// Record implements the engine's sink interface. Publish failures are
// logged and swallowed: a settled arbitrage must never look failed because
// Redis hiccuped.
func (p *Publisher) Record(ctx context.Context, rec types.ExecutionRecord) {
	fields := map[string]interface{}{
		"id":           rec.ID,
		"initiator":    rec.Initiator.Hex(),
		"token_in":     rec.TokenIn.Hex(),
		"token_out":    rec.TokenOut.Hex(),
		"amount_in":    rec.AmountIn.String(),
		"final_amount": rec.FinalAmount.String(),
		"profit":       rec.Profit.String(),
		"protocol_fee": rec.ProtocolFee.String(),
		"ts_ms":        rec.Ts.UnixMilli(),
	}
	if err := p.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		Values: fields,
	}).Err(); err != nil {
		p.log.Warn("feed: stream publish failed", zap.String("id", rec.ID), zap.Error(err))
		return
	}
	if err := p.rdb.HSet(ctx, latestKey, fields).Err(); err != nil {
		p.log.Warn("feed: latest snapshot failed", zap.Error(err))
	}
	profitWei, _ := new(big.Float).SetInt(rec.Profit).Float64()
	if err := p.rdb.ZAdd(ctx, profitZSet, redis.Z{
		Score:  profitWei,
		Member: rec.ID,
	}).Err(); err != nil {
		p.log.Warn("feed: profit index failed", zap.Error(err))
	}
}

// Opportunity publishes one scanner hit to the opportunity stream. The
// stream is capped; stale opportunities have no value.
func (p *Publisher) Opportunity(ctx context.Context, opp types.Opportunity) {
	err := p.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: oppStream,
		MaxLen: 10_000,
		Approx: true,
		Values: map[string]interface{}{
			"pair":       opp.PairID,
			"spread_pct": opp.SpreadPercent,
			"buy_venue":  opp.QuoteA.Venue.Hex(),
			"sell_venue": opp.QuoteB.Venue.Hex(),
			"buy_price":  opp.QuoteA.Price.String(),
			"sell_price": opp.QuoteB.Price.String(),
			"ts_ms":      opp.Ts.UnixMilli(),
		},
	}).Err()
	if err != nil {
		p.log.Warn("feed: opportunity publish failed", zap.String("pair", opp.PairID), zap.Error(err))
	}
}

type Consumer struct {
	rdb    *redis.Client
	stream string
	log    *zap.Logger
}

func NewConsumer(cfg *config.Config, log *zap.Logger) *Consumer {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		DB:       cfg.Redis.DB,
		Username: cfg.Redis.Username,
		Password: cfg.Redis.Password,
	})
	stream := cfg.Redis.Stream
	if stream == "" {
		stream = defaultStream
	}
	return &Consumer{rdb: rdb, stream: stream, log: log}
}

func (c *Consumer) Close() error { return c.rdb.Close() }

// Latest reads the most recent execution snapshot, or redis.Nil when no
// settlement has been published yet.
func (c *Consumer) Latest(ctx context.Context) (map[string]string, error) {
	m, err := c.rdb.HGetAll(ctx, latestKey).Result()
	if err != nil {
		return nil, err
	}
	if len(m) == 0 {
		return nil, redis.Nil
	}
	return m, nil
}

// RecentOpportunities returns up to n published opportunities, newest first.
func (c *Consumer) RecentOpportunities(ctx context.Context, n int64) ([]map[string]interface{}, error) {
	msgs, err := c.rdb.XRevRangeN(ctx, oppStream, "+", "-", n).Result()
	if err != nil {
		return nil, err
	}
	out := make([]map[string]interface{}, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Values)
	}
	return out, nil
}

// TopProfits returns the n most profitable execution ids, best first.
func (c *Consumer) TopProfits(ctx context.Context, n int64) ([]string, error) {
	return c.rdb.ZRevRange(ctx, profitZSet, 0, n-1).Result()
}

// Stream tails published executions through a consumer group and forwards
// the raw field maps to out. Create the group once:
//
//	XGROUP CREATE arb:executions feed $ MKSTREAM
func (c *Consumer) Stream(ctx context.Context, group, consumer string, out chan<- map[string]interface{}) error {
	for {
		streams, err := c.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    group,
			Consumer: consumer,
			Streams:  []string{c.stream, ">"},
			Count:    100,
			Block:    time.Second,
		}).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.log.Warn("feed: stream read failed", zap.Error(err))
			time.Sleep(200 * time.Millisecond)
			continue
		}
		for _, s := range streams {
			for _, m := range s.Messages {
				select {
				case out <- m.Values:
				case <-ctx.Done():
					return ctx.Err()
				}
				_ = c.rdb.XAck(ctx, c.stream, group, m.ID).Err()
			}
		}
	}
}
