package main

import (
	"context"
	"flag"
	"fmt"
	"math/big"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/you/flasharb/internal/capital"
	"github.com/you/flasharb/internal/chain"
	"github.com/you/flasharb/internal/config"
	"github.com/you/flasharb/internal/control"
	"github.com/you/flasharb/internal/engine"
	"github.com/you/flasharb/internal/feed"
	"github.com/you/flasharb/internal/ledger"
	"github.com/you/flasharb/internal/metrics"
	"github.com/you/flasharb/internal/quote"
	"github.com/you/flasharb/internal/registry"
	"github.com/you/flasharb/internal/scanner"
	"github.com/you/flasharb/internal/store"
	"github.com/you/flasharb/internal/trigger"
	"github.com/you/flasharb/internal/types"
	"github.com/you/flasharb/internal/venue"
)

func newLogger() (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	cfg.Encoding = "json"
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.MessageKey = "msg"
	cfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout(time.RFC3339)
	return cfg.Build()
}

func main() {
	cfgPath := flag.String("config", "./config.yaml", "path to config file")
	flag.Parse()

	logger, err := newLogger()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		logger.Fatal("config load failed", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigs
		logger.Warn("signal received, shutting down")
		cancel()
	}()
	metrics.Serve(ctx, cfg.Metrics.ListenAddr, nil, logger)

	client, err := chain.Dial(cfg.Chain.RPCHTTP, logger)
	if err != nil {
		logger.Fatal("rpc dial failed", zap.Error(err))
	}
	defer client.Close()

	led := ledger.New()
	pool := capital.NewPool(common.HexToAddress(cfg.Engine.CapitalSource), cfg.Engine.PremiumBps, led, logger)
	tokens := make(map[string]common.Address, len(cfg.Tokens))
	for _, t := range cfg.Tokens {
		addr := common.HexToAddress(t.Address)
		tokens[t.Symbol] = addr
		pool.Fund(addr, tokenUnits(t.MaxTrade, t.Decimals))
	}

	reg := registry.New(logger)
	for _, v := range cfg.Venues {
		err := chain.WithRetry(ctx, cfg.Scanner.RegisterAttempts, cfg.RegisterBackoff(), func(context.Context) error {
			return reg.Add(common.HexToAddress(v.Router), v.Type, v.Name)
		})
		if err != nil {
			logger.Fatal("venue registration failed", zap.String("venue", v.Name), zap.Error(err))
		}
	}

	owner := common.HexToAddress(cfg.Engine.Owner)
	operator := common.HexToAddress(cfg.Engine.Operator)
	eng := engine.New(
		common.HexToAddress(cfg.Engine.Address),
		owner, operator,
		reg, venue.Dispatch(client, logger), led, pool,
		cfg.Engine.ProtocolFeeBps, logger,
	)
	for _, addr := range tokens {
		if err := eng.AddSupportedToken(operator, addr); err != nil {
			logger.Fatal("token allow-list failed", zap.Error(err))
		}
	}
	if cfg.Engine.MinProfitWei != "" {
		minProfit, ok := new(big.Int).SetString(cfg.Engine.MinProfitWei, 10)
		if !ok {
			logger.Fatal("bad min_profit_wei", zap.String("value", cfg.Engine.MinProfitWei))
		}
		if err := eng.SetMinProfitThreshold(operator, minProfit); err != nil {
			logger.Fatal("min profit threshold failed", zap.Error(err))
		}
	}

	var pub *feed.Publisher
	if cfg.Redis.Addr != "" {
		pub = feed.NewPublisher(cfg, logger)
		defer pub.Close()
		eng.AddSink(pub)
	}
	if cfg.Postgres.DSN != "" {
		st, err := store.New(ctx, cfg.Postgres.DSN, logger)
		if err != nil {
			logger.Fatal("postgres init failed", zap.Error(err))
		}
		defer st.Close()
		eng.AddSink(st)
	}

	pairs, specs, err := buildPairs(cfg, client, tokens)
	if err != nil {
		logger.Fatal("pair wiring failed", zap.Error(err))
	}

	scn := scanner.New(scanner.Config{
		PollInterval:       cfg.PollInterval(),
		QuoteTimeout:       cfg.QuoteTimeout(),
		MinProfitThreshold: cfg.Scanner.MinProfitThreshold,
		MinLiquidityUSD:    big.NewInt(int64(cfg.Scanner.MinLiquidityUSD)),
	}, pairs, logger)

	ctrl := control.NewService(eng, logger)
	if pub != nil {
		ctrl.AddObserver(func(opp types.Opportunity) { pub.Opportunity(ctx, opp) })
	}
	rawCh := make(chan types.Opportunity, 1024)
	oppCh := make(chan types.Opportunity, 1024)
	go scn.Run(ctx, rawCh)
	go ctrl.Tee(ctx, rawCh, oppCh)

	if cfg.DryRun {
		logger.Warn("DRY-RUN: no settlements will be submitted")
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case opp := <-oppCh:
					logger.Info("opportunity",
						zap.String("pair", opp.PairID),
						zap.Float64("spread_percent", opp.SpreadPercent),
						zap.String("buy_venue", opp.QuoteA.Venue.Hex()),
						zap.String("sell_venue", opp.QuoteB.Venue.Hex()),
						zap.Time("ts", opp.Ts),
					)
				}
			}
		}()
	} else {
		trig := trigger.New(trigger.Config{
			Deadline:       cfg.Deadline(),
			Attempts:       cfg.Trigger.Attempts,
			BackoffStep:    cfg.BackoffStep(),
			GasLimit:       cfg.Chain.GasLimitSwap,
			NativeUSD:      cfg.Chain.NativeUSD,
			MinNetUSD:      cfg.Trigger.MinNetUSD,
			MaxSlippageBps: int64(cfg.Trigger.MaxSlippageBps),
		}, eng, client, reg, specs, operator, owner, logger)
		go trig.Run(ctx, oppCh)
	}

	logger.Info("flasharb started",
		zap.Int("pairs", len(pairs)),
		zap.Int("venues", len(cfg.Venues)),
		zap.Bool("dry_run", cfg.DryRun),
	)

	for ctx.Err() == nil {
		time.Sleep(250 * time.Millisecond)
	}
}

// buildPairs wires configured pairs into scanner quote sources and trigger
// trade specs.
func buildPairs(cfg *config.Config, client *chain.Client, tokens map[string]common.Address) ([]scanner.Pair, map[string]trigger.PairSpec, error) {
	byRouter := make(map[string]config.VenueCfg, len(cfg.Venues))
	for _, v := range cfg.Venues {
		byRouter[v.Router] = v
	}
	// coarse depth stand-in for concentrated pools; enough for the gate,
	// not a real in-range figure
	clDepth := big.NewInt(int64(cfg.Scanner.MinLiquidityUSD) * 10)

	var pairs []scanner.Pair
	specs := make(map[string]trigger.PairSpec, len(cfg.Pairs))
	for _, pc := range cfg.Pairs {
		base, ok := tokens[pc.Base]
		if !ok {
			return nil, nil, fmt.Errorf("pair %s: unknown base token %q", pc.ID, pc.Base)
		}
		quoteTok, ok := tokens[pc.Quote]
		if !ok {
			return nil, nil, fmt.Errorf("pair %s: unknown quote token %q", pc.ID, pc.Quote)
		}
		amount, ok := new(big.Int).SetString(pc.TradeAmount, 10)
		if !ok || amount.Sign() <= 0 {
			return nil, nil, fmt.Errorf("pair %s: bad trade_amount %q", pc.ID, pc.TradeAmount)
		}

		p := scanner.Pair{
			ID:          pc.ID,
			Base:        base,
			Quote:       quoteTok,
			TradeAmount: amount,
		}
		for _, router := range pc.Venues {
			vc, ok := byRouter[router]
			if !ok {
				return nil, nil, fmt.Errorf("pair %s: venue %s not configured", pc.ID, router)
			}
			addr := common.HexToAddress(vc.Router)
			var (
				src quote.Source
				err error
			)
			switch vc.Type {
			case types.ConstantProduct:
				src, err = quote.NewConstantProduct(client, addr, base)
			case types.ConcentratedLiquidity:
				src, err = quote.NewConcentrated(client, addr, base, clDepth)
			default:
				return nil, nil, fmt.Errorf("pair %s: venue %s has unquotable type %s", pc.ID, vc.Name, vc.Type)
			}
			if err != nil {
				return nil, nil, err
			}
			p.Sources = append(p.Sources, src)
		}
		pairs = append(pairs, p)
		specs[pc.ID] = trigger.PairSpec{
			Borrow:      quoteTok,
			Base:        base,
			AmountIn:    amount,
			NotionalUSD: pc.NotionalUSD,
		}
	}
	return pairs, specs, nil
}

// tokenUnits converts a whole-token amount into base units.
func tokenUnits(amount float64, decimals int) *big.Int {
	f := new(big.Float).SetFloat64(amount)
	for i := 0; i < decimals; i++ {
		f.Mul(f, big.NewFloat(10))
	}
	out, _ := f.Int(nil)
	return out
}
