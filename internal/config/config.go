package config

import (
	"fmt"
	"os"
	"time"

	"github.com/you/flasharb/internal/types"
	"gopkg.in/yaml.v3"
)

type TokenCfg struct {
	Symbol   string  `yaml:"symbol"`
	Address  string  `yaml:"address"`
	Decimals int     `yaml:"decimals"`
	MinTrade float64 `yaml:"min_trade"`
	MaxTrade float64 `yaml:"max_trade"`
}

type VenueCfg struct {
	Router string          `yaml:"router"`
	Type   types.VenueType `yaml:"type"`
	Name   string          `yaml:"name"`
}

type PairCfg struct {
	ID          string   `yaml:"id"`
	Base        string   `yaml:"base"`  // token symbol
	Quote       string   `yaml:"quote"` // token symbol
	Venues      []string `yaml:"venues"`
	TradeAmount string   `yaml:"trade_amount"` // tokenIn units, decimal string
	NotionalUSD float64  `yaml:"notional_usd"`
}

type Config struct {
	DryRun bool `yaml:"dry_run"`

	Chain struct {
		RPCHTTP            string  `yaml:"rpc_http"`
		GasLimitSwap       uint64  `yaml:"gas_limit_swap"`
		MaxPriorityFeeGwei float64 `yaml:"max_priority_fee_gwei"`
		MaxFeeGwei         float64 `yaml:"max_fee_gwei"`
		NativeUSD          float64 `yaml:"native_usd"` // fallback when no price feed
	} `yaml:"chain"`

	Engine struct {
		Address        string `yaml:"address"`
		Owner          string `yaml:"owner"`
		Operator       string `yaml:"operator"`
		CapitalSource  string `yaml:"capital_source"`
		PremiumBps     uint32 `yaml:"premium_bps"`
		ProtocolFeeBps uint32 `yaml:"protocol_fee_bps"`
		MinProfitWei   string `yaml:"min_profit_wei"`
	} `yaml:"engine"`

	Tokens []TokenCfg `yaml:"tokens"`
	Venues []VenueCfg `yaml:"venues"`
	Pairs  []PairCfg  `yaml:"pairs"`

	Scanner struct {
		PollIntervalMs      int     `yaml:"poll_interval_ms"`
		QuoteTimeoutMs      int     `yaml:"quote_timeout_ms"`
		MinProfitThreshold  float64 `yaml:"min_profit_threshold"` // spread percent
		MinLiquidityUSD     float64 `yaml:"min_liquidity_usd"`
		RegisterAttempts    int     `yaml:"register_attempts"`
		RegisterBackoffMs   int     `yaml:"register_backoff_ms"`
	} `yaml:"scanner"`

	Trigger struct {
		DeadlineSec    int     `yaml:"deadline_sec"`
		Attempts       int     `yaml:"attempts"`
		BackoffStepMs  int     `yaml:"backoff_step_ms"`
		MinNetUSD      float64 `yaml:"min_net_usd"`
		MaxSlippageBps int     `yaml:"max_slippage_bps"`
	} `yaml:"trigger"`

	Redis struct {
		Addr     string `yaml:"addr"`
		DB       int    `yaml:"db"`
		Username string `yaml:"username"`
		Password string `yaml:"password"`
		Stream   string `yaml:"stream"`
	} `yaml:"redis"`

	Postgres struct {
		DSN string `yaml:"dsn"`
	} `yaml:"postgres"`

	Metrics struct {
		ListenAddr string `yaml:"listen_addr"`
	} `yaml:"metrics"`
}

func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, err
	}

	if c.Scanner.PollIntervalMs == 0 {
		c.Scanner.PollIntervalMs = 3000
	}
	if c.Scanner.QuoteTimeoutMs == 0 {
		c.Scanner.QuoteTimeoutMs = 5000
	}
	if c.Scanner.MinProfitThreshold == 0 {
		c.Scanner.MinProfitThreshold = 0.5
	}
	if c.Scanner.MinLiquidityUSD == 0 {
		c.Scanner.MinLiquidityUSD = 10_000
	}
	if c.Scanner.RegisterAttempts == 0 {
		c.Scanner.RegisterAttempts = 3
	}
	if c.Scanner.RegisterBackoffMs == 0 {
		c.Scanner.RegisterBackoffMs = 500
	}
	if c.Trigger.DeadlineSec == 0 {
		c.Trigger.DeadlineSec = 300
	}
	if c.Trigger.Attempts == 0 {
		c.Trigger.Attempts = 3
	}
	if c.Trigger.BackoffStepMs == 0 {
		c.Trigger.BackoffStepMs = 500
	}
	if c.Engine.PremiumBps == 0 {
		c.Engine.PremiumBps = 9 // Aave V3 flash-loan premium
	}
	if c.Engine.ProtocolFeeBps == 0 {
		c.Engine.ProtocolFeeBps = 100
	}
	if c.Chain.GasLimitSwap == 0 {
		c.Chain.GasLimitSwap = 400_000
	}
	if c.Chain.NativeUSD == 0 {
		c.Chain.NativeUSD = 2000
	}
	return &c, nil
}

// Token looks up a configured token by symbol.
func (c *Config) Token(symbol string) (TokenCfg, error) {
	for _, t := range c.Tokens {
		if t.Symbol == symbol {
			return t, nil
		}
	}
	return TokenCfg{}, fmt.Errorf("token %q not configured", symbol)
}

func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Scanner.PollIntervalMs) * time.Millisecond
}
func (c *Config) QuoteTimeout() time.Duration {
	return time.Duration(c.Scanner.QuoteTimeoutMs) * time.Millisecond
}
func (c *Config) RegisterBackoff() time.Duration {
	return time.Duration(c.Scanner.RegisterBackoffMs) * time.Millisecond
}
func (c *Config) Deadline() time.Duration {
	return time.Duration(c.Trigger.DeadlineSec) * time.Second
}
func (c *Config) BackoffStep() time.Duration {
	return time.Duration(c.Trigger.BackoffStepMs) * time.Millisecond
}
