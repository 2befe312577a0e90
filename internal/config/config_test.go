package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/you/flasharb/internal/types"
)

const sampleYAML = `
dry_run: true
chain:
  rpc_http: "http://localhost:8545"
engine:
  address: "0x00000000000000000000000000000000000000E0"
  owner: "0x0000000000000000000000000000000000000001"
  operator: "0x0000000000000000000000000000000000000002"
  capital_source: "0x00000000000000000000000000000000000000F0"
  min_profit_wei: "10000000000000000"
tokens:
  - symbol: WETH
    address: "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"
    decimals: 18
    max_trade: 10
  - symbol: USDC
    address: "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"
    decimals: 6
    max_trade: 50000
venues:
  - router: "0x00000000000000000000000000000000000000A1"
    type: constant_product
    name: univ2
  - router: "0x00000000000000000000000000000000000000B1"
    type: concentrated_liquidity
    name: univ3
pairs:
  - id: WETH/USDC
    base: WETH
    quote: USDC
    venues:
      - "0x00000000000000000000000000000000000000A1"
      - "0x00000000000000000000000000000000000000B1"
    trade_amount: "1000000000"
    notional_usd: 1000
scanner:
  poll_interval_ms: 1000
trigger:
  max_slippage_bps: 50
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	assert.True(t, cfg.DryRun)
	assert.Equal(t, time.Second, cfg.PollInterval()) // explicit value wins
	assert.Equal(t, 5*time.Second, cfg.QuoteTimeout())
	assert.Equal(t, 0.5, cfg.Scanner.MinProfitThreshold)
	assert.Equal(t, float64(10_000), cfg.Scanner.MinLiquidityUSD)
	assert.Equal(t, 5*time.Minute, cfg.Deadline())
	assert.Equal(t, 500*time.Millisecond, cfg.BackoffStep())
	assert.Equal(t, uint32(9), cfg.Engine.PremiumBps)
	assert.Equal(t, uint32(100), cfg.Engine.ProtocolFeeBps)
	assert.Equal(t, uint64(400_000), cfg.Chain.GasLimitSwap)
}

func TestLoadParsesVenuesAndPairs(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	require.Len(t, cfg.Venues, 2)
	assert.Equal(t, types.ConstantProduct, cfg.Venues[0].Type)
	assert.Equal(t, types.ConcentratedLiquidity, cfg.Venues[1].Type)

	require.Len(t, cfg.Pairs, 1)
	assert.Equal(t, "WETH/USDC", cfg.Pairs[0].ID)
	assert.Len(t, cfg.Pairs[0].Venues, 2)
	assert.Equal(t, "1000000000", cfg.Pairs[0].TradeAmount)
}

func TestTokenLookup(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	usdc, err := cfg.Token("USDC")
	require.NoError(t, err)
	assert.Equal(t, 6, usdc.Decimals)

	_, err = cfg.Token("DOGE")
	assert.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadBadYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "tokens: [unclosed"))
	assert.Error(t, err)
}
