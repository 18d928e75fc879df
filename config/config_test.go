package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

const minimalJSON = `{
	"trading": {
		"whitelisted_markets": ["9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin"],
		"whitelisted_tokens": ["So11111111111111111111111111111111111111112", "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"],
		"min_profit_pct": 0.02
	}
}`

func TestLoadJSON(t *testing.T) {
	path := writeConfig(t, "config.json", minimalJSON)

	cfg, err := Load(path)
	require.NoError(t, err)

	// File values land on top of the defaults.
	assert.Equal(t, 0.02, cfg.Trading.MinProfitPct)
	assert.Len(t, cfg.Trading.WhitelistedTokens, 2)
	assert.Equal(t, "http://localhost:8899", cfg.Network.RPCEndpoint)
	assert.Equal(t, 30*time.Second, cfg.Risk.PositionTimeout)
}

func TestLoadYAML(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
trading:
  whitelisted_markets: ["9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin"]
  whitelisted_tokens: ["So11111111111111111111111111111111111111112"]
  max_hops: 4
risk:
  max_slippage: 0.02
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Trading.MaxHops)
	assert.Equal(t, 0.02, cfg.Risk.MaxSlippage)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	require.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("ARB_RPC_ENDPOINT", "https://rpc.example.net")
	t.Setenv("ARB_SIMULATE_ONLY", "true")
	t.Setenv("ARB_MIN_PROFIT_PCT", "0.05")

	path := writeConfig(t, "config.json", minimalJSON)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://rpc.example.net", cfg.Network.RPCEndpoint)
	assert.True(t, cfg.SimulateOnly)
	assert.Equal(t, 0.05, cfg.Trading.MinProfitPct)
}

func TestDotEnvFileLoaded(t *testing.T) {
	t.Setenv("ARB_LOG_LEVEL", "placeholder")
	require.NoError(t, os.Unsetenv("ARB_LOG_LEVEL"))

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("ARB_LOG_LEVEL=warn\n"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json"), []byte(minimalJSON), 0o600))

	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	defer func() { require.NoError(t, os.Chdir(wd)) }()

	cfg, err := Load("config.json")
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Monitoring.LogLevel)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := DefaultConfig()
		cfg.Trading.WhitelistedMarkets = []string{"m"}
		cfg.Trading.WhitelistedTokens = []string{"a", "b"}
		return cfg
	}

	t.Run("DefaultsNeedWhitelists", func(t *testing.T) {
		require.Error(t, DefaultConfig().Validate())
	})

	t.Run("ValidBaseline", func(t *testing.T) {
		require.NoError(t, valid().Validate())
	})

	t.Run("UnknownStrategy", func(t *testing.T) {
		cfg := valid()
		cfg.Trading.EnabledStrategies = []string{"direct", "martingale"}
		require.Error(t, cfg.Validate())
	})

	t.Run("TradeSizeOverDailyLimit", func(t *testing.T) {
		cfg := valid()
		cfg.Risk.MaxTradeSize = 100
		cfg.Risk.DailyVolumeLimit = 50
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "daily_volume_limit")
	})

	t.Run("TTLBeyondPositionTimeout", func(t *testing.T) {
		cfg := valid()
		cfg.Trading.OpportunityTTL = time.Minute
		cfg.Risk.PositionTimeout = time.Second
		require.Error(t, cfg.Validate())
	})

	t.Run("FlashLoansWithoutSources", func(t *testing.T) {
		cfg := valid()
		cfg.FlashLoan.Sources = nil
		require.Error(t, cfg.Validate())
	})

	t.Run("HopBounds", func(t *testing.T) {
		cfg := valid()
		cfg.Trading.MaxHops = 7
		require.Error(t, cfg.Validate())
	})
}

func TestStrategyEnabled(t *testing.T) {
	cfg := DefaultConfig()
	assert.True(t, cfg.StrategyEnabled("direct"))
	assert.True(t, cfg.StrategyEnabled("jit_liquidity"))
	assert.False(t, cfg.StrategyEnabled("martingale"))
}

func TestSaveRoundTrip(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Trading.WhitelistedMarkets = []string{"m"}
	cfg.Trading.WhitelistedTokens = []string{"a", "b"}
	cfg.Trading.MinProfitPct = 0.042

	path := filepath.Join(t.TempDir(), "saved.json")
	require.NoError(t, Save(cfg, path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.Trading.MinProfitPct, loaded.Trading.MinProfitPct)
	assert.Equal(t, cfg.Risk, loaded.Risk)
}
