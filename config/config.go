// Package config loads and validates the engine configuration. The file is
// read once at process start; limits are immutable for the process lifetime
// and reloadable only via full restart.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v2"
)

// Config is the full configuration surface of the engine.
type Config struct {
	Network    NetworkConfig    `json:"network" yaml:"network"`
	Trading    TradingConfig    `json:"trading" yaml:"trading"`
	Risk       RiskConfig       `json:"risk" yaml:"risk"`
	FlashLoan  FlashLoanConfig  `json:"flash_loan" yaml:"flash_loan"`
	Monitoring MonitoringConfig `json:"monitoring" yaml:"monitoring"`

	// KeypairPath locates the signing key consumed by the external signer.
	KeypairPath string `json:"keypair_path" yaml:"keypair_path"`

	// SimulateOnly runs the full pipeline but suppresses real submission.
	SimulateOnly bool `json:"simulate_only" yaml:"simulate_only"`
}

type NetworkConfig struct {
	RPCEndpoint       string        `json:"rpc_endpoint" yaml:"rpc_endpoint" validate:"required,url"`
	WSEndpoint        string        `json:"ws_endpoint" yaml:"ws_endpoint" validate:"required"`
	BackupNodes       []string      `json:"backup_nodes" yaml:"backup_nodes"`
	RequestTimeout    time.Duration `json:"request_timeout" yaml:"request_timeout" validate:"gt=0"`
	MaxRetries        int           `json:"max_retries" yaml:"max_retries" validate:"gte=0"`
	RetryBackoff      time.Duration `json:"retry_backoff" yaml:"retry_backoff" validate:"gt=0"`
	RequestsPerSecond float64       `json:"requests_per_second" yaml:"requests_per_second" validate:"gt=0"`
	BurstSize         int           `json:"burst_size" yaml:"burst_size" validate:"gt=0"`
	Confirmations     uint64        `json:"confirmations" yaml:"confirmations" validate:"gte=1"`
}

type TradingConfig struct {
	WhitelistedMarkets []string `json:"whitelisted_markets" yaml:"whitelisted_markets" validate:"min=1"`
	WhitelistedTokens  []string `json:"whitelisted_tokens" yaml:"whitelisted_tokens" validate:"min=1"`
	EnabledStrategies  []string `json:"enabled_strategies" yaml:"enabled_strategies" validate:"min=1,dive,oneof=direct flash_loan jit_liquidity"`

	// MinProfitPct is the minimum net profit, as a fraction (0.01 = 1%),
	// below which candidates never reach the strategy selector.
	MinProfitPct float64 `json:"min_profit_pct" yaml:"min_profit_pct" validate:"gt=0"`

	MinLiquidity uint64  `json:"min_liquidity" yaml:"min_liquidity" validate:"gt=0"`
	MaxSpread    float64 `json:"max_spread" yaml:"max_spread" validate:"gt=0"`
	MaxHops      int     `json:"max_hops" yaml:"max_hops" validate:"gte=2,lte=5"`

	// AvailableCapital is the locally held quote-token balance usable for
	// direct execution.
	AvailableCapital uint64 `json:"available_capital" yaml:"available_capital"`

	// FixedCostPerLeg approximates network fees per route hop, in quote
	// units, charged against projected profit.
	FixedCostPerLeg uint64 `json:"fixed_cost_per_leg" yaml:"fixed_cost_per_leg"`

	// OpportunityTTL bounds how long a detected opportunity may wait before
	// it is considered stale regardless of snapshot versions.
	OpportunityTTL time.Duration `json:"opportunity_ttl" yaml:"opportunity_ttl" validate:"gt=0"`

	// JitWindow is the maximum lead time before a pending order inside
	// which just-in-time liquidity provision is attempted.
	JitWindow time.Duration `json:"jit_window" yaml:"jit_window" validate:"gt=0"`
}

type RiskConfig struct {
	MaxTradeSize        uint64        `json:"max_trade_size" yaml:"max_trade_size" validate:"gt=0"`
	DailyVolumeLimit    uint64        `json:"daily_volume_limit" yaml:"daily_volume_limit" validate:"gt=0"`
	MaxSlippage         float64       `json:"max_slippage" yaml:"max_slippage" validate:"gt=0,lt=1"`
	MaxConcurrentTrades int           `json:"max_concurrent_trades" yaml:"max_concurrent_trades" validate:"gte=1"`
	PositionTimeout     time.Duration `json:"position_timeout" yaml:"position_timeout" validate:"gt=0"`

	// SimulationTolerance is the maximum relative divergence between the
	// pre-flight projection and the opportunity's expected output.
	SimulationTolerance float64 `json:"simulation_tolerance" yaml:"simulation_tolerance" validate:"gt=0,lt=1"`
}

type FlashLoanConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`

	// Sources names the providers consulted for loan quotes, cheapest
	// sufficient quote wins.
	Sources []string `json:"sources" yaml:"sources" validate:"dive,oneof=solend port"`

	// FeeOverrides replaces a provider's default fee rate, in basis points.
	FeeOverrides map[string]uint16 `json:"fee_overrides" yaml:"fee_overrides"`

	// Programs and Pools map a provider name to its lending program and pool
	// account, base58. A source without both entries is skipped at startup.
	Programs map[string]string `json:"programs" yaml:"programs"`
	Pools    map[string]string `json:"pools" yaml:"pools"`
}

type MonitoringConfig struct {
	MetricsEnabled     bool          `json:"metrics_enabled" yaml:"metrics_enabled"`
	PrometheusEndpoint string        `json:"prometheus_endpoint" yaml:"prometheus_endpoint"`
	HealthInterval     time.Duration `json:"health_interval" yaml:"health_interval" validate:"gt=0"`
	JournalDSN         string        `json:"journal_dsn" yaml:"journal_dsn"`
	LogLevel           string        `json:"log_level" yaml:"log_level" validate:"oneof=debug info warn error"`
}

// DefaultConfig returns a runnable configuration for a local validator.
// Whitelists are intentionally empty; they must come from the config file.
func DefaultConfig() *Config {
	return &Config{
		Network: NetworkConfig{
			RPCEndpoint:       "http://localhost:8899",
			WSEndpoint:        "ws://localhost:8900",
			RequestTimeout:    5 * time.Second,
			MaxRetries:        3,
			RetryBackoff:      500 * time.Millisecond,
			RequestsPerSecond: 20,
			BurstSize:         40,
			Confirmations:     1,
		},
		Trading: TradingConfig{
			EnabledStrategies: []string{"direct", "flash_loan", "jit_liquidity"},
			MinProfitPct:      0.01,
			MinLiquidity:      1_000_000,
			MaxSpread:         0.05,
			MaxHops:           3,
			FixedCostPerLeg:   5_000,
			OpportunityTTL:    5 * time.Second,
			JitWindow:         2 * time.Second,
		},
		Risk: RiskConfig{
			MaxTradeSize:        1_000_000_000,
			DailyVolumeLimit:    1_000_000_000_000,
			MaxSlippage:         0.01,
			MaxConcurrentTrades: 3,
			PositionTimeout:     30 * time.Second,
			SimulationTolerance: 0.005,
		},
		FlashLoan: FlashLoanConfig{
			Enabled: true,
			Sources: []string{"solend", "port"},
		},
		Monitoring: MonitoringConfig{
			MetricsEnabled: true,
			HealthInterval: 30 * time.Second,
			LogLevel:       "info",
		},
	}
}

// Load reads the configuration file (JSON or YAML by extension), applies
// environment overrides and validates the result. An empty path falls back
// to $HOME/.arbengine.json.
func Load(cfgFile string) (*Config, error) {
	LoadEnv()

	if cfgFile == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home directory: %w", err)
		}
		cfgFile = filepath.Join(home, ".arbengine.json")
	}

	raw, err := os.ReadFile(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := DefaultConfig()
	switch strings.ToLower(filepath.Ext(cfgFile)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("decode yaml config: %w", err)
		}
	default:
		if err := json.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("decode json config: %w", err)
		}
	}

	if err := ApplyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var validate = validator.New()

// Validate checks tag constraints plus the cross-field rules the tags cannot
// express.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	var errs []string
	if c.FlashLoan.Enabled && len(c.FlashLoan.Sources) == 0 {
		errs = append(errs, "flash_loan.sources must not be empty when flash loans are enabled")
	}
	if c.Risk.MaxTradeSize > c.Risk.DailyVolumeLimit {
		errs = append(errs, "risk.max_trade_size exceeds risk.daily_volume_limit")
	}
	if c.Trading.OpportunityTTL > c.Risk.PositionTimeout {
		errs = append(errs, "trading.opportunity_ttl must not exceed risk.position_timeout")
	}
	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// StrategyEnabled reports whether the named strategy is in the enabled set.
func (c *Config) StrategyEnabled(name string) bool {
	for _, s := range c.Trading.EnabledStrategies {
		if s == name {
			return true
		}
	}
	return false
}

// Save writes the configuration back to disk as indented JSON.
func Save(cfg *Config, cfgFile string) error {
	raw, err := json.MarshalIndent(cfg, "", "    ")
	if err != nil {
		return err
	}
	return os.WriteFile(cfgFile, raw, 0o600)
}
