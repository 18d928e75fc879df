package config

import (
	"fmt"
	"os"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// envOverrides mirrors the subset of configuration that operators commonly
// inject through the environment rather than the config file.
type envOverrides struct {
	RPCEndpoint  string  `env:"ARB_RPC_ENDPOINT"`
	WSEndpoint   string  `env:"ARB_WS_ENDPOINT"`
	KeypairPath  string  `env:"ARB_KEYPAIR_PATH"`
	JournalDSN   string  `env:"ARB_JOURNAL_DSN"`
	SimulateOnly *bool   `env:"ARB_SIMULATE_ONLY"`
	MinProfitPct float64 `env:"ARB_MIN_PROFIT_PCT"`
	LogLevel     string  `env:"ARB_LOG_LEVEL"`
}

// LoadEnv loads variables from a .env file if one is present. A missing file
// is not an error.
func LoadEnv() {
	if _, err := os.Stat(".env"); err == nil {
		_ = godotenv.Load()
	}
}

// ApplyEnvOverrides layers environment values on top of the file config.
func ApplyEnvOverrides(cfg *Config) error {
	var o envOverrides
	if err := env.Parse(&o); err != nil {
		return fmt.Errorf("parse environment overrides: %w", err)
	}

	if o.RPCEndpoint != "" {
		cfg.Network.RPCEndpoint = o.RPCEndpoint
	}
	if o.WSEndpoint != "" {
		cfg.Network.WSEndpoint = o.WSEndpoint
	}
	if o.KeypairPath != "" {
		cfg.KeypairPath = o.KeypairPath
	}
	if o.JournalDSN != "" {
		cfg.Monitoring.JournalDSN = o.JournalDSN
	}
	if o.SimulateOnly != nil {
		cfg.SimulateOnly = *o.SimulateOnly
	}
	if o.MinProfitPct > 0 {
		cfg.Trading.MinProfitPct = o.MinProfitPct
	}
	if o.LogLevel != "" {
		cfg.Monitoring.LogLevel = o.LogLevel
	}
	return nil
}
