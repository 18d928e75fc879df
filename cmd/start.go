package cmd

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/quantfall/arbengine/cmd/engine"
	"github.com/quantfall/arbengine/config"
	"github.com/quantfall/arbengine/utils"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the arbitrage engine",
	RunE: func(cmd *cobra.Command, args []string) error {
		log := utils.GetLogger()
		defer utils.CleanupLogger()

		cfg, err := config.Load(cfgFile)
		if err != nil {
			log.Error("Failed to load configuration", zap.Error(err))
			return err
		}
		if dryRun {
			cfg.SimulateOnly = true
		}

		// The --debug flag outranks the configured level.
		if !debug {
			if err := utils.SetLogLevel(cfg.Monitoring.LogLevel); err != nil {
				log.Warn("Invalid log level in configuration", zap.Error(err))
			}
		}

		ctx := cmd.Context()
		eng, err := engine.New(ctx, cfg, log)
		if err != nil {
			log.Error("Failed to assemble engine", zap.Error(err))
			return err
		}

		log.Info("Starting arbitrage engine",
			zap.Int("markets", len(cfg.Trading.WhitelistedMarkets)),
			zap.Strings("strategies", cfg.Trading.EnabledStrategies),
			zap.Bool("simulate_only", cfg.SimulateOnly))

		if err := eng.Run(ctx); err != nil {
			log.Error("Engine stopped with error", zap.Error(err))
			return err
		}
		log.Info("Engine stopped")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(startCmd)
	startCmd.Flags().BoolVar(&dryRun, "dry-run", false, "run the full pipeline without submitting transactions")
}
