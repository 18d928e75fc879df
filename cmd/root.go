package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/quantfall/arbengine/utils"
)

var (
	cfgFile string
	debug   bool
	dryRun  bool
)

var rootCmd = &cobra.Command{
	Use:   "arbengine",
	Short: "Automated cross-venue arbitrage engine",
	Long: `An engine that aggregates live market state across venues, detects
profitable arbitrage cycles, and executes them as guarded atomic bundles
under strict risk limits.`,
}

func Execute() error {
	return rootCmd.Execute()
}

func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	cobra.OnInitialize(initLogging)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.arbengine.json)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
}

func initLogging() {
	utils.InitLogger(debug)
}
