package main

import (
	"fmt"
	"os"

	"github.com/artpar/metergate/config"
	"github.com/spf13/cobra"
)

var (
	// Global flags
	cfgFile string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "metergate",
	Short: "Metered gateway in front of a contract address prediction service",
	Long: `metergate sells per-call access to a prediction service.

Accounts register and log in, spend one call from their balance per
prediction, and are topped up by payment processor webhooks.

Quick start:
  metergate serve      # Start the gateway
  metergate migrate    # Prepare the account store

Management:
  metergate accounts   # Inspect and credit accounts
  metergate validate   # Validate configuration`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "metergate.yaml", "config file path")
}

// loadConfig reads the config file, falling back to METERGATE_* variables.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadWithFallback(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}
