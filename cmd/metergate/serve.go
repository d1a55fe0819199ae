package main

import (
	"fmt"
	"os"

	"github.com/artpar/metergate/bootstrap"
	"github.com/artpar/metergate/config"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the gateway",
	Long: `Start the metergate HTTP server.

The server will:
  - Load configuration from metergate.yaml (or --config)
  - Or load configuration from METERGATE_* environment variables
  - Connect to the account store and apply migrations
  - Meter predict calls against account balances

Environment variables (for Docker deployments):
  METERGATE_DOWNSTREAM_URL          - Prediction service URL (required)
  METERGATE_AUTH_JWT_SECRET         - Token signing secret (required)
  METERGATE_DATABASE_DRIVER         - memory, sqlite, postgres, redis or mongo
  METERGATE_DATABASE_DSN            - Store connection string
  METERGATE_PAYMENTS_PROVIDER       - none, coinbase or stripe
  METERGATE_PAYMENTS_WEBHOOK_SECRET - Webhook signing secret
  METERGATE_SERVER_PORT             - Server port (default: 8080)
  METERGATE_LOG_LEVEL               - Log level: debug, info, warn, error

Examples:
  metergate serve
  metergate serve --config /etc/metergate/config.yaml

  # Docker (env vars only):
  METERGATE_DOWNSTREAM_URL=http://predictor:5000 METERGATE_AUTH_JWT_SECRET=... metergate serve`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	hasConfigFile := false
	if _, err := os.Stat(cfgFile); err == nil {
		hasConfigFile = true
	}

	if !hasConfigFile && !config.HasEnvConfig() {
		out := cmd.OutOrStdout()
		fmt.Fprintln(out, "No configuration found.")
		fmt.Fprintln(out)
		fmt.Fprintf(out, "Option 1: Create %s\n", cfgFile)
		fmt.Fprintf(out, "Option 2: Set %sDOWNSTREAM_URL and %sAUTH_JWT_SECRET\n", config.EnvPrefix, config.EnvPrefix)
		return nil
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if !hasConfigFile {
		fmt.Fprintln(cmd.OutOrStdout(), "Running with environment variables (no config file)")
	}

	app, err := bootstrap.New(cfg, version)
	if err != nil {
		return fmt.Errorf("error initializing: %w", err)
	}

	// Run (blocks until shutdown)
	return app.Run()
}
