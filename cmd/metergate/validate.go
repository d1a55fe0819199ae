package main

import (
	"context"
	"fmt"
	"os"
	"time"

	apihttp "github.com/artpar/metergate/adapters/http"
	"github.com/artpar/metergate/config"
	"github.com/spf13/cobra"
)

const (
	checkMark = "✓"
	crossMark = "✗"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration before deployment",
	Long: `Validate the metergate configuration.

Checks:
  - YAML syntax is valid
  - Required fields are present
  - Prediction service is reachable (optional)
  - Account store is reachable (optional)

Examples:
  metergate validate
  metergate validate --check-downstream --check-database`,
	RunE: runValidate,
}

var (
	validateCheckDownstream bool
	validateCheckDatabase   bool
)

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().BoolVar(&validateCheckDownstream, "check-downstream", false, "check if the prediction service is reachable")
	validateCmd.Flags().BoolVar(&validateCheckDatabase, "check-database", false, "check if the account store is reachable")
}

func runValidate(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	var (
		cfg *config.Config
		err error
	)
	if _, statErr := os.Stat(cfgFile); statErr == nil {
		fmt.Fprintf(out, "Validating %s...\n\n", cfgFile)
		cfg, err = config.Load(cfgFile)
	} else {
		fmt.Fprintf(out, "Validating %s* environment...\n\n", config.EnvPrefix)
		cfg, err = config.LoadFromEnv()
	}
	if err != nil {
		fmt.Fprintf(out, "  %s Config valid\n", crossMark)
		return fmt.Errorf("config error: %w", err)
	}
	fmt.Fprintf(out, "  %s Config valid\n", checkMark)
	fmt.Fprintf(out, "      Downstream: %s\n", cfg.Downstream.URL)
	fmt.Fprintf(out, "      Store:      %s\n", cfg.Database.Driver)
	fmt.Fprintf(out, "      Payments:   %s (%d tiers)\n", cfg.Payments.Provider, len(cfg.Payments.Tiers))

	if validateCheckDownstream {
		client, err := apihttp.NewUpstreamClient(apihttp.UpstreamConfig{BaseURL: cfg.Downstream.URL, Timeout: 5 * time.Second})
		if err != nil {
			return err
		}
		defer client.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.HealthCheck(ctx); err != nil {
			fmt.Fprintf(out, "  %s Downstream reachable\n", crossMark)
			return fmt.Errorf("downstream unreachable: %w", err)
		}
		fmt.Fprintf(out, "  %s Downstream reachable\n", checkMark)
	}

	if validateCheckDatabase {
		store, err := openStore(cmd.Context())
		if err != nil {
			fmt.Fprintf(out, "  %s Store reachable\n", crossMark)
			return err
		}
		defer store.Close()
		fmt.Fprintf(out, "  %s Store reachable\n", checkMark)
	}

	fmt.Fprintln(out, "\nConfiguration is valid.")
	return nil
}
