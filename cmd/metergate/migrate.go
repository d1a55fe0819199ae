package main

import (
	"context"
	"fmt"
	"time"

	"github.com/artpar/metergate/adapters/clock"
	"github.com/artpar/metergate/bootstrap"
	"github.com/artpar/metergate/ports"
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply account store migrations",
	Long: `Connect to the configured account store and apply pending migrations.

sqlite and postgres create the accounts and applied-keys tables, mongo
creates the unique identity index. memory and redis need no schema.

serve applies the same migrations on startup; run this ahead of a
deploy to fail early.`,
	RunE: runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	store, err := openStore(cmd.Context())
	if err != nil {
		return err
	}
	defer store.Close()

	fmt.Fprintln(cmd.OutOrStdout(), "Migrations applied.")
	return nil
}

// openStore loads configuration and connects the account store, running
// migrations on the way.
func openStore(ctx context.Context) (ports.AccountStore, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	logger := bootstrap.SetupLogger(cfg.Logging)
	store, err := bootstrap.OpenStore(ctx, cfg.Database, clock.Real{}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", cfg.Database.Driver, err)
	}
	return store, nil
}
