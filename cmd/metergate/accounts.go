package main

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/artpar/metergate/app"
	"github.com/artpar/metergate/domain/account"
	"github.com/artpar/metergate/domain/quota"
	"github.com/artpar/metergate/ports"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var accountsCmd = &cobra.Command{
	Use:   "accounts",
	Short: "Inspect and credit accounts",
	Long: `Operator access to account balances.

Credits go through the same atomic store primitives as the HTTP API.
Pass --key to make a credit safe to retry.

Examples:
  metergate accounts show --identity alice@example.com
  metergate accounts credit --identity alice@example.com --amount 50 --key ticket-812
  metergate accounts grant-unlimited --identity alice@example.com`,
}

var accountsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show an account's balance and plan",
	RunE:  runAccountsShow,
}

var accountsCreditCmd = &cobra.Command{
	Use:   "credit",
	Short: "Add calls to an account's balance",
	RunE:  runAccountsCredit,
}

var accountsGrantCmd = &cobra.Command{
	Use:   "grant-unlimited",
	Short: "Move an account to the unlimited plan",
	RunE:  runAccountsGrant,
}

var (
	accountIdentity string
	creditAmount    int64
	creditKey       string
)

func init() {
	rootCmd.AddCommand(accountsCmd)

	accountsCmd.AddCommand(accountsShowCmd)
	accountsCmd.AddCommand(accountsCreditCmd)
	accountsCmd.AddCommand(accountsGrantCmd)

	accountsCmd.PersistentFlags().StringVar(&accountIdentity, "identity", "", "account identity (required)")
	accountsCmd.MarkPersistentFlagRequired("identity")

	accountsCreditCmd.Flags().Int64Var(&creditAmount, "amount", 0, "calls to add (required)")
	accountsCreditCmd.Flags().StringVar(&creditKey, "key", "", "idempotency key")
	accountsCreditCmd.MarkFlagRequired("amount")

	accountsGrantCmd.Flags().StringVar(&creditKey, "key", "", "idempotency key")
}

// withLedger opens the store, resolves --identity and hands both to fn.
func withLedger(cmd *cobra.Command, fn func(ledger *app.LedgerService, a account.Account) error) error {
	store, err := openStore(cmd.Context())
	if err != nil {
		return err
	}
	defer store.Close()

	ledger := app.NewLedgerService(store, zerolog.Nop())
	a, err := ledger.Find(cmd.Context(), accountIdentity)
	if err != nil {
		return fmt.Errorf("failed to find account %q: %w", accountIdentity, err)
	}
	return fn(ledger, a)
}

func runAccountsShow(cmd *cobra.Command, args []string) error {
	return withLedger(cmd, func(_ *app.LedgerService, a account.Account) error {
		printAccount(cmd.OutOrStdout(), a)
		return nil
	})
}

func runAccountsCredit(cmd *cobra.Command, args []string) error {
	if creditAmount <= 0 {
		return fmt.Errorf("--amount must be positive")
	}
	return withLedger(cmd, func(ledger *app.LedgerService, a account.Account) error {
		updated, err := ledger.Credit(cmd.Context(), a.ID, creditAmount, app.ManualCreditKey(a.ID, creditKey))
		if errors.Is(err, ports.ErrAlreadyApplied) {
			fmt.Fprintf(cmd.OutOrStdout(), "Key %q was already applied; balance unchanged.\n", creditKey)
		} else if err != nil {
			return fmt.Errorf("failed to credit: %w", err)
		}
		printAccount(cmd.OutOrStdout(), updated)
		return nil
	})
}

func runAccountsGrant(cmd *cobra.Command, args []string) error {
	return withLedger(cmd, func(ledger *app.LedgerService, a account.Account) error {
		updated, err := ledger.GrantUnlimited(cmd.Context(), a.ID, app.ManualCreditKey(a.ID, creditKey))
		if err != nil && !errors.Is(err, ports.ErrAlreadyApplied) {
			return fmt.Errorf("failed to grant: %w", err)
		}
		printAccount(cmd.OutOrStdout(), updated)
		return nil
	})
}

func printAccount(out io.Writer, a account.Account) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "ID:\t%s\n", a.ID)
	fmt.Fprintf(w, "Identity:\t%s\n", a.Identity)
	fmt.Fprintf(w, "Plan:\t%s\n", a.Plan)
	fmt.Fprintf(w, "Balance:\t%s\n", quota.Remaining(a))
	fmt.Fprintf(w, "Created:\t%s\n", a.CreatedAt.Format("2006-01-02 15:04:05"))
	w.Flush()
}
