package main

import (
	"fmt"

	"github.com/artpar/metergate/adapters/auth"
	"github.com/spf13/cobra"
)

var secretCmd = &cobra.Command{
	Use:   "secret",
	Short: "Generate a token signing secret",
	Long: `Print a random 256-bit hex secret for auth.jwt_secret
(METERGATE_AUTH_JWT_SECRET). Rotating it invalidates every issued token.`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), auth.GenerateSecret())
	},
}

func init() {
	rootCmd.AddCommand(secretCmd)
}
