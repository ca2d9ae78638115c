package commands

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"oobind/internal/auth"
)

// token: mint an admin bearer token from the service's ADMIN_SECRET.
func tokenCmd() *cobra.Command {
	var (
		secret   string
		operator string
		expiry   time.Duration
		scopes   []string
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an admin bearer token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if secret == "" {
				secret = os.Getenv("ADMIN_SECRET")
			}
			if secret == "" {
				return fmt.Errorf("admin secret required (--secret or ADMIN_SECRET)")
			}
			cfg := auth.DefaultTokenConfig(secret)
			cfg.Expiry = expiry
			tok, err := auth.CreateToken(operator, scopes, cfg)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&secret, "secret", "", "HS256 secret (default $ADMIN_SECRET)")
	cmd.Flags().StringVar(&operator, "operator", "operator", "operator name recorded in the token")
	cmd.Flags().DurationVar(&expiry, "expiry", time.Hour, "token lifetime")
	cmd.Flags().StringSliceVar(&scopes, "scope", auth.AllScopes, "scopes to grant (sessions:read, sessions:expire)")
	return cmd
}
