package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/rmacdonaldsmith/eth-engine-go/internal/httpapi"
)

func newTokenCommand() *cobra.Command {
	var (
		secret   string
		clientID string
		admin    bool
		ttl      time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an admin API token",
		Long: `Sign a JWT with the engine's secret. The engine has no login endpoint;
whoever holds the secret mints tokens.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if secret == "" {
				return fmt.Errorf("a secret is required (--secret or ETH_ENGINE_HTTP_JWT_SECRET)")
			}
			signed, expiresAt, err := httpapi.NewJWTAuth(secret, ttl).GenerateToken(clientID, admin)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, signed)
			fmt.Fprintf(cmd.ErrOrStderr(), "Expires at %s\n", expiresAt.Format(time.RFC3339))
			return nil
		},
	}

	cmd.Flags().StringVar(&secret, "secret", os.Getenv("ETH_ENGINE_HTTP_JWT_SECRET"), "JWT signing secret")
	cmd.Flags().StringVar(&clientID, "client-id", "ethengine-cli", "Token subject")
	cmd.Flags().BoolVar(&admin, "admin", true, "Grant admin privileges")
	cmd.Flags().DurationVar(&ttl, "ttl", httpapi.DefaultTokenTTL, "Token lifetime")
	return cmd
}
