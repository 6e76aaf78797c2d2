package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Kocoro-lab/Shannon/go/legalqa/internal/auth"
	"github.com/Kocoro-lab/Shannon/go/legalqa/internal/config"
)

var (
	tokenSubject string
	tokenScopes  []string
	tokenTTL     time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint an API token with the service's signing key",
	Long: `Mint a bearer token. The signing key and issuer come from the service
configuration (CONFIG_PATH, LEGALQA_* and JWT_SECRET).`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fail(err, "load config")
		}
		ttl := tokenTTL
		if ttl == 0 {
			ttl = cfg.Server.Auth.TokenTTL
		}
		tok, err := auth.NewJWTManager(cfg.Server.Auth.JWTSecret, cfg.Server.Auth.Issuer, ttl).Issue(tokenSubject, tokenScopes...)
		if err != nil {
			return fail(err, "issue token")
		}
		fmt.Fprintln(cmd.OutOrStdout(), tok)
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenSubject, "subject", "legalctl", "token subject")
	tokenCmd.Flags().StringSliceVar(&tokenScopes, "scope", nil, "scopes to grant (default: all)")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 0, "token lifetime (default: server.auth.token_ttl)")
}
