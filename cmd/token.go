package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/site-thumbnailer/internal/app"
)

func newTokenCmd() *cobra.Command {
	var (
		userID string
		email  string
		ttl    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mints an HS256 bearer token",
		Long: `Signs a token with auth.jwt_secret for local testing of POST /thumbnail.
The token's subject is the user ID that must own the target project.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := resolveRuntime(cmd.Context())
			if err != nil {
				return err
			}
			authn, err := app.NewJWT(rt.cfg)
			if err != nil {
				return err
			}
			if ttl <= 0 {
				ttl = rt.cfg.TokenTTL()
			}
			token, err := authn.GenerateToken(userID, email, ttl)
			if err != nil {
				return fmt.Errorf("sign token: %w", err)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user ID placed in the sub claim")
	cmd.Flags().StringVar(&email, "email", "", "optional email claim")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (defaults to auth.token_ttl_seconds)")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
