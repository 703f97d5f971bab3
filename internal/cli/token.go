package cli

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	jwttoken "hcert/internal/jwt_token"
	"hcert/internal/platform/config"
)

type tokenFlags struct {
	subject  string
	ttl      time.Duration
	key      string
	issuer   string
	audience string
}

func newTokenCommand() *cobra.Command {
	defaults := config.Default().Server
	flags := &tokenFlags{}
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an admin token for the trusted key API",
		Long:  "Signs an HS256 admin token with the key from --key or HCERT_ADMIN_JWT_KEY.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			key := flags.key
			if key == "" {
				key = os.Getenv("HCERT_ADMIN_JWT_KEY")
			}
			if key == "" {
				return errors.New("signing key required: set --key or HCERT_ADMIN_JWT_KEY")
			}
			if flags.subject == "" {
				return errors.New("--subject must not be empty")
			}
			tokens := jwttoken.NewJWTService(key, flags.issuer, flags.audience)
			token, err := tokens.GenerateAdminToken(flags.subject, flags.ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&flags.subject, "subject", "operator", "token subject")
	cmd.Flags().DurationVar(&flags.ttl, "ttl", time.Hour, "token lifetime")
	cmd.Flags().StringVar(&flags.key, "key", "", "HMAC signing key")
	cmd.Flags().StringVar(&flags.issuer, "issuer", defaults.AdminJWTIssuer, "token issuer")
	cmd.Flags().StringVar(&flags.audience, "audience", defaults.AdminJWTAudience, "token audience")
	return cmd
}
