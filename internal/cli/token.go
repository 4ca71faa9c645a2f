package cli

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/kit-dsn/pfennigfuchs/internal/config"
	"github.com/kit-dsn/pfennigfuchs/internal/services"
)

// TokenOptions holds flags for the token command.
type TokenOptions struct {
	*RootOptions
	Subject string
}

// NewTokenCommand creates the token command.
func NewTokenCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TokenOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for the query API",
		Long: `Issue a bearer token signed with API_JWT_SECRET. The token expires
after API_JWT_EXPIRY.

Example:
  pfsync token --subject grafana`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			secret, expiry, err := config.LoadAPIAuth()
			if err != nil {
				return err
			}
			token, expiresAt, err := services.NewAuthService(secret, expiry).IssueToken(opts.Subject)
			if err != nil {
				return fmt.Errorf("failed to issue token: %w", err)
			}

			out := cmd.OutOrStdout()
			if opts.Format == "json" {
				return json.NewEncoder(out).Encode(map[string]string{
					"token":      token,
					"expires_at": expiresAt.UTC().Format(time.RFC3339),
				})
			}
			fmt.Fprintln(out, token)
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.Subject, "subject", "operator", "name the token is issued to")

	return cmd
}
