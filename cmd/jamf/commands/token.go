package commands

import (
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

// TokenInfo is the output of the token command.
type TokenInfo struct {
	Kind      string     `json:"kind"                 yaml:"kind"`
	Token     string     `json:"token"                yaml:"token"`
	ExpiresAt *time.Time `json:"expires_at,omitempty" yaml:"expires_at,omitempty"`
	Scopes    []string   `json:"scopes,omitempty"     yaml:"scopes,omitempty"`
}

// NewTokenCommand creates the token command.
func NewTokenCommand() *cobra.Command {
	var reveal bool

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Print the current access token",
		Long: `Obtain an access token with the configured credentials and print it.
With a NATS URL configured the token is shared with other processes through a
JetStream key-value bucket; token_cache selects memory, nats or none.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			session, err := newClient(cmd.Context())
			if err != nil {
				return err
			}
			defer session.Close()

			token, err := session.client.AccessToken(cmd.Context())
			if err != nil {
				return err
			}

			info := TokenInfo{
				Kind:   string(token.Kind),
				Token:  token.Value,
				Scopes: token.Scopes(),
			}

			if !reveal {
				info.Token = maskSecret(token.Value)
			}

			if !token.ExpiresAt.IsZero() {
				info.ExpiresAt = &token.ExpiresAt
			}

			return writeOutput(cmd.OutOrStdout(), info, func(table *tablewriter.Table) {
				table.Header("Property", "Value")
				_ = table.Append("Kind", info.Kind)
				_ = table.Append("Token", info.Token)
				_ = table.Append("Expires", formatExpiry(token.ExpiresAt, time.Now()))
			})
		},
	}

	cmd.Flags().BoolVar(&reveal, "reveal", false, "print the full token")

	return cmd
}
