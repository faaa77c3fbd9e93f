package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

var tokenCmd = &cobra.Command{
	Use:   "token [user-id]",
	Short: "Issue an API token",
	Long:  `Signs a bearer token for the HTTP API. Use --role admin for the /admin routes.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runToken,
}

var (
	tokenRole     string
	tokenUsername string
)

func init() {
	tokenCmd.Flags().StringVar(&tokenRole, "role", "", "Role claim, e.g. admin")
	tokenCmd.Flags().StringVar(&tokenUsername, "username", "", "Display name claim")
	rootCmd.AddCommand(tokenCmd)
}

func runToken(cmd *cobra.Command, args []string) error {
	if tokenIssuer == nil {
		return errors.New("token issuer not configured")
	}
	token, err := tokenIssuer(args[0], tokenUsername, tokenRole)
	if err != nil {
		return fmt.Errorf("failed to issue token: %w", err)
	}
	// stdout, so the token can be captured by scripts
	_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
	return err
}
