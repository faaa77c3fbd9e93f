package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var invalidateCmd = &cobra.Command{
	Use:   "invalidate",
	Short: "Drop cached answers by scope",
}

var invalidateDocumentCmd = &cobra.Command{
	Use:   "document [document-id]",
	Short: "Drop answers that cite a document",
	Args:  cobra.ExactArgs(1),
	RunE: withStore(func(cmd *cobra.Command, args []string, admin CacheAdmin) error {
		return runInvalidate(cmd, "document", args[0], admin.InvalidateByDocument)
	}),
}

var invalidateCatalogCmd = &cobra.Command{
	Use:   "catalog [catalog-id]",
	Short: "Drop answers scoped to a catalog",
	Args:  cobra.ExactArgs(1),
	RunE: withStore(func(cmd *cobra.Command, args []string, admin CacheAdmin) error {
		return runInvalidate(cmd, "catalog", args[0], admin.InvalidateByCatalog)
	}),
}

var invalidateUserCmd = &cobra.Command{
	Use:   "user [user-id]",
	Short: "Drop answers scoped to a user",
	Args:  cobra.ExactArgs(1),
	RunE: withStore(func(cmd *cobra.Command, args []string, admin CacheAdmin) error {
		return runInvalidate(cmd, "user", args[0], admin.InvalidateByUser)
	}),
}

func init() {
	invalidateCmd.AddCommand(invalidateDocumentCmd)
	invalidateCmd.AddCommand(invalidateCatalogCmd)
	invalidateCmd.AddCommand(invalidateUserCmd)
	rootCmd.AddCommand(invalidateCmd)
}

func runInvalidate(cmd *cobra.Command, scope, id string, fn func(context.Context, string) (int64, error)) error {
	n, err := fn(cmd.Context(), id)
	if err != nil {
		return fmt.Errorf("failed to invalidate %s %s: %w", scope, id, err)
	}
	if jsonOutput {
		return printJSON(cmd, map[string]any{"scope": scope, "id": id, "invalidated": n})
	}
	cmd.Printf("Invalidated %d entries for %s %s\n", n, scope, id)
	return nil
}
