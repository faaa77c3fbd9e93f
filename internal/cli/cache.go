package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show cache statistics",
	Args:  cobra.NoArgs,
	RunE:  withStore(runStats),
}

var recentCmd = &cobra.Command{
	Use:   "recent",
	Short: "List recently used cache entries",
	Args:  cobra.NoArgs,
	RunE:  withStore(runRecent),
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove every cached answer and embedding",
	Long:  `Empties both cache tiers. Requires --yes.`,
	Args:  cobra.NoArgs,
	RunE:  withStore(runClear),
}

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete expired cache entries",
	Args:  cobra.NoArgs,
	RunE:  withStore(runCleanup),
}

var (
	recentLimit  int
	confirmClear bool
)

func init() {
	recentCmd.Flags().IntVarP(&recentLimit, "limit", "n", 20, "Number of entries to list")
	clearCmd.Flags().BoolVarP(&confirmClear, "yes", "y", false, "Confirm clearing the cache")

	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(recentCmd)
	rootCmd.AddCommand(clearCmd)
	rootCmd.AddCommand(cleanupCmd)
}

func runStats(cmd *cobra.Command, _ []string, admin CacheAdmin) error {
	stats, err := admin.GetStats(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to load stats: %w", err)
	}
	if jsonOutput {
		return printJSON(cmd, stats)
	}

	cmd.Printf("Fast tier:        %s\n", stats.FastTier)
	cmd.Printf("Entries:          %d (%d live, max %d)\n", stats.TotalEntries, stats.LiveEntries, stats.MaxEntries)
	cmd.Printf("Hits:             %d (avg %.2f per entry)\n", stats.TotalHits, stats.AvgHitCount)
	cmd.Printf("Embeddings:       %d\n", stats.EmbeddingCacheSize)
	if stats.OldestEntry != nil {
		cmd.Printf("Oldest entry:     %s\n", stats.OldestEntry.Format(time.RFC3339))
	}
	if stats.NewestEntry != nil {
		cmd.Printf("Newest entry:     %s\n", stats.NewestEntry.Format(time.RFC3339))
	}
	return nil
}

func runRecent(cmd *cobra.Command, _ []string, admin CacheAdmin) error {
	if recentLimit < 0 {
		return errors.New("--limit must not be negative")
	}
	entries, err := admin.ListRecent(cmd.Context(), recentLimit)
	if err != nil {
		return fmt.Errorf("failed to list entries: %w", err)
	}
	if jsonOutput {
		return printJSON(cmd, entries)
	}
	if len(entries) == 0 {
		cmd.Println("No cache entries.")
		return nil
	}

	for i := range entries {
		e := &entries[i]
		cmd.Printf("  #%d  %s\n", e.ID, e.Query)
		cmd.Printf("    Hits: %d  Last used: %s  Expires: %s\n", e.HitCount, e.LastUsed.Format(time.RFC3339), e.ExpiresAt.Format(time.RFC3339))
		if e.CatalogID != "" || e.UserID != "" {
			cmd.Printf("    Scope: catalog=%q user=%q\n", e.CatalogID, e.UserID)
		}
		cmd.Printf("    Documents: %v\n", e.DocumentIDs)
		cmd.Println()
	}
	cmd.Printf("Total: %d entries\n", len(entries))
	return nil
}

func runClear(cmd *cobra.Command, _ []string, admin CacheAdmin) error {
	if !confirmClear {
		return errors.New("refusing to clear the cache without --yes")
	}
	res, err := admin.ClearAll(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to clear cache: %w", err)
	}
	if jsonOutput {
		return printJSON(cmd, res)
	}
	cmd.Printf("Cleared %d answers, %d embeddings, %d fast-tier keys\n", res.Queries, res.Embeddings, res.FastTier)
	return nil
}

func runCleanup(cmd *cobra.Command, _ []string, admin CacheAdmin) error {
	n, err := admin.CleanupExpired(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to clean up: %w", err)
	}
	if jsonOutput {
		return printJSON(cmd, map[string]int64{"deleted": n})
	}
	cmd.Printf("Deleted %d expired entries\n", n)
	return nil
}
