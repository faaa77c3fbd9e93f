package cli

import (
	"context"
	"encoding/json"
	"errors"
	"io"

	"github.com/spf13/cobra"

	"catalog-rag/internal/cache"
)

// CacheAdmin is the cache administration surface the commands drive.
type CacheAdmin interface {
	GetStats(ctx context.Context) (cache.Stats, error)
	ListRecent(ctx context.Context, limit int) ([]cache.RecentEntry, error)
	ClearAll(ctx context.Context) (cache.ClearResult, error)
	CleanupExpired(ctx context.Context) (int64, error)
	InvalidateByDocument(ctx context.Context, documentID string) (int64, error)
	InvalidateByCatalog(ctx context.Context, catalogID string) (int64, error)
	InvalidateByUser(ctx context.Context, userID string) (int64, error)
}

// Connector opens the cache store on first use. The returned closer releases
// everything it opened.
type Connector func(ctx context.Context) (CacheAdmin, io.Closer, error)

// TokenIssuer signs an API token with the server's secret.
type TokenIssuer func(userID, username, role string) (string, error)

type Deps struct {
	Connect    Connector
	IssueToken TokenIssuer
}

var (
	connector   Connector
	tokenIssuer TokenIssuer
	// cacheAdmin short-circuits connector; tests set it directly.
	cacheAdmin CacheAdmin
	jsonOutput bool
)

var rootCmd = &cobra.Command{
	Use:           "cachectl",
	Short:         "Administer the catalog answer cache",
	Long:          `Inspect, clean and invalidate the answer and embedding caches shared by catalog-rag servers.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Print results as JSON")
}

func Execute(ctx context.Context, deps Deps) error {
	connector = deps.Connect
	tokenIssuer = deps.IssueToken
	return rootCmd.ExecuteContext(ctx)
}

// withStore opens the store for the duration of one command.
func withStore(run func(cmd *cobra.Command, args []string, admin CacheAdmin) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		if cacheAdmin != nil {
			return run(cmd, args, cacheAdmin)
		}
		if connector == nil {
			return errors.New("cache store not configured")
		}
		admin, closer, err := connector(cmd.Context())
		if err != nil {
			return err
		}
		runErr := run(cmd, args, admin)
		return errors.Join(runErr, closer.Close())
	}
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
