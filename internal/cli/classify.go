package cli

import (
	"errors"
	"strings"

	"github.com/spf13/cobra"

	"catalog-rag/internal/classifier"
)

var classifyCmd = &cobra.Command{
	Use:   "classify [question]",
	Short: "Show how a question would be routed",
	Long:  `Runs the query classifier locally. No database or network access.`,
	Args:  cobra.MinimumNArgs(1),
	RunE:  runClassify,
}

func init() {
	rootCmd.AddCommand(classifyCmd)
}

func runClassify(cmd *cobra.Command, args []string) error {
	question := strings.TrimSpace(strings.Join(args, " "))
	if question == "" {
		return errors.New("question is empty")
	}
	a := classifier.Classify(question)
	if jsonOutput {
		return printJSON(cmd, a)
	}

	cmd.Printf("Type:              %s\n", a.Type)
	cmd.Printf("Context size:      %d\n", a.ContextSize)
	cmd.Printf("Count query:       %t\n", a.IsCountQuery)
	cmd.Printf("Full scan:         %t\n", a.RequiresFullScan)
	cmd.Printf("Multi query:       %t\n", a.NeedsMultiQuery)
	if len(a.Categories) > 0 {
		cmd.Printf("Categories:        %s\n", strings.Join(a.Categories, ", "))
	}
	if len(a.Keywords) > 0 {
		cmd.Printf("Keywords:          %s\n", strings.Join(a.Keywords, ", "))
	}
	for _, q := range a.SuggestedQueries {
		cmd.Printf("  query: %s\n", q)
	}
	return nil
}
