package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var (
	queryTopK     int
	queryPatterns bool
)

var queryCmd = &cobra.Command{
	Use:   "query [text]",
	Short: "Search memory by similarity",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runQuery,
}

func init() {
	queryCmd.Flags().IntVar(&queryTopK, "top-k", 5, "number of results")
	queryCmd.Flags().BoolVar(&queryPatterns, "patterns", false, "search patterns instead of records")
}

func runQuery(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	mem, cleanup, err := openSubsystem(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	text := strings.Join(args, " ")

	if queryPatterns {
		matches, err := mem.QueryPatterns(cmd.Context(), text, queryTopK)
		if err != nil {
			return err
		}
		if len(matches) == 0 {
			fmt.Println("no patterns")
			return nil
		}
		for _, m := range matches {
			fmt.Printf("%.3f  %s  sources=%d confidence=%.2f\n",
				m.Similarity, m.Pattern.PatternID, m.Pattern.SourceRecordCount, m.Pattern.Confidence)
		}
		return nil
	}

	results, err := mem.Query(cmd.Context(), text, queryTopK)
	if err != nil {
		return err
	}
	if len(results) == 0 {
		fmt.Println("no results")
		return nil
	}
	for _, r := range results {
		content := r.Record.Content
		if len(content) > 80 {
			content = content[:77] + "..."
		}
		fmt.Printf("%.3f  [%s/%s]  %s\n", r.Similarity, r.Record.Tier, r.Record.Phase, content)
	}
	return nil
}
