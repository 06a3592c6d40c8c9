package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/octosync/octosync/internal/doc"
	"github.com/octosync/octosync/internal/storage"
	"github.com/octosync/octosync/internal/ui"
)

var searchCmd = &cobra.Command{
	Use:     "search <workspace> <query>",
	GroupID: "data",
	Short:   "Search the values of a workspace document",
	Long: `Print the keys of a workspace document whose text values contain the
query. Matching ignores case and accents.

By default every key is searched. Restrict the search index with --field,
or set search-fields in octosync.yaml.

Examples:
  octosync search notes weekly
  octosync search notes weekly --field title --field summary`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		jsonOutput, _ := cmd.Flags().GetBool("json")
		workspaceID, query := args[0], args[1]

		s, err := openStorage(false)
		if err != nil {
			return err
		}
		defer s.Close()

		matches, err := searchWorkspace(context.Background(), s, workspaceID, query, viper.GetStringSlice("search-fields"))
		if err != nil {
			return err
		}

		if jsonOutput {
			if matches == nil {
				matches = []doc.Match{}
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(matches); err != nil {
				return fmt.Errorf("failed to encode output: %w", err)
			}
			return nil
		}

		if len(matches) == 0 {
			fmt.Println(ui.RenderMuted("No matches"))
			return nil
		}
		rows := make([][]string, 0, len(matches))
		for _, m := range matches {
			rows = append(rows, []string{m.Key, m.Value})
		}
		fmt.Print(ui.Table([]string{"KEY", "VALUE"}, rows))
		return nil
	},
}

// searchWorkspace searches a workspace over the given index fields.
func searchWorkspace(ctx context.Context, s *storage.Storage, workspaceID, query string, fields []string) ([]doc.Match, error) {
	ws, err := openWorkspace(ctx, s, workspaceID)
	if err != nil {
		return nil, err
	}
	defer ws.Close()

	if err := ws.SetSearchIndex(fields); err != nil {
		return nil, err
	}
	return ws.Search(query)
}

func init() {
	searchCmd.Flags().StringSlice("field", nil, "search only this key (repeatable)")
	searchCmd.Flags().Bool("json", false, "output JSON")

	_ = viper.BindPFlag("search-fields", searchCmd.Flags().Lookup("field"))

	rootCmd.AddCommand(searchCmd)
}
