package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/octosync/octosync/internal/doc"
	"github.com/octosync/octosync/internal/storage"
	"github.com/octosync/octosync/internal/ui"
)

var setCmd = &cobra.Command{
	Use:     "set <workspace> <key> <value>",
	GroupID: "data",
	Short:   "Set a key of a workspace document",
	Long: `Set a root-level key of a workspace document in the local store.

The change is persisted locally and reaches the relay on the next
'octosync sync'.

Examples:
  octosync set notes title "Weekly sync"
  octosync set notes count 3 --type int
  octosync set notes done true --type bool`,
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		typ, _ := cmd.Flags().GetString("type")
		workspaceID, key := args[0], args[1]

		value, err := parseValue(args[2], typ)
		if err != nil {
			return err
		}

		s, err := openStorage(false)
		if err != nil {
			return err
		}
		defer s.Close()

		if err := setKey(context.Background(), s, workspaceID, key, value); err != nil {
			return err
		}
		fmt.Printf("%s Set %s.%s\n", ui.RenderPass("✓"), workspaceID, key)
		return nil
	},
}

var unsetCmd = &cobra.Command{
	Use:     "unset <workspace> <key>",
	GroupID: "data",
	Short:   "Remove a key from a workspace document",
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		workspaceID, key := args[0], args[1]

		s, err := openStorage(false)
		if err != nil {
			return err
		}
		defer s.Close()

		if err := unsetKey(context.Background(), s, workspaceID, key); err != nil {
			return err
		}
		fmt.Printf("%s Removed %s.%s\n", ui.RenderPass("✓"), workspaceID, key)
		return nil
	},
}

var getCmd = &cobra.Command{
	Use:     "get <workspace> [key]",
	GroupID: "data",
	Short:   "Print keys of a workspace document",
	Long: `Print one key, or every root-level key, of a workspace document as
stored locally. Run 'octosync sync' first to pull remote changes.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		jsonOutput, _ := cmd.Flags().GetBool("json")
		workspaceID := args[0]

		s, err := openStorage(false)
		if err != nil {
			return err
		}
		defer s.Close()

		ws, err := openWorkspace(context.Background(), s, workspaceID)
		if err != nil {
			return err
		}
		defer ws.Close()

		d, err := document(ws)
		if err != nil {
			return err
		}

		var keys []string
		if len(args) == 2 {
			keys = []string{args[1]}
		} else {
			keys, err = d.Keys()
			if err != nil {
				return err
			}
		}
		sort.Strings(keys)

		values := make(map[string]any)
		for _, key := range keys {
			v, ok, err := d.Get(key)
			if err != nil {
				return err
			}
			if !ok {
				if len(args) == 2 {
					return fmt.Errorf("key %q is not set in %s", key, workspaceID)
				}
				continue
			}
			values[key] = v
		}

		if jsonOutput {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(values); err != nil {
				return fmt.Errorf("failed to encode output: %w", err)
			}
			return nil
		}

		if len(args) == 2 {
			fmt.Println(values[args[1]])
			return nil
		}
		rows := make([][]string, 0, len(keys))
		for _, key := range keys {
			if v, ok := values[key]; ok {
				rows = append(rows, []string{key, fmt.Sprint(v)})
			}
		}
		fmt.Print(ui.Table([]string{"KEY", "VALUE"}, rows))
		return nil
	},
}

// setKey sets a key of a workspace document and persists it.
func setKey(ctx context.Context, s *storage.Storage, workspaceID, key string, value any) error {
	return change(ctx, s, workspaceID, func(d *doc.Doc) error {
		return d.Set(key, value)
	})
}

// unsetKey removes a key of a workspace document and persists it.
func unsetKey(ctx context.Context, s *storage.Storage, workspaceID, key string) error {
	return change(ctx, s, workspaceID, func(d *doc.Doc) error {
		return d.Delete(key)
	})
}

// change applies fn to a workspace document. The workspace observer logs and
// drops failed writes, so change checks that the store kept the update.
func change(ctx context.Context, s *storage.Storage, workspaceID string, fn func(d *doc.Doc) error) error {
	ws, err := openWorkspace(ctx, s, workspaceID)
	if err != nil {
		return err
	}
	defer ws.Close()

	d, err := document(ws)
	if err != nil {
		return err
	}

	failed := ws.FailedWrites()
	if err := fn(d); err != nil {
		return err
	}
	if ws.FailedWrites() > failed {
		return fmt.Errorf("change to %s was not persisted to the local store", workspaceID)
	}
	return nil
}

// document returns the automerge document of a workspace.
func document(ws *storage.Workspace) (*doc.Doc, error) {
	d, ok := ws.Document().(*doc.Doc)
	if !ok {
		return nil, fmt.Errorf("workspace %s has no editable document", ws.ID())
	}
	return d, nil
}

// parseValue converts a command-line value to the requested type.
func parseValue(s, typ string) (any, error) {
	switch typ {
	case "", "string":
		return s, nil
	case "int":
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid int %q: %w", s, err)
		}
		return n, nil
	case "float":
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid float %q: %w", s, err)
		}
		return f, nil
	case "bool":
		b, err := strconv.ParseBool(s)
		if err != nil {
			return nil, fmt.Errorf("invalid bool %q: %w", s, err)
		}
		return b, nil
	default:
		return nil, fmt.Errorf("unknown type %q (want string, int, float or bool)", typ)
	}
}

func init() {
	setCmd.Flags().StringP("type", "t", "string", "value type: string, int, float or bool")
	getCmd.Flags().Bool("json", false, "output JSON")

	rootCmd.AddCommand(setCmd)
	rootCmd.AddCommand(unsetCmd)
	rootCmd.AddCommand(getCmd)
}
