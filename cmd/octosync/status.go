package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/octosync/octosync/internal/db"
	"github.com/octosync/octosync/internal/ui"
)

// workspaceStatus is one row of the status report.
type workspaceStatus struct {
	ID      string `json:"id" yaml:"id"`
	Updates int    `json:"updates" yaml:"updates"`
	Blobs   int    `json:"blobs" yaml:"blobs"`
}

type statusReport struct {
	db.Stats   `yaml:",inline"`
	Remote     string            `json:"remote,omitempty" yaml:"remote,omitempty"`
	Workspaces []workspaceStatus `json:"workspace_list" yaml:"workspace_list"`
}

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "sync",
	Short:   "Show local store status",
	Long: `Show what the local store holds: workspaces, update counts and blobs.

Use --format yaml or --format json for machine-readable output.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")
		storePath := viper.GetString("store")

		switch format {
		case "", "text", "yaml", "json":
		default:
			return fmt.Errorf("unknown format %q (want text, yaml or json)", format)
		}

		if _, err := os.Stat(storePath); os.IsNotExist(err) {
			fmt.Printf("\n%s Store not initialized\n", ui.RenderWarn("⚠"))
			fmt.Printf("   Run 'octosync sync <workspace>' to create it\n\n")
			return nil
		}

		database, err := db.Open(storePath)
		if err != nil {
			return fmt.Errorf("failed to open store: %w", err)
		}
		defer database.Close()

		report, err := buildStatus(context.Background(), database)
		if err != nil {
			return err
		}
		report.Remote = viper.GetString("remote")

		switch format {
		case "yaml":
			enc := yaml.NewEncoder(os.Stdout)
			enc.SetIndent(2)
			if err := enc.Encode(report); err != nil {
				return fmt.Errorf("failed to encode output: %w", err)
			}
			return enc.Close()
		case "json":
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(report); err != nil {
				return fmt.Errorf("failed to encode output: %w", err)
			}
		default:
			printStatus(report)
		}
		return nil
	},
}

func buildStatus(ctx context.Context, database *db.DB) (*statusReport, error) {
	stats, err := database.Stats(ctx)
	if err != nil {
		return nil, err
	}

	ids, err := database.Docs().Workspaces(ctx)
	if err != nil {
		return nil, err
	}

	report := &statusReport{Stats: *stats}
	for _, id := range ids {
		n, err := database.Docs().UpdateCount(ctx, id)
		if err != nil {
			return nil, err
		}
		blobs, err := database.Blobs().ListBlobs(ctx, id)
		if err != nil {
			return nil, err
		}
		report.Workspaces = append(report.Workspaces, workspaceStatus{ID: id, Updates: n, Blobs: len(blobs)})
	}
	return report, nil
}

func printStatus(r *statusReport) {
	fmt.Printf("\n%s octosync Store Status\n\n", ui.RenderAccent("📊"))
	fmt.Printf("Location: %s\n", r.Path)
	if r.Remote != "" {
		fmt.Printf("Remote: %s\n", r.Remote)
	}
	fmt.Printf("Workspaces: %d\n", r.Stats.Workspaces)
	fmt.Printf("Updates: %d\n", r.Updates)
	fmt.Printf("Blobs: %d (%s)\n\n", r.Blobs, ui.FormatBytes(r.BlobBytes))

	if len(r.Workspaces) == 0 {
		return
	}
	rows := make([][]string, 0, len(r.Workspaces))
	for _, ws := range r.Workspaces {
		rows = append(rows, []string{ws.ID, fmt.Sprint(ws.Updates), fmt.Sprint(ws.Blobs)})
	}
	fmt.Print(ui.Table([]string{"WORKSPACE", "UPDATES", "BLOBS"}, rows))
	fmt.Println()
}

func init() {
	statusCmd.Flags().StringP("format", "f", "text", "output format: text, yaml or json")

	rootCmd.AddCommand(statusCmd)
}
