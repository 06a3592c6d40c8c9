package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/octosync/octosync/internal/importer"
	"github.com/octosync/octosync/internal/ui"
)

var watchCmd = &cobra.Command{
	Use:     "watch <workspace> <dir>",
	GroupID: "sync",
	Short:   "Mirror a directory into workspace blobs",
	Long: `Import every file of a directory as a blob of the workspace, then keep
watching it: created or modified files are stored again once they stop
changing, removed files are deleted.

The blob id of a file is its base name. Subdirectories and hidden files are
skipped.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		debounce, _ := cmd.Flags().GetDuration("debounce")
		hidden, _ := cmd.Flags().GetBool("hidden")
		workspaceID, dir := args[0], args[1]

		s, err := openStorage(false)
		if err != nil {
			return err
		}
		defer s.Close()

		im, err := importer.NewWithConfig(s, dir, workspaceID, &importer.Config{
			DebounceInterval: debounce,
			IncludeHidden:    hidden,
			Logger:           newLogger("importer"),
		})
		if err != nil {
			return fmt.Errorf("failed to create importer: %w", err)
		}

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		fmt.Printf("%s Watching %s...\n", ui.RenderAccent("👀"), im.Dir())
		fmt.Printf("   Workspace: %q\n", workspaceID)
		fmt.Printf("   Debounce: %v\n", debounce)
		fmt.Printf("\nPress Ctrl+C to stop\n\n")

		if err := im.Start(ctx); err != nil {
			return err
		}

		for {
			select {
			case <-ctx.Done():
				if err := im.Stop(); err != nil {
					return fmt.Errorf("failed to stop importer: %w", err)
				}
				fmt.Println("\nImporter stopped")
				return nil

			case res := <-im.Results():
				if res.Err != nil {
					fmt.Printf("%s %s %s: %v\n", ui.RenderFail("✗"), res.Op, res.BlobID, res.Err)
					continue
				}
				fmt.Printf("%s %s %s %s\n", ui.RenderPass("✓"), res.Op, res.BlobID, ui.RenderMuted(ui.FormatBytes(res.Size)))
			}
		}
	},
}

func init() {
	watchCmd.Flags().Duration("debounce", 100*time.Millisecond, "quiet period before a changed file is imported")
	watchCmd.Flags().Bool("hidden", false, "import hidden files too")

	rootCmd.AddCommand(watchCmd)
}
