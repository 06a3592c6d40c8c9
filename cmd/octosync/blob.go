package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/octosync/octosync/internal/db"
	"github.com/octosync/octosync/internal/ui"
)

var blobCmd = &cobra.Command{
	Use:     "blob",
	GroupID: "data",
	Short:   "Manage workspace blobs",
	Long: `Store, retrieve, list and remove blobs in the local store.

Blobs belong to a workspace; use "" as the workspace for global blobs.`,
}

var blobGetCmd = &cobra.Command{
	Use:   "get <workspace> <blob>",
	Short: "Write a blob to stdout or a file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		output, _ := cmd.Flags().GetString("output")

		s, err := openStorage(false)
		if err != nil {
			return err
		}
		defer s.Close()

		content, err := s.GetBlob(context.Background(), args[0], args[1])
		if errors.Is(err, db.ErrNotFound) {
			return fmt.Errorf("blob %s not found in %q", args[1], args[0])
		}
		if err != nil {
			return err
		}

		if output == "" || output == "-" {
			if _, err := os.Stdout.Write(content); err != nil {
				return fmt.Errorf("failed to write output: %w", err)
			}
			return nil
		}
		if err := os.WriteFile(output, content, 0644); err != nil {
			return fmt.Errorf("failed to write %s: %w", output, err)
		}
		fmt.Printf("%s Wrote %s (%s)\n", ui.RenderPass("✓"), output, ui.FormatBytes(int64(len(content))))
		return nil
	},
}

var blobPutCmd = &cobra.Command{
	Use:   "put <workspace> <file> [blob]",
	Short: "Store a file as a blob",
	Long: `Store a file as a blob. The blob id defaults to the file's base name.
Use "-" as the file to read stdin (a blob id is then required).`,
	Args: cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		workspaceID, path := args[0], args[1]
		blobID := filepath.Base(path)
		if len(args) == 3 {
			blobID = args[2]
		}

		var r io.Reader
		if path == "-" {
			if len(args) < 3 {
				return fmt.Errorf("a blob id is required when reading stdin")
			}
			r = os.Stdin
		} else {
			f, err := os.Open(path)
			if err != nil {
				return err
			}
			defer f.Close()
			r = f
		}

		s, err := openStorage(false)
		if err != nil {
			return err
		}
		defer s.Close()

		n, err := s.PutBlob(context.Background(), workspaceID, blobID, r)
		if err != nil {
			return err
		}
		fmt.Printf("%s Stored %s (%s)\n", ui.RenderPass("✓"), blobID, ui.FormatBytes(n))
		return nil
	},
}

var blobListCmd = &cobra.Command{
	Use:     "ls <workspace>",
	Aliases: []string{"list"},
	Short:   "List the blobs of a workspace",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStorage(false)
		if err != nil {
			return err
		}
		defer s.Close()

		infos, err := s.ListBlobs(context.Background(), args[0])
		if err != nil {
			return err
		}
		if len(infos) == 0 {
			fmt.Println(ui.RenderMuted("No blobs"))
			return nil
		}

		rows := make([][]string, 0, len(infos))
		for _, info := range infos {
			rows = append(rows, []string{
				info.ID,
				ui.FormatBytes(info.Size),
				fmt.Sprint(info.Chunks),
				info.CreatedAt.Local().Format(time.DateTime),
			})
		}
		fmt.Print(ui.Table([]string{"ID", "SIZE", "CHUNKS", "CREATED"}, rows))
		return nil
	},
}

var blobRemoveCmd = &cobra.Command{
	Use:     "rm <workspace> <blob>",
	Aliases: []string{"remove"},
	Short:   "Remove a blob",
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStorage(false)
		if err != nil {
			return err
		}
		defer s.Close()

		if err := s.DeleteBlob(context.Background(), args[0], args[1]); err != nil {
			return err
		}
		fmt.Printf("%s Removed %s\n", ui.RenderPass("✓"), args[1])
		return nil
	},
}

func init() {
	blobGetCmd.Flags().StringP("output", "o", "", "write to a file instead of stdout")

	blobCmd.AddCommand(blobGetCmd)
	blobCmd.AddCommand(blobPutCmd)
	blobCmd.AddCommand(blobListCmd)
	blobCmd.AddCommand(blobRemoveCmd)
	rootCmd.AddCommand(blobCmd)
}
