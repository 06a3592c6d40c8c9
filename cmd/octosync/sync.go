package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/octosync/octosync/internal/doc"
	"github.com/octosync/octosync/internal/syncproto"
	"github.com/octosync/octosync/internal/ui"
)

var syncCmd = &cobra.Command{
	Use:     "sync <workspace>",
	GroupID: "sync",
	Short:   "Synchronize a workspace with the relay",
	Long: `Synchronize a workspace with the relay.

The workspace is loaded from the local store and reconciled with the remote:
local changes are pushed, remote changes are pulled and persisted.

By default the command returns once both sides agree. With --live it keeps
the session open and persists remote changes as they arrive, until Ctrl+C.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		live, _ := cmd.Flags().GetBool("live")
		workspaceID := args[0]

		remote, err := requireRemote()
		if err != nil {
			return err
		}

		s, err := openStorage(true)
		if err != nil {
			return err
		}
		defer s.Close()

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		fmt.Printf("%s Syncing %s with %s...\n", ui.RenderAccent("🔄"), workspaceID, remote)
		start := time.Now()

		ws := s.Connect(ctx, workspaceID, remote)
		if ws == nil {
			return s.Err()
		}
		defer ws.Close()

		fmt.Printf("%s Sync complete in %v\n", ui.RenderPass("✓"), time.Since(start).Round(time.Millisecond))
		fmt.Printf("   Client: %s\n", ws.ClientID())
		if d, ok := ws.Document().(*doc.Doc); ok {
			if keys, err := d.Keys(); err == nil {
				fmt.Printf("   Keys: %d\n", len(keys))
			}
		}

		if !live {
			return nil
		}

		sess, _ := ws.Session().(*syncproto.Session)
		var done <-chan struct{}
		if sess != nil {
			done = sess.Done()
		}

		fmt.Printf("\nLive session open. Press Ctrl+C to stop\n\n")
		select {
		case <-ctx.Done():
			fmt.Println("\nClosing session...")
		case <-done:
			if err := sess.Err(); err != nil {
				fmt.Printf("%s Session ended: %v\n", ui.RenderWarn("⚠"), err)
			}
		}
		return nil
	},
}

func init() {
	syncCmd.Flags().BoolP("live", "l", false, "keep the session open")

	rootCmd.AddCommand(syncCmd)
}
