package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/octosync/octosync/internal/db"
	"github.com/octosync/octosync/internal/syncproto"
	"github.com/octosync/octosync/internal/ui"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	GroupID: "advanced",
	Short:   "Run a relay that clients sync through",
	Long: `Run a WebSocket relay for octosync clients.

Each workspace is a room. Clients sync against the relay's copy of the
workspace, and the relay forwards every change to the other clients of the
room. With --relay-store the relay persists its rooms in its own SQLite store
and survives restarts.

Endpoints:
  ws://HOST/sync/{workspace}   sync protocol
  http://HOST/health           health and room/peer counts
  http://HOST/metrics          prometheus metrics (with --metrics)

Example usage:
  octosync serve                              # in-memory relay on :8080
  octosync serve --listen :9000 --relay-store relay.db --metrics`,
	RunE: func(cmd *cobra.Command, args []string) error {
		withMetrics, _ := cmd.Flags().GetBool("metrics")
		listen := viper.GetString("listen")
		relayStore := viper.GetString("relay-store")

		config := &syncproto.ServerConfig{
			Addr:    listen,
			Metrics: withMetrics,
			Logger:  newLogger("relay"),
		}

		if relayStore != "" {
			database, err := db.Open(relayStore)
			if err != nil {
				return fmt.Errorf("failed to open relay store: %w", err)
			}
			defer database.Close()
			config.Store = database.Docs()
		}

		server := syncproto.NewServer(config)
		if err := server.Start(); err != nil {
			return fmt.Errorf("failed to start relay: %w", err)
		}

		fmt.Printf("%s Relay started on %s\n", ui.RenderAccent("🚀"), server.Addr())
		fmt.Printf("   Sync endpoint: ws://%s/sync/{workspace}\n", server.Addr())
		fmt.Printf("   Health check: http://%s/health\n", server.Addr())
		if withMetrics {
			fmt.Printf("   Metrics: http://%s/metrics\n", server.Addr())
		}
		if relayStore != "" {
			fmt.Printf("   Store: %s\n", relayStore)
		}
		fmt.Println("\nPress Ctrl+C to stop...")

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		<-ctx.Done()

		fmt.Println("\nShutting down relay...")
		if err := server.Stop(); err != nil {
			return fmt.Errorf("failed to stop relay: %w", err)
		}

		fmt.Println("Relay stopped")
		return nil
	},
}

func init() {
	serveCmd.Flags().String("listen", ":8080", "address to listen on")
	serveCmd.Flags().String("relay-store", "", "persist relay rooms in this SQLite store")
	serveCmd.Flags().Bool("metrics", false, "expose prometheus metrics on /metrics")

	_ = viper.BindPFlag("listen", serveCmd.Flags().Lookup("listen"))
	_ = viper.BindPFlag("relay-store", serveCmd.Flags().Lookup("relay-store"))

	rootCmd.AddCommand(serveCmd)
}
