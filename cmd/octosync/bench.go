package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/octosync/octosync/internal/loadtest"
	"github.com/octosync/octosync/internal/storage"
	"github.com/octosync/octosync/internal/ui"
)

type benchReport struct {
	Sync      *loadtest.Result       `json:"sync"`
	BlobReads *loadtest.LatencyStats `json:"blob_reads,omitempty"`
}

var benchCmd = &cobra.Command{
	Use:     "bench",
	GroupID: "advanced",
	Short:   "Measure sync latency and convergence with concurrent agents",
	Long: `Simulate concurrent agents editing one workspace and measure how fast
their changes are persisted and propagated.

Every agent gets its own temporary store and syncs through the configured
remote. Without --remote an in-process relay is started.

Examples:
  # 10 agents, 10 changes each, through a local relay
  octosync bench

  # 50 agents against a running relay
  octosync bench --agents 50 --remote ws://localhost:8080

  # Include concurrent blob reads, output as JSON
  octosync bench --blob-readers 8 --json
`,
	RunE: runBench,
}

func init() {
	benchCmd.Flags().Int("agents", 10, "Number of concurrent agents to simulate")
	benchCmd.Flags().Int("changes", 10, "Number of changes per agent")
	benchCmd.Flags().Duration("timeout", 30*time.Second, "Maximum time to wait for convergence")
	benchCmd.Flags().Int("blob-readers", 0, "Concurrent blob readers to measure (0 to skip)")
	benchCmd.Flags().Int("blob-size", 1<<20, "Size in bytes of the blob read by readers")
	benchCmd.Flags().Bool("json", false, "Output results as JSON")
	rootCmd.AddCommand(benchCmd)
}

func runBench(cmd *cobra.Command, args []string) error {
	agents, _ := cmd.Flags().GetInt("agents")
	changes, _ := cmd.Flags().GetInt("changes")
	timeout, _ := cmd.Flags().GetDuration("timeout")
	readers, _ := cmd.Flags().GetInt("blob-readers")
	blobSize, _ := cmd.Flags().GetInt("blob-size")
	jsonOutput, _ := cmd.Flags().GetBool("json")

	if agents <= 0 {
		return fmt.Errorf("--agents must be positive")
	}
	if changes <= 0 {
		return fmt.Errorf("--changes must be positive")
	}
	if readers < 0 || blobSize <= 0 {
		return fmt.Errorf("--blob-readers must not be negative and --blob-size must be positive")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	dir, err := os.MkdirTemp("", "octosync-bench-*")
	if err != nil {
		return err
	}
	defer os.RemoveAll(dir)

	if !jsonOutput {
		fmt.Printf("Running sync benchmark: %d agents, %d changes/agent\n\n", agents, changes)
	}

	report := &benchReport{}
	report.Sync, err = loadtest.Run(ctx, &loadtest.Config{
		Agents:             agents,
		ChangesPerAgent:    changes,
		WorkspaceID:        "bench",
		Dir:                dir,
		Remote:             viper.GetString("remote"),
		ConvergenceTimeout: timeout,
		Logger:             newLogger("bench"),
	})
	if err != nil {
		return err
	}

	if readers > 0 {
		s := storage.NewWithConfig(filepath.Join(dir, "blobs.db"), &storage.Config{Logger: newLogger("storage")})
		if err := s.Err(); err != nil {
			_ = s.Close()
			return err
		}
		report.BlobReads, err = loadtest.RunBlobReads(ctx, s, "bench", readers, 20, blobSize)
		_ = s.Close()
		if err != nil {
			return err
		}
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return fmt.Errorf("failed to encode JSON: %w", err)
		}
		return nil
	}

	report.Sync.Connect.Print(os.Stdout, "Connect latency")
	fmt.Println()
	report.Sync.Change.Print(os.Stdout, "Change latency")
	fmt.Println()
	if report.BlobReads != nil {
		report.BlobReads.Print(os.Stdout, fmt.Sprintf("Blob read latency (%s)", ui.FormatBytes(int64(blobSize))))
		fmt.Println()
	}
	fmt.Printf("%s All %d agents converged in %v (total %v)\n",
		ui.RenderPass("✓"), agents, report.Sync.Convergence.Round(time.Millisecond), report.Sync.Elapsed.Round(time.Millisecond))
	return nil
}
