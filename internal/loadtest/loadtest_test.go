package loadtest

import (
	"bytes"
	"context"
	"io"
	"log"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/octosync/octosync/internal/storage"
)

// TestRun_Small verifies that a handful of agents converge through the relay.
func TestRun_Small(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping load test in short mode")
	}

	result, err := Run(context.Background(), &Config{
		Agents:             4,
		ChangesPerAgent:    5,
		Dir:                t.TempDir(),
		ConvergenceTimeout: 20 * time.Second,
		Logger:             log.New(io.Discard, "", 0),
	})
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}

	if result.Change.Operations != 20 {
		t.Errorf("Expected 20 changes, got %d", result.Change.Operations)
	}
	if result.Connect.Operations != 4 {
		t.Errorf("Expected 4 connects, got %d", result.Connect.Operations)
	}
	if result.Convergence <= 0 || result.Elapsed < result.Convergence {
		t.Errorf("Unexpected timings: convergence %v, elapsed %v", result.Convergence, result.Elapsed)
	}
}

func TestRun_InvalidConfig(t *testing.T) {
	if _, err := Run(context.Background(), &Config{Agents: 0, ChangesPerAgent: 1}); err == nil {
		t.Error("Expected error for zero agents")
	}
	if _, err := Run(context.Background(), &Config{Agents: 1, ChangesPerAgent: 0}); err == nil {
		t.Error("Expected error for zero changes")
	}
}

func TestRunBlobReads(t *testing.T) {
	logger := log.New(io.Discard, "", 0)
	s := storage.NewWithConfig(filepath.Join(t.TempDir(), "store.db"), &storage.Config{Logger: logger})
	if err := s.Err(); err != nil {
		t.Fatalf("storage.New() failed: %v", err)
	}
	defer s.Close()

	stats, err := RunBlobReads(context.Background(), s, "bench", 4, 10, 200*1024)
	if err != nil {
		t.Fatalf("RunBlobReads() failed: %v", err)
	}
	if stats.Errors > 0 {
		t.Errorf("Got %d errors during reads", stats.Errors)
	}
	if stats.Operations != 40 {
		t.Errorf("Expected 40 reads, got %d", stats.Operations)
	}
}

func TestComputeLatencyStats(t *testing.T) {
	if stats := ComputeLatencyStats(nil); stats.Operations != 0 {
		t.Errorf("Expected empty stats, got %+v", stats)
	}

	durations := make([]time.Duration, 100)
	for i := range durations {
		durations[i] = time.Duration(100-i) * time.Millisecond
	}

	stats := ComputeLatencyStats(durations)
	if stats.Min != time.Millisecond || stats.Max != 100*time.Millisecond {
		t.Errorf("Min/Max = %v/%v", stats.Min, stats.Max)
	}
	if stats.P50 != 51*time.Millisecond {
		t.Errorf("P50 = %v, want 51ms", stats.P50)
	}
	if stats.P99 != 100*time.Millisecond {
		t.Errorf("P99 = %v, want 100ms", stats.P99)
	}
	if stats.Mean != 50500*time.Microsecond {
		t.Errorf("Mean = %v, want 50.5ms", stats.Mean)
	}

	var buf bytes.Buffer
	stats.Print(&buf, "Change latency")
	if !strings.Contains(buf.String(), "Operations:    100") {
		t.Errorf("Print() output missing operations:\n%s", buf.String())
	}
}
