// Package loadtest simulates concurrent agents sharing workspaces.
//
// Each agent owns a local store and a Storage handle, syncs the same
// workspace through a relay and makes changes concurrently with the others.
// The run measures how long each change takes to be committed and persisted
// locally, and how long it takes until every agent has seen every change.
package loadtest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/octosync/octosync/internal/doc"
	"github.com/octosync/octosync/internal/storage"
	"github.com/octosync/octosync/internal/syncproto"
)

// Config holds configuration for a load test.
type Config struct {
	// Agents is the number of concurrent agents.
	Agents int

	// ChangesPerAgent is the number of keys every agent sets.
	ChangesPerAgent int

	// WorkspaceID is the shared workspace (default: "loadtest")
	WorkspaceID string

	// Dir holds the agents' stores. Empty means a temporary directory that is
	// removed afterwards.
	Dir string

	// Remote is the relay to sync through. Empty starts an in-process relay.
	Remote string

	// ConvergenceTimeout bounds the wait for every agent to see every change.
	ConvergenceTimeout time.Duration

	// Logger for load test progress
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Agents:             10,
		ChangesPerAgent:    10,
		WorkspaceID:        "loadtest",
		ConvergenceTimeout: 30 * time.Second,
		Logger:             log.New(os.Stderr, "[loadtest] ", log.LstdFlags),
	}
}

// LatencyStats captures performance metrics from load tests.
type LatencyStats struct {
	Min        time.Duration `json:"min" yaml:"min"`
	Max        time.Duration `json:"max" yaml:"max"`
	Mean       time.Duration `json:"mean" yaml:"mean"`
	P50        time.Duration `json:"p50" yaml:"p50"` // Median
	P95        time.Duration `json:"p95" yaml:"p95"`
	P99        time.Duration `json:"p99" yaml:"p99"`
	Operations int           `json:"operations" yaml:"operations"`
	Errors     int           `json:"errors" yaml:"errors"`
}

// Result is the outcome of a sync load test.
type Result struct {
	Agents          int           `json:"agents" yaml:"agents"`
	ChangesPerAgent int           `json:"changes_per_agent" yaml:"changes_per_agent"`
	Connect         *LatencyStats `json:"connect" yaml:"connect"`
	Change          *LatencyStats `json:"change" yaml:"change"`
	Convergence     time.Duration `json:"convergence" yaml:"convergence"`
	Elapsed         time.Duration `json:"elapsed" yaml:"elapsed"`
}

// agent is one simulated participant.
type agent struct {
	id      int
	storage *storage.Storage
	ws      *storage.Workspace
	doc     *doc.Doc
}

// Run executes a sync load test.
func Run(ctx context.Context, config *Config) (*Result, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Agents <= 0 || config.ChangesPerAgent <= 0 {
		return nil, fmt.Errorf("agents and changes per agent must be positive")
	}
	if config.WorkspaceID == "" {
		config.WorkspaceID = "loadtest"
	}
	if config.ConvergenceTimeout <= 0 {
		config.ConvergenceTimeout = 30 * time.Second
	}
	if config.Logger == nil {
		config.Logger = log.New(io.Discard, "", 0)
	}
	logger := config.Logger

	dir := config.Dir
	if dir == "" {
		tmp, err := os.MkdirTemp("", "octosync-loadtest-*")
		if err != nil {
			return nil, fmt.Errorf("failed to create temp dir: %w", err)
		}
		defer os.RemoveAll(tmp)
		dir = tmp
	}

	remote := config.Remote
	if remote == "" {
		relay := syncproto.NewServer(&syncproto.ServerConfig{Addr: "127.0.0.1:0", Logger: logger})
		if err := relay.Start(); err != nil {
			return nil, err
		}
		defer relay.Stop()
		remote = "ws://" + relay.Addr()
	}

	start := time.Now()
	quiet := log.New(io.Discard, "", 0)

	agents := make([]*agent, config.Agents)
	connect := make([]time.Duration, config.Agents)
	defer func() {
		for _, a := range agents {
			if a == nil {
				continue
			}
			if a.ws != nil {
				_ = a.ws.Close()
			}
			_ = a.storage.Close()
		}
	}()

	logger.Printf("Connecting %d agents to %s", config.Agents, remote)
	g, gctx := errgroup.WithContext(ctx)
	for i := range agents {
		i := i
		g.Go(func() error {
			s := storage.NewWithConfig(filepath.Join(dir, fmt.Sprintf("agent-%03d.db", i)), &storage.Config{
				Client: storage.StartClient(&syncproto.ClientConfig{Logger: quiet}),
				Logger: quiet,
			})
			a := &agent{id: i, storage: s}
			agents[i] = a
			if err := s.Err(); err != nil {
				return err
			}

			t0 := time.Now()
			ws, err := s.Sync(gctx, config.WorkspaceID, remote)
			if err != nil {
				return fmt.Errorf("agent %d: %w", i, err)
			}
			connect[i] = time.Since(t0)
			a.ws = ws

			d, ok := ws.Document().(*doc.Doc)
			if !ok {
				return fmt.Errorf("agent %d: unexpected document type %T", i, ws.Document())
			}
			a.doc = d
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	logger.Printf("Making %d changes per agent", config.ChangesPerAgent)
	changes := make([][]time.Duration, config.Agents)
	changeStart := time.Now()
	g, _ = errgroup.WithContext(ctx)
	for _, a := range agents {
		a := a
		g.Go(func() error {
			durations := make([]time.Duration, 0, config.ChangesPerAgent)
			for j := 0; j < config.ChangesPerAgent; j++ {
				t0 := time.Now()
				if err := a.doc.Set(changeKey(a.id, j), int64(j)); err != nil {
					return fmt.Errorf("agent %d change %d failed: %w", a.id, j, err)
				}
				durations = append(durations, time.Since(t0))
			}
			changes[a.id] = durations
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	want := config.Agents * config.ChangesPerAgent
	if err := waitConverged(ctx, agents, want, config.ConvergenceTimeout); err != nil {
		return nil, err
	}
	convergence := time.Since(changeStart)
	logger.Printf("All agents converged on %d keys in %v", want, convergence)

	var all []time.Duration
	for _, d := range changes {
		all = append(all, d...)
	}

	return &Result{
		Agents:          config.Agents,
		ChangesPerAgent: config.ChangesPerAgent,
		Connect:         ComputeLatencyStats(connect),
		Change:          ComputeLatencyStats(all),
		Convergence:     convergence,
		Elapsed:         time.Since(start),
	}, nil
}

func changeKey(agentID, n int) string {
	return fmt.Sprintf("agent-%03d-%05d", agentID, n)
}

// waitConverged polls until every agent holds want keys.
func waitConverged(ctx context.Context, agents []*agent, want int, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		lagging := 0
		for _, a := range agents {
			keys, err := a.doc.Keys()
			if err != nil {
				return err
			}
			if len(keys) < want {
				lagging++
			}
		}
		if lagging == 0 {
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%d of %d agents did not converge: %w", lagging, len(agents), ctx.Err())
		case <-ticker.C:
		}
	}
}

// RunBlobReads measures concurrent GetBlob latency while a writer keeps
// replacing other blobs of the same store, contending for the store lock.
func RunBlobReads(ctx context.Context, s *storage.Storage, workspaceID string, readers, readsPerReader, size int) (*LatencyStats, error) {
	content := bytes.Repeat([]byte{'x'}, size)
	if _, err := s.PutBlob(ctx, workspaceID, "loadtest-read", bytes.NewReader(content)); err != nil {
		return nil, fmt.Errorf("failed to seed blob: %w", err)
	}

	writeCtx, stopWriter := context.WithCancel(ctx)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for i := 0; writeCtx.Err() == nil; i++ {
			_, _ = s.PutBlob(writeCtx, workspaceID, fmt.Sprintf("loadtest-write-%d", i%4), bytes.NewReader(content))
		}
	}()

	results := make([][]time.Duration, readers)
	errs := make([]int, readers)
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < readers; i++ {
		i := i
		g.Go(func() error {
			durations := make([]time.Duration, 0, readsPerReader)
			for j := 0; j < readsPerReader; j++ {
				t0 := time.Now()
				got, err := s.GetBlob(gctx, workspaceID, "loadtest-read")
				durations = append(durations, time.Since(t0))
				if err != nil || len(got) != size {
					errs[i]++
				}
			}
			results[i] = durations
			return nil
		})
	}
	_ = g.Wait()
	stopWriter()
	<-writerDone

	var all []time.Duration
	errorCount := 0
	for i := range results {
		all = append(all, results[i]...)
		errorCount += errs[i]
	}

	stats := ComputeLatencyStats(all)
	stats.Errors = errorCount
	return stats, nil
}

// ComputeLatencyStats calculates statistics from a slice of durations.
func ComputeLatencyStats(durations []time.Duration) *LatencyStats {
	if len(durations) == 0 {
		return &LatencyStats{}
	}

	sorted := make([]time.Duration, len(durations))
	copy(sorted, durations)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i] < sorted[j]
	})

	var sum time.Duration
	for _, d := range durations {
		sum += d
	}

	return &LatencyStats{
		Min:        sorted[0],
		Max:        sorted[len(sorted)-1],
		Mean:       sum / time.Duration(len(durations)),
		P50:        sorted[len(sorted)*50/100],
		P95:        sorted[len(sorted)*95/100],
		P99:        sorted[len(sorted)*99/100],
		Operations: len(durations),
	}
}

// Print formats latency statistics.
func (s *LatencyStats) Print(w io.Writer, title string) {
	fmt.Fprintf(w, "%s:\n", title)
	fmt.Fprintf(w, "  Operations:    %d\n", s.Operations)
	fmt.Fprintf(w, "  Errors:        %d\n", s.Errors)
	fmt.Fprintf(w, "  Min:           %v\n", s.Min)
	fmt.Fprintf(w, "  P50 (Median):  %v\n", s.P50)
	fmt.Fprintf(w, "  Mean:          %v\n", s.Mean)
	fmt.Fprintf(w, "  P95:           %v\n", s.P95)
	fmt.Fprintf(w, "  P99:           %v\n", s.P99)
	fmt.Fprintf(w, "  Max:           %v\n", s.Max)
}
