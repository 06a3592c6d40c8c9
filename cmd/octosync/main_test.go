package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/octosync/octosync/internal/db"
	"github.com/octosync/octosync/internal/doc"
	"github.com/octosync/octosync/internal/storage"
)

func TestParseValue(t *testing.T) {
	tests := []struct {
		in      string
		typ     string
		want    any
		wantErr bool
	}{
		{"hello", "string", "hello", false},
		{"hello", "", "hello", false},
		{"42", "int", int64(42), false},
		{"4.5", "float", 4.5, false},
		{"true", "bool", true, false},
		{"x", "int", nil, true},
		{"x", "bool", nil, true},
		{"x", "date", nil, true},
	}

	for _, tt := range tests {
		got, err := parseValue(tt.in, tt.typ)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseValue(%q, %q) error = %v, wantErr %v", tt.in, tt.typ, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("parseValue(%q, %q) = %#v, want %#v", tt.in, tt.typ, got, tt.want)
		}
	}
}

func TestBuildStatus(t *testing.T) {
	database, err := db.Open(filepath.Join(t.TempDir(), "store.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer database.Close()

	ctx := context.Background()
	for _, ws := range []string{"notes", "notes", "todo"} {
		if err := database.Docs().WriteUpdate(ctx, ws, []byte("u")); err != nil {
			t.Fatalf("WriteUpdate() failed: %v", err)
		}
	}
	if _, err := database.Blobs().PutBlob(ctx, "notes", "a.txt", bytes.NewReader([]byte("alpha"))); err != nil {
		t.Fatalf("PutBlob() failed: %v", err)
	}

	report, err := buildStatus(ctx, database)
	if err != nil {
		t.Fatalf("buildStatus() failed: %v", err)
	}

	want := []workspaceStatus{
		{ID: "notes", Updates: 2, Blobs: 1},
		{ID: "todo", Updates: 1, Blobs: 0},
	}
	if diff := cmp.Diff(want, report.Workspaces); diff != "" {
		t.Errorf("workspaces mismatch (-want +got):\n%s", diff)
	}
	if report.Stats.Workspaces != 2 || report.Updates != 3 || report.Blobs != 1 || report.BlobBytes != 5 {
		t.Errorf("stats = %+v", report.Stats)
	}
}

// switchStore keeps updates in memory until it is made read-only.
type switchStore struct {
	mu       sync.Mutex
	updates  [][]byte
	readOnly bool
}

func (m *switchStore) Docs() storage.DocStore { return m }

func (m *switchStore) Close() error { return nil }

func (m *switchStore) WriteUpdate(ctx context.Context, workspaceID string, update []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.readOnly {
		return errors.New("attempt to write a readonly database")
	}
	m.updates = append(m.updates, update)
	return nil
}

func (m *switchStore) Updates(ctx context.Context, workspaceID string) ([][]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]byte(nil), m.updates...), nil
}

func (m *switchStore) setReadOnly() {
	m.mu.Lock()
	m.readOnly = true
	m.mu.Unlock()
}

func setupLocalStorage(t *testing.T, path string) *storage.Storage {
	t.Helper()

	s := storage.NewWithConfig(path, &storage.Config{
		Client: storage.LocalClient,
		Logger: log.New(io.Discard, "", 0),
	})
	if err := s.Err(); err != nil {
		t.Fatalf("NewWithConfig() failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSetKeyReportsUnpersistedWrite(t *testing.T) {
	store := &switchStore{}
	s := storage.NewWithConfig("mem", &storage.Config{
		Open: func(ctx context.Context, path string) (storage.Store, error) {
			return store, nil
		},
		Client: storage.LocalClient,
		Logger: log.New(io.Discard, "", 0),
	})
	defer s.Close()

	ctx := context.Background()
	if err := setKey(ctx, s, "notes", "title", "draft"); err != nil {
		t.Fatalf("setKey() failed: %v", err)
	}

	store.setReadOnly()

	err := setKey(ctx, s, "notes", "owner", "alice")
	if err == nil || !strings.Contains(err.Error(), "not persisted") {
		t.Errorf("setKey() error = %v, want a persistence failure", err)
	}
	err = unsetKey(ctx, s, "notes", "title")
	if err == nil || !strings.Contains(err.Error(), "not persisted") {
		t.Errorf("unsetKey() error = %v, want a persistence failure", err)
	}
}

func TestSetKeyAndSearch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.db")
	s := setupLocalStorage(t, path)
	ctx := context.Background()

	values := map[string]any{
		"title":   "Weekly sync",
		"summary": "Agenda for the weekly review",
		"count":   int64(3),
	}
	for k, v := range values {
		if err := setKey(ctx, s, "notes", k, v); err != nil {
			t.Fatalf("setKey(%s) failed: %v", k, err)
		}
	}
	if err := unsetKey(ctx, s, "notes", "summary"); err != nil {
		t.Fatalf("unsetKey() failed: %v", err)
	}

	got, err := searchWorkspace(ctx, s, "notes", "WEEKLY", nil)
	if err != nil {
		t.Fatalf("searchWorkspace() failed: %v", err)
	}
	want := []doc.Match{{Key: "title", Value: "Weekly sync"}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("searchWorkspace() mismatch (-want +got):\n%s", diff)
	}

	got, err = searchWorkspace(ctx, s, "notes", "weekly", []string{"count"})
	if err != nil {
		t.Fatalf("searchWorkspace() failed: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("searchWorkspace() over count = %+v, want no matches", got)
	}

	if _, err := searchWorkspace(ctx, s, "notes", "weekly", []string{""}); err == nil {
		t.Error("expected error for a blank search field")
	}
}

func TestCommandErrorClosesStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.db")

	rootCmd.SetArgs([]string{"get", "notes", "missing", "--store", path, "--quiet"})
	rootCmd.SetOut(io.Discard)
	defer rootCmd.SetArgs(nil)

	err := rootCmd.Execute()
	if err == nil || !strings.Contains(err.Error(), `key "missing" is not set`) {
		t.Fatalf("Execute() error = %v, want missing key", err)
	}

	// Closing the store checkpoints the WAL, leaving it removed or empty.
	if info, err := os.Stat(path + "-wal"); err == nil && info.Size() != 0 {
		t.Errorf("WAL holds %d bytes after the command failed; store was not closed", info.Size())
	}
}
