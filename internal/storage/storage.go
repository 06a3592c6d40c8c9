// Package storage binds synchronized workspaces to a durable store.
//
// A Storage handle opens a store once and hands out Workspaces: live,
// synchronized documents whose every change is appended to the store's
// update log. Blob retrieval goes through the same handle and the same store
// lock, so a blob read never interleaves with an update write.
//
// Example:
//
//	s := storage.New("/var/lib/octosync/store.db")
//	if err := s.Err(); err != nil {
//	    log.Fatal(err)
//	}
//	defer s.Close()
//
//	ws, err := s.Sync(ctx, "notes", "wss://relay.example.com")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer ws.Close()
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"sync"
	"time"

	"github.com/octosync/octosync/internal/db"
	"github.com/octosync/octosync/internal/doc"
	"github.com/octosync/octosync/internal/metrics"
	"github.com/octosync/octosync/internal/syncproto"
)

// Config holds Storage configuration.
type Config struct {
	// Open opens the durable store (default: OpenSQLite)
	Open OpenFunc

	// Client starts sync sessions (default: a syncproto client)
	Client ClientFunc

	// SyncTimeout bounds establishing a session. Zero means no bound beyond
	// the caller's context.
	SyncTimeout time.Duration

	// WriteTimeout bounds a single update write. Zero means no bound.
	WriteTimeout time.Duration

	// Verbose logs every persisted update.
	Verbose bool

	// Logger for storage activity
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	logger := log.New(os.Stderr, "[storage] ", log.LstdFlags)
	return &Config{
		Open:   OpenSQLite,
		Client: StartClient(&syncproto.ClientConfig{Logger: log.New(logger.Writer(), "[sync] ", log.LstdFlags)}),
		Logger: logger,
	}
}

// Storage is a handle to a durable store.
//
// The store is shared between the handle and every Workspace it produced, and
// is closed when the last of them is closed. A handle whose store could not
// be opened stays usable: Err reports why, and every store-dependent
// operation fails with ErrNotConnected.
type Storage struct {
	path   string
	config *Config
	logger *log.Logger

	mu  sync.Mutex
	ref *storeRef

	errMu   sync.Mutex
	initErr error
	lastErr error
}

// storeRef is the shared, reference-counted store.
type storeRef struct {
	// mu is the store lock: read-held for blob reads and session start,
	// write-held for update writes.
	mu    sync.RWMutex
	store Store

	refMu  sync.Mutex
	refs   int
	closed bool
}

// New opens the store at path with the default configuration.
func New(path string) *Storage {
	return NewWithConfig(path, DefaultConfig())
}

// NewWithConfig opens the store at path. It never fails: a failure is
// logged and recorded, and later reported by Err.
func NewWithConfig(path string, config *Config) *Storage {
	if config == nil {
		config = DefaultConfig()
	}
	defaults := DefaultConfig()
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}
	if config.Open == nil {
		config.Open = defaults.Open
	}
	if config.Client == nil {
		config.Client = defaults.Client
	}

	s := &Storage{
		path:   path,
		config: config,
		logger: config.Logger,
	}

	store, err := config.Open(context.Background(), path)
	if err != nil {
		s.initErr = fmt.Errorf("failed to open storage at %s: %w", path, err)
		s.logger.Printf("Failed to initialize storage: %v", err)
		return s
	}

	s.ref = &storeRef{store: store, refs: 1}
	return s
}

// Path returns the address the handle was constructed with.
func (s *Storage) Path() string {
	return s.path
}

// Err returns the most recent error recorded by Connect, or else the
// construction error. It returns nil when neither happened.
func (s *Storage) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.lastErr != nil {
		return s.lastErr
	}
	return s.initErr
}

func (s *Storage) setErr(err error) {
	s.errMu.Lock()
	s.lastErr = err
	s.errMu.Unlock()
}

// Connected reports whether the handle holds an open store.
func (s *Storage) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ref != nil
}

// Close releases the handle's reference to the store. Workspaces already
// produced keep working; the store closes once they are closed too.
// Close is idempotent.
func (s *Storage) Close() error {
	s.mu.Lock()
	ref := s.ref
	s.ref = nil
	s.mu.Unlock()

	if ref == nil {
		return nil
	}
	return ref.release()
}

// acquire retains the store for the duration of an operation.
func (s *Storage) acquire() (*storeRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ref == nil || !s.ref.retain() {
		return nil, ErrNotConnected
	}
	return s.ref, nil
}

// Sync starts a sync session for workspaceID against remote, loading the
// workspace from the store first. Every later change to the returned
// Workspace's document is appended to the store until the Workspace is
// closed.
func (s *Storage) Sync(ctx context.Context, workspaceID, remote string) (*Workspace, error) {
	ref, err := s.acquire()
	if err != nil {
		return nil, err
	}

	if s.config.SyncTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.SyncTimeout)
		defer cancel()
	}

	ref.mu.RLock()
	sess, err := s.config.Client(ctx, ref.store.Docs(), workspaceID, remote)
	ref.mu.RUnlock()
	if err != nil {
		_ = ref.release()
		metrics.SyncFailures.Inc()
		return nil, &SyncError{WorkspaceID: workspaceID, Remote: remote, cause: err}
	}

	document := sess.Document()
	stats := &writeStats{}
	persist := s.observer(ref, document.ID(), stats)
	sub := document.Observe(persist)

	if p, ok := sess.(PendingUpdates); ok {
		for _, update := range p.TakePending() {
			persist(doc.OriginRemote, doc.Event{Update: update})
		}
	}

	s.logger.Printf("Workspace %s is synced with %s", workspaceID, remote)
	return &Workspace{
		id:       workspaceID,
		document: document,
		session:  sess,
		sub:      sub,
		ref:      ref,
		stats:    stats,
	}, nil
}

// Connect is Sync for callers that only want the Workspace. A failure is
// logged and recorded (see Err) and nil is returned.
func (s *Storage) Connect(ctx context.Context, workspaceID, remote string) *Workspace {
	ws, err := s.Sync(ctx, workspaceID, remote)
	if err != nil {
		s.logger.Printf("Failed to connect to workspace: %v", err)
		s.setErr(err)
		return nil
	}
	return ws
}

// observer returns the handler that appends a workspace's updates to the
// store. Failures are logged and the update is dropped.
func (s *Storage) observer(ref *storeRef, workspaceID string, stats *writeStats) doc.Handler {
	return func(origin doc.Origin, ev doc.Event) {
		if len(ev.Update) == 0 {
			return
		}

		if err := ref.writeUpdate(workspaceID, ev.Update, s.config.WriteTimeout); err != nil {
			stats.failed.Add(1)
			metrics.UpdateWriteFailures.Inc()
			s.logger.Printf("Failed to write update to storage: %v", err)
			return
		}

		stats.persisted.Add(1)
		metrics.UpdatesPersisted.Inc()
		if s.config.Verbose {
			s.logger.Printf("Persisted %s update for %s (%d bytes)", origin, workspaceID, len(ev.Update))
		}
	}
}

// GetBlob returns the full content of a blob. If any chunk fails to read, it
// returns a *BlobReadError and no content.
func (s *Storage) GetBlob(ctx context.Context, workspaceID, blobID string) ([]byte, error) {
	ref, err := s.acquire()
	if err != nil {
		return nil, err
	}
	defer ref.release()

	blobs, ok := ref.blobs()
	if !ok {
		return nil, ErrBlobsUnsupported
	}

	ref.mu.RLock()
	defer ref.mu.RUnlock()

	stream, err := blobs.GetBlob(ctx, workspaceID, blobID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			metrics.BlobReads.WithLabelValues("not_found").Inc()
		} else {
			metrics.BlobReads.WithLabelValues("error").Inc()
		}
		return nil, fmt.Errorf("failed to open blob %s/%s: %w", workspaceID, blobID, err)
	}
	defer stream.Close()

	content := []byte{}
	for {
		chunk, err := stream.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			metrics.BlobReads.WithLabelValues("error").Inc()
			return nil, &BlobReadError{WorkspaceID: workspaceID, BlobID: blobID, cause: err}
		}
		content = append(content, chunk...)
	}

	metrics.BlobReads.WithLabelValues("ok").Inc()
	return content, nil
}

// PutBlob stores the content of r as a blob, replacing any previous one.
func (s *Storage) PutBlob(ctx context.Context, workspaceID, blobID string, r io.Reader) (int64, error) {
	ref, err := s.acquire()
	if err != nil {
		return 0, err
	}
	defer ref.release()

	blobs, ok := ref.blobs()
	if !ok {
		return 0, ErrBlobsUnsupported
	}

	ref.mu.Lock()
	defer ref.mu.Unlock()
	return blobs.PutBlob(ctx, workspaceID, blobID, r)
}

// DeleteBlob removes a blob. Deleting a missing blob is not an error.
func (s *Storage) DeleteBlob(ctx context.Context, workspaceID, blobID string) error {
	ref, err := s.acquire()
	if err != nil {
		return err
	}
	defer ref.release()

	blobs, ok := ref.blobs()
	if !ok {
		return ErrBlobsUnsupported
	}

	ref.mu.Lock()
	defer ref.mu.Unlock()
	return blobs.DeleteBlob(ctx, workspaceID, blobID)
}

// ListBlobs returns the blobs of a workspace ordered by id.
func (s *Storage) ListBlobs(ctx context.Context, workspaceID string) ([]db.BlobInfo, error) {
	ref, err := s.acquire()
	if err != nil {
		return nil, err
	}
	defer ref.release()

	blobs, ok := ref.blobs()
	if !ok {
		return nil, ErrBlobsUnsupported
	}

	ref.mu.RLock()
	defer ref.mu.RUnlock()
	return blobs.ListBlobs(ctx, workspaceID)
}

func (r *storeRef) retain() bool {
	r.refMu.Lock()
	defer r.refMu.Unlock()

	if r.closed {
		return false
	}
	r.refs++
	return true
}

// release drops a reference and closes the store when it was the last one.
func (r *storeRef) release() error {
	r.refMu.Lock()
	r.refs--
	if r.refs > 0 || r.closed {
		r.refMu.Unlock()
		return nil
	}
	r.closed = true
	r.refMu.Unlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.store.Close()
}

func (r *storeRef) blobs() (BlobStore, bool) {
	p, ok := r.store.(BlobProvider)
	if !ok {
		return nil, false
	}
	return p.Blobs(), true
}

func (r *storeRef) writeUpdate(workspaceID string, update []byte, timeout time.Duration) error {
	ctx := context.Background()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.store.Docs().WriteUpdate(ctx, workspaceID, update)
}
