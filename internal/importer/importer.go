// Package importer keeps the blobs of a workspace in step with a directory.
//
// The importer:
// 1. Imports every regular file of the directory on start
// 2. Watches the directory for changes
// 3. Debounces bursts of events on the same file
// 4. Stores created or modified files as blobs and deletes removed ones
//
// The blob id of a file is its base name. Subdirectories are ignored.
package importer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/octosync/octosync/internal/metrics"
)

// Target receives imported blobs. *storage.Storage satisfies it.
type Target interface {
	PutBlob(ctx context.Context, workspaceID, blobID string, r io.Reader) (int64, error)
	DeleteBlob(ctx context.Context, workspaceID, blobID string) error
}

// Config holds configuration for the importer.
type Config struct {
	// DebounceInterval is how long a file must stay quiet before it is imported.
	// This batches rapid writes together.
	DebounceInterval time.Duration

	// IncludeHidden imports dot files too.
	IncludeHidden bool

	// Logger for importer activity
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DebounceInterval: 100 * time.Millisecond,
		Logger:           log.New(os.Stderr, "[importer] ", log.LstdFlags),
	}
}

// Op is the kind of change applied to a blob.
type Op int

const (
	// OpPut stores the file content as a blob.
	OpPut Op = iota
	// OpDelete removes the blob.
	OpDelete
)

// String returns a human-readable representation of the operation.
func (op Op) String() string {
	switch op {
	case OpPut:
		return "put"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Result describes one applied change. Results are delivered on the channel
// returned by Results, when the importer is watching.
type Result struct {
	Path   string
	BlobID string
	Op     Op
	Size   int64
	Err    error
}

// Importer mirrors a directory into the blobs of one workspace.
type Importer struct {
	target      Target
	dir         string
	workspaceID string
	config      *Config

	watcher       *fsnotify.Watcher
	changeQueue   map[string]time.Time // path -> last event
	changeQueueMu sync.Mutex

	results chan Result

	mu      sync.Mutex
	running bool
	stopped bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates an importer with the default configuration.
func New(target Target, dir, workspaceID string) (*Importer, error) {
	return NewWithConfig(target, dir, workspaceID, DefaultConfig())
}

// NewWithConfig creates an importer with custom configuration.
func NewWithConfig(target Target, dir, workspaceID string, config *Config) (*Importer, error) {
	if target == nil {
		return nil, fmt.Errorf("target cannot be nil")
	}
	if dir == "" {
		return nil, fmt.Errorf("dir cannot be empty")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = DefaultConfig().Logger
	}
	if config.DebounceInterval <= 0 {
		config.DebounceInterval = 100 * time.Millisecond
	}

	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", dir, err)
	}

	return &Importer{
		target:      target,
		dir:         absDir,
		workspaceID: workspaceID,
		config:      config,
		changeQueue: make(map[string]time.Time),
		results:     make(chan Result, 100),
	}, nil
}

// Dir returns the watched directory.
func (im *Importer) Dir() string {
	return im.dir
}

// Results returns the channel of applied changes. Results are dropped when
// nobody reads them. The channel is closed by Stop.
func (im *Importer) Results() <-chan Result {
	return im.results
}

// Start imports the whole directory and then watches it until Stop is called
// or ctx is done.
func (im *Importer) Start(ctx context.Context) error {
	im.mu.Lock()
	defer im.mu.Unlock()

	if im.running {
		return fmt.Errorf("importer already running")
	}
	if im.stopped {
		return fmt.Errorf("importer cannot be restarted")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	if err := watcher.Add(im.dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch directory %s: %w", im.dir, err)
	}

	// Events raised during the initial import are picked up by the watch loop.
	if _, err := im.ImportAll(ctx); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("initial import failed: %w", err)
	}

	im.watcher = watcher
	im.ctx, im.cancel = context.WithCancel(ctx)
	im.running = true

	im.wg.Add(2)
	go im.watchFileEvents()
	go im.processChangeQueue()

	im.config.Logger.Printf("Watching %s for workspace %q", im.dir, im.workspaceID)
	return nil
}

// Stop stops watching and waits for in-flight imports. It is safe to call
// more than once. A stopped importer cannot be started again.
func (im *Importer) Stop() error {
	im.mu.Lock()
	if !im.running {
		im.mu.Unlock()
		return nil
	}
	im.running = false
	im.stopped = true
	im.mu.Unlock()

	im.cancel()

	var err error
	if cerr := im.watcher.Close(); cerr != nil {
		err = fmt.Errorf("failed to close watcher: %w", cerr)
	}

	im.wg.Wait()
	close(im.results)

	im.config.Logger.Println("Importer stopped")
	return err
}

// IsRunning returns true if the importer is watching.
func (im *Importer) IsRunning() bool {
	im.mu.Lock()
	defer im.mu.Unlock()
	return im.running
}

// ImportAll stores every regular file of the directory. Per-file failures are
// logged and skipped; it returns the number of files imported.
func (im *Importer) ImportAll(ctx context.Context) (int, error) {
	entries, err := os.ReadDir(im.dir)
	if err != nil {
		return 0, fmt.Errorf("failed to read directory %s: %w", im.dir, err)
	}

	n := 0
	for _, entry := range entries {
		if entry.IsDir() || !im.wanted(entry.Name()) {
			continue
		}
		path := filepath.Join(im.dir, entry.Name())
		res := im.ImportFile(ctx, path)
		if res.Err != nil {
			im.config.Logger.Printf("Warning: failed to import %s: %v", path, res.Err)
			continue
		}
		n++
	}

	im.config.Logger.Printf("Imported %d files from %s", n, im.dir)
	return n, nil
}

// ImportFile applies the current state of path: its content is stored when
// the file exists, and its blob is deleted when it does not.
func (im *Importer) ImportFile(ctx context.Context, path string) Result {
	blobID := filepath.Base(path)
	res := Result{Path: path, BlobID: blobID, Op: OpPut}

	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		res.Op = OpDelete
		res.Err = im.target.DeleteBlob(ctx, im.workspaceID, blobID)
		return res
	}
	if err != nil {
		res.Err = fmt.Errorf("failed to open %s: %w", path, err)
		return res
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		res.Err = fmt.Errorf("failed to stat %s: %w", path, err)
		return res
	}
	if !info.Mode().IsRegular() {
		res.Err = fmt.Errorf("%s is not a regular file", path)
		return res
	}

	res.Size, res.Err = im.target.PutBlob(ctx, im.workspaceID, blobID, f)
	if res.Err == nil {
		metrics.BlobsImported.Inc()
	}
	return res
}

// wanted reports whether a file name is imported at all.
func (im *Importer) wanted(name string) bool {
	if strings.HasPrefix(name, ".") && !im.config.IncludeHidden {
		return false
	}
	// Editor swap and backup files.
	return !strings.HasSuffix(name, "~") && !strings.HasSuffix(name, ".swp")
}

// watchFileEvents monitors filesystem events and queues changes.
func (im *Importer) watchFileEvents() {
	defer im.wg.Done()

	for {
		select {
		case <-im.ctx.Done():
			return

		case event, ok := <-im.watcher.Events:
			if !ok {
				return
			}

			// Chmod alone does not change content
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if filepath.Dir(event.Name) != im.dir || !im.wanted(filepath.Base(event.Name)) {
				continue
			}

			im.queueChange(event.Name)

		case err, ok := <-im.watcher.Errors:
			if !ok {
				return
			}
			im.config.Logger.Printf("Watcher error: %v", err)
		}
	}
}

// queueChange adds a file to the change queue, restarting its quiet period.
func (im *Importer) queueChange(path string) {
	im.changeQueueMu.Lock()
	defer im.changeQueueMu.Unlock()

	im.changeQueue[path] = time.Now()
}

// processChangeQueue applies queued changes once they have settled.
func (im *Importer) processChangeQueue() {
	defer im.wg.Done()

	ticker := time.NewTicker(im.config.DebounceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-im.ctx.Done():
			return

		case <-ticker.C:
			im.processPendingChanges()
		}
	}
}

// processPendingChanges imports files that have been quiet for long enough.
func (im *Importer) processPendingChanges() {
	im.changeQueueMu.Lock()
	now := time.Now()
	var ready []string
	for path, queuedAt := range im.changeQueue {
		if now.Sub(queuedAt) < im.config.DebounceInterval {
			continue
		}
		ready = append(ready, path)
		delete(im.changeQueue, path)
	}
	im.changeQueueMu.Unlock()

	for _, path := range ready {
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			continue
		}

		res := im.ImportFile(im.ctx, path)
		if res.Err != nil {
			im.config.Logger.Printf("Error importing %s: %v", path, res.Err)
		} else {
			im.config.Logger.Printf("Applied %s %s (%d bytes)", res.Op, res.BlobID, res.Size)
		}

		select {
		case im.results <- res:
		default:
		}
	}
}
