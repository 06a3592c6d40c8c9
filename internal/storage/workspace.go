package storage

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/octosync/octosync/internal/doc"
)

// writeStats counts the outcome of a workspace's update writes.
type writeStats struct {
	persisted atomic.Int64
	failed    atomic.Int64
}

// Workspace is a live, synchronized document whose changes are persisted by
// the Storage that produced it.
type Workspace struct {
	id       string
	document doc.Document
	session  Session
	sub      doc.Subscription
	ref      *storeRef
	stats    *writeStats

	searchMu     sync.RWMutex
	searchFields []string

	closeOnce sync.Once
	closeErr  error
}

// ID returns the workspace id.
func (w *Workspace) ID() string {
	return w.id
}

// ClientID returns the id of this replica.
func (w *Workspace) ClientID() string {
	return w.document.ClientID()
}

// Document returns the synchronized document.
func (w *Workspace) Document() doc.Document {
	return w.document
}

// Session returns the sync session backing the workspace.
func (w *Workspace) Session() Session {
	return w.session
}

// PersistedUpdates returns the number of updates written to the store.
func (w *Workspace) PersistedUpdates() int64 {
	return w.stats.persisted.Load()
}

// FailedWrites returns the number of updates the store failed to write.
// Those updates were dropped; the document still holds them.
func (w *Workspace) FailedWrites() int64 {
	return w.stats.failed.Load()
}

// SetSearchIndex sets the document keys Search looks at. An empty list
// searches every key. Duplicates are dropped; blank names are an error.
func (w *Workspace) SetSearchIndex(fields []string) error {
	seen := make(map[string]bool, len(fields))
	index := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.TrimSpace(f)
		if f == "" {
			return fmt.Errorf("search index field cannot be empty")
		}
		if seen[f] {
			continue
		}
		seen[f] = true
		index = append(index, f)
	}

	w.searchMu.Lock()
	w.searchFields = index
	w.searchMu.Unlock()
	return nil
}

// SearchIndex returns the indexed keys. Nil means every key.
func (w *Workspace) SearchIndex() []string {
	w.searchMu.RLock()
	defer w.searchMu.RUnlock()

	if len(w.searchFields) == 0 {
		return nil
	}
	return append([]string(nil), w.searchFields...)
}

// Search returns the indexed keys whose values contain query.
func (w *Workspace) Search(query string) ([]doc.Match, error) {
	s, ok := w.document.(doc.Searcher)
	if !ok {
		return nil, ErrSearchUnsupported
	}
	return s.Search(query, w.SearchIndex())
}

// Close stops persistence, ends the session and releases the store. No
// update is written after Close returns. Close is idempotent.
func (w *Workspace) Close() error {
	w.closeOnce.Do(func() {
		w.sub.Unsubscribe()
		err := w.session.Close()
		if rerr := w.ref.release(); err == nil {
			err = rerr
		}
		w.closeErr = err
	})
	return w.closeErr
}
