package storage

import (
	"context"
	"io"

	"github.com/octosync/octosync/internal/db"
	"github.com/octosync/octosync/internal/doc"
)

// Store is the durable store a Storage handle binds.
//
// A store that also implements BlobProvider supports blob retrieval; one that
// doesn't simply has the blob operations disabled.
type Store interface {
	// Docs returns the document-update sub-interface.
	Docs() DocStore

	// Close releases the store. It is called once, when the last reference
	// to it is released.
	Close() error
}

// BlobProvider is implemented by stores that carry blobs.
type BlobProvider interface {
	Blobs() BlobStore
}

// DocStore is the document-update sub-interface of a store.
type DocStore interface {
	// WriteUpdate appends a serialized update to the workspace's log.
	WriteUpdate(ctx context.Context, workspaceID string, update []byte) error

	// Updates returns the workspace's updates in write order.
	Updates(ctx context.Context, workspaceID string) ([][]byte, error)
}

// BlobStore is the blob sub-interface of a store.
type BlobStore interface {
	// GetBlob opens a chunk stream for the blob. Missing blobs yield an
	// error satisfying errors.Is(err, db.ErrNotFound).
	GetBlob(ctx context.Context, workspaceID, blobID string) (ChunkStream, error)

	PutBlob(ctx context.Context, workspaceID, blobID string, r io.Reader) (int64, error)
	DeleteBlob(ctx context.Context, workspaceID, blobID string) error
	ListBlobs(ctx context.Context, workspaceID string) ([]db.BlobInfo, error)
}

// ChunkStream yields the chunks of a blob in order.
type ChunkStream interface {
	// Next returns the next chunk, or io.EOF after the last one.
	Next(ctx context.Context) ([]byte, error)
	Close() error
}

// Session is a live sync session returned by a ClientFunc.
type Session interface {
	// Document returns the synchronized document.
	Document() doc.Document

	// Close ends the session.
	Close() error
}

// PendingUpdates is implemented by sessions that buffer remote updates
// merged before the storage observer was attached.
type PendingUpdates interface {
	TakePending() [][]byte
}

// ClientFunc starts a sync session for a workspace against a remote.
type ClientFunc func(ctx context.Context, store DocStore, workspaceID, remote string) (Session, error)

// OpenFunc opens the durable store at a path.
type OpenFunc func(ctx context.Context, path string) (Store, error)
