package storage

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConnected is returned by every store-dependent operation of a
	// handle whose store could not be opened, or that has been closed.
	ErrNotConnected = errors.New("storage is not connected")

	// ErrBlobsUnsupported is returned by blob operations when the store has
	// no blob sub-interface.
	ErrBlobsUnsupported = errors.New("storage does not support blobs")

	// ErrSearchUnsupported is returned by Workspace.Search when the document
	// cannot be searched.
	ErrSearchUnsupported = errors.New("workspace document does not support search")
)

// SyncError is returned when a sync session could not be established.
//
// The underlying cause can be accessed via errors.Unwrap.
type SyncError struct {
	WorkspaceID string
	Remote      string
	cause       error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("failed to sync workspace %s with %s: %v", e.WorkspaceID, e.Remote, e.cause)
}

func (e *SyncError) Unwrap() error { return e.cause }

// BlobReadError is returned when a chunk of a blob could not be read. No
// part of the blob is returned alongside it.
//
// The underlying cause can be accessed via errors.Unwrap.
type BlobReadError struct {
	WorkspaceID string
	BlobID      string
	cause       error
}

func (e *BlobReadError) Error() string {
	return fmt.Sprintf("failed to read blob file %s/%s from stream: %v", e.WorkspaceID, e.BlobID, e.cause)
}

func (e *BlobReadError) Unwrap() error { return e.cause }
