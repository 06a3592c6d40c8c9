package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"time"
)

// DefaultChunkSize is the size of the chunks PutBlob splits content into.
const DefaultChunkSize = 64 * 1024

// BlobInfo describes a stored blob.
type BlobInfo struct {
	WorkspaceID string    `json:"workspace_id" yaml:"workspace_id"`
	ID          string    `json:"id" yaml:"id"`
	Size        int64     `json:"size" yaml:"size"`
	Chunks      int       `json:"chunks" yaml:"chunks"`
	CreatedAt   time.Time `json:"created_at" yaml:"created_at"`
}

// Blobs is the blob sub-interface of the store.
//
// Blobs are keyed by (workspace id, blob id). An empty workspace id denotes a
// global blob. Content is stored as ordered chunks and read back as a stream.
type Blobs struct {
	db        *DB
	chunkSize int
}

// SetChunkSize changes the chunk size used by subsequent PutBlob calls.
// Values <= 0 restore DefaultChunkSize.
func (b *Blobs) SetChunkSize(n int) {
	if n <= 0 {
		n = DefaultChunkSize
	}
	b.chunkSize = n
}

// ChunkStream yields the chunks of a blob in order.
type ChunkStream struct {
	rows *sql.Rows
}

// Next returns the next chunk, or io.EOF once every chunk has been read.
func (s *ChunkStream) Next(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !s.rows.Next() {
		if err := s.rows.Err(); err != nil {
			return nil, fmt.Errorf("failed to read chunk: %w", err)
		}
		return nil, io.EOF
	}

	var data []byte
	if err := s.rows.Scan(&data); err != nil {
		return nil, fmt.Errorf("failed to scan chunk: %w", err)
	}
	return data, nil
}

// Close releases the underlying query.
func (s *ChunkStream) Close() error {
	return s.rows.Close()
}

// GetBlob opens a chunk stream for the blob.
// Returns an error satisfying errors.Is(err, ErrNotFound) if the blob doesn't exist.
// The caller must Close the stream.
func (b *Blobs) GetBlob(ctx context.Context, workspaceID, blobID string) (*ChunkStream, error) {
	if b.db.conn == nil {
		return nil, ErrClosed
	}

	var chunks int
	query := `SELECT chunks FROM blobs WHERE workspace_id = ? AND blob_id = ?`
	err := b.db.conn.QueryRowContext(ctx, query, workspaceID, blobID).Scan(&chunks)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("blob %s/%s: %w", workspaceID, blobID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up blob %s/%s: %w", workspaceID, blobID, err)
	}

	query = `SELECT data FROM blob_chunks WHERE workspace_id = ? AND blob_id = ? ORDER BY idx ASC`
	rows, err := b.db.conn.QueryContext(ctx, query, workspaceID, blobID)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks of blob %s/%s: %w", workspaceID, blobID, err)
	}

	return &ChunkStream{rows: rows}, nil
}

// PutBlob stores the content read from r, replacing any existing blob with
// the same key. It returns the number of bytes stored.
func (b *Blobs) PutBlob(ctx context.Context, workspaceID, blobID string, r io.Reader) (int64, error) {
	if b.db.conn == nil {
		return 0, ErrClosed
	}
	if blobID == "" {
		return 0, fmt.Errorf("blob id cannot be empty")
	}

	tx, err := b.db.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := deleteBlobTx(ctx, tx, workspaceID, blobID); err != nil {
		return 0, err
	}

	// Insert metadata first so chunk rows satisfy the foreign key; the totals
	// are filled in once the content has been consumed.
	query := `INSERT INTO blobs (workspace_id, blob_id, size, chunks, created_at) VALUES (?, ?, 0, 0, ?)`
	if _, err := tx.ExecContext(ctx, query, workspaceID, blobID, time.Now().UTC().Format(time.RFC3339)); err != nil {
		return 0, fmt.Errorf("failed to insert blob %s/%s: %w", workspaceID, blobID, err)
	}

	var (
		size int64
		idx  int
		buf  = make([]byte, b.chunkSize)
	)
	for {
		n, readErr := io.ReadFull(r, buf)
		if n > 0 {
			query := `INSERT INTO blob_chunks (workspace_id, blob_id, idx, data) VALUES (?, ?, ?, ?)`
			if _, err := tx.ExecContext(ctx, query, workspaceID, blobID, idx, buf[:n]); err != nil {
				return 0, fmt.Errorf("failed to insert chunk %d of blob %s/%s: %w", idx, workspaceID, blobID, err)
			}
			size += int64(n)
			idx++
		}
		if readErr == io.EOF || readErr == io.ErrUnexpectedEOF {
			break
		}
		if readErr != nil {
			return 0, fmt.Errorf("failed to read blob content: %w", readErr)
		}
	}

	query = `UPDATE blobs SET size = ?, chunks = ? WHERE workspace_id = ? AND blob_id = ?`
	if _, err := tx.ExecContext(ctx, query, size, idx, workspaceID, blobID); err != nil {
		return 0, fmt.Errorf("failed to update blob %s/%s: %w", workspaceID, blobID, err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit blob %s/%s: %w", workspaceID, blobID, err)
	}

	return size, nil
}

// DeleteBlob removes a blob and its chunks.
// Returns nil if the blob doesn't exist (idempotent).
func (b *Blobs) DeleteBlob(ctx context.Context, workspaceID, blobID string) error {
	if b.db.conn == nil {
		return ErrClosed
	}

	tx, err := b.db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := deleteBlobTx(ctx, tx, workspaceID, blobID); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit blob deletion: %w", err)
	}
	return nil
}

func deleteBlobTx(ctx context.Context, tx *sql.Tx, workspaceID, blobID string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM blob_chunks WHERE workspace_id = ? AND blob_id = ?`, workspaceID, blobID); err != nil {
		return fmt.Errorf("failed to delete chunks of blob %s/%s: %w", workspaceID, blobID, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM blobs WHERE workspace_id = ? AND blob_id = ?`, workspaceID, blobID); err != nil {
		return fmt.Errorf("failed to delete blob %s/%s: %w", workspaceID, blobID, err)
	}
	return nil
}

// ListBlobs returns the blobs of a workspace ordered by id.
func (b *Blobs) ListBlobs(ctx context.Context, workspaceID string) ([]BlobInfo, error) {
	if b.db.conn == nil {
		return nil, ErrClosed
	}

	query := `
	SELECT workspace_id, blob_id, size, chunks, created_at
	FROM blobs
	WHERE workspace_id = ?
	ORDER BY blob_id ASC
	`
	rows, err := b.db.conn.QueryContext(ctx, query, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list blobs: %w", err)
	}
	defer rows.Close()

	var infos []BlobInfo
	for rows.Next() {
		var (
			info      BlobInfo
			createdAt string
		)
		if err := rows.Scan(&info.WorkspaceID, &info.ID, &info.Size, &info.Chunks, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan blob: %w", err)
		}
		info.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		infos = append(infos, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read blobs: %w", err)
	}

	return infos, nil
}
