package db

import (
	"context"
	"fmt"
	"time"
)

// Docs is the document-update sub-interface of the store.
//
// Updates are opaque serialized document deltas. They are appended in the
// order they are written and replayed in the same order.
type Docs struct {
	db *DB
}

// WriteUpdate appends an update to the log of the given workspace.
func (d *Docs) WriteUpdate(ctx context.Context, workspaceID string, update []byte) error {
	if d.db.conn == nil {
		return ErrClosed
	}
	if workspaceID == "" {
		return fmt.Errorf("workspace id cannot be empty")
	}

	query := `INSERT INTO updates (workspace_id, data, created_at) VALUES (?, ?, ?)`
	_, err := d.db.conn.ExecContext(ctx, query,
		workspaceID,
		update,
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to write update for workspace %s: %w", workspaceID, err)
	}

	return nil
}

// Updates returns every update of the workspace in write order.
// A workspace with no updates yields an empty slice.
func (d *Docs) Updates(ctx context.Context, workspaceID string) ([][]byte, error) {
	if d.db.conn == nil {
		return nil, ErrClosed
	}

	query := `SELECT data FROM updates WHERE workspace_id = ? ORDER BY seq ASC`
	rows, err := d.db.conn.QueryContext(ctx, query, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("failed to query updates for workspace %s: %w", workspaceID, err)
	}
	defer rows.Close()

	var updates [][]byte
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan update: %w", err)
		}
		updates = append(updates, data)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read updates: %w", err)
	}

	return updates, nil
}

// UpdateCount returns the number of updates stored for the workspace.
func (d *Docs) UpdateCount(ctx context.Context, workspaceID string) (int, error) {
	if d.db.conn == nil {
		return 0, ErrClosed
	}

	var count int
	query := `SELECT COUNT(*) FROM updates WHERE workspace_id = ?`
	if err := d.db.conn.QueryRowContext(ctx, query, workspaceID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count updates: %w", err)
	}
	return count, nil
}

// Workspaces lists the ids of all workspaces that have at least one update.
func (d *Docs) Workspaces(ctx context.Context) ([]string, error) {
	if d.db.conn == nil {
		return nil, ErrClosed
	}

	rows, err := d.db.conn.QueryContext(ctx, `SELECT DISTINCT workspace_id FROM updates ORDER BY workspace_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list workspaces: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan workspace id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DeleteWorkspace removes every update of the workspace.
// Returns nil if the workspace doesn't exist (idempotent).
func (d *Docs) DeleteWorkspace(ctx context.Context, workspaceID string) error {
	if d.db.conn == nil {
		return ErrClosed
	}

	if _, err := d.db.conn.ExecContext(ctx, `DELETE FROM updates WHERE workspace_id = ?`, workspaceID); err != nil {
		return fmt.Errorf("failed to delete workspace %s: %w", workspaceID, err)
	}
	return nil
}
