package storage

import (
	"context"
	"fmt"

	"github.com/octosync/octosync/internal/doc"
)

// localSession is a Session that was never connected to a remote.
type localSession struct {
	doc *doc.Doc
}

func (l *localSession) Document() doc.Document { return l.doc }

func (l *localSession) Close() error { return nil }

// LocalClient is a ClientFunc that loads the workspace from the store and
// does not connect anywhere. The remote is ignored. Changes made to the
// document are persisted as usual and reach remotes on the next sync.
func LocalClient(ctx context.Context, store DocStore, workspaceID, remote string) (Session, error) {
	if workspaceID == "" {
		return nil, fmt.Errorf("workspace id cannot be empty")
	}

	updates, err := store.Updates(ctx, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("failed to load workspace %s: %w", workspaceID, err)
	}
	d, err := doc.Load(workspaceID, updates)
	if err != nil {
		return nil, err
	}
	return &localSession{doc: d}, nil
}
