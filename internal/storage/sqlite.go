package storage

import (
	"context"

	"github.com/octosync/octosync/internal/db"
	"github.com/octosync/octosync/internal/syncproto"
)

// sqliteStore adapts *db.DB to Store and BlobProvider.
type sqliteStore struct {
	db *db.DB
}

// OpenSQLite opens (or creates) the SQLite store at path.
func OpenSQLite(ctx context.Context, path string) (Store, error) {
	d, err := db.OpenContext(ctx, path)
	if err != nil {
		return nil, err
	}
	return &sqliteStore{db: d}, nil
}

func (s *sqliteStore) Docs() DocStore { return s.db.Docs() }

func (s *sqliteStore) Blobs() BlobStore { return sqliteBlobs{s.db.Blobs()} }

func (s *sqliteStore) Close() error { return s.db.Close() }

// DB returns the underlying database.
func (s *sqliteStore) DB() *db.DB { return s.db }

type sqliteBlobs struct {
	*db.Blobs
}

func (b sqliteBlobs) GetBlob(ctx context.Context, workspaceID, blobID string) (ChunkStream, error) {
	stream, err := b.Blobs.GetBlob(ctx, workspaceID, blobID)
	if err != nil {
		return nil, err
	}
	return stream, nil
}

// StartClient is the default ClientFunc: a syncproto session.
func StartClient(config *syncproto.ClientConfig) ClientFunc {
	return func(ctx context.Context, store DocStore, workspaceID, remote string) (Session, error) {
		sess, err := syncproto.StartClientWithConfig(ctx, store, workspaceID, remote, config)
		if err != nil {
			return nil, err
		}
		return sess, nil
	}
}
