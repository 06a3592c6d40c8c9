package storage_test

import (
	"context"
	"fmt"
	"log"

	"github.com/octosync/octosync/internal/doc"
	"github.com/octosync/octosync/internal/storage"
)

// This example demonstrates opening storage and syncing a workspace.
// Note: This is for documentation only and won't run as a test.
func ExampleStorage_Sync() {
	s := storage.New(".octosync/store.db")
	if err := s.Err(); err != nil {
		log.Fatal(err)
	}
	defer s.Close()

	ctx := context.Background()
	ws, err := s.Sync(ctx, "notes", "ws://localhost:8080")
	if err != nil {
		log.Fatal(err)
	}
	defer ws.Close()

	// Local changes are persisted and pushed to the remote.
	if d, ok := ws.Document().(*doc.Doc); ok {
		if err := d.Set("title", "Meeting notes"); err != nil {
			log.Fatal(err)
		}
	}

	fmt.Println("Workspace synced")
}

// This example demonstrates reading a blob.
func ExampleStorage_GetBlob() {
	s := storage.New(".octosync/store.db")
	defer s.Close()

	content, err := s.GetBlob(context.Background(), "notes", "diagram.png")
	if err != nil {
		log.Fatal(err)
	}

	fmt.Printf("Read %d bytes\n", len(content))
}

// This example demonstrates Connect, which reports failures through Err.
func ExampleStorage_Connect() {
	s := storage.New(".octosync/store.db")
	defer s.Close()

	ws := s.Connect(context.Background(), "notes", "ws://localhost:8080")
	if ws == nil {
		log.Fatalf("connect failed: %v", s.Err())
	}
	defer ws.Close()
}
