package syncproto

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/octosync/octosync/internal/db"
	"github.com/octosync/octosync/internal/doc"
)

func TestServer_Health(t *testing.T) {
	srv, remote := setupRelay(t, nil)
	startClient(t, emptyStore{}, "notes", remote)

	resp, err := http.Get(remote + "/health")
	if err != nil {
		t.Fatalf("GET /health failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var body struct {
		Status string `json:"status"`
		Rooms  int    `json:"rooms"`
		Peers  int    `json:"peers"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode health: %v", err)
	}
	if body.Status != "ok" || body.Rooms != 1 || body.Peers != 1 {
		t.Errorf("health = %+v, want ok with 1 room and 1 peer", body)
	}
	if srv.RoomCount() != 1 {
		t.Errorf("RoomCount() = %d, want 1", srv.RoomCount())
	}
}

func TestServer_Metrics(t *testing.T) {
	srv := NewServer(&ServerConfig{Metrics: true, Logger: discard})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	// Without Metrics the endpoint is not mounted.
	plain := NewServer(&ServerConfig{Logger: discard})
	rec := httptest.NewRecorder()
	plain.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestServer_PeersLeave(t *testing.T) {
	srv, remote := setupRelay(t, nil)

	a := startClient(t, emptyStore{}, "notes", remote)
	startClient(t, emptyStore{}, "notes", remote)
	startClient(t, emptyStore{}, "todo", remote)

	waitFor(t, "three peers", func() bool { return srv.PeerCount() == 3 })
	if srv.RoomCount() != 2 {
		t.Errorf("RoomCount() = %d, want 2", srv.RoomCount())
	}

	if err := a.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}
	waitFor(t, "peer to leave", func() bool { return srv.PeerCount() == 2 })
}

func TestServer_PersistsRooms(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.db")
	store, err := db.Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}

	srv, remote := setupRelay(t, store.Docs())
	alice := startClient(t, emptyStore{}, "notes", remote)
	if err := alice.Doc().Set("title", "kept"); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}
	waitFor(t, "relay to persist", func() bool {
		updates, err := store.Docs().Updates(context.Background(), "notes")
		if err != nil {
			return false
		}
		d, err := doc.Load("notes", updates)
		return err == nil && hasValue(d, "title", "kept")
	})
	if err := srv.Stop(); err != nil {
		t.Fatalf("Stop() failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}

	// A new relay over the same store serves the persisted state.
	store, err = db.Open(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer store.Close()

	_, remote = setupRelay(t, store.Docs())
	bob := startClient(t, emptyStore{}, "notes", remote)
	if !hasValue(bob.Doc(), "title", "kept") {
		t.Error("restarted relay lost the workspace")
	}
}

func TestServer_RejectsInvalidMessage(t *testing.T) {
	_, remote := setupRelay(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url, err := SyncURL(remote, "notes")
	if err != nil {
		t.Fatalf("SyncURL() failed: %v", err)
	}
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("Dial() failed: %v", err)
	}
	defer conn.CloseNow()

	if err := conn.Write(ctx, websocket.MessageBinary, []byte("not a sync message")); err != nil {
		t.Fatalf("Write() failed: %v", err)
	}

	_, _, err = conn.Read(ctx)
	if got := websocket.CloseStatus(err); got != websocket.StatusProtocolError {
		t.Errorf("close status = %v (err %v), want StatusProtocolError", got, err)
	}
}

func TestServer_RepliesToEveryFrame(t *testing.T) {
	_, remote := setupRelay(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url, err := SyncURL(remote, "notes")
	if err != nil {
		t.Fatalf("SyncURL() failed: %v", err)
	}
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("Dial() failed: %v", err)
	}
	defer conn.CloseNow()

	peer := doc.New("notes").NewPeer()
	for i := 0; i < 3; i++ {
		out, _ := peer.GenerateMessage()
		if err := conn.Write(ctx, websocket.MessageBinary, out); err != nil {
			t.Fatalf("Write() failed: %v", err)
		}
		_, in, err := conn.Read(ctx)
		if err != nil {
			t.Fatalf("Read() failed on frame %d: %v", i, err)
		}
		if len(in) > 0 {
			if err := peer.ReceiveMessage(in); err != nil {
				t.Fatalf("ReceiveMessage() failed: %v", err)
			}
		}
	}
}

func TestServer_MissingWorkspace(t *testing.T) {
	srv := NewServer(&ServerConfig{Logger: discard})
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sync/", nil))
	if rec.Code == http.StatusOK {
		t.Errorf("status = %d for a request without workspace", rec.Code)
	}
}
