// Package syncproto implements the octosync wire protocol: a WebSocket client
// that keeps a local document in sync with a remote peer, and the relay
// server that peers connect to.
//
// Protocol:
//
//	client                                    relay
//	  │  GET {remote}/sync/{workspace} (ws upgrade)
//	  │ ───────────────────────────────────────▶ │
//	  │  frame (sync message or empty)           │
//	  │ ───────────────────────────────────────▶ │
//	  │  exactly one frame in reply              │
//	  │ ◀─────────────────────────────────────── │
//	  │  ... until both frames of a round are empty (handshake done)
//	  │                                          │
//	  │  live: either side sends when it has     │
//	  │  changes; the relay forwards to others   │
//
// Every frame is a binary WebSocket message. A non-empty payload is an
// automerge sync message; an empty payload means "nothing to send".
package syncproto

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/octosync/octosync/internal/doc"
	"github.com/octosync/octosync/internal/metrics"
)

// MaxHandshakeRounds bounds the initial reconciliation.
const MaxHandshakeRounds = 64

// DefaultReadLimit is the largest frame accepted by either side.
const DefaultReadLimit = 64 << 20

var (
	// ErrHandshakeDiverged is returned when the initial reconciliation does
	// not settle within MaxHandshakeRounds.
	ErrHandshakeDiverged = errors.New("sync handshake did not converge")

	// ErrSessionClosed is returned by operations on a closed session.
	ErrSessionClosed = errors.New("sync session is closed")
)

// UpdateStore supplies the persisted updates a session starts from.
type UpdateStore interface {
	Updates(ctx context.Context, workspaceID string) ([][]byte, error)
}

// ClientConfig holds configuration for client sessions.
type ClientConfig struct {
	// WriteTimeout bounds a single frame write in live mode.
	WriteTimeout time.Duration

	// ReadLimit is the largest frame accepted from the remote.
	ReadLimit int64

	// HTTPClient is used for the WebSocket upgrade (default: http.DefaultClient)
	HTTPClient *http.Client

	// Logger for session activity
	Logger *log.Logger
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		WriteTimeout: 10 * time.Second,
		ReadLimit:    DefaultReadLimit,
		Logger:       log.New(os.Stderr, "[sync] ", log.LstdFlags),
	}
}

// Session is a live, synchronized document.
type Session struct {
	id          string
	workspaceID string
	remote      string

	doc  *doc.Doc
	peer *doc.Peer
	conn *websocket.Conn
	sub  doc.Subscription

	config *ClientConfig
	notify chan struct{}

	pendingMu  sync.Mutex
	pending    [][]byte
	pendingSub doc.Subscription

	cancel    context.CancelFunc
	done      chan struct{}
	err       error
	closeOnce sync.Once
}

// StartClient loads the workspace from store, connects to remote and runs
// the sync handshake. On success the returned session keeps the document in
// sync with the remote until Close is called.
func StartClient(ctx context.Context, store UpdateStore, workspaceID, remote string) (*Session, error) {
	return StartClientWithConfig(ctx, store, workspaceID, remote, DefaultClientConfig())
}

// StartClientWithConfig starts a session with custom configuration.
func StartClientWithConfig(ctx context.Context, store UpdateStore, workspaceID, remote string, config *ClientConfig) (*Session, error) {
	if workspaceID == "" {
		return nil, fmt.Errorf("workspace id cannot be empty")
	}
	if config == nil {
		config = DefaultClientConfig()
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
	}
	if config.ReadLimit <= 0 {
		config.ReadLimit = DefaultReadLimit
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = 10 * time.Second
	}

	endpoint, err := SyncURL(remote, workspaceID)
	if err != nil {
		return nil, err
	}

	updates, err := store.Updates(ctx, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("failed to load workspace %s: %w", workspaceID, err)
	}
	d, err := doc.Load(workspaceID, updates)
	if err != nil {
		return nil, err
	}

	conn, _, err := websocket.Dial(ctx, endpoint, &websocket.DialOptions{
		HTTPClient: config.HTTPClient,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", endpoint, err)
	}
	conn.SetReadLimit(config.ReadLimit)

	s := &Session{
		id:          uuid.NewString(),
		workspaceID: workspaceID,
		remote:      remote,
		doc:         d,
		peer:        d.NewPeer(),
		conn:        conn,
		config:      config,
		notify:      make(chan struct{}, 1),
		done:        make(chan struct{}),
	}

	// Buffer remote changes until the caller has attached its own observers.
	s.pendingSub = d.Observe(func(origin doc.Origin, ev doc.Event) {
		if origin == doc.OriginRemote {
			s.pendingMu.Lock()
			s.pending = append(s.pending, ev.Update)
			s.pendingMu.Unlock()
		}
	})

	if err := handshake(ctx, conn, s.peer); err != nil {
		s.pendingSub.Unsubscribe()
		_ = conn.Close(websocket.StatusProtocolError, "handshake failed")
		return nil, err
	}

	s.sub = d.Observe(func(origin doc.Origin, _ doc.Event) {
		if origin == doc.OriginLocal {
			s.signal()
		}
	})

	sessCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	g, gctx := errgroup.WithContext(sessCtx)
	g.Go(func() error { return s.readLoop(gctx) })
	g.Go(func() error { return s.writeLoop(gctx) })

	metrics.SyncSessions.Inc()
	go func() {
		err := g.Wait()
		if sessCtx.Err() != nil {
			// Closed by the caller; read errors are expected.
			err = nil
		}
		if err != nil {
			config.Logger.Printf("Session %s for %s ended: %v", s.id, workspaceID, err)
		}
		s.err = err
		metrics.SyncSessions.Dec()
		close(s.done)
	}()

	config.Logger.Printf("Synced workspace %s with %s (session %s)", workspaceID, remote, s.id)
	return s, nil
}

// SyncURL returns the WebSocket endpoint for a workspace on remote.
// http and https remotes are mapped to ws and wss.
func SyncURL(remote, workspaceID string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(remote))
	if err != nil {
		return "", fmt.Errorf("invalid remote %q: %w", remote, err)
	}

	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("invalid remote %q: scheme must be ws, wss, http or https", remote)
	}
	if u.Host == "" {
		return "", fmt.Errorf("invalid remote %q: missing host", remote)
	}

	base := strings.TrimSuffix(u.Path, "/")
	u.Path = base + "/sync/" + workspaceID
	u.RawPath = (&url.URL{Path: base}).EscapedPath() + "/sync/" + url.PathEscape(workspaceID)
	return u.String(), nil
}

// handshake runs alternating rounds until a round where neither side had
// anything to send.
func handshake(ctx context.Context, conn *websocket.Conn, peer *doc.Peer) error {
	for round := 0; round < MaxHandshakeRounds; round++ {
		out, ok := peer.GenerateMessage()
		if err := conn.Write(ctx, websocket.MessageBinary, out); err != nil {
			return fmt.Errorf("failed to send sync message: %w", err)
		}

		_, in, err := conn.Read(ctx)
		if err != nil {
			return fmt.Errorf("failed to read sync message: %w", err)
		}
		if len(in) > 0 {
			if err := peer.ReceiveMessage(in); err != nil {
				return err
			}
		}

		if !ok && len(in) == 0 {
			return nil
		}
	}
	return ErrHandshakeDiverged
}

// ID returns the session id.
func (s *Session) ID() string {
	return s.id
}

// WorkspaceID returns the id of the synchronized workspace.
func (s *Session) WorkspaceID() string {
	return s.workspaceID
}

// Doc returns the synchronized document.
func (s *Session) Doc() *doc.Doc {
	return s.doc
}

// Document returns the synchronized document as a doc.Document.
func (s *Session) Document() doc.Document {
	return s.doc
}

// TakePending returns the remote updates merged since the workspace was
// loaded and stops buffering further ones. Observers attached before the call
// see every later change, so the two together cover the full history.
// An update may appear in both if it raced with the call; replaying an
// update twice is harmless.
func (s *Session) TakePending() [][]byte {
	s.pendingSub.Unsubscribe()

	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()

	pending := s.pending
	s.pending = nil
	return pending
}

// Done is closed when the session has ended.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Err returns the error that ended the session, if any. It is only
// meaningful after Done is closed.
func (s *Session) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

// Flush asks the session to send any pending local changes. It does not wait
// for delivery.
func (s *Session) Flush() error {
	select {
	case <-s.done:
		return ErrSessionClosed
	default:
	}
	s.signal()
	return nil
}

// Close ends the session and releases the connection. The document stays
// usable but is no longer synchronized. Close is idempotent.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.sub.Unsubscribe()
		s.pendingSub.Unsubscribe()
		s.cancel()
		_ = s.conn.Close(websocket.StatusNormalClosure, "")
		<-s.done
		s.config.Logger.Printf("Closed session %s for %s", s.id, s.workspaceID)
	})
	return nil
}

func (s *Session) signal() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// readLoop merges frames from the remote.
func (s *Session) readLoop(ctx context.Context) error {
	for {
		_, data, err := s.conn.Read(ctx)
		if err != nil {
			return fmt.Errorf("failed to read from remote: %w", err)
		}
		if len(data) == 0 {
			continue
		}

		if err := s.peer.ReceiveMessage(data); err != nil {
			return err
		}

		// The remote may need a reply (e.g. it asked for changes we have).
		s.signal()
	}
}

// writeLoop sends generated messages whenever there is something new.
func (s *Session) writeLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil

		case <-s.notify:
			msg, ok := s.peer.GenerateMessage()
			if !ok {
				continue
			}

			writeCtx, cancel := context.WithTimeout(ctx, s.config.WriteTimeout)
			err := s.conn.Write(writeCtx, websocket.MessageBinary, msg)
			cancel()
			if err != nil {
				return fmt.Errorf("failed to send to remote: %w", err)
			}
		}
	}
}
