package syncproto

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/octosync/octosync/internal/doc"
	"github.com/octosync/octosync/internal/metrics"
)

// RoomStore persists relay documents. *db.Docs satisfies it.
type RoomStore interface {
	UpdateStore
	WriteUpdate(ctx context.Context, workspaceID string, update []byte) error
}

// ServerConfig holds relay configuration.
type ServerConfig struct {
	// Addr to listen on (default: ":8080")
	Addr string

	// Store persists room documents. Optional; without it rooms live in memory.
	Store RoomStore

	// Metrics exposes prometheus metrics on /metrics
	Metrics bool

	// WriteTimeout bounds a single frame write to a peer.
	WriteTimeout time.Duration

	// ReadLimit is the largest frame accepted from a peer.
	ReadLimit int64

	// Logger for relay activity (default: log.Default())
	Logger *log.Logger
}

// DefaultServerConfig returns sensible defaults.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Addr:         ":8080",
		WriteTimeout: 5 * time.Second,
		ReadLimit:    DefaultReadLimit,
		Logger:       log.Default(),
	}
}

// Server relays sync messages between peers of the same workspace.
//
// Each workspace is a room holding the relay's replica of the document. Peers
// sync against that replica; whenever a peer's message changes it, the relay
// pushes the change to every other peer of the room.
type Server struct {
	addr     string
	listener net.Listener
	server   *http.Server
	mux      *http.ServeMux
	config   *ServerConfig

	rooms   map[string]*room
	roomsMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger *log.Logger
}

type room struct {
	id  string
	doc *doc.Doc
	sub doc.Subscription

	mu    sync.Mutex
	peers map[string]*peer
}

type peer struct {
	id    string
	conn  *websocket.Conn
	state *doc.Peer
}

// NewServer creates a new relay server.
func NewServer(config *ServerConfig) *Server {
	if config == nil {
		config = DefaultServerConfig()
	}
	if config.Logger == nil {
		config.Logger = log.Default()
	}
	if config.Addr == "" {
		config.Addr = ":8080"
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = 5 * time.Second
	}
	if config.ReadLimit <= 0 {
		config.ReadLimit = DefaultReadLimit
	}

	ctx, cancel := context.WithCancel(context.Background())

	s := &Server{
		addr:   config.Addr,
		config: config,
		rooms:  make(map[string]*room),
		ctx:    ctx,
		cancel: cancel,
		logger: config.Logger,
	}

	s.mux = http.NewServeMux()
	s.mux.HandleFunc("GET /sync/{workspace}", s.handleSync)
	s.mux.HandleFunc("GET /health", s.handleHealth)
	if config.Metrics {
		s.mux.Handle("GET /metrics", promhttp.Handler())
	}

	return s
}

// Handler returns the HTTP handler of the relay, for embedding it in another
// server or in tests.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start begins listening.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	s.server = &http.Server{
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Printf("Relay listening on %s", ln.Addr())
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Printf("Server error: %v", err)
		}
	}()

	return nil
}

// Stop closes every peer connection and shuts the server down.
func (s *Server) Stop() error {
	s.logger.Println("Stopping relay")

	s.cancel()

	s.roomsMu.Lock()
	for id, r := range s.rooms {
		r.mu.Lock()
		for _, p := range r.peers {
			_ = p.conn.Close(websocket.StatusGoingAway, "relay shutting down")
		}
		r.mu.Unlock()
		r.sub.Unsubscribe()
		delete(s.rooms, id)
		metrics.RelayRooms.Dec()
	}
	s.roomsMu.Unlock()

	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := s.server.Shutdown(ctx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
	}

	s.wg.Wait()

	s.logger.Println("Relay stopped")
	return nil
}

// Addr returns the listening address.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// RoomCount returns the number of loaded workspaces.
func (s *Server) RoomCount() int {
	s.roomsMu.Lock()
	defer s.roomsMu.Unlock()
	return len(s.rooms)
}

// PeerCount returns the number of connected peers across all rooms.
func (s *Server) PeerCount() int {
	s.roomsMu.Lock()
	defer s.roomsMu.Unlock()

	n := 0
	for _, r := range s.rooms {
		r.mu.Lock()
		n += len(r.peers)
		r.mu.Unlock()
	}
	return n
}

// Document returns the relay's replica of a loaded workspace.
func (s *Server) Document(workspaceID string) (*doc.Doc, bool) {
	s.roomsMu.Lock()
	defer s.roomsMu.Unlock()

	r, ok := s.rooms[workspaceID]
	if !ok {
		return nil, false
	}
	return r.doc, true
}

// room returns the room for a workspace, loading it from the store on first use.
func (s *Server) room(ctx context.Context, workspaceID string) (*room, error) {
	s.roomsMu.Lock()
	defer s.roomsMu.Unlock()

	if r, ok := s.rooms[workspaceID]; ok {
		return r, nil
	}

	d := doc.New(workspaceID)
	if s.config.Store != nil {
		updates, err := s.config.Store.Updates(ctx, workspaceID)
		if err != nil {
			return nil, fmt.Errorf("failed to load workspace %s: %w", workspaceID, err)
		}
		if d, err = doc.Load(workspaceID, updates); err != nil {
			return nil, err
		}
	}

	r := &room{
		id:    workspaceID,
		doc:   d,
		peers: make(map[string]*peer),
	}
	r.sub = d.Observe(func(_ doc.Origin, ev doc.Event) {
		if s.config.Store == nil {
			return
		}
		if err := s.config.Store.WriteUpdate(context.Background(), workspaceID, ev.Update); err != nil {
			s.logger.Printf("Failed to persist update for %s: %v", workspaceID, err)
		}
	})

	s.rooms[workspaceID] = r
	metrics.RelayRooms.Inc()
	s.logger.Printf("Loaded workspace %s", workspaceID)
	return r, nil
}

// handleSync upgrades the connection and serves one peer until it leaves.
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	workspaceID := r.PathValue("workspace")
	if workspaceID == "" {
		http.Error(w, "missing workspace id", http.StatusBadRequest)
		return
	}

	rm, err := s.room(r.Context(), workspaceID)
	if err != nil {
		s.logger.Printf("Failed to open workspace %s: %v", workspaceID, err)
		http.Error(w, "failed to open workspace", http.StatusInternalServerError)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.logger.Printf("WebSocket upgrade failed: %v", err)
		return
	}
	conn.SetReadLimit(s.config.ReadLimit)

	p := &peer{
		id:    uuid.NewString(),
		conn:  conn,
		state: rm.doc.NewPeer(),
	}
	rm.add(p)
	metrics.RelayPeers.Inc()
	s.logger.Printf("Peer %s joined %s", p.id, workspaceID)

	defer func() {
		rm.remove(p)
		metrics.RelayPeers.Dec()
		_ = conn.Close(websocket.StatusNormalClosure, "")
		s.logger.Printf("Peer %s left %s", p.id, workspaceID)
	}()

	s.serve(rm, p)
}

// serve answers every frame of the peer with exactly one frame and forwards
// changes to the rest of the room.
func (s *Server) serve(rm *room, p *peer) {
	for {
		_, data, err := p.conn.Read(s.ctx)
		if err != nil {
			return
		}

		if len(data) > 0 {
			if err := p.state.ReceiveMessage(data); err != nil {
				s.logger.Printf("Peer %s sent an invalid message: %v", p.id, err)
				_ = p.conn.Close(websocket.StatusProtocolError, "invalid sync message")
				return
			}
		}

		reply, _ := p.state.GenerateMessage()
		if err := s.write(p, reply); err != nil {
			s.logger.Printf("Failed to reply to peer %s: %v", p.id, err)
			return
		}

		if len(data) > 0 {
			s.broadcast(rm, p)
		}
	}
}

// broadcast pushes pending changes to every peer except the author.
func (s *Server) broadcast(rm *room, author *peer) {
	for _, p := range rm.others(author) {
		msg, ok := p.state.GenerateMessage()
		if !ok {
			continue
		}
		if err := s.write(p, msg); err != nil {
			s.logger.Printf("Failed to send to peer %s: %v", p.id, err)
			_ = p.conn.Close(websocket.StatusInternalError, "write failed")
		}
	}
}

func (s *Server) write(p *peer, msg []byte) error {
	ctx, cancel := context.WithTimeout(s.ctx, s.config.WriteTimeout)
	defer cancel()
	return p.conn.Write(ctx, websocket.MessageBinary, msg)
}

func (r *room) add(p *peer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.peers[p.id] = p
}

func (r *room) remove(p *peer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.peers, p.id)
}

func (r *room) others(p *peer) []*peer {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*peer, 0, len(r.peers))
	for id, q := range r.peers {
		if id != p.id {
			out = append(out, q)
		}
	}
	return out
}

// handleHealth returns relay health status
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status": "ok",
		"rooms":  s.RoomCount(),
		"peers":  s.PeerCount(),
	})
}
