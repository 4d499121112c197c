package status

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = 30 * time.Second
	clientBuffer = 32
)

// SnapshotSource provides the latest snapshot of every monitored node.
type SnapshotSource interface {
	Snapshots() []*NodeSnapshot
	Snapshot(address string) (*NodeSnapshot, bool)
}

// Server provides an HTTP server for node status queries and a WebSocket
// stream of snapshots and transitions.
type Server struct {
	source     SnapshotSource
	port       int
	version    string
	limiter    *RateLimiter
	upgrader   websocket.Upgrader
	httpServer *http.Server
	logFn      func(level, msg string)

	mu      sync.Mutex
	clients map[*wsClient]struct{}
}

// ServerConfig holds configuration for the status server.
type ServerConfig struct {
	Port    int    // HTTP server port (default: 8080)
	Version string // monitor version string

	// RateLimit is the per-client request budget per second (default: 10)
	RateLimit float64
	// RateBurst is the per-client burst size (default: 20)
	RateBurst int

	LogFn func(level, msg string)
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// NewServer creates a new status HTTP server.
func NewServer(cfg ServerConfig, source SnapshotSource) *Server {
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = 10
	}
	if cfg.RateBurst == 0 {
		cfg.RateBurst = 20
	}
	return &Server{
		source:  source,
		port:    cfg.Port,
		version: cfg.Version,
		limiter: NewRateLimiter(cfg.RateLimit, cfg.RateBurst),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// read-only feed; any origin may subscribe
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logFn:   cfg.LogFn,
		clients: make(map[*wsClient]struct{}),
	}
}

func (s *Server) log(level, msg string) {
	if s.logFn != nil {
		s.logFn(level, msg)
	}
}

// Handler returns the HTTP handler serving all endpoints.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/nodes", s.handleNodes)
	mux.HandleFunc("/nodes/", s.handleNode)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ws", s.handleWebSocket)
	return s.limiter.Middleware(mux)
}

// Start begins listening for HTTP requests.
// This method blocks until the context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.port),
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.closeClients()
		s.limiter.Stop()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errChan:
		s.limiter.Stop()
		return err
	}
}

// Port returns the port the server is configured to listen on.
func (s *Server) Port() int {
	return s.port
}

// handleNodes returns every node's latest snapshot.
// GET /nodes
func (s *Server) handleNodes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	snapshots := s.source.Snapshots()
	if snapshots == nil {
		snapshots = []*NodeSnapshot{}
	}
	writeJSON(w, snapshots)
}

// handleNode returns one node's latest snapshot.
// GET /nodes/{address}
func (s *Server) handleNode(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	address := strings.Trim(strings.TrimPrefix(r.URL.Path, "/nodes/"), "/")
	if address == "" {
		s.handleNodes(w, r)
		return
	}

	snap, ok := s.source.Snapshot(address)
	if !ok {
		http.Error(w, "Unknown node", http.StatusNotFound)
		return
	}
	if snap == nil {
		http.Error(w, "No snapshot yet", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, snap)
}

// handleHealth reports ok when every node is reachable and fully fresh,
// degraded when any node is offline or missing sources, and unhealthy before
// the first snapshot.
// GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	resp := HealthResponse{
		Status:  HealthStatusOK,
		Version: s.version,
		Nodes:   make(map[string]Status),
	}

	snapshots := s.source.Snapshots()
	if len(snapshots) == 0 {
		resp.Status = HealthStatusUnhealthy
	}
	for _, snap := range snapshots {
		if snap == nil {
			continue
		}
		resp.Nodes[snap.Address] = snap.Status
		if snap.Degraded || snap.Status == StatusOffline {
			resp.Status = HealthStatusDegraded
		}
	}

	writeJSON(w, resp)
}

// handleWebSocket streams events to a subscriber, starting with the current
// snapshot of every node.
// GET /ws
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log("warning", fmt.Sprintf("WebSocket upgrade failed: %v", err))
		return
	}

	client := &wsClient{conn: conn, send: make(chan []byte, clientBuffer)}
	for _, snap := range s.source.Snapshots() {
		if snap == nil {
			continue
		}
		if data, err := json.Marshal(Event{Type: EventSnapshot, Snapshot: snap}); err == nil {
			client.send <- data
			if len(client.send) == cap(client.send) {
				break
			}
		}
	}

	s.mu.Lock()
	s.clients[client] = struct{}{}
	s.mu.Unlock()
	s.log("debug", fmt.Sprintf("WebSocket subscriber connected: %s", r.RemoteAddr))

	go s.writePump(client)
	s.readPump(client)
}

// readPump discards client messages and detects disconnects.
func (s *Server) readPump(c *wsClient) {
	defer s.removeClient(c)

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) writePump(c *wsClient) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) removeClient(c *wsClient) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clients[c]; ok {
		delete(s.clients, c)
		close(c.send)
	}
}

func (s *Server) closeClients() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		delete(s.clients, c)
		close(c.send)
	}
}

// ClientCount returns the number of connected WebSocket subscribers.
func (s *Server) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// broadcast queues data for every subscriber. Subscribers whose buffer is
// full are dropped rather than blocking the publisher.
func (s *Server) broadcast(ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		select {
		case c.send <- data:
		default:
			delete(s.clients, c)
			close(c.send)
			s.log("warning", "Dropping slow WebSocket subscriber")
		}
	}
	return nil
}

// PublishSnapshot streams a snapshot to every subscriber.
func (s *Server) PublishSnapshot(ctx context.Context, snap *NodeSnapshot) error {
	return s.broadcast(Event{Type: EventSnapshot, Snapshot: snap})
}

// PublishTransition streams a status transition to every subscriber.
func (s *Server) PublishTransition(ctx context.Context, tr Transition) error {
	return s.broadcast(Event{Type: EventTransition, Transition: &tr})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
