// Package ws handles the WebSocket transport for the realtime gateway:
// authenticated handshake upgrades, connection registry, epoll-driven frame
// reads, and heartbeat eviction. Application semantics live above it behind
// the Hooks callbacks.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"

	"github.com/alumnet/platform/internal/auth"
	"github.com/alumnet/platform/internal/metrics"
)

// ServerConfig holds tunable parameters for the WebSocket server.
type ServerConfig struct {
	ListenAddr     string        // address to listen on, e.g. ":8080"
	WorkerPoolSize int           // max concurrent read-worker goroutines
	MaxConnections int           // hard cap on total connections
	ReadTimeout    time.Duration // timeout for WebSocket read operations
	WriteTimeout   time.Duration // timeout for WebSocket write operations
}

// DefaultServerConfig returns a ServerConfig with sensible production defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		ListenAddr:     ":8080",
		WorkerPoolSize: 256,
		MaxConnections: 100000,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
	}
}

// Hooks are the application callbacks the transport drives. AllowConnect and
// Authenticate run before the upgrade; a false/non-nil-error result rejects
// the handshake (429 and 401 respectively) and no WebSocket connection is
// ever established. Connected runs synchronously during the upgrade, strictly
// before any Message or Disconnected for the same connection. Message and
// Disconnected are invoked from worker goroutines.
type Hooks struct {
	AllowConnect func(r *http.Request) bool
	Authenticate func(r *http.Request) (auth.Identity, error)
	Connected    func(c *Connection)
	Message      func(c *Connection, data []byte)
	Disconnected func(c *Connection)
}

// Server is the WebSocket server built on gobwas/ws and Linux epoll. It
// upgrades authenticated HTTP connections to WebSocket, registers them with
// an epoll instance for I/O readiness notifications, and dispatches ready
// connections to a bounded worker pool for frame reading.
type Server struct {
	config     ServerConfig
	hooks      Hooks
	epoll      *Epoll
	conns      *ConnectionManager
	workerPool chan struct{} // semaphore limiting concurrent read workers
	httpServer *http.Server
	bufPool    sync.Pool // pool of reusable read buffers
	done       chan struct{}
	startedAt  time.Time
}

// NewServer creates a Server with the given configuration and hooks.
// hooks.Authenticate must be set; the rest may be nil.
func NewServer(config ServerConfig, hooks Hooks) *Server {
	return &Server{
		config:     config,
		hooks:      hooks,
		conns:      NewConnectionManager(),
		workerPool: make(chan struct{}, config.WorkerPoolSize),
		done:       make(chan struct{}),
		bufPool: sync.Pool{
			New: func() interface{} {
				buf := make([]byte, 4096)
				return &buf
			},
		},
	}
}

// Start initializes the epoll instance, configures the HTTP server, and begins
// accepting WebSocket connections. It starts the epoll event loop in a
// background goroutine and blocks on http.Server.ListenAndServe.
func (s *Server) Start() error {
	var err error
	s.epoll, err = NewEpoll()
	if err != nil {
		return fmt.Errorf("ws: failed to create epoll: %w", err)
	}

	s.startedAt = time.Now()

	mux := http.NewServeMux()
	mux.HandleFunc("/realtime", s.handleUpgrade)
	mux.HandleFunc("/ws", s.handleUpgrade) // legacy path
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", metrics.Handler())

	s.httpServer = &http.Server{
		Addr:    s.config.ListenAddr,
		Handler: mux,
	}

	// Start the epoll event loop in the background.
	go s.startEventLoop()

	// Start the heartbeat monitor to detect and close dead connections.
	StartHeartbeat(s, DefaultHeartbeatConfig())

	log.Printf("ws: server listening on %s (workers=%d, max_conns=%d)",
		s.config.ListenAddr, s.config.WorkerPoolSize, s.config.MaxConnections)

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("ws: http server error: %w", err)
	}
	return nil
}

// handleUpgrade authenticates the handshake and, on success, upgrades the
// HTTP request to a WebSocket connection using the gobwas/ws zero-copy
// upgrader. Authentication failures are rejected before the upgrade, so an
// unauthenticated client never holds a WebSocket connection.
func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	// Enforce maximum connection limit.
	if s.conns.Count() >= s.config.MaxConnections {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	if s.hooks.AllowConnect != nil && !s.hooks.AllowConnect(r) {
		log.Printf("ws: handshake rate limited remote=%s", r.RemoteAddr)
		http.Error(w, "too many connection attempts", http.StatusTooManyRequests)
		return
	}

	identity, err := s.hooks.Authenticate(r)
	if err != nil {
		metrics.AuthFailuresTotal.Inc()
		log.Printf("ws: handshake rejected remote=%s: %v", r.RemoteAddr, err)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"code":    "authentication_error",
			"message": "invalid or missing token",
		})
		return
	}

	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		log.Printf("ws: upgrade failed: %v", err)
		return
	}

	fd := socketFD(conn)
	c := &Connection{
		ID:           uuid.New().String(),
		Subject:      identity,
		Conn:         conn,
		Fd:           fd,
		CreatedAt:    time.Now(),
		writeTimeout: s.config.WriteTimeout,
	}
	c.touch()

	if err := s.registerConnection(c); err != nil {
		log.Printf("ws: epoll add failed conn=%s: %v", c.ID, err)
		return
	}

	log.Printf("ws: new connection conn=%s subject=%s fd=%d (total=%d)",
		c.ID, identity.SubjectID, fd, s.conns.Count())
}

// registerConnection wires a freshly upgraded connection into the server.
// The Connected hook must complete before epoll is armed: once the fd is in
// the interest list a worker may dispatch a frame (or a close) immediately,
// and Message/Disconnected firing before Connected would corrupt the
// application's presence state. If arming epoll fails the registration is
// unwound through the Disconnected hook.
func (s *Server) registerConnection(c *Connection) error {
	s.conns.Add(c)
	metrics.ConnectionsActive.Set(float64(s.conns.Count()))

	if s.hooks.Connected != nil {
		s.hooks.Connected(c)
	}

	if err := s.epoll.Add(c.Conn); err != nil {
		if s.conns.Remove(c.ID) {
			if s.hooks.Disconnected != nil {
				s.hooks.Disconnected(c)
			}
		}
		metrics.ConnectionsActive.Set(float64(s.conns.Count()))
		return err
	}
	return nil
}

// handleHealth responds with the server's health status as JSON, including
// the current connection count and uptime.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	resp := struct {
		Status      string `json:"status"`
		Connections int    `json:"connections"`
		Uptime      string `json:"uptime"`
	}{
		Status:      "ok",
		Connections: s.conns.Count(),
		Uptime:      time.Since(s.startedAt).Round(time.Second).String(),
	}

	_ = json.NewEncoder(w).Encode(resp)
}

// startEventLoop runs the epoll wait loop. For each batch of ready
// connections, it dispatches each to a worker goroutine (bounded by the
// worker pool semaphore) that reads and processes the WebSocket frame.
func (s *Server) startEventLoop() {
	for {
		select {
		case <-s.done:
			return
		default:
		}

		conns, err := s.epoll.Wait()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
				// EINTR is expected during signal handling.
				if isEINTR(err) {
					continue
				}
				log.Printf("ws: epoll wait error: %v", err)
				continue
			}
		}

		for _, conn := range conns {
			conn := conn // capture for goroutine

			// Acquire a worker slot (blocks if pool is full).
			s.workerPool <- struct{}{}

			go func() {
				defer func() { <-s.workerPool }()
				s.handleConn(conn)
			}()
		}
	}
}

// handleConn reads a single WebSocket frame from a ready connection using
// wsutil.NextReader so that control frames (ping, pong) are handled without
// blocking on a data frame that may never arrive. If the read fails
// (connection closed, protocol error, etc.) the connection is removed from
// epoll and the connection manager.
func (s *Server) handleConn(netConn net.Conn) {
	c := s.conns.GetByConn(netConn)
	if c == nil {
		return
	}

	// Guard against duplicate dispatch from level-triggered epoll.
	if !atomic.CompareAndSwapInt32(&c.processing, 0, 1) {
		return
	}
	defer atomic.StoreInt32(&c.processing, 0)

	if s.config.ReadTimeout > 0 {
		_ = netConn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
	}

	header, reader, err := wsutil.NextReader(netConn, ws.StateServerSide)
	if err != nil {
		// A read timeout means no data was available (stale epoll dispatch).
		// Don't kill the connection — the heartbeat handles dead connections.
		if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
			return
		}
		s.RemoveConnection(c)
		return
	}

	// Clear read deadline after successful frame read.
	_ = netConn.SetReadDeadline(time.Time{})

	// Any frame proves the connection is alive.
	c.touch()

	// Handle control frames without removing the connection.
	if header.OpCode.IsControl() {
		if header.OpCode == ws.OpClose {
			s.RemoveConnection(c)
		}
		// Pong/ping: connection is alive, nothing else to do.
		return
	}

	// Read data frame payload.
	data := make([]byte, header.Length)
	if header.Length > 0 {
		_, err = io.ReadFull(reader, data)
		if err != nil {
			s.RemoveConnection(c)
			return
		}
	}

	if len(data) == 0 {
		return
	}

	if s.hooks.Message != nil {
		s.hooks.Message(c, data)
	}
}

// RemoveConnection removes a connection from both epoll and the connection
// manager, and closes the underlying network connection. It is exported so
// that the heartbeat monitor can evict dead connections.
func (s *Server) RemoveConnection(c *Connection) {
	_ = s.epoll.Remove(c.Conn)

	// Guard: only proceed if the connection was actually in the manager.
	// This prevents double cleanup when multiple goroutines race to remove
	// the same connection (e.g., read error + heartbeat timeout).
	if !s.conns.Remove(c.ID) {
		return
	}

	metrics.ConnectionsActive.Set(float64(s.conns.Count()))

	if s.hooks.Disconnected != nil {
		s.hooks.Disconnected(c)
	}

	log.Printf("ws: connection closed conn=%s subject=%s (total=%d)",
		c.ID, c.Subject.SubjectID, s.conns.Count())
}

// Connections returns the ConnectionManager for external access to connection
// state (e.g., by the heartbeat monitor).
func (s *Server) Connections() *ConnectionManager {
	return s.conns
}

// Shutdown performs a graceful shutdown of the server. It stops the HTTP
// listener, signals the event loop to exit, closes all active connections,
// and cleans up the epoll instance.
func (s *Server) Shutdown() error {
	log.Println("ws: shutting down server...")

	// Signal the event loop to stop.
	close(s.done)

	// Stop accepting new HTTP connections with a deadline.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		log.Printf("ws: http shutdown error: %v", err)
	}

	// Close all active WebSocket connections.
	for _, c := range s.conns.All() {
		_ = s.epoll.Remove(c.Conn)
		c.Close()
	}

	// Close the epoll instance.
	if s.epoll != nil {
		_ = s.epoll.Close()
	}

	log.Printf("ws: server stopped, all connections closed")
	return nil
}

// isEINTR checks if the error is a syscall interrupted error (EINTR),
// which is expected during signal handling and should be retried.
func isEINTR(err error) bool {
	if err == nil {
		return false
	}
	return err.Error() == "interrupted system call" ||
		err.Error() == "errno 4"
}
