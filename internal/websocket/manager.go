// Package websocket pushes build notifications to connected browsers while
// watch mode is running. Each finished build becomes one JSON message
// broadcast to every client.
package websocket

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"github.com/conneroisu/msssg/internal/logging"
)

const (
	pingInterval = 54 * time.Second
	readTimeout  = 60 * time.Second
	writeTimeout = 10 * time.Second
)

// Manager owns the client set and fans messages out to it.
//
// A single hub goroutine serializes registration, unregistration and
// broadcasts. Each client gets its own write pump so a slow browser cannot
// stall the others; a client whose buffer fills up is dropped.
type Manager struct {
	clients      map[*websocket.Conn]*Client
	clientsMutex sync.RWMutex

	broadcast  chan []byte
	register   chan *Client
	unregister chan *websocket.Conn

	originPatterns []string
	logger         logging.Logger

	ctx          context.Context
	cancel       context.CancelFunc
	shutdownOnce sync.Once
	isShutdown   atomic.Bool
}

// NewManager starts a manager. originPatterns are host patterns accepted in
// the Origin header; nil accepts only same-origin requests.
func NewManager(originPatterns []string, logger logging.Logger) *Manager {
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	ctx, cancel := context.WithCancel(context.Background())

	m := &Manager{
		clients:        make(map[*websocket.Conn]*Client),
		broadcast:      make(chan []byte, 256),
		register:       make(chan *Client, 32),
		unregister:     make(chan *websocket.Conn, 32),
		originPatterns: originPatterns,
		logger:         logger.WithComponent("notify"),
		ctx:            ctx,
		cancel:         cancel,
	}

	go m.runHub()

	return m
}

// HandleWebSocket upgrades the request and registers the client.
func (m *Manager) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if m.isShutdown.Load() {
		http.Error(w, "Service Unavailable", http.StatusServiceUnavailable)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns:  m.originPatterns,
		CompressionMode: websocket.CompressionDisabled,
	})
	if err != nil {
		// Accept has already written the error response.
		m.logger.Warn(r.Context(), err, "WebSocket upgrade failed", "remote", clientIP(r))
		return
	}

	client := &Client{
		conn:         conn,
		send:         make(chan []byte, 16),
		lastActivity: time.Now(),
	}

	select {
	case m.register <- client:
	case <-m.ctx.Done():
		conn.Close(websocket.StatusGoingAway, "server shutting down")
		return
	default:
		conn.Close(websocket.StatusTryAgainLater, "server busy")
		return
	}

	go m.handleClient(client)

	m.logger.Debug(r.Context(), "WebSocket client connected", "remote", clientIP(r))
}

func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}

	return r.RemoteAddr
}

func (m *Manager) runHub() {
	for {
		select {
		case client := <-m.register:
			m.registerClient(client)
		case conn := <-m.unregister:
			m.unregisterClient(conn)
		case message := <-m.broadcast:
			m.broadcastToClients(message)
		case <-m.ctx.Done():
			return
		}
	}
}

func (m *Manager) registerClient(client *Client) {
	m.clientsMutex.Lock()
	m.clients[client.conn] = client
	total := len(m.clients)
	m.clientsMutex.Unlock()

	m.logger.Debug(m.ctx, "Client registered", "clients", total)
}

func (m *Manager) unregisterClient(conn *websocket.Conn) {
	m.clientsMutex.Lock()
	client, exists := m.clients[conn]
	if exists {
		delete(m.clients, conn)
		close(client.send)
	}
	total := len(m.clients)
	m.clientsMutex.Unlock()

	if exists {
		conn.Close(websocket.StatusNormalClosure, "")
		m.logger.Debug(m.ctx, "Client unregistered", "clients", total)
	}
}

func (m *Manager) broadcastToClients(message []byte) {
	m.clientsMutex.RLock()
	clients := make([]*Client, 0, len(m.clients))
	for _, client := range m.clients {
		clients = append(clients, client)
	}
	m.clientsMutex.RUnlock()

	for _, client := range clients {
		select {
		case client.send <- message:
		default:
			go m.drop(client.conn)
		}
	}
}

func (m *Manager) drop(conn *websocket.Conn) {
	select {
	case m.unregister <- conn:
	case <-m.ctx.Done():
	}
}

func (m *Manager) handleClient(client *Client) {
	defer m.drop(client.conn)

	go m.writePump(client)
	m.readPump(client)
}

// readPump discards client messages; it exists to notice closed connections.
func (m *Manager) readPump(client *Client) {
	for {
		ctx, cancel := context.WithTimeout(m.ctx, readTimeout)
		_, _, err := client.conn.Read(ctx)
		cancel()

		if err != nil {
			if websocket.CloseStatus(err) != websocket.StatusNormalClosure &&
				websocket.CloseStatus(err) != websocket.StatusGoingAway &&
				m.ctx.Err() == nil {
				m.logger.Debug(m.ctx, "WebSocket read ended", "error", err.Error())
			}
			return
		}

		client.touch()
	}
}

func (m *Manager) writePump(client *Client) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case message, ok := <-client.send:
			if !ok {
				return
			}

			ctx, cancel := context.WithTimeout(m.ctx, writeTimeout)
			err := client.conn.Write(ctx, websocket.MessageText, message)
			cancel()

			if err != nil {
				m.logger.Debug(m.ctx, "WebSocket write failed", "error", err.Error())
				return
			}
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(m.ctx, writeTimeout)
			err := client.conn.Ping(ctx)
			cancel()

			if err != nil {
				return
			}
		case <-m.ctx.Done():
			return
		}
	}
}

// Broadcast queues message for every connected client. It never blocks; a
// message is dropped when the queue is full or the manager is shut down.
func (m *Manager) Broadcast(message Message) {
	if message.Timestamp.IsZero() {
		message.Timestamp = time.Now()
	}

	data, err := json.Marshal(message)
	if err != nil {
		m.logger.Error(m.ctx, err, "Failed to encode notification")
		return
	}

	if m.isShutdown.Load() {
		return
	}

	select {
	case m.broadcast <- data:
	default:
		m.logger.Warn(m.ctx, nil, "Notification queue full, dropping message", "type", message.Type)
	}
}

// ConnectedClients returns the number of registered clients.
func (m *Manager) ConnectedClients() int {
	m.clientsMutex.RLock()
	defer m.clientsMutex.RUnlock()
	return len(m.clients)
}

// Shutdown closes every connection and stops the hub. It is safe to call
// more than once.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.shutdownOnce.Do(func() {
		m.isShutdown.Store(true)
		m.cancel()

		m.clientsMutex.Lock()
		conns := make([]*websocket.Conn, 0, len(m.clients))
		for conn := range m.clients {
			conns = append(conns, conn)
		}
		m.clients = make(map[*websocket.Conn]*Client)
		m.clientsMutex.Unlock()

		for _, conn := range conns {
			conn.Close(websocket.StatusGoingAway, "server shutdown")
		}

		m.logger.Debug(ctx, "Notification hub shut down", "closed", len(conns))
	})

	return nil
}

// IsShutdown reports whether Shutdown has been called.
func (m *Manager) IsShutdown() bool {
	return m.isShutdown.Load()
}
