package websocket

import (
	"sync"
	"time"

	"github.com/coder/websocket"
)

// Client is one connected browser.
type Client struct {
	conn *websocket.Conn
	send chan []byte

	mu           sync.Mutex
	lastActivity time.Time
}

func (c *Client) touch() {
	c.mu.Lock()
	c.lastActivity = time.Now()
	c.mu.Unlock()
}

// Message types.
const (
	MessageBuildSucceeded = "build_succeeded"
	MessageBuildFailed    = "build_failed"
	MessageBuildStarted   = "build_started"
)

// Message is the JSON document sent to clients.
type Message struct {
	Type       string    `json:"type"`
	Error      string    `json:"error,omitempty"`
	DurationMS int64     `json:"duration_ms,omitempty"`
	Assets     int       `json:"assets,omitempty"`
	Rendered   int64     `json:"rendered,omitempty"`
	Redirects  int       `json:"redirects,omitempty"`
	Deletions  int       `json:"deletions,omitempty"`
	Changed    []string  `json:"changed,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}
