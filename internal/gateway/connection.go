package gateway

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeTimeout  = 10 * time.Second
	pongTimeout   = 60 * time.Second
	pingInterval  = 54 * time.Second
	maxFrameBytes = 64 * 1024
	sendBuffer    = 256
)

// Connection is one authenticated websocket client.
type Connection struct {
	ID          string
	PrincipalID uuid.UUID

	ws   *websocket.Conn
	send chan []byte

	mu     sync.Mutex
	closed bool
}

func newConnection(ws *websocket.Conn, principalID uuid.UUID) *Connection {
	return &Connection{
		ID:          uuid.New().String(),
		PrincipalID: principalID,
		ws:          ws,
		send:        make(chan []byte, sendBuffer),
	}
}

// enqueue hands a frame to the write pump. Frames for closed
// connections are silently discarded, which is what lets detached
// pipeline work finish after the client is gone. A full buffer means
// the consumer stopped draining; closing the connection there keeps
// per-message outcomes observable, a reconnecting client is better
// than one silently missing replies.
func (c *Connection) enqueue(frame []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- frame:
	default:
		c.closed = true
		close(c.send)
	}
}

// shutdown marks the connection closed and releases the write pump.
func (c *Connection) shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}
