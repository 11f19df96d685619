package entities

import (
	"sync"
	"time"
)

// ConnectionState is the lifecycle stage of a client connection
type ConnectionState int

const (
	// ConnectionPending is a channel accepted but not yet handshaken
	ConnectionPending ConnectionState = iota
	// ConnectionReady receives broadcasts
	ConnectionReady
	// ConnectionClosed is terminal
	ConnectionClosed
)

// String returns the string representation of ConnectionState
func (s ConnectionState) String() string {
	switch s {
	case ConnectionPending:
		return "pending"
	case ConnectionReady:
		return "ready"
	case ConnectionClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ClientConnection is the registry's record of one connected client
type ClientConnection struct {
	ID          string
	Transport   string
	ConnectedAt time.Time

	mu        sync.Mutex
	state     ConnectionState
	delivered uint64
}

// NewClientConnection creates a pending connection record
func NewClientConnection(id, transport string, now time.Time) *ClientConnection {
	return &ClientConnection{
		ID:          id,
		Transport:   transport,
		ConnectedAt: now,
		state:       ConnectionPending,
	}
}

// State returns the current state
func (c *ClientConnection) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Ready reports whether the connection receives broadcasts
func (c *ClientConnection) Ready() bool {
	return c.State() == ConnectionReady
}

// MarkReady moves a pending connection to ready. Closed connections stay closed.
func (c *ClientConnection) MarkReady() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != ConnectionPending {
		return false
	}
	c.state = ConnectionReady
	return true
}

// MarkClosed moves the connection to its terminal state. It returns false when
// the connection was already closed.
func (c *ClientConnection) MarkClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == ConnectionClosed {
		return false
	}
	c.state = ConnectionClosed
	return true
}

// Advance moves the delivery cursor after a successful send
func (c *ClientConnection) Advance() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.delivered++
	return c.delivered
}

// Delivered returns the number of messages delivered so far
func (c *ClientConnection) Delivered() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.delivered
}
