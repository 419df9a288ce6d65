package internal

import (
	"sync"
	"time"
)

// Conn is the part of a websocket connection the engine writes to.
type Conn interface {
	WriteJSON(v any) error
	Close() error
}

// Client is one live transport connection. UserID stays empty until the
// connection identifies itself.
type Client struct {
	Id          string
	Conn        Conn
	UserID      string
	IsAdmin     bool
	ConnectedAt time.Time
	Mu          sync.Mutex
}

func (c *Client) SafeWriteJSON(v any) error {
	c.Mu.Lock()
	defer c.Mu.Unlock()
	return c.Conn.WriteJSON(v)
}
