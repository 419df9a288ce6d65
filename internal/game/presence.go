package game

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/scythe504/roulette-backend/internal"
	"github.com/scythe504/roulette-backend/internal/utils"
)

// =============================================================================
// PRESENCE
// =============================================================================

// Presence maps user ids to live connections. Sessions outlive their
// connection so a player who reconnects mid-round is recognised.
type Presence struct {
	mu       sync.RWMutex
	clients  map[string]*internal.Client
	sessions map[string]*internal.Session
}

func NewPresence() *Presence {
	return &Presence{
		clients:  make(map[string]*internal.Client),
		sessions: make(map[string]*internal.Session),
	}
}

// Attach registers an unidentified connection.
func (p *Presence) Attach(conn internal.Conn) *internal.Client {
	c := &internal.Client{
		Id:          utils.GenerateID(),
		Conn:        conn,
		ConnectedAt: time.Now(),
	}
	p.mu.Lock()
	p.clients[c.Id] = c
	p.mu.Unlock()
	log.Printf("[Presence] connection %s attached", c.Id)
	return c
}

// Identify binds connID to userID. A newer connection for the same user
// takes over delivery; the older one stays attached until it closes.
func (p *Presence) Identify(userID, username, connID string) (internal.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	c, ok := p.clients[connID]
	if !ok {
		return internal.Session{}, fmt.Errorf("%w: connection %s", internal.ErrNotFound, connID)
	}
	if c.UserID != "" && c.UserID != userID {
		if s, ok := p.sessions[c.UserID]; ok && s.ConnectionID == connID {
			s.ConnectionID = ""
		}
	}
	c.UserID = userID

	s, ok := p.sessions[userID]
	if !ok {
		s = &internal.Session{UserID: userID}
		p.sessions[userID] = s
	}
	s.Username = username
	s.ConnectionID = connID
	s.LastSeenAt = time.Now()
	log.Printf("[Presence] user %s (%s) identified on %s", userID, username, connID)
	return *s, nil
}

// OnDisconnect drops the connection and clears it from its session.
func (p *Presence) OnDisconnect(connID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	c, ok := p.clients[connID]
	if !ok {
		return
	}
	delete(p.clients, connID)
	if c.UserID == "" {
		return
	}
	if s, ok := p.sessions[c.UserID]; ok && s.ConnectionID == connID {
		s.ConnectionID = ""
		s.LastSeenAt = time.Now()
	}
	log.Printf("[Presence] user %s disconnected from %s", c.UserID, connID)
}

func (p *Presence) LiveConnectionOf(userID string) (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	s, ok := p.sessions[userID]
	if !ok || s.ConnectionID == "" {
		return "", false
	}
	return s.ConnectionID, true
}

func (p *Presence) UserOf(connID string) (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	c, ok := p.clients[connID]
	if !ok || c.UserID == "" {
		return "", false
	}
	return c.UserID, true
}

func (p *Presence) Session(userID string) (internal.Session, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	s, ok := p.sessions[userID]
	if !ok {
		return internal.Session{}, false
	}
	return *s, true
}

func (p *Presence) MarkAdmin(connID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.clients[connID]; ok {
		c.IsAdmin = true
	}
}

// Counts returns connected clients, identified clients and known sessions.
func (p *Presence) Counts() (connected, identified, sessions int) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, c := range p.clients {
		if c.UserID != "" {
			identified++
		}
	}
	return len(p.clients), identified, len(p.sessions)
}

// Send writes msg to the user's live connection.
func (p *Presence) Send(userID string, msg any) error {
	p.mu.RLock()
	var c *internal.Client
	if s, ok := p.sessions[userID]; ok && s.ConnectionID != "" {
		c = p.clients[s.ConnectionID]
	}
	p.mu.RUnlock()

	if c == nil {
		return fmt.Errorf("%w: no live connection for %s", internal.ErrNotFound, userID)
	}
	return c.SafeWriteJSON(msg)
}

// Broadcast writes msg to every attached connection and returns how many
// writes succeeded.
func (p *Presence) Broadcast(msg any) int {
	return p.sendAll(msg, func(*internal.Client) bool { return true }, "[Broadcast]")
}

func (p *Presence) NotifyAdmins(msg any) int {
	return p.sendAll(msg, func(c *internal.Client) bool { return c.IsAdmin }, "[NotifyAdmins]")
}

func (p *Presence) sendAll(msg any, keep func(*internal.Client) bool, tag string) int {
	type target struct {
		client *internal.Client
		userID string
	}

	// 1. Snapshot under lock
	p.mu.RLock()
	targets := make([]target, 0, len(p.clients))
	for _, c := range p.clients {
		if keep(c) {
			targets = append(targets, target{client: c, userID: c.UserID})
		}
	}
	p.mu.RUnlock()

	// 2. Write outside the lock
	sent := 0
	for _, t := range targets {
		if err := t.client.SafeWriteJSON(msg); err != nil {
			log.Printf("%s failed for connection %s (user %q): %v", tag, t.client.Id, t.userID, err)
			continue
		}
		sent++
	}
	return sent
}
