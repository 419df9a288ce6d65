package game

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/scythe504/roulette-backend/internal"
	"github.com/scythe504/roulette-backend/internal/store"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// fakeConn records every message written to it.
type fakeConn struct {
	mu     sync.Mutex
	frames []frame
	fail   bool
	closed bool
}

func (c *fakeConn) WriteJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail || c.closed {
		return errors.New("write: broken pipe")
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var f frame
	if err := json.Unmarshal(b, &f); err != nil {
		return err
	}
	c.frames = append(c.frames, f)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) setFail(fail bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fail = fail
}

func (c *fakeConn) types() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.frames))
	for i, f := range c.frames {
		out[i] = f.Type
	}
	return out
}

func (c *fakeConn) count(eventType string) int {
	n := 0
	for _, t := range c.types() {
		if t == eventType {
			n++
		}
	}
	return n
}

func (c *fakeConn) indexOf(eventType string) int {
	for i, t := range c.types() {
		if t == eventType {
			return i
		}
	}
	return -1
}

// decodeAll unmarshals the data of every frame of eventType into a new T.
func decodeAll[T any](t *testing.T, c *fakeConn, eventType string) []T {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []T
	for _, f := range c.frames {
		if f.Type != eventType {
			continue
		}
		var v T
		require.NoError(t, json.Unmarshal(f.Data, &v))
		out = append(out, v)
	}
	return out
}

func testConfig() Config {
	return Config{
		BettingDuration:   time.Hour,
		TickInterval:      time.Second,
		CloseDelay:        20 * time.Millisecond,
		SpinDuration:      20 * time.Millisecond,
		RoundInterval:     time.Hour,
		MaxBet:            decimal.NewFromInt(10000),
		StartingBalance:   decimal.NewFromInt(1000),
		AdminSecret:       "letmein",
		StoreTimeout:      time.Second,
		SettleConcurrency: 4,
	}
}

func fixedDraw(n int) Option {
	return WithDrawer(func() int { return n })
}

func newTestEngine(t *testing.T, cfg Config, opts ...Option) (*Engine, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	e := NewEngine(cfg, mem, opts...)
	t.Cleanup(func() { e.Stop(context.Background()) })
	return e, mem
}

// join attaches a fake connection and identifies it as userID.
func join(t *testing.T, e *Engine, userID string) (*internal.Client, *fakeConn) {
	t.Helper()
	conn := &fakeConn{}
	client := e.Presence().Attach(conn)
	require.NoError(t, e.Identify(context.Background(), client, userID, userID+"-name"))
	return client, conn
}

func balanceOf(t *testing.T, e *Engine, userID string) decimal.Decimal {
	t.Helper()
	bal, err := e.Wallet().Balance(context.Background(), userID)
	require.NoError(t, err)
	return bal
}

func waitForRounds(t *testing.T, e *Engine, n int64) {
	t.Helper()
	require.Eventually(t, func() bool {
		return e.Stats().RoundsCompleted >= n
	}, 3*time.Second, 5*time.Millisecond)
}

func intPtr(n int) *int { return &n }

func dec(n int64) decimal.Decimal { return decimal.NewFromInt(n) }
