package game

import (
	"context"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/scythe504/roulette-backend/internal"
	"github.com/scythe504/roulette-backend/internal/store"
	"github.com/scythe504/roulette-backend/internal/wallet"
	"github.com/shopspring/decimal"
)

type Config struct {
	BettingDuration   time.Duration
	TickInterval      time.Duration
	CloseDelay        time.Duration
	SpinDuration      time.Duration
	RoundInterval     time.Duration
	MaxBet            decimal.Decimal
	StartingBalance   decimal.Decimal
	AdminSecret       string
	StoreTimeout      time.Duration
	SettleConcurrency int
}

func DefaultConfig() Config {
	return Config{
		BettingDuration:   20 * time.Second,
		TickInterval:      time.Second,
		CloseDelay:        2 * time.Second,
		SpinDuration:      9 * time.Second,
		RoundInterval:     5 * time.Second,
		MaxBet:            decimal.NewFromInt(10000),
		StartingBalance:   decimal.NewFromInt(1000),
		StoreTimeout:      3 * time.Second,
		SettleConcurrency: 16,
	}
}

// Engine owns one roulette table: the current round, its ledger, the phase
// timer and everyone connected to it.
type Engine struct {
	cfg      Config
	store    store.Store
	wallet   *wallet.Reconciler
	presence *Presence
	draw     func() int

	// gate is held shared by bet placement and cancellation and exclusively
	// by every phase transition. It guards everything below it.
	gate      sync.RWMutex
	round     *internal.Round
	ledger    *Ledger
	timer     *phaseTimer
	spinToken *roundToken
	running   bool
	sessionID string
	lastRound int64

	out outbox

	roundsCompleted   atomic.Int64
	persistenceErrors atomic.Int64
}

type Option func(*Engine)

// WithDrawer replaces the uniform 0..36 draw.
func WithDrawer(draw func() int) Option {
	return func(e *Engine) { e.draw = draw }
}

func NewEngine(cfg Config, st store.Store, opts ...Option) *Engine {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Second
	}
	if cfg.SettleConcurrency <= 0 {
		cfg.SettleConcurrency = 1
	}
	e := &Engine{
		cfg:      cfg,
		store:    st,
		presence: NewPresence(),
		draw:     func() int { return rand.IntN(internal.MaxNumber + 1) },
		ledger:   NewLedger(0),
	}
	e.wallet = wallet.NewReconciler(st, e.presence, wallet.Options{
		StartingBalance: cfg.StartingBalance,
		CallTimeout:     cfg.StoreTimeout,
	})
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) Presence() *Presence { return e.presence }
func (e *Engine) Wallet() *wallet.Reconciler { return e.wallet }

// CurrentRound returns a copy of the round in play, or a Waiting round
// before the first one opens.
func (e *Engine) CurrentRound() internal.Round {
	e.gate.RLock()
	defer e.gate.RUnlock()
	return e.round.Snapshot()
}

// AllBetsForRound lists the bets of roundID while it is the current round.
func (e *Engine) AllBetsForRound(roundID int64) []internal.Bet {
	e.gate.RLock()
	defer e.gate.RUnlock()
	if e.ledger == nil || e.ledger.RoundID() != roundID {
		return nil
	}
	return e.ledger.All()
}

func (e *Engine) Running() bool {
	e.gate.RLock()
	defer e.gate.RUnlock()
	return e.running
}

func (e *Engine) Stats() internal.AdminStatsData {
	connected, identified, sessions := e.presence.Counts()

	e.gate.RLock()
	r := e.round.Snapshot()
	count, stake := e.ledger.Totals()
	e.gate.RUnlock()

	return internal.AdminStatsData{
		RoundNumber:       r.ID,
		Phase:             r.Phase,
		Countdown:         r.Countdown,
		ConnectedClients:  connected,
		IdentifiedUsers:   identified,
		Sessions:          sessions,
		BetsThisRound:     count,
		StakeThisRound:    stake,
		RoundsCompleted:   e.roundsCompleted.Load(),
		PersistenceErrors: e.persistenceErrors.Load(),
		Discrepancies:     len(e.wallet.Discrepancies()),
	}
}

func (e *Engine) storeCtx() (context.Context, context.CancelFunc) {
	if e.cfg.StoreTimeout <= 0 {
		return context.WithCancel(context.Background())
	}
	return context.WithTimeout(context.Background(), e.cfg.StoreTimeout)
}

func (e *Engine) persistenceFailed() {
	e.persistenceErrors.Add(1)
}
