package game

import (
	"sync"

	"github.com/scythe504/roulette-backend/internal"
	"github.com/shopspring/decimal"
)

// Ledger holds the bets of one round in placement order. Placements run
// concurrently under the shared phase gate, so the ledger carries its own
// lock.
type Ledger struct {
	roundID int64

	mu   sync.Mutex
	bets []internal.Bet
}

func NewLedger(roundID int64) *Ledger {
	return &Ledger{roundID: roundID, bets: make([]internal.Bet, 0)}
}

func (l *Ledger) RoundID() int64 { return l.roundID }

func (l *Ledger) Add(bet internal.Bet) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.bets = append(l.bets, bet)
}

// Remove deletes betID if it belongs to userID.
func (l *Ledger) Remove(userID, betID string) (internal.Bet, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, b := range l.bets {
		if b.ID == betID && b.UserID == userID {
			l.bets = append(l.bets[:i], l.bets[i+1:]...)
			return b, true
		}
	}
	return internal.Bet{}, false
}

func (l *Ledger) All() []internal.Bet {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]internal.Bet, len(l.bets))
	copy(out, l.bets)
	return out
}

func (l *Ledger) Of(userID string) []internal.Bet {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]internal.Bet, 0)
	for _, b := range l.bets {
		if b.UserID == userID {
			out = append(out, b)
		}
	}
	return out
}

func (l *Ledger) Totals() (count int, stake decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()
	stake = decimal.Zero
	for _, b := range l.bets {
		stake = stake.Add(b.Amount)
	}
	return len(l.bets), stake
}
