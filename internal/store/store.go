// Package store persists users, balances, rounds, bets and pending payouts.
package store

import (
	"context"

	"github.com/scythe504/roulette-backend/internal"
	"github.com/shopspring/decimal"
)

// Store is the ledger the game writes through. Implementations must make
// SetBalance atomic with its transaction-log row, and InsertPendingPayout must
// collapse into a single pending row per (user, round) while applying each
// ref at most once.
type Store interface {
	Ping(ctx context.Context) error

	CreateRoundSession(ctx context.Context, sessionID string) error
	CreateRound(ctx context.Context, sessionID string, roundNumber int64) (int64, error)
	RecordBet(ctx context.Context, recordID int64, bet internal.Bet) error
	CancelBet(ctx context.Context, betID string) error
	FinishRound(ctx context.Context, result internal.RoundResult) error

	EnsureUser(ctx context.Context, userID, username string, startingBalance decimal.Decimal) (decimal.Decimal, error)
	GetBalance(ctx context.Context, userID string) (decimal.Decimal, error)
	SetBalance(ctx context.Context, userID string, newBalance decimal.Decimal, kind internal.TransactionKind, description string, roundID int64) (internal.Transaction, error)
	Transactions(ctx context.Context, userID string) ([]internal.Transaction, error)
	// FindTransaction returns the latest log row matching the key, or
	// ErrNotFound.
	FindTransaction(ctx context.Context, userID string, kind internal.TransactionKind, roundID int64, description string) (internal.Transaction, error)

	InsertPendingPayout(ctx context.Context, userID string, roundID int64, amount decimal.Decimal, ref string) error
	PendingPayouts(ctx context.Context, userID string) ([]internal.PendingPayout, error)
	MarkPendingDelivered(ctx context.Context, userID string) (decimal.Decimal, error)

	Close()
}

const GameType = "roulette"
