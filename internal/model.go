package internal

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	MinNumber = 0
	MaxNumber = 36
)

type GamePhase string

const (
	PhaseWaiting     GamePhase = "waiting"
	PhaseBetting     GamePhase = "betting"
	PhaseClosed      GamePhase = "closed"
	PhaseSpinning    GamePhase = "spinning"
	PhaseCalculating GamePhase = "calculating"
)

type BetKind string

const (
	BetNumber BetKind = "number"
	BetColor  BetKind = "color"
	BetParity BetKind = "parity"
	BetRange  BetKind = "range"
	BetDozen  BetKind = "dozen"
	BetColumn BetKind = "column"
)

// BetType is a validated selection on the table. Value holds the canonical
// wire form ("17", "red", "even", "low", "2nd", "3"); Pick holds the numeric
// selection for Number (0..36), Dozen and Column (1..3) bets.
type BetType struct {
	Kind  BetKind `json:"type"`
	Value string  `json:"value"`
	Pick  int     `json:"-"`
}

type Bet struct {
	ID      string `json:"id"`
	RoundID int64  `json:"roundId"`
	UserID  string `json:"userId"`
	BetType
	Amount     decimal.Decimal `json:"amount"`
	Multiplier int64           `json:"multiplier"`
	PlacedAt   time.Time       `json:"placedAt"`
}

type Round struct {
	ID            int64     `json:"roundNumber"`
	RecordID      int64     `json:"-"`
	Phase         GamePhase `json:"phase"`
	Countdown     int       `json:"countdown"`
	WinningNumber *int      `json:"winningNumber,omitempty"`
	OpenedAt      time.Time `json:"openedAt"`
}

type TransactionKind string

const (
	TransactionDebit  TransactionKind = "debit"
	TransactionCredit TransactionKind = "credit"
)

type Transaction struct {
	ID            int64           `json:"id"`
	UserID        string          `json:"userId"`
	Kind          TransactionKind `json:"kind"`
	Amount        decimal.Decimal `json:"amount"`
	BalanceBefore decimal.Decimal `json:"balanceBefore"`
	BalanceAfter  decimal.Decimal `json:"balanceAfter"`
	RoundID       int64           `json:"roundId"`
	Description   string          `json:"description"`
	CreatedAt     time.Time       `json:"createdAt"`
}

type PendingStatus string

const (
	PendingStatusPending   PendingStatus = "pending"
	PendingStatusDelivered PendingStatus = "delivered"
)

type PendingPayout struct {
	UserID    string          `json:"userId"`
	RoundID   int64           `json:"roundId"`
	Amount    decimal.Decimal `json:"amount"`
	Status    PendingStatus   `json:"status"`
	CreatedAt time.Time       `json:"createdAt"`
}

type Session struct {
	UserID       string    `json:"userId"`
	Username     string    `json:"username"`
	ConnectionID string    `json:"connectionId,omitempty"`
	LastSeenAt   time.Time `json:"lastSeenAt"`
}

// SettledBet is the outcome of one bet after classification.
type SettledBet struct {
	BetID  string
	UserID string
	Won    bool
	Payout decimal.Decimal
}

type RoundResult struct {
	RecordID      int64
	RoundNumber   int64
	WinningNumber int
	TotalBets     decimal.Decimal
	TotalPayouts  decimal.Decimal
	Bets          []SettledBet
}
