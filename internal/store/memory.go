package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/scythe504/roulette-backend/internal"
	"github.com/shopspring/decimal"
)

type memUser struct {
	username string
	balance  decimal.Decimal
}

type memRound struct {
	sessionID   string
	roundNumber int64
	finished    bool
	result      internal.RoundResult
}

type memBet struct {
	recordID int64
	bet      internal.Bet
	status   string
	won      bool
	payout   decimal.Decimal
}

type memPending struct {
	internal.PendingPayout
	refs        map[string]bool
	deliveredAt time.Time
}

// Memory is a process-local Store with the same semantics as Postgres. It
// backs the server when no DATABASE_URL is configured, and the engine tests.
type Memory struct {
	mu           sync.Mutex
	sessions     map[string]bool
	users        map[string]*memUser
	rounds       map[int64]*memRound
	bets         map[string]*memBet
	transactions []internal.Transaction
	pending      []*memPending
	nextRoundID  int64
}

func NewMemory() *Memory {
	return &Memory{
		sessions: make(map[string]bool),
		users:    make(map[string]*memUser),
		rounds:   make(map[int64]*memRound),
		bets:     make(map[string]*memBet),
	}
}

func (m *Memory) Ping(ctx context.Context) error { return ctx.Err() }

func (m *Memory) Close() {}

func (m *Memory) CreateRoundSession(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sessions[sessionID] {
		return fmt.Errorf("%w: session %s already exists", internal.ErrPersistence, sessionID)
	}
	m.sessions[sessionID] = true
	return nil
}

func (m *Memory) CreateRound(ctx context.Context, sessionID string, roundNumber int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.sessions[sessionID] {
		return 0, fmt.Errorf("%w: unknown session %s", internal.ErrPersistence, sessionID)
	}
	m.nextRoundID++
	m.rounds[m.nextRoundID] = &memRound{sessionID: sessionID, roundNumber: roundNumber}
	return m.nextRoundID, nil
}

func (m *Memory) RecordBet(ctx context.Context, recordID int64, bet internal.Bet) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rounds[recordID]; !ok {
		return fmt.Errorf("%w: unknown round record %d", internal.ErrPersistence, recordID)
	}
	if _, dup := m.bets[bet.ID]; dup {
		return fmt.Errorf("%w: duplicate bet %s", internal.ErrPersistence, bet.ID)
	}
	m.bets[bet.ID] = &memBet{recordID: recordID, bet: bet, status: "placed"}
	return nil
}

func (m *Memory) CancelBet(ctx context.Context, betID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bets[betID]
	if !ok || b.status != "placed" {
		return fmt.Errorf("%w: bet %s", internal.ErrNotFound, betID)
	}
	b.status = "cancelled"
	return nil
}

func (m *Memory) FinishRound(ctx context.Context, result internal.RoundResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rounds[result.RecordID]
	if !ok {
		return fmt.Errorf("%w: round record %d", internal.ErrNotFound, result.RecordID)
	}
	r.finished = true
	r.result = result
	for _, sb := range result.Bets {
		if b, ok := m.bets[sb.BetID]; ok && b.status == "placed" {
			b.status = "settled"
			b.won = sb.Won
			b.payout = sb.Payout
		}
	}
	return nil
}

// FinishedRound returns the result stored for a round record, if settled.
func (m *Memory) FinishedRound(recordID int64) (internal.RoundResult, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rounds[recordID]
	if !ok || !r.finished {
		return internal.RoundResult{}, false
	}
	return r.result, true
}

// BetStatus reports the stored status of a bet ("placed", "cancelled",
// "settled") or "" when unknown.
func (m *Memory) BetStatus(betID string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.bets[betID]; ok {
		return b.status
	}
	return ""
}

func (m *Memory) EnsureUser(ctx context.Context, userID, username string, startingBalance decimal.Decimal) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		u = &memUser{balance: startingBalance}
		m.users[userID] = u
	}
	u.username = username
	return u.balance, nil
}

func (m *Memory) GetBalance(ctx context.Context, userID string) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: user %s", internal.ErrNotFound, userID)
	}
	return u.balance, nil
}

func (m *Memory) SetBalance(ctx context.Context, userID string, newBalance decimal.Decimal, kind internal.TransactionKind, description string, roundID int64) (internal.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return internal.Transaction{}, fmt.Errorf("%w: %v", internal.ErrPersistence, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return internal.Transaction{}, fmt.Errorf("%w: user %s", internal.ErrNotFound, userID)
	}
	t := internal.Transaction{
		ID:            int64(len(m.transactions) + 1),
		UserID:        userID,
		Kind:          kind,
		Amount:        newBalance.Sub(u.balance).Abs(),
		BalanceBefore: u.balance,
		BalanceAfter:  newBalance,
		RoundID:       roundID,
		Description:   description,
		CreatedAt:     time.Now(),
	}
	u.balance = newBalance
	m.transactions = append(m.transactions, t)
	return t, nil
}

func (m *Memory) Transactions(ctx context.Context, userID string) ([]internal.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []internal.Transaction
	for _, t := range m.transactions {
		if t.UserID == userID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *Memory) FindTransaction(ctx context.Context, userID string, kind internal.TransactionKind, roundID int64, description string) (internal.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return internal.Transaction{}, fmt.Errorf("%w: %v", internal.ErrPersistence, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.transactions) - 1; i >= 0; i-- {
		t := m.transactions[i]
		if t.UserID == userID && t.Kind == kind && t.RoundID == roundID && t.Description == description {
			return t, nil
		}
	}
	return internal.Transaction{}, fmt.Errorf("%w: %s transaction %q for %s", internal.ErrNotFound, kind, description, userID)
}

func (m *Memory) InsertPendingPayout(ctx context.Context, userID string, roundID int64, amount decimal.Decimal, ref string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", internal.ErrPersistence, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.pending {
		if p.UserID == userID && p.RoundID == roundID && p.Status == internal.PendingStatusPending {
			if p.refs[ref] {
				return nil
			}
			p.refs[ref] = true
			p.Amount = p.Amount.Add(amount)
			return nil
		}
	}
	m.pending = append(m.pending, &memPending{
		PendingPayout: internal.PendingPayout{
			UserID:    userID,
			RoundID:   roundID,
			Amount:    amount,
			Status:    internal.PendingStatusPending,
			CreatedAt: time.Now(),
		},
		refs: map[string]bool{ref: true},
	})
	return nil
}

func (m *Memory) PendingPayouts(ctx context.Context, userID string) ([]internal.PendingPayout, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []internal.PendingPayout
	for _, p := range m.pending {
		if p.UserID == userID && p.Status == internal.PendingStatusPending {
			out = append(out, p.PendingPayout)
		}
	}
	return out, nil
}

func (m *Memory) MarkPendingDelivered(ctx context.Context, userID string) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := decimal.Zero
	for _, p := range m.pending {
		if p.UserID == userID && p.Status == internal.PendingStatusPending {
			p.Status = internal.PendingStatusDelivered
			p.deliveredAt = time.Now()
			total = total.Add(p.Amount)
		}
	}
	return total, nil
}
