package game

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/scythe504/roulette-backend/internal"
	"github.com/scythe504/roulette-backend/internal/payout"
	"github.com/shopspring/decimal"
)

// =============================================================================
// BETTING
// =============================================================================

// PlaceBet validates and records a bet for the current round, debiting the
// stake first. The phase gate is held shared for the whole placement so the
// round cannot close between the phase check and the ledger append.
func (e *Engine) PlaceBet(ctx context.Context, userID, betType, value string, amount decimal.Decimal) (internal.Bet, decimal.Decimal, error) {
	bet, balance, recordID, err := e.placeBet(ctx, userID, betType, value, amount)
	if err != nil {
		return internal.Bet{}, decimal.Zero, err
	}

	if recordID != 0 {
		sctx, cancel := e.storeCtx()
		if err := e.store.RecordBet(sctx, recordID, bet); err != nil {
			e.persistenceFailed()
			log.Printf("[PlaceBet] bet %s: not recorded: %v", bet.ID, err)
		}
		cancel()
	}

	username := userID
	if s, ok := e.presence.Session(userID); ok && s.Username != "" {
		username = s.Username
	}
	e.notifyAdmins(internal.Message[internal.AdminNewBetData]{
		Type: internal.EventAdminNewBet,
		Data: internal.AdminNewBetData{
			UserID:   userID,
			Username: username,
			Type:     bet.Kind,
			Value:    bet.Value,
			Amount:   bet.Amount,
		},
	})
	e.out.kick()
	return bet, balance, nil
}

func (e *Engine) placeBet(ctx context.Context, userID, betType, value string, amount decimal.Decimal) (internal.Bet, decimal.Decimal, int64, error) {
	e.gate.RLock()
	defer e.gate.RUnlock()

	if !e.round.IsBettingOpen() {
		return internal.Bet{}, decimal.Zero, 0, fmt.Errorf("%w: betting is closed", internal.ErrPhase)
	}
	if userID == "" {
		return internal.Bet{}, decimal.Zero, 0, fmt.Errorf("%w: identify before betting", internal.ErrAuth)
	}
	if !amount.IsPositive() {
		return internal.Bet{}, decimal.Zero, 0, fmt.Errorf("%w: amount must be positive", internal.ErrValidation)
	}
	if e.cfg.MaxBet.IsPositive() && amount.GreaterThan(e.cfg.MaxBet) {
		return internal.Bet{}, decimal.Zero, 0, fmt.Errorf("%w: amount exceeds maximum bet of %s", internal.ErrValidation, e.cfg.MaxBet.String())
	}
	bt, err := payout.ParseBet(betType, value)
	if err != nil {
		return internal.Bet{}, decimal.Zero, 0, err
	}

	round := e.round
	tx, err := e.wallet.Debit(ctx, userID, amount, round.ID)
	if err != nil {
		return internal.Bet{}, decimal.Zero, 0, err
	}

	bet := internal.Bet{
		ID:         uuid.NewString(),
		RoundID:    round.ID,
		UserID:     userID,
		BetType:    bt,
		Amount:     amount,
		Multiplier: payout.MultiplierOf(bt.Kind),
		PlacedAt:   time.Now(),
	}
	e.ledger.Add(bet)
	log.Printf("[PlaceBet] round=%d user=%s: %s=%s amount=%s", round.ID, userID, bt.Kind, bt.Value, amount.String())
	return bet, tx.BalanceAfter, round.RecordID, nil
}

// CancelBet removes one of the user's own bets while betting is open and
// refunds its stake.
func (e *Engine) CancelBet(ctx context.Context, userID, betID string) (internal.Bet, decimal.Decimal, error) {
	e.gate.RLock()
	if !e.round.IsBettingOpen() {
		e.gate.RUnlock()
		return internal.Bet{}, decimal.Zero, fmt.Errorf("%w: betting is closed", internal.ErrPhase)
	}
	bet, ok := e.ledger.Remove(userID, betID)
	if !ok {
		e.gate.RUnlock()
		return internal.Bet{}, decimal.Zero, fmt.Errorf("%w: bet %s", internal.ErrNotFound, betID)
	}
	res, err := e.wallet.Credit(ctx, userID, bet.Amount, bet.RoundID, fmt.Sprintf("Bet cancelled - Round %d - Bet %s", bet.RoundID, bet.ID))
	if err != nil {
		e.ledger.Add(bet)
		e.gate.RUnlock()
		return internal.Bet{}, decimal.Zero, err
	}
	recordID := e.round.RecordID
	e.gate.RUnlock()

	if recordID != 0 {
		sctx, cancel := e.storeCtx()
		if err := e.store.CancelBet(sctx, betID); err != nil && !errors.Is(err, internal.ErrNotFound) {
			e.persistenceFailed()
			log.Printf("[CancelBet] bet %s: not marked cancelled: %v", betID, err)
		}
		cancel()
	}
	log.Printf("[CancelBet] user=%s: bet %s cancelled, %s refunded", userID, betID, bet.Amount.String())
	return bet, res.Transaction.BalanceAfter, nil
}

// =============================================================================
// IDENTIFICATION
// =============================================================================

// Identify binds a connection to a user, creating the account on first
// sight, then replays the table state and any payouts won while offline.
func (e *Engine) Identify(ctx context.Context, client *internal.Client, userID, username string) error {
	if userID == "" {
		return fmt.Errorf("%w: userId is required", internal.ErrValidation)
	}
	if username == "" {
		username = "Player"
	}
	if _, err := e.wallet.EnsureAccount(ctx, userID, username); err != nil {
		return err
	}
	if _, err := e.presence.Identify(userID, username, client.Id); err != nil {
		return err
	}

	// Presence is set before delivery: a concurrent settlement either sees the
	// user live or has already queued the payout we are about to collect.
	delivered, err := e.wallet.DeliverPending(ctx, userID)
	if err != nil {
		log.Printf("[Identify] user=%s: pending payouts not delivered: %v", userID, err)
		delivered = decimal.Zero
	}
	balance, err := e.wallet.Balance(ctx, userID)
	if err != nil {
		return err
	}

	e.gate.RLock()
	round := e.round.Snapshot()
	bets := make([]internal.Bet, 0)
	if round.Phase != internal.PhaseWaiting {
		bets = e.ledger.Of(userID)
	}
	e.gate.RUnlock()

	state := internal.Message[internal.GameStateData]{
		Type: internal.EventGameState,
		Data: internal.GameStateData{
			UserID:      userID,
			Username:    username,
			Balance:     balance,
			RoundNumber: round.ID,
			Phase:       round.Phase,
			Countdown:   round.Countdown,
			Bets:        bets,
		},
	}
	if err := client.SafeWriteJSON(state); err != nil {
		log.Printf("[Identify] user=%s: game state not sent: %v", userID, err)
	}

	if delivered.IsPositive() {
		msg := internal.Message[internal.PendingPayoutData]{
			Type: internal.EventPendingPayout,
			Data: internal.PendingPayoutData{Amount: delivered, NewBalance: balance},
		}
		if err := client.SafeWriteJSON(msg); err != nil {
			log.Printf("[Identify] user=%s: pending payout notice lost: %v", userID, err)
		}
	}
	return nil
}
