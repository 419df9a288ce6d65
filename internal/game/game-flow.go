package game

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/scythe504/roulette-backend/internal"
	"github.com/scythe504/roulette-backend/internal/payout"
	"github.com/scythe504/roulette-backend/internal/utils"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// =============================================================================
// GAME FLOW - ROUND MANAGEMENT
// =============================================================================

// Start opens a store session and begins the round cycle. Calling it on a
// running engine is a no-op.
func (e *Engine) Start(ctx context.Context) error {
	e.gate.Lock()
	if e.running {
		e.gate.Unlock()
		return nil
	}

	sessionID := "roulette-" + utils.ShortID(12)
	sctx, cancel := context.WithTimeout(ctx, max(e.cfg.StoreTimeout, time.Second))
	err := e.store.CreateRoundSession(sctx, sessionID)
	cancel()
	if err != nil {
		e.gate.Unlock()
		return fmt.Errorf("start round session: %w", err)
	}
	e.sessionID = sessionID
	e.running = true
	idle := e.round == nil || e.round.Phase == internal.PhaseWaiting
	e.gate.Unlock()

	log.Printf("[Start] session %s started", sessionID)
	if !idle {
		// The round in flight schedules the next one when it settles.
		return nil
	}
	return e.OpenRound()
}

// OpenRound starts a new betting window. It fails with ErrPhase unless the
// table is idle.
func (e *Engine) OpenRound() error {
	defer e.out.flush()
	e.gate.Lock()
	defer e.gate.Unlock()

	if e.round != nil && e.round.Phase != internal.PhaseWaiting {
		return fmt.Errorf("%w: round %d is %s", internal.ErrPhase, e.round.ID, e.round.Phase)
	}
	e.cancelPhaseTimer()

	e.lastRound++
	ticks := max(int(e.cfg.BettingDuration/e.cfg.TickInterval), 1)
	round := &internal.Round{
		ID:        e.lastRound,
		Phase:     internal.PhaseBetting,
		Countdown: ticks,
		OpenedAt:  time.Now(),
	}

	if e.sessionID != "" {
		ctx, cancel := e.storeCtx()
		recordID, err := e.store.CreateRound(ctx, e.sessionID, round.ID)
		cancel()
		if err != nil {
			e.persistenceFailed()
			log.Printf("[OpenRound] round=%d: not persisted, bets will not be recorded: %v", round.ID, err)
		}
		round.RecordID = recordID
	}

	e.round = round
	e.ledger = NewLedger(round.ID)
	e.spinToken = &roundToken{}

	log.Printf("[OpenRound] round=%d: betting open for %v", round.ID, e.cfg.BettingDuration)
	e.notifyAdmins(internal.Message[any]{Type: internal.EventAdminClearBets, Data: internal.PhaseData{Phase: round.Phase}})
	e.broadcast(internal.Message[internal.NewRoundData]{
		Type: internal.EventNewRound,
		Data: internal.NewRoundData{RoundNumber: round.ID, Countdown: round.Countdown, Phase: round.Phase},
	})

	roundID := round.ID
	e.startPhaseTimer(e.cfg.BettingDuration, e.cfg.TickInterval, e.onBettingTick, func() {
		e.closeBetting(roundID)
	})
	return nil
}

func (e *Engine) onBettingTick(t *phaseTimer) {
	defer e.out.flush()
	e.gate.Lock()
	defer e.gate.Unlock()

	if e.timer != t || e.round == nil || e.round.ID != t.roundID || e.round.Phase != internal.PhaseBetting {
		return
	}
	countdown := t.Remaining()
	if countdown <= 0 || countdown == e.round.Countdown {
		return
	}
	e.round.Countdown = countdown
	e.broadcast(internal.Message[internal.CountdownData]{
		Type: internal.EventCountdown,
		Data: internal.CountdownData{Countdown: countdown, Phase: e.round.Phase},
	})
}

// closeBetting moves a Betting round to Closed and arms the short delay
// before the spin.
func (e *Engine) closeBetting(roundID int64) {
	defer e.out.flush()
	e.gate.Lock()
	defer e.gate.Unlock()

	if e.round == nil || e.round.ID != roundID || e.round.Phase != internal.PhaseBetting {
		log.Printf("[closeBetting] round=%d: already past betting, nothing to do", roundID)
		return
	}
	e.enterClosed()

	token := e.spinToken
	e.startPhaseTimer(e.cfg.CloseDelay, 0, nil, func() {
		if !token.Claim() {
			log.Printf("[closeBetting] round=%d: spin already claimed", roundID)
			return
		}
		e.spin(roundID, nil)
	})
}

// enterClosed flips Betting to Closed and queues the notice. The caller holds
// e.gate exclusively, so no placement can slip in once the phase has moved.
func (e *Engine) enterClosed() {
	e.round.Phase = internal.PhaseClosed
	e.round.Countdown = 0
	log.Printf("[closeBetting] round=%d: bets closed with %d bets", e.round.ID, len(e.ledger.All()))
	e.broadcast(internal.Message[internal.PhaseData]{
		Type: internal.EventBetsClosed,
		Data: internal.PhaseData{Phase: e.round.Phase},
	})
}

// ForceSpin jumps straight to the spin from Betting or Closed. A forced
// number outside 0..36 is ignored and the number is drawn instead.
func (e *Engine) ForceSpin(forced *int) (int64, error) {
	defer e.out.flush()
	e.gate.Lock()
	if !e.round.CanForceSpin() {
		phase := e.round.Snapshot().Phase
		e.gate.Unlock()
		return 0, fmt.Errorf("%w: cannot force spin while %s", internal.ErrPhase, phase)
	}
	if !e.spinToken.Claim() {
		e.gate.Unlock()
		return 0, fmt.Errorf("%w: spin already in progress", internal.ErrPhase)
	}
	e.cancelPhaseTimer()
	if e.round.Phase == internal.PhaseBetting {
		e.enterClosed()
	}
	roundID := e.round.ID
	e.gate.Unlock()

	if forced != nil && !internal.ValidNumber(*forced) {
		log.Printf("[ForceSpin] round=%d: ignoring out-of-range forced number %d", roundID, *forced)
		forced = nil
	}
	log.Printf("[ForceSpin] round=%d: operator forced the spin", roundID)
	e.spin(roundID, forced)
	return roundID, nil
}

// spin enters Spinning, fixes the winning number and arms the animation
// delay. The caller has claimed the round's spin token.
func (e *Engine) spin(roundID int64, forced *int) {
	defer e.out.flush()
	e.gate.Lock()
	defer e.gate.Unlock()

	if e.round == nil || e.round.ID != roundID || e.round.Phase != internal.PhaseClosed {
		log.Printf("[spin] round=%d: not in closed phase, skipping", roundID)
		return
	}

	n := e.draw()
	if forced != nil {
		n = *forced
	}
	if !internal.ValidNumber(n) {
		log.Printf("[spin] round=%d: drawer returned %d, clamping into range", roundID, n)
		n = ((n % (internal.MaxNumber + 1)) + internal.MaxNumber + 1) % (internal.MaxNumber + 1)
	}

	e.round.Phase = internal.PhaseSpinning
	e.round.WinningNumber = &n
	log.Printf("[spin] round=%d: winning number %d", roundID, n)
	e.broadcast(internal.Message[internal.SpinResultData]{
		Type: internal.EventSpinResult,
		Data: internal.SpinResultData{Number: n, Phase: e.round.Phase},
	})

	e.startPhaseTimer(e.cfg.SpinDuration, 0, nil, func() {
		e.settle(roundID)
	})
}

// settle classifies every bet, credits winners in parallel, persists the
// result and returns the table to Waiting.
func (e *Engine) settle(roundID int64) {
	e.gate.Lock()
	if e.round == nil || e.round.ID != roundID || e.round.Phase != internal.PhaseSpinning {
		e.gate.Unlock()
		log.Printf("[settle] round=%d: not spinning, skipping", roundID)
		return
	}
	e.round.Phase = internal.PhaseCalculating
	e.cancelPhaseTimer()
	n := *e.round.WinningNumber
	recordID := e.round.RecordID
	bets := e.ledger.All()
	e.gate.Unlock()

	totalBets, totalPayouts := payout.Aggregate(bets, n)
	settled := make([]internal.SettledBet, 0, len(bets))
	wins := make(map[string]decimal.Decimal)
	for _, b := range bets {
		win := payout.Win(b, n)
		settled = append(settled, internal.SettledBet{BetID: b.ID, UserID: b.UserID, Won: win.IsPositive(), Payout: win})
		if win.IsPositive() {
			wins[b.UserID] = wins[b.UserID].Add(win)
		}
	}
	log.Printf("[settle] round=%d: number=%d bets=%d stake=%s payouts=%s winners=%d",
		roundID, n, len(bets), totalBets.String(), totalPayouts.String(), len(wins))

	var g errgroup.Group
	g.SetLimit(e.cfg.SettleConcurrency)
	for userID, amount := range wins {
		g.Go(func() error {
			e.creditWinner(userID, amount, roundID)
			return nil
		})
	}
	_ = g.Wait()

	if recordID != 0 {
		e.persistResult(internal.RoundResult{
			RecordID:      recordID,
			RoundNumber:   roundID,
			WinningNumber: n,
			TotalBets:     totalBets,
			TotalPayouts:  totalPayouts,
			Bets:          settled,
		})
	} else {
		log.Printf("[settle] round=%d: no round record, result not persisted", roundID)
	}

	e.gate.Lock()
	e.broadcast(internal.Message[internal.RoundCompleteData]{
		Type: internal.EventRoundComplete,
		Data: internal.RoundCompleteData{
			RoundNumber:   roundID,
			WinningNumber: n,
			TotalBets:     totalBets,
			TotalPayouts:  totalPayouts,
		},
	})
	e.round.Phase = internal.PhaseWaiting
	if e.running {
		e.scheduleNextRound()
	} else {
		log.Printf("[settle] round=%d: engine stopped, not scheduling another round", roundID)
	}
	e.gate.Unlock()

	e.out.flush()
	e.roundsCompleted.Add(1)
}

// scheduleNextRound arms the inter-round delay. The caller holds e.gate.
func (e *Engine) scheduleNextRound() {
	var t *phaseTimer
	t = e.startPhaseTimer(e.cfg.RoundInterval, 0, nil, func() {
		e.gate.RLock()
		current := e.timer == t && e.running
		e.gate.RUnlock()
		if !current {
			return
		}
		if err := e.OpenRound(); err != nil {
			log.Printf("[scheduleNextRound] %v", err)
		}
	})
}

func (e *Engine) creditWinner(userID string, amount decimal.Decimal, roundID int64) {
	ctx := context.Background()
	res, err := e.wallet.Credit(ctx, userID, amount, roundID, fmt.Sprintf("Won - Round %d", roundID))
	if err != nil {
		log.Printf("[creditWinner] round=%d user=%s: credit failed: %v", roundID, userID, err)
		return
	}
	if !res.Live {
		log.Printf("[creditWinner] round=%d user=%s: offline, %s queued", roundID, userID, amount.String())
		return
	}

	msg := internal.Message[internal.PayoutReceivedData]{
		Type: internal.EventPayoutReceived,
		Data: internal.PayoutReceivedData{
			Amount:      amount,
			NewBalance:  res.Transaction.BalanceAfter,
			RoundNumber: roundID,
		},
	}
	if err := e.presence.Send(userID, msg); err != nil {
		log.Printf("[creditWinner] round=%d user=%s: live delivery failed, queueing: %v", roundID, userID, err)
		if err := e.wallet.QueuePending(ctx, res.Transaction); err != nil {
			log.Printf("[creditWinner] round=%d user=%s: could not queue pending payout: %v", roundID, userID, err)
		}
	}
}

func (e *Engine) persistResult(result internal.RoundResult) {
	var err error
	for attempt := 1; attempt <= persistAttempts; attempt++ {
		ctx, cancel := e.storeCtx()
		err = e.store.FinishRound(ctx, result)
		cancel()
		if err == nil {
			return
		}
		if errors.Is(err, internal.ErrNotFound) {
			break
		}
		log.Printf("[persistResult] round=%d: attempt %d/%d failed: %v", result.RoundNumber, attempt, persistAttempts, err)
		time.Sleep(persistRetryDelay)
	}
	e.persistenceFailed()
	log.Printf("[persistResult] round=%d: giving up: %v", result.RoundNumber, err)
}

const (
	persistAttempts   = 3
	persistRetryDelay = 50 * time.Millisecond
)

// Stop halts scheduling. A round still taking bets is cancelled and every
// bet refunded; a round past betting runs to completion.
func (e *Engine) Stop(ctx context.Context) {
	e.gate.Lock()
	e.running = false

	var (
		refunds []internal.Bet
		roundID int64
	)
	switch {
	case e.round == nil || e.round.Phase == internal.PhaseWaiting:
		e.cancelPhaseTimer()
	case e.round.Phase == internal.PhaseBetting:
		e.cancelPhaseTimer()
		roundID = e.round.ID
		refunds = e.ledger.All()
		e.round.Phase = internal.PhaseWaiting
		e.round.Countdown = 0
		e.ledger = NewLedger(roundID)
		e.broadcast(internal.Message[internal.RoundCancelledData]{
			Type: internal.EventRoundCancelled,
			Data: internal.RoundCancelledData{RoundNumber: roundID, Phase: internal.PhaseWaiting, Refunded: len(refunds)},
		})
	}
	e.gate.Unlock()
	e.out.flush()

	log.Printf("[Stop] engine stopped, refunding %d bets", len(refunds))
	for _, b := range refunds {
		e.refund(ctx, b, fmt.Sprintf("Refund - Round %d cancelled - Bet %s", roundID, b.ID))
	}
}

func (e *Engine) refund(ctx context.Context, b internal.Bet, description string) {
	res, err := e.wallet.Credit(ctx, b.UserID, b.Amount, b.RoundID, description)
	if err != nil {
		log.Printf("[refund] bet %s: %v", b.ID, err)
		return
	}
	sctx, cancel := e.storeCtx()
	if err := e.store.CancelBet(sctx, b.ID); err != nil && !errors.Is(err, internal.ErrNotFound) {
		e.persistenceFailed()
		log.Printf("[refund] bet %s: not marked cancelled: %v", b.ID, err)
	}
	cancel()

	if res.Live {
		_ = e.presence.Send(b.UserID, internal.Message[internal.BetCancelledData]{
			Type: internal.EventBetCancelled,
			Data: internal.BetCancelledData{BetID: b.ID, Amount: b.Amount, NewBalance: res.Transaction.BalanceAfter},
		})
	}
}
