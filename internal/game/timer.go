package game

import (
	"context"
	"log"
	"sync/atomic"
	"time"

	"github.com/scythe504/roulette-backend/internal"
)

// =============================================================================
// TIMER MANAGEMENT
// =============================================================================

type phaseTimer struct {
	roundID   int64
	phase     internal.GamePhase
	startTime time.Time
	duration  time.Duration
	tick      time.Duration
	ctx       context.Context
	cancel    context.CancelFunc
}

// Remaining returns the countdown in ticks, rounded up.
func (t *phaseTimer) Remaining() int {
	if t.tick <= 0 {
		return 0
	}
	remaining := max(t.duration-time.Since(t.startTime), 0)
	return int((remaining + t.tick - 1) / t.tick)
}

// roundToken is claimed exactly once per round by whichever path enters
// Spinning first: the close-delay timer or an operator force.
type roundToken struct {
	claimed atomic.Bool
}

func (t *roundToken) Claim() bool {
	return t != nil && t.claimed.CompareAndSwap(false, true)
}

// startPhaseTimer replaces the current phase timer. onTick runs on every
// tick (if tick > 0) and onExpire runs in its own goroutine on natural
// expiry only. The caller holds e.gate exclusively.
func (e *Engine) startPhaseTimer(duration, tick time.Duration, onTick func(*phaseTimer), onExpire func()) *phaseTimer {
	e.cancelPhaseTimer()

	ctx, cancel := context.WithTimeout(context.Background(), duration)
	t := &phaseTimer{
		startTime: time.Now(),
		duration:  duration,
		tick:      tick,
		ctx:       ctx,
		cancel:    cancel,
	}
	if e.round != nil {
		t.roundID = e.round.ID
		t.phase = e.round.Phase
	}
	e.timer = t
	log.Printf("[StartPhaseTimer] round=%d phase=%s: timer started for %v", t.roundID, t.phase, duration)

	go func() {
		var tickC <-chan time.Time
		if tick > 0 && onTick != nil {
			ticker := time.NewTicker(tick)
			defer ticker.Stop()
			tickC = ticker.C
		}

		for {
			select {
			case <-tickC:
				onTick(t)
			case <-ctx.Done():
				if ctx.Err() == context.DeadlineExceeded {
					log.Printf("[StartPhaseTimer] round=%d phase=%s: timer expired after %v", t.roundID, t.phase, duration)
					go onExpire()
				} else {
					log.Printf("[StartPhaseTimer] round=%d phase=%s: timer cancelled before expiry", t.roundID, t.phase)
				}
				return
			}
		}
	}()
	return t
}

// cancelPhaseTimer stops the current phase timer. The caller holds e.gate
// exclusively.
func (e *Engine) cancelPhaseTimer() {
	if e.timer == nil {
		return
	}
	e.timer.cancel()
	e.timer = nil
}
