// Package wallet debits stakes and credits payouts against a user's wagering
// balance. All balance reads and writes for one user are serialized.
package wallet

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/scythe504/roulette-backend/internal"
	"github.com/shopspring/decimal"
)

const (
	MaxRetries = 3
	RetryDelay = 10 * time.Millisecond
)

// Repository is the subset of the ledger store the reconciler needs.
type Repository interface {
	EnsureUser(ctx context.Context, userID, username string, startingBalance decimal.Decimal) (decimal.Decimal, error)
	GetBalance(ctx context.Context, userID string) (decimal.Decimal, error)
	SetBalance(ctx context.Context, userID string, newBalance decimal.Decimal, kind internal.TransactionKind, description string, roundID int64) (internal.Transaction, error)
	FindTransaction(ctx context.Context, userID string, kind internal.TransactionKind, roundID int64, description string) (internal.Transaction, error)
	InsertPendingPayout(ctx context.Context, userID string, roundID int64, amount decimal.Decimal, ref string) error
	MarkPendingDelivered(ctx context.Context, userID string) (decimal.Decimal, error)
}

// Presence answers whether a user currently has a live connection.
type Presence interface {
	LiveConnectionOf(userID string) (string, bool)
}

type Discrepancy struct {
	UserID      string          `json:"userId"`
	RoundID     int64           `json:"roundId"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
	Err         string          `json:"error"`
	At          time.Time       `json:"at"`
}

type Options struct {
	StartingBalance decimal.Decimal
	// CallTimeout bounds every single repository call. Zero means no bound
	// beyond the caller's context.
	CallTimeout time.Duration
}

type CreditResult struct {
	Transaction internal.Transaction
	// Live is true when the user had a connection at credit time; otherwise a
	// pending payout was queued for the next identification.
	Live bool
}

type Reconciler struct {
	repo     Repository
	presence Presence
	opts     Options
	locks    *userLocks

	mu            sync.Mutex
	discrepancies []Discrepancy
}

func NewReconciler(repo Repository, presence Presence, opts Options) *Reconciler {
	return &Reconciler{
		repo:     repo,
		presence: presence,
		opts:     opts,
		locks:    newUserLocks(),
	}
}

func (r *Reconciler) call(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.opts.CallTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, r.opts.CallTimeout)
}

func (r *Reconciler) EnsureAccount(ctx context.Context, userID, username string) (decimal.Decimal, error) {
	unlock := r.locks.lock(userID)
	defer unlock()

	cctx, cancel := r.call(ctx)
	defer cancel()
	return r.repo.EnsureUser(cctx, userID, username, r.opts.StartingBalance)
}

func (r *Reconciler) Balance(ctx context.Context, userID string) (decimal.Decimal, error) {
	unlock := r.locks.lock(userID)
	defer unlock()

	cctx, cancel := r.call(ctx)
	defer cancel()
	return r.repo.GetBalance(cctx, userID)
}

// Debit takes amount from the user's balance. It fails with
// ErrInsufficientFunds without touching the balance when amount exceeds it.
func (r *Reconciler) Debit(ctx context.Context, userID string, amount decimal.Decimal, roundID int64) (internal.Transaction, error) {
	if !amount.IsPositive() {
		return internal.Transaction{}, fmt.Errorf("%w: debit amount must be positive", internal.ErrValidation)
	}
	unlock := r.locks.lock(userID)
	defer unlock()

	cctx, cancel := r.call(ctx)
	balance, err := r.repo.GetBalance(cctx, userID)
	cancel()
	if err != nil {
		return internal.Transaction{}, err
	}
	if balance.LessThan(amount) {
		return internal.Transaction{}, fmt.Errorf("%w: balance %s, requested %s", internal.ErrInsufficientFunds, balance.StringFixed(2), amount.StringFixed(2))
	}

	cctx, cancel = r.call(ctx)
	defer cancel()
	return r.repo.SetBalance(cctx, userID, balance.Sub(amount), internal.TransactionDebit,
		fmt.Sprintf("Bet placed - Round %d", roundID), roundID)
}

// Credit adds amount to the user's balance, retrying transient store
// failures. (userID, roundID, description) identifies the credit: a failed
// attempt may still have committed, so before each retry the log is checked
// for that row and the credit is never applied twice. Callers must keep the
// description unique per user and round.
//
// When the user is offline a pending payout is queued under the same lock so
// a concurrent identification sees either the live user or the queued row,
// never neither.
func (r *Reconciler) Credit(ctx context.Context, userID string, amount decimal.Decimal, roundID int64, description string) (CreditResult, error) {
	if !amount.IsPositive() {
		return CreditResult{}, fmt.Errorf("%w: credit amount must be positive", internal.ErrValidation)
	}
	unlock := r.locks.lock(userID)
	defer unlock()

	var (
		tx        internal.Transaction
		err       error
		uncertain bool
	)
	for i := 0; i < MaxRetries; i++ {
		if uncertain {
			var found bool
			if tx, found, err = r.findCredit(ctx, userID, roundID, description); found {
				log.Printf("[Credit] user=%s round=%d: earlier attempt committed as tx %d", userID, roundID, tx.ID)
				break
			}
		}
		if err == nil {
			tx, err = r.creditOnce(ctx, userID, amount, roundID, description)
			if err == nil {
				break
			}
			if errors.Is(err, internal.ErrNotFound) {
				break
			}
			uncertain = true
		}
		if ctx.Err() != nil {
			break
		}
		log.Printf("[Credit] user=%s round=%d attempt %d/%d failed: %v", userID, roundID, i+1, MaxRetries, err)
		time.Sleep(RetryDelay)
	}
	if err != nil && uncertain && ctx.Err() == nil {
		var found bool
		var ferr error
		if tx, found, ferr = r.findCredit(ctx, userID, roundID, description); found {
			log.Printf("[Credit] user=%s round=%d: last attempt committed as tx %d", userID, roundID, tx.ID)
			err = nil
		} else if ferr != nil {
			log.Printf("[Credit] user=%s round=%d: outcome unknown: %v", userID, roundID, ferr)
		}
	}
	if err != nil {
		r.recordDiscrepancy(userID, roundID, amount, description, err)
		return CreditResult{}, fmt.Errorf("credit %s to %s: %w", amount.String(), userID, err)
	}

	res := CreditResult{Transaction: tx}
	if _, live := r.presence.LiveConnectionOf(userID); live {
		res.Live = true
		return res, nil
	}
	if err := r.queuePending(ctx, userID, roundID, amount, pendingRef(tx)); err != nil {
		// The balance is already credited; only the notification is lost.
		r.recordDiscrepancy(userID, roundID, amount, "pending payout not queued", err)
	}
	return res, nil
}

func (r *Reconciler) creditOnce(ctx context.Context, userID string, amount decimal.Decimal, roundID int64, description string) (internal.Transaction, error) {
	cctx, cancel := r.call(ctx)
	defer cancel()
	balance, err := r.repo.GetBalance(cctx, userID)
	if err != nil {
		return internal.Transaction{}, err
	}
	return r.repo.SetBalance(cctx, userID, balance.Add(amount), internal.TransactionCredit, description, roundID)
}

// findCredit looks up the log row a committed credit attempt left behind.
// err is nil when the lookup itself succeeded, found or not.
func (r *Reconciler) findCredit(ctx context.Context, userID string, roundID int64, description string) (internal.Transaction, bool, error) {
	cctx, cancel := r.call(ctx)
	defer cancel()
	tx, err := r.repo.FindTransaction(cctx, userID, internal.TransactionCredit, roundID, description)
	switch {
	case err == nil:
		return tx, true, nil
	case errors.Is(err, internal.ErrNotFound):
		return internal.Transaction{}, false, nil
	default:
		return internal.Transaction{}, false, err
	}
}

func pendingRef(tx internal.Transaction) string {
	return "tx-" + strconv.FormatInt(tx.ID, 10)
}

// QueuePending records a payout notification for a user whose live delivery
// failed after credit tx went through. Queueing the same tx twice is a no-op.
func (r *Reconciler) QueuePending(ctx context.Context, tx internal.Transaction) error {
	unlock := r.locks.lock(tx.UserID)
	defer unlock()
	return r.queuePending(ctx, tx.UserID, tx.RoundID, tx.Amount, pendingRef(tx))
}

func (r *Reconciler) queuePending(ctx context.Context, userID string, roundID int64, amount decimal.Decimal, ref string) error {
	var err error
	for i := 0; i < MaxRetries; i++ {
		cctx, cancel := r.call(ctx)
		err = r.repo.InsertPendingPayout(cctx, userID, roundID, amount, ref)
		cancel()
		if err == nil {
			return nil
		}
		time.Sleep(RetryDelay)
	}
	return err
}

// DeliverPending marks every pending payout for the user delivered and
// returns their sum. A second call returns zero.
func (r *Reconciler) DeliverPending(ctx context.Context, userID string) (decimal.Decimal, error) {
	unlock := r.locks.lock(userID)
	defer unlock()

	cctx, cancel := r.call(ctx)
	defer cancel()
	return r.repo.MarkPendingDelivered(cctx, userID)
}

func (r *Reconciler) recordDiscrepancy(userID string, roundID int64, amount decimal.Decimal, description string, err error) {
	log.Printf("[Reconciler] discrepancy user=%s round=%d amount=%s: %s: %v", userID, roundID, amount.String(), description, err)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.discrepancies = append(r.discrepancies, Discrepancy{
		UserID:      userID,
		RoundID:     roundID,
		Amount:      amount,
		Description: description,
		Err:         err.Error(),
		At:          time.Now(),
	})
}

func (r *Reconciler) Discrepancies() []Discrepancy {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Discrepancy, len(r.discrepancies))
	copy(out, r.discrepancies)
	return out
}
