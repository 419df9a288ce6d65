package wallet

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/scythe504/roulette-backend/internal"
	"github.com/scythe504/roulette-backend/internal/store"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePresence struct {
	mu   sync.Mutex
	live map[string]string
}

func (p *fakePresence) LiveConnectionOf(userID string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.live[userID]
	return c, ok
}

func (p *fakePresence) set(userID, connID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if connID == "" {
		delete(p.live, userID)
		return
	}
	p.live[userID] = connID
}

// flakyRepo fails the first failSetBalance SetBalance calls.
type flakyRepo struct {
	*store.Memory
	failSetBalance int32
	calls          atomic.Int32
}

func (f *flakyRepo) SetBalance(ctx context.Context, userID string, newBalance decimal.Decimal, kind internal.TransactionKind, description string, roundID int64) (internal.Transaction, error) {
	if f.calls.Add(1) <= f.failSetBalance {
		return internal.Transaction{}, errors.Join(internal.ErrPersistence, errors.New("connection reset"))
	}
	return f.Memory.SetBalance(ctx, userID, newBalance, kind, description, roundID)
}

// lossyAckRepo commits the first failWrites SetBalance and
// InsertPendingPayout calls and then reports them as failed, like a commit
// whose acknowledgement is lost to a timeout.
type lossyAckRepo struct {
	*store.Memory
	failWrites int32
	setCalls   atomic.Int32
	queueCalls atomic.Int32
}

func (l *lossyAckRepo) SetBalance(ctx context.Context, userID string, newBalance decimal.Decimal, kind internal.TransactionKind, description string, roundID int64) (internal.Transaction, error) {
	tx, err := l.Memory.SetBalance(ctx, userID, newBalance, kind, description, roundID)
	if err == nil && l.setCalls.Add(1) <= l.failWrites {
		return internal.Transaction{}, errors.Join(internal.ErrPersistence, context.DeadlineExceeded)
	}
	return tx, err
}

func (l *lossyAckRepo) InsertPendingPayout(ctx context.Context, userID string, roundID int64, amount decimal.Decimal, ref string) error {
	err := l.Memory.InsertPendingPayout(ctx, userID, roundID, amount, ref)
	if err == nil && l.queueCalls.Add(1) <= l.failWrites {
		return errors.Join(internal.ErrPersistence, context.DeadlineExceeded)
	}
	return err
}

func newTestReconciler(t *testing.T, repo Repository) (*Reconciler, *fakePresence) {
	t.Helper()
	p := &fakePresence{live: map[string]string{}}
	r := NewReconciler(repo, p, Options{StartingBalance: decimal.NewFromInt(1000)})
	return r, p
}

func TestEnsureAccountStartingBalance(t *testing.T) {
	r, _ := newTestReconciler(t, store.NewMemory())
	bal, err := r.EnsureAccount(context.Background(), "u1", "One")
	require.NoError(t, err)
	assert.True(t, bal.Equal(decimal.NewFromInt(1000)))

	bal, err = r.Balance(context.Background(), "u1")
	require.NoError(t, err)
	assert.True(t, bal.Equal(decimal.NewFromInt(1000)))
}

func TestDebit(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	r, _ := newTestReconciler(t, mem)
	_, err := r.EnsureAccount(ctx, "u1", "One")
	require.NoError(t, err)

	tx, err := r.Debit(ctx, "u1", decimal.NewFromInt(100), 4)
	require.NoError(t, err)
	assert.Equal(t, internal.TransactionDebit, tx.Kind)
	assert.True(t, tx.Amount.Equal(decimal.NewFromInt(100)))
	assert.True(t, tx.BalanceAfter.Equal(decimal.NewFromInt(900)))
	assert.Equal(t, int64(4), tx.RoundID)
	assert.Equal(t, "Bet placed - Round 4", tx.Description)

	_, err = r.Debit(ctx, "u1", decimal.NewFromInt(901), 4)
	assert.True(t, errors.Is(err, internal.ErrInsufficientFunds))

	_, err = r.Debit(ctx, "u1", decimal.Zero, 4)
	assert.True(t, errors.Is(err, internal.ErrValidation))

	bal, err := r.Balance(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, bal.Equal(decimal.NewFromInt(900)))

	txs, err := mem.Transactions(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, txs, 1)
}

func TestConcurrentDebitsNeverOverdraw(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	r, _ := newTestReconciler(t, mem)
	_, err := r.EnsureAccount(ctx, "u1", "One")
	require.NoError(t, err)

	const attempts = 50
	var wg sync.WaitGroup
	var ok, insufficient atomic.Int32
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.Debit(ctx, "u1", decimal.NewFromInt(100), 1)
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, internal.ErrInsufficientFunds):
				insufficient.Add(1)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, int32(10), ok.Load())
	require.Equal(t, int32(attempts-10), insufficient.Load())

	bal, err := r.Balance(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, bal.IsZero(), "balance %s", bal)

	txs, err := mem.Transactions(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, txs, 10)
	assert.Equal(t, 0, r.locks.size())
}

func TestCreditLiveUserQueuesNothing(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	r, p := newTestReconciler(t, mem)
	_, err := r.EnsureAccount(ctx, "u1", "One")
	require.NoError(t, err)
	p.set("u1", "conn-1")

	res, err := r.Credit(ctx, "u1", decimal.NewFromInt(3500), 1, "Won")
	require.NoError(t, err)
	assert.True(t, res.Live)
	assert.True(t, res.Transaction.BalanceAfter.Equal(decimal.NewFromInt(4500)))

	pending, err := mem.PendingPayouts(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestCreditOfflineUserDeliversOnce(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	r, _ := newTestReconciler(t, mem)
	_, err := r.EnsureAccount(ctx, "u1", "One")
	require.NoError(t, err)

	res, err := r.Credit(ctx, "u1", decimal.NewFromInt(60), 2, "Dozen win")
	require.NoError(t, err)
	assert.False(t, res.Live)
	_, err = r.Credit(ctx, "u1", decimal.NewFromInt(40), 2, "Column win")
	require.NoError(t, err)

	pending, err := mem.PendingPayouts(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.True(t, pending[0].Amount.Equal(decimal.NewFromInt(100)))

	total, err := r.DeliverPending(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, total.Equal(decimal.NewFromInt(100)))

	total, err = r.DeliverPending(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, total.IsZero())

	bal, err := r.Balance(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, bal.Equal(decimal.NewFromInt(1100)))
}

func TestCreditRetriesTransientFailures(t *testing.T) {
	ctx := context.Background()
	repo := &flakyRepo{Memory: store.NewMemory(), failSetBalance: 2}
	r, p := newTestReconciler(t, repo)
	_, err := r.EnsureAccount(ctx, "u1", "One")
	require.NoError(t, err)
	p.set("u1", "c")

	_, err = r.Credit(ctx, "u1", decimal.NewFromInt(10), 1, "Won")
	require.NoError(t, err)
	assert.Equal(t, int32(3), repo.calls.Load())
	assert.Empty(t, r.Discrepancies())

	bal, err := r.Balance(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, bal.Equal(decimal.NewFromInt(1010)))
}

func TestCreditExhaustedRecordsDiscrepancy(t *testing.T) {
	ctx := context.Background()
	repo := &flakyRepo{Memory: store.NewMemory(), failSetBalance: MaxRetries}
	r, _ := newTestReconciler(t, repo)
	_, err := r.EnsureAccount(ctx, "u1", "One")
	require.NoError(t, err)

	_, err = r.Credit(ctx, "u1", decimal.NewFromInt(10), 9, "Won")
	require.Error(t, err)
	assert.True(t, errors.Is(err, internal.ErrPersistence))

	d := r.Discrepancies()
	require.Len(t, d, 1)
	assert.Equal(t, "u1", d[0].UserID)
	assert.Equal(t, int64(9), d[0].RoundID)
	assert.True(t, d[0].Amount.Equal(decimal.NewFromInt(10)))

	pending, err := repo.PendingPayouts(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestQueuePending(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	r, p := newTestReconciler(t, mem)
	_, err := r.EnsureAccount(ctx, "u1", "One")
	require.NoError(t, err)
	p.set("u1", "c")

	res, err := r.Credit(ctx, "u1", decimal.NewFromInt(70), 5, "Won - Round 5")
	require.NoError(t, err)
	require.True(t, res.Live)

	require.NoError(t, r.QueuePending(ctx, res.Transaction))
	require.NoError(t, r.QueuePending(ctx, res.Transaction))
	total, err := r.DeliverPending(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, total.Equal(decimal.NewFromInt(70)), "total %s", total)
}

func TestCreditCommittedBeforeErrorAppliesOnce(t *testing.T) {
	ctx := context.Background()
	repo := &lossyAckRepo{Memory: store.NewMemory(), failWrites: 1}
	r, _ := newTestReconciler(t, repo)
	_, err := r.EnsureAccount(ctx, "u1", "One")
	require.NoError(t, err)

	res, err := r.Credit(ctx, "u1", decimal.NewFromInt(3500), 4, "Won - Round 4")
	require.NoError(t, err)
	assert.False(t, res.Live)
	assert.True(t, res.Transaction.BalanceAfter.Equal(decimal.NewFromInt(4500)))
	assert.Empty(t, r.Discrepancies())

	bal, err := r.Balance(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, bal.Equal(decimal.NewFromInt(4500)), "balance %s", bal)

	txs, err := repo.Transactions(ctx, "u1")
	require.NoError(t, err)
	credits := 0
	for _, tx := range txs {
		if tx.Kind == internal.TransactionCredit {
			credits++
		}
	}
	assert.Equal(t, 1, credits)

	total, err := r.DeliverPending(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, total.Equal(decimal.NewFromInt(3500)), "pending %s", total)
}

func TestCreditLookupIsKeyedByRound(t *testing.T) {
	ctx := context.Background()
	repo := &lossyAckRepo{Memory: store.NewMemory(), failWrites: 2}
	r, p := newTestReconciler(t, repo)
	_, err := r.EnsureAccount(ctx, "u1", "One")
	require.NoError(t, err)
	p.set("u1", "c")

	// Both writes commit and report failure. The second must be found under
	// its own round, not mistaken for the first.
	_, err = r.Credit(ctx, "u1", decimal.NewFromInt(10), 1, "Won - Round 1")
	require.NoError(t, err)
	_, err = r.Credit(ctx, "u1", decimal.NewFromInt(20), 2, "Won - Round 2")
	require.NoError(t, err)

	bal, err := r.Balance(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, bal.Equal(decimal.NewFromInt(1030)), "balance %s", bal)
	assert.Equal(t, int32(2), repo.setCalls.Load())
	assert.Empty(t, r.Discrepancies())
}
