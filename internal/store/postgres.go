package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/scythe504/roulette-backend/internal"
	"github.com/shopspring/decimal"
)

//go:embed schema.sql
var schema string

// Postgres keeps numerics as NUMERIC columns; amounts cross the wire as text
// so decimal values are never rounded through float64.
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(ctx context.Context, databaseURL string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("%w: parse database url: %v", internal.ErrPersistence, err)
	}
	cfg.MaxConnLifetime = time.Hour
	cfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: connect: %v", internal.ErrPersistence, err)
	}

	p := &Postgres{pool: pool}
	if err := p.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	if err := p.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	log.Printf("[Postgres] connected, schema ready")
	return p, nil
}

func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("%w: migrate: %v", internal.ErrPersistence, err)
	}
	return nil
}

func (p *Postgres) Ping(ctx context.Context) error {
	if err := p.pool.Ping(ctx); err != nil {
		return fmt.Errorf("%w: ping: %v", internal.ErrPersistence, err)
	}
	return nil
}

func (p *Postgres) Close() {
	p.pool.Close()
}

func (p *Postgres) CreateRoundSession(ctx context.Context, sessionID string) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO game_sessions (session_id, game_type, status) VALUES ($1, $2, 'active')`,
		sessionID, GameType)
	if err != nil {
		return fmt.Errorf("%w: create session: %v", internal.ErrPersistence, err)
	}
	return nil
}

func (p *Postgres) CreateRound(ctx context.Context, sessionID string, roundNumber int64) (int64, error) {
	var id int64
	err := p.pool.QueryRow(ctx,
		`INSERT INTO game_rounds (session_id, round_number)
		 VALUES ((SELECT id FROM game_sessions WHERE session_id = $1), $2)
		 RETURNING id`,
		sessionID, roundNumber).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("%w: create round %d: %v", internal.ErrPersistence, roundNumber, err)
	}
	return id, nil
}

func (p *Postgres) RecordBet(ctx context.Context, recordID int64, bet internal.Bet) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO bets (id, user_id, round_id, round_number, bet_type, bet_value, bet_amount, payout_multiplier, placed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7::numeric, $8, $9)`,
		bet.ID, bet.UserID, recordID, bet.RoundID, string(bet.Kind), bet.Value, bet.Amount.String(), bet.Multiplier, bet.PlacedAt)
	if err != nil {
		return fmt.Errorf("%w: record bet %s: %v", internal.ErrPersistence, bet.ID, err)
	}
	return nil
}

func (p *Postgres) CancelBet(ctx context.Context, betID string) error {
	tag, err := p.pool.Exec(ctx,
		`UPDATE bets SET status = 'cancelled' WHERE id = $1 AND status = 'placed'`, betID)
	if err != nil {
		return fmt.Errorf("%w: cancel bet %s: %v", internal.ErrPersistence, betID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: bet %s", internal.ErrNotFound, betID)
	}
	return nil
}

// FinishRound writes the round totals and marks winning bets in one
// transaction. Bet updates go out as a single batch.
func (p *Postgres) FinishRound(ctx context.Context, result internal.RoundResult) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: begin finish round: %v", internal.ErrPersistence, err)
	}
	defer tx.Rollback(ctx)

	profit := result.TotalBets.Sub(result.TotalPayouts)
	tag, err := tx.Exec(ctx,
		`UPDATE game_rounds
		 SET winning_number = $2, end_time = now(), total_bets = $3::numeric, total_payouts = $4::numeric, house_profit = $5::numeric
		 WHERE id = $1`,
		result.RecordID, result.WinningNumber, result.TotalBets.String(), result.TotalPayouts.String(), profit.String())
	if err != nil {
		return fmt.Errorf("%w: finish round %d: %v", internal.ErrPersistence, result.RoundNumber, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: round record %d", internal.ErrNotFound, result.RecordID)
	}

	batch := &pgx.Batch{}
	for _, b := range result.Bets {
		if !b.Won {
			continue
		}
		batch.Queue(`UPDATE bets SET is_winner = true, payout_amount = $2::numeric, status = 'settled' WHERE id = $1`,
			b.BetID, b.Payout.String())
	}
	batch.Queue(`UPDATE bets SET status = 'settled' WHERE round_id = $1 AND status = 'placed'`, result.RecordID)
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("%w: settle bets for round %d: %v", internal.ErrPersistence, result.RoundNumber, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: commit finish round: %v", internal.ErrPersistence, err)
	}
	return nil
}

func (p *Postgres) EnsureUser(ctx context.Context, userID, username string, startingBalance decimal.Decimal) (decimal.Decimal, error) {
	var balance string
	err := p.pool.QueryRow(ctx,
		`INSERT INTO users (id, username, balance) VALUES ($1, $2, $3::numeric)
		 ON CONFLICT (id) DO UPDATE SET username = EXCLUDED.username, updated_at = now()
		 RETURNING balance::text`,
		userID, username, startingBalance.String()).Scan(&balance)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: ensure user %s: %v", internal.ErrPersistence, userID, err)
	}
	return parseNumeric(balance)
}

func (p *Postgres) GetBalance(ctx context.Context, userID string) (decimal.Decimal, error) {
	var balance string
	err := p.pool.QueryRow(ctx, `SELECT balance::text FROM users WHERE id = $1`, userID).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, fmt.Errorf("%w: user %s", internal.ErrNotFound, userID)
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: get balance %s: %v", internal.ErrPersistence, userID, err)
	}
	return parseNumeric(balance)
}

// SetBalance locks the user row, writes the new balance and appends the
// matching transaction-log row before committing.
func (p *Postgres) SetBalance(ctx context.Context, userID string, newBalance decimal.Decimal, kind internal.TransactionKind, description string, roundID int64) (internal.Transaction, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return internal.Transaction{}, fmt.Errorf("%w: begin set balance: %v", internal.ErrPersistence, err)
	}
	defer tx.Rollback(ctx)

	var beforeText string
	err = tx.QueryRow(ctx, `SELECT balance::text FROM users WHERE id = $1 FOR UPDATE`, userID).Scan(&beforeText)
	if errors.Is(err, pgx.ErrNoRows) {
		return internal.Transaction{}, fmt.Errorf("%w: user %s", internal.ErrNotFound, userID)
	}
	if err != nil {
		return internal.Transaction{}, fmt.Errorf("%w: lock balance %s: %v", internal.ErrPersistence, userID, err)
	}
	before, err := parseNumeric(beforeText)
	if err != nil {
		return internal.Transaction{}, err
	}

	if _, err := tx.Exec(ctx,
		`UPDATE users SET balance = $2::numeric, updated_at = now() WHERE id = $1`,
		userID, newBalance.String()); err != nil {
		return internal.Transaction{}, fmt.Errorf("%w: update balance %s: %v", internal.ErrPersistence, userID, err)
	}

	t := internal.Transaction{
		UserID:        userID,
		Kind:          kind,
		Amount:        newBalance.Sub(before).Abs(),
		BalanceBefore: before,
		BalanceAfter:  newBalance,
		RoundID:       roundID,
		Description:   description,
	}
	err = tx.QueryRow(ctx,
		`INSERT INTO balance_transactions (user_id, transaction_type, amount, balance_before, balance_after, round_id, description)
		 VALUES ($1, $2, $3::numeric, $4::numeric, $5::numeric, $6, $7)
		 RETURNING id, created_at`,
		userID, string(kind), t.Amount.String(), before.String(), newBalance.String(), roundID, description).Scan(&t.ID, &t.CreatedAt)
	if err != nil {
		return internal.Transaction{}, fmt.Errorf("%w: log transaction %s: %v", internal.ErrPersistence, userID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return internal.Transaction{}, fmt.Errorf("%w: commit set balance: %v", internal.ErrPersistence, err)
	}
	return t, nil
}

func (p *Postgres) Transactions(ctx context.Context, userID string) ([]internal.Transaction, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT id, user_id, transaction_type, amount::text, balance_before::text, balance_after::text, round_id, description, created_at
		 FROM balance_transactions WHERE user_id = $1 ORDER BY id`, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: list transactions %s: %v", internal.ErrPersistence, userID, err)
	}
	defer rows.Close()

	var out []internal.Transaction
	for rows.Next() {
		var (
			t                     internal.Transaction
			kind                  string
			amount, before, after string
		)
		if err := rows.Scan(&t.ID, &t.UserID, &kind, &amount, &before, &after, &t.RoundID, &t.Description, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("%w: scan transaction: %v", internal.ErrPersistence, err)
		}
		t.Kind = internal.TransactionKind(kind)
		if t.Amount, err = parseNumeric(amount); err != nil {
			return nil, err
		}
		if t.BalanceBefore, err = parseNumeric(before); err != nil {
			return nil, err
		}
		if t.BalanceAfter, err = parseNumeric(after); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: list transactions %s: %v", internal.ErrPersistence, userID, err)
	}
	return out, nil
}

func (p *Postgres) FindTransaction(ctx context.Context, userID string, kind internal.TransactionKind, roundID int64, description string) (internal.Transaction, error) {
	var (
		t                     internal.Transaction
		amount, before, after string
	)
	err := p.pool.QueryRow(ctx,
		`SELECT id, amount::text, balance_before::text, balance_after::text, created_at
		 FROM balance_transactions
		 WHERE user_id = $1 AND transaction_type = $2 AND round_id = $3 AND description = $4
		 ORDER BY id DESC LIMIT 1`,
		userID, string(kind), roundID, description).Scan(&t.ID, &amount, &before, &after, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return internal.Transaction{}, fmt.Errorf("%w: %s transaction %q for %s", internal.ErrNotFound, kind, description, userID)
	}
	if err != nil {
		return internal.Transaction{}, fmt.Errorf("%w: find transaction %s: %v", internal.ErrPersistence, userID, err)
	}
	t.UserID, t.Kind, t.RoundID, t.Description = userID, kind, roundID, description
	if t.Amount, err = parseNumeric(amount); err != nil {
		return internal.Transaction{}, err
	}
	if t.BalanceBefore, err = parseNumeric(before); err != nil {
		return internal.Transaction{}, err
	}
	if t.BalanceAfter, err = parseNumeric(after); err != nil {
		return internal.Transaction{}, err
	}
	return t, nil
}

// InsertPendingPayout adds amount to the user's open row for the round. A ref
// already folded into that row is ignored, so a retried insert is harmless.
func (p *Postgres) InsertPendingPayout(ctx context.Context, userID string, roundID int64, amount decimal.Decimal, ref string) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO pending_payouts (user_id, round_id, amount, status, refs)
		 VALUES ($1, $2, $3::numeric, 'pending', ARRAY[$4::text])
		 ON CONFLICT (user_id, round_id) WHERE status = 'pending'
		 DO UPDATE SET amount = pending_payouts.amount + EXCLUDED.amount,
		               refs = pending_payouts.refs || EXCLUDED.refs
		 WHERE NOT pending_payouts.refs @> EXCLUDED.refs`,
		userID, roundID, amount.String(), ref)
	if err != nil {
		return fmt.Errorf("%w: insert pending payout %s: %v", internal.ErrPersistence, userID, err)
	}
	return nil
}

func (p *Postgres) PendingPayouts(ctx context.Context, userID string) ([]internal.PendingPayout, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT user_id, round_id, amount::text, status, created_at
		 FROM pending_payouts WHERE user_id = $1 AND status = 'pending' ORDER BY id`, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: list pending payouts %s: %v", internal.ErrPersistence, userID, err)
	}
	defer rows.Close()

	var out []internal.PendingPayout
	for rows.Next() {
		var (
			pp             internal.PendingPayout
			amount, status string
		)
		if err := rows.Scan(&pp.UserID, &pp.RoundID, &amount, &status, &pp.CreatedAt); err != nil {
			return nil, fmt.Errorf("%w: scan pending payout: %v", internal.ErrPersistence, err)
		}
		pp.Status = internal.PendingStatus(status)
		if pp.Amount, err = parseNumeric(amount); err != nil {
			return nil, err
		}
		out = append(out, pp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: list pending payouts %s: %v", internal.ErrPersistence, userID, err)
	}
	return out, nil
}

// MarkPendingDelivered flips every pending row to delivered and returns the
// sum of what it flipped. Rows already delivered are not counted again.
func (p *Postgres) MarkPendingDelivered(ctx context.Context, userID string) (decimal.Decimal, error) {
	rows, err := p.pool.Query(ctx,
		`UPDATE pending_payouts SET status = 'delivered', delivered_at = now()
		 WHERE user_id = $1 AND status = 'pending'
		 RETURNING amount::text`, userID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: deliver pending %s: %v", internal.ErrPersistence, userID, err)
	}
	amounts, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: deliver pending %s: %v", internal.ErrPersistence, userID, err)
	}

	total := decimal.Zero
	for _, a := range amounts {
		d, err := parseNumeric(a)
		if err != nil {
			return decimal.Zero, err
		}
		total = total.Add(d)
	}
	return total, nil
}

func parseNumeric(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: bad numeric %q: %v", internal.ErrPersistence, s, err)
	}
	return d, nil
}
