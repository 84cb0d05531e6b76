// Package postgres provides a PostgreSQL-backed LedgerStore for modelrouter.
//
// The ledger is a single budget row plus holds, per-provider spend and
// idempotency tables. Every mutation locks the budget row inside one
// transaction, which makes the store safe for multi-instance deployments.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	mr "github.com/ineyio/modelrouter"
)

// Store is a PostgreSQL-backed LedgerStore.
type Store struct {
	pool        *pgxpool.Pool
	tablePrefix string
	now         func() time.Time
}

var (
	_ mr.LedgerStore       = (*Store)(nil)
	_ mr.LedgerInitializer = (*Store)(nil)
)

// Option configures Store.
type Option func(*Store)

// WithTablePrefix sets the table name prefix (default "modelrouter_").
func WithTablePrefix(prefix string) Option {
	return func(s *Store) { s.tablePrefix = prefix }
}

// WithClock sets the time source used for period rollover.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates a new PostgreSQL-backed LedgerStore. Call EnsureSchema before use.
func New(pool *pgxpool.Pool, opts ...Option) *Store {
	s := &Store{
		pool:        pool,
		tablePrefix: "modelrouter_",
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) budgetTable() string      { return s.tablePrefix + "budget" }
func (s *Store) holdsTable() string       { return s.tablePrefix + "holds" }
func (s *Store) spendTable() string       { return s.tablePrefix + "provider_spend" }
func (s *Store) idempotencyTable() string { return s.tablePrefix + "idempotency" }

// EnsureSchema creates the required tables if they don't exist. The budget
// row starts with a zero ceiling.
func (s *Store) EnsureSchema(ctx context.Context) error {
	q := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %[1]s (
			id SMALLINT PRIMARY KEY CHECK (id = 1),
			total BIGINT NOT NULL DEFAULT 0,
			period TEXT NOT NULL DEFAULT 'monthly',
			period_start TIMESTAMPTZ NOT NULL,
			spent BIGINT NOT NULL DEFAULT 0,
			reserved BIGINT NOT NULL DEFAULT 0
		);
		CREATE TABLE IF NOT EXISTS %[2]s (
			id TEXT PRIMARY KEY,
			provider TEXT NOT NULL,
			amount BIGINT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE TABLE IF NOT EXISTS %[3]s (
			provider TEXT PRIMARY KEY,
			spent BIGINT NOT NULL DEFAULT 0
		);
		CREATE TABLE IF NOT EXISTS %[4]s (
			key TEXT PRIMARY KEY,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
	`, s.budgetTable(), s.holdsTable(), s.spendTable(), s.idempotencyTable())
	if _, err := s.pool.Exec(ctx, q); err != nil {
		return fmt.Errorf("modelrouter/postgres: ensure schema: %w", err)
	}

	now := s.now().UTC()
	_, err := s.pool.Exec(ctx,
		fmt.Sprintf(`INSERT INTO %s (id, period_start) VALUES (1, $1) ON CONFLICT (id) DO NOTHING`, s.budgetTable()),
		mr.PeriodMonthly.Start(now),
	)
	if err != nil {
		return fmt.Errorf("modelrouter/postgres: seed budget: %w", err)
	}
	return nil
}

type budgetRow struct {
	total       int64
	period      mr.Period
	periodStart time.Time
	spent       int64
	reserved    int64
}

// lockBudget locks the budget row for the rest of tx and applies a lazy
// period rollover. Outstanding holds carry over.
func (s *Store) lockBudget(ctx context.Context, tx pgx.Tx, now time.Time) (budgetRow, error) {
	var b budgetRow
	var period string
	err := tx.QueryRow(ctx,
		fmt.Sprintf(`SELECT total, period, period_start, spent, reserved FROM %s WHERE id = 1 FOR UPDATE`, s.budgetTable()),
	).Scan(&b.total, &period, &b.periodStart, &b.spent, &b.reserved)
	if errors.Is(err, pgx.ErrNoRows) {
		return budgetRow{}, fmt.Errorf("modelrouter/postgres: schema not initialized")
	}
	if err != nil {
		return budgetRow{}, fmt.Errorf("modelrouter/postgres: lock budget: %w", err)
	}
	b.period = mr.Period(period)

	start := b.period.Start(now)
	if b.periodStart.Equal(start) {
		return b, nil
	}

	_, err = tx.Exec(ctx,
		fmt.Sprintf(`UPDATE %s SET spent = 0, period_start = $1 WHERE id = 1`, s.budgetTable()),
		start,
	)
	if err != nil {
		return budgetRow{}, fmt.Errorf("modelrouter/postgres: rollover: %w", err)
	}
	if _, err := tx.Exec(ctx, fmt.Sprintf(`DELETE FROM %s`, s.spendTable())); err != nil {
		return budgetRow{}, fmt.Errorf("modelrouter/postgres: rollover: %w", err)
	}
	if _, err := tx.Exec(ctx, fmt.Sprintf(`DELETE FROM %s`, s.idempotencyTable())); err != nil {
		return budgetRow{}, fmt.Errorf("modelrouter/postgres: rollover: %w", err)
	}

	b.periodStart = start
	b.spent = 0
	return b, nil
}

// Reserve holds amount if the budget allows it.
func (s *Store) Reserve(ctx context.Context, provider string, amount mr.Micros, idempotencyKey string) (mr.Reservation, error) {
	if amount < 0 {
		return mr.Reservation{}, fmt.Errorf("modelrouter/postgres: negative reservation")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return mr.Reservation{}, fmt.Errorf("modelrouter/postgres: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	now := s.now().UTC()
	b, err := s.lockBudget(ctx, tx, now)
	if err != nil {
		return mr.Reservation{}, err
	}

	if idempotencyKey != "" {
		var inserted bool
		err = tx.QueryRow(ctx,
			fmt.Sprintf(`INSERT INTO %s (key) VALUES ($1) ON CONFLICT DO NOTHING RETURNING true`, s.idempotencyTable()),
			idempotencyKey,
		).Scan(&inserted)
		if errors.Is(err, pgx.ErrNoRows) {
			return mr.Reservation{}, fmt.Errorf("modelrouter: duplicate idempotency key %q", idempotencyKey)
		}
		if err != nil {
			return mr.Reservation{}, fmt.Errorf("modelrouter/postgres: idem check: %w", err)
		}
	}

	// Returning here rolls back the idempotency insert as well.
	if amount > 0 && int64(amount) > b.total-b.spent-b.reserved {
		return mr.Reservation{}, mr.ErrBudgetExceeded
	}

	res := mr.Reservation{
		ID:       uuid.New().String(),
		Provider: provider,
		Amount:   amount,
	}
	_, err = tx.Exec(ctx,
		fmt.Sprintf(`INSERT INTO %s (id, provider, amount, created_at) VALUES ($1, $2, $3, $4)`, s.holdsTable()),
		res.ID, provider, int64(amount), now,
	)
	if err != nil {
		return mr.Reservation{}, fmt.Errorf("modelrouter/postgres: insert hold: %w", err)
	}
	_, err = tx.Exec(ctx,
		fmt.Sprintf(`UPDATE %s SET reserved = reserved + $1 WHERE id = 1`, s.budgetTable()),
		int64(amount),
	)
	if err != nil {
		return mr.Reservation{}, fmt.Errorf("modelrouter/postgres: reserve: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return mr.Reservation{}, fmt.Errorf("modelrouter/postgres: commit: %w", err)
	}
	return res, nil
}

// Commit releases the hold and charges min(actual, held).
func (s *Store) Commit(ctx context.Context, res mr.Reservation, actual mr.Micros) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("modelrouter/postgres: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := s.lockBudget(ctx, tx, s.now().UTC()); err != nil {
		return err
	}

	held, provider, err := s.releaseHold(ctx, tx, res.ID)
	if err != nil {
		return err
	}

	charge := int64(actual)
	if charge > held {
		charge = held
	}
	if charge < 0 {
		charge = 0
	}

	_, err = tx.Exec(ctx,
		fmt.Sprintf(`UPDATE %s SET reserved = reserved - $1, spent = spent + $2 WHERE id = 1`, s.budgetTable()),
		held, charge,
	)
	if err != nil {
		return fmt.Errorf("modelrouter/postgres: commit: %w", err)
	}
	if charge > 0 {
		_, err = tx.Exec(ctx,
			fmt.Sprintf(`INSERT INTO %s (provider, spent) VALUES ($1, $2)
				ON CONFLICT (provider) DO UPDATE SET spent = %[1]s.spent + EXCLUDED.spent`, s.spendTable()),
			provider, charge,
		)
		if err != nil {
			return fmt.Errorf("modelrouter/postgres: provider spend: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("modelrouter/postgres: commit: %w", err)
	}
	return nil
}

// Rollback releases a reservation that was not used.
func (s *Store) Rollback(ctx context.Context, res mr.Reservation) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("modelrouter/postgres: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	held, _, err := s.releaseHold(ctx, tx, res.ID)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx,
		fmt.Sprintf(`UPDATE %s SET reserved = reserved - $1 WHERE id = 1`, s.budgetTable()),
		held,
	)
	if err != nil {
		return fmt.Errorf("modelrouter/postgres: rollback: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("modelrouter/postgres: commit: %w", err)
	}
	return nil
}

func (s *Store) releaseHold(ctx context.Context, tx pgx.Tx, id string) (int64, string, error) {
	var held int64
	var provider string
	err := tx.QueryRow(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE id = $1 RETURNING amount, provider`, s.holdsTable()),
		id,
	).Scan(&held, &provider)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, "", fmt.Errorf("modelrouter/postgres: unknown reservation %q", id)
	}
	if err != nil {
		return 0, "", fmt.Errorf("modelrouter/postgres: release hold: %w", err)
	}
	return held, provider, nil
}

// Status returns a snapshot of the shared ledger.
func (s *Store) Status(ctx context.Context) (mr.BudgetStatus, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return mr.BudgetStatus{}, fmt.Errorf("modelrouter/postgres: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	now := s.now().UTC()
	b, err := s.lockBudget(ctx, tx, now)
	if err != nil {
		return mr.BudgetStatus{}, err
	}

	rows, err := tx.Query(ctx, fmt.Sprintf(`SELECT provider, spent FROM %s`, s.spendTable()))
	if err != nil {
		return mr.BudgetStatus{}, fmt.Errorf("modelrouter/postgres: provider spend: %w", err)
	}
	byProvider := make(map[string]mr.Micros)
	for rows.Next() {
		var provider string
		var spent int64
		if err := rows.Scan(&provider, &spent); err != nil {
			rows.Close()
			return mr.BudgetStatus{}, fmt.Errorf("modelrouter/postgres: scan spend: %w", err)
		}
		byProvider[provider] = mr.Micros(spent)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return mr.BudgetStatus{}, fmt.Errorf("modelrouter/postgres: provider spend: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return mr.BudgetStatus{}, fmt.Errorf("modelrouter/postgres: commit: %w", err)
	}
	return mr.NewBudgetStatus(mr.Micros(b.total), mr.Micros(b.spent), mr.Micros(b.reserved), byProvider, b.period, now), nil
}

// SetBudget sets the ceiling and period. Spend and holds are preserved.
func (s *Store) SetBudget(ctx context.Context, total mr.Micros, period mr.Period) error {
	if total < 0 {
		return fmt.Errorf("modelrouter/postgres: negative budget")
	}
	if period == "" {
		period = mr.PeriodMonthly
	}

	_, err := s.pool.Exec(ctx,
		fmt.Sprintf(`INSERT INTO %s (id, total, period, period_start) VALUES (1, $1, $2, $3)
			ON CONFLICT (id) DO UPDATE SET total = $1, period = $2,
				period_start = CASE WHEN %[1]s.period = $2 THEN %[1]s.period_start ELSE $3 END`, s.budgetTable()),
		int64(total), string(period), period.Start(s.now().UTC()),
	)
	if err != nil {
		return fmt.Errorf("modelrouter/postgres: set budget: %w", err)
	}
	return nil
}

// ReleaseStaleHolds rolls back holds older than olderThan. Holds are
// normally settled by the dispatcher; this reclaims funds left behind by a
// crashed process.
func (s *Store) ReleaseStaleHolds(ctx context.Context, olderThan time.Duration) (int64, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("modelrouter/postgres: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	now := s.now().UTC()
	if _, err := s.lockBudget(ctx, tx, now); err != nil {
		return 0, err
	}

	var count, released int64
	err = tx.QueryRow(ctx,
		fmt.Sprintf(`WITH gone AS (DELETE FROM %s WHERE created_at < $1 RETURNING amount)
			SELECT count(*), COALESCE(sum(amount), 0) FROM gone`, s.holdsTable()),
		now.Add(-olderThan),
	).Scan(&count, &released)
	if err != nil {
		return 0, fmt.Errorf("modelrouter/postgres: release stale holds: %w", err)
	}
	_, err = tx.Exec(ctx,
		fmt.Sprintf(`UPDATE %s SET reserved = reserved - $1 WHERE id = 1`, s.budgetTable()),
		released,
	)
	if err != nil {
		return 0, fmt.Errorf("modelrouter/postgres: release stale holds: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("modelrouter/postgres: commit: %w", err)
	}
	return count, nil
}
