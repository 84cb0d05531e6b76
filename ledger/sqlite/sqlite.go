// Package sqlite provides a single-file LedgerStore for modelrouter, suited
// to CLI use and single-host deployments where spend must survive restarts.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	mr "github.com/ineyio/modelrouter"
)

// Store is a SQLite-backed LedgerStore.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

var (
	_ mr.LedgerStore       = (*Store)(nil)
	_ mr.LedgerInitializer = (*Store)(nil)
)

// Option configures Store.
type Option func(*Store)

// WithClock sets the time source used for period rollover.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

const schema = `
CREATE TABLE IF NOT EXISTS budget (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	total INTEGER NOT NULL DEFAULT 0,
	period TEXT NOT NULL DEFAULT 'monthly',
	period_start INTEGER NOT NULL,
	spent INTEGER NOT NULL DEFAULT 0,
	reserved INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS holds (
	id TEXT PRIMARY KEY,
	provider TEXT NOT NULL,
	amount INTEGER NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS provider_spend (
	provider TEXT PRIMARY KEY,
	spent INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS idempotency (
	key TEXT PRIMARY KEY
);
`

// Open opens (creating if needed) the ledger database at path.
func Open(path string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open ledger db: %w", err)
	}
	// SQLite allows one writer; every ledger operation writes.
	db.SetMaxOpenConns(1)

	s, err := New(db, opts...)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an open database and runs the migration.
func New(db *sql.DB, opts ...Option) (*Store, error) {
	s := &Store{db: db, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}

	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("migrate ledger db: %w", err)
	}
	_, err := db.Exec(`INSERT INTO budget (id, period_start) VALUES (1, ?) ON CONFLICT(id) DO NOTHING`,
		mr.PeriodMonthly.Start(s.now()).Unix())
	if err != nil {
		return nil, fmt.Errorf("seed budget: %w", err)
	}
	return s, nil
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}

type budgetRow struct {
	total    int64
	period   mr.Period
	spent    int64
	reserved int64
}

// load reads the budget row inside tx and applies a lazy period rollover.
// Outstanding holds carry over.
func (s *Store) load(ctx context.Context, tx *sql.Tx, now time.Time) (budgetRow, error) {
	var b budgetRow
	var period string
	var periodStart int64
	err := tx.QueryRowContext(ctx,
		`SELECT total, period, period_start, spent, reserved FROM budget WHERE id = 1`,
	).Scan(&b.total, &period, &periodStart, &b.spent, &b.reserved)
	if err != nil {
		return budgetRow{}, fmt.Errorf("read budget: %w", err)
	}
	b.period = mr.Period(period)

	start := b.period.Start(now).Unix()
	if start == periodStart {
		return b, nil
	}

	if _, err := tx.ExecContext(ctx, `UPDATE budget SET spent = 0, period_start = ? WHERE id = 1`, start); err != nil {
		return budgetRow{}, fmt.Errorf("rollover: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM provider_spend`); err != nil {
		return budgetRow{}, fmt.Errorf("rollover: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM idempotency`); err != nil {
		return budgetRow{}, fmt.Errorf("rollover: %w", err)
	}
	b.spent = 0
	return b, nil
}

func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Reserve holds amount if the budget allows it.
func (s *Store) Reserve(ctx context.Context, provider string, amount mr.Micros, idempotencyKey string) (mr.Reservation, error) {
	if amount < 0 {
		return mr.Reservation{}, fmt.Errorf("modelrouter/sqlite: negative reservation")
	}

	res := mr.Reservation{
		ID:       uuid.New().String(),
		Provider: provider,
		Amount:   amount,
	}
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		now := s.now()
		b, err := s.load(ctx, tx, now)
		if err != nil {
			return err
		}

		if idempotencyKey != "" {
			r, err := tx.ExecContext(ctx, `INSERT INTO idempotency (key) VALUES (?) ON CONFLICT(key) DO NOTHING`, idempotencyKey)
			if err != nil {
				return fmt.Errorf("idem check: %w", err)
			}
			if n, _ := r.RowsAffected(); n == 0 {
				return fmt.Errorf("modelrouter: duplicate idempotency key %q", idempotencyKey)
			}
		}

		if amount > 0 && int64(amount) > b.total-b.spent-b.reserved {
			return mr.ErrBudgetExceeded
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO holds (id, provider, amount, created_at) VALUES (?, ?, ?, ?)`,
			res.ID, provider, int64(amount), now.Unix(),
		); err != nil {
			return fmt.Errorf("insert hold: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `UPDATE budget SET reserved = reserved + ? WHERE id = 1`, int64(amount)); err != nil {
			return fmt.Errorf("reserve: %w", err)
		}
		return nil
	})
	if err != nil {
		return mr.Reservation{}, err
	}
	return res, nil
}

// Commit releases the hold and charges min(actual, held).
func (s *Store) Commit(ctx context.Context, res mr.Reservation, actual mr.Micros) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := s.load(ctx, tx, s.now()); err != nil {
			return err
		}
		held, provider, err := releaseHold(ctx, tx, res.ID)
		if err != nil {
			return err
		}

		charge := min(max(int64(actual), 0), held)
		if _, err := tx.ExecContext(ctx,
			`UPDATE budget SET reserved = reserved - ?, spent = spent + ? WHERE id = 1`, held, charge,
		); err != nil {
			return fmt.Errorf("commit: %w", err)
		}
		if charge == 0 {
			return nil
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO provider_spend (provider, spent) VALUES (?, ?)
			 ON CONFLICT(provider) DO UPDATE SET spent = spent + excluded.spent`, provider, charge,
		); err != nil {
			return fmt.Errorf("provider spend: %w", err)
		}
		return nil
	})
}

// Rollback releases a reservation that was not used.
func (s *Store) Rollback(ctx context.Context, res mr.Reservation) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		held, _, err := releaseHold(ctx, tx, res.ID)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `UPDATE budget SET reserved = reserved - ? WHERE id = 1`, held); err != nil {
			return fmt.Errorf("rollback: %w", err)
		}
		return nil
	})
}

func releaseHold(ctx context.Context, tx *sql.Tx, id string) (int64, string, error) {
	var held int64
	var provider string
	err := tx.QueryRowContext(ctx, `SELECT amount, provider FROM holds WHERE id = ?`, id).Scan(&held, &provider)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, "", fmt.Errorf("modelrouter/sqlite: unknown reservation %q", id)
	}
	if err != nil {
		return 0, "", fmt.Errorf("read hold: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM holds WHERE id = ?`, id); err != nil {
		return 0, "", fmt.Errorf("delete hold: %w", err)
	}
	return held, provider, nil
}

// Status returns a snapshot of the ledger.
func (s *Store) Status(ctx context.Context) (mr.BudgetStatus, error) {
	var st mr.BudgetStatus
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		now := s.now()
		b, err := s.load(ctx, tx, now)
		if err != nil {
			return err
		}

		rows, err := tx.QueryContext(ctx, `SELECT provider, spent FROM provider_spend`)
		if err != nil {
			return fmt.Errorf("provider spend: %w", err)
		}
		defer rows.Close()

		byProvider := make(map[string]mr.Micros)
		for rows.Next() {
			var provider string
			var spent int64
			if err := rows.Scan(&provider, &spent); err != nil {
				return fmt.Errorf("scan spend: %w", err)
			}
			byProvider[provider] = mr.Micros(spent)
		}
		if err := rows.Err(); err != nil {
			return err
		}

		st = mr.NewBudgetStatus(mr.Micros(b.total), mr.Micros(b.spent), mr.Micros(b.reserved), byProvider, b.period, now)
		return nil
	})
	return st, err
}

// SetBudget sets the ceiling and period. Spend and holds are preserved.
func (s *Store) SetBudget(ctx context.Context, total mr.Micros, period mr.Period) error {
	if total < 0 {
		return fmt.Errorf("modelrouter/sqlite: negative budget")
	}
	if period == "" {
		period = mr.PeriodMonthly
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE budget SET total = ?,
			period_start = CASE WHEN period = ? THEN period_start ELSE ? END,
			period = ?
		 WHERE id = 1`,
		int64(total), string(period), period.Start(s.now()).Unix(), string(period),
	)
	if err != nil {
		return fmt.Errorf("set budget: %w", err)
	}
	return nil
}
