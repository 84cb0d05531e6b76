package modelrouter

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// LedgerStore manages the spend ledger for one billing period.
// Reserve is an atomic check-and-hold: it fails with ErrBudgetExceeded when
// amount exceeds Total - Spent - Reserved, so concurrent dispatches can never
// jointly overspend.
type LedgerStore interface {
	// Reserve holds amount for an in-flight call.
	Reserve(ctx context.Context, provider string, amount Micros, idempotencyKey string) (Reservation, error)

	// Commit releases the hold and charges actual (clamped to the reserved amount).
	Commit(ctx context.Context, res Reservation, actual Micros) error

	// Rollback releases the hold without charging.
	Rollback(ctx context.Context, res Reservation) error

	// Status returns a snapshot of the ledger.
	Status(ctx context.Context) (BudgetStatus, error)
}

// LedgerInitializer is implemented by stores that accept their ceiling from
// the router config. NewRouter calls SetBudget when the store supports it.
type LedgerInitializer interface {
	SetBudget(ctx context.Context, total Micros, period Period) error
}

// Reservation represents funds held for one provider call.
type Reservation struct {
	ID       string
	Provider string
	Amount   Micros
}

// BudgetStatus is a read-only ledger snapshot.
// Spent + Remaining == Total; Available = Remaining - Reserved.
type BudgetStatus struct {
	Total       Micros
	Spent       Micros
	Reserved    Micros
	Remaining   Micros
	Available   Micros
	ByProvider  map[string]Micros
	Period      Period
	PeriodStart time.Time
	ResetAt     time.Time
}

// NewBudgetStatus derives Remaining and Available from the stored counters.
func NewBudgetStatus(total, spent, reserved Micros, byProvider map[string]Micros, period Period, now time.Time) BudgetStatus {
	remaining := total - spent
	if remaining < 0 {
		remaining = 0
	}
	available := remaining - reserved
	if available < 0 {
		available = 0
	}
	if byProvider == nil {
		byProvider = make(map[string]Micros)
	}
	return BudgetStatus{
		Total:       total,
		Spent:       spent,
		Reserved:    reserved,
		Remaining:   remaining,
		Available:   available,
		ByProvider:  byProvider,
		Period:      period,
		PeriodStart: period.Start(now),
		ResetAt:     period.Next(now),
	}
}

// Ledger is the in-memory LedgerStore. All operations take one mutex.
type Ledger struct {
	mu          sync.Mutex
	total       Micros
	period      Period
	spent       Micros
	reserved    Micros
	byProvider  map[string]Micros
	holds       map[string]Reservation
	seen        map[string]bool // idempotency keys for the current period
	periodStart time.Time
	now         func() time.Time
}

var (
	_ LedgerStore       = (*Ledger)(nil)
	_ LedgerInitializer = (*Ledger)(nil)
)

// LedgerOption configures a Ledger.
type LedgerOption func(*Ledger)

// WithClock sets the time source used for period rollover.
func WithClock(now func() time.Time) LedgerOption {
	return func(l *Ledger) { l.now = now }
}

// NewLedger creates an in-memory ledger with the given ceiling.
func NewLedger(total Micros, period Period, opts ...LedgerOption) *Ledger {
	if period == "" {
		period = PeriodMonthly
	}
	l := &Ledger{
		total:      total,
		period:     period,
		byProvider: make(map[string]Micros),
		holds:      make(map[string]Reservation),
		seen:       make(map[string]bool),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	l.periodStart = period.Start(l.now())
	return l
}

// SetBudget replaces the ceiling and period. Spend is preserved.
func (l *Ledger) SetBudget(_ context.Context, total Micros, period Period) error {
	if total < 0 {
		return fmt.Errorf("modelrouter: ledger: negative budget")
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	l.total = total
	if period != "" && period != l.period {
		l.period = period
		l.periodStart = period.Start(l.now())
	}
	return nil
}

func (l *Ledger) Reserve(_ context.Context, provider string, amount Micros, idempotencyKey string) (Reservation, error) {
	if amount < 0 {
		return Reservation{}, fmt.Errorf("modelrouter: ledger: negative reservation")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.maybeReset()

	if idempotencyKey != "" && l.seen[idempotencyKey] {
		return Reservation{}, fmt.Errorf("modelrouter: duplicate idempotency key %q", idempotencyKey)
	}

	// Zero-cost holds always succeed, even when spend exceeds a lowered ceiling.
	if amount > 0 && amount > l.total-l.spent-l.reserved {
		return Reservation{}, ErrBudgetExceeded
	}

	if idempotencyKey != "" {
		l.seen[idempotencyKey] = true
	}

	res := Reservation{
		ID:       uuid.New().String(),
		Provider: provider,
		Amount:   amount,
	}
	l.reserved += amount
	l.holds[res.ID] = res
	return res, nil
}

func (l *Ledger) Commit(_ context.Context, res Reservation, actual Micros) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.maybeReset()

	held, ok := l.holds[res.ID]
	if !ok {
		return fmt.Errorf("modelrouter: ledger: unknown reservation %q", res.ID)
	}
	delete(l.holds, res.ID)

	if actual > held.Amount {
		actual = held.Amount
	}
	if actual < 0 {
		actual = 0
	}

	l.reserved -= held.Amount
	l.spent += actual
	if actual > 0 {
		l.byProvider[held.Provider] += actual
	}
	return nil
}

func (l *Ledger) Rollback(_ context.Context, res Reservation) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	held, ok := l.holds[res.ID]
	if !ok {
		return fmt.Errorf("modelrouter: ledger: unknown reservation %q", res.ID)
	}
	delete(l.holds, res.ID)
	l.reserved -= held.Amount
	return nil
}

func (l *Ledger) Status(_ context.Context) (BudgetStatus, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.maybeReset()

	byProvider := make(map[string]Micros, len(l.byProvider))
	for p, v := range l.byProvider {
		byProvider[p] = v
	}
	return NewBudgetStatus(l.total, l.spent, l.reserved, byProvider, l.period, l.now()), nil
}

// maybeReset zeroes spend at period rollover. In-flight holds carry over
// into the new period. Must be called with lock held.
func (l *Ledger) maybeReset() {
	start := l.period.Start(l.now())
	if start.Equal(l.periodStart) {
		return
	}
	l.periodStart = start
	l.spent = 0
	l.byProvider = make(map[string]Micros)
	l.seen = make(map[string]bool)
}
