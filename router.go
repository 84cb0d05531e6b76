package modelrouter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Router selects a model for each task, dispatches it to the model's
// provider and charges the ledger. It is safe for concurrent use.
type Router struct {
	cfg       Config
	catalog   *Catalog
	providers map[string]Provider
	auth      map[string]Auth
	selector  *Selector
	ledger    LedgerStore
	meter     Meter
	health    *HealthTracker
	policies  map[CostPreference]Policy
	estimate  TokenEstimator
}

// Option configures a Router.
type Option func(*Router)

// WithPolicy overrides the policy used for one cost preference.
func WithPolicy(pref CostPreference, p Policy) Option {
	return func(r *Router) { r.policies[pref] = p }
}

// WithLedger sets the ledger store. Stores implementing LedgerInitializer
// receive the configured budget.
func WithLedger(l LedgerStore) Option {
	return func(r *Router) { r.ledger = l }
}

// WithMeter sets the meter.
func WithMeter(m Meter) Option {
	return func(r *Router) { r.meter = m }
}

// WithHealthTracker sets the health tracker.
func WithHealthTracker(h *HealthTracker) Option {
	return func(r *Router) { r.health = h }
}

// WithTokenEstimator replaces the prompt token estimator used for context window checks.
func WithTokenEstimator(e TokenEstimator) Option {
	return func(r *Router) { r.estimate = e }
}

// NewRouter creates a new Router with the given config and providers.
// Providers without a usable account are kept out of routing rather than
// failing construction. An in-memory Ledger sized from cfg.Budget is used
// unless overridden via WithLedger.
func NewRouter(cfg Config, providers []Provider, opts ...Option) (*Router, error) {
	if len(providers) == 0 {
		return nil, fmt.Errorf("modelrouter: at least one provider is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()

	catalog, err := NewCatalog(cfg.Models)
	if err != nil {
		return nil, err
	}

	provMap := make(map[string]Provider, len(providers))
	for _, p := range providers {
		provMap[p.Name()] = p
	}

	r := &Router{
		cfg:       cfg,
		catalog:   catalog,
		providers: provMap,
		auth:      make(map[string]Auth, len(cfg.Accounts)),
		health:    NewHealthTracker(),
		policies: map[CostPreference]Policy{
			CostOptimized: CostOptimizedPolicy{},
			QualityFirst:  QualityFirstPolicy{},
			Balanced:      BalancedPolicy{Scoring: cfg.Scoring},
		},
		estimate: EstimateTokens,
	}

	for _, opt := range opts {
		opt(r)
	}

	// Apply defaults after options.
	if r.meter == nil {
		r.meter = &noopMeter{}
	}
	budget := Dollars(cfg.Budget.Total)
	if r.ledger == nil {
		r.ledger = NewLedger(budget, cfg.Budget.Period)
	} else if init, ok := r.ledger.(LedgerInitializer); ok {
		if err := init.SetBudget(context.Background(), budget, cfg.Budget.Period); err != nil {
			return nil, fmt.Errorf("modelrouter: init ledger: %w", err)
		}
	}

	usable := make(map[string]bool, len(cfg.Accounts))
	for _, acc := range cfg.Accounts {
		if _, ok := provMap[acc.Provider]; !ok || !acc.usable() {
			continue
		}
		usable[acc.Provider] = true
		r.auth[acc.Provider] = acc.Auth
	}

	r.selector = &Selector{
		catalog:          catalog,
		policies:         r.policies,
		usable:           usable,
		health:           r.health,
		estimate:         r.estimate,
		defaultMaxTokens: cfg.DefaultMaxTokens,
		freeModel:        cfg.FreeModel,
	}

	return r, nil
}

// Catalog returns the router's model catalog.
func (r *Router) Catalog() *Catalog { return r.catalog }

// BudgetStatus returns a snapshot of the ledger.
func (r *Router) BudgetStatus(ctx context.Context) (BudgetStatus, error) {
	return r.ledger.Status(ctx)
}

// Select reports which model RouteTask would try first, without reserving
// funds or calling a provider.
func (r *Router) Select(ctx context.Context, req TaskRequest) (ModelDescriptor, error) {
	status, err := r.ledger.Status(ctx)
	if err != nil {
		return ModelDescriptor{}, fmt.Errorf("modelrouter: ledger status: %w", err)
	}
	return r.selector.Select(req, status.Available, nil)
}

type stage int

const (
	stagePrimary stage = iota
	stageFree
	stageCheapest
	stageDone
)

// RouteTask selects a model, invokes it and charges the ledger.
//
// A failed call is never retried on the same model. The fallback chain tries
// the free model, then the cheapest affordable paid model; the number of
// provider calls never exceeds the number of usable providers plus one.
func (r *Router) RouteTask(ctx context.Context, req TaskRequest) (Result, error) {
	req, err := r.selector.normalize(req)
	if err != nil {
		return Result{}, err
	}

	requestID := uuid.New().String()
	maxCalls := r.selector.providerCount() + 1
	attempted := make(map[string]bool)

	var (
		lastErr   error
		lastModel ModelDescriptor
		calls     int
	)

	for st := stagePrimary; st != stageDone && calls < maxCalls; st++ {
		d, res, ok, err := r.pick(ctx, st, req, attempted)
		if err != nil {
			return Result{}, err
		}
		if !ok {
			continue
		}

		attempted[d.Name] = true
		calls++
		lastModel = d

		result, err := r.invoke(ctx, requestID, req, d, res, calls, st != stagePrimary)
		if err == nil {
			return result, nil
		}
		var se *settleError
		if errors.As(err, &se) {
			return Result{}, se.err
		}
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		lastErr = err
	}

	return Result{}, &RouterError{
		Err:      ErrAllProvidersExhausted,
		Cause:    lastErr,
		Provider: lastModel.Provider,
		Model:    lastModel.Name,
		Attempts: calls,
	}
}

// pick chooses the model for one stage of the chain and reserves its cost.
// ok is false when the stage has nothing to offer.
func (r *Router) pick(ctx context.Context, st stage, req TaskRequest, attempted map[string]bool) (ModelDescriptor, Reservation, bool, error) {
	switch st {
	case stagePrimary:
		// A lost reservation race means another dispatch took the funds;
		// reselect against the fresh ledger state.
		for i := 0; i <= len(r.catalog.models); i++ {
			status, err := r.ledger.Status(ctx)
			if err != nil {
				return ModelDescriptor{}, Reservation{}, false, fmt.Errorf("modelrouter: ledger status: %w", err)
			}
			d, err := r.selector.selectNormalized(req, status.Available, attempted)
			if err != nil {
				return ModelDescriptor{}, Reservation{}, false, err
			}
			res, err := r.reserve(ctx, d, req.MaxTokens)
			if errors.Is(err, ErrBudgetExceeded) {
				continue
			}
			if err != nil {
				return ModelDescriptor{}, Reservation{}, false, err
			}
			return d, res, true, nil
		}

		d, ok := r.selector.free(attempted)
		if !ok {
			return ModelDescriptor{}, Reservation{}, false, ErrNoAffordableModel
		}
		res, err := r.reserve(ctx, d, req.MaxTokens)
		if err != nil {
			return ModelDescriptor{}, Reservation{}, false, err
		}
		return d, res, true, nil

	case stageFree:
		d, ok := r.selector.free(attempted)
		if !ok {
			return ModelDescriptor{}, Reservation{}, false, nil
		}
		res, err := r.reserve(ctx, d, req.MaxTokens)
		if err != nil {
			return ModelDescriptor{}, Reservation{}, false, err
		}
		return d, res, true, nil

	case stageCheapest:
		status, err := r.ledger.Status(ctx)
		if err != nil {
			return ModelDescriptor{}, Reservation{}, false, fmt.Errorf("modelrouter: ledger status: %w", err)
		}
		d, ok := r.selector.cheapestPaid(req, status.Available, attempted)
		if !ok {
			return ModelDescriptor{}, Reservation{}, false, nil
		}
		res, err := r.reserve(ctx, d, req.MaxTokens)
		if errors.Is(err, ErrBudgetExceeded) {
			return ModelDescriptor{}, Reservation{}, false, nil
		}
		if err != nil {
			return ModelDescriptor{}, Reservation{}, false, err
		}
		return d, res, true, nil
	}
	return ModelDescriptor{}, Reservation{}, false, nil
}

func (r *Router) reserve(ctx context.Context, d ModelDescriptor, maxTokens int) (Reservation, error) {
	res, err := r.ledger.Reserve(ctx, d.Provider, EstimateCost(d, maxTokens), uuid.New().String())
	if err != nil && !errors.Is(err, ErrBudgetExceeded) {
		return Reservation{}, fmt.Errorf("modelrouter: reserve: %w", err)
	}
	return res, err
}

// invoke performs one provider call and settles its reservation.
func (r *Router) invoke(ctx context.Context, requestID string, req TaskRequest, d ModelDescriptor, res Reservation, attempt int, fallback bool) (Result, error) {
	prov := r.providers[d.Provider]
	// Ledger bookkeeping must survive caller cancellation.
	settleCtx := context.WithoutCancel(ctx)

	r.meter.OnRoute(RouteEvent{
		RequestID:     requestID,
		Provider:      d.Provider,
		Model:         d.Name,
		TaskType:      req.TaskType,
		Free:          d.Free(),
		Fallback:      fallback,
		AttemptNum:    attempt,
		EstimatedCost: res.Amount,
	})

	callCtx, cancel := context.WithTimeout(ctx, r.cfg.CallTimeout)
	start := time.Now()
	resp, err := prov.Invoke(callCtx, ProviderRequest{
		Auth:      r.auth[d.Provider],
		Model:     d.Name,
		Prompt:    req.Prompt,
		MaxTokens: req.MaxTokens,
	})
	duration := time.Since(start)
	if err != nil && ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		err = fmt.Errorf("%w: %s after %s", ErrTimeout, d.Name, r.cfg.CallTimeout)
	}
	cancel()

	if err != nil {
		_ = r.ledger.Rollback(settleCtx, res)
		r.health.RecordFailure(d.Provider)
		r.meter.OnResult(ResultEvent{
			RequestID: requestID,
			Provider:  d.Provider,
			Model:     d.Name,
			Free:      d.Free(),
			Success:   false,
			Duration:  duration,
			Error:     err,
		})
		return Result{}, err
	}

	r.health.RecordSuccess(d.Provider)

	if err := r.ledger.Commit(settleCtx, res, res.Amount); err != nil {
		_ = r.ledger.Rollback(settleCtx, res)
		err = fmt.Errorf("modelrouter: commit spend: %w", err)
		r.meter.OnResult(ResultEvent{
			RequestID: requestID,
			Provider:  d.Provider,
			Model:     d.Name,
			Free:      d.Free(),
			Success:   false,
			Duration:  duration,
			Usage:     resp.Usage,
			Error:     err,
		})
		return Result{}, &settleError{err: err}
	}

	status, err := r.ledger.Status(settleCtx)
	if err != nil {
		return Result{}, &settleError{err: fmt.Errorf("modelrouter: ledger status: %w", err)}
	}

	r.meter.OnResult(ResultEvent{
		RequestID:       requestID,
		Provider:        d.Provider,
		Model:           d.Name,
		Free:            d.Free(),
		Success:         true,
		Duration:        duration,
		Usage:           resp.Usage,
		Cost:            res.Amount,
		BudgetRemaining: status.Remaining,
	})

	return Result{
		ID:              requestID,
		Response:        resp.Content,
		Model:           d.Name,
		Provider:        d.Provider,
		Cost:            res.Amount,
		BudgetRemaining: status.Remaining,
		Attempts:        attempt,
		Free:            d.Free(),
		Usage:           resp.Usage,
	}, nil
}

// settleError is a ledger failure after the provider answered. It ends the
// fallback chain: the call was made, so another dispatch would double-spend.
type settleError struct{ err error }

func (e *settleError) Error() string { return e.err.Error() }
func (e *settleError) Unwrap() error { return e.err }

// noopMeter is a meter that does nothing.
type noopMeter struct{}

func (m *noopMeter) OnRoute(RouteEvent)   {}
func (m *noopMeter) OnResult(ResultEvent) {}
