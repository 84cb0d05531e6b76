package modelrouter

import "time"

// Meter observes routing events for monitoring/logging.
type Meter interface {
	// OnRoute is called before each provider call, including fallbacks.
	OnRoute(event RouteEvent)

	// OnResult is called when a provider call finishes.
	OnResult(event ResultEvent)
}

// RouteEvent describes a routing decision.
type RouteEvent struct {
	RequestID     string
	Provider      string
	Model         string
	TaskType      TaskType
	Free          bool
	Fallback      bool
	AttemptNum    int
	EstimatedCost Micros
}

// ResultEvent describes the outcome of a provider call.
type ResultEvent struct {
	RequestID       string
	Provider        string
	Model           string
	Free            bool
	Success         bool
	Duration        time.Duration
	Usage           Usage
	Cost            Micros // charged amount, zero on failure
	BudgetRemaining Micros
	Error           error
}
