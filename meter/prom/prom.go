// Package prom exports routing events as Prometheus metrics.
package prom

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	mr "github.com/ineyio/modelrouter"
)

// Meter records provider calls, spend and latency.
type Meter struct {
	routes    *prometheus.CounterVec
	calls     *prometheus.CounterVec
	tokens    *prometheus.CounterVec
	cost      *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	remaining prometheus.Gauge
}

var _ mr.Meter = (*Meter)(nil)

// New registers the router metrics on reg under namespace (default "modelrouter").
func New(reg prometheus.Registerer, namespace string) *Meter {
	if namespace == "" {
		namespace = "modelrouter"
	}
	f := promauto.With(reg)

	return &Meter{
		routes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "routes_total",
			Help:      "Provider calls started, by stage of the fallback chain.",
		}, []string{"provider", "model", "stage"}),
		calls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calls_total",
			Help:      "Provider calls finished.",
		}, []string{"provider", "model", "status"}),
		tokens: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_total",
			Help:      "Tokens reported by providers.",
		}, []string{"provider", "model", "type"}), // type: prompt/completion
		cost: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cost_usd_total",
			Help:      "Amount charged to the budget ledger in USD.",
		}, []string{"provider", "model"}),
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "call_duration_seconds",
			Help:      "Provider call latency.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~1min
		}, []string{"provider", "model"}),
		remaining: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "budget_remaining_usd",
			Help:      "Budget left in the current period after the last successful call.",
		}),
	}
}

func (m *Meter) OnRoute(e mr.RouteEvent) {
	stage := "primary"
	switch {
	case e.Fallback && e.Free:
		stage = "free_fallback"
	case e.Fallback:
		stage = "paid_fallback"
	}
	m.routes.WithLabelValues(e.Provider, e.Model, stage).Inc()
}

func (m *Meter) OnResult(e mr.ResultEvent) {
	m.duration.WithLabelValues(e.Provider, e.Model).Observe(e.Duration.Seconds())
	if !e.Success {
		m.calls.WithLabelValues(e.Provider, e.Model, "error").Inc()
		return
	}
	m.calls.WithLabelValues(e.Provider, e.Model, "ok").Inc()
	m.tokens.WithLabelValues(e.Provider, e.Model, "prompt").Add(float64(e.Usage.PromptTokens))
	m.tokens.WithLabelValues(e.Provider, e.Model, "completion").Add(float64(e.Usage.CompletionTokens))
	m.cost.WithLabelValues(e.Provider, e.Model).Add(e.Cost.Dollars())
	m.remaining.Set(e.BudgetRemaining.Dollars())
}
