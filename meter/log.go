package meter

import (
	"log/slog"

	mr "github.com/ineyio/modelrouter"
)

// LogMeter logs routing events using slog.
type LogMeter struct {
	Logger *slog.Logger
}

var _ mr.Meter = (*LogMeter)(nil)

// NewLogMeter creates a LogMeter with the given logger.
// If logger is nil, slog.Default() is used.
func NewLogMeter(logger *slog.Logger) *LogMeter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogMeter{Logger: logger}
}

func (m *LogMeter) OnRoute(e mr.RouteEvent) {
	m.Logger.Info("route",
		"request_id", e.RequestID,
		"provider", e.Provider,
		"model", e.Model,
		"task", e.TaskType,
		"free", e.Free,
		"fallback", e.Fallback,
		"attempt", e.AttemptNum,
		"estimated_cost_usd", e.EstimatedCost.Dollars(),
	)
}

func (m *LogMeter) OnResult(e mr.ResultEvent) {
	if e.Success {
		m.Logger.Info("result",
			"request_id", e.RequestID,
			"provider", e.Provider,
			"model", e.Model,
			"free", e.Free,
			"duration_ms", e.Duration.Milliseconds(),
			"prompt_tokens", e.Usage.PromptTokens,
			"completion_tokens", e.Usage.CompletionTokens,
			"cost_usd", e.Cost.Dollars(),
			"budget_remaining_usd", e.BudgetRemaining.Dollars(),
		)
	} else {
		m.Logger.Warn("result_error",
			"request_id", e.RequestID,
			"provider", e.Provider,
			"model", e.Model,
			"free", e.Free,
			"duration_ms", e.Duration.Milliseconds(),
			"error", e.Error,
		)
	}
}
