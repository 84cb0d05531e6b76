package meter

import (
	"go.uber.org/zap"

	mr "github.com/ineyio/modelrouter"
)

// ZapMeter logs routing events as structured zap entries.
type ZapMeter struct {
	logger *zap.Logger
}

var _ mr.Meter = (*ZapMeter)(nil)

// NewZapMeter creates a ZapMeter. A nil logger disables output.
func NewZapMeter(logger *zap.Logger) *ZapMeter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ZapMeter{logger: logger.Named("router")}
}

func (m *ZapMeter) OnRoute(e mr.RouteEvent) {
	m.logger.Debug("route",
		zap.String("request_id", e.RequestID),
		zap.String("provider", e.Provider),
		zap.String("model", e.Model),
		zap.String("task", string(e.TaskType)),
		zap.Bool("free", e.Free),
		zap.Bool("fallback", e.Fallback),
		zap.Int("attempt", e.AttemptNum),
		zap.Float64("estimated_cost_usd", e.EstimatedCost.Dollars()),
	)
}

func (m *ZapMeter) OnResult(e mr.ResultEvent) {
	fields := []zap.Field{
		zap.String("request_id", e.RequestID),
		zap.String("provider", e.Provider),
		zap.String("model", e.Model),
		zap.Bool("free", e.Free),
		zap.Duration("duration", e.Duration),
	}
	if !e.Success {
		m.logger.Warn("provider call failed", append(fields, zap.Error(e.Error))...)
		return
	}
	m.logger.Info("provider call succeeded", append(fields,
		zap.Int64("prompt_tokens", e.Usage.PromptTokens),
		zap.Int64("completion_tokens", e.Usage.CompletionTokens),
		zap.Float64("cost_usd", e.Cost.Dollars()),
		zap.Float64("budget_remaining_usd", e.BudgetRemaining.Dollars()),
	)...)
}
