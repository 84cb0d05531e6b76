package meter

import mr "github.com/ineyio/modelrouter"

// NoopMeter is a meter that does nothing.
type NoopMeter struct{}

var _ mr.Meter = (*NoopMeter)(nil)

func (m *NoopMeter) OnRoute(mr.RouteEvent)   {}
func (m *NoopMeter) OnResult(mr.ResultEvent) {}
