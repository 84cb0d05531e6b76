package meter

import mr "github.com/ineyio/modelrouter"

// Multi fans every event out to each meter in order.
type Multi []mr.Meter

var _ mr.Meter = Multi(nil)

func (m Multi) OnRoute(e mr.RouteEvent) {
	for _, mm := range m {
		mm.OnRoute(e)
	}
}

func (m Multi) OnResult(e mr.ResultEvent) {
	for _, mm := range m {
		mm.OnResult(e)
	}
}
