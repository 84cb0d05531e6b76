package mock

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	mr "github.com/ineyio/modelrouter"
)

// Provider is a mock LLM provider for testing.
type Provider struct {
	name         string
	latency      time.Duration
	failAfter    int
	callCount    atomic.Int64
	staticErr    error
	modelErrs    map[string]error
	usage        mr.Usage
	responseFunc func(mr.ProviderRequest) (mr.ProviderResponse, error)

	mu    sync.Mutex
	calls []mr.ProviderRequest
}

var _ mr.Provider = (*Provider)(nil)

// Option configures a mock Provider.
type Option func(*Provider)

// New creates a mock provider with the given options.
func New(opts ...Option) *Provider {
	p := &Provider{
		name:      "mock",
		modelErrs: make(map[string]error),
		usage: mr.Usage{
			PromptTokens:     10,
			CompletionTokens: 20,
			TotalTokens:      30,
		},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// WithName sets the provider name.
func WithName(name string) Option {
	return func(p *Provider) { p.name = name }
}

// WithLatency adds simulated latency to each call. The call honours ctx.
func WithLatency(d time.Duration) Option {
	return func(p *Provider) { p.latency = d }
}

// WithFailAfter makes the provider fail after N successful calls.
func WithFailAfter(n int) Option {
	return func(p *Provider) { p.failAfter = n }
}

// WithError makes the provider always return this error.
func WithError(err error) Option {
	return func(p *Provider) { p.staticErr = err }
}

// WithModelError makes calls to one model return err.
func WithModelError(model string, err error) Option {
	return func(p *Provider) { p.modelErrs[model] = err }
}

// WithUsage sets the usage returned by the mock.
func WithUsage(u mr.Usage) Option {
	return func(p *Provider) { p.usage = u }
}

// WithResponseFunc sets a custom response function.
func WithResponseFunc(fn func(mr.ProviderRequest) (mr.ProviderResponse, error)) Option {
	return func(p *Provider) { p.responseFunc = fn }
}

func (p *Provider) Name() string { return p.name }

func (p *Provider) Invoke(ctx context.Context, req mr.ProviderRequest) (mr.ProviderResponse, error) {
	count := p.callCount.Add(1)

	p.mu.Lock()
	p.calls = append(p.calls, req)
	p.mu.Unlock()

	if p.latency > 0 {
		select {
		case <-time.After(p.latency):
		case <-ctx.Done():
			return mr.ProviderResponse{}, ctx.Err()
		}
	}

	if p.staticErr != nil {
		return mr.ProviderResponse{}, p.staticErr
	}
	if err, ok := p.modelErrs[req.Model]; ok {
		return mr.ProviderResponse{}, err
	}

	if p.failAfter > 0 && int(count) > p.failAfter {
		return mr.ProviderResponse{}, mr.ErrProviderUnavailable
	}

	if p.responseFunc != nil {
		return p.responseFunc(req)
	}

	return mr.ProviderResponse{
		ID:           fmt.Sprintf("mock-%d", count),
		Content:      fmt.Sprintf("%s/%s: %s", p.name, req.Model, req.Prompt),
		FinishReason: "stop",
		Usage:        p.usage,
		Model:        req.Model,
	}, nil
}

// CallCount returns the number of calls made to the provider.
func (p *Provider) CallCount() int64 { return p.callCount.Load() }

// Calls returns the requests received so far, in order.
func (p *Provider) Calls() []mr.ProviderRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]mr.ProviderRequest, len(p.calls))
	copy(out, p.calls)
	return out
}
