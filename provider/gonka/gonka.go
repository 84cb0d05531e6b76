package gonka

import (
	"context"
	"net/http"
	"time"

	mr "github.com/ineyio/modelrouter"
	"github.com/ineyio/modelrouter/provider/openaicompat"
	"golang.org/x/time/rate"
)

// Provider is the Gonka decentralized compute network adapter: an
// OpenAI-compatible client whose transport signs every request.
//
// The account's Auth.APIKey carries the hex-encoded secp256k1 private key.
// It never leaves the process; nodes receive a signature and the derived
// requester address instead.
type Provider struct {
	inner *openaicompat.Provider
}

var _ mr.Provider = (*Provider)(nil)

// Option configures the Gonka provider.
type Option func(*config)

type config struct {
	name      string
	endpoint  Endpoint
	timeout   time.Duration
	transport http.RoundTripper
	limiter   *rate.Limiter
	now       func() time.Time
}

// WithName sets the provider name (default: "gonka").
func WithName(name string) Option {
	return func(c *config) { c.name = name }
}

// WithEndpoint sets the Gonka node endpoint.
func WithEndpoint(e Endpoint) Option {
	return func(c *config) { c.endpoint = e }
}

// WithTimeout sets the HTTP client timeout. The router's per-call timeout
// applies on top of it.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// WithBaseTransport sets the underlying HTTP transport (before signing).
func WithBaseTransport(rt http.RoundTripper) Option {
	return func(c *config) { c.transport = rt }
}

// WithRateLimiter throttles outgoing calls.
func WithRateLimiter(l *rate.Limiter) Option {
	return func(c *config) { c.limiter = l }
}

func withClock(now func() time.Time) Option {
	return func(c *config) { c.now = now }
}

// New creates a new Gonka provider.
func New(opts ...Option) *Provider {
	cfg := &config{
		name:    "gonka",
		timeout: 120 * time.Second,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	base := cfg.transport
	if base == nil {
		base = http.DefaultTransport
	}
	signing := newSigningTransport(base, cfg.endpoint)
	if cfg.now != nil {
		signing.now = cfg.now
	}

	innerOpts := []openaicompat.Option{
		openaicompat.WithHTTPClient(&http.Client{Transport: signing, Timeout: cfg.timeout}),
	}
	if cfg.limiter != nil {
		innerOpts = append(innerOpts, openaicompat.WithRateLimiter(cfg.limiter))
	}

	return &Provider{inner: openaicompat.New(cfg.name, cfg.endpoint.URL, innerOpts...)}
}

func (p *Provider) Name() string { return p.inner.Name() }

func (p *Provider) Invoke(ctx context.Context, req mr.ProviderRequest) (mr.ProviderResponse, error) {
	return p.inner.Invoke(ctx, req)
}
