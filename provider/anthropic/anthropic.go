package anthropic

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	mr "github.com/ineyio/modelrouter"
	"github.com/ineyio/modelrouter/provider/internal/httpx"
	"golang.org/x/time/rate"
)

const (
	defaultBaseURL    = "https://api.anthropic.com/v1"
	DefaultAPIVersion = "2023-06-01"

	// The Messages API rejects requests without max_tokens.
	fallbackMaxTokens = 1024
)

// Provider is the Anthropic Messages API adapter.
type Provider struct {
	baseURL    string
	apiVersion string
	httpClient *http.Client
	limiter    *rate.Limiter
}

var _ mr.Provider = (*Provider)(nil)

// Option configures the provider.
type Option func(*Provider)

// WithBaseURL sets a custom base URL.
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = strings.TrimRight(url, "/") }
}

// WithAPIVersion overrides the anthropic-version header.
func WithAPIVersion(v string) Option {
	return func(p *Provider) { p.apiVersion = v }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.httpClient = c }
}

// WithRateLimiter throttles outgoing calls.
func WithRateLimiter(l *rate.Limiter) Option {
	return func(p *Provider) { p.limiter = l }
}

// New creates a new Anthropic provider.
func New(opts ...Option) *Provider {
	p := &Provider{
		baseURL:    defaultBaseURL,
		apiVersion: DefaultAPIVersion,
		httpClient: http.DefaultClient,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Provider) Name() string { return "anthropic" }

type anthMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthRequest struct {
	Model     string        `json:"model"`
	MaxTokens int           `json:"max_tokens"`
	Messages  []anthMessage `json:"messages"`
}

type anthResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int64 `json:"input_tokens"`
		OutputTokens int64 `json:"output_tokens"`
	} `json:"usage"`
}

func (p *Provider) Invoke(ctx context.Context, req mr.ProviderRequest) (mr.ProviderResponse, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = fallbackMaxTokens
	}
	body := anthRequest{
		Model:     req.Model,
		MaxTokens: maxTokens,
		Messages:  []anthMessage{{Role: "user", Content: req.Prompt}},
	}
	headers := map[string]string{
		"x-api-key":         req.Auth.APIKey,
		"anthropic-version": p.apiVersion,
	}

	httpResp, err := httpx.PostJSON(ctx, p.httpClient, p.limiter, p.baseURL+"/messages", headers, body)
	if err != nil {
		return mr.ProviderResponse{}, err
	}

	var resp anthResponse
	if err := httpx.DecodeJSON(httpResp, &resp); err != nil {
		return mr.ProviderResponse{}, err
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return mr.ProviderResponse{}, fmt.Errorf("%w: no text content in anthropic response", mr.ErrProviderUnavailable)
	}

	return mr.ProviderResponse{
		ID:           resp.ID,
		Content:      text.String(),
		FinishReason: resp.StopReason,
		Model:        resp.Model,
		Usage: mr.Usage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
		},
	}, nil
}
