package openaicompat

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	mr "github.com/ineyio/modelrouter"
	"github.com/ineyio/modelrouter/provider/internal/httpx"
	"golang.org/x/time/rate"
)

// Provider is a universal OpenAI-compatible API adapter.
// Works with OpenAI, Grok/xAI, Cerebras, Together, Ollama, and others.
type Provider struct {
	name       string
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

var _ mr.Provider = (*Provider)(nil)

// Option configures the provider.
type Option func(*Provider)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.httpClient = c }
}

// WithBaseURL overrides the base URL of a preset constructor.
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = strings.TrimRight(url, "/") }
}

// WithRateLimiter throttles outgoing calls. A call waiting on the limiter
// still honours its context deadline.
func WithRateLimiter(l *rate.Limiter) Option {
	return func(p *Provider) { p.limiter = l }
}

// New creates a new OpenAI-compatible provider.
func New(name, baseURL string, opts ...Option) *Provider {
	p := &Provider{
		name:       name,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: http.DefaultClient,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// NewOpenAI creates a provider for OpenAI.
func NewOpenAI(opts ...Option) *Provider {
	return New("openai", "https://api.openai.com/v1", opts...)
}

// NewGrok creates a provider for Grok/xAI.
func NewGrok(opts ...Option) *Provider {
	return New("grok", "https://api.x.ai/v1", opts...)
}

// NewCerebras creates a provider for Cerebras.
func NewCerebras(opts ...Option) *Provider {
	return New("cerebras", "https://api.cerebras.ai/v1", opts...)
}

// NewOllama creates a provider for a local Ollama server. Pair it with a
// keyless account and zero-cost models to get a free tier.
func NewOllama(opts ...Option) *Provider {
	return New("ollama", "http://localhost:11434/v1", opts...)
}

func (p *Provider) Name() string { return p.name }

// apiRequest is the OpenAI chat completion request format.
type apiRequest struct {
	Model     string       `json:"model"`
	Messages  []apiMessage `json:"messages"`
	MaxTokens int          `json:"max_tokens,omitempty"`
}

type apiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// apiResponse is the OpenAI chat completion response format.
type apiResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index        int        `json:"index"`
		Message      apiMessage `json:"message"`
		FinishReason string     `json:"finish_reason"`
	} `json:"choices"`
	Usage mr.Usage `json:"usage"`
}

func (p *Provider) Invoke(ctx context.Context, req mr.ProviderRequest) (mr.ProviderResponse, error) {
	body := apiRequest{
		Model:     req.Model,
		Messages:  []apiMessage{{Role: "user", Content: req.Prompt}},
		MaxTokens: req.MaxTokens,
	}

	headers := map[string]string{}
	if req.Auth.APIKey != "" {
		headers["Authorization"] = "Bearer " + req.Auth.APIKey
	}

	httpResp, err := httpx.PostJSON(ctx, p.httpClient, p.limiter, p.baseURL+"/chat/completions", headers, body)
	if err != nil {
		return mr.ProviderResponse{}, err
	}

	var resp apiResponse
	if err := httpx.DecodeJSON(httpResp, &resp); err != nil {
		return mr.ProviderResponse{}, err
	}

	if len(resp.Choices) == 0 {
		return mr.ProviderResponse{}, fmt.Errorf("%w: empty choices in response", mr.ErrProviderUnavailable)
	}

	model := resp.Model
	if model == "" {
		model = req.Model
	}

	return mr.ProviderResponse{
		ID:           resp.ID,
		Content:      resp.Choices[0].Message.Content,
		FinishReason: resp.Choices[0].FinishReason,
		Model:        model,
		Usage:        resp.Usage,
	}, nil
}
