package gemini

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	mr "github.com/ineyio/modelrouter"
	"github.com/ineyio/modelrouter/provider/internal/httpx"
	"golang.org/x/time/rate"
)

const defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// Provider is the Gemini API adapter.
type Provider struct {
	baseURL    string
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

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.httpClient = c }
}

// WithRateLimiter throttles outgoing calls.
func WithRateLimiter(l *rate.Limiter) Option {
	return func(p *Provider) { p.limiter = l }
}

// New creates a new Gemini provider.
func New(opts ...Option) *Provider {
	p := &Provider{
		baseURL:    defaultBaseURL,
		httpClient: http.DefaultClient,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Provider) Name() string { return "gemini" }

// Gemini API types.
type geminiRequest struct {
	Contents         []geminiContent         `json:"contents"`
	GenerationConfig *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiGenerationConfig struct {
	MaxOutputTokens int `json:"maxOutputTokens,omitempty"`
}

type geminiResponse struct {
	ResponseID string `json:"responseId"`
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int64 `json:"promptTokenCount"`
		CandidatesTokenCount int64 `json:"candidatesTokenCount"`
		TotalTokenCount      int64 `json:"totalTokenCount"`
	} `json:"usageMetadata"`
	ModelVersion string `json:"modelVersion"`
}

func (p *Provider) Invoke(ctx context.Context, req mr.ProviderRequest) (mr.ProviderResponse, error) {
	body := geminiRequest{
		Contents: []geminiContent{{Role: "user", Parts: []geminiPart{{Text: req.Prompt}}}},
	}
	if req.MaxTokens > 0 {
		body.GenerationConfig = &geminiGenerationConfig{MaxOutputTokens: req.MaxTokens}
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", p.baseURL, req.Model)
	headers := map[string]string{"x-goog-api-key": req.Auth.APIKey}

	httpResp, err := httpx.PostJSON(ctx, p.httpClient, p.limiter, url, headers, body)
	if err != nil {
		return mr.ProviderResponse{}, err
	}

	var resp geminiResponse
	if err := httpx.DecodeJSON(httpResp, &resp); err != nil {
		return mr.ProviderResponse{}, err
	}

	if len(resp.Candidates) == 0 {
		return mr.ProviderResponse{}, fmt.Errorf("%w: empty candidates in gemini response", mr.ErrProviderUnavailable)
	}

	var content strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		content.WriteString(part.Text)
	}

	model := resp.ModelVersion
	if model == "" {
		model = req.Model
	}

	return mr.ProviderResponse{
		ID:           resp.ResponseID,
		Content:      content.String(),
		FinishReason: strings.ToLower(resp.Candidates[0].FinishReason),
		Model:        model,
		Usage: mr.Usage{
			PromptTokens:     resp.UsageMetadata.PromptTokenCount,
			CompletionTokens: resp.UsageMetadata.CandidatesTokenCount,
			TotalTokens:      resp.UsageMetadata.TotalTokenCount,
		},
	}, nil
}
