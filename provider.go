package modelrouter

import "context"

// Provider is the interface that LLM provider adapters must implement.
// Adding a provider never requires changes to the dispatcher.
type Provider interface {
	// Name returns the provider identifier (e.g. "openai", "anthropic", "local").
	Name() string

	// Invoke sends a single prompt to model and returns its completion.
	Invoke(ctx context.Context, req ProviderRequest) (ProviderResponse, error)
}

// Auth holds authentication credentials for a provider account.
type Auth struct {
	APIKey string `yaml:"api_key" toml:"api_key" json:"api_key"`
}

// ProviderRequest is the request sent to a provider adapter.
type ProviderRequest struct {
	Auth      Auth
	Model     string
	Prompt    string
	MaxTokens int
}

// ProviderResponse is the response from a provider adapter.
type ProviderResponse struct {
	ID           string
	Content      string
	FinishReason string
	Usage        Usage
	Model        string
}
