package main

import (
	"golang.org/x/time/rate"

	mr "github.com/ineyio/modelrouter"
	"github.com/ineyio/modelrouter/provider/anthropic"
	"github.com/ineyio/modelrouter/provider/gemini"
	"github.com/ineyio/modelrouter/provider/gonka"
	"github.com/ineyio/modelrouter/provider/openaicompat"
)

// buildProviders registers every adapter the CLI knows about. The router
// ignores providers without a usable account in the config.
func (a *app) buildProviders() []mr.Provider {
	baseURLs := a.v.GetStringMapString("base-url")
	rps := a.v.GetFloat64("rate-limit")

	limiter := func() *rate.Limiter {
		if rps <= 0 {
			return nil
		}
		return rate.NewLimiter(rate.Limit(rps), 1)
	}
	compat := func(name string) []openaicompat.Option {
		opts := []openaicompat.Option{openaicompat.WithRateLimiter(limiter())}
		if u, ok := baseURLs[name]; ok {
			opts = append(opts, openaicompat.WithBaseURL(u))
		}
		return opts
	}

	anthropicOpts := []anthropic.Option{anthropic.WithRateLimiter(limiter())}
	if u, ok := baseURLs["anthropic"]; ok {
		anthropicOpts = append(anthropicOpts, anthropic.WithBaseURL(u))
	}
	geminiOpts := []gemini.Option{gemini.WithRateLimiter(limiter())}
	if u, ok := baseURLs["gemini"]; ok {
		geminiOpts = append(geminiOpts, gemini.WithBaseURL(u))
	}

	providers := []mr.Provider{
		openaicompat.NewOpenAI(compat("openai")...),
		openaicompat.NewGrok(compat("grok")...),
		openaicompat.NewCerebras(compat("cerebras")...),
		openaicompat.NewOllama(compat("ollama")...),
		anthropic.New(anthropicOpts...),
		gemini.New(geminiOpts...),
	}

	if endpoint := a.v.GetString("gonka-endpoint"); endpoint != "" {
		opts := []gonka.Option{gonka.WithEndpoint(gonka.Endpoint{
			URL:     endpoint,
			Address: a.v.GetString("gonka-node-address"),
		})}
		if l := limiter(); l != nil {
			opts = append(opts, gonka.WithRateLimiter(l))
		}
		providers = append(providers, gonka.New(opts...))
	}
	return providers
}
