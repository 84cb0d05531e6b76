package gemini_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	mr "github.com/ineyio/modelrouter"
	"github.com/ineyio/modelrouter/provider/gemini"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInvoke(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/models/gemini-2.0-flash:generateContent", r.URL.Path)
		assert.Equal(t, "g-key", r.Header.Get("x-goog-api-key"))
		assert.Empty(t, r.URL.Query().Get("key"))

		var body struct {
			Contents []struct {
				Role  string `json:"role"`
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"contents"`
			GenerationConfig struct {
				MaxOutputTokens int `json:"maxOutputTokens"`
			} `json:"generationConfig"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Len(t, body.Contents, 1)
		assert.Equal(t, "user", body.Contents[0].Role)
		assert.Equal(t, "explain CRDTs", body.Contents[0].Parts[0].Text)
		assert.Equal(t, 512, body.GenerationConfig.MaxOutputTokens)

		_, _ = w.Write([]byte(`{
			"responseId": "resp-9",
			"candidates": [{"content": {"role": "model", "parts": [{"text": "Conflict-free "}, {"text": "replicated types."}]}, "finishReason": "STOP"}],
			"usageMetadata": {"promptTokenCount": 4, "candidatesTokenCount": 5, "totalTokenCount": 9},
			"modelVersion": "gemini-2.0-flash-001"
		}`))
	}))
	defer srv.Close()

	p := gemini.New(gemini.WithBaseURL(srv.URL))
	resp, err := p.Invoke(context.Background(), mr.ProviderRequest{
		Auth:      mr.Auth{APIKey: "g-key"},
		Model:     "gemini-2.0-flash",
		Prompt:    "explain CRDTs",
		MaxTokens: 512,
	})
	require.NoError(t, err)
	assert.Equal(t, "resp-9", resp.ID)
	assert.Equal(t, "Conflict-free replicated types.", resp.Content)
	assert.Equal(t, "stop", resp.FinishReason)
	assert.Equal(t, "gemini-2.0-flash-001", resp.Model)
	assert.Equal(t, int64(9), resp.Usage.TotalTokens)
}

func TestInvoke_Errors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		want    error
	}{
		{"rate limited", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusTooManyRequests) }, mr.ErrRateLimited},
		{"bad key", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusForbidden) }, mr.ErrAuthFailed},
		{"bad request", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusBadRequest) }, mr.ErrInvalidRequest},
		{"overloaded", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusServiceUnavailable) }, mr.ErrProviderUnavailable},
		{"no candidates", func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte(`{"candidates": []}`)) }, mr.ErrProviderUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			_, err := gemini.New(gemini.WithBaseURL(srv.URL)).Invoke(context.Background(), mr.ProviderRequest{Model: "m", Prompt: "p"})
			assert.ErrorIs(t, err, tt.want)
		})
	}
}
