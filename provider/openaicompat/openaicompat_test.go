package openaicompat_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	mr "github.com/ineyio/modelrouter"
	"github.com/ineyio/modelrouter/provider/openaicompat"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func TestInvoke_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "gpt-4o-mini", body["model"])
		assert.EqualValues(t, 256, body["max_tokens"])
		msgs := body["messages"].([]any)
		require.Len(t, msgs, 1)
		assert.Equal(t, "user", msgs[0].(map[string]any)["role"])
		assert.Equal(t, "ping", msgs[0].(map[string]any)["content"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-1",
			"model": "gpt-4o-mini-2024",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "pong"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 3, "completion_tokens": 1, "total_tokens": 4}
		}`))
	}))
	defer srv.Close()

	p := openaicompat.New("openai", srv.URL+"/v1/")
	resp, err := p.Invoke(context.Background(), mr.ProviderRequest{
		Auth:      mr.Auth{APIKey: "sk-test"},
		Model:     "gpt-4o-mini",
		Prompt:    "ping",
		MaxTokens: 256,
	})
	require.NoError(t, err)
	assert.Equal(t, "chatcmpl-1", resp.ID)
	assert.Equal(t, "pong", resp.Content)
	assert.Equal(t, "stop", resp.FinishReason)
	assert.Equal(t, "gpt-4o-mini-2024", resp.Model)
	assert.Equal(t, int64(4), resp.Usage.TotalTokens)
}

func TestInvoke_KeylessOmitsAuthorization(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"choices": [{"message": {"content": "ok"}}]}`))
	}))
	defer srv.Close()

	p := openaicompat.NewOllama(openaicompat.WithBaseURL(srv.URL))
	assert.Equal(t, "ollama", p.Name())

	resp, err := p.Invoke(context.Background(), mr.ProviderRequest{Model: "llama3", Prompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)
	assert.Equal(t, "llama3", resp.Model)
}

func TestInvoke_StatusMapping(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusTooManyRequests, mr.ErrRateLimited},
		{http.StatusUnauthorized, mr.ErrAuthFailed},
		{http.StatusForbidden, mr.ErrAuthFailed},
		{http.StatusBadRequest, mr.ErrInvalidRequest},
		{http.StatusInternalServerError, mr.ErrProviderUnavailable},
		{http.StatusBadGateway, mr.ErrProviderUnavailable},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, `{"error": "nope"}`, tt.status)
			}))
			defer srv.Close()

			_, err := openaicompat.New("x", srv.URL).Invoke(context.Background(), mr.ProviderRequest{Model: "m", Prompt: "p"})
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestInvoke_EmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id": "x", "choices": []}`))
	}))
	defer srv.Close()

	_, err := openaicompat.New("x", srv.URL).Invoke(context.Background(), mr.ProviderRequest{Model: "m", Prompt: "p"})
	assert.ErrorIs(t, err, mr.ErrProviderUnavailable)
}

func TestInvoke_DeadlineMapsToTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := openaicompat.New("x", srv.URL).Invoke(ctx, mr.ProviderRequest{Model: "m", Prompt: "p"})
	assert.ErrorIs(t, err, mr.ErrTimeout)
}

func TestInvoke_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := openaicompat.New("x", url).Invoke(context.Background(), mr.ProviderRequest{Model: "m", Prompt: "p"})
	assert.ErrorIs(t, err, mr.ErrProviderUnavailable)
}

func TestInvoke_RateLimiterHonoursDeadline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices": [{"message": {"content": "ok"}}]}`))
	}))
	defer srv.Close()

	// One token, refilled once a minute.
	p := openaicompat.New("x", srv.URL, openaicompat.WithRateLimiter(rate.NewLimiter(rate.Every(time.Minute), 1)))

	_, err := p.Invoke(context.Background(), mr.ProviderRequest{Model: "m", Prompt: "p"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = p.Invoke(ctx, mr.ProviderRequest{Model: "m", Prompt: "p"})
	assert.Error(t, err)
}

func TestPresets(t *testing.T) {
	assert.Equal(t, "openai", openaicompat.NewOpenAI().Name())
	assert.Equal(t, "grok", openaicompat.NewGrok().Name())
	assert.Equal(t, "cerebras", openaicompat.NewCerebras().Name())
}
