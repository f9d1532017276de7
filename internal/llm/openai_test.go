package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenAIProviderComplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "test-model", body["model"])
		msgs := body["messages"].([]any)
		require.Len(t, msgs, 2)

		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{
				"message":       map[string]string{"role": "assistant", "content": `{"ok":true}`},
				"finish_reason": "stop",
			}},
			"usage": map[string]int{"prompt_tokens": 12, "completion_tokens": 4, "total_tokens": 16},
		})
	}))
	defer srv.Close()

	p, err := NewOpenAIProvider(OpenAIConfig{
		BaseURL: srv.URL + "/v1",
		Model:   "test-model",
		APIKey:  "sk-test",
	})
	require.NoError(t, err)

	raw, err := p.Complete(context.Background(), Request{
		SystemPrompt: "You are an EW planner.",
		UserPrompt:   "Plan.",
	})
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, raw.Text)
	assert.Equal(t, 16, raw.Tokens.Total)
	assert.Equal(t, "stop", raw.FinishReason)
}

func TestOpenAIProviderErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		status int
		want   error
	}{
		{"rate limited", http.StatusTooManyRequests, ErrRateLimited},
		{"server error", http.StatusBadGateway, ErrProviderUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tc.status)
			}))
			defer srv.Close()

			p, err := NewOpenAIProvider(OpenAIConfig{BaseURL: srv.URL, Model: "m"})
			require.NoError(t, err)

			_, err = p.Complete(context.Background(), Request{UserPrompt: "x"})
			require.ErrorIs(t, err, tc.want)
		})
	}
}

func TestOpenAIProviderBadRequestIsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	p, err := NewOpenAIProvider(OpenAIConfig{BaseURL: srv.URL, Model: "m"})
	require.NoError(t, err)

	_, err = p.Complete(context.Background(), Request{UserPrompt: "x"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrRateLimited)
	assert.NotErrorIs(t, err, ErrProviderUnavailable)
}

func TestNewOpenAIProviderValidation(t *testing.T) {
	_, err := NewOpenAIProvider(OpenAIConfig{Model: "m"})
	require.Error(t, err)

	_, err = NewOpenAIProvider(OpenAIConfig{BaseURL: "http://localhost"})
	require.Error(t, err)
}
