package completion

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kpisync/kpisync/internal/config"
)

var testMessages = []Message{
	{Role: RoleSystem, Content: "answer with SQL"},
	{Role: RoleUser, Content: "how many products?"},
}

func TestOllamaSendsChatRequest(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		var payload ollamaChatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "llama3", payload.Model)
		assert.False(t, payload.Stream)
		assert.Equal(t, 900, payload.Options.NumPredict)
		require.Len(t, payload.Messages, 2)
		assert.Equal(t, "system", payload.Messages[0].Role)
		_, _ = w.Write([]byte(`{"message":{"role":"assistant","content":"  SELECT COUNT(*) FROM PRODUCTS  "},"done":true}`))
	}))
	defer server.Close()

	client, err := NewOllama(Settings{BaseURL: server.URL, Model: "llama3", Temperature: 0.2, MaxTokens: 900}, server.Client())
	require.NoError(t, err)
	reply, err := client.Complete(context.Background(), Request{Messages: testMessages})
	require.NoError(t, err)
	assert.Equal(t, "SELECT COUNT(*) FROM PRODUCTS", reply)
}

func TestOllamaMapsFailures(t *testing.T) {
	tests := map[string]struct {
		status int
		body   string
		code   int
	}{
		"non 200":       {status: http.StatusBadGateway, body: "upstream down", code: http.StatusBadGateway},
		"malformed":     {status: http.StatusOK, body: "not json"},
		"missing field": {status: http.StatusOK, body: `{"done":true}`},
		"error field":   {status: http.StatusOK, body: `{"error":"model not found"}`},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer server.Close()

			client, err := NewOllama(Settings{BaseURL: server.URL, Model: "llama3"}, server.Client())
			require.NoError(t, err)
			_, err = client.Complete(context.Background(), Request{Messages: testMessages})
			var completionErr *Error
			require.ErrorAs(t, err, &completionErr)
			assert.Equal(t, tc.code, completionErr.StatusCode)
		})
	}
}

func TestOllamaTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer server.Close()

	client, err := NewOllama(Settings{BaseURL: server.URL, Model: "llama3"}, &http.Client{Timeout: 50 * time.Millisecond})
	require.NoError(t, err)
	_, err = client.Complete(context.Background(), Request{Messages: testMessages})
	var completionErr *Error
	require.ErrorAs(t, err, &completionErr)
}

func TestOpenAICompatibleEndpoint(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		var payload map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "meta-llama/llama-3.3-70b-instruct", payload["model"])
		assert.EqualValues(t, 120, payload["max_tokens"])
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"SELECT 1"},"finish_reason":"stop"}]}`))
	}))
	defer server.Close()

	client, err := NewOpenAI(Settings{
		BaseURL:   server.URL + "/v1",
		APIKey:    "test-key",
		Model:     "meta-llama/llama-3.3-70b-instruct",
		MaxTokens: 900,
	}, server.Client())
	require.NoError(t, err)
	reply, err := client.Complete(context.Background(), Request{Messages: testMessages, MaxTokens: 120})
	require.NoError(t, err)
	assert.Equal(t, "SELECT 1", reply)
}

func TestOpenAIStatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"rate limited","type":"rate_limit"}}`))
	}))
	defer server.Close()

	client, err := NewOpenAI(Settings{BaseURL: server.URL + "/v1", APIKey: "k", Model: "m"}, server.Client())
	require.NoError(t, err)
	_, err = client.Complete(context.Background(), Request{Messages: testMessages})
	var completionErr *Error
	require.ErrorAs(t, err, &completionErr)
	assert.Equal(t, http.StatusTooManyRequests, completionErr.StatusCode)
}

func TestNewSelectsProvider(t *testing.T) {
	disabled, err := New(config.AIConfig{Provider: config.ProviderNone})
	require.NoError(t, err)
	_, err = disabled.Complete(context.Background(), Request{Messages: testMessages})
	assert.True(t, errors.Is(err, ErrDisabled))

	_, err = New(config.AIConfig{Provider: config.ProviderOpenAI, Model: "m"})
	assert.Error(t, err, "openai without key")

	_, err = New(config.AIConfig{Provider: "anthropic"})
	assert.Error(t, err)

	ollama, err := New(config.AIConfig{Provider: config.ProviderOllama, Model: "llama3", Timeout: time.Second})
	require.NoError(t, err)
	assert.NotNil(t, ollama)
}
