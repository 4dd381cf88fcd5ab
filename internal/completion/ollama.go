package completion

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/kpisync/kpisync/internal/config"
)

const defaultOllamaURL = "http://localhost:11434"

// Ollama calls POST <base>/api/chat without streaming.
type Ollama struct {
	baseURL  string
	client   *http.Client
	settings Settings
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Options  ollamaOptions   `json:"options"`
}

type ollamaChatResponse struct {
	Message *ollamaMessage `json:"message"`
	Error   string         `json:"error,omitempty"`
}

func NewOllama(settings Settings, httpClient *http.Client) (*Ollama, error) {
	if settings.Model == "" {
		return nil, fmt.Errorf("model is required for the ollama provider")
	}
	baseURL := settings.BaseURL
	if baseURL == "" {
		baseURL = defaultOllamaURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: settings.Timeout}
	}
	return &Ollama{baseURL: strings.TrimRight(baseURL, "/"), client: httpClient, settings: settings}, nil
}

func (c *Ollama) Complete(ctx context.Context, req Request) (string, error) {
	payload := ollamaChatRequest{
		Model:    c.settings.Model,
		Messages: make([]ollamaMessage, 0, len(req.Messages)),
		Stream:   false,
		Options: ollamaOptions{
			Temperature: c.settings.Temperature,
			NumPredict:  maxTokens(req, c.settings),
		},
	}
	for _, message := range req.Messages {
		payload.Messages = append(payload.Messages, ollamaMessage{Role: string(message.Role), Content: message.Content})
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal ollama payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build ollama request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", &Error{Provider: config.ProviderOllama, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", &Error{Provider: config.ProviderOllama, Err: fmt.Errorf("read body: %w", err)}
	}
	if resp.StatusCode != http.StatusOK {
		return "", &Error{
			Provider:   config.ProviderOllama,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("body=%s", strings.TrimSpace(string(raw))),
		}
	}

	var parsed ollamaChatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", &Error{Provider: config.ProviderOllama, Err: fmt.Errorf("decode reply: %w", err)}
	}
	if parsed.Error != "" {
		return "", &Error{Provider: config.ProviderOllama, Err: fmt.Errorf("%s", parsed.Error)}
	}
	if parsed.Message == nil || strings.TrimSpace(parsed.Message.Content) == "" {
		return "", &Error{Provider: config.ProviderOllama, Err: fmt.Errorf("reply has no message content")}
	}
	return strings.TrimSpace(parsed.Message.Content), nil
}
