package completion

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/kpisync/kpisync/internal/config"
)

// OpenAI calls an OpenAI-compatible chat completions endpoint. BaseURL includes the version
// segment, for example https://openrouter.ai/api/v1.
type OpenAI struct {
	client   *openai.Client
	settings Settings
}

func NewOpenAI(settings Settings, httpClient *http.Client) (*OpenAI, error) {
	if settings.APIKey == "" {
		return nil, fmt.Errorf("api key is required for the openai provider")
	}
	if settings.Model == "" {
		return nil, fmt.Errorf("model is required for the openai provider")
	}
	clientConfig := openai.DefaultConfig(settings.APIKey)
	if settings.BaseURL != "" {
		clientConfig.BaseURL = settings.BaseURL
	}
	if httpClient != nil {
		clientConfig.HTTPClient = httpClient
	}
	return &OpenAI{client: openai.NewClientWithConfig(clientConfig), settings: settings}, nil
}

func (c *OpenAI) Complete(ctx context.Context, req Request) (string, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, message := range req.Messages {
		messages = append(messages, openai.ChatCompletionMessage{Role: string(message.Role), Content: message.Content})
	}

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.settings.Model,
		Messages:    messages,
		MaxTokens:   maxTokens(req, c.settings),
		Temperature: float32(c.settings.Temperature),
	})
	if err != nil {
		return "", openAIError(err)
	}
	if len(resp.Choices) == 0 {
		return "", &Error{Provider: config.ProviderOpenAI, Err: fmt.Errorf("reply has no choices")}
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return "", &Error{Provider: config.ProviderOpenAI, Err: fmt.Errorf("reply content is empty")}
	}
	return content, nil
}

func openAIError(err error) error {
	out := &Error{Provider: config.ProviderOpenAI, Err: err}
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		out.StatusCode = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		out.StatusCode = reqErr.HTTPStatusCode
	}
	return out
}
