// Package completion talks to text completion services: any OpenAI-compatible chat endpoint
// (OpenAI, OpenRouter) and Ollama.
package completion

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/kpisync/kpisync/internal/config"
	"github.com/kpisync/kpisync/internal/observability"
)

type Role string

const (
	RoleSystem Role = "system"
	RoleUser   Role = "user"
)

type Message struct {
	Role    Role
	Content string
}

type Request struct {
	Messages []Message
	// MaxTokens overrides the client default when positive.
	MaxTokens int
}

// Completer sends one request and returns the free text reply.
type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)
}

var ErrDisabled = errors.New("completion service is not configured")

// Error is returned for timeouts, non-success statuses and malformed replies.
type Error struct {
	Provider   string
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("completion service %s returned status %d: %v", e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("completion service %s: %v", e.Provider, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Settings are shared by every provider.
type Settings struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

func SettingsFromConfig(cfg config.AIConfig) Settings {
	return Settings{
		BaseURL:     strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		APIKey:      strings.TrimSpace(cfg.APIKey),
		Model:       strings.TrimSpace(cfg.Model),
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
		Timeout:     cfg.Timeout,
	}
}

// New builds the completer for cfg.Provider. The returned completer records latency metrics.
func New(cfg config.AIConfig) (Completer, error) {
	settings := SettingsFromConfig(cfg)
	if settings.Timeout <= 0 {
		settings.Timeout = 120 * time.Second
	}
	httpClient := &http.Client{Timeout: settings.Timeout}

	var (
		inner Completer
		err   error
	)
	switch cfg.Provider {
	case config.ProviderOpenAI:
		inner, err = NewOpenAI(settings, httpClient)
	case config.ProviderOllama:
		inner, err = NewOllama(settings, httpClient)
	case config.ProviderNone, "":
		inner = Disabled{}
	default:
		return nil, fmt.Errorf("unsupported completion provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}
	return Instrument(cfg.Provider, inner), nil
}

// Disabled fails every request with ErrDisabled.
type Disabled struct{}

func (Disabled) Complete(context.Context, Request) (string, error) {
	return "", &Error{Provider: config.ProviderNone, Err: ErrDisabled}
}

type instrumented struct {
	provider string
	next     Completer
}

// Instrument wraps next so each call is observed in the completion latency histogram.
func Instrument(provider string, next Completer) Completer {
	if provider == "" {
		provider = config.ProviderNone
	}
	return instrumented{provider: provider, next: next}
}

func (c instrumented) Complete(ctx context.Context, req Request) (string, error) {
	start := time.Now()
	reply, err := c.next.Complete(ctx, req)
	observability.ObserveCompletion(c.provider, err, time.Since(start))
	return reply, err
}

func maxTokens(req Request, settings Settings) int {
	if req.MaxTokens > 0 {
		return req.MaxTokens
	}
	return settings.MaxTokens
}
