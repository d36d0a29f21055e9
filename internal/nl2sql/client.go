package nl2sql

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Prompt is a system instruction followed by alternating user and
// assistant messages; the last message is the question.
type Prompt struct {
	System   string
	Messages []Message
}

// Client performs exactly one model call.
type Client interface {
	Name() string
	Model() string
	Complete(ctx context.Context, prompt Prompt) (string, error)
}

// ProviderError is a non-2xx answer from a model provider.
type ProviderError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *ProviderError) Error() string {
	body := e.Body
	if len(body) > 512 {
		body = body[:512]
	}
	return fmt.Sprintf("%s request failed status=%d body=%s", e.Provider, e.StatusCode, body)
}

// Transient reports whether the same request may succeed when repeated.
func (e *ProviderError) Transient() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// IsTransient classifies model call failures: timeouts, network errors,
// 429 and 5xx are transient. Caller cancellation is not.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var providerErr *ProviderError
	if errors.As(err, &providerErr) {
		return providerErr.Transient()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

type ClientConfig struct {
	Provider    string
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	Timeout     time.Duration
}

// NewClient builds the client for the configured provider.
func NewClient(cfg ClientConfig) (Client, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", "openai":
		return NewOpenAIClient(cfg)
	case "anthropic":
		return NewAnthropicClient(cfg)
	default:
		return nil, fmt.Errorf("unknown AI provider %q; supported: openai, anthropic", cfg.Provider)
	}
}

func httpTimeout(value time.Duration) time.Duration {
	if value <= 0 {
		return 15 * time.Second
	}
	return value
}
