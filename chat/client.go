// Package chat talks to a published agent through an OpenAI-compatible
// chat completions endpoint.
package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/pithecene-io/aipfs/iox"
	"github.com/pithecene-io/aipfs/secret"
	"github.com/pithecene-io/aipfs/types"
)

// Defaults for the hosted endpoint agents are published against.
const (
	DefaultBaseURL     = "https://openrouter.ai/api/v1"
	DefaultModel       = "openai/gpt-3.5-turbo"
	DefaultTitle       = "Glitter AI Agent"
	DefaultTemperature = 0.7
	DefaultMaxTokens   = 1000
	DefaultTimeout     = 60 * time.Second
)

// maxResponseBytes bounds a completion response body.
const maxResponseBytes = 4 << 20

// Roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Completer produces the next assistant reply for a conversation.
type Completer interface {
	Complete(ctx context.Context, msgs []Message) (string, error)
}

// Config configures an OpenAIClient.
type Config struct {
	BaseURL     string
	Model       string
	APIKey      secret.Credential
	Referer     string
	Title       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

// OpenAIClient calls /chat/completions on an OpenAI-compatible API.
type OpenAIClient struct {
	config Config
	client *http.Client
}

// NewOpenAIClient creates a client, filling unset fields with defaults.
func NewOpenAIClient(cfg Config) (*OpenAIClient, error) {
	if cfg.APIKey.Empty() {
		return nil, errors.New("chat: no valid API key available")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Title == "" {
		cfg.Title = DefaultTitle
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = DefaultTemperature
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &OpenAIClient{config: cfg, client: &http.Client{Timeout: cfg.Timeout}}, nil
}

type completionRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens"`
}

type completionResponse struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// StatusError is returned for non-2xx completion responses.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("chat: status %d: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("chat: status %d", e.Code)
}

// Complete implements Completer.
func (c *OpenAIClient) Complete(ctx context.Context, msgs []Message) (string, error) {
	body, err := json.Marshal(completionRequest{
		Model:       c.config.Model,
		Messages:    msgs,
		Temperature: c.config.Temperature,
		MaxTokens:   c.config.MaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("chat: marshal request: %w", err)
	}

	url := strings.TrimRight(c.config.BaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("chat: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.config.APIKey.Value())
	req.Header.Set("X-Title", c.config.Title)
	if c.config.Referer != "" {
		req.Header.Set("HTTP-Referer", c.config.Referer)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", types.NewNetworkError(fmt.Errorf("chat: %w", err))
	}
	defer iox.DrainClose(resp.Body)

	raw, err := iox.ReadAllLimit(resp.Body, maxResponseBytes)
	if err != nil {
		return "", types.NewNetworkError(fmt.Errorf("chat: read response: %w", err))
	}

	var out completionResponse
	decodeErr := json.Unmarshal(raw, &out)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		se := &StatusError{Code: resp.StatusCode}
		if decodeErr == nil && out.Error != nil {
			se.Message = out.Error.Message
		}
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return "", types.NewNetworkError(se)
		}
		return "", se
	}
	if decodeErr != nil {
		return "", fmt.Errorf("chat: decode response: %w", decodeErr)
	}
	if len(out.Choices) == 0 {
		return "", errors.New("chat: empty choices in response")
	}
	return out.Choices[0].Message.Content, nil
}

var _ Completer = (*OpenAIClient)(nil)
