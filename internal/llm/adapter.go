package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Message is one entry of the conversation sent to the model.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Response is the model's final answer for one generation call.
type Response struct {
	Content string `json:"content"`
}

// Adapter bridges the turn pipeline with a chat-completion backend.
type Adapter interface {
	Generate(ctx context.Context, messages []Message) (Response, error)
}

// Config controls adapter construction.
type Config struct {
	Mode        string
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int
}

func NewAdapter(cfg Config) (Adapter, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "auto"
	}

	switch mode {
	case "auto":
		if strings.TrimSpace(cfg.APIKey) != "" {
			return NewHTTPAdapter(cfg), nil
		}
		return NewMockAdapter(), nil
	case "http":
		if strings.TrimSpace(cfg.BaseURL) == "" {
			return nil, errors.New("base URL is required for http mode")
		}
		return NewHTTPAdapter(cfg), nil
	case "mock":
		return NewMockAdapter(), nil
	default:
		return nil, fmt.Errorf("unsupported llm adapter mode %q", cfg.Mode)
	}
}
