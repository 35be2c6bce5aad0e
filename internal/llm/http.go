package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPAdapter calls an OpenAI-compatible chat completions endpoint.
type HTTPAdapter struct {
	baseURL     string
	apiKey      string
	model       string
	temperature float64
	maxTokens   int
	client      *http.Client
}

func NewHTTPAdapter(cfg Config) *HTTPAdapter {
	return &HTTPAdapter{
		baseURL:     strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		apiKey:      strings.TrimSpace(cfg.APIKey),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		client: &http.Client{
			Timeout: 120 * time.Second,
		},
	}
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func (a *HTTPAdapter) Generate(ctx context.Context, messages []Message) (Response, error) {
	payload, err := json.Marshal(chatRequest{
		Model:       a.model,
		Messages:    messages,
		Temperature: a.temperature,
		MaxTokens:   a.maxTokens,
	})
	if err != nil {
		return Response{}, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return Response{}, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if a.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+a.apiKey)
	}

	res, err := a.client.Do(httpReq)
	if err != nil {
		// Transport failures surface as-is; their text carries the
		// connection/timeout wording the failure classifier keys on.
		return Response{}, fmt.Errorf("send request: %w", err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, 4<<20))
	if err != nil {
		return Response{}, fmt.Errorf("read response: %w", err)
	}

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		detail := strings.TrimSpace(string(body))
		var obj chatResponse
		if json.Unmarshal(body, &obj) == nil && obj.Error != nil && obj.Error.Message != "" {
			detail = obj.Error.Message
		}
		// The status line stays in the error text so 429 and 401
		// responses classify correctly downstream.
		return Response{}, fmt.Errorf("llm http status %d %s: %s", res.StatusCode, http.StatusText(res.StatusCode), detail)
	}

	var obj chatResponse
	if err := json.Unmarshal(body, &obj); err != nil {
		return Response{}, fmt.Errorf("decode response: %w", err)
	}
	if obj.Error != nil && obj.Error.Message != "" {
		return Response{}, fmt.Errorf("llm error: %s", obj.Error.Message)
	}
	if len(obj.Choices) == 0 {
		return Response{}, fmt.Errorf("llm response contained no choices")
	}
	return Response{Content: obj.Choices[0].Message.Content}, nil
}
