package llm

import (
	"context"
	"fmt"
	"strings"
)

// MockAdapter produces deterministic local replies when no API key is
// configured.
type MockAdapter struct{}

func NewMockAdapter() *MockAdapter { return &MockAdapter{} }

func (a *MockAdapter) Generate(ctx context.Context, messages []Message) (Response, error) {
	select {
	case <-ctx.Done():
		return Response{}, ctx.Err()
	default:
	}

	var lastUser string
	remembered := false
	for _, m := range messages {
		switch m.Role {
		case "user":
			lastUser = strings.TrimSpace(m.Content)
		case "system":
			if strings.Contains(m.Content, "Relevant information from previous conversations:") {
				remembered = true
			}
		}
	}
	if lastUser == "" {
		return Response{Content: "我在听。"}, nil
	}
	if remembered {
		return Response{Content: fmt.Sprintf("我听到你说：%s。我也记得我们之前聊过的内容。", lastUser)}, nil
	}
	return Response{Content: fmt.Sprintf("我听到你说：%s", lastUser)}, nil
}
