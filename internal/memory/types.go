package memory

import (
	"context"
	"time"
)

// Memory is one retrieved fragment of a past conversation.
type Memory struct {
	Text         string  `json:"text"`
	Score        float64 `json:"score"`
	SourceTurnID string  `json:"source_turn_id,omitempty"`
}

// Exchange is the user/assistant pair that gets persisted as one memory.
type Exchange struct {
	UserID    string
	TurnID    string
	Utterance string
	Reply     string
	CreatedAt time.Time
}

// UserStats summarizes the stored history for one user.
type UserStats struct {
	UserID      string    `json:"user_id"`
	MemoryCount int       `json:"memory_count"`
	OldestAt    time.Time `json:"oldest_at,omitempty"`
	NewestAt    time.Time `json:"newest_at,omitempty"`
}

// Service is the long-term memory backend.
type Service interface {
	// Search returns up to limit memories for the user, most relevant first.
	Search(ctx context.Context, userID, query string, limit int) ([]Memory, error)
	// Store persists one exchange as a retrievable memory.
	Store(ctx context.Context, ex Exchange) error
	// ListUsers returns the distinct user IDs with at least one memory.
	ListUsers(ctx context.Context) ([]string, error)
	// Stats reports per-user memory counts and age bounds.
	Stats(ctx context.Context, userID string) (UserStats, error)
	Close() error
}
