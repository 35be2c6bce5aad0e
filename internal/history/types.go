package history

import (
	"context"
	"time"
)

// Record is one archived user or assistant message.
type Record struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	SessionID   string    `json:"session_id"`
	TurnID      string    `json:"turn_id"`
	Role        string    `json:"role"`
	Content     string    `json:"content"`
	PIIRedacted bool      `json:"pii_redacted"`
	CreatedAt   time.Time `json:"created_at"`
}

// Store archives the per-turn transcript. Writes are best effort; the
// turn pipeline never blocks on this.
type Store interface {
	SaveMessage(ctx context.Context, record Record) error
	RecentByUser(ctx context.Context, userID string, limit int) ([]Record, error)
	Close() error
}
