package session

import (
	"time"

	"github.com/brightbird/EasyMemGraph/internal/memory"
)

// Message is one entry in a session's conversation log.
type Message struct {
	ID        string          `json:"id"`
	Role      string          `json:"role"`
	Content   string          `json:"content"`
	Memories  []memory.Memory `json:"memories,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// Session is a named conversation owned by one user.
type Session struct {
	ID           string    `json:"session_id"`
	Name         string    `json:"name"`
	UserID       string    `json:"user_id"`
	Messages     []Message `json:"messages"`
	ActiveTurnID string    `json:"active_turn_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	LastUpdated  time.Time `json:"last_updated"`
}
