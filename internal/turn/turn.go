package turn

import (
	"time"

	"github.com/brightbird/EasyMemGraph/internal/memory"
	"github.com/brightbird/EasyMemGraph/internal/reliability"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Turn is the record of one processed user utterance.
type Turn struct {
	ID                string                     `json:"turn_id"`
	SessionID         string                     `json:"session_id"`
	UserID            string                     `json:"user_id"`
	Utterance         string                     `json:"utterance"`
	SystemContext     string                     `json:"-"`
	Reply             string                     `json:"reply"`
	RetrievedMemories []memory.Memory            `json:"retrieved_memories,omitempty"`
	Status            Status                     `json:"status"`
	FailureClass      reliability.Classification `json:"failure_class,omitempty"`
	StoreDecision     memory.Decision            `json:"store_decision"`
	StartedAt         time.Time                  `json:"started_at"`
	FinishedAt        time.Time                  `json:"finished_at"`
}
