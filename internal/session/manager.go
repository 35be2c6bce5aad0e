package session

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound     = errors.New("session not found")
	ErrTurnInFlight = errors.New("session already has a turn in flight")
)

// Manager holds all sessions in memory, keyed by ID. Every accessor
// returns clones so callers can never mutate shared state.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewManager() *Manager {
	return &Manager{sessions: make(map[string]*Session)}
}

// Create registers a new session for the user. An empty name gets a
// timestamped default.
func (m *Manager) Create(userID, name string) *Session {
	now := time.Now().UTC()
	if name == "" {
		name = fmt.Sprintf("会话 %s", now.Format("01-02 15:04"))
	}
	s := &Session{
		ID:          uuid.NewString(),
		Name:        name,
		UserID:      userID,
		CreatedAt:   now,
		LastUpdated: now,
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s
	return clone(s)
}

func (m *Manager) Get(sessionID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(s), nil
}

// List returns the user's sessions, most recently updated first. An
// empty userID lists everything.
func (m *Manager) List(userID string) []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Session
	for _, s := range m.sessions {
		if userID != "" && s.UserID != userID {
			continue
		}
		out = append(out, clone(s))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastUpdated.After(out[j].LastUpdated)
	})
	return out
}

func (m *Manager) Rename(sessionID, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	s.Name = name
	s.LastUpdated = time.Now().UTC()
	return nil
}

func (m *Manager) Delete(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[sessionID]; !ok {
		return ErrNotFound
	}
	delete(m.sessions, sessionID)
	return nil
}

// AppendMessage adds a message to the session log and returns the stored
// copy with its generated ID.
func (m *Manager) AppendMessage(sessionID string, msg Message) (Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return Message{}, ErrNotFound
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	s.Messages = append(s.Messages, msg)
	s.LastUpdated = time.Now().UTC()
	return msg, nil
}

// BeginTurn marks the session as having an in-flight turn. At most one
// turn may be active per session; a second caller gets ErrTurnInFlight
// and must not mutate anything.
func (m *Manager) BeginTurn(sessionID, turnID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	if s.ActiveTurnID != "" {
		return ErrTurnInFlight
	}
	s.ActiveTurnID = turnID
	s.LastUpdated = time.Now().UTC()
	return nil
}

// EndTurn clears the in-flight marker. Clearing an already-clear session
// is a no-op so failure paths can call it unconditionally.
func (m *Manager) EndTurn(sessionID, turnID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return
	}
	if s.ActiveTurnID != turnID {
		return
	}
	s.ActiveTurnID = ""
	s.LastUpdated = time.Now().UTC()
}

func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

func clone(s *Session) *Session {
	c := *s
	c.Messages = make([]Message, len(s.Messages))
	copy(c.Messages, s.Messages)
	return &c
}
