package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"
)

type storedExchange struct {
	text      string
	turnID    string
	createdAt time.Time
}

// InMemoryService keeps memories in process memory and scores retrieval
// by token overlap. It backs development and tests when no Qdrant host
// is configured.
type InMemoryService struct {
	mu      sync.Mutex
	byUser  map[string][]storedExchange
	userSeq []string
}

func NewInMemoryService() *InMemoryService {
	return &InMemoryService{byUser: make(map[string][]storedExchange)}
}

// tokenize splits on spaces for ASCII runs and treats every CJK rune as
// its own token, which is a workable overlap unit for Chinese text.
func tokenize(s string) map[string]struct{} {
	tokens := make(map[string]struct{})
	var ascii strings.Builder
	flush := func() {
		if ascii.Len() > 0 {
			tokens[strings.ToLower(ascii.String())] = struct{}{}
			ascii.Reset()
		}
	}
	for _, r := range s {
		switch {
		case unicode.Is(unicode.Han, r):
			flush()
			tokens[string(r)] = struct{}{}
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			ascii.WriteRune(r)
		default:
			flush()
		}
	}
	flush()
	return tokens
}

func overlapScore(query, doc map[string]struct{}) float64 {
	if len(query) == 0 || len(doc) == 0 {
		return 0
	}
	matches := 0
	for tok := range query {
		if _, ok := doc[tok]; ok {
			matches++
		}
	}
	return float64(matches) / float64(len(query))
}

func (s *InMemoryService) Search(_ context.Context, userID, query string, limit int) ([]Memory, error) {
	if limit <= 0 {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	queryTokens := tokenize(query)
	var scored []Memory
	for _, ex := range s.byUser[userID] {
		score := overlapScore(queryTokens, tokenize(ex.text))
		if score == 0 {
			continue
		}
		scored = append(scored, Memory{Text: ex.text, Score: score, SourceTurnID: ex.turnID})
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if len(scored) > limit {
		scored = scored[:limit]
	}
	return scored, nil
}

func (s *InMemoryService) Store(_ context.Context, ex Exchange) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	createdAt := ex.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	if _, ok := s.byUser[ex.UserID]; !ok {
		s.userSeq = append(s.userSeq, ex.UserID)
	}
	s.byUser[ex.UserID] = append(s.byUser[ex.UserID], storedExchange{
		text:      fmt.Sprintf("用户: %s\n助手: %s", ex.Utterance, ex.Reply),
		turnID:    ex.TurnID,
		createdAt: createdAt,
	})
	return nil
}

func (s *InMemoryService) ListUsers(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.userSeq))
	copy(out, s.userSeq)
	return out, nil
}

func (s *InMemoryService) Stats(_ context.Context, userID string) (UserStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := UserStats{UserID: userID}
	for _, ex := range s.byUser[userID] {
		stats.MemoryCount++
		if stats.OldestAt.IsZero() || ex.createdAt.Before(stats.OldestAt) {
			stats.OldestAt = ex.createdAt
		}
		if ex.createdAt.After(stats.NewestAt) {
			stats.NewestAt = ex.createdAt
		}
	}
	return stats, nil
}

func (s *InMemoryService) Close() error { return nil }
