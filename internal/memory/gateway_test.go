package memory

import (
	"context"
	"errors"
	"testing"
)

type failingService struct {
	searchErr error
	storeErr  error
	stored    []Exchange
}

func (f *failingService) Search(context.Context, string, string, int) ([]Memory, error) {
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	return []Memory{{Text: "上次聊过爬山", Score: 0.9}}, nil
}

func (f *failingService) Store(_ context.Context, ex Exchange) error {
	if f.storeErr != nil {
		return f.storeErr
	}
	f.stored = append(f.stored, ex)
	return nil
}

func (f *failingService) ListUsers(context.Context) ([]string, error) { return nil, nil }
func (f *failingService) Stats(context.Context, string) (UserStats, error) {
	return UserStats{}, nil
}
func (f *failingService) Close() error { return nil }

func TestRetrieveSwallowsBackendErrors(t *testing.T) {
	svc := &failingService{searchErr: errors.New("qdrant unavailable")}
	g := NewGateway(svc, DefaultStorePolicy(), nil)

	got := g.Retrieve(context.Background(), "u1", "周末的计划", 5)
	if got != nil {
		t.Fatalf("Retrieve() = %v, want nil on backend error", got)
	}
}

func TestRetrieveReturnsMemories(t *testing.T) {
	g := NewGateway(&failingService{}, DefaultStorePolicy(), nil)
	got := g.Retrieve(context.Background(), "u1", "爬山", 5)
	if len(got) != 1 || got[0].Text != "上次聊过爬山" {
		t.Fatalf("Retrieve() = %v", got)
	}
}

func TestMaybeStorePersistsSubstantiveExchange(t *testing.T) {
	svc := &failingService{}
	g := NewGateway(svc, DefaultStorePolicy(), nil)

	d := g.MaybeStore(context.Background(), Exchange{
		UserID:    "u1",
		Utterance: "帮我规划一下下个月去云南的行程安排",
		Reply:     "可以先飞昆明，再去大理和丽江，每个城市住两到三天比较从容。",
	})
	if !d.Stored || d.Reason != "substantive" {
		t.Fatalf("MaybeStore() = %+v, want stored substantive", d)
	}
	if len(svc.stored) != 1 {
		t.Fatalf("stored %d exchanges, want 1", len(svc.stored))
	}
}

func TestMaybeStoreSkipsWithoutBackendCall(t *testing.T) {
	svc := &failingService{storeErr: errors.New("should not be called")}
	g := NewGateway(svc, DefaultStorePolicy(), nil)

	d := g.MaybeStore(context.Background(), Exchange{
		UserID:    "u1",
		Utterance: "ok",
		Reply:     "好的",
	})
	if d.Stored {
		t.Fatalf("MaybeStore() = %+v, want skip", d)
	}
	if d.Reason != "too_short" {
		t.Fatalf("Reason = %q, want too_short", d.Reason)
	}
}

func TestMaybeStoreReportsStoreFailureAsDecision(t *testing.T) {
	svc := &failingService{storeErr: errors.New("collection missing")}
	g := NewGateway(svc, DefaultStorePolicy(), nil)

	d := g.MaybeStore(context.Background(), Exchange{
		UserID:    "u1",
		Utterance: "我叫李雷，住在上海浦东",
		Reply:     "好的李雷，我记住了。",
	})
	if d.Stored {
		t.Fatalf("MaybeStore() = %+v, want stored=false on backend error", d)
	}
	if d.Reason != "collection missing" {
		t.Fatalf("Reason = %q, want backend error text", d.Reason)
	}
}
