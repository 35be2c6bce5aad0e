package turn

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/brightbird/EasyMemGraph/internal/history"
	"github.com/brightbird/EasyMemGraph/internal/llm"
	"github.com/brightbird/EasyMemGraph/internal/memory"
	"github.com/brightbird/EasyMemGraph/internal/prompt"
	"github.com/brightbird/EasyMemGraph/internal/reliability"
	"github.com/brightbird/EasyMemGraph/internal/session"
)

type scriptedAdapter struct {
	mu      sync.Mutex
	calls   int
	replies []string
	errs    []error
	block   chan struct{}
	seen    [][]llm.Message
}

func (a *scriptedAdapter) Generate(ctx context.Context, messages []llm.Message) (llm.Response, error) {
	if a.block != nil {
		<-a.block
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	i := a.calls
	a.calls++
	a.seen = append(a.seen, messages)
	if i < len(a.errs) && a.errs[i] != nil {
		return llm.Response{}, a.errs[i]
	}
	if i < len(a.replies) {
		return llm.Response{Content: a.replies[i]}, nil
	}
	return llm.Response{Content: "好的。"}, nil
}

type recordingService struct {
	mu        sync.Mutex
	memories  []memory.Memory
	searchErr error
	stored    []memory.Exchange
}

func (s *recordingService) Search(context.Context, string, string, int) ([]memory.Memory, error) {
	if s.searchErr != nil {
		return nil, s.searchErr
	}
	return s.memories, nil
}

func (s *recordingService) Store(_ context.Context, ex memory.Exchange) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stored = append(s.stored, ex)
	return nil
}

func (s *recordingService) ListUsers(context.Context) ([]string, error) { return nil, nil }
func (s *recordingService) Stats(context.Context, string) (memory.UserStats, error) {
	return memory.UserStats{}, nil
}
func (s *recordingService) Close() error { return nil }

func instantExecutor() *reliability.Executor {
	e := reliability.NewExecutor(reliability.DefaultPolicy(), reliability.NewHealthMonitor(2*time.Minute))
	return e
}

type fixture struct {
	orch     *Orchestrator
	sessions *session.Manager
	svc      *recordingService
	adapter  *scriptedAdapter
	archive  *history.InMemoryStore
}

func newFixture(adapter *scriptedAdapter, svc *recordingService) *fixture {
	sessions := session.NewManager()
	archive := history.NewInMemoryStore()
	orch := NewOrchestrator(Config{
		Sessions:      sessions,
		Gateway:       memory.NewGateway(svc, memory.DefaultStorePolicy(), nil),
		Assembler:     prompt.NewAssembler("POLICY"),
		Executor:      instantExecutor(),
		Adapter:       adapter,
		Archive:       archive,
		RetrieveLimit: 5,
	})
	return &fixture{orch: orch, sessions: sessions, svc: svc, adapter: adapter, archive: archive}
}

func TestProcessTurnSuccess(t *testing.T) {
	svc := &recordingService{memories: []memory.Memory{{Text: "用户喜欢爬山", Score: 0.9}}}
	adapter := &scriptedAdapter{replies: []string{"周末去爬山怎么样？记得带水和防晒，山上紫外线比较强。"}}
	f := newFixture(adapter, svc)

	s := f.sessions.Create("u1", "")
	got, err := f.orch.ProcessTurn(context.Background(), s.ID, "u1", "帮我想想周末可以做什么活动安排")
	if err != nil {
		t.Fatalf("ProcessTurn() error = %v", err)
	}
	if got.Status != StatusSucceeded {
		t.Fatalf("Status = %v, want %v", got.Status, StatusSucceeded)
	}
	if len(got.RetrievedMemories) != 1 {
		t.Fatalf("RetrievedMemories = %v, want 1 entry", got.RetrievedMemories)
	}
	if !strings.Contains(got.SystemContext, "1. 用户喜欢爬山") {
		t.Fatalf("SystemContext = %q, missing numbered memory", got.SystemContext)
	}
	if !got.StoreDecision.Stored {
		t.Fatalf("StoreDecision = %+v, want stored", got.StoreDecision)
	}
	if len(svc.stored) != 1 {
		t.Fatalf("stored %d exchanges, want 1", len(svc.stored))
	}

	fresh, _ := f.sessions.Get(s.ID)
	if len(fresh.Messages) != 2 {
		t.Fatalf("session has %d messages, want 2", len(fresh.Messages))
	}
	if fresh.Messages[0].Role != "user" || fresh.Messages[1].Role != "assistant" {
		t.Fatalf("message roles = %s/%s", fresh.Messages[0].Role, fresh.Messages[1].Role)
	}
	if fresh.ActiveTurnID != "" {
		t.Fatalf("ActiveTurnID = %q after turn, want clear", fresh.ActiveTurnID)
	}
}

func TestProcessTurnSendsSystemContextFirst(t *testing.T) {
	adapter := &scriptedAdapter{replies: []string{"回答"}}
	f := newFixture(adapter, &recordingService{})

	s := f.sessions.Create("u1", "")
	if _, err := f.orch.ProcessTurn(context.Background(), s.ID, "u1", "你好，请介绍一下自己"); err != nil {
		t.Fatalf("ProcessTurn() error = %v", err)
	}

	if len(adapter.seen) != 1 {
		t.Fatalf("adapter saw %d calls, want 1", len(adapter.seen))
	}
	msgs := adapter.seen[0]
	if msgs[0].Role != "system" || !strings.Contains(msgs[0].Content, "POLICY") {
		t.Fatalf("first message = %+v, want system context", msgs[0])
	}
	last := msgs[len(msgs)-1]
	if last.Role != "user" || last.Content != "你好，请介绍一下自己" {
		t.Fatalf("last message = %+v, want current utterance", last)
	}
}

func TestProcessTurnAuthFailure(t *testing.T) {
	authErr := errors.New("401 unauthorized: bad api key")
	adapter := &scriptedAdapter{errs: []error{authErr, authErr, authErr}}
	svc := &recordingService{}
	f := newFixture(adapter, svc)

	s := f.sessions.Create("u1", "")
	got, err := f.orch.ProcessTurn(context.Background(), s.ID, "u1", "随便聊聊今天发生的事情吧")
	if err != nil {
		t.Fatalf("ProcessTurn() error = %v, want nil with failed turn", err)
	}
	if got.Status != StatusFailed {
		t.Fatalf("Status = %v, want %v", got.Status, StatusFailed)
	}
	if got.FailureClass != reliability.ClassAuth {
		t.Fatalf("FailureClass = %v, want %v", got.FailureClass, reliability.ClassAuth)
	}
	if adapter.calls != 1 {
		t.Fatalf("adapter calls = %d, want 1 (no retry on auth)", adapter.calls)
	}
	if !strings.HasPrefix(got.Reply, "🔑") {
		t.Fatalf("Reply = %q, want auth guidance", got.Reply)
	}
	if len(svc.stored) != 0 {
		t.Fatalf("stored %d exchanges after failure, want 0", len(svc.stored))
	}

	// The utterance survives the failure; the failure message is logged too.
	fresh, _ := f.sessions.Get(s.ID)
	if len(fresh.Messages) != 2 {
		t.Fatalf("session has %d messages, want 2", len(fresh.Messages))
	}
	if fresh.Messages[0].Content != "随便聊聊今天发生的事情吧" {
		t.Fatalf("first message = %q, want original utterance", fresh.Messages[0].Content)
	}
}

func TestProcessTurnRetrievalDegradesGracefully(t *testing.T) {
	svc := &recordingService{searchErr: errors.New("vector backend down")}
	adapter := &scriptedAdapter{replies: []string{"没有历史记忆也可以好好聊天。"}}
	f := newFixture(adapter, svc)

	s := f.sessions.Create("u1", "")
	got, err := f.orch.ProcessTurn(context.Background(), s.ID, "u1", "我们之前聊过什么来着？")
	if err != nil {
		t.Fatalf("ProcessTurn() error = %v", err)
	}
	if got.Status != StatusSucceeded {
		t.Fatalf("Status = %v, want success despite retrieval failure", got.Status)
	}
	if len(got.RetrievedMemories) != 0 {
		t.Fatalf("RetrievedMemories = %v, want empty", got.RetrievedMemories)
	}
	if got.SystemContext != "POLICY" {
		t.Fatalf("SystemContext = %q, want bare persona", got.SystemContext)
	}
}

func TestProcessTurnBusy(t *testing.T) {
	block := make(chan struct{})
	adapter := &scriptedAdapter{replies: []string{"第一轮回复内容足够长了。"}, block: block}
	f := newFixture(adapter, &recordingService{})

	s := f.sessions.Create("u1", "")

	done := make(chan struct{})
	go func() {
		defer close(done)
		f.orch.ProcessTurn(context.Background(), s.ID, "u1", "第一条消息说点什么好呢")
	}()

	// Wait for the first turn to take the in-flight slot.
	deadline := time.After(2 * time.Second)
	for {
		fresh, _ := f.sessions.Get(s.ID)
		if fresh.ActiveTurnID != "" {
			break
		}
		select {
		case <-deadline:
			t.Fatal("first turn never became active")
		case <-time.After(5 * time.Millisecond):
		}
	}

	_, err := f.orch.ProcessTurn(context.Background(), s.ID, "u1", "第二条消息")
	if !errors.Is(err, ErrBusy) {
		t.Fatalf("concurrent ProcessTurn() error = %v, want ErrBusy", err)
	}

	// The rejected turn must not have touched the log.
	fresh, _ := f.sessions.Get(s.ID)
	for _, m := range fresh.Messages {
		if m.Content == "第二条消息" {
			t.Fatal("rejected turn mutated the session log")
		}
	}

	close(block)
	<-done
}

func TestProcessTurnUnknownSession(t *testing.T) {
	f := newFixture(&scriptedAdapter{}, &recordingService{})
	if _, err := f.orch.ProcessTurn(context.Background(), "missing", "u1", "hi"); !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("ProcessTurn(missing) error = %v, want ErrNotFound", err)
	}
}

func TestProcessTurnArchivesWithRedaction(t *testing.T) {
	adapter := &scriptedAdapter{replies: []string{"好的，我记下你的联系方式了，稍后发详细攻略给你。"}}
	f := newFixture(adapter, &recordingService{})

	s := f.sessions.Create("u1", "")
	_, err := f.orch.ProcessTurn(context.Background(), s.ID, "u1", "我的邮箱是 zhang@example.com，请发行程给我")
	if err != nil {
		t.Fatalf("ProcessTurn() error = %v", err)
	}

	records, err := f.archive.RecentByUser(context.Background(), "u1", 10)
	if err != nil {
		t.Fatalf("RecentByUser() error = %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("archived %d records, want 2", len(records))
	}
	if !strings.Contains(records[0].Content, "[REDACTED_EMAIL]") {
		t.Fatalf("archived user message = %q, want redacted email", records[0].Content)
	}
	if !records[0].PIIRedacted {
		t.Fatal("PIIRedacted = false on redacted record")
	}
}

func TestProcessTurnRecoversAfterTransientFailures(t *testing.T) {
	transient := errors.New("connection reset by peer")
	adapter := &scriptedAdapter{
		errs:    []error{transient, transient, nil},
		replies: []string{"", "", "第三次终于成功了，我们继续聊。"},
	}
	svc := &recordingService{}
	f := newFixture(adapter, svc)
	// Swap in an executor whose waits are instant.
	f.orch.executor = reliability.NewExecutor(reliability.Policy{
		MaxAttempts:     3,
		BaseDelay:       time.Millisecond,
		RateLimitFactor: 2,
		NetworkFactor:   1.5,
	}, reliability.NewHealthMonitor(time.Minute))

	s := f.sessions.Create("u1", "")
	got, err := f.orch.ProcessTurn(context.Background(), s.ID, "u1", "网络不太稳定的时候也要能聊")
	if err != nil {
		t.Fatalf("ProcessTurn() error = %v", err)
	}
	if got.Status != StatusSucceeded {
		t.Fatalf("Status = %v, want success after retries", got.Status)
	}
	if adapter.calls != 3 {
		t.Fatalf("adapter calls = %d, want 3", adapter.calls)
	}
}

func TestProcessTurnSequentialTurnsShareHistory(t *testing.T) {
	adapter := &scriptedAdapter{replies: []string{
		"南京有很多好吃的，比如盐水鸭和鸭血粉丝汤。",
		"刚才说过的盐水鸭就很适合当伴手礼。",
	}}
	f := newFixture(adapter, &recordingService{})

	s := f.sessions.Create("u1", "")
	if _, err := f.orch.ProcessTurn(context.Background(), s.ID, "u1", "去南京旅游吃什么比较好"); err != nil {
		t.Fatalf("first ProcessTurn() error = %v", err)
	}
	if _, err := f.orch.ProcessTurn(context.Background(), s.ID, "u1", "那带什么伴手礼回来呢"); err != nil {
		t.Fatalf("second ProcessTurn() error = %v", err)
	}

	second := adapter.seen[1]
	var sawFirstReply bool
	for _, m := range second {
		if strings.Contains(m.Content, "盐水鸭和鸭血粉丝汤") {
			sawFirstReply = true
		}
	}
	if !sawFirstReply {
		t.Fatalf("second generation call missing prior assistant message: %+v", second)
	}
	if fmt.Sprint(second[0].Role) != "system" {
		t.Fatalf("first message role = %s, want system", second[0].Role)
	}
}
