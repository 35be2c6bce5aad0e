package turn

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/brightbird/EasyMemGraph/internal/history"
	"github.com/brightbird/EasyMemGraph/internal/llm"
	"github.com/brightbird/EasyMemGraph/internal/memory"
	"github.com/brightbird/EasyMemGraph/internal/observability"
	"github.com/brightbird/EasyMemGraph/internal/prompt"
	"github.com/brightbird/EasyMemGraph/internal/reliability"
	"github.com/brightbird/EasyMemGraph/internal/session"
)

// ErrBusy means the session already has a turn in flight.
var ErrBusy = errors.New("session busy: turn already in progress")

// Orchestrator drives a user utterance through retrieval, context
// assembly, guarded generation and selective storage.
type Orchestrator struct {
	sessions      *session.Manager
	gateway       *memory.Gateway
	assembler     *prompt.Assembler
	executor      *reliability.Executor
	adapter       llm.Adapter
	archive       history.Store
	metrics       *observability.Metrics
	stages        *observability.StageWindow
	retrieveLimit int
}

// Config collects the orchestrator's collaborators.
type Config struct {
	Sessions      *session.Manager
	Gateway       *memory.Gateway
	Assembler     *prompt.Assembler
	Executor      *reliability.Executor
	Adapter       llm.Adapter
	Archive       history.Store
	Metrics       *observability.Metrics
	Stages        *observability.StageWindow
	RetrieveLimit int
}

func NewOrchestrator(cfg Config) *Orchestrator {
	limit := cfg.RetrieveLimit
	if limit <= 0 {
		limit = 5
	}
	return &Orchestrator{
		sessions:      cfg.Sessions,
		gateway:       cfg.Gateway,
		assembler:     cfg.Assembler,
		executor:      cfg.Executor,
		adapter:       cfg.Adapter,
		archive:       cfg.Archive,
		metrics:       cfg.Metrics,
		stages:        cfg.Stages,
		retrieveLimit: limit,
	}
}

// ProcessTurn runs one utterance through the full pipeline. The utterance
// is appended to the session log before any fallible step, so it survives
// every failure mode. A second call while a turn is in flight on the same
// session returns ErrBusy without touching the session.
func (o *Orchestrator) ProcessTurn(ctx context.Context, sessionID, userID, utterance string) (*Turn, error) {
	t := &Turn{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		UserID:    userID,
		Utterance: utterance,
		Status:    StatusPending,
		StartedAt: time.Now().UTC(),
	}

	if err := o.sessions.BeginTurn(sessionID, t.ID); err != nil {
		if errors.Is(err, session.ErrTurnInFlight) {
			o.countTurn("busy")
			return nil, ErrBusy
		}
		return nil, err
	}
	defer o.sessions.EndTurn(sessionID, t.ID)

	if _, err := o.sessions.AppendMessage(sessionID, session.Message{
		Role:    "user",
		Content: utterance,
	}); err != nil {
		return nil, err
	}

	retrieveStart := time.Now()
	t.RetrievedMemories = o.gateway.Retrieve(ctx, userID, utterance, o.retrieveLimit)
	o.observeStage("memory_retrieve", retrieveStart)

	buildStart := time.Now()
	t.SystemContext = o.assembler.Build(t.RetrievedMemories)
	o.observeStage("context_build", buildStart)

	messages := o.buildMessages(sessionID, t.SystemContext, utterance)

	generateStart := time.Now()
	var reply llm.Response
	err := o.executor.Run(ctx, func(ctx context.Context) error {
		var genErr error
		reply, genErr = o.adapter.Generate(ctx, messages)
		return genErr
	})
	o.observeStage("generate", generateStart)
	o.publishHealth()

	if err != nil {
		o.finishFailed(ctx, t, err)
		return t, nil
	}

	t.Reply = reply.Content

	storeStart := time.Now()
	t.StoreDecision = o.gateway.MaybeStore(ctx, memory.Exchange{
		UserID:    userID,
		TurnID:    t.ID,
		Utterance: utterance,
		Reply:     t.Reply,
	})
	o.observeStage("memory_store", storeStart)

	if _, err := o.sessions.AppendMessage(sessionID, session.Message{
		Role:     "assistant",
		Content:  t.Reply,
		Memories: t.RetrievedMemories,
	}); err != nil {
		log.Printf("turn %s: append assistant message: %v", t.ID, err)
	}

	t.Status = StatusSucceeded
	t.FinishedAt = time.Now().UTC()
	o.countTurn("success")
	o.observeTotal(t)
	o.archiveTurn(ctx, t)
	return t, nil
}

// finishFailed finalizes a turn after the executor gave up. The reply
// becomes the classified user-facing message and nothing is stored.
func (o *Orchestrator) finishFailed(ctx context.Context, t *Turn, err error) {
	var final *reliability.FinalError
	if errors.As(err, &final) {
		t.FailureClass = final.Class
		t.Reply = final.UserMessage
		if o.metrics != nil {
			o.metrics.ProviderErrors.WithLabelValues(string(final.Class)).Inc()
			for i := 1; i < final.Attempts; i++ {
				o.metrics.RetryAttempts.Inc()
			}
		}
		if o.stages != nil {
			o.stages.ObserveIndicator(string(final.Class))
		}
	} else {
		t.FailureClass = reliability.ClassOther
		t.Reply = reliability.UserMessage(reliability.ClassOther, err)
	}

	if _, appendErr := o.sessions.AppendMessage(t.SessionID, session.Message{
		Role:    "assistant",
		Content: t.Reply,
	}); appendErr != nil {
		log.Printf("turn %s: append failure message: %v", t.ID, appendErr)
	}

	t.Status = StatusFailed
	t.FinishedAt = time.Now().UTC()
	o.countTurn("failure")
	o.observeTotal(t)
	o.archiveTurn(ctx, t)
}

// buildMessages assembles the generation request: system context first,
// then the session log, which already ends with the current utterance.
func (o *Orchestrator) buildMessages(sessionID, systemContext, utterance string) []llm.Message {
	messages := []llm.Message{{Role: "system", Content: systemContext}}

	s, err := o.sessions.Get(sessionID)
	if err != nil {
		return append(messages, llm.Message{Role: "user", Content: utterance})
	}
	for _, m := range s.Messages {
		messages = append(messages, llm.Message{Role: m.Role, Content: m.Content})
	}
	return messages
}

// archiveTurn writes the exchange to the durable transcript with PII
// masked. Failures are logged and ignored.
func (o *Orchestrator) archiveTurn(ctx context.Context, t *Turn) {
	if o.archive == nil {
		return
	}
	entries := []struct {
		role    string
		content string
	}{
		{"user", t.Utterance},
		{"assistant", t.Reply},
	}
	for _, e := range entries {
		content, redacted := history.RedactPII(e.content)
		err := o.archive.SaveMessage(ctx, history.Record{
			UserID:      t.UserID,
			SessionID:   t.SessionID,
			TurnID:      t.ID,
			Role:        e.role,
			Content:     content,
			PIIRedacted: redacted,
		})
		if err != nil {
			log.Printf("turn %s: archive %s message: %v", t.ID, e.role, err)
		}
	}
}

func (o *Orchestrator) publishHealth() {
	if o.metrics == nil {
		return
	}
	var v float64
	switch o.executor.Health().Snapshot().Status {
	case reliability.StatusNormal:
		v = 1
	case reliability.StatusRateLimited:
		v = 2
	case reliability.StatusError:
		v = 3
	}
	o.metrics.APIHealth.Set(v)
}

func (o *Orchestrator) countTurn(outcome string) {
	if o.metrics != nil {
		o.metrics.Turns.WithLabelValues(outcome).Inc()
	}
}

func (o *Orchestrator) observeStage(stage string, start time.Time) {
	if o.stages != nil {
		o.stages.Observe(stage, float64(time.Since(start).Milliseconds()))
	}
}

func (o *Orchestrator) observeTotal(t *Turn) {
	d := t.FinishedAt.Sub(t.StartedAt)
	if o.metrics != nil {
		o.metrics.ObserveTurnLatency(d)
	}
	if o.stages != nil {
		o.stages.Observe("turn_total", float64(d.Milliseconds()))
	}
}
