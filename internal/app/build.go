package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/brightbird/EasyMemGraph/internal/config"
	"github.com/brightbird/EasyMemGraph/internal/history"
	"github.com/brightbird/EasyMemGraph/internal/httpapi"
	"github.com/brightbird/EasyMemGraph/internal/llm"
	"github.com/brightbird/EasyMemGraph/internal/memory"
	"github.com/brightbird/EasyMemGraph/internal/observability"
	"github.com/brightbird/EasyMemGraph/internal/prompt"
	"github.com/brightbird/EasyMemGraph/internal/reliability"
	"github.com/brightbird/EasyMemGraph/internal/session"
	"github.com/brightbird/EasyMemGraph/internal/turn"
)

// BuildResult bundles the wired components and a cleanup hook that
// releases their external connections.
type BuildResult struct {
	Config       config.Config
	API          *httpapi.Server
	Sessions     *session.Manager
	Orchestrator *turn.Orchestrator
	Metrics      *observability.Metrics
	Cleanup      func() error
}

// Build constructs the full service from configuration. Each step
// closes already-opened resources on failure so a half-built service
// never leaks connections.
func Build(ctx context.Context, cfg config.Config) (*BuildResult, error) {
	metrics := observability.NewMetrics(cfg.MetricsNamespace)
	stages := observability.NewStageWindow(256)

	memSvc, err := memory.NewService(ctx, memory.FactoryConfig{
		Provider: cfg.MemoryProvider,
		Qdrant: memory.QdrantConfig{
			Host:       cfg.QdrantHost,
			Port:       cfg.QdrantGRPCPort,
			APIKey:     cfg.QdrantAPIKey,
			UseTLS:     false,
			Collection: cfg.QdrantCollection,
			VectorSize: cfg.EmbeddingDims,
		},
	}, buildEmbedder(cfg))
	if err != nil {
		return nil, fmt.Errorf("memory service init failed: %w", err)
	}

	archive, err := history.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		memSvc.Close()
		return nil, fmt.Errorf("history store init failed: %w", err)
	}

	adapter, err := llm.NewAdapter(llm.Config{
		Mode:        cfg.LLMAdapterMode,
		BaseURL:     cfg.ModelScopeBaseURL,
		APIKey:      cfg.ModelScopeAPIKey,
		Model:       cfg.ModelName,
		Temperature: cfg.ModelTemperature,
		MaxTokens:   cfg.ModelMaxTokens,
	})
	if err != nil {
		archive.Close()
		memSvc.Close()
		return nil, fmt.Errorf("llm adapter init failed: %w", err)
	}

	health := reliability.NewHealthMonitor(cfg.RateLimitCooldown)
	executor := reliability.NewExecutor(reliability.Policy{
		MaxAttempts:     cfg.MaxAttempts,
		BaseDelay:       cfg.RetryBaseDelay,
		RateLimitFactor: 2,
		NetworkFactor:   1.5,
	}, health)

	sessions := session.NewManager()
	gateway := memory.NewGateway(memSvc, storePolicyFromConfig(cfg), metrics)
	assembler := prompt.NewAssembler(cfg.PersonaText)

	orchestrator := turn.NewOrchestrator(turn.Config{
		Sessions:      sessions,
		Gateway:       gateway,
		Assembler:     assembler,
		Executor:      executor,
		Adapter:       adapter,
		Archive:       archive,
		Metrics:       metrics,
		Stages:        stages,
		RetrieveLimit: cfg.RetrieveLimit,
	})

	api := httpapi.New(cfg, sessions, orchestrator, memSvc, health, metrics, stages)

	cleanup := func() error {
		var firstErr error
		if err := archive.Close(); err != nil {
			firstErr = err
		}
		if err := memSvc.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		return firstErr
	}

	return &BuildResult{
		Config:       cfg,
		API:          api,
		Sessions:     sessions,
		Orchestrator: orchestrator,
		Metrics:      metrics,
		Cleanup:      cleanup,
	}, nil
}

// buildEmbedder prefers the remote embedding endpoint when an API key
// is available, otherwise a deterministic local embedder so the
// service stays usable without credentials.
func buildEmbedder(cfg config.Config) memory.Embedder {
	if strings.TrimSpace(cfg.ModelScopeAPIKey) != "" {
		return memory.NewHTTPEmbedder(cfg.EmbeddingBaseURL, cfg.ModelScopeAPIKey, cfg.EmbeddingModel, cfg.EmbeddingDims)
	}
	return memory.NewLocalEmbedder(cfg.EmbeddingDims)
}

func storePolicyFromConfig(cfg config.Config) memory.StorePolicy {
	p := memory.DefaultStorePolicy()
	if cfg.MinUtteranceRunes > 0 {
		p.MinUtteranceRunes = cfg.MinUtteranceRunes
	}
	if cfg.MinReplyRunes > 0 {
		p.MinReplyRunes = cfg.MinReplyRunes
	}
	if cfg.ShortUtteranceRunes > 0 {
		p.ShortUtteranceRunes = cfg.ShortUtteranceRunes
	}
	if cfg.ShortReplyRunes > 0 {
		p.ShortReplyRunes = cfg.ShortReplyRunes
	}
	if cfg.GreetingReplyRunes > 0 {
		p.GreetingReplyRunes = cfg.GreetingReplyRunes
	}
	if len(cfg.Greetings) > 0 {
		p.Greetings = cfg.Greetings
	}
	if len(cfg.PersonalMarkers) > 0 {
		p.PersonalMarkers = cfg.PersonalMarkers
	}
	return p
}
