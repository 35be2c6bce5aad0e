package memory

import (
	"context"
	"fmt"
	"strings"
)

// FactoryConfig selects and configures the memory backend.
type FactoryConfig struct {
	Provider string // "auto", "qdrant" or "inmemory"
	Qdrant   QdrantConfig
}

// NewService creates a qdrant-backed service when a host is configured,
// otherwise the in-process fallback.
func NewService(ctx context.Context, cfg FactoryConfig, embedder Embedder) (Service, error) {
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	switch provider {
	case "", "auto":
		if strings.TrimSpace(cfg.Qdrant.Host) == "" {
			return NewInMemoryService(), nil
		}
		return NewQdrantService(ctx, cfg.Qdrant, embedder)
	case "inmemory":
		return NewInMemoryService(), nil
	case "qdrant":
		return NewQdrantService(ctx, cfg.Qdrant, embedder)
	default:
		return nil, fmt.Errorf("unknown memory provider %q", cfg.Provider)
	}
}
