package memory

import (
	"context"
	"log"

	"github.com/brightbird/EasyMemGraph/internal/observability"
)

// Gateway fronts the memory Service for the turn pipeline. Retrieval and
// storage errors are absorbed here so a degraded memory backend can never
// fail a turn.
type Gateway struct {
	svc     Service
	policy  StorePolicy
	metrics *observability.Metrics
}

// NewGateway wires a gateway over the given backend and write policy.
func NewGateway(svc Service, policy StorePolicy, metrics *observability.Metrics) *Gateway {
	return &Gateway{svc: svc, policy: policy, metrics: metrics}
}

// Retrieve returns up to limit memories relevant to the query. Backend
// errors are logged and swallowed; the caller sees an empty result.
func (g *Gateway) Retrieve(ctx context.Context, userID, query string, limit int) []Memory {
	mems, err := g.svc.Search(ctx, userID, query, limit)
	if err != nil {
		log.Printf("memory: search for user %s failed, continuing without context: %v", userID, err)
		if g.metrics != nil {
			g.metrics.MemoryErrors.WithLabelValues("search").Inc()
		}
		return nil
	}
	return mems
}

// MaybeStore applies the write policy and, when it says store, persists
// the exchange. Storage failures come back as a negative decision with
// the error text as reason, never as an error.
func (g *Gateway) MaybeStore(ctx context.Context, ex Exchange) Decision {
	decision := g.policy.Decide(ex.Utterance, ex.Reply)
	if !decision.Stored {
		g.countDecision(decision.Reason)
		return decision
	}
	if err := g.svc.Store(ctx, ex); err != nil {
		log.Printf("memory: store for user %s failed: %v", ex.UserID, err)
		if g.metrics != nil {
			g.metrics.MemoryErrors.WithLabelValues("store").Inc()
		}
		g.countDecision("store_error")
		return Decision{Stored: false, Reason: err.Error()}
	}
	g.countDecision(decision.Reason)
	return decision
}

func (g *Gateway) countDecision(reason string) {
	if g.metrics != nil {
		g.metrics.StoreDecisions.WithLabelValues(reason).Inc()
	}
}
