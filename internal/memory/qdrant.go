package memory

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// QdrantConfig holds connection and collection settings for the
// vector-backed memory service.
type QdrantConfig struct {
	Host       string
	Port       int
	APIKey     string
	UseTLS     bool
	Collection string
	VectorSize int
}

// QdrantService stores exchanges as embedded points in a Qdrant
// collection, one point per exchange, payload-scoped by user.
type QdrantService struct {
	client     *qdrant.Client
	embedder   Embedder
	collection string
	vectorSize int
}

// NewQdrantService connects to Qdrant and makes sure the collection
// exists with a cosine-distance vector config.
func NewQdrantService(ctx context.Context, cfg QdrantConfig, embedder Embedder) (*QdrantService, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to qdrant: %w", err)
	}

	svc := &QdrantService{
		client:     client,
		embedder:   embedder,
		collection: cfg.Collection,
		vectorSize: cfg.VectorSize,
	}
	if err := svc.ensureCollection(ctx); err != nil {
		client.Close()
		return nil, err
	}
	return svc, nil
}

func (s *QdrantService) ensureCollection(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil {
		return fmt.Errorf("check collection %s: %w", s.collection, err)
	}
	if exists {
		return nil
	}
	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(s.vectorSize),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("create collection %s: %w", s.collection, err)
	}
	log.Printf("memory: created qdrant collection %s (dims=%d)", s.collection, s.vectorSize)
	return nil
}

func userFilter(userID string) *qdrant.Filter {
	return &qdrant.Filter{
		Must: []*qdrant.Condition{
			{
				ConditionOneOf: &qdrant.Condition_Field{
					Field: &qdrant.FieldCondition{
						Key: "user_id",
						Match: &qdrant.Match{
							MatchValue: &qdrant.Match_Keyword{Keyword: userID},
						},
					},
				},
			},
		},
	}
}

// Search embeds the query and runs a payload-filtered similarity query.
func (s *QdrantService) Search(ctx context.Context, userID, query string, limit int) ([]Memory, error) {
	if limit <= 0 {
		return nil, nil
	}
	vector, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	var points []*qdrant.ScoredPoint
	err = s.withRetry(ctx, func() error {
		var qerr error
		points, qerr = s.client.Query(ctx, &qdrant.QueryPoints{
			CollectionName: s.collection,
			Query:          qdrant.NewQuery(vector...),
			Limit:          qdrant.PtrOf(uint64(limit)),
			WithPayload:    qdrant.NewWithPayload(true),
			Filter:         userFilter(userID),
		})
		return qerr
	})
	if err != nil {
		return nil, fmt.Errorf("query collection %s: %w", s.collection, err)
	}

	memories := make([]Memory, 0, len(points))
	for _, p := range points {
		m := Memory{Score: float64(p.Score)}
		if v, ok := p.Payload["text"]; ok {
			m.Text = v.GetStringValue()
		}
		if v, ok := p.Payload["turn_id"]; ok {
			m.SourceTurnID = v.GetStringValue()
		}
		if m.Text == "" {
			continue
		}
		memories = append(memories, m)
	}
	return memories, nil
}

// Store embeds the exchange text and upserts it as one point.
func (s *QdrantService) Store(ctx context.Context, ex Exchange) error {
	text := fmt.Sprintf("用户: %s\n助手: %s", ex.Utterance, ex.Reply)
	vector, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return fmt.Errorf("embed exchange: %w", err)
	}
	createdAt := ex.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	payload := map[string]*qdrant.Value{
		"text":       {Kind: &qdrant.Value_StringValue{StringValue: text}},
		"user_id":    {Kind: &qdrant.Value_StringValue{StringValue: ex.UserID}},
		"turn_id":    {Kind: &qdrant.Value_StringValue{StringValue: ex.TurnID}},
		"created_at": {Kind: &qdrant.Value_IntegerValue{IntegerValue: createdAt.Unix()}},
	}
	err = s.withRetry(ctx, func() error {
		_, uerr := s.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: s.collection,
			Points: []*qdrant.PointStruct{
				{
					Id:      qdrant.NewIDUUID(uuid.New().String()),
					Vectors: qdrant.NewVectors(vector...),
					Payload: payload,
				},
			},
		})
		return uerr
	})
	if err != nil {
		return fmt.Errorf("upsert point: %w", err)
	}
	return nil
}

const qdrantRetries = 2

// withRetry re-runs op on transient gRPC failures with a short pause.
func (s *QdrantService) withRetry(ctx context.Context, op func() error) error {
	var err error
	for attempt := 0; attempt <= qdrantRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * 200 * time.Millisecond):
			}
		}
		if err = op(); err == nil || !IsTransient(err) {
			return err
		}
	}
	return err
}

const scrollBatchSize = 256

// ListUsers scrolls the whole collection and collects distinct user IDs.
// Fine at this collection's scale; revisit if collections grow past a
// few hundred thousand points.
func (s *QdrantService) ListUsers(ctx context.Context) ([]string, error) {
	seen := make(map[string]struct{})
	var users []string
	var offset *qdrant.PointId
	for {
		points, nextOffset, err := s.client.ScrollAndOffset(ctx, &qdrant.ScrollPoints{
			CollectionName: s.collection,
			Offset:         offset,
			Limit:          qdrant.PtrOf(uint32(scrollBatchSize)),
			WithPayload:    qdrant.NewWithPayload(true),
		})
		if err != nil {
			return nil, fmt.Errorf("scroll collection %s: %w", s.collection, err)
		}
		if len(points) == 0 {
			break
		}
		for _, p := range points {
			v, ok := p.Payload["user_id"]
			if !ok {
				continue
			}
			id := v.GetStringValue()
			if id == "" {
				continue
			}
			if _, dup := seen[id]; !dup {
				seen[id] = struct{}{}
				users = append(users, id)
			}
		}
		if nextOffset == nil {
			break
		}
		offset = nextOffset
	}
	return users, nil
}

// Stats scrolls the user's points and reports count and age bounds.
func (s *QdrantService) Stats(ctx context.Context, userID string) (UserStats, error) {
	stats := UserStats{UserID: userID}
	var offset *qdrant.PointId
	for {
		points, nextOffset, err := s.client.ScrollAndOffset(ctx, &qdrant.ScrollPoints{
			CollectionName: s.collection,
			Offset:         offset,
			Limit:          qdrant.PtrOf(uint32(scrollBatchSize)),
			WithPayload:    qdrant.NewWithPayload(true),
			Filter:         userFilter(userID),
		})
		if err != nil {
			return UserStats{}, fmt.Errorf("scroll collection %s: %w", s.collection, err)
		}
		if len(points) == 0 {
			break
		}
		for _, p := range points {
			stats.MemoryCount++
			v, ok := p.Payload["created_at"]
			if !ok {
				continue
			}
			ts := time.Unix(v.GetIntegerValue(), 0)
			if stats.OldestAt.IsZero() || ts.Before(stats.OldestAt) {
				stats.OldestAt = ts
			}
			if ts.After(stats.NewestAt) {
				stats.NewestAt = ts
			}
		}
		if nextOffset == nil {
			break
		}
		offset = nextOffset
	}
	return stats, nil
}

func (s *QdrantService) Close() error {
	return s.client.Close()
}

// IsTransient reports whether a Qdrant error is worth retrying at a
// higher layer.
func IsTransient(err error) bool {
	st, ok := status.FromError(err)
	if !ok {
		return false
	}
	switch st.Code() {
	case codes.Unavailable, codes.DeadlineExceeded, codes.Aborted, codes.ResourceExhausted:
		return true
	default:
		return false
	}
}
