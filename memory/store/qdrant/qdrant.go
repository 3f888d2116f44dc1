// Package qdrant backs the memory store with a Qdrant instance over
// gRPC. This is the production store; chromem is the embedded default.
package qdrant

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"

	"github.com/numberone-ai/filters-go-sdk/memory"
)

// Responses are capped well below this; the bound guards against a
// misconfigured collection streaming huge payloads.
const maxRecvMsgSize = 16 << 20

// Config locates the Qdrant instance and collection.
type Config struct {
	// Host of the Qdrant server. Default: "qdrant".
	Host string

	// Port of the gRPC endpoint. Default: 6334.
	Port int

	// Collection name. Default: "memories".
	Collection string

	// Dimensions must match the embedder's vector size. Default: 768.
	Dimensions int

	// APIKey is optional.
	APIKey string
}

// Store is a Qdrant-backed memory store. All users share one
// collection; records are filtered by an owner_id payload field.
type Store struct {
	client     *qdrant.Client
	collection string
	dimensions int
}

// New connects to Qdrant and ensures the collection exists.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Host == "" {
		cfg.Host = "qdrant"
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}
	if cfg.Collection == "" {
		cfg.Collection = "memories"
	}
	if cfg.Dimensions == 0 {
		cfg.Dimensions = 768
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(grpc.MaxCallRecvMsgSize(maxRecvMsgSize)),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("connect qdrant: %w", err)
	}

	s := &Store{
		client:     client,
		collection: cfg.Collection,
		dimensions: cfg.Dimensions,
	}
	if err := s.ensureCollection(ctx); err != nil {
		client.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureCollection(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil {
		return fmt.Errorf("check collection: %w", err)
	}
	if exists {
		return nil
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(s.dimensions),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("create collection: %w", err)
	}
	log.Printf("[QDRANT] Created collection %q (dims=%d)", s.collection, s.dimensions)
	return nil
}

// Store upserts a record with its embedding.
func (s *Store) Store(ctx context.Context, rec *memory.Record) error {
	if len(rec.Embedding) != s.dimensions {
		return fmt.Errorf("embedding has %d dims, collection expects %d", len(rec.Embedding), s.dimensions)
	}

	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.collection,
		Wait:           qdrant.PtrOf(true),
		Points: []*qdrant.PointStruct{
			{
				Id:      qdrant.NewIDUUID(rec.ID),
				Vectors: qdrant.NewVectors(rec.Embedding...),
				Payload: qdrant.NewValueMap(map[string]any{
					"text":            rec.Text,
					"owner_id":        rec.OwnerID,
					"conversation_id": rec.ConversationID,
					"created_at":      rec.CreatedAt.Format(time.RFC3339),
				}),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("upsert point: %w", err)
	}
	return nil
}

// Search retrieves records by vector similarity, filtered to one owner.
func (s *Store) Search(ctx context.Context, userID string, embedding []float32, limit int) ([]memory.Result, error) {
	points, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.collection,
		Query:          qdrant.NewQuery(embedding...),
		Limit:          qdrant.PtrOf(uint64(limit)),
		Filter: &qdrant.Filter{
			Must: []*qdrant.Condition{
				qdrant.NewMatch("owner_id", userID),
			},
		},
		WithPayload: qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("query points: %w", err)
	}

	results := make([]memory.Result, 0, len(points))
	for _, p := range points {
		createdAt, _ := time.Parse(time.RFC3339, p.GetPayload()["created_at"].GetStringValue())
		results = append(results, memory.Result{
			Record: &memory.Record{
				ID:             p.GetId().GetUuid(),
				OwnerID:        p.GetPayload()["owner_id"].GetStringValue(),
				ConversationID: p.GetPayload()["conversation_id"].GetStringValue(),
				Text:           p.GetPayload()["text"].GetStringValue(),
				CreatedAt:      createdAt,
			},
			Score: float64(p.GetScore()),
		})
	}
	return results, nil
}

// Close tears down the gRPC connection.
func (s *Store) Close() error {
	return s.client.Close()
}
