// Package chromem backs the memory store with chromem-go, a pure Go
// embedded vector database. It is the default store: no external
// service, everything in process memory.
package chromem

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	chromem "github.com/philippgille/chromem-go"

	"github.com/numberone-ai/filters-go-sdk/memory"
)

// Store keeps one chromem collection per user for namespace isolation.
type Store struct {
	db          *chromem.DB
	collections map[string]*chromem.Collection
	mu          sync.RWMutex
}

// New creates an embedded store.
func New() (*Store, error) {
	return &Store{
		db:          chromem.NewDB(),
		collections: make(map[string]*chromem.Collection),
	}, nil
}

func (s *Store) collection(userID string) (*chromem.Collection, error) {
	s.mu.RLock()
	col, ok := s.collections[userID]
	s.mu.RUnlock()
	if ok {
		return col, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if col, ok := s.collections[userID]; ok {
		return col, nil
	}

	name := "user_" + userID
	if userID == "" {
		name = "global"
	}
	// Embeddings are supplied by the caller; no embedding func, cosine
	// distance by default.
	col, err := s.db.CreateCollection(name, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("create collection: %w", err)
	}
	s.collections[userID] = col
	return col, nil
}

// Store saves a record with its embedding.
func (s *Store) Store(ctx context.Context, rec *memory.Record) error {
	col, err := s.collection(rec.OwnerID)
	if err != nil {
		return err
	}

	doc := chromem.Document{
		ID:        rec.ID,
		Content:   rec.Text,
		Embedding: rec.Embedding,
		Metadata: map[string]string{
			"owner_id":        rec.OwnerID,
			"conversation_id": rec.ConversationID,
			"created_at":      rec.CreatedAt.Format(time.RFC3339),
		},
	}
	if err := col.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("add document: %w", err)
	}
	return nil
}

// Search retrieves records by vector similarity, highest first.
func (s *Store) Search(ctx context.Context, userID string, embedding []float32, limit int) ([]memory.Result, error) {
	col, err := s.collection(userID)
	if err != nil {
		return nil, err
	}

	// chromem requires nResults <= collection size; walk the limit down
	// until the query fits.
	var raw []chromem.Result
	for n := limit; n >= 1; n-- {
		raw, err = col.QueryEmbedding(ctx, embedding, n, nil, nil)
		if err == nil {
			break
		}
		if isTooFewDocsError(err) {
			if n == 1 {
				log.Printf("[CHROMEM] Collection empty for user %s", userID)
				return nil, nil
			}
			continue
		}
		return nil, fmt.Errorf("chromem query: %w", err)
	}

	results := make([]memory.Result, 0, len(raw))
	for _, r := range raw {
		createdAt, _ := time.Parse(time.RFC3339, r.Metadata["created_at"])
		results = append(results, memory.Result{
			Record: &memory.Record{
				ID:             r.ID,
				OwnerID:        r.Metadata["owner_id"],
				ConversationID: r.Metadata["conversation_id"],
				Text:           r.Content,
				CreatedAt:      createdAt,
				Embedding:      r.Embedding,
			},
			Score: float64(r.Similarity),
		})
	}
	return results, nil
}

// Close is a no-op: chromem keeps everything in memory.
func (s *Store) Close() error { return nil }

func isTooFewDocsError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "nResults must be") || strings.Contains(msg, "number of documents")
}
