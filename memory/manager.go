package memory

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/dgraph-io/ristretto"
)

// Config holds Manager configuration.
type Config struct {
	// Enabled toggles the memory system on/off.
	Enabled bool

	// MinSimilarity is the minimum score for a retrieved record to be
	// considered usable [0.0-1.0]. Default: 0.7.
	MinSimilarity float64

	// MaxResults bounds a similarity search. Default: 3.
	MaxResults int

	// CacheTTL is how long a retrieval result is reused for an
	// identical (user, query) pair. Default: 30s. Negative disables
	// the cache.
	CacheTTL time.Duration
}

// DefaultConfig mirrors the defaults of the original memory filter.
var DefaultConfig = &Config{
	Enabled:       true,
	MinSimilarity: 0.7,
	MaxResults:    3,
	CacheTTL:      30 * time.Second,
}

// Manager orchestrates memory operations: embed the query, search the
// store, filter by relevance, and hand back the single best match.
type Manager struct {
	store     Store
	embedder  Embedder
	extractor Extractor
	cache     *ristretto.Cache
	config    *Config
}

// Option configures the Manager.
type Option func(*Manager)

// WithExtractor adds a fact-extraction pass before storage.
func WithExtractor(x Extractor) Option {
	return func(m *Manager) {
		m.extractor = x
	}
}

// NewManager creates a Manager over the given store and embedder.
func NewManager(store Store, embedder Embedder, config *Config, opts ...Option) (*Manager, error) {
	if store == nil {
		return nil, fmt.Errorf("memory: store is required")
	}
	if embedder == nil {
		return nil, fmt.Errorf("memory: embedder is required")
	}
	if config == nil {
		config = DefaultConfig
	}
	if config.MinSimilarity < 0 || config.MinSimilarity > 1 {
		return nil, fmt.Errorf("memory: MinSimilarity %v out of range [0,1]", config.MinSimilarity)
	}
	if config.MaxResults <= 0 {
		config.MaxResults = DefaultConfig.MaxResults
	}
	if config.CacheTTL == 0 {
		config.CacheTTL = DefaultConfig.CacheTTL
	}

	m := &Manager{
		store:    store,
		embedder: embedder,
		config:   config,
	}
	for _, opt := range opts {
		opt(m)
	}

	if config.CacheTTL > 0 {
		cache, err := ristretto.NewCache(&ristretto.Config{
			NumCounters: 10_000,
			MaxCost:     1 << 20,
			BufferItems: 64,
		})
		if err != nil {
			return nil, fmt.Errorf("memory: create retrieval cache: %w", err)
		}
		m.cache = cache
	}

	return m, nil
}

// Retrieve finds the most relevant stored memory for the query.
// Returns "" when nothing clears the similarity threshold.
func (m *Manager) Retrieve(ctx context.Context, userID, query string) (string, error) {
	if !m.config.Enabled || query == "" {
		return "", nil
	}

	cacheKey := userID + "\x00" + query
	if m.cache != nil {
		if v, ok := m.cache.Get(cacheKey); ok {
			return v.(string), nil
		}
	}

	embedding, err := m.embedder.Embed(ctx, query)
	if err != nil {
		return "", fmt.Errorf("embed query: %w", err)
	}

	results, err := m.store.Search(ctx, userID, embedding, m.config.MaxResults)
	if err != nil {
		return "", fmt.Errorf("search store: %w", err)
	}

	best := ""
	for _, r := range results {
		if r.Score >= m.config.MinSimilarity {
			best = r.Record.Text
			break
		}
	}
	log.Printf("[MEMORY] Retrieved %d results for user %s (best match: %v)",
		len(results), userID, best != "")

	if m.cache != nil {
		m.cache.SetWithTTL(cacheKey, best, int64(len(best))+1, m.config.CacheTTL)
	}
	return best, nil
}

// Record embeds and stores one span of utterance text for a user. When
// an extractor is configured it runs first; extraction failures fall
// back to storing the raw text.
func (m *Manager) Record(ctx context.Context, userID, conversationID, text string) error {
	if !m.config.Enabled || text == "" {
		return nil
	}

	if m.extractor != nil {
		extracted, err := m.extractor.Extract(ctx, text)
		if err != nil {
			log.Printf("[MEMORY] Fact extraction failed, storing raw text: %v", err)
		} else if extracted != "" {
			text = extracted
		}
	}

	rec := NewRecord(userID, conversationID, text)

	embedding, err := m.embedder.Embed(ctx, rec.Text)
	if err != nil {
		return fmt.Errorf("embed record: %w", err)
	}
	rec.Embedding = embedding

	if err := m.store.Store(ctx, rec); err != nil {
		return fmt.Errorf("store record: %w", err)
	}

	log.Printf("[MEMORY] Stored memory for user %s (%d chars)", userID, len(rec.Text))
	return nil
}

// Close releases the retrieval cache. The store is owned by the caller.
func (m *Manager) Close() {
	if m.cache != nil {
		m.cache.Close()
	}
}
