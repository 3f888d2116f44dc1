package memory

import "context"

// Store is the vector storage backend interface.
// Implementations: chromem.Store (embedded), qdrant.Store (production).
type Store interface {
	// Store saves a record. The record must have its embedding set.
	Store(ctx context.Context, rec *Record) error

	// Search retrieves records for one user by vector similarity,
	// highest score first.
	Search(ctx context.Context, userID string, embedding []float32, limit int) ([]Result, error)

	// Close releases resources.
	Close() error
}

// Result pairs a retrieved record with its similarity score [0.0-1.0].
type Result struct {
	Record *Record
	Score  float64
}

// Embedder converts text to vector embeddings.
// Implementations: ollama.Embedder (HTTP), onnx.Embedder (local model,
// build tag onnx), mock.Embedder (testing).
type Embedder interface {
	// Embed converts a single text to an embedding vector.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimensions returns the embedding vector size.
	Dimensions() int
}

// Extractor distills raw utterance text into durable facts before
// storage. Implementations may call an LLM; errors make the Manager
// fall back to storing the raw text.
type Extractor interface {
	Extract(ctx context.Context, text string) (string, error)
}
