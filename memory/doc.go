// Package memory provides long-term conversational memory for the
// recall filter.
//
// User utterances are stored as vector-embedded records, namespaced by
// user id, and retrieved by similarity against the current message.
//
// Architecture:
//   - Store: vector storage backend (chromem-go embedded, Qdrant over gRPC)
//   - Embedder: text-to-vector conversion (Ollama HTTP, local ONNX, mock)
//   - Manager: orchestrates embedding, search, threshold filtering, storage
//   - Extractor: optional LLM pass distilling raw utterances into durable
//     facts before storage
package memory
