package memory

import (
	"time"

	"github.com/google/uuid"
)

// Record is one stored conversational memory: a span of user utterances
// (or the facts extracted from them) owned by a single user.
type Record struct {
	ID             string
	OwnerID        string
	ConversationID string
	Text           string
	CreatedAt      time.Time
	Embedding      []float32
}

// NewRecord creates a record ready for embedding and storage.
func NewRecord(ownerID, conversationID, text string) *Record {
	return &Record{
		ID:             uuid.New().String(),
		OwnerID:        ownerID,
		ConversationID: conversationID,
		Text:           text,
		CreatedAt:      time.Now(),
	}
}
