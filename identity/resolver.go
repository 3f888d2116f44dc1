// Package identity derives stable conversation and user keys from the
// incoming envelope.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/numberone-ai/filters-go-sdk/core"
)

// Anonymous is the user key used when no identity is available.
const Anonymous = "anonymous"

// Resolver produces conversation and user keys. The zero value is
// usable: no anonymization, wall-clock time.
type Resolver struct {
	// Anonymize replaces raw user ids with a fixed-length hash.
	Anonymize bool

	// Now overrides the clock, for tests. Nil means time.Now.
	Now func() time.Time
}

// ConversationID returns a stable key for the conversation.
//
// An explicit conversation_id or chat_id in the envelope is always
// preferred. Without one, the key is synthesized from the user id and
// the current unix second. The synthesis is lossy: turns that straddle
// a second boundary split one logical conversation into several keys.
func (r *Resolver) ConversationID(env *core.Envelope, user *core.User) string {
	if env != nil {
		if env.ConversationID != "" {
			return env.ConversationID
		}
		if env.ChatID != "" {
			return env.ChatID
		}
	}
	return fmt.Sprintf("%s_%d", r.UserID(user), r.now().Unix())
}

// UserID resolves the user key: id, then email, then username, else
// "anonymous". With Anonymize set, the resolved value is replaced by
// the first 16 hex characters of its sha256 digest.
func (r *Resolver) UserID(user *core.User) string {
	if user == nil {
		return Anonymous
	}

	id := user.ID
	if id == "" {
		id = user.Email
	}
	if id == "" {
		id = user.Username
	}
	if id == "" {
		return Anonymous
	}

	if r.Anonymize {
		sum := sha256.Sum256([]byte(id))
		return hex.EncodeToString(sum[:])[:16]
	}
	return id
}

func (r *Resolver) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}
