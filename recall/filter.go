// Package recall is the memory enrichment filter: it buffers user
// utterances per conversation, periodically flushes them to long-term
// memory, and injects the most relevant stored memory back into the
// transcript.
package recall

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/numberone-ai/filters-go-sdk/core"
	"github.com/numberone-ai/filters-go-sdk/identity"
	"github.com/numberone-ai/filters-go-sdk/session"
)

// Memory is the slice of memory.Manager the filter needs. Tests
// substitute a recorder.
type Memory interface {
	Retrieve(ctx context.Context, userID, query string) (string, error)
	Record(ctx context.Context, userID, conversationID, text string) error
}

// Config holds recall filter settings.
type Config struct {
	// EnableStorage buffers and flushes utterances to the store.
	EnableStorage bool

	// EnableRetrieval injects relevant memories into the transcript.
	EnableRetrieval bool

	// StoreCycles is how many user messages accumulate before a flush.
	// Default: 3.
	StoreCycles int

	// ContextTemplate wraps an injected memory; {memory} is replaced
	// with the retrieved text.
	ContextTemplate string

	// FlushJoinWait bounds how long a new flush waits for the previous
	// one before proceeding anyway. Default: 5s.
	FlushJoinWait time.Duration

	// StoreTimeout bounds one background storage call. Default: 30s.
	StoreTimeout time.Duration

	// SessionTTL expires idle pending buffers. Default: 30m.
	SessionTTL time.Duration

	// MaxSessions bounds tracked conversations. Default: 1024.
	MaxSessions int
}

// DefaultConfig mirrors the original memory filter's defaults.
var DefaultConfig = &Config{
	EnableStorage:   true,
	EnableRetrieval: true,
	StoreCycles:     3,
	ContextTemplate: "This is your inner voice talking, you remember this about the person you're chatting with: {memory}",
	FlushJoinWait:   5 * time.Second,
	StoreTimeout:    30 * time.Second,
	SessionTTL:      30 * time.Minute,
	MaxSessions:     1024,
}

// pending is the per-conversation utterance buffer. Its own lock
// covers concurrent inlets for the same conversation; the session
// store's lock only covers the map.
type pending struct {
	userID string

	mu         sync.Mutex
	utterances []string
}

// add appends one utterance and, once the buffer reaches threshold,
// drains it and returns the joined text. Draining happens even if the
// subsequent flush fails; the buffer must not grow without bound.
func (p *pending) add(utterance string, threshold int) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.utterances = append(p.utterances, utterance)
	if len(p.utterances) < threshold {
		return "", false
	}
	text := strings.Join(p.utterances, " ")
	p.utterances = nil
	return text, true
}

// Filter accumulates and recalls conversational memory. With a nil
// Memory every hook is a pass-through.
type Filter struct {
	memory   Memory
	resolver identity.Resolver
	sessions *session.Store[*pending]
	config   *Config

	// At most one storage flush is in flight per filter instance; the
	// channel closes when it finishes.
	mu        sync.Mutex
	flushDone chan struct{}
}

// New creates the recall filter.
func New(mem Memory, config *Config) *Filter {
	if config == nil {
		config = DefaultConfig
	}
	if config.StoreCycles <= 0 {
		config.StoreCycles = DefaultConfig.StoreCycles
	}
	if config.ContextTemplate == "" {
		config.ContextTemplate = DefaultConfig.ContextTemplate
	}
	if config.FlushJoinWait <= 0 {
		config.FlushJoinWait = DefaultConfig.FlushJoinWait
	}
	if config.StoreTimeout <= 0 {
		config.StoreTimeout = DefaultConfig.StoreTimeout
	}
	if config.SessionTTL == 0 {
		config.SessionTTL = DefaultConfig.SessionTTL
	}

	return &Filter{
		memory: mem,
		sessions: session.New[*pending](session.Config{
			MaxEntries: config.MaxSessions,
			TTL:        config.SessionTTL,
		}),
		config: config,
	}
}

func (f *Filter) Name() string { return "memory_recall" }

// Inlet buffers the latest user utterance, flushes the buffer once it
// reaches StoreCycles, and injects the best stored memory as a leading
// system message.
func (f *Filter) Inlet(ctx context.Context, env *core.Envelope, user *core.User) *core.Envelope {
	if f.memory == nil || env == nil || len(env.Messages) == 0 {
		return env
	}

	conversationID := f.resolver.ConversationID(env, user)
	userID := f.resolver.UserID(user)
	last := env.LastContent()

	if f.config.EnableStorage && last != "" {
		p := f.sessions.GetOrCreate(conversationID, func() *pending {
			return &pending{userID: userID}
		})
		if text, full := p.add(last, f.config.StoreCycles); full {
			f.dispatchFlush(userID, conversationID, text)
		}
	}

	if f.config.EnableRetrieval && last != "" {
		mem, err := f.memory.Retrieve(ctx, userID, last)
		if err != nil {
			log.Printf("[RECALL] Retrieval failed: %v", err)
		} else if mem != "" {
			env.PrependSystem(strings.ReplaceAll(f.config.ContextTemplate, "{memory}", mem))
			log.Printf("[RECALL] Injected memory for user %s", userID)
		}
	}

	return env
}

// Outlet is a pass-through; memory work happens on the way in.
func (f *Filter) Outlet(ctx context.Context, env *core.Envelope, user *core.User) *core.Envelope {
	return env
}

// dispatchFlush hands the joined utterances to the store in the
// background. A new flush waits briefly for the previous one, then
// proceeds regardless; the store must tolerate overlapping writes.
func (f *Filter) dispatchFlush(userID, conversationID, text string) {
	f.mu.Lock()
	prev := f.flushDone
	f.mu.Unlock()

	if prev != nil {
		select {
		case <-prev:
		case <-time.After(f.config.FlushJoinWait):
			log.Printf("[RECALL] Previous flush still running after %s, proceeding", f.config.FlushJoinWait)
		}
	}

	done := make(chan struct{})
	f.mu.Lock()
	f.flushDone = done
	f.mu.Unlock()

	go func() {
		defer close(done)
		ctx, cancel := context.WithTimeout(context.Background(), f.config.StoreTimeout)
		defer cancel()
		if err := f.memory.Record(ctx, userID, conversationID, text); err != nil {
			log.Printf("[RECALL] Failed to store memory: %v", err)
		}
	}()
}

// Startup probes the memory backend with a throwaway query. Failure is
// advisory; the filter still runs (and degrades per turn).
func (f *Filter) Startup(ctx context.Context) error {
	if f.memory == nil {
		return nil
	}
	if _, err := f.memory.Retrieve(ctx, identity.Anonymous, "connectivity check"); err != nil {
		return fmt.Errorf("memory connectivity check: %w", err)
	}
	return nil
}

// Shutdown waits for an in-flight flush, bounded by ctx.
func (f *Filter) Shutdown(ctx context.Context) error {
	f.mu.Lock()
	done := f.flushDone
	f.mu.Unlock()

	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("flush still in flight: %w", ctx.Err())
	}
}
