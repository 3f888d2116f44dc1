// Package tracking is the observability filter: it opens a Langfuse
// trace per conversation on inlet and finalizes it on outlet with
// output, token estimates, latency and cost.
package tracking

import (
	"context"
	"fmt"
	"log"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/numberone-ai/filters-go-sdk/core"
	"github.com/numberone-ai/filters-go-sdk/identity"
	"github.com/numberone-ai/filters-go-sdk/langfuse"
	"github.com/numberone-ai/filters-go-sdk/session"
)

// Backend receives observability events. *langfuse.Client implements
// it; tests substitute a recorder.
type Backend interface {
	CreateTrace(langfuse.Trace)
	CreateGeneration(langfuse.Generation)
	UpdateGeneration(langfuse.GenerationUpdate)
	Flush(ctx context.Context) error
}

// Config holds tracking filter settings.
type Config struct {
	// TrackModelParameters records the allow-listed request parameters.
	TrackModelParameters bool

	// ExcludeSystemMessages leaves system messages out of the recorded
	// input.
	ExcludeSystemMessages bool

	// AnonymizeUsers hashes user ids before they leave the process.
	AnonymizeUsers bool

	// MaxContentLength truncates recorded input/output. Default: 10000.
	MaxContentLength int

	// Cost per token, in USD. Defaults: $1 per 1M input tokens, $2 per
	// 1M output tokens.
	CostPerInputToken  float64
	CostPerOutputToken float64

	// SessionTTL expires open turns that never saw an outlet.
	// Default: 30m.
	SessionTTL time.Duration

	// MaxSessions bounds concurrently open turns. Default: 1024.
	MaxSessions int
}

// DefaultConfig mirrors the original tracking pipeline's defaults.
var DefaultConfig = &Config{
	TrackModelParameters: true,
	MaxContentLength:     10000,
	CostPerInputToken:    0.000001,
	CostPerOutputToken:   0.000002,
	SessionTTL:           30 * time.Minute,
	MaxSessions:          1024,
}

// turn is the per-conversation state between inlet and outlet.
type turn struct {
	generationID string
	startedAt    time.Time
	inputTokens  int
}

// Filter records one trace and generation per conversation turn.
// With a nil backend the filter is a pass-through.
type Filter struct {
	backend  Backend
	resolver identity.Resolver
	sessions *session.Store[*turn]
	config   *Config
}

// New creates the tracking filter. backend may be nil (missing
// credentials), which degrades every hook to a no-op.
func New(backend Backend, config *Config) *Filter {
	if config == nil {
		config = DefaultConfig
	}
	if config.MaxContentLength <= 0 {
		config.MaxContentLength = DefaultConfig.MaxContentLength
	}
	if config.CostPerInputToken == 0 {
		config.CostPerInputToken = DefaultConfig.CostPerInputToken
	}
	if config.CostPerOutputToken == 0 {
		config.CostPerOutputToken = DefaultConfig.CostPerOutputToken
	}
	if config.SessionTTL == 0 {
		config.SessionTTL = DefaultConfig.SessionTTL
	}

	return &Filter{
		backend:  backend,
		resolver: identity.Resolver{Anonymize: config.AnonymizeUsers},
		sessions: session.New[*turn](session.Config{
			MaxEntries: config.MaxSessions,
			TTL:        config.SessionTTL,
		}),
		config: config,
	}
}

func (f *Filter) Name() string { return "langfuse_tracking" }

// Inlet opens a trace and generation for the conversation.
func (f *Filter) Inlet(ctx context.Context, env *core.Envelope, user *core.User) *core.Envelope {
	if f.backend == nil || env == nil || len(env.Messages) == 0 {
		return env
	}

	conversationID := f.resolver.ConversationID(env, user)
	userID := f.resolver.UserID(user)

	input := f.extractInput(env)
	inputTokens := EstimateTokens(input)
	generationID := uuid.New().String()

	f.backend.CreateTrace(langfuse.Trace{
		ID:     conversationID,
		Name:   "Conversation_" + conversationID,
		UserID: userID,
		Metadata: map[string]any{
			"filter":    f.Name(),
			"timestamp": time.Now().Format(time.RFC3339),
		},
	})

	gen := langfuse.Generation{
		ID:      generationID,
		TraceID: conversationID,
		Name:    "LLM_Generation_" + env.Model,
		Model:   env.Model,
		Input:   input,
		Usage:   &langfuse.Usage{Input: inputTokens},
		Metadata: map[string]any{
			"message_count": len(env.Messages),
			"user_id":       userID,
		},
	}
	if f.config.TrackModelParameters {
		gen.ModelParameters = env.ModelParameters()
	}
	f.backend.CreateGeneration(gen)

	f.sessions.Put(conversationID, &turn{
		generationID: generationID,
		startedAt:    time.Now(),
		inputTokens:  inputTokens,
	})

	log.Printf("[TRACKING] Started trace for conversation %s", conversationID)
	return env
}

// Outlet finalizes the open generation for the conversation. Without a
// matching inlet this is a no-op.
func (f *Filter) Outlet(ctx context.Context, env *core.Envelope, user *core.User) *core.Envelope {
	if f.backend == nil || env == nil {
		return env
	}

	conversationID := f.resolver.ConversationID(env, user)
	t, ok := f.sessions.Get(conversationID)
	if !ok {
		return env
	}

	output := truncate(env.OutputText(), f.config.MaxContentLength)
	outputTokens := EstimateTokens(output)
	cost := Cost(t.inputTokens, outputTokens, f.config.CostPerInputToken, f.config.CostPerOutputToken)
	latency := time.Since(t.startedAt).Milliseconds()

	f.backend.UpdateGeneration(langfuse.GenerationUpdate{
		ID:      t.generationID,
		TraceID: conversationID,
		Output:  output,
		Usage: &langfuse.Usage{
			Input:  t.inputTokens,
			Output: outputTokens,
			Total:  t.inputTokens + outputTokens,
		},
		EndTime: time.Now(),
		Metadata: map[string]any{
			"response_time_ms": latency,
			"cost_usd":         cost,
		},
	})

	f.sessions.Delete(conversationID)
	log.Printf("[TRACKING] Completed trace for conversation %s (%dms, $%.6f)",
		conversationID, latency, cost)
	return env
}

// Startup pushes any queued events through once, as a connectivity
// probe. Failure is advisory.
func (f *Filter) Startup(ctx context.Context) error {
	if f.backend == nil {
		return nil
	}
	if err := f.backend.Flush(ctx); err != nil {
		return fmt.Errorf("langfuse connectivity check: %w", err)
	}
	return nil
}

// Shutdown flushes pending telemetry with the caller's deadline.
func (f *Filter) Shutdown(ctx context.Context) error {
	if f.backend == nil {
		return nil
	}
	return f.backend.Flush(ctx)
}

// extractInput renders the transcript as "role: content" lines,
// truncated to the configured bound.
func (f *Filter) extractInput(env *core.Envelope) string {
	parts := make([]string, 0, len(env.Messages))
	for _, msg := range env.Messages {
		if f.config.ExcludeSystemMessages && msg.Role == core.RoleSystem {
			continue
		}
		parts = append(parts, msg.Role+": "+msg.Content)
	}
	return truncate(strings.Join(parts, "\n"), f.config.MaxContentLength)
}

// EstimateTokens approximates a token count as len/4. It is not a
// tokenizer; it only has to be stable and cheap.
func EstimateTokens(text string) int {
	return len(text) / 4
}

// Cost computes the estimated turn cost in USD, rounded to 6 decimals.
func Cost(inputTokens, outputTokens int, perInput, perOutput float64) float64 {
	cost := float64(inputTokens)*perInput + float64(outputTokens)*perOutput
	return math.Round(cost*1e6) / 1e6
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
