package tracking_test

import (
	"context"
	"strings"
	"testing"

	"github.com/numberone-ai/filters-go-sdk/core"
	"github.com/numberone-ai/filters-go-sdk/langfuse"
	"github.com/numberone-ai/filters-go-sdk/tracking"
)

// recorder captures backend calls in order.
type recorder struct {
	traces      []langfuse.Trace
	generations []langfuse.Generation
	updates     []langfuse.GenerationUpdate
	flushes     int
}

func (r *recorder) CreateTrace(t langfuse.Trace)                { r.traces = append(r.traces, t) }
func (r *recorder) CreateGeneration(g langfuse.Generation)      { r.generations = append(r.generations, g) }
func (r *recorder) UpdateGeneration(u langfuse.GenerationUpdate) { r.updates = append(r.updates, u) }
func (r *recorder) Flush(ctx context.Context) error             { r.flushes++; return nil }

func request(t *testing.T, body string) *core.Envelope {
	t.Helper()
	env, err := core.ParseEnvelope([]byte(body))
	if err != nil {
		t.Fatalf("Failed to parse envelope: %v", err)
	}
	return env
}

func TestEstimateTokens(t *testing.T) {
	tests := []struct {
		text string
		want int
	}{
		{"", 0},
		{"abcd", 1},
		{"abcdefg", 1},
		{"abcdefgh", 2},
	}
	for _, tt := range tests {
		if got := tracking.EstimateTokens(tt.text); got != tt.want {
			t.Errorf("EstimateTokens(%q) = %d, want %d", tt.text, got, tt.want)
		}
	}
}

func TestCost(t *testing.T) {
	// 1M input tokens at $1/1M plus 500k output tokens at $2/1M.
	got := tracking.Cost(1_000_000, 500_000, 0.000001, 0.000002)
	if got != 2.0 {
		t.Errorf("Cost = %v, want 2.0", got)
	}

	// Rounded to 6 decimal places.
	got = tracking.Cost(1, 1, 0.000001, 0.000002)
	if got != 0.000003 {
		t.Errorf("Cost = %v, want 0.000003", got)
	}
}

func TestInletOutlet_Lifecycle(t *testing.T) {
	backend := &recorder{}
	f := tracking.New(backend, nil)
	ctx := context.Background()

	inletEnv := request(t, `{"chat_id":"conv-1","model":"gpt-4","temperature":0.7,"messages":[{"role":"user","content":"hello"}]}`)
	f.Inlet(ctx, inletEnv, &core.User{ID: "u1"})

	if len(backend.traces) != 1 {
		t.Fatalf("traces = %d, want 1", len(backend.traces))
	}
	trace := backend.traces[0]
	if trace.ID != "conv-1" || trace.Name != "Conversation_conv-1" {
		t.Errorf("trace = %+v", trace)
	}
	if trace.UserID != "u1" {
		t.Errorf("trace user = %q, want u1", trace.UserID)
	}

	if len(backend.generations) != 1 {
		t.Fatalf("generations = %d, want 1", len(backend.generations))
	}
	gen := backend.generations[0]
	if gen.TraceID != "conv-1" || gen.Name != "LLM_Generation_gpt-4" {
		t.Errorf("generation = %+v", gen)
	}
	if !strings.Contains(gen.Input, "user: hello") {
		t.Errorf("generation input = %q, want role-prefixed transcript", gen.Input)
	}
	if gen.ModelParameters["temperature"] != 0.7 {
		t.Errorf("model parameters = %v, want temperature recorded", gen.ModelParameters)
	}

	outletEnv := request(t, `{"chat_id":"conv-1","choices":[{"message":{"role":"assistant","content":"hi there"}}]}`)
	f.Outlet(ctx, outletEnv, &core.User{ID: "u1"})

	if len(backend.updates) != 1 {
		t.Fatalf("updates = %d, want 1", len(backend.updates))
	}
	up := backend.updates[0]
	if up.ID != gen.ID {
		t.Errorf("update targets generation %q, want %q", up.ID, gen.ID)
	}
	if up.Output != "hi there" {
		t.Errorf("update output = %q", up.Output)
	}
	if up.Usage == nil || up.Usage.Total != up.Usage.Input+up.Usage.Output {
		t.Errorf("usage = %+v, want total = input + output", up.Usage)
	}
	if _, ok := up.Metadata["cost_usd"]; !ok {
		t.Error("update metadata missing cost_usd")
	}
	if _, ok := up.Metadata["response_time_ms"]; !ok {
		t.Error("update metadata missing response_time_ms")
	}

	// The turn is closed; a second outlet is a no-op.
	f.Outlet(ctx, outletEnv, &core.User{ID: "u1"})
	if len(backend.updates) != 1 {
		t.Errorf("updates after repeated outlet = %d, want 1", len(backend.updates))
	}
}

func TestInlet_EmptyTranscript(t *testing.T) {
	backend := &recorder{}
	f := tracking.New(backend, nil)

	env := request(t, `{"chat_id":"c1","model":"m","messages":[]}`)
	if got := f.Inlet(context.Background(), env, nil); got != env {
		t.Error("Inlet should pass an empty transcript through")
	}
	if len(backend.traces) != 0 {
		t.Errorf("traces = %d, want none for an empty transcript", len(backend.traces))
	}
}

func TestOutlet_WithoutInletIsNoOp(t *testing.T) {
	backend := &recorder{}
	f := tracking.New(backend, nil)

	env := request(t, `{"chat_id":"conv-9","choices":[{"message":{"content":"orphan"}}]}`)
	f.Outlet(context.Background(), env, nil)

	if len(backend.updates) != 0 {
		t.Errorf("updates = %d, want 0 for outlet without inlet", len(backend.updates))
	}
}

func TestNilBackend_PassThrough(t *testing.T) {
	f := tracking.New(nil, nil)
	env := request(t, `{"chat_id":"c","messages":[{"role":"user","content":"hi"}]}`)

	if got := f.Inlet(context.Background(), env, nil); got != env {
		t.Error("Inlet with nil backend should pass through")
	}
	if err := f.Startup(context.Background()); err != nil {
		t.Errorf("Startup with nil backend: %v", err)
	}
}

func TestExcludeSystemMessages(t *testing.T) {
	backend := &recorder{}
	f := tracking.New(backend, &tracking.Config{ExcludeSystemMessages: true})

	env := request(t, `{"chat_id":"c1","model":"m","messages":[{"role":"system","content":"secret prompt"},{"role":"user","content":"hi"}]}`)
	f.Inlet(context.Background(), env, nil)

	if len(backend.generations) != 1 {
		t.Fatalf("generations = %d, want 1", len(backend.generations))
	}
	input := backend.generations[0].Input
	if strings.Contains(input, "secret prompt") {
		t.Errorf("input %q should exclude system messages", input)
	}
	if !strings.Contains(input, "user: hi") {
		t.Errorf("input %q should keep the user message", input)
	}
}

func TestAnonymizeUsers(t *testing.T) {
	backend := &recorder{}
	f := tracking.New(backend, &tracking.Config{AnonymizeUsers: true})

	env := request(t, `{"chat_id":"c1","model":"m","messages":[{"role":"user","content":"hi"}]}`)
	f.Inlet(context.Background(), env, &core.User{ID: "alice@example.com"})

	if len(backend.traces) != 1 {
		t.Fatalf("traces = %d, want 1", len(backend.traces))
	}
	userID := backend.traces[0].UserID
	if userID == "alice@example.com" {
		t.Error("raw user id leaked into the trace")
	}
	if len(userID) != 16 {
		t.Errorf("anonymized user id = %q, want 16 hex chars", userID)
	}
}

func TestOutputTruncation(t *testing.T) {
	backend := &recorder{}
	f := tracking.New(backend, &tracking.Config{MaxContentLength: 10})
	ctx := context.Background()

	f.Inlet(ctx, request(t, `{"chat_id":"c1","model":"m","messages":[{"role":"user","content":"hi"}]}`), nil)
	f.Outlet(ctx, request(t, `{"chat_id":"c1","choices":[{"message":{"content":"this output is far too long"}}]}`), nil)

	if len(backend.updates) != 1 {
		t.Fatalf("updates = %d, want 1", len(backend.updates))
	}
	out := backend.updates[0].Output
	if out != "this outpu..." {
		t.Errorf("truncated output = %q", out)
	}
}
