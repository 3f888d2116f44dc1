package memory_test

import (
	"context"
	"errors"
	"testing"

	"github.com/numberone-ai/filters-go-sdk/memory"
	"github.com/numberone-ai/filters-go-sdk/memory/embedder/mock"
	"github.com/numberone-ai/filters-go-sdk/memory/store/chromem"
)

// fakeStore records calls and serves canned results.
type fakeStore struct {
	stored  []*memory.Record
	results []memory.Result
	search  int
}

func (f *fakeStore) Store(ctx context.Context, rec *memory.Record) error {
	f.stored = append(f.stored, rec)
	return nil
}

func (f *fakeStore) Search(ctx context.Context, userID string, embedding []float32, limit int) ([]memory.Result, error) {
	f.search++
	return f.results, nil
}

func (f *fakeStore) Close() error { return nil }

// fakeExtractor returns a fixed fact or a fixed error.
type fakeExtractor struct {
	fact string
	err  error
}

func (f *fakeExtractor) Extract(ctx context.Context, text string) (string, error) {
	return f.fact, f.err
}

func TestNewManager_Validation(t *testing.T) {
	embedder := mock.New(384)
	store, err := chromem.New()
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}

	if _, err := memory.NewManager(nil, embedder, nil); err == nil {
		t.Error("NewManager accepted a nil store")
	}
	if _, err := memory.NewManager(store, nil, nil); err == nil {
		t.Error("NewManager accepted a nil embedder")
	}
	if _, err := memory.NewManager(store, embedder, &memory.Config{Enabled: true, MinSimilarity: 1.5}); err == nil {
		t.Error("NewManager accepted MinSimilarity out of range")
	}
}

func TestManager_RecordAndRetrieve(t *testing.T) {
	ctx := context.Background()

	store, err := chromem.New()
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	embedder := mock.New(384)

	manager, err := memory.NewManager(store, embedder, &memory.Config{
		Enabled:       true,
		MinSimilarity: 0.9,
		CacheTTL:      -1,
	})
	if err != nil {
		t.Fatalf("Failed to create manager: %v", err)
	}
	defer manager.Close()

	text := "User prefers dark roast coffee"
	if err := manager.Record(ctx, "user1", "conv1", text); err != nil {
		t.Fatalf("Failed to record memory: %v", err)
	}

	// The mock embedder is deterministic, so the identical query embeds
	// to the identical vector and matches with similarity 1.
	got, err := manager.Retrieve(ctx, "user1", text)
	if err != nil {
		t.Fatalf("Failed to retrieve memory: %v", err)
	}
	if got != text {
		t.Errorf("Retrieve = %q, want %q", got, text)
	}
}

func TestManager_ThresholdFiltersWeakMatches(t *testing.T) {
	ctx := context.Background()

	store, err := chromem.New()
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	embedder := mock.New(384)

	manager, err := memory.NewManager(store, embedder, &memory.Config{
		Enabled:       true,
		MinSimilarity: 0.99,
		CacheTTL:      -1,
	})
	if err != nil {
		t.Fatalf("Failed to create manager: %v", err)
	}
	defer manager.Close()

	if err := manager.Record(ctx, "user1", "conv1", "likes hiking in the mountains"); err != nil {
		t.Fatalf("Failed to record memory: %v", err)
	}

	// An unrelated query embeds to an unrelated vector; nothing clears
	// the threshold.
	got, err := manager.Retrieve(ctx, "user1", "zzz completely unrelated query zzz")
	if err != nil {
		t.Fatalf("Failed to retrieve: %v", err)
	}
	if got != "" {
		t.Errorf("Retrieve = %q, want no match", got)
	}
}

func TestManager_UserNamespacing(t *testing.T) {
	ctx := context.Background()

	store, err := chromem.New()
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	embedder := mock.New(384)

	manager, err := memory.NewManager(store, embedder, &memory.Config{
		Enabled:       true,
		MinSimilarity: 0.9,
		CacheTTL:      -1,
	})
	if err != nil {
		t.Fatalf("Failed to create manager: %v", err)
	}
	defer manager.Close()

	text := "user1's private note"
	if err := manager.Record(ctx, "user1", "conv1", text); err != nil {
		t.Fatalf("Failed to record memory: %v", err)
	}

	got, err := manager.Retrieve(ctx, "user2", text)
	if err != nil {
		t.Fatalf("Failed to retrieve: %v", err)
	}
	if got != "" {
		t.Errorf("user2 retrieved user1's memory: %q", got)
	}
}

func TestManager_Disabled(t *testing.T) {
	ctx := context.Background()
	store := &fakeStore{}
	embedder := mock.New(8)

	manager, err := memory.NewManager(store, embedder, &memory.Config{
		Enabled:       false,
		MinSimilarity: 0.7,
		CacheTTL:      -1,
	})
	if err != nil {
		t.Fatalf("Failed to create manager: %v", err)
	}
	defer manager.Close()

	if err := manager.Record(ctx, "u", "c", "text"); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if got, err := manager.Retrieve(ctx, "u", "text"); err != nil || got != "" {
		t.Errorf("Retrieve = %q, %v, want empty and nil", got, err)
	}
	if len(store.stored) != 0 || store.search != 0 {
		t.Errorf("disabled manager touched the store: %d stores, %d searches",
			len(store.stored), store.search)
	}
}

func TestManager_ExtractorRewritesText(t *testing.T) {
	ctx := context.Background()
	store := &fakeStore{}
	embedder := mock.New(8)

	manager, err := memory.NewManager(store, embedder,
		&memory.Config{Enabled: true, MinSimilarity: 0.7, CacheTTL: -1},
		memory.WithExtractor(&fakeExtractor{fact: "User likes coffee"}),
	)
	if err != nil {
		t.Fatalf("Failed to create manager: %v", err)
	}
	defer manager.Close()

	if err := manager.Record(ctx, "u", "c", "i really do enjoy a good cup of coffee"); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if len(store.stored) != 1 {
		t.Fatalf("stored %d records, want 1", len(store.stored))
	}
	if store.stored[0].Text != "User likes coffee" {
		t.Errorf("stored text = %q, want extracted fact", store.stored[0].Text)
	}
}

func TestManager_ExtractorFailureFallsBackToRawText(t *testing.T) {
	ctx := context.Background()
	store := &fakeStore{}
	embedder := mock.New(8)

	manager, err := memory.NewManager(store, embedder,
		&memory.Config{Enabled: true, MinSimilarity: 0.7, CacheTTL: -1},
		memory.WithExtractor(&fakeExtractor{err: errors.New("model unavailable")}),
	)
	if err != nil {
		t.Fatalf("Failed to create manager: %v", err)
	}
	defer manager.Close()

	raw := "raw utterance text"
	if err := manager.Record(ctx, "u", "c", raw); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if len(store.stored) != 1 || store.stored[0].Text != raw {
		t.Errorf("stored = %+v, want raw text fallback", store.stored)
	}
}
