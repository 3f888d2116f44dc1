package perplexity_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/numberone-ai/filters-go-sdk/perplexity"
)

func TestSearch(t *testing.T) {
	var gotAuth string
	var gotReq map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"role": "assistant", "content": "Paris is the capital."}},
			},
			"citations": []string{"https://wiki.org/paris"},
		})
	}))
	defer srv.Close()

	client, err := perplexity.New(perplexity.Config{
		APIKey:  "pplx-test",
		BaseURL: srv.URL,
	})
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}

	result, err := client.Search(context.Background(), "what is the capital of france")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}

	if result.Content != "Paris is the capital." {
		t.Errorf("Content = %q", result.Content)
	}
	if len(result.Citations) != 1 || result.Citations[0] != "https://wiki.org/paris" {
		t.Errorf("Citations = %v", result.Citations)
	}

	if gotAuth != "Bearer pplx-test" {
		t.Errorf("Authorization = %q, want bearer token", gotAuth)
	}
	if gotReq["model"] != "llama-3.1-sonar-large-128k-online" {
		t.Errorf("model = %v, want default online model", gotReq["model"])
	}
	if gotReq["return_citations"] != true {
		t.Error("request should ask for citations")
	}
	if gotReq["search_recency_filter"] != "month" {
		t.Errorf("search_recency_filter = %v, want month", gotReq["search_recency_filter"])
	}

	msgs, ok := gotReq["messages"].([]any)
	if !ok || len(msgs) != 2 {
		t.Fatalf("messages = %v, want system + user", gotReq["messages"])
	}
	userMsg := msgs[1].(map[string]any)
	if userMsg["role"] != "user" || userMsg["content"] != "what is the capital of france" {
		t.Errorf("user message = %v", userMsg)
	}
}

func TestSearch_NonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid api key", http.StatusUnauthorized)
	}))
	defer srv.Close()

	client, err := perplexity.New(perplexity.Config{APIKey: "bad", BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}

	if _, err := client.Search(context.Background(), "anything"); err == nil {
		t.Error("Search should fail on a non-200 response")
	}
}

func TestSearch_NoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"choices": []any{}})
	}))
	defer srv.Close()

	client, err := perplexity.New(perplexity.Config{APIKey: "k", BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}

	if _, err := client.Search(context.Background(), "anything"); err == nil {
		t.Error("Search should fail when the response has no choices")
	}
}

func TestNew_RequiresAPIKey(t *testing.T) {
	if _, err := perplexity.New(perplexity.Config{}); err == nil {
		t.Error("New accepted an empty API key")
	}
}

func TestPing(t *testing.T) {
	var maxTokens float64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		json.NewDecoder(r.Body).Decode(&req)
		maxTokens = req["max_tokens"].(float64)
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]any{"content": "ok"}}},
		})
	}))
	defer srv.Close()

	client, err := perplexity.New(perplexity.Config{APIKey: "k", BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	if err := client.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if maxTokens != 10 {
		t.Errorf("ping max_tokens = %v, want 10", maxTokens)
	}
}
