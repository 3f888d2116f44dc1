// Package perplexity is a client for Perplexity's online chat
// completions API, used for live web search.
package perplexity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const systemPrompt = "You are a helpful assistant that provides accurate, up-to-date information from web search results. Include relevant citations."

// Config holds search request settings.
type Config struct {
	// APIKey authenticates requests. Required.
	APIKey string

	// BaseURL of the API. Default: https://api.perplexity.ai.
	BaseURL string

	// Model is the online search model. Default:
	// llama-3.1-sonar-large-128k-online.
	Model string

	// MaxTokens bounds the search answer. Default: 1000.
	MaxTokens int

	// Temperature and TopP for the search model. Defaults: 0.2, 0.9.
	Temperature float64
	TopP        float64

	// SearchDomains restricts results to these domains. Empty = all.
	SearchDomains []string

	// RecencyFilter biases results toward recent pages. Default: month.
	RecencyFilter string

	// Timeout per request. Default: 30s.
	Timeout time.Duration
}

// Result is one search answer with its source citations.
type Result struct {
	Content   string
	Citations []string
}

// Client performs web searches.
type Client struct {
	config     Config
	httpClient *http.Client
}

// New validates the config and creates a client.
func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("perplexity: APIKey is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.perplexity.ai"
	}
	if cfg.Model == "" {
		cfg.Model = "llama-3.1-sonar-large-128k-online"
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 1000
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.2
	}
	if cfg.TopP == 0 {
		cfg.TopP = 0.9
	}
	if cfg.RecencyFilter == "" {
		cfg.RecencyFilter = "month"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Client{
		config:     cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model               string        `json:"model"`
	Messages            []chatMessage `json:"messages"`
	MaxTokens           int           `json:"max_tokens"`
	Temperature         float64       `json:"temperature"`
	TopP                float64       `json:"top_p"`
	SearchDomainFilter  []string      `json:"search_domain_filter,omitempty"`
	ReturnCitations     bool          `json:"return_citations"`
	SearchRecencyFilter string        `json:"search_recency_filter,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Citations []string `json:"citations"`
}

// Search runs one web search for the query.
func (c *Client) Search(ctx context.Context, query string) (*Result, error) {
	resp, err := c.complete(ctx, chatRequest{
		Model: c.config.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: query},
		},
		MaxTokens:           c.config.MaxTokens,
		Temperature:         c.config.Temperature,
		TopP:                c.config.TopP,
		SearchDomainFilter:  c.config.SearchDomains,
		ReturnCitations:     true,
		SearchRecencyFilter: c.config.RecencyFilter,
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("search returned no choices")
	}
	return &Result{
		Content:   resp.Choices[0].Message.Content,
		Citations: resp.Citations,
	}, nil
}

// Ping issues a tiny completion as a connectivity check.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.complete(ctx, chatRequest{
		Model:     c.config.Model,
		Messages:  []chatMessage{{Role: "user", Content: "test"}},
		MaxTokens: 10,
	})
	return err
}

func (c *Client) complete(ctx context.Context, reqBody chatRequest) (*chatResponse, error) {
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search API returned %d: %s", resp.StatusCode, respBody)
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	return &parsed, nil
}
