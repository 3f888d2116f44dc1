package memory

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
)

const extractionPrompt = `You distill chat messages into durable facts about the person speaking.

Given the messages, produce a short list of facts worth remembering long-term
(preferences, relationships, recurring topics, stated goals). One fact per line,
no commentary. If nothing is worth remembering, respond with NONE.`

// FactExtractor uses Claude to distill flushed utterances into durable
// facts before they are embedded and stored.
type FactExtractor struct {
	client    *anthropic.Client
	model     string
	maxTokens int64
}

// FactExtractorConfig configures the extractor.
type FactExtractorConfig struct {
	// Model is the Claude model to use. Default: claude-3-5-haiku-latest.
	Model string

	// MaxTokens bounds the extraction response. Default: 1024.
	MaxTokens int64
}

// NewFactExtractor creates an extractor over an Anthropic client.
func NewFactExtractor(client *anthropic.Client, cfg FactExtractorConfig) *FactExtractor {
	if cfg.Model == "" {
		cfg.Model = "claude-3-5-haiku-latest"
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 1024
	}
	return &FactExtractor{
		client:    client,
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
	}
}

// Extract returns the facts found in text, or "" when the model reports
// nothing worth keeping.
func (x *FactExtractor) Extract(ctx context.Context, text string) (string, error) {
	resp, err := x.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(x.model),
		MaxTokens: x.maxTokens,
		System: []anthropic.TextBlockParam{
			{Text: extractionPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(text)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("extraction request: %w", err)
	}

	var out string
	for _, block := range resp.Content {
		if block.Type == "text" {
			out += block.Text
		}
	}
	out = strings.TrimSpace(out)
	if out == "" || strings.EqualFold(out, "NONE") {
		return "", nil
	}
	return out, nil
}
