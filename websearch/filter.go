// Package websearch is the search augmentation filter: it detects
// messages that want live information, runs a web search, and injects
// the results as a system message ahead of the user's question.
package websearch

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/numberone-ai/filters-go-sdk/core"
	"github.com/numberone-ai/filters-go-sdk/perplexity"
)

// Citation list renderings.
const (
	FormatMarkdown = "markdown"
	FormatNumbered = "numbered"
)

// Searcher runs one web search. *perplexity.Client implements it;
// tests substitute a stub.
type Searcher interface {
	Search(ctx context.Context, query string) (*perplexity.Result, error)
}

// Config holds search filter settings.
type Config struct {
	// EnableManualSearch honors explicit "search:" style prefixes.
	EnableManualSearch bool

	// EnableAutoSearch triggers on keywords and question patterns.
	EnableAutoSearch bool

	// TriggerKeywords override the default keyword list.
	TriggerKeywords []string

	// MaxCitations bounds how many sources are appended. Default: 5.
	MaxCitations int

	// CitationFormat is FormatMarkdown or FormatNumbered.
	// Default: markdown.
	CitationFormat string

	// IncludeCitations appends the source list to the injected results.
	IncludeCitations bool

	// ContextTemplate wraps the results; {search_results} is replaced
	// with the formatted search output.
	ContextTemplate string
}

// DefaultConfig mirrors the original search pipeline's defaults.
var DefaultConfig = &Config{
	EnableManualSearch: true,
	EnableAutoSearch:   true,
	MaxCitations:       5,
	CitationFormat:     FormatMarkdown,
	IncludeCitations:   true,
	ContextTemplate: "Based on current web search results:\n\n{search_results}\n\n" +
		"Now, please answer the user's question using this information:",
}

// Filter augments requests with web search results. With a nil
// searcher every hook is a pass-through.
type Filter struct {
	searcher Searcher
	rules    Rules
	config   *Config
}

// New creates the search filter. searcher may be nil (missing API
// key), which degrades every hook to a no-op.
func New(searcher Searcher, config *Config) (*Filter, error) {
	if config == nil {
		config = DefaultConfig
	}
	if config.MaxCitations <= 0 {
		config.MaxCitations = DefaultConfig.MaxCitations
	}
	if config.CitationFormat == "" {
		config.CitationFormat = FormatMarkdown
	}
	if config.CitationFormat != FormatMarkdown && config.CitationFormat != FormatNumbered {
		return nil, fmt.Errorf("websearch: unknown citation format %q", config.CitationFormat)
	}
	if config.ContextTemplate == "" {
		config.ContextTemplate = DefaultConfig.ContextTemplate
	}

	return &Filter{
		searcher: searcher,
		rules: Rules{
			ManualTriggers: config.EnableManualSearch,
			AutoTriggers:   config.EnableAutoSearch,
			Keywords:       config.TriggerKeywords,
		},
		config: config,
	}, nil
}

func (f *Filter) Name() string { return "perplexity_search" }

// Inlet searches the web when the last user message asks for it and
// inserts the results as a system message just before that message.
// Search failures leave the request untouched.
func (f *Filter) Inlet(ctx context.Context, env *core.Envelope, user *core.User) *core.Envelope {
	if env == nil || len(env.Messages) == 0 {
		return env
	}

	last := env.LastContent()
	if last == "" || !f.rules.ShouldSearch(last) {
		return env
	}
	if f.searcher == nil {
		log.Printf("[SEARCH] Trigger matched but no search client configured, skipping")
		return env
	}

	query := CleanQuery(last)
	result, err := f.searcher.Search(ctx, query)
	if err != nil {
		log.Printf("[SEARCH] Search failed for %q: %v", query, err)
		return env
	}

	env.InsertSystemBeforeLast(strings.ReplaceAll(
		f.config.ContextTemplate, "{search_results}", f.formatResult(result)))
	log.Printf("[SEARCH] Augmented request with %d sources for %q", len(result.Citations), query)
	return env
}

// Outlet is a pass-through; augmentation happens on the way in.
func (f *Filter) Outlet(ctx context.Context, env *core.Envelope, user *core.User) *core.Envelope {
	return env
}

// Startup probes the search backend. Failure is advisory; the filter
// still runs (and degrades per turn).
func (f *Filter) Startup(ctx context.Context) error {
	pinger, ok := f.searcher.(interface{ Ping(context.Context) error })
	if !ok {
		return nil
	}
	if err := pinger.Ping(ctx); err != nil {
		return fmt.Errorf("search connectivity check: %w", err)
	}
	return nil
}

func (f *Filter) Shutdown(ctx context.Context) error { return nil }

// formatResult renders the answer plus a bounded citation list.
func (f *Filter) formatResult(result *perplexity.Result) string {
	var b strings.Builder
	b.WriteString(result.Content)

	if !f.config.IncludeCitations || len(result.Citations) == 0 {
		return b.String()
	}

	citations := result.Citations
	if len(citations) > f.config.MaxCitations {
		citations = citations[:f.config.MaxCitations]
	}

	switch f.config.CitationFormat {
	case FormatNumbered:
		b.WriteString("\n\nSources:\n")
		for i, c := range citations {
			fmt.Fprintf(&b, "[%d] %s\n", i+1, c)
		}
	default:
		b.WriteString("\n\n**Sources:**\n")
		for i, c := range citations {
			fmt.Fprintf(&b, "%d. %s\n", i+1, c)
		}
	}
	return b.String()
}
