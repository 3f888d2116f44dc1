package websearch

import (
	"regexp"
	"strings"
)

const maxQueryLength = 200

// manualPrefixes are explicit search commands a user can type.
var manualPrefixes = []string{"search:", "web:", "find:", "lookup:"}

// DefaultKeywords are substrings that suggest a message wants live
// information.
var DefaultKeywords = []string{
	"search", "find", "lookup", "what is", "who is", "when did",
	"where is", "how to", "latest", "recent", "current", "news",
	"today", "yesterday", "this week", "this month", "2024", "2025",
}

// patternTriggers catch question forms and recency cues the keyword
// list misses.
var patternTriggers = []*regexp.Regexp{
	regexp.MustCompile(`\bwhat\s+is\b`),
	regexp.MustCompile(`\bwho\s+is\b`),
	regexp.MustCompile(`\bwhen\s+did\b`),
	regexp.MustCompile(`\bwhere\s+is\b`),
	regexp.MustCompile(`\bhow\s+to\b`),
	regexp.MustCompile(`\bwhy\s+does\b`),
	regexp.MustCompile(`\blatest\b`),
	regexp.MustCompile(`\brecent\b`),
	regexp.MustCompile(`\bcurrent\b`),
	regexp.MustCompile(`\bnews\b`),
	regexp.MustCompile(`\btoday\b`),
	regexp.MustCompile(`\b202[4-9]\b`),
}

var (
	prefixPattern = regexp.MustCompile(`(?i)^(search:|web:|find:|lookup:)\s*`)
	fillerPattern = regexp.MustCompile(`(?i)^(can you|could you|please|help me)\s+`)
)

// Rules decides whether a message should trigger a web search.
type Rules struct {
	// ManualTriggers honors explicit prefixes like "search:".
	ManualTriggers bool

	// AutoTriggers matches keywords and question patterns.
	AutoTriggers bool

	// Keywords override DefaultKeywords; matching is case-insensitive
	// substring containment.
	Keywords []string
}

// ShouldSearch checks manual prefixes first, then keywords, then
// patterns, short-circuiting on the first hit.
func (r Rules) ShouldSearch(message string) bool {
	lower := strings.ToLower(message)

	if r.ManualTriggers {
		for _, p := range manualPrefixes {
			if strings.Contains(lower, p) {
				return true
			}
		}
	}

	if r.AutoTriggers {
		keywords := r.Keywords
		if keywords == nil {
			keywords = DefaultKeywords
		}
		for _, kw := range keywords {
			if strings.Contains(lower, strings.ToLower(kw)) {
				return true
			}
		}
		for _, re := range patternTriggers {
			if re.MatchString(lower) {
				return true
			}
		}
	}

	return false
}

// CleanQuery strips trigger prefixes and leading politeness fillers,
// in any order of occurrence, and bounds the query length. Stripping is
// case-insensitive; the retained query keeps its original case.
func CleanQuery(message string) string {
	q := strings.TrimSpace(message)
	for {
		next := prefixPattern.ReplaceAllString(q, "")
		next = fillerPattern.ReplaceAllString(next, "")
		next = strings.TrimSpace(next)
		if next == q {
			break
		}
		q = next
	}
	if len(q) > maxQueryLength {
		q = q[:maxQueryLength] + "..."
	}
	return q
}
