// Package contextinject implements the Context Injector (C9): turns a
// hybrid search into a single system message sized to a token budget.
package contextinject

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/agentmem/memoryd/internal/hybrid"
	"github.com/agentmem/memoryd/internal/model"
	registrystore "github.com/agentmem/memoryd/internal/registry/store"
)

const (
	DefaultTokenBudget = 1200
	DefaultMaxMemories = 5
	charsPerToken      = 4
)

// NoRelatedMemoriesMessage is emitted verbatim when the hybrid search
// returns nothing (spec.md §4.9 step 5).
const NoRelatedMemoriesMessage = "No related memories were found for this context."

// Message is one (role, text) pair; role is always "system".
type Message struct {
	Role string
	Text string
}

// Request carries C9's inputs (spec.md §4.9/§6).
type Request struct {
	Query       string
	TokenBudget int
	MaxMemories int
	Filters     registrystore.Filters

	// ContextType labels the caller's situation (conversation|task|general)
	// and only affects the emitted header text.
	ContextType string

	// MemoryTypes, RecentDays, ImportanceThreshold and PinnedOnly narrow the
	// candidate pool beyond Filters; each is applied only when set, and
	// takes precedence over the corresponding Filters field if both are set.
	MemoryTypes         []model.MemoryType
	RecentDays          int
	ImportanceThreshold *float64
	PinnedOnly          bool
}

// effectiveFilters merges the named convenience inputs into req.Filters.
func (req Request) effectiveFilters() registrystore.Filters {
	f := req.Filters
	if len(req.MemoryTypes) > 0 {
		f.Types = req.MemoryTypes
	}
	if req.RecentDays > 0 {
		since := time.Now().Add(-time.Duration(req.RecentDays) * 24 * time.Hour)
		f.TimeFrom = &since
	}
	if req.ImportanceThreshold != nil {
		f.ImportanceMin = req.ImportanceThreshold
	}
	if req.PinnedOnly {
		t := true
		f.Pinned = &t
	}
	return f
}

// Injector builds context messages from a hybrid.Searcher.
type Injector struct {
	search *hybrid.Searcher
}

// New returns an Injector backed by search.
func New(search *hybrid.Searcher) *Injector {
	return &Injector{search: search}
}

// Inject runs the full C9 algorithm and returns the single emitted message.
func (inj *Injector) Inject(ctx context.Context, req Request) (Message, error) {
	budget := req.TokenBudget
	if budget <= 0 {
		budget = DefaultTokenBudget
	}
	maxMemories := req.MaxMemories
	if maxMemories <= 0 {
		maxMemories = DefaultMaxMemories
	}

	results, err := inj.search.Search(ctx, req.Query, req.effectiveFilters(), maxMemories, nil)
	if err != nil {
		return Message{}, err
	}
	if len(results) == 0 {
		return Message{Role: "system", Text: NoRelatedMemoriesMessage}, nil
	}

	var included []string
	remaining := budget
	for _, r := range results {
		entry := formatEntry(len(included)+1, r.Item)
		cost := estimateTokens(entry)
		if cost <= remaining {
			included = append(included, entry)
			remaining -= cost
			continue
		}
		summarized := summarizeToFit(entry, remaining)
		if strings.TrimSpace(summarized) == "" {
			continue
		}
		included = append(included, summarized)
		remaining -= estimateTokens(summarized)
		break
	}

	text := render(req.Query, req.ContextType, included, len(results))
	return Message{Role: "system", Text: text}, nil
}

func estimateTokens(s string) int {
	return (len(s) + charsPerToken - 1) / charsPerToken
}

var typeEmoji = map[model.MemoryType]string{
	model.MemoryTypeWorking:    "🧠",
	model.MemoryTypeEpisodic:   "📖",
	model.MemoryTypeSemantic:   "📚",
	model.MemoryTypeProcedural: "🛠️",
}

func formatEntry(index int, item model.MemoryItem) string {
	emoji := typeEmoji[item.Type]
	stars := strings.Repeat("★", clampStars(item.Importance)) + strings.Repeat("☆", 5-clampStars(item.Importance))
	return fmt.Sprintf("%d. %s %s %s", index, emoji, stars, item.Content)
}

func clampStars(importance float64) int {
	n := int(importance * 5)
	if n < 0 {
		return 0
	}
	if n > 5 {
		return 5
	}
	return n
}

// summarizeToFit truncates entry to whole sentences so it fits within
// remaining tokens, returning "" if nothing fits.
func summarizeToFit(entry string, remaining int) string {
	if remaining <= 0 {
		return ""
	}
	sentences := splitSentences(entry)
	var out strings.Builder
	for _, sentence := range sentences {
		candidate := out.String() + sentence
		if estimateTokens(candidate) > remaining {
			break
		}
		out.WriteString(sentence)
	}
	return strings.TrimSpace(out.String())
}

func splitSentences(s string) []string {
	var out []string
	start := 0
	for i, r := range s {
		if r == '.' || r == '!' || r == '?' {
			out = append(out, s[start:i+1])
			start = i + 1
		}
	}
	if start < len(s) {
		out = append(out, s[start:])
	}
	return out
}

func render(query, contextType string, entries []string, totalCandidates int) string {
	var b strings.Builder
	if contextType != "" {
		fmt.Fprintf(&b, "Related memories for the %s context matching %q:\n\n", contextType, query)
	} else {
		fmt.Fprintf(&b, "Related memories for %q:\n\n", query)
	}
	for _, e := range entries {
		b.WriteString(e)
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "\n(%d of %d related memories included)", len(entries), totalCandidates)
	return b.String()
}
