// Package store defines the Store contract (spec.md §4.1): the only path
// by which any other component touches persistent rows or either index.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/agentmem/memoryd/internal/model"
)

// CreateMemoryRequest is the input to Insert.
type CreateMemoryRequest struct {
	Content      string
	Type         model.MemoryType
	Tags         []string
	Importance   *float64
	Source       *string
	PrivacyScope *model.PrivacyScope
	ProjectID    *string
	UserID       *string
	AgentID      *string
	Metadata     map[string]interface{}
}

// UpdatePatch whitelists the fields update(id, patch) may change. A nil
// pointer/slice means "leave unchanged".
type UpdatePatch struct {
	Content      *string
	Type         *model.MemoryType
	Tags         []string
	Importance   *float64
	Pinned       *bool
	PrivacyScope *model.PrivacyScope
	Source       *string
	ProjectID    *string
	Metadata     map[string]interface{}
}

// Filters narrows candidate generation and is shared by text and vector search.
type Filters struct {
	IDs          []string
	Types        []model.MemoryType
	PrivacyScope []model.PrivacyScope
	Pinned       *bool
	TimeFrom     *time.Time
	TimeTo       *time.Time
	ProjectID    *string
	UserID       *string
	AgentID      *string
	// ImportanceMin excludes items with importance strictly below the
	// threshold (spec.md §6 inject_context importanceThreshold input).
	ImportanceMin *float64
}

// Candidate is one row surfaced by Candidates — the primary row plus the
// fields Ranking needs without a second round-trip.
type Candidate struct {
	Item model.MemoryItem
}

// TextHit is one row of a full-text candidate query. Rank is the index's
// native score, not yet normalized to [0,1] — C4 does that at its boundary.
type TextHit struct {
	ID   string
	Rank float64
}

// VectorHit is one row of a nearest-neighbor candidate query. Distance is
// the vec0 index's native distance, not yet converted to similarity — C5
// does that at its boundary (spec.md §9 Open Question resolution).
type VectorHit struct {
	ID       string
	Distance float64
}

// Store is the single transactional gateway to all persistent state
// (spec.md §4.1). No other component may hold a reference to a row or
// either index outside of this interface.
type Store interface {
	Insert(ctx context.Context, req CreateMemoryRequest) (model.MemoryItem, error)
	Get(ctx context.Context, id string) (model.MemoryItem, error)
	Update(ctx context.Context, id string, patch UpdatePatch) (model.MemoryItem, error)
	SoftDelete(ctx context.Context, id string) error
	HardDelete(ctx context.Context, id string, confirm bool) error
	Pin(ctx context.Context, id string) (model.MemoryItem, error)
	Unpin(ctx context.Context, id string) (model.MemoryItem, error)
	Link(ctx context.Context, sourceID, targetID string, relation model.LinkRelation) error
	Unlink(ctx context.Context, sourceID, targetID string, relation model.LinkRelation) error
	RecordFeedback(ctx context.Context, id string, event model.FeedbackEventType, score *float64) error

	// Candidates returns every live row matching filters, unranked (the
	// export tool's source; C4/C5 use SearchText/SearchVector instead).
	Candidates(ctx context.Context, filters Filters) ([]Candidate, error)

	// SearchText runs ftsQuery against the FTS5 mirror (or a LIKE-scan
	// fallback when the index is empty/unavailable), scoped by filters.
	// ftsQuery is already preprocessed/escaped by C4; empty means "match
	// all rows passing filters".
	SearchText(ctx context.Context, ftsQuery string, filters Filters, limit int) ([]TextHit, error)

	// SearchVector runs a nearest-neighbor scan against the vec0 index,
	// scoped by filters. available reports false when the vector index is
	// absent (e.g. embedding disabled) — hits is then always empty.
	SearchVector(ctx context.Context, vector []float32, filters Filters, limit int) (hits []VectorHit, available bool, err error)

	// SetEmbedding upserts the embedding row (and the vec0 index mirror)
	// for id. C2 writes here once embedding completes asynchronously after
	// Insert.
	SetEmbedding(ctx context.Context, id string, vector []float32, modelName string) error
	GetEmbedding(ctx context.Context, id string) (*model.Embedding, bool, error)

	// FindMissingEmbeddings returns up to limit live rows with no embedding
	// row yet, oldest first, so the background reindexer can catch items
	// whose async embed (spec.md §4.1) never completed.
	FindMissingEmbeddings(ctx context.Context, limit int) ([]model.MemoryItem, error)

	// ListAll streams every live row for C7's batch forget-score analysis.
	ListAll(ctx context.Context) ([]model.MemoryItem, error)

	// FindSoftDeletedPast returns soft-deleted rows deleted before
	// olderThan. The cleanup job does not call it.
	FindSoftDeletedPast(ctx context.Context, olderThan time.Time) ([]model.MemoryItem, error)

	Close() error
}

// Loader creates a Store from config carried on ctx.
type Loader func(ctx context.Context) (Store, error)

// Plugin represents a store backend.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds a store plugin. Called from init() in plugin packages.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered store plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named store plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown store %q; valid: %v", name, Names())
}
