// Package dispatcher implements the Tool Dispatcher (C11): the single
// entry point every RPC tool call passes through — validation, routing,
// latency measurement, error classification, lifecycle events, and
// semaphore-bounded concurrency.
package dispatcher

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/agentmem/memoryd/internal/apperr"
	"github.com/agentmem/memoryd/internal/contextinject"
	"github.com/agentmem/memoryd/internal/embedprovider"
	"github.com/agentmem/memoryd/internal/hybrid"
	"github.com/agentmem/memoryd/internal/model"
	registrystore "github.com/agentmem/memoryd/internal/registry/store"
	"github.com/agentmem/memoryd/internal/security"
	"github.com/agentmem/memoryd/internal/textsearch"
	"github.com/agentmem/memoryd/internal/vectorsearch"
)

// Tool names, bit-exact to spec.md §6.
const (
	ToolRemember      = "remember"
	ToolRecall        = "recall"
	ToolHybridSearch  = "hybrid_search"
	ToolGet           = "get"
	ToolUpdate        = "update"
	ToolForget        = "forget"
	ToolPin           = "pin"
	ToolUnpin         = "unpin"
	ToolLink          = "link"
	ToolFeedback      = "feedback"
	ToolExport        = "export"
	ToolInjectContext = "inject_context"
	ToolStatsErrors   = "stats_errors"
	ToolStatsMetrics  = "stats_metrics"
)

const (
	// DefaultConcurrency is the default semaphore width (spec.md §4.11).
	DefaultConcurrency = 4
	// errRingCapacity bounds the stats_errors ring buffer.
	errRingCapacity = 200
	// eventQueueCapacity bounds the lifecycle event channel before the
	// oldest pending event is dropped to keep the dispatcher non-blocking.
	eventQueueCapacity = 256
)

// LifecycleEvent is one dispatcher-emitted notification.
type LifecycleEvent struct {
	Kind     string // "memory:created", "memory:updated", ...
	MemoryID string
	At       time.Time
}

// RecordedError is one entry in the stats_errors ring buffer.
type RecordedError struct {
	Tool     string
	Kind     apperr.Kind
	Severity apperr.Severity
	Category apperr.Category
	Message  string
	At       time.Time
}

// Deps wires the dispatcher to every component it routes to.
type Deps struct {
	Store           registrystore.Store
	Text            *textsearch.Searcher
	Vector          *vectorsearch.Searcher
	Hybrid          *hybrid.Searcher
	Embedder        *embedprovider.Provider
	ContextInjector *contextinject.Injector
	Concurrency     int
	CallTimeout     time.Duration
}

// Dispatcher is the single routing point for every RPC tool call.
type Dispatcher struct {
	deps Deps
	sem  chan struct{}

	events chan LifecycleEvent

	mu      sync.Mutex
	errRing []RecordedError
}

// New returns a Dispatcher. Concurrency <= 0 falls back to DefaultConcurrency.
func New(deps Deps) *Dispatcher {
	concurrency := deps.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	if deps.CallTimeout <= 0 {
		deps.CallTimeout = 10 * time.Second
	}
	return &Dispatcher{
		deps:   deps,
		sem:    make(chan struct{}, concurrency),
		events: make(chan LifecycleEvent, eventQueueCapacity),
	}
}

// Events returns the lifecycle event channel; callers should drain it.
func (d *Dispatcher) Events() <-chan LifecycleEvent { return d.events }

func (d *Dispatcher) emit(kind, memoryID string) {
	ev := LifecycleEvent{Kind: kind, MemoryID: memoryID, At: time.Now().UTC()}
	select {
	case d.events <- ev:
	default:
		// Queue full: drop the oldest to admit this one (spec.md §9 Open
		// Question resolution — events are advisory, not a durable log).
		select {
		case <-d.events:
		default:
		}
		select {
		case d.events <- ev:
		default:
		}
	}
}

// acquire blocks until a semaphore slot is free or the call's deadline
// passes, in which case it returns apperr.Busy (spec.md §5 backpressure).
func (d *Dispatcher) acquire(ctx context.Context) (func(), error) {
	deadline := time.Now().Add(d.deps.CallTimeout)
	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()

	select {
	case d.sem <- struct{}{}:
		return func() { <-d.sem }, nil
	case <-ctx.Done():
		return nil, apperr.Wrap(apperr.Cancelled, ctx.Err(), "call cancelled while waiting for a dispatcher slot")
	case <-timer.C:
		return nil, apperr.New(apperr.Busy, "dispatcher at capacity, timed out waiting for a free slot")
	}
}

// run wraps a tool handler with the cross-cutting concerns every call
// shares: semaphore acquisition, latency measurement, and error recording.
func (d *Dispatcher) run(ctx context.Context, tool string, fn func(ctx context.Context) error) error {
	release, err := d.acquire(ctx)
	if err != nil {
		d.recordError(tool, err)
		return err
	}
	defer release()

	start := time.Now()
	err = fn(ctx)
	elapsed := time.Since(start)

	outcome := "success"
	if err != nil {
		outcome = "error"
		d.recordError(tool, err)
	}
	if security.ToolCallsTotal != nil {
		security.ToolCallsTotal.WithLabelValues(tool, outcome).Inc()
	}
	if security.ToolCallDuration != nil {
		security.ToolCallDuration.WithLabelValues(tool).Observe(elapsed.Seconds())
	}
	return err
}

func (d *Dispatcher) recordError(tool string, err error) {
	var appErr *apperr.Error
	kind, severity, category, message := apperr.Fatal, apperr.SeverityCritical, apperr.CategoryOther, err.Error()
	if e, ok := err.(*apperr.Error); ok {
		appErr = e
		kind, severity, category, message = e.Kind, e.Severity, e.Category, e.Message
	}
	if appErr != nil && (appErr.Kind == apperr.NotFound || appErr.Kind == apperr.Cancelled) {
		return // spec.md §7: NotFound/Cancelled are never logged as errors
	}
	rec := RecordedError{Tool: tool, Kind: kind, Severity: severity, Category: category, Message: message, At: time.Now().UTC()}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.errRing = append(d.errRing, rec)
	if len(d.errRing) > errRingCapacity {
		d.errRing = d.errRing[len(d.errRing)-errRingCapacity:]
	}
}

// RememberRequest is the remember tool's input.
type RememberRequest struct {
	Content      string
	Type         model.MemoryType
	Tags         []string
	Importance   *float64
	Source       *string
	PrivacyScope *model.PrivacyScope
	ProjectID    *string
	Metadata     map[string]interface{}
}

// RememberResponse is the remember tool's output.
type RememberResponse struct {
	MemoryID  string    `json:"memory_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Remember implements the `remember` tool.
func (d *Dispatcher) Remember(ctx context.Context, req RememberRequest) (RememberResponse, error) {
	var resp RememberResponse
	err := d.run(ctx, ToolRemember, func(ctx context.Context) error {
		if strings.TrimSpace(req.Content) == "" {
			return apperr.New(apperr.Validation, "content must not be empty").WithField("content")
		}
		item, err := d.deps.Store.Insert(ctx, registrystore.CreateMemoryRequest{
			Content: req.Content, Type: req.Type, Tags: req.Tags, Importance: req.Importance,
			Source: req.Source, PrivacyScope: req.PrivacyScope, ProjectID: req.ProjectID,
			Metadata: req.Metadata,
		})
		if err != nil {
			return err
		}
		resp = RememberResponse{MemoryID: item.ID, CreatedAt: item.CreatedAt}
		d.emit("memory:created", item.ID)
		d.embedAsync(item.ID, item.Content)
		return nil
	})
	return resp, err
}

// embedAsync fires the embedding off the critical path: failures are
// recorded but never surface to the remember caller (spec.md §4.1/§7 —
// embedding availability never blocks a write).
func (d *Dispatcher) embedAsync(id, content string) {
	if d.deps.Embedder == nil {
		return
	}
	go func() {
		vec, err := d.deps.Embedder.EmbedQuery(context.Background(), content)
		if err != nil {
			return
		}
		_ = d.deps.Store.SetEmbedding(context.Background(), id, vec, d.deps.Embedder.ModelName())
	}()
}

// RecallRequest is the recall tool's input: lexical-only search.
type RecallRequest struct {
	Query   string
	Filters registrystore.Filters
	Limit   int
}

// RecallResponse is the recall tool's output.
type RecallResponse struct {
	Items      []model.MemoryItem `json:"items"`
	TotalCount int                `json:"total_count"`
	QueryTime  time.Duration      `json:"query_time"`
}

// Recall implements the `recall` tool (lexical search, no vector fusion).
func (d *Dispatcher) Recall(ctx context.Context, req RecallRequest) (RecallResponse, error) {
	var resp RecallResponse
	err := d.run(ctx, ToolRecall, func(ctx context.Context) error {
		limit := req.Limit
		if limit <= 0 {
			limit = 10
		}
		start := time.Now()
		hits, err := d.deps.Text.Search(ctx, req.Query, req.Filters, limit)
		if err != nil {
			return err
		}
		items := make([]model.MemoryItem, 0, len(hits))
		for _, h := range hits {
			item, err := d.deps.Store.Get(ctx, h.ID)
			if err != nil {
				continue
			}
			items = append(items, item)
		}
		resp = RecallResponse{Items: items, TotalCount: len(items), QueryTime: time.Since(start)}
		return nil
	})
	return resp, err
}

// HybridSearchRequest is the hybrid_search tool's input.
type HybridSearchRequest struct {
	Query   string
	Filters registrystore.Filters
	Limit   int
	// TextWeight and VectorWeight, when both set, override the adaptively
	// computed mixing weights for this call only (spec.md §6).
	TextWeight   *float64
	VectorWeight *float64
}

// ScoredItem pairs a memory with its fused hybrid score.
type ScoredItem struct {
	model.MemoryItem
	Score float64 `json:"score"`
}

// HybridSearchResponse is the hybrid_search tool's output.
type HybridSearchResponse struct {
	Items      []ScoredItem  `json:"items"`
	TotalCount int           `json:"total_count"`
	QueryTime  time.Duration `json:"query_time"`
	SearchType string        `json:"search_type"`
}

// HybridSearch implements the `hybrid_search` tool.
func (d *Dispatcher) HybridSearch(ctx context.Context, req HybridSearchRequest) (HybridSearchResponse, error) {
	var resp HybridSearchResponse
	err := d.run(ctx, ToolHybridSearch, func(ctx context.Context) error {
		limit := req.Limit
		if limit <= 0 {
			limit = 10
		}
		var override *hybrid.Weights
		if req.TextWeight != nil && req.VectorWeight != nil {
			override = &hybrid.Weights{Text: *req.TextWeight, Vector: *req.VectorWeight}
		}
		start := time.Now()
		results, err := d.deps.Hybrid.Search(ctx, req.Query, req.Filters, limit, override)
		if err != nil {
			return err
		}
		items := make([]ScoredItem, len(results))
		for i, r := range results {
			items[i] = ScoredItem{MemoryItem: r.Item, Score: r.Score}
		}
		resp = HybridSearchResponse{Items: items, TotalCount: len(items), QueryTime: time.Since(start), SearchType: "hybrid"}
		return nil
	})
	return resp, err
}

// Get implements the `get` tool.
func (d *Dispatcher) Get(ctx context.Context, id string) (model.MemoryItem, error) {
	var item model.MemoryItem
	err := d.run(ctx, ToolGet, func(ctx context.Context) error {
		var err error
		item, err = d.deps.Store.Get(ctx, id)
		return err
	})
	return item, err
}

// Update implements the `update` tool.
func (d *Dispatcher) Update(ctx context.Context, id string, patch registrystore.UpdatePatch) (model.MemoryItem, error) {
	var item model.MemoryItem
	err := d.run(ctx, ToolUpdate, func(ctx context.Context) error {
		var err error
		item, err = d.deps.Store.Update(ctx, id, patch)
		if err != nil {
			return err
		}
		d.emit("memory:updated", id)
		if patch.Content != nil {
			d.embedAsync(id, item.Content)
		}
		return nil
	})
	return item, err
}

// ForgetRequest is the forget tool's input.
type ForgetRequest struct {
	ID      string
	Hard    bool
	Confirm bool
}

// ForgetResponse is the forget tool's output.
type ForgetResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Forget implements the `forget` tool.
func (d *Dispatcher) Forget(ctx context.Context, req ForgetRequest) (ForgetResponse, error) {
	var resp ForgetResponse
	err := d.run(ctx, ToolForget, func(ctx context.Context) error {
		if req.Hard {
			if err := d.deps.Store.HardDelete(ctx, req.ID, req.Confirm); err != nil {
				return err
			}
			resp = ForgetResponse{Success: true, Message: fmt.Sprintf("memory %s permanently deleted", req.ID)}
		} else {
			if err := d.deps.Store.SoftDelete(ctx, req.ID); err != nil {
				return err
			}
			resp = ForgetResponse{Success: true, Message: fmt.Sprintf("memory %s soft-deleted", req.ID)}
		}
		d.emit("memory:deleted", req.ID)
		return nil
	})
	return resp, err
}

// PinUnpinResponse is the pin/unpin tools' shared output shape.
type PinUnpinResponse struct {
	Success  bool   `json:"success"`
	MemoryID string `json:"memory_id"`
}

// Pin implements the `pin` tool.
func (d *Dispatcher) Pin(ctx context.Context, id string) (PinUnpinResponse, error) {
	return d.setPinned(ctx, ToolPin, id, "memory:pinned", true)
}

// Unpin implements the `unpin` tool.
func (d *Dispatcher) Unpin(ctx context.Context, id string) (PinUnpinResponse, error) {
	return d.setPinned(ctx, ToolUnpin, id, "memory:unpinned", false)
}

func (d *Dispatcher) setPinned(ctx context.Context, tool, id, eventKind string, pinned bool) (PinUnpinResponse, error) {
	var resp PinUnpinResponse
	err := d.run(ctx, tool, func(ctx context.Context) error {
		var err error
		if pinned {
			_, err = d.deps.Store.Pin(ctx, id)
		} else {
			_, err = d.deps.Store.Unpin(ctx, id)
		}
		if err != nil {
			return err
		}
		resp = PinUnpinResponse{Success: true, MemoryID: id}
		d.emit(eventKind, id)
		return nil
	})
	return resp, err
}

// LinkRequest is the link tool's input.
type LinkRequest struct {
	SourceID string
	TargetID string
	Relation model.LinkRelation
}

// LinkResponse is the link/unlink tools' output.
type LinkResponse struct {
	Success bool `json:"success"`
}

// Link implements the `link` tool.
func (d *Dispatcher) Link(ctx context.Context, req LinkRequest) (LinkResponse, error) {
	var resp LinkResponse
	err := d.run(ctx, ToolLink, func(ctx context.Context) error {
		if err := d.deps.Store.Link(ctx, req.SourceID, req.TargetID, req.Relation); err != nil {
			return err
		}
		resp = LinkResponse{Success: true}
		return nil
	})
	return resp, err
}

// FeedbackRequest is the feedback tool's input.
type FeedbackRequest struct {
	MemoryID string
	Helpful  bool
	Comment  *string
	Score    *float64
}

// FeedbackResponse is the feedback tool's output.
type FeedbackResponse struct {
	Success bool `json:"success"`
}

// Feedback implements the `feedback` tool.
func (d *Dispatcher) Feedback(ctx context.Context, req FeedbackRequest) (FeedbackResponse, error) {
	var resp FeedbackResponse
	err := d.run(ctx, ToolFeedback, func(ctx context.Context) error {
		event := model.FeedbackNotHelpful
		if req.Helpful {
			event = model.FeedbackHelpful
		}
		if err := d.deps.Store.RecordFeedback(ctx, req.MemoryID, event, req.Score); err != nil {
			return err
		}
		resp = FeedbackResponse{Success: true}
		return nil
	})
	return resp, err
}

// ExportRequest is the export tool's input.
type ExportRequest struct {
	Format  string // json | csv | markdown
	Filters registrystore.Filters
}

// ExportResponse is the export tool's output.
type ExportResponse struct {
	Data  string `json:"data"`
	Count int    `json:"count"`
}

// Export implements the `export` tool.
func (d *Dispatcher) Export(ctx context.Context, req ExportRequest) (ExportResponse, error) {
	var resp ExportResponse
	err := d.run(ctx, ToolExport, func(ctx context.Context) error {
		candidates, err := d.deps.Store.Candidates(ctx, req.Filters)
		if err != nil {
			return err
		}
		items := make([]model.MemoryItem, len(candidates))
		for i, c := range candidates {
			items[i] = c.Item
		}
		data, err := renderExport(req.Format, items)
		if err != nil {
			return err
		}
		resp = ExportResponse{Data: data, Count: len(items)}
		return nil
	})
	return resp, err
}

func renderExport(format string, items []model.MemoryItem) (string, error) {
	switch format {
	case "", "json":
		b, err := json.Marshal(items)
		return string(b), err
	case "csv":
		return renderCSV(items)
	case "markdown":
		return renderMarkdown(items), nil
	default:
		return "", apperr.Newf(apperr.Validation, "unsupported export format %q", format).WithField("format")
	}
}

func renderCSV(items []model.MemoryItem) (string, error) {
	var b strings.Builder
	w := csv.NewWriter(&b)
	if err := w.Write([]string{"id", "type", "content", "importance", "pinned", "created_at"}); err != nil {
		return "", err
	}
	for _, it := range items {
		row := []string{
			it.ID, string(it.Type), it.Content,
			fmt.Sprintf("%.3f", it.Importance),
			fmt.Sprintf("%t", it.Pinned),
			it.CreatedAt.Format(time.RFC3339),
		}
		if err := w.Write(row); err != nil {
			return "", err
		}
	}
	w.Flush()
	return b.String(), w.Error()
}

func renderMarkdown(items []model.MemoryItem) string {
	var b strings.Builder
	b.WriteString("| id | type | content | importance | pinned |\n")
	b.WriteString("|---|---|---|---|---|\n")
	for _, it := range items {
		fmt.Fprintf(&b, "| %s | %s | %s | %.3f | %t |\n", it.ID, it.Type, it.Content, it.Importance, it.Pinned)
	}
	return b.String()
}

// InjectContext implements the `inject_context` tool.
func (d *Dispatcher) InjectContext(ctx context.Context, req contextinject.Request) ([]contextinject.Message, error) {
	var messages []contextinject.Message
	err := d.run(ctx, ToolInjectContext, func(ctx context.Context) error {
		msg, err := d.deps.ContextInjector.Inject(ctx, req)
		if err != nil {
			return err
		}
		messages = []contextinject.Message{msg}
		return nil
	})
	return messages, err
}

// StatsErrors implements the `stats_errors` tool (supplemented, not in the
// original tool list but named as a stats_* wildcard entry in spec.md §4.11).
func (d *Dispatcher) StatsErrors(ctx context.Context) []RecordedError {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]RecordedError, len(d.errRing))
	copy(out, d.errRing)
	return out
}

// StatsMetrics implements the `stats_metrics` tool: per-normalized-query
// hybrid search hit counters (spec.md §4.6 step 6).
func (d *Dispatcher) StatsMetrics(query string) hybrid.Stats {
	return d.deps.Hybrid.StatsFor(query)
}
