// Package batch implements the Batch Scheduler (C10): independently
// ticking background jobs (cleanup, monitoring, and a reindex job when an
// embedder is set), each serialized so an overlapping tick for the same
// job is dropped rather than queued.
package batch

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"

	"github.com/agentmem/memoryd/internal/forget"
	"github.com/agentmem/memoryd/internal/model"
	registrystore "github.com/agentmem/memoryd/internal/registry/store"
	"github.com/agentmem/memoryd/internal/rank"
	"github.com/agentmem/memoryd/internal/security"
)

// DefaultCleanupInterval/DefaultMonitorInterval are spec.md §4.10's default
// job periods. DefaultReindexInterval/DefaultReindexBatch govern the
// background reindexer that catches rows whose async embed after Insert
// never completed (spec.md §4.1's "embedding never blocks a write" note
// implies some rows fall behind and need a sweep to catch up).
const (
	DefaultCleanupInterval = 5 * time.Minute
	DefaultMonitorInterval = 1 * time.Minute
	DefaultReindexInterval = 30 * time.Second
	DefaultReindexBatch    = 50
)

// Embedder is the minimal surface the reindexer needs from embedprovider.Provider.
type Embedder interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
	ModelName() string
}

// CleanupResult summarizes one cleanup job run.
type CleanupResult struct {
	HardDeleted  int
	SoftDeleted  int
	Errors       int
	RanAt        time.Time
}

// Alert describes a sampled metric crossing a configured threshold. The
// monitoring job logs threshold crossings; it does not build Alert values.
type Alert struct {
	Metric   string
	Level    string // "warning" | "critical"
	Value    float64
	At       time.Time
}

// Sampler reports the monitoring job's raw metric samples; the production
// wiring reads these from the OS and the store, tests can stub it.
type Sampler interface {
	Sample(ctx context.Context) (Metrics, error)
}

// Metrics is one monitoring snapshot.
type Metrics struct {
	MemoryBytes      uint64
	CPUPercent       float64
	DatabaseBytes    int64
	ItemCount        int64
	QueryLatencyP99s float64
}

// Threshold is one metric's warning/critical levels and alert cooldown.
type Threshold struct {
	Metric   string
	Warning  float64
	Critical float64
	Cooldown time.Duration
}

type jobState int32

const (
	jobIdle jobState = iota
	jobRunning
)

// Scheduler owns the cleanup and monitoring tickers.
type Scheduler struct {
	store    registrystore.Store
	sampler  Sampler
	embedder Embedder

	cleanupInterval time.Duration
	monitorInterval time.Duration
	reindexInterval time.Duration
	reindexBatch    int
	thresholds      []Threshold

	cleanupState atomic.Int32
	monitorState atomic.Int32
	reindexState atomic.Int32

	mu          sync.Mutex
	lastAlertAt map[string]time.Time

	stop chan struct{}
	done sync.WaitGroup
}

// New returns a Scheduler. A zero interval falls back to the spec default.
func New(store registrystore.Store, sampler Sampler, cleanupInterval, monitorInterval time.Duration, thresholds []Threshold) *Scheduler {
	if cleanupInterval <= 0 {
		cleanupInterval = DefaultCleanupInterval
	}
	if monitorInterval <= 0 {
		monitorInterval = DefaultMonitorInterval
	}
	return &Scheduler{
		store:           store,
		sampler:         sampler,
		cleanupInterval: cleanupInterval,
		monitorInterval: monitorInterval,
		reindexInterval: DefaultReindexInterval,
		reindexBatch:    DefaultReindexBatch,
		thresholds:      thresholds,
		lastAlertAt:     make(map[string]time.Time),
		stop:            make(chan struct{}),
	}
}

// WithEmbedder enables the background reindex job; without it, rows whose
// async embed after Insert failed stay unembedded until an Update changes
// their content.
func (s *Scheduler) WithEmbedder(embedder Embedder) *Scheduler {
	s.embedder = embedder
	return s
}

// Start launches all job loops. Stop signals them to finish their current
// transaction and exit (spec.md §4.10 cancellation contract).
func (s *Scheduler) Start(ctx context.Context) {
	s.done.Add(2)
	go s.runLoop(ctx, s.cleanupInterval, &s.cleanupState, s.runCleanup)
	go s.runLoop(ctx, s.monitorInterval, &s.monitorState, s.runMonitor)
	if s.embedder != nil {
		s.done.Add(1)
		go s.runLoop(ctx, s.reindexInterval, &s.reindexState, s.runReindex)
	}
}

// Stop signals every job loop and waits for the in-flight tick (if any) to finish.
func (s *Scheduler) Stop() {
	close(s.stop)
	s.done.Wait()
}

func (s *Scheduler) runLoop(ctx context.Context, interval time.Duration, state *atomic.Int32, job func(context.Context)) {
	defer s.done.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-ticker.C:
			if !state.CompareAndSwap(int32(jobIdle), int32(jobRunning)) {
				continue // previous tick for this job is still running; drop
			}
			job(ctx)
			state.Store(int32(jobIdle))
		}
	}
}

// runCleanup implements the three-step cleanup algorithm (spec.md §4.10).
func (s *Scheduler) runCleanup(ctx context.Context) {
	items, err := s.store.ListAll(ctx)
	if err != nil {
		log.Error("cleanup job: list failed", "err", err)
		return
	}
	if len(items) == 0 {
		return
	}

	candidates := buildForgetCandidates(items)
	analyzed := forget.AnalyzeCandidates(candidates)

	result := CleanupResult{RanAt: time.Now().UTC()}
	for _, c := range analyzed {
		if !c.ShouldForget {
			continue
		}
		item, err := s.store.Get(ctx, c.ID)
		if err != nil {
			result.Errors++
			continue
		}
		hard := forget.ShouldHardDelete(c.Score, item.Pinned)
		if item.Pinned {
			continue // re-verified under lock: pinned status may have changed
		}
		if hard {
			if err := s.store.HardDelete(ctx, c.ID, true); err != nil {
				result.Errors++
				continue
			}
			result.HardDeleted++
			recordDisposition("hard_delete")
		} else {
			if err := s.store.SoftDelete(ctx, c.ID); err != nil {
				result.Errors++
				continue
			}
			result.SoftDeleted++
			recordDisposition("soft_delete")
		}
	}
	log.Info("cleanup job complete", "hard_deleted", result.HardDeleted, "soft_deleted", result.SoftDeleted, "errors", result.Errors)
}

func buildForgetCandidates(items []model.MemoryItem) []forget.Item {
	now := time.Now().UTC()
	typeCount := make(map[model.MemoryType]int)
	for _, it := range items {
		typeCount[it.Type]++
	}
	// first-approximation duplication ratio: duplicates_of_same_type is
	// modeled as "other live items sharing this item's type".
	out := make([]forget.Item, len(items))
	for i, it := range items {
		recency := rank.Recency(it.Type, it.CreatedAt, now)
		usage := rank.Usage(it.LastAccessed, now, it.ViewCount, it.CiteCount, it.EditCount)
		dupRatio := forget.DuplicationRatio(typeCount[it.Type]-1, len(items))
		out[i] = forget.Item{
			ID:   it.ID,
			Type: it.Type,
			Pinned: it.Pinned,
			Features: forget.Features{
				Recency:          recency,
				Usage:            usage,
				DuplicationRatio: dupRatio,
				Importance:       it.Importance,
				Pinned:           it.Pinned,
			},
		}
	}
	return out
}

func recordDisposition(disposition string) {
	if security.ForgetCandidatesTotal != nil {
		security.ForgetCandidatesTotal.WithLabelValues(disposition).Inc()
	}
}

// runMonitor implements the monitoring job: sample, then alert on any
// threshold crossing not still in cooldown.
func (s *Scheduler) runMonitor(ctx context.Context) {
	if s.sampler == nil {
		return
	}
	metrics, err := s.sampler.Sample(ctx)
	if err != nil {
		log.Error("monitor job: sample failed", "err", err)
		return
	}

	now := time.Now().UTC()
	values := map[string]float64{
		"memory_bytes":        float64(metrics.MemoryBytes),
		"cpu_percent":         metrics.CPUPercent,
		"database_bytes":      float64(metrics.DatabaseBytes),
		"item_count":          float64(metrics.ItemCount),
		"query_latency_p99_s": metrics.QueryLatencyP99s,
	}

	for _, t := range s.thresholds {
		v, ok := values[t.Metric]
		if !ok {
			continue
		}
		level := ""
		switch {
		case v >= t.Critical:
			level = "critical"
		case v >= t.Warning:
			level = "warning"
		default:
			continue
		}
		if s.inCooldown(t.Metric, now, t.Cooldown) {
			continue
		}
		s.recordAlert(t.Metric, now)
		log.Warn("monitor job: threshold crossed", "metric", t.Metric, "level", level, "value", v)
	}
}

// runReindex batch-embeds any live row still missing an embedding, catching
// up on rows whose async embed after Insert/Update never completed.
func (s *Scheduler) runReindex(ctx context.Context) {
	items, err := s.store.FindMissingEmbeddings(ctx, s.reindexBatch)
	if err != nil {
		log.Error("reindex job: list failed", "err", err)
		return
	}
	if len(items) == 0 {
		return
	}

	texts := make([]string, len(items))
	for i, it := range items {
		texts[i] = it.Content
	}
	vectors, err := s.embedder.EmbedTexts(ctx, texts)
	if err != nil {
		log.Error("reindex job: batch embed failed", "err", err)
		return
	}

	indexed := 0
	for i, it := range items {
		if err := s.store.SetEmbedding(ctx, it.ID, vectors[i], s.embedder.ModelName()); err != nil {
			log.Error("reindex job: set embedding failed", "id", it.ID, "err", err)
			continue
		}
		indexed++
	}
	if indexed > 0 {
		log.Info("reindex job complete", "indexed", indexed)
	}
}

func (s *Scheduler) inCooldown(metric string, now time.Time, cooldown time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	last, ok := s.lastAlertAt[metric]
	return ok && now.Sub(last) < cooldown
}

func (s *Scheduler) recordAlert(metric string, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastAlertAt[metric] = now
}
