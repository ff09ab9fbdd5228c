// Package sqlite implements the Store contract (C1) on an embedded SQLite
// database: GORM for the primary tables, a raw FTS5 virtual table for text
// search, and a sqlite-vec vec0 virtual table for vector search. It is the
// only code in the module allowed to touch either index directly.
package sqlite

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	sqlitevec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	"github.com/cenkalti/backoff/v4"
	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/agentmem/memoryd/internal/apperr"
	"github.com/agentmem/memoryd/internal/config"
	"github.com/agentmem/memoryd/internal/model"
	"github.com/agentmem/memoryd/internal/rank"
	registrymigrate "github.com/agentmem/memoryd/internal/registry/migrate"
	registrystore "github.com/agentmem/memoryd/internal/registry/store"
	"github.com/agentmem/memoryd/internal/repetition"
	"github.com/agentmem/memoryd/internal/security"
)

// decodeMetadata populates item.Metadata from its stored MetadataJSON.
// Malformed JSON (should not occur, since encodeMetadata is the only
// writer) decodes to nil rather than failing the read.
func decodeMetadata(item *model.MemoryItem) {
	if item.MetadataJSON == "" {
		return
	}
	var m map[string]interface{}
	if err := json.Unmarshal([]byte(item.MetadataJSON), &m); err == nil {
		item.Metadata = m
	}
}

// encodeMetadata serializes a caller-supplied metadata object for storage.
func encodeMetadata(m map[string]interface{}) (string, error) {
	if len(m) == 0 {
		return "", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", apperr.Wrap(apperr.Validation, err, "metadata must be JSON-serializable").WithField("metadata")
	}
	return string(b), nil
}

func init() {
	sqlitevec.Auto()

	registrystore.Register(registrystore.Plugin{
		Name:   "sqlite",
		Loader: load,
	})
	registrymigrate.Register(registrymigrate.Plugin{Order: 100, Migrator: &migrator{}})
}

func load(ctx context.Context) (registrystore.Store, error) {
	cfg := config.FromContext(ctx)
	if cfg == nil {
		return nil, fmt.Errorf("sqlite store: missing config in context")
	}
	db, err := open(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	if err := autoMigrate(db); err != nil {
		return nil, apperr.Wrap(apperr.Fatal, err, "sqlite store: schema auto-migrate failed")
	}
	dim := dimensionOf(cfg)
	if err := ensureVectorTable(db, dim); err != nil {
		log.Warn("vector index unavailable, vector search disabled", "err", err)
	}
	return &Store{db: db, dim: dim}, nil
}

func dimensionOf(cfg *config.Config) int {
	if cfg.EmbeddingDimensions > 0 {
		return cfg.EmbeddingDimensions
	}
	if cfg.EmbeddingProvider == "fallback" {
		return 768
	}
	return 1536
}

func open(path string) (*gorm.DB, error) {
	dsn := fmt.Sprintf("%s?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, apperr.Wrap(apperr.Fatal, err, "sqlite store: open failed")
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, apperr.Wrap(apperr.Fatal, err, "sqlite store: underlying db handle unavailable")
	}
	sqlDB.SetMaxOpenConns(1) // single writer; WAL still allows concurrent readers
	return db, nil
}

func autoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&model.MemoryItem{},
		&model.Embedding{},
		&model.Tag{},
		&model.MemoryTag{},
		&model.MemoryLink{},
		&model.FeedbackEvent{},
		&model.WorkingMemoryBuffer{},
	)
}

//go:embed db/schema.sql
var schemaSQL string

type migrator struct{}

func (m *migrator) Name() string { return "sqlite-schema" }

func (m *migrator) Migrate(ctx context.Context) error {
	cfg := config.FromContext(ctx)
	if cfg == nil {
		return fmt.Errorf("sqlite migrator: missing config in context")
	}
	db, err := open(cfg.DBPath)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	if err := autoMigrate(db); err != nil {
		return err
	}
	if _, err := sqlDB.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("sqlite migrator: apply schema.sql: %w", err)
	}
	if err := ensureVectorTable(db, dimensionOf(cfg)); err != nil {
		log.Warn("sqlite migrator: vector index not created", "err", err)
	}
	log.Info("sqlite schema migration complete")
	return nil
}

func ensureVectorTable(db *gorm.DB, dim int) error {
	stmt := fmt.Sprintf(
		`CREATE VIRTUAL TABLE IF NOT EXISTS vec_memories USING vec0(
			memory_id TEXT PRIMARY KEY,
			embedding FLOAT[%d],
			+type TEXT,
			+privacy_scope TEXT,
			+pinned INTEGER
		)`, dim)
	return db.Exec(stmt).Error
}

// Store implements registrystore.Store on top of GORM + raw FTS5/vec0 SQL.
type Store struct {
	db  *gorm.DB
	dim int
}

var _ registrystore.Store = (*Store)(nil)

// withRetry wraps a single-transaction write with bounded exponential
// backoff on SQLITE_BUSY, surfacing apperr.Busy once the budget is spent
// (spec.md §4.1 failure semantics): one attempt plus up to 5 retries,
// waiting 10ms→160ms between them.
func withRetry(ctx context.Context, fn func() error) error {
	policy := backoff.WithContext(backoff.WithMaxRetries(
		backoff.NewExponentialBackOff(
			backoff.WithInitialInterval(10*time.Millisecond),
			backoff.WithMaxInterval(160*time.Millisecond),
			backoff.WithMultiplier(2),
		), 5), ctx)

	err := backoff.Retry(func() error {
		err := fn()
		if isBusy(err) {
			return err // retryable
		}
		if err != nil {
			return backoff.Permanent(err)
		}
		return nil
	}, policy)

	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		return permanent.Unwrap()
	}
	if isBusy(err) {
		return apperr.Wrap(apperr.Busy, err, "database busy, retry budget exhausted")
	}
	return err
}

func isBusy(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
	}
	return false
}

func newID() string {
	return fmt.Sprintf("mem_%d_%s", time.Now().UnixNano(), uuid.New().String()[:8])
}

// Insert implements registrystore.Store.
func (s *Store) Insert(ctx context.Context, req registrystore.CreateMemoryRequest) (model.MemoryItem, error) {
	defer observe("insert", time.Now())

	if req.Type == "" || !req.Type.Valid() {
		return model.MemoryItem{}, apperr.New(apperr.Validation, "type must be one of working, episodic, semantic, procedural").WithField("type")
	}
	importance := 0.5
	if req.Importance != nil {
		importance = *req.Importance
	}
	if importance < 0 || importance > 1 {
		return model.MemoryItem{}, apperr.New(apperr.Validation, "importance must be in [0,1]").WithField("importance")
	}
	privacy := model.PrivacyPrivate
	if req.PrivacyScope != nil {
		privacy = *req.PrivacyScope
	}
	if !privacy.Valid() {
		return model.MemoryItem{}, apperr.New(apperr.Validation, "privacy_scope must be one of private, team, public").WithField("privacy_scope")
	}
	metadataJSON, err := encodeMetadata(req.Metadata)
	if err != nil {
		return model.MemoryItem{}, err
	}

	item := model.MemoryItem{
		ID:           newID(),
		Type:         req.Type,
		Content:      req.Content,
		Importance:   importance,
		PrivacyScope: privacy,
		CreatedAt:    time.Now().UTC(),
		Tags:         strings.Join(dedupTags(req.Tags), ","),
		Source:       req.Source,
		ProjectID:    req.ProjectID,
		UserID:       req.UserID,
		AgentID:      req.AgentID,
		MetadataJSON: metadataJSON,
	}

	err = withRetry(ctx, func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := tx.Create(&item).Error; err != nil {
				if isUniqueViolation(err) {
					return apperr.Wrap(apperr.Conflict, err, "memory id collision")
				}
				return err
			}
			return upsertTags(tx, item.ID, req.Tags)
		})
	})
	if err != nil {
		return model.MemoryItem{}, err
	}
	decodeMetadata(&item)
	return item, nil
}

func dedupTags(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

func upsertTags(tx *gorm.DB, memoryID string, tags []string) error {
	if err := tx.Where("memory_id = ?", memoryID).Delete(&model.MemoryTag{}).Error; err != nil {
		return err
	}
	for _, name := range dedupTags(tags) {
		var tag model.Tag
		if err := tx.Where("name = ?", name).FirstOrCreate(&tag, model.Tag{Name: name}).Error; err != nil {
			return err
		}
		if err := tx.Create(&model.MemoryTag{MemoryID: memoryID, TagID: tag.ID}).Error; err != nil {
			return err
		}
	}
	return nil
}

// Get implements registrystore.Store.
func (s *Store) Get(ctx context.Context, id string) (model.MemoryItem, error) {
	defer observe("get", time.Now())
	var item model.MemoryItem
	err := s.db.WithContext(ctx).Where("id = ? AND deleted_at IS NULL", id).First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.MemoryItem{}, apperr.New(apperr.NotFound, "memory not found").WithField("id")
	}
	if err != nil {
		return model.MemoryItem{}, err
	}
	decodeMetadata(&item)
	return item, nil
}

// Update implements registrystore.Store.
func (s *Store) Update(ctx context.Context, id string, patch registrystore.UpdatePatch) (model.MemoryItem, error) {
	defer observe("update", time.Now())

	var item model.MemoryItem
	err := withRetry(ctx, func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := tx.Where("id = ? AND deleted_at IS NULL", id).First(&item).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return apperr.New(apperr.NotFound, "memory not found").WithField("id")
				}
				return err
			}
			updates := map[string]interface{}{}
			if patch.Content != nil {
				updates["content"] = *patch.Content
				item.Content = *patch.Content
			}
			if patch.Type != nil {
				if !patch.Type.Valid() {
					return apperr.New(apperr.Validation, "type must be one of working, episodic, semantic, procedural").WithField("type")
				}
				updates["type"] = *patch.Type
				item.Type = *patch.Type
			}
			if patch.Importance != nil {
				if *patch.Importance < 0 || *patch.Importance > 1 {
					return apperr.New(apperr.Validation, "importance must be in [0,1]").WithField("importance")
				}
				updates["importance"] = *patch.Importance
				item.Importance = *patch.Importance
			}
			if patch.Pinned != nil {
				updates["pinned"] = *patch.Pinned
				item.Pinned = *patch.Pinned
			}
			if patch.PrivacyScope != nil {
				if !patch.PrivacyScope.Valid() {
					return apperr.New(apperr.Validation, "privacy_scope must be one of private, team, public").WithField("privacy_scope")
				}
				updates["privacy_scope"] = *patch.PrivacyScope
				item.PrivacyScope = *patch.PrivacyScope
			}
			if patch.Source != nil {
				updates["source"] = *patch.Source
				item.Source = patch.Source
			}
			if patch.ProjectID != nil {
				updates["project_id"] = *patch.ProjectID
				item.ProjectID = patch.ProjectID
			}
			if patch.Metadata != nil {
				metadataJSON, err := encodeMetadata(patch.Metadata)
				if err != nil {
					return err
				}
				updates["metadata"] = metadataJSON
				item.MetadataJSON = metadataJSON
			}
			if len(updates) > 0 {
				if err := tx.Model(&model.MemoryItem{}).Where("id = ?", id).Updates(updates).Error; err != nil {
					return err
				}
			}
			if patch.Tags != nil {
				item.Tags = strings.Join(dedupTags(patch.Tags), ",")
				if err := tx.Model(&model.MemoryItem{}).Where("id = ?", id).Update("tags", item.Tags).Error; err != nil {
					return err
				}
				if err := upsertTags(tx, id, patch.Tags); err != nil {
					return err
				}
			}
			return nil
		})
	})
	if err != nil {
		return model.MemoryItem{}, err
	}
	decodeMetadata(&item)
	return item, nil
}

// SoftDelete implements registrystore.Store.
func (s *Store) SoftDelete(ctx context.Context, id string) error {
	defer observe("soft_delete", time.Now())
	return withRetry(ctx, func() error {
		now := time.Now().UTC()
		res := s.db.WithContext(ctx).Model(&model.MemoryItem{}).
			Where("id = ? AND deleted_at IS NULL", id).
			Update("deleted_at", &now)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return apperr.New(apperr.NotFound, "memory not found").WithField("id")
		}
		return nil
	})
}

// HardDelete implements registrystore.Store.
func (s *Store) HardDelete(ctx context.Context, id string, confirm bool) error {
	defer observe("hard_delete", time.Now())
	if !confirm {
		return apperr.New(apperr.Validation, "hard delete requires confirm=true").WithField("confirm")
	}
	return withRetry(ctx, func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var item model.MemoryItem
			if err := tx.Unscoped().Where("id = ?", id).First(&item).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return apperr.New(apperr.NotFound, "memory not found").WithField("id")
				}
				return err
			}
			if item.Pinned {
				return apperr.New(apperr.Conflict, "pinned memories cannot be hard-deleted").WithField("id")
			}
			if err := tx.Where("memory_id = ?", id).Delete(&model.MemoryTag{}).Error; err != nil {
				return err
			}
			if err := tx.Where("memory_id = ?", id).Delete(&model.Embedding{}).Error; err != nil {
				return err
			}
			if err := tx.Where("source_id = ? OR target_id = ?", id, id).Delete(&model.MemoryLink{}).Error; err != nil {
				return err
			}
			if err := tx.Where("memory_id = ?", id).Delete(&model.FeedbackEvent{}).Error; err != nil {
				return err
			}
			if err := tx.Unscoped().Delete(&model.MemoryItem{}, "id = ?", id).Error; err != nil {
				return err
			}
			if err := tx.Exec("DELETE FROM vec_memories WHERE memory_id = ?", id).Error; err != nil {
				log.Warn("hard delete: vector index row not removed", "id", id, "err", err)
			}
			return nil
		})
	})
}

// Pin implements registrystore.Store.
func (s *Store) Pin(ctx context.Context, id string) (model.MemoryItem, error) {
	return s.setPinned(ctx, id, true)
}

// Unpin implements registrystore.Store.
func (s *Store) Unpin(ctx context.Context, id string) (model.MemoryItem, error) {
	return s.setPinned(ctx, id, false)
}

func (s *Store) setPinned(ctx context.Context, id string, pinned bool) (model.MemoryItem, error) {
	defer observe("set_pinned", time.Now())
	err := withRetry(ctx, func() error {
		res := s.db.WithContext(ctx).Model(&model.MemoryItem{}).
			Where("id = ? AND deleted_at IS NULL", id).
			Update("pinned", pinned)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			// Idempotent: if the row is already in the requested state this
			// isn't an error, but a genuinely missing row still is.
			var count int64
			s.db.WithContext(ctx).Model(&model.MemoryItem{}).Where("id = ? AND deleted_at IS NULL", id).Count(&count)
			if count == 0 {
				return apperr.New(apperr.NotFound, "memory not found").WithField("id")
			}
		}
		return nil
	})
	if err != nil {
		return model.MemoryItem{}, err
	}
	return s.Get(ctx, id)
}

// Link implements registrystore.Store.
func (s *Store) Link(ctx context.Context, sourceID, targetID string, relation model.LinkRelation) error {
	defer observe("link", time.Now())
	if !relation.Valid() {
		return apperr.New(apperr.Validation, "relation must be one of cause_of, derived_from, duplicates, contradicts").WithField("relation")
	}
	return withRetry(ctx, func() error {
		err := s.db.WithContext(ctx).Clauses().Create(&model.MemoryLink{
			SourceID: sourceID, TargetID: targetID, Relation: relation,
		}).Error
		if isUniqueViolation(err) {
			return nil // unique triple already present: link is idempotent
		}
		return err
	})
}

// Unlink implements registrystore.Store.
func (s *Store) Unlink(ctx context.Context, sourceID, targetID string, relation model.LinkRelation) error {
	defer observe("unlink", time.Now())
	return withRetry(ctx, func() error {
		return s.db.WithContext(ctx).
			Where("source_id = ? AND target_id = ? AND relation = ?", sourceID, targetID, relation).
			Delete(&model.MemoryLink{}).Error
	})
}

// RecordFeedback implements registrystore.Store.
func (s *Store) RecordFeedback(ctx context.Context, id string, event model.FeedbackEventType, score *float64) error {
	defer observe("record_feedback", time.Now())
	if !event.Valid() {
		return apperr.New(apperr.Validation, "event must be one of used, edited, neglected, helpful, not_helpful").WithField("event")
	}
	return withRetry(ctx, func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var item model.MemoryItem
			if err := tx.Where("id = ? AND deleted_at IS NULL", id).First(&item).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return apperr.New(apperr.NotFound, "memory not found").WithField("id")
				}
				return err
			}
			if err := tx.Create(&model.FeedbackEvent{
				MemoryID: id, Event: event, Score: score, CreatedAt: time.Now().UTC(),
			}).Error; err != nil {
				return err
			}
			now := time.Now().UTC()
			updates := map[string]interface{}{"last_accessed": &now}
			switch event {
			case model.FeedbackUsed:
				updates["view_count"] = gorm.Expr("view_count + 1")
				item.ViewCount++
			case model.FeedbackEdited:
				updates["edit_count"] = gorm.Expr("edit_count + 1")
				item.EditCount++
			case model.FeedbackHelpful:
				updates["cite_count"] = gorm.Expr("cite_count + 1")
				item.CiteCount++
			}
			updates["review_interval_days"] = nextReviewInterval(item, event)
			return tx.Model(&model.MemoryItem{}).Where("id = ?", id).Updates(updates).Error
		})
	})
}

// nextReviewInterval applies C8's formula using the item's post-event
// counters as the [0,1] feature inputs spec.md §4.8 names: usage from the
// engagement normalization C3 already defines, helpful/bad feedback as a
// one-shot signal from the event just recorded.
func nextReviewInterval(item model.MemoryItem, event model.FeedbackEventType) int {
	helpful, bad := 0.0, 0.0
	switch event {
	case model.FeedbackHelpful:
		helpful = 1
	case model.FeedbackNotHelpful:
		bad = 1
	}
	features := repetition.Features{
		Importance:      item.Importance,
		Usage:           rank.Usage(item.LastAccessed, time.Now().UTC(), item.ViewCount, item.CiteCount, item.EditCount),
		HelpfulFeedback: helpful,
		BadFeedback:     bad,
	}
	current := float64(item.ReviewIntervalDays)
	if current <= 0 {
		current = 1
	}
	return repetition.NextInterval(current, features)
}

// Candidates implements registrystore.Store.
func (s *Store) Candidates(ctx context.Context, filters registrystore.Filters) ([]registrystore.Candidate, error) {
	defer observe("candidates", time.Now())
	q := applyFilters(s.db.WithContext(ctx).Model(&model.MemoryItem{}), filters)
	var items []model.MemoryItem
	if err := q.Find(&items).Error; err != nil {
		return nil, err
	}
	out := make([]registrystore.Candidate, len(items))
	for i, it := range items {
		decodeMetadata(&it)
		out[i] = registrystore.Candidate{Item: it}
	}
	return out, nil
}

func applyFilters(q *gorm.DB, f registrystore.Filters) *gorm.DB {
	q = q.Where("deleted_at IS NULL")
	if len(f.IDs) > 0 {
		q = q.Where("id IN ?", f.IDs)
	}
	if len(f.Types) > 0 {
		q = q.Where("type IN ?", f.Types)
	}
	if len(f.PrivacyScope) > 0 {
		q = q.Where("privacy_scope IN ?", f.PrivacyScope)
	}
	if f.Pinned != nil {
		q = q.Where("pinned = ?", *f.Pinned)
	}
	if f.TimeFrom != nil {
		q = q.Where("created_at >= ?", *f.TimeFrom)
	}
	if f.TimeTo != nil {
		q = q.Where("created_at <= ?", *f.TimeTo)
	}
	if f.ProjectID != nil {
		q = q.Where("project_id = ?", *f.ProjectID)
	}
	if f.UserID != nil {
		q = q.Where("user_id = ?", *f.UserID)
	}
	if f.AgentID != nil {
		q = q.Where("agent_id = ?", *f.AgentID)
	}
	if f.ImportanceMin != nil {
		q = q.Where("importance >= ?", *f.ImportanceMin)
	}
	return q
}

// SearchText implements registrystore.Store, preferring the FTS5 mirror and
// falling back to a substring scan when it returns nothing (spec.md §4.4).
func (s *Store) SearchText(ctx context.Context, ftsQuery string, filters registrystore.Filters, limit int) ([]registrystore.TextHit, error) {
	defer observe("search_text", time.Now())
	if len(filters.IDs) > 0 {
		// id filter bypasses lexical matching entirely (spec.md §4.4).
		return nil, nil
	}

	if ftsQuery != "" {
		hits, err := s.ftsSearch(ctx, ftsQuery, filters, limit)
		if err == nil && len(hits) > 0 {
			return hits, nil
		}
		if err != nil {
			log.Warn("fts search failed, falling back to LIKE scan", "err", err)
		}
	}
	return s.likeSearch(ctx, ftsQuery, filters, limit)
}

func (s *Store) ftsSearch(ctx context.Context, ftsQuery string, filters registrystore.Filters, limit int) ([]registrystore.TextHit, error) {
	rows, err := s.db.WithContext(ctx).Raw(`
		SELECT m.id, bm25(content_fts) AS rank
		FROM content_fts
		JOIN memories m ON m.id = content_fts.memory_id
		WHERE content_fts MATCH ? AND m.deleted_at IS NULL
		ORDER BY rank
		LIMIT ?`, ftsQuery, limit).Rows()
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []registrystore.TextHit
	for rows.Next() {
		var id string
		var rank float64
		if err := rows.Scan(&id, &rank); err != nil {
			return nil, err
		}
		// bm25() is negative and unbounded; negate it to a positive
		// "native rank" the caller clips and normalizes to [0,1].
		out = append(out, registrystore.TextHit{ID: id, Rank: -rank})
	}
	return applyRowFilters(s.db.WithContext(ctx), out, filters)
}

func (s *Store) likeSearch(ctx context.Context, query string, filters registrystore.Filters, limit int) ([]registrystore.TextHit, error) {
	q := applyFilters(s.db.WithContext(ctx).Model(&model.MemoryItem{}), filters)
	if query != "" {
		like := "%" + query + "%"
		q = q.Where("content LIKE ? OR tags LIKE ? OR source LIKE ?", like, like, like)
	}
	var items []model.MemoryItem
	if err := q.Limit(limit).Find(&items).Error; err != nil {
		return nil, err
	}
	out := make([]registrystore.TextHit, len(items))
	for i, it := range items {
		out[i] = registrystore.TextHit{ID: it.ID, Rank: 0}
	}
	return out, nil
}

// applyRowFilters re-filters FTS hits by the non-id filters the raw SQL
// query above doesn't already express, keeping the FTS query itself simple.
func applyRowFilters(db *gorm.DB, hits []registrystore.TextHit, f registrystore.Filters) ([]registrystore.TextHit, error) {
	if len(hits) == 0 || (len(f.Types) == 0 && len(f.PrivacyScope) == 0 && f.Pinned == nil && f.TimeFrom == nil && f.TimeTo == nil && f.ProjectID == nil && f.UserID == nil && f.AgentID == nil && f.ImportanceMin == nil) {
		return hits, nil
	}
	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.ID
	}
	q := applyFilters(db.Model(&model.MemoryItem{}), f).Where("id IN ?", ids)
	var items []model.MemoryItem
	if err := q.Find(&items).Error; err != nil {
		return nil, err
	}
	allowed := make(map[string]struct{}, len(items))
	for _, it := range items {
		allowed[it.ID] = struct{}{}
	}
	out := hits[:0]
	for _, h := range hits {
		if _, ok := allowed[h.ID]; ok {
			out = append(out, h)
		}
	}
	return out, nil
}

// SearchVector implements registrystore.Store.
func (s *Store) SearchVector(ctx context.Context, vector []float32, filters registrystore.Filters, limit int) ([]registrystore.VectorHit, bool, error) {
	defer observe("search_vector", time.Now())
	if len(filters.IDs) > 0 {
		return nil, true, nil
	}
	if s.dim == 0 {
		return nil, false, nil
	}
	if len(vector) != s.dim {
		return nil, true, apperr.Newf(apperr.Validation, "query vector dimension %d does not match index dimension %d", len(vector), s.dim)
	}

	blob, err := sqlitevec.SerializeFloat32(vector)
	if err != nil {
		return nil, true, err
	}

	query := "SELECT memory_id, distance FROM vec_memories WHERE embedding MATCH ? AND k = ?"
	args := []interface{}{blob, limit}
	if len(filters.Types) > 0 {
		placeholders := make([]string, len(filters.Types))
		for i, t := range filters.Types {
			placeholders[i] = "?"
			args = append(args, t)
		}
		query += " AND type IN (" + strings.Join(placeholders, ",") + ")"
	}
	if len(filters.PrivacyScope) > 0 {
		placeholders := make([]string, len(filters.PrivacyScope))
		for i, p := range filters.PrivacyScope {
			placeholders[i] = "?"
			args = append(args, p)
		}
		query += " AND privacy_scope IN (" + strings.Join(placeholders, ",") + ")"
	}
	if filters.Pinned != nil {
		query += " AND pinned = ?"
		args = append(args, *filters.Pinned)
	}
	query += " ORDER BY distance"

	rows, err := s.db.WithContext(ctx).Raw(query, args...).Rows()
	if err != nil {
		return nil, false, err
	}
	defer rows.Close()

	var out []registrystore.VectorHit
	for rows.Next() {
		var id string
		var dist float64
		if err := rows.Scan(&id, &dist); err != nil {
			return nil, true, err
		}
		out = append(out, registrystore.VectorHit{ID: id, Distance: dist})
	}
	return out, true, nil
}

// SetEmbedding implements registrystore.Store.
func (s *Store) SetEmbedding(ctx context.Context, id string, vector []float32, modelName string) error {
	defer observe("set_embedding", time.Now())
	raw, err := sqlitevec.SerializeFloat32(vector)
	if err != nil {
		return err
	}
	return withRetry(ctx, func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var item model.MemoryItem
			if err := tx.Where("id = ?", id).First(&item).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return apperr.New(apperr.NotFound, "memory not found").WithField("id")
				}
				return err
			}
			emb := model.Embedding{MemoryID: id, Vector: vectorToBytes(vector), Model: modelName, CreatedAt: time.Now().UTC()}
			if err := tx.Save(&emb).Error; err != nil {
				return err
			}
			// vec0 virtual tables reject ON CONFLICT upserts, so replace the
			// row by delete-then-insert inside the same transaction.
			if err := tx.Exec(`DELETE FROM vec_memories WHERE memory_id = ?`, id).Error; err != nil {
				return err
			}
			return tx.Exec(`
				INSERT INTO vec_memories(memory_id, embedding, type, privacy_scope, pinned)
				VALUES (?, ?, ?, ?, ?)`,
				id, raw, string(item.Type), string(item.PrivacyScope), item.Pinned).Error
		})
	})
}

// GetEmbedding implements registrystore.Store.
func (s *Store) GetEmbedding(ctx context.Context, id string) (*model.Embedding, bool, error) {
	defer observe("get_embedding", time.Now())
	var emb model.Embedding
	err := s.db.WithContext(ctx).Where("memory_id = ?", id).First(&emb).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return &emb, true, nil
}

// FindMissingEmbeddings implements registrystore.Store.
func (s *Store) FindMissingEmbeddings(ctx context.Context, limit int) ([]model.MemoryItem, error) {
	defer observe("find_missing_embeddings", time.Now())
	var items []model.MemoryItem
	err := s.db.WithContext(ctx).
		Where("deleted_at IS NULL AND id NOT IN (?)", s.db.Model(&model.Embedding{}).Select("memory_id")).
		Order("created_at ASC").
		Limit(limit).
		Find(&items).Error
	return items, err
}

// ListAll implements registrystore.Store.
func (s *Store) ListAll(ctx context.Context) ([]model.MemoryItem, error) {
	defer observe("list_all", time.Now())
	var all []model.MemoryItem
	var batch []model.MemoryItem
	err := s.db.WithContext(ctx).Where("deleted_at IS NULL").FindInBatches(&batch, 500, func(tx *gorm.DB, batchNum int) error {
		all = append(all, batch...)
		return nil
	}).Error
	if err != nil {
		return nil, err
	}
	return all, nil
}

// FindSoftDeletedPast implements registrystore.Store.
func (s *Store) FindSoftDeletedPast(ctx context.Context, olderThan time.Time) ([]model.MemoryItem, error) {
	defer observe("find_soft_deleted_past", time.Now())
	var items []model.MemoryItem
	err := s.db.WithContext(ctx).Unscoped().
		Where("deleted_at IS NOT NULL AND deleted_at < ?", olderThan).
		Find(&items).Error
	return items, err
}

// Close implements registrystore.Store.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func observe(op string, start time.Time) {
	if security.StoreLatency != nil {
		security.StoreLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}
}

func vectorToBytes(v []float32) []byte {
	b, err := sqlitevec.SerializeFloat32(v)
	if err != nil {
		return nil
	}
	return b
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrConstraint
	}
	return false
}
