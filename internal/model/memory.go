package model

import "time"

// MemoryItem is the primary entity of the memory engine (spec.md §3).
// One row per memory; soft-deleted rows are kept (filtered out of search).
// The cleanup job analyzes live rows only and never hard-deletes a
// soft-deleted row; only an explicit hard delete removes one.
type MemoryItem struct {
	// ID is the opaque "mem_{timestamp}_{rand}" identifier.
	ID string `json:"id" gorm:"primaryKey;column:id"`

	Type         MemoryType   `json:"type"         gorm:"not null;column:type"`
	Content      string       `json:"content"      gorm:"not null;column:content"`
	Importance   float64      `json:"importance"   gorm:"not null;default:0.5;column:importance"`
	PrivacyScope PrivacyScope `json:"privacyScope" gorm:"not null;default:private;column:privacy_scope"`

	CreatedAt    time.Time  `json:"createdAt"              gorm:"not null;column:created_at"`
	LastAccessed *time.Time `json:"lastAccessed,omitempty" gorm:"column:last_accessed"`

	Pinned bool `json:"pinned" gorm:"not null;default:false;column:pinned"`

	// Tags is the denormalized, ordered, comma-joined tag string used for
	// fast display and mirrored into the FTS index. The normalized form
	// lives in the tags/memory_tags tables.
	Tags string `json:"tags" gorm:"column:tags"`

	Source    *string `json:"source,omitempty"    gorm:"column:source"`
	ProjectID *string `json:"projectId,omitempty" gorm:"column:project_id"`
	UserID    *string `json:"userId,omitempty"    gorm:"column:user_id"`
	AgentID   *string `json:"agentId,omitempty"   gorm:"column:agent_id"`

	// MetadataJSON is the raw stored form of an opaque caller-supplied
	// object (spec.md §6 remember/update metadata? input); never
	// interpreted by the engine itself.
	MetadataJSON string `json:"-" gorm:"column:metadata"`

	// Metadata is the decoded view of MetadataJSON, populated on read; it
	// is never written through this struct directly (see Embedding below).
	Metadata map[string]interface{} `json:"metadata,omitempty" gorm:"-"`

	ViewCount int `json:"viewCount" gorm:"not null;default:0;column:view_count"`
	CiteCount int `json:"citeCount" gorm:"not null;default:0;column:cite_count"`
	EditCount int `json:"editCount" gorm:"not null;default:0;column:edit_count"`

	// ReviewIntervalDays is the spaced-repetition scheduler's (C8) current
	// review interval, recomputed on every feedback event.
	ReviewIntervalDays int `json:"reviewIntervalDays" gorm:"not null;default:1;column:review_interval_days"`

	// DeletedAt marks the row as soft-deleted (spec.md state machine); the
	// row and its embedding are kept until an explicit hard delete; no TTL
	// removes them.
	DeletedAt *time.Time `json:"-" gorm:"column:deleted_at"`

	// Embedding is populated by a join/sub-select on read; it is never
	// written through this struct directly (see Embedding below).
	Embedding *Embedding `json:"embedding,omitempty" gorm:"-"`
}

// TableName implements gorm.Tabler.
func (MemoryItem) TableName() string { return "memories" }

// State returns the item's current LifecycleState.
func (m MemoryItem) State() LifecycleState {
	if m.DeletedAt != nil {
		return StateSoftDeleted
	}
	return StateLive
}

// Embedding is one row per memory holding its dense vector representation.
// Deleted by FK cascade when the owning memory is hard-deleted.
type Embedding struct {
	MemoryID  string    `json:"memoryId"  gorm:"primaryKey;column:memory_id"`
	Vector    []byte    `json:"-"         gorm:"column:vector"` // little-endian float32s, length dimension*4
	Model     string    `json:"model"     gorm:"column:model"`
	CreatedAt time.Time `json:"createdAt" gorm:"column:created_at"`
}

// TableName implements gorm.Tabler.
func (Embedding) TableName() string { return "embeddings" }

// Tag is a normalized tag value, deduplicated across all memories.
type Tag struct {
	ID   int64  `json:"id"   gorm:"primaryKey;autoIncrement;column:id"`
	Name string `json:"name" gorm:"uniqueIndex;not null;column:name"`
}

// TableName implements gorm.Tabler.
func (Tag) TableName() string { return "tags" }

// MemoryTag is the many-to-many join between MemoryItem and Tag.
type MemoryTag struct {
	MemoryID string `json:"memoryId" gorm:"primaryKey;column:memory_id"`
	TagID    int64  `json:"tagId"    gorm:"primaryKey;column:tag_id"`
}

// TableName implements gorm.Tabler.
func (MemoryTag) TableName() string { return "memory_tags" }

// MemoryLink is a directed, typed relation between two memories. Cycles are
// permitted; consumers must tolerate them (spec.md §3).
type MemoryLink struct {
	SourceID string       `json:"sourceId" gorm:"primaryKey;column:source_id"`
	TargetID string       `json:"targetId" gorm:"primaryKey;column:target_id"`
	Relation LinkRelation `json:"relation" gorm:"primaryKey;column:relation"`
}

// TableName implements gorm.Tabler.
func (MemoryLink) TableName() string { return "memory_links" }

// FeedbackEvent is an append-only log entry driving usage counters and
// spaced-repetition scheduling.
type FeedbackEvent struct {
	ID        int64             `json:"id"              gorm:"primaryKey;autoIncrement;column:id"`
	MemoryID  string            `json:"memoryId"         gorm:"index;not null;column:memory_id"`
	Event     FeedbackEventType `json:"event"            gorm:"not null;column:event"`
	Score     *float64          `json:"score,omitempty"  gorm:"column:score"`
	CreatedAt time.Time         `json:"createdAt"        gorm:"not null;column:created_at"`
}

// TableName implements gorm.Tabler.
func (FeedbackEvent) TableName() string { return "feedback_events" }

// WorkingMemoryBuffer is a session-keyed, ephemeral ordered list of memory
// ids bounded by a token budget. Rows past ExpiresAt are eviction-eligible.
type WorkingMemoryBuffer struct {
	SessionID   string    `json:"sessionId"   gorm:"primaryKey;column:session_id"`
	ItemIDs     string    `json:"-"           gorm:"column:item_ids"` // JSON array of ids, ordered
	TokenBudget int       `json:"tokenBudget" gorm:"column:token_budget"`
	ExpiresAt   time.Time `json:"expiresAt"   gorm:"column:expires_at"`
}

// TableName implements gorm.Tabler.
func (WorkingMemoryBuffer) TableName() string { return "working_memory_buffers" }
