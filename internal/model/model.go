// Package model defines the persistent entities of the memory engine.
package model

// MemoryType is the closed set of memory kinds a MemoryItem can have.
type MemoryType string

const (
	MemoryTypeWorking    MemoryType = "working"
	MemoryTypeEpisodic   MemoryType = "episodic"
	MemoryTypeSemantic   MemoryType = "semantic"
	MemoryTypeProcedural MemoryType = "procedural"
)

// Valid reports whether t is one of the closed MemoryType values.
func (t MemoryType) Valid() bool {
	switch t {
	case MemoryTypeWorking, MemoryTypeEpisodic, MemoryTypeSemantic, MemoryTypeProcedural:
		return true
	}
	return false
}

// PrivacyScope is the closed set of visibility levels a MemoryItem can have.
type PrivacyScope string

const (
	PrivacyPrivate PrivacyScope = "private"
	PrivacyTeam    PrivacyScope = "team"
	PrivacyPublic  PrivacyScope = "public"
)

// Valid reports whether s is one of the closed PrivacyScope values.
func (s PrivacyScope) Valid() bool {
	switch s {
	case PrivacyPrivate, PrivacyTeam, PrivacyPublic:
		return true
	}
	return false
}

// LinkRelation is the closed set of directed relation types between two memories.
type LinkRelation string

const (
	RelationCauseOf      LinkRelation = "cause_of"
	RelationDerivedFrom  LinkRelation = "derived_from"
	RelationDuplicates   LinkRelation = "duplicates"
	RelationContradicts  LinkRelation = "contradicts"
)

// Valid reports whether r is one of the closed LinkRelation values.
func (r LinkRelation) Valid() bool {
	switch r {
	case RelationCauseOf, RelationDerivedFrom, RelationDuplicates, RelationContradicts:
		return true
	}
	return false
}

// FeedbackEventType is the closed set of feedback kinds recordFeedback accepts.
type FeedbackEventType string

const (
	FeedbackUsed       FeedbackEventType = "used"
	FeedbackEdited     FeedbackEventType = "edited"
	FeedbackNeglected  FeedbackEventType = "neglected"
	FeedbackHelpful    FeedbackEventType = "helpful"
	FeedbackNotHelpful FeedbackEventType = "not_helpful"
)

// Valid reports whether e is one of the closed FeedbackEventType values.
func (e FeedbackEventType) Valid() bool {
	switch e {
	case FeedbackUsed, FeedbackEdited, FeedbackNeglected, FeedbackHelpful, FeedbackNotHelpful:
		return true
	}
	return false
}

// LifecycleState is the state machine spec.md §4.1 assigns to a stored item.
type LifecycleState string

const (
	StateLive        LifecycleState = "live"
	StateSoftDeleted LifecycleState = "soft_deleted"
	// StateHardDeleted is terminal and never observed: the row is gone.
)
