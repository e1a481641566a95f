// Package domain holds the core entities and error types for the pipeline
// service: pipelines, stages, memberships and their transition history.
package domain

import "time"

// PipelineType restricts which kind of contact a pipeline tracks.
type PipelineType string

const (
	PipelineTypePerson PipelineType = "person"
	PipelineTypeChurch PipelineType = "church"
	PipelineTypeBoth   PipelineType = "both"
)

// Valid reports whether t is one of the known pipeline types.
func (t PipelineType) Valid() bool {
	switch t {
	case PipelineTypePerson, PipelineTypeChurch, PipelineTypeBoth:
		return true
	}
	return false
}

// Accepts reports whether a pipeline of this type may hold a contact of the
// given kind.
func (t PipelineType) Accepts(kind ContactKind) bool {
	switch t {
	case PipelineTypeBoth:
		return true
	case PipelineTypePerson:
		return kind == ContactKindPerson
	case PipelineTypeChurch:
		return kind == ContactKindChurch
	}
	return false
}

// Pipeline is a named, ordered sequence of stages a contact progresses
// through. Main pipelines are system-defined, one per (office, type), and
// are structurally immutable through the guarded API.
type Pipeline struct {
	ID             string       `json:"id" db:"id"`
	Name           string       `json:"name" db:"name"`
	Description    string       `json:"description,omitempty" db:"description"`
	Type           PipelineType `json:"pipeline_type" db:"pipeline_type"`
	OfficeID       string       `json:"office_id" db:"office_id"`
	IsMainPipeline bool         `json:"is_main_pipeline" db:"is_main_pipeline"`
	// ParentStage links a custom pipeline to a stage name of the main
	// pipeline it refines. Empty for main pipelines.
	ParentStage string    `json:"parent_stage,omitempty" db:"parent_stage"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// Stage is a step within a pipeline. Order defines traversal order; ties
// are broken by insertion order. A stage's pipeline never changes after
// creation.
type Stage struct {
	ID          string `json:"id" db:"id"`
	PipelineID  string `json:"pipeline_id" db:"pipeline_id"`
	Name        string `json:"name" db:"name"`
	Order       int    `json:"order" db:"stage_order"`
	Color       string `json:"color,omitempty" db:"color"`
	Description string `json:"description,omitempty" db:"description"`

	// Automation hints, consumed by the reminder collaborator only. The
	// core stores them but never interprets them beyond the auto-move
	// sweep calling back through the guarded API.
	AutoMoveDays     int    `json:"auto_move_days,omitempty" db:"auto_move_days"`
	AutoReminder     bool   `json:"auto_reminder,omitempty" db:"auto_reminder"`
	AutoTaskTemplate string `json:"auto_task_template,omitempty" db:"auto_task_template"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Membership associates one contact with one pipeline and tracks its
// current stage. At most one membership exists per (contact, pipeline)
// pair, and CurrentStageID always belongs to PipelineID.
type Membership struct {
	ID             string      `json:"id" db:"id"`
	PipelineID     string      `json:"pipeline_id" db:"pipeline_id"`
	ContactID      string      `json:"contact_id" db:"contact_id"`
	ContactType    ContactKind `json:"contact_type" db:"contact_type"`
	CurrentStageID string      `json:"current_stage_id" db:"current_stage_id"`
	EnteredAt      time.Time   `json:"entered_at" db:"entered_at"`
	LastUpdated    time.Time   `json:"last_updated" db:"last_updated"`
	// Version is the optimistic concurrency token for MoveToStage. Two
	// racing moves on the same membership fail loudly with
	// ErrorTypeConcurrencyConflict instead of silently overwriting.
	Version int64 `json:"version" db:"version"`
}

// Transition is an immutable audit record of a membership's stage change.
// FromStageID is empty for the initial pipeline entry. ActorID is empty
// for system-initiated moves. Rows are never updated or deleted except by
// cascade with their membership.
type Transition struct {
	ID           string    `json:"id" db:"id"`
	MembershipID string    `json:"membership_id" db:"membership_id"`
	FromStageID  string    `json:"from_stage_id,omitempty" db:"from_stage_id"`
	ToStageID    string    `json:"to_stage_id" db:"to_stage_id"`
	ActorID      string    `json:"actor_id,omitempty" db:"actor_id"`
	Notes        string    `json:"notes,omitempty" db:"notes"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// MutationKind labels a committed mutation for cache invalidation.
type MutationKind string

const (
	MutationPipeline MutationKind = "pipeline"
	MutationContact  MutationKind = "contact"
)

// MutationEvent is emitted synchronously after a mutating call commits.
// Subscribers drop derived-view cache namespaces; the event never carries
// enough detail for per-key invalidation on purpose (no missed
// invalidations beats hit rate).
type MutationEvent struct {
	Kind        MutationKind `json:"kind"`
	ContactKind ContactKind  `json:"contact_kind,omitempty"`
	PipelineID  string       `json:"pipeline_id,omitempty"`
	OccurredAt  time.Time    `json:"occurred_at"`
}
