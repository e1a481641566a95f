// Package ports defines the interfaces between the core components and
// their adapters: storage, cache, contact directory and event publishing.
package ports

import (
	"context"

	"github.com/mobilize-crm/pipeline-service/internal/core/domain"
)

// PipelineListOptions filters pipeline listings.
type PipelineListOptions struct {
	OfficeID string
	Type     domain.PipelineType
	// MainOnly / CustomOnly restrict to system or user pipelines. At most
	// one should be set.
	MainOnly   bool
	CustomOnly bool
}

// MembershipListOptions filters membership listings.
type MembershipListOptions struct {
	PipelineID string
	StageID    string
	Limit      int
	Offset     int
}

// PipelineStore is the storage contract for the registry and the
// transition engine. Implementations guarantee that each method is one
// atomic unit of work: multi-row writes commit together or not at all, and
// failures surface as typed domain errors with the transaction rolled
// back.
type PipelineStore interface {
	// CreatePipeline persists a new pipeline.
	CreatePipeline(ctx context.Context, p *domain.Pipeline) error

	// GetPipeline retrieves a pipeline by ID.
	GetPipeline(ctx context.Context, id string) (*domain.Pipeline, error)

	// UpdatePipeline rewrites a pipeline's mutable fields.
	UpdatePipeline(ctx context.Context, p *domain.Pipeline) error

	// ListPipelines lists pipelines matching the options.
	ListPipelines(ctx context.Context, opts PipelineListOptions) ([]*domain.Pipeline, error)

	// GetMainPipeline returns the main pipeline for an office and type.
	GetMainPipeline(ctx context.Context, officeID string, t domain.PipelineType) (*domain.Pipeline, error)

	// DeletePipeline removes a pipeline, cascading to its stages,
	// memberships and transitions in one transaction.
	DeletePipeline(ctx context.Context, id string) error

	// CreateStage persists a new stage.
	CreateStage(ctx context.Context, s *domain.Stage) error

	// GetStage retrieves a stage by ID.
	GetStage(ctx context.Context, id string) (*domain.Stage, error)

	// UpdateStage rewrites a stage's mutable fields.
	UpdateStage(ctx context.Context, s *domain.Stage) error

	// ListStages returns a pipeline's stages ascending by order, ties
	// broken by insertion order.
	ListStages(ctx context.Context, pipelineID string) ([]*domain.Stage, error)

	// ReorderStages rewrites each stage's order to its position in
	// orderedIDs. Atomic: every stage is updated or none are; NotFound if
	// any id is not a member of the pipeline.
	ReorderStages(ctx context.Context, pipelineID string, orderedIDs []string) error

	// DeleteStage removes a stage. Transitions referencing it are retained.
	DeleteStage(ctx context.Context, id string) error

	// CountMembershipsAtStage counts memberships whose current stage is
	// the given stage.
	CountMembershipsAtStage(ctx context.Context, stageID string) (int, error)

	// CreateMembership persists a membership and its initial transition in
	// one transaction.
	CreateMembership(ctx context.Context, m *domain.Membership, initial *domain.Transition) error

	// GetMembership retrieves a membership by ID.
	GetMembership(ctx context.Context, id string) (*domain.Membership, error)

	// FindMembership returns the membership for a (pipeline, contact)
	// pair, or NotFound.
	FindMembership(ctx context.Context, pipelineID, contactID string) (*domain.Membership, error)

	// ListMemberships lists memberships matching the options, most
	// recently updated first.
	ListMemberships(ctx context.Context, opts MembershipListOptions) ([]*domain.Membership, error)

	// DeleteMembership removes a membership and cascades to its
	// transitions.
	DeleteMembership(ctx context.Context, id string) error

	// ApplyTransition inserts tr and compare-and-swaps the membership's
	// current stage, last-updated and version in one transaction. Fails
	// with ConcurrencyConflict when m.Version no longer matches the
	// stored row.
	ApplyTransition(ctx context.Context, m *domain.Membership, tr *domain.Transition) error

	// ListTransitions returns a membership's transitions newest first.
	// limit <= 0 means no limit.
	ListTransitions(ctx context.Context, membershipID string, limit int) ([]*domain.Transition, error)

	// CountByStage counts memberships per current stage for a pipeline.
	CountByStage(ctx context.Context, pipelineID string) (map[string]int, error)

	// Close releases the underlying resources.
	Close() error
}
