// Package registry owns pipeline and stage entities: creation, ordering,
// deletion and cascade rules. Structural authorization (the main-pipeline
// rule) is the calling layer's job via the guard; the registry assumes it
// has already been checked.
package registry

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/mobilize-crm/pipeline-service/internal/core/domain"
	"github.com/mobilize-crm/pipeline-service/internal/core/ports"
)

// Registry implements the pipeline/stage structural operations.
type Registry struct {
	store  ports.PipelineStore
	events ports.MutationPublisher
	logger *slog.Logger
	now    func() time.Time
}

// New creates a Registry. events may be nil, in which case no
// invalidation signals are emitted (bootstrap uses this before the cache
// exists).
func New(store ports.PipelineStore, events ports.MutationPublisher, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		store:  store,
		events: events,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// CreatePipelineInput carries the fields for a new pipeline.
type CreatePipelineInput struct {
	Name        string
	Description string
	Type        domain.PipelineType
	OfficeID    string
	// Main marks a system pipeline. Only the bootstrap workflow sets it;
	// user-facing calls always create custom pipelines.
	Main        bool
	ParentStage string
}

// CreatePipeline creates a pipeline.
func (r *Registry) CreatePipeline(ctx context.Context, in CreatePipelineInput) (*domain.Pipeline, error) {
	if in.Name == "" {
		return nil, domain.ErrInvalidArgument("pipeline name is required")
	}
	if in.OfficeID == "" {
		return nil, domain.ErrInvalidArgument("office id is required")
	}
	if !in.Type.Valid() {
		return nil, domain.ErrInvalidArgument("unknown pipeline type " + string(in.Type))
	}

	now := r.now()
	p := &domain.Pipeline{
		ID:             uuid.New().String(),
		Name:           in.Name,
		Description:    in.Description,
		Type:           in.Type,
		OfficeID:       in.OfficeID,
		IsMainPipeline: in.Main,
		ParentStage:    in.ParentStage,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := r.store.CreatePipeline(ctx, p); err != nil {
		return nil, err
	}

	r.invalidate(ctx, p.ID)
	return p, nil
}

// UpdatePipeline renames a pipeline or changes its description and parent
// stage link.
func (r *Registry) UpdatePipeline(ctx context.Context, id, name, description, parentStage string) (*domain.Pipeline, error) {
	if name == "" {
		return nil, domain.ErrInvalidArgument("pipeline name is required")
	}
	p, err := r.store.GetPipeline(ctx, id)
	if err != nil {
		return nil, err
	}

	p.Name = name
	p.Description = description
	p.ParentStage = parentStage
	p.UpdatedAt = r.now()
	if err := r.store.UpdatePipeline(ctx, p); err != nil {
		return nil, err
	}

	r.invalidate(ctx, p.ID)
	return p, nil
}

// GetPipeline retrieves a pipeline by ID.
func (r *Registry) GetPipeline(ctx context.Context, id string) (*domain.Pipeline, error) {
	return r.store.GetPipeline(ctx, id)
}

// ListPipelines lists pipelines matching the options.
func (r *Registry) ListPipelines(ctx context.Context, opts ports.PipelineListOptions) ([]*domain.Pipeline, error) {
	return r.store.ListPipelines(ctx, opts)
}

// DeletePipeline removes a pipeline and everything it owns: stages,
// memberships, transitions.
func (r *Registry) DeletePipeline(ctx context.Context, id string) error {
	if err := r.store.DeletePipeline(ctx, id); err != nil {
		return err
	}
	r.invalidate(ctx, id)
	return nil
}

// CreateStageInput carries the fields for a new stage.
type CreateStageInput struct {
	PipelineID  string
	Name        string
	Order       int // 0 appends after the current maximum
	Color       string
	Description string

	AutoMoveDays     int
	AutoReminder     bool
	AutoTaskTemplate string
}

// CreateStage adds a stage to a pipeline.
func (r *Registry) CreateStage(ctx context.Context, in CreateStageInput) (*domain.Stage, error) {
	if in.Name == "" {
		return nil, domain.ErrInvalidArgument("stage name is required")
	}

	now := r.now()
	st := &domain.Stage{
		ID:               uuid.New().String(),
		PipelineID:       in.PipelineID,
		Name:             in.Name,
		Order:            in.Order,
		Color:            in.Color,
		Description:      in.Description,
		AutoMoveDays:     in.AutoMoveDays,
		AutoReminder:     in.AutoReminder,
		AutoTaskTemplate: in.AutoTaskTemplate,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := r.store.CreateStage(ctx, st); err != nil {
		return nil, err
	}

	r.invalidate(ctx, st.PipelineID)
	return st, nil
}

// UpdateStage rewrites a stage's mutable fields. The owning pipeline
// never changes.
func (r *Registry) UpdateStage(ctx context.Context, st *domain.Stage) error {
	existing, err := r.store.GetStage(ctx, st.ID)
	if err != nil {
		return err
	}
	if st.PipelineID != "" && st.PipelineID != existing.PipelineID {
		return domain.ErrInvalidArgument("a stage cannot change pipelines")
	}

	st.PipelineID = existing.PipelineID
	st.UpdatedAt = r.now()
	if err := r.store.UpdateStage(ctx, st); err != nil {
		return err
	}

	r.invalidate(ctx, existing.PipelineID)
	return nil
}

// ReorderStages rewrites each stage's order to its position in
// orderedIDs. Every stage is updated or none are.
func (r *Registry) ReorderStages(ctx context.Context, pipelineID string, orderedIDs []string) error {
	if len(orderedIDs) == 0 {
		return domain.ErrInvalidArgument("no stage order provided")
	}
	if err := r.store.ReorderStages(ctx, pipelineID, orderedIDs); err != nil {
		return err
	}
	r.invalidate(ctx, pipelineID)
	return nil
}

// DeleteStage removes a stage. Blocked with StageInUse while memberships
// still sit at the stage; transition history referencing it is retained.
func (r *Registry) DeleteStage(ctx context.Context, id string) error {
	st, err := r.store.GetStage(ctx, id)
	if err != nil {
		return err
	}
	if err := r.store.DeleteStage(ctx, id); err != nil {
		return err
	}
	r.invalidate(ctx, st.PipelineID)
	return nil
}

// GetStage retrieves a stage by ID.
func (r *Registry) GetStage(ctx context.Context, id string) (*domain.Stage, error) {
	return r.store.GetStage(ctx, id)
}

// GetActiveStages returns the pipeline's stages ascending by order.
func (r *Registry) GetActiveStages(ctx context.Context, pipelineID string) ([]*domain.Stage, error) {
	if _, err := r.store.GetPipeline(ctx, pipelineID); err != nil {
		return nil, err
	}
	return r.store.ListStages(ctx, pipelineID)
}

// invalidate emits a pipeline-namespace invalidation. The mutation has
// already committed, so a publish failure is logged and absorbed.
func (r *Registry) invalidate(ctx context.Context, pipelineID string) {
	if r.events == nil {
		return
	}
	event := &domain.MutationEvent{
		Kind:       domain.MutationPipeline,
		PipelineID: pipelineID,
		OccurredAt: r.now(),
	}
	if err := r.events.Publish(ctx, event); err != nil {
		r.logger.Error("failed to publish mutation event",
			slog.String("pipeline_id", pipelineID),
			slog.String("error", err.Error()))
	}
}
