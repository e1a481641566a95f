// Package engine moves contacts through pipelines. It owns membership
// lifecycle and the transition log; pipeline structure is the registry's
// business.
package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/mobilize-crm/pipeline-service/internal/core/domain"
	"github.com/mobilize-crm/pipeline-service/internal/core/ports"
)

// Engine executes stage transitions with optimistic concurrency. Every
// successful mutation is recorded in the transition log before the
// membership row changes; the two commit together.
type Engine struct {
	store    ports.PipelineStore
	contacts ports.ContactDirectory
	events   ports.MutationPublisher
	logger   *slog.Logger
	now      func() time.Time
}

// New creates an Engine. contacts and events may be nil; a nil directory
// skips contact existence checks (tests and bulk imports use this), a nil
// publisher skips invalidation signals.
func New(store ports.PipelineStore, contacts ports.ContactDirectory, events ports.MutationPublisher, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:    store,
		contacts: contacts,
		events:   events,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// AddContactInput carries the fields for entering a contact into a
// pipeline.
type AddContactInput struct {
	PipelineID  string
	ContactID   string
	ContactKind domain.ContactKind
	// StageID is the entry stage. Empty selects the pipeline's first
	// stage.
	StageID string
	ActorID string
}

// AddContactToPipeline creates a membership at the entry stage and logs
// the initial transition. A contact already in the pipeline is returned
// as-is; entry is idempotent per (pipeline, contact).
func (e *Engine) AddContactToPipeline(ctx context.Context, in AddContactInput) (*domain.Membership, error) {
	if in.ContactID == "" {
		return nil, domain.ErrInvalidArgument("contact id is required")
	}
	if !in.ContactKind.Valid() {
		return nil, domain.ErrInvalidArgument("unknown contact kind " + string(in.ContactKind))
	}

	p, err := e.store.GetPipeline(ctx, in.PipelineID)
	if err != nil {
		return nil, err
	}
	if !p.Type.Accepts(in.ContactKind) {
		return nil, domain.ErrInvalidArgument(
			"pipeline " + p.Name + " does not accept " + string(in.ContactKind) + " contacts")
	}
	if e.contacts != nil {
		ref, err := e.contacts.GetContact(ctx, in.ContactID)
		if err != nil {
			return nil, err
		}
		if ref.Kind() != in.ContactKind {
			return nil, domain.ErrInvalidArgument(
				"contact " + in.ContactID + " is a " + string(ref.Kind()) + ", not a " + string(in.ContactKind))
		}
	}

	if existing, err := e.store.FindMembership(ctx, in.PipelineID, in.ContactID); err == nil {
		return existing, nil
	} else if !domain.IsType(err, domain.ErrorTypeNotFound) {
		return nil, err
	}

	stage, err := e.resolveEntryStage(ctx, in.PipelineID, in.StageID)
	if err != nil {
		return nil, err
	}

	now := e.now()
	m := &domain.Membership{
		ID:             uuid.New().String(),
		PipelineID:     in.PipelineID,
		ContactID:      in.ContactID,
		ContactType:    in.ContactKind,
		CurrentStageID: stage.ID,
		EnteredAt:      now,
		LastUpdated:    now,
		Version:        1,
	}
	initial := &domain.Transition{
		ID:           uuid.New().String(),
		MembershipID: m.ID,
		FromStageID:  "",
		ToStageID:    stage.ID,
		ActorID:      in.ActorID,
		Notes:        "Initial stage",
		CreatedAt:    now,
	}
	if err := e.store.CreateMembership(ctx, m, initial); err != nil {
		return nil, err
	}

	e.logger.Info("contact entered pipeline",
		slog.String("pipeline_id", in.PipelineID),
		slog.String("contact_id", in.ContactID),
		slog.String("stage_id", stage.ID))
	e.invalidate(ctx, in.PipelineID, in.ContactKind)
	return m, nil
}

// MoveInput carries the fields for a stage move.
type MoveInput struct {
	MembershipID string
	ToStageID    string
	ActorID      string
	Notes        string
}

// MoveToStage transitions a membership to another stage of its pipeline.
// Moving to the current stage is a no-op that writes no transition. A
// target stage belonging to a different pipeline fails with
// InvalidTransition; a concurrent move on the same membership fails with
// ConcurrencyConflict.
func (e *Engine) MoveToStage(ctx context.Context, in MoveInput) (*domain.Membership, error) {
	m, err := e.store.GetMembership(ctx, in.MembershipID)
	if err != nil {
		return nil, err
	}
	if in.ToStageID == m.CurrentStageID {
		return m, nil
	}

	target, err := e.store.GetStage(ctx, in.ToStageID)
	if err != nil {
		return nil, err
	}
	if target.PipelineID != m.PipelineID {
		return nil, domain.ErrInvalidTransition(
			"stage " + target.Name + " belongs to a different pipeline")
	}

	now := e.now()
	tr := &domain.Transition{
		ID:           uuid.New().String(),
		MembershipID: m.ID,
		FromStageID:  m.CurrentStageID,
		ToStageID:    target.ID,
		ActorID:      in.ActorID,
		Notes:        in.Notes,
		CreatedAt:    now,
	}
	from := m.CurrentStageID
	m.CurrentStageID = target.ID
	m.LastUpdated = now
	if err := e.store.ApplyTransition(ctx, m, tr); err != nil {
		return nil, err
	}

	e.logger.Info("contact moved",
		slog.String("membership_id", m.ID),
		slog.String("from_stage_id", from),
		slog.String("to_stage_id", target.ID),
		slog.String("actor_id", in.ActorID))
	e.invalidate(ctx, m.PipelineID, m.ContactType)
	return m, nil
}

// RemoveContactFromPipeline deletes a membership and its transition
// history.
func (e *Engine) RemoveContactFromPipeline(ctx context.Context, pipelineID, contactID string) error {
	m, err := e.store.FindMembership(ctx, pipelineID, contactID)
	if err != nil {
		return err
	}
	if err := e.store.DeleteMembership(ctx, m.ID); err != nil {
		return err
	}

	e.logger.Info("contact removed from pipeline",
		slog.String("pipeline_id", pipelineID),
		slog.String("contact_id", contactID))
	e.invalidate(ctx, pipelineID, m.ContactType)
	return nil
}

// GetMembership retrieves a membership by ID.
func (e *Engine) GetMembership(ctx context.Context, id string) (*domain.Membership, error) {
	return e.store.GetMembership(ctx, id)
}

// FindMembership returns the membership for a (pipeline, contact) pair.
func (e *Engine) FindMembership(ctx context.Context, pipelineID, contactID string) (*domain.Membership, error) {
	return e.store.FindMembership(ctx, pipelineID, contactID)
}

// ListMemberships lists memberships matching the options.
func (e *Engine) ListMemberships(ctx context.Context, opts ports.MembershipListOptions) ([]*domain.Membership, error) {
	return e.store.ListMemberships(ctx, opts)
}

// History returns a membership's transitions newest first. limit <= 0
// returns the full history.
func (e *Engine) History(ctx context.Context, membershipID string, limit int) ([]*domain.Transition, error) {
	if _, err := e.store.GetMembership(ctx, membershipID); err != nil {
		return nil, err
	}
	return e.store.ListTransitions(ctx, membershipID, limit)
}

// DaysInStage reports how many whole days the membership has sat at its
// current stage.
func (e *Engine) DaysInStage(ctx context.Context, membershipID string) (int, error) {
	m, err := e.store.GetMembership(ctx, membershipID)
	if err != nil {
		return 0, err
	}
	return e.StageAge(m), nil
}

// StageAge is DaysInStage for a membership already in hand.
func (e *Engine) StageAge(m *domain.Membership) int {
	days := int(e.now().Sub(m.LastUpdated).Hours() / 24)
	if days < 0 {
		days = 0
	}
	return days
}

func (e *Engine) resolveEntryStage(ctx context.Context, pipelineID, stageID string) (*domain.Stage, error) {
	if stageID != "" {
		st, err := e.store.GetStage(ctx, stageID)
		if err != nil {
			return nil, err
		}
		if st.PipelineID != pipelineID {
			return nil, domain.ErrInvalidTransition(
				"stage " + st.Name + " belongs to a different pipeline")
		}
		return st, nil
	}
	stages, err := e.store.ListStages(ctx, pipelineID)
	if err != nil {
		return nil, err
	}
	if len(stages) == 0 {
		return nil, domain.ErrInvalidTransition("pipeline has no stages")
	}
	return stages[0], nil
}

func (e *Engine) invalidate(ctx context.Context, pipelineID string, kind domain.ContactKind) {
	if e.events == nil {
		return
	}
	event := &domain.MutationEvent{
		Kind:        domain.MutationContact,
		ContactKind: kind,
		PipelineID:  pipelineID,
		OccurredAt:  e.now(),
	}
	if err := e.events.Publish(ctx, event); err != nil {
		e.logger.Error("failed to publish mutation event",
			slog.String("pipeline_id", pipelineID),
			slog.String("error", err.Error()))
	}
}
