// Package bootstrap seeds the canonical main pipelines. It runs at
// startup and from the seeding CLI, and is idempotent: offices that
// already have their main pipelines are left untouched.
package bootstrap

import (
	"context"
	"log/slog"

	"github.com/mobilize-crm/pipeline-service/internal/core/domain"
	"github.com/mobilize-crm/pipeline-service/internal/core/ports"
	"github.com/mobilize-crm/pipeline-service/internal/registry"
)

// canonicalStage describes one stage of a main pipeline template.
type canonicalStage struct {
	name         string
	autoMoveDays int
}

// The canonical sequences. Churches get the extra EN42 stage between
// confirmation and automation.
var (
	personStages = []canonicalStage{
		{name: "PROMOTION", autoMoveDays: 30},
		{name: "INFORMATION", autoMoveDays: 30},
		{name: "INVITATION", autoMoveDays: 30},
		{name: "CONFIRMATION", autoMoveDays: 30},
		{name: "AUTOMATION"},
	}
	churchStages = []canonicalStage{
		{name: "PROMOTION", autoMoveDays: 30},
		{name: "INFORMATION", autoMoveDays: 30},
		{name: "INVITATION", autoMoveDays: 30},
		{name: "CONFIRMATION", autoMoveDays: 30},
		{name: "EN42"},
		{name: "AUTOMATION"},
	}
)

// Seeder creates main pipelines for offices.
type Seeder struct {
	store    ports.PipelineStore
	registry *registry.Registry
	logger   *slog.Logger
}

// New creates a Seeder. The registry is used without an event publisher;
// seeding happens before the cache serves traffic.
func New(store ports.PipelineStore, logger *slog.Logger) *Seeder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Seeder{
		store:    store,
		registry: registry.New(store, nil, logger),
		logger:   logger,
	}
}

// SeedOffice ensures the office has its two main pipelines. Existing main
// pipelines are left as-is, stages included.
func (s *Seeder) SeedOffice(ctx context.Context, officeID string) error {
	if err := s.seedMain(ctx, officeID, domain.PipelineTypePerson, "People Pipeline", personStages); err != nil {
		return err
	}
	return s.seedMain(ctx, officeID, domain.PipelineTypeChurch, "Church Pipeline", churchStages)
}

// SeedOffices seeds each office in turn, stopping at the first failure.
func (s *Seeder) SeedOffices(ctx context.Context, officeIDs []string) error {
	for _, id := range officeIDs {
		if err := s.SeedOffice(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

func (s *Seeder) seedMain(ctx context.Context, officeID string, t domain.PipelineType, name string, stages []canonicalStage) error {
	existing, err := s.store.GetMainPipeline(ctx, officeID, t)
	if err == nil {
		s.logger.Debug("main pipeline already seeded",
			slog.String("office_id", officeID),
			slog.String("pipeline_id", existing.ID))
		return nil
	}
	if !domain.IsType(err, domain.ErrorTypeNotFound) {
		return err
	}

	p, err := s.registry.CreatePipeline(ctx, registry.CreatePipelineInput{
		Name:     name,
		Type:     t,
		OfficeID: officeID,
		Main:     true,
	})
	if err != nil {
		return err
	}

	for i, tmpl := range stages {
		stage := domain.Stage{Name: tmpl.name}
		if _, err := s.registry.CreateStage(ctx, registry.CreateStageInput{
			PipelineID:   p.ID,
			Name:         tmpl.name,
			Order:        i + 1,
			Color:        domain.StageColor(stage, i),
			AutoMoveDays: tmpl.autoMoveDays,
		}); err != nil {
			return err
		}
	}

	s.logger.Info("seeded main pipeline",
		slog.String("office_id", officeID),
		slog.String("pipeline_type", string(t)),
		slog.String("pipeline_id", p.ID),
		slog.Int("stages", len(stages)))
	return nil
}
