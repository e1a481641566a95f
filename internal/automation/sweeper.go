// Package automation runs the auto-move sweep: memberships that have sat
// at a stage past its auto_move_days advance to the next stage through
// the transition engine, so every automated move carries the same audit
// trail and invalidation as a user move.
package automation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mobilize-crm/pipeline-service/internal/core/domain"
	"github.com/mobilize-crm/pipeline-service/internal/core/ports"
	"github.com/mobilize-crm/pipeline-service/internal/engine"
)

// Sweeper advances overdue memberships on a fixed interval.
type Sweeper struct {
	store    ports.PipelineStore
	engine   *engine.Engine
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

// New creates a Sweeper.
func New(store ports.PipelineStore, eng *engine.Engine, interval time.Duration, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = time.Hour
	}
	return &Sweeper{
		store:    store,
		engine:   eng,
		interval: interval,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Run sweeps on the configured interval until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("automation sweep stopped")
			return
		case <-ticker.C:
			if moved, err := s.Sweep(ctx); err != nil {
				s.logger.Error("automation sweep failed", slog.String("error", err.Error()))
			} else if moved > 0 {
				s.logger.Info("automation sweep completed", slog.Int("moved", moved))
			}
		}
	}
}

// Sweep walks every pipeline once and returns how many memberships moved.
// Individual move failures (including lost concurrency races) are logged
// and skipped; the membership is retried on the next sweep.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	pipelines, err := s.store.ListPipelines(ctx, ports.PipelineListOptions{})
	if err != nil {
		return 0, err
	}

	moved := 0
	for _, p := range pipelines {
		n, err := s.sweepPipeline(ctx, p.ID)
		if err != nil {
			return moved, err
		}
		moved += n
	}
	return moved, nil
}

func (s *Sweeper) sweepPipeline(ctx context.Context, pipelineID string) (int, error) {
	stages, err := s.store.ListStages(ctx, pipelineID)
	if err != nil {
		return 0, err
	}

	moved := 0
	for i, st := range stages {
		if st.AutoMoveDays <= 0 || i+1 >= len(stages) {
			continue
		}
		next := stages[i+1]
		cutoff := s.now().AddDate(0, 0, -st.AutoMoveDays)

		memberships, err := s.store.ListMemberships(ctx, ports.MembershipListOptions{
			PipelineID: pipelineID,
			StageID:    st.ID,
		})
		if err != nil {
			return moved, err
		}

		for _, m := range memberships {
			if m.LastUpdated.After(cutoff) {
				continue
			}
			_, err := s.engine.MoveToStage(ctx, engine.MoveInput{
				MembershipID: m.ID,
				ToStageID:    next.ID,
				Notes:        fmt.Sprintf("Auto-moved after %d days in %s", st.AutoMoveDays, st.Name),
			})
			if err != nil {
				if domain.IsType(err, domain.ErrorTypeConcurrencyConflict) {
					s.logger.Debug("skipping membership modified mid-sweep", slog.String("membership_id", m.ID))
					continue
				}
				s.logger.Error("auto-move failed",
					slog.String("membership_id", m.ID),
					slog.String("error", err.Error()))
				continue
			}
			moved++
		}
	}
	return moved, nil
}
