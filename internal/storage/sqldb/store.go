// Package sqldb implements the pipeline store on database/sql via sqlx,
// supporting multiple dialects through the dialect layer.
package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/mobilize-crm/pipeline-service/internal/core/domain"
	"github.com/mobilize-crm/pipeline-service/internal/core/ports"
	"github.com/mobilize-crm/pipeline-service/internal/storage/dialect"
)

// Store is a SQL implementation of ports.PipelineStore. Every mutating
// method is one transaction: multi-row writes commit together or roll
// back together.
type Store struct {
	db      *sqlx.DB
	dialect dialect.Dialect
}

var _ ports.PipelineStore = (*Store)(nil)

// Config holds database connection configuration.
type Config struct {
	Driver string // Driver name: sqlite, postgres
	DSN    string // Data source name / connection string
}

// New creates a new SQL store with the specified configuration.
func New(cfg Config) (*Store, error) {
	d, err := dialect.FromDriverName(cfg.Driver)
	if err != nil {
		return nil, fmt.Errorf("unsupported database driver: %w", err)
	}

	db, err := sqlx.Open(d.DriverName(), cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	for _, stmt := range d.PragmaStatements() {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute pragma: %w", err)
		}
	}

	store := &Store{db: db, dialect: d}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// NewSQLite creates a new SQLite store.
func NewSQLite(dbPath string) (*Store, error) {
	return New(Config{Driver: "sqlite", DSN: dbPath})
}

// DB returns the underlying sqlx.DB for advanced operations.
func (s *Store) DB() *sqlx.DB {
	return s.db
}

// Dialect returns the store's SQL dialect so collaborators sharing the
// connection can build compatible queries.
func (s *Store) Dialect() dialect.Dialect {
	return s.dialect
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initSchema() error {
	boolType := s.dialect.BooleanType()
	tsType := s.dialect.TimestampType()

	statements := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS pipelines (
id TEXT PRIMARY KEY,
name TEXT NOT NULL,
description TEXT NOT NULL DEFAULT '',
pipeline_type TEXT NOT NULL,
office_id TEXT NOT NULL,
is_main_pipeline %s NOT NULL DEFAULT 0,
parent_stage TEXT NOT NULL DEFAULT '',
created_at %s NOT NULL,
updated_at %s NOT NULL
)`, boolType, tsType, tsType),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS pipeline_stages (
id TEXT PRIMARY KEY,
pipeline_id TEXT NOT NULL,
name TEXT NOT NULL,
stage_order INTEGER NOT NULL,
color TEXT NOT NULL DEFAULT '',
description TEXT NOT NULL DEFAULT '',
auto_move_days INTEGER NOT NULL DEFAULT 0,
auto_reminder %s NOT NULL DEFAULT 0,
auto_task_template TEXT NOT NULL DEFAULT '',
created_at %s NOT NULL,
updated_at %s NOT NULL,
FOREIGN KEY (pipeline_id) REFERENCES pipelines(id) ON DELETE CASCADE
)`, boolType, tsType, tsType),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS memberships (
id TEXT PRIMARY KEY,
pipeline_id TEXT NOT NULL,
contact_id TEXT NOT NULL,
contact_type TEXT NOT NULL,
current_stage_id TEXT NOT NULL,
entered_at %s NOT NULL,
last_updated %s NOT NULL,
version INTEGER NOT NULL DEFAULT 1,
FOREIGN KEY (pipeline_id) REFERENCES pipelines(id) ON DELETE CASCADE
)`, tsType, tsType),
		// Transitions carry no FK to stages: history rows outlive the
		// stages they reference.
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS transitions (
id TEXT PRIMARY KEY,
membership_id TEXT NOT NULL,
from_stage_id TEXT NOT NULL DEFAULT '',
to_stage_id TEXT NOT NULL,
actor_id TEXT NOT NULL DEFAULT '',
notes TEXT NOT NULL DEFAULT '',
created_at %s NOT NULL,
FOREIGN KEY (membership_id) REFERENCES memberships(id) ON DELETE CASCADE
)`, tsType),
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_memberships_pipeline_contact ON memberships(pipeline_id, contact_id)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_pipelines_main ON pipelines(office_id, pipeline_type) WHERE is_main_pipeline = 1`,
		`CREATE INDEX IF NOT EXISTS idx_stages_pipeline ON pipeline_stages(pipeline_id, stage_order)`,
		`CREATE INDEX IF NOT EXISTS idx_memberships_stage ON memberships(current_stage_id)`,
		`CREATE INDEX IF NOT EXISTS idx_transitions_membership ON transitions(membership_id, created_at)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(s.dialect.Rebind(stmt)); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}

	return nil
}

// CreatePipeline persists a new pipeline.
func (s *Store) CreatePipeline(ctx context.Context, p *domain.Pipeline) error {
	query := s.dialect.Rebind(`INSERT INTO pipelines
(id, name, description, pipeline_type, office_id, is_main_pipeline, parent_stage, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	_, err := s.db.ExecContext(ctx, query,
		p.ID, p.Name, p.Description, string(p.Type), p.OfficeID,
		p.IsMainPipeline, p.ParentStage, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return domain.ErrStorage("create pipeline", err)
	}
	return nil
}

// GetPipeline retrieves a pipeline by ID.
func (s *Store) GetPipeline(ctx context.Context, id string) (*domain.Pipeline, error) {
	var p domain.Pipeline
	query := s.dialect.Rebind(`SELECT * FROM pipelines WHERE id = ?`)
	if err := s.db.GetContext(ctx, &p, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound("pipeline", id)
		}
		return nil, domain.ErrStorage("get pipeline", err)
	}
	return &p, nil
}

// UpdatePipeline rewrites a pipeline's mutable fields.
func (s *Store) UpdatePipeline(ctx context.Context, p *domain.Pipeline) error {
	query := s.dialect.Rebind(`UPDATE pipelines
SET name = ?, description = ?, parent_stage = ?, updated_at = ?
WHERE id = ?`)

	res, err := s.db.ExecContext(ctx, query, p.Name, p.Description, p.ParentStage, p.UpdatedAt, p.ID)
	if err != nil {
		return domain.ErrStorage("update pipeline", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return domain.ErrNotFound("pipeline", p.ID)
	}
	return nil
}

// ListPipelines lists pipelines matching the options.
func (s *Store) ListPipelines(ctx context.Context, opts ports.PipelineListOptions) ([]*domain.Pipeline, error) {
	query := `SELECT * FROM pipelines WHERE 1=1`
	var args []interface{}

	if opts.OfficeID != "" {
		query += ` AND office_id = ?`
		args = append(args, opts.OfficeID)
	}
	if opts.Type != "" {
		query += ` AND pipeline_type = ?`
		args = append(args, string(opts.Type))
	}
	if opts.MainOnly {
		query += ` AND is_main_pipeline = 1`
	}
	if opts.CustomOnly {
		query += ` AND is_main_pipeline = 0`
	}
	query += ` ORDER BY created_at, id`

	var pipelines []*domain.Pipeline
	if err := s.db.SelectContext(ctx, &pipelines, s.dialect.Rebind(query), args...); err != nil {
		return nil, domain.ErrStorage("list pipelines", err)
	}
	return pipelines, nil
}

// GetMainPipeline returns the main pipeline for an office and type.
func (s *Store) GetMainPipeline(ctx context.Context, officeID string, t domain.PipelineType) (*domain.Pipeline, error) {
	var p domain.Pipeline
	query := s.dialect.Rebind(`SELECT * FROM pipelines
WHERE office_id = ? AND pipeline_type = ? AND is_main_pipeline = 1`)
	if err := s.db.GetContext(ctx, &p, query, officeID, string(t)); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound("main pipeline", officeID+"/"+string(t))
		}
		return nil, domain.ErrStorage("get main pipeline", err)
	}
	return &p, nil
}

// DeletePipeline removes a pipeline, cascading to stages, memberships and
// transitions in one transaction. Deletes are explicit rather than
// FK-driven so the cascade works identically on every dialect.
func (s *Store) DeletePipeline(ctx context.Context, id string) error {
	return s.inTx(ctx, "delete pipeline", func(tx *sqlx.Tx) error {
		var exists int
		if err := tx.GetContext(ctx, &exists, s.dialect.Rebind(`SELECT COUNT(*) FROM pipelines WHERE id = ?`), id); err != nil {
			return err
		}
		if exists == 0 {
			return domain.ErrNotFound("pipeline", id)
		}

		stmts := []string{
			`DELETE FROM transitions WHERE membership_id IN (SELECT id FROM memberships WHERE pipeline_id = ?)`,
			`DELETE FROM memberships WHERE pipeline_id = ?`,
			`DELETE FROM pipeline_stages WHERE pipeline_id = ?`,
			`DELETE FROM pipelines WHERE id = ?`,
		}
		for _, stmt := range stmts {
			if _, err := tx.ExecContext(ctx, s.dialect.Rebind(stmt), id); err != nil {
				return err
			}
		}
		return nil
	})
}

// CreateStage persists a new stage. A zero Order appends after the
// pipeline's current maximum.
func (s *Store) CreateStage(ctx context.Context, st *domain.Stage) error {
	return s.inTx(ctx, "create stage", func(tx *sqlx.Tx) error {
		var exists int
		if err := tx.GetContext(ctx, &exists, s.dialect.Rebind(`SELECT COUNT(*) FROM pipelines WHERE id = ?`), st.PipelineID); err != nil {
			return err
		}
		if exists == 0 {
			return domain.ErrNotFound("pipeline", st.PipelineID)
		}

		if st.Order <= 0 {
			var max sql.NullInt64
			if err := tx.GetContext(ctx, &max, s.dialect.Rebind(
				`SELECT MAX(stage_order) FROM pipeline_stages WHERE pipeline_id = ?`), st.PipelineID); err != nil {
				return err
			}
			st.Order = int(max.Int64) + 1
		}

		query := s.dialect.Rebind(`INSERT INTO pipeline_stages
(id, pipeline_id, name, stage_order, color, description, auto_move_days, auto_reminder, auto_task_template, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		_, err := tx.ExecContext(ctx, query,
			st.ID, st.PipelineID, st.Name, st.Order, st.Color, st.Description,
			st.AutoMoveDays, st.AutoReminder, st.AutoTaskTemplate, st.CreatedAt, st.UpdatedAt)
		return err
	})
}

// GetStage retrieves a stage by ID.
func (s *Store) GetStage(ctx context.Context, id string) (*domain.Stage, error) {
	var st domain.Stage
	query := s.dialect.Rebind(`SELECT * FROM pipeline_stages WHERE id = ?`)
	if err := s.db.GetContext(ctx, &st, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound("stage", id)
		}
		return nil, domain.ErrStorage("get stage", err)
	}
	return &st, nil
}

// UpdateStage rewrites a stage's mutable fields. The owning pipeline is
// never changed.
func (s *Store) UpdateStage(ctx context.Context, st *domain.Stage) error {
	query := s.dialect.Rebind(`UPDATE pipeline_stages
SET name = ?, stage_order = ?, color = ?, description = ?,
    auto_move_days = ?, auto_reminder = ?, auto_task_template = ?, updated_at = ?
WHERE id = ?`)

	res, err := s.db.ExecContext(ctx, query,
		st.Name, st.Order, st.Color, st.Description,
		st.AutoMoveDays, st.AutoReminder, st.AutoTaskTemplate, st.UpdatedAt, st.ID)
	if err != nil {
		return domain.ErrStorage("update stage", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return domain.ErrNotFound("stage", st.ID)
	}
	return nil
}

// ListStages returns a pipeline's stages ascending by order, ties broken
// by insertion order.
func (s *Store) ListStages(ctx context.Context, pipelineID string) ([]*domain.Stage, error) {
	var stages []*domain.Stage
	query := s.dialect.Rebind(`SELECT * FROM pipeline_stages
WHERE pipeline_id = ? ORDER BY stage_order, created_at, id`)
	if err := s.db.SelectContext(ctx, &stages, query, pipelineID); err != nil {
		return nil, domain.ErrStorage("list stages", err)
	}
	return stages, nil
}

// ReorderStages rewrites each stage's order to its position in orderedIDs.
// Atomic: every stage is updated or none are.
func (s *Store) ReorderStages(ctx context.Context, pipelineID string, orderedIDs []string) error {
	return s.inTx(ctx, "reorder stages", func(tx *sqlx.Tx) error {
		var memberIDs []string
		if err := tx.SelectContext(ctx, &memberIDs, s.dialect.Rebind(
			`SELECT id FROM pipeline_stages WHERE pipeline_id = ?`), pipelineID); err != nil {
			return err
		}
		members := make(map[string]bool, len(memberIDs))
		for _, id := range memberIDs {
			members[id] = true
		}

		now := time.Now().UTC()
		update := s.dialect.Rebind(`UPDATE pipeline_stages SET stage_order = ?, updated_at = ? WHERE id = ?`)
		for i, id := range orderedIDs {
			if !members[id] {
				return domain.ErrNotFound("stage", id)
			}
			if _, err := tx.ExecContext(ctx, update, i+1, now, id); err != nil {
				return err
			}
		}
		return nil
	})
}

// DeleteStage removes a stage. The delete is blocked while memberships
// still point at the stage; the in-use check runs inside the same
// transaction so a concurrent move cannot slip past it. Transition rows
// referencing the stage are retained.
func (s *Store) DeleteStage(ctx context.Context, id string) error {
	return s.inTx(ctx, "delete stage", func(tx *sqlx.Tx) error {
		var members int
		if err := tx.GetContext(ctx, &members, s.dialect.Rebind(
			`SELECT COUNT(*) FROM memberships WHERE current_stage_id = ?`), id); err != nil {
			return err
		}
		if members > 0 {
			return domain.ErrStageInUse(id, members)
		}

		res, err := tx.ExecContext(ctx, s.dialect.Rebind(`DELETE FROM pipeline_stages WHERE id = ?`), id)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return domain.ErrNotFound("stage", id)
		}
		return nil
	})
}

// CountMembershipsAtStage counts memberships currently at the stage.
func (s *Store) CountMembershipsAtStage(ctx context.Context, stageID string) (int, error) {
	var count int
	query := s.dialect.Rebind(`SELECT COUNT(*) FROM memberships WHERE current_stage_id = ?`)
	if err := s.db.GetContext(ctx, &count, query, stageID); err != nil {
		return 0, domain.ErrStorage("count memberships", err)
	}
	return count, nil
}

// CreateMembership persists a membership and its initial transition in one
// transaction.
func (s *Store) CreateMembership(ctx context.Context, m *domain.Membership, initial *domain.Transition) error {
	return s.inTx(ctx, "create membership", func(tx *sqlx.Tx) error {
		var existing int
		if err := tx.GetContext(ctx, &existing, s.dialect.Rebind(
			`SELECT COUNT(*) FROM memberships WHERE pipeline_id = ? AND contact_id = ?`),
			m.PipelineID, m.ContactID); err != nil {
			return err
		}
		if existing > 0 {
			return domain.ErrInvalidArgument(
				fmt.Sprintf("contact %s is already in pipeline %s", m.ContactID, m.PipelineID))
		}

		insert := s.dialect.Rebind(`INSERT INTO memberships
(id, pipeline_id, contact_id, contact_type, current_stage_id, entered_at, last_updated, version)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
		if _, err := tx.ExecContext(ctx, insert,
			m.ID, m.PipelineID, m.ContactID, string(m.ContactType),
			m.CurrentStageID, m.EnteredAt, m.LastUpdated, m.Version); err != nil {
			return err
		}

		if initial != nil {
			if err := insertTransition(ctx, tx, s.dialect, initial); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetMembership retrieves a membership by ID.
func (s *Store) GetMembership(ctx context.Context, id string) (*domain.Membership, error) {
	var m domain.Membership
	query := s.dialect.Rebind(`SELECT * FROM memberships WHERE id = ?`)
	if err := s.db.GetContext(ctx, &m, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound("membership", id)
		}
		return nil, domain.ErrStorage("get membership", err)
	}
	return &m, nil
}

// FindMembership returns the membership for a (pipeline, contact) pair.
func (s *Store) FindMembership(ctx context.Context, pipelineID, contactID string) (*domain.Membership, error) {
	var m domain.Membership
	query := s.dialect.Rebind(`SELECT * FROM memberships WHERE pipeline_id = ? AND contact_id = ?`)
	if err := s.db.GetContext(ctx, &m, query, pipelineID, contactID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound("membership", pipelineID+"/"+contactID)
		}
		return nil, domain.ErrStorage("find membership", err)
	}
	return &m, nil
}

// ListMemberships lists memberships matching the options, most recently
// updated first.
func (s *Store) ListMemberships(ctx context.Context, opts ports.MembershipListOptions) ([]*domain.Membership, error) {
	query := `SELECT * FROM memberships WHERE 1=1`
	var args []interface{}

	if opts.PipelineID != "" {
		query += ` AND pipeline_id = ?`
		args = append(args, opts.PipelineID)
	}
	if opts.StageID != "" {
		query += ` AND current_stage_id = ?`
		args = append(args, opts.StageID)
	}
	query += ` ORDER BY last_updated DESC, id`
	if opts.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, opts.Limit)
		if opts.Offset > 0 {
			query += ` OFFSET ?`
			args = append(args, opts.Offset)
		}
	}

	var memberships []*domain.Membership
	if err := s.db.SelectContext(ctx, &memberships, s.dialect.Rebind(query), args...); err != nil {
		return nil, domain.ErrStorage("list memberships", err)
	}
	return memberships, nil
}

// DeleteMembership removes a membership and cascades to its transitions.
func (s *Store) DeleteMembership(ctx context.Context, id string) error {
	return s.inTx(ctx, "delete membership", func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, s.dialect.Rebind(
			`DELETE FROM transitions WHERE membership_id = ?`), id); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, s.dialect.Rebind(`DELETE FROM memberships WHERE id = ?`), id)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return domain.ErrNotFound("membership", id)
		}
		return nil
	})
}

// ApplyTransition inserts tr and compare-and-swaps the membership row.
// When the version no longer matches, nothing is written and the caller
// gets ConcurrencyConflict.
func (s *Store) ApplyTransition(ctx context.Context, m *domain.Membership, tr *domain.Transition) error {
	return s.inTx(ctx, "apply transition", func(tx *sqlx.Tx) error {
		if err := insertTransition(ctx, tx, s.dialect, tr); err != nil {
			return err
		}

		update := s.dialect.Rebind(`UPDATE memberships
SET current_stage_id = ?, last_updated = ?, version = version + 1
WHERE id = ? AND version = ?`)
		res, err := tx.ExecContext(ctx, update, tr.ToStageID, tr.CreatedAt, m.ID, m.Version)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			var exists int
			if err := tx.GetContext(ctx, &exists, s.dialect.Rebind(
				`SELECT COUNT(*) FROM memberships WHERE id = ?`), m.ID); err != nil {
				return err
			}
			if exists == 0 {
				return domain.ErrNotFound("membership", m.ID)
			}
			return domain.ErrConcurrencyConflict(m.ID)
		}

		m.CurrentStageID = tr.ToStageID
		m.LastUpdated = tr.CreatedAt
		m.Version++
		return nil
	})
}

// ListTransitions returns a membership's transitions newest first.
func (s *Store) ListTransitions(ctx context.Context, membershipID string, limit int) ([]*domain.Transition, error) {
	query := `SELECT * FROM transitions WHERE membership_id = ? ORDER BY created_at DESC, id DESC`
	args := []interface{}{membershipID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	var transitions []*domain.Transition
	if err := s.db.SelectContext(ctx, &transitions, s.dialect.Rebind(query), args...); err != nil {
		return nil, domain.ErrStorage("list transitions", err)
	}
	return transitions, nil
}

// CountByStage counts memberships per current stage for a pipeline.
func (s *Store) CountByStage(ctx context.Context, pipelineID string) (map[string]int, error) {
	query := s.dialect.Rebind(`SELECT current_stage_id, COUNT(*) AS n
FROM memberships WHERE pipeline_id = ? GROUP BY current_stage_id`)

	rows, err := s.db.QueryxContext(ctx, query, pipelineID)
	if err != nil {
		return nil, domain.ErrStorage("count by stage", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var stageID string
		var n int
		if err := rows.Scan(&stageID, &n); err != nil {
			return nil, domain.ErrStorage("count by stage", err)
		}
		counts[stageID] = n
	}
	if err := rows.Err(); err != nil {
		return nil, domain.ErrStorage("count by stage", err)
	}
	return counts, nil
}

// inTx runs fn inside a transaction, translating failures into typed
// storage errors while preserving domain errors raised by fn.
func (s *Store) inTx(ctx context.Context, op string, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return domain.ErrStorage(op, err)
	}

	if err := fn(tx); err != nil {
		tx.Rollback()
		var de *domain.Error
		if errors.As(err, &de) {
			return de
		}
		return domain.ErrStorage(op, err)
	}

	if err := tx.Commit(); err != nil {
		return domain.ErrStorage(op, err)
	}
	return nil
}

func insertTransition(ctx context.Context, tx *sqlx.Tx, d dialect.Dialect, tr *domain.Transition) error {
	query := d.Rebind(`INSERT INTO transitions
(id, membership_id, from_stage_id, to_stage_id, actor_id, notes, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`)
	_, err := tx.ExecContext(ctx, query,
		tr.ID, tr.MembershipID, tr.FromStageID, tr.ToStageID, tr.ActorID, tr.Notes, tr.CreatedAt)
	return err
}
