// Package memory provides an in-memory pipeline store for tests and
// ephemeral deployments. It mirrors the transactional behavior of the SQL
// store: multi-row writes are applied under one lock, all or nothing.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/mobilize-crm/pipeline-service/internal/core/domain"
	"github.com/mobilize-crm/pipeline-service/internal/core/ports"
)

// Store is an in-memory implementation of ports.PipelineStore.
type Store struct {
	mu          sync.RWMutex
	pipelines   map[string]*domain.Pipeline
	stages      map[string]*domain.Stage
	memberships map[string]*domain.Membership
	transitions map[string]*domain.Transition

	// insertion counters preserve stable ordering for ties
	seq     int64
	stageSeq map[string]int64
	transSeq map[string]int64

	// FailAfterReorders makes ReorderStages fail after N individual stage
	// updates, for atomicity tests. Negative disables.
	FailAfterReorders int
}

var _ ports.PipelineStore = (*Store)(nil)

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{
		pipelines:         map[string]*domain.Pipeline{},
		stages:            map[string]*domain.Stage{},
		memberships:       map[string]*domain.Membership{},
		transitions:       map[string]*domain.Transition{},
		stageSeq:          map[string]int64{},
		transSeq:          map[string]int64{},
		FailAfterReorders: -1,
	}
}

// Close is a no-op for the memory store.
func (s *Store) Close() error { return nil }

func (s *Store) CreatePipeline(_ context.Context, p *domain.Pipeline) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.pipelines[p.ID] = &cp
	return nil
}

func (s *Store) GetPipeline(_ context.Context, id string) (*domain.Pipeline, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.pipelines[id]
	if !ok {
		return nil, domain.ErrNotFound("pipeline", id)
	}
	cp := *p
	return &cp, nil
}

func (s *Store) UpdatePipeline(_ context.Context, p *domain.Pipeline) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.pipelines[p.ID]
	if !ok {
		return domain.ErrNotFound("pipeline", p.ID)
	}
	existing.Name = p.Name
	existing.Description = p.Description
	existing.ParentStage = p.ParentStage
	existing.UpdatedAt = p.UpdatedAt
	return nil
}

func (s *Store) ListPipelines(_ context.Context, opts ports.PipelineListOptions) ([]*domain.Pipeline, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*domain.Pipeline
	for _, p := range s.pipelines {
		if opts.OfficeID != "" && p.OfficeID != opts.OfficeID {
			continue
		}
		if opts.Type != "" && p.Type != opts.Type {
			continue
		}
		if opts.MainOnly && !p.IsMainPipeline {
			continue
		}
		if opts.CustomOnly && p.IsMainPipeline {
			continue
		}
		cp := *p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) GetMainPipeline(_ context.Context, officeID string, t domain.PipelineType) (*domain.Pipeline, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.pipelines {
		if p.IsMainPipeline && p.OfficeID == officeID && p.Type == t {
			cp := *p
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound("main pipeline", officeID+"/"+string(t))
}

func (s *Store) DeletePipeline(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pipelines[id]; !ok {
		return domain.ErrNotFound("pipeline", id)
	}
	for sid, st := range s.stages {
		if st.PipelineID == id {
			delete(s.stages, sid)
		}
	}
	for mid, m := range s.memberships {
		if m.PipelineID != id {
			continue
		}
		for tid, tr := range s.transitions {
			if tr.MembershipID == mid {
				delete(s.transitions, tid)
			}
		}
		delete(s.memberships, mid)
	}
	delete(s.pipelines, id)
	return nil
}

func (s *Store) CreateStage(_ context.Context, st *domain.Stage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pipelines[st.PipelineID]; !ok {
		return domain.ErrNotFound("pipeline", st.PipelineID)
	}
	if st.Order <= 0 {
		max := 0
		for _, other := range s.stages {
			if other.PipelineID == st.PipelineID && other.Order > max {
				max = other.Order
			}
		}
		st.Order = max + 1
	}
	cp := *st
	s.stages[st.ID] = &cp
	s.seq++
	s.stageSeq[st.ID] = s.seq
	return nil
}

func (s *Store) GetStage(_ context.Context, id string) (*domain.Stage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.stages[id]
	if !ok {
		return nil, domain.ErrNotFound("stage", id)
	}
	cp := *st
	return &cp, nil
}

func (s *Store) UpdateStage(_ context.Context, st *domain.Stage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.stages[st.ID]
	if !ok {
		return domain.ErrNotFound("stage", st.ID)
	}
	existing.Name = st.Name
	existing.Order = st.Order
	existing.Color = st.Color
	existing.Description = st.Description
	existing.AutoMoveDays = st.AutoMoveDays
	existing.AutoReminder = st.AutoReminder
	existing.AutoTaskTemplate = st.AutoTaskTemplate
	existing.UpdatedAt = st.UpdatedAt
	return nil
}

func (s *Store) ListStages(_ context.Context, pipelineID string) ([]*domain.Stage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*domain.Stage
	for _, st := range s.stages {
		if st.PipelineID == pipelineID {
			cp := *st
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Order != out[j].Order {
			return out[i].Order < out[j].Order
		}
		return s.stageSeq[out[i].ID] < s.stageSeq[out[j].ID]
	})
	return out, nil
}

func (s *Store) ReorderStages(_ context.Context, pipelineID string, orderedIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	originals := make(map[string]int, len(orderedIDs))
	for _, id := range orderedIDs {
		st, ok := s.stages[id]
		if !ok || st.PipelineID != pipelineID {
			return domain.ErrNotFound("stage", id)
		}
		originals[id] = st.Order
	}

	for i, id := range orderedIDs {
		if s.FailAfterReorders >= 0 && i >= s.FailAfterReorders {
			// Roll back the partial application, like a SQL transaction.
			for undo, order := range originals {
				s.stages[undo].Order = order
			}
			return domain.ErrStorage("reorder stages", errSimulated)
		}
		s.stages[id].Order = i + 1
	}
	return nil
}

func (s *Store) DeleteStage(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.stages[id]; !ok {
		return domain.ErrNotFound("stage", id)
	}
	members := 0
	for _, m := range s.memberships {
		if m.CurrentStageID == id {
			members++
		}
	}
	if members > 0 {
		return domain.ErrStageInUse(id, members)
	}
	delete(s.stages, id)
	return nil
}

func (s *Store) CountMembershipsAtStage(_ context.Context, stageID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, m := range s.memberships {
		if m.CurrentStageID == stageID {
			count++
		}
	}
	return count, nil
}

func (s *Store) CreateMembership(_ context.Context, m *domain.Membership, initial *domain.Transition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.memberships {
		if existing.PipelineID == m.PipelineID && existing.ContactID == m.ContactID {
			return domain.ErrInvalidArgument(
				"contact " + m.ContactID + " is already in pipeline " + m.PipelineID)
		}
	}
	cp := *m
	s.memberships[m.ID] = &cp
	if initial != nil {
		tr := *initial
		s.transitions[initial.ID] = &tr
		s.seq++
		s.transSeq[initial.ID] = s.seq
	}
	return nil
}

func (s *Store) GetMembership(_ context.Context, id string) (*domain.Membership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.memberships[id]
	if !ok {
		return nil, domain.ErrNotFound("membership", id)
	}
	cp := *m
	return &cp, nil
}

func (s *Store) FindMembership(_ context.Context, pipelineID, contactID string) (*domain.Membership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, m := range s.memberships {
		if m.PipelineID == pipelineID && m.ContactID == contactID {
			cp := *m
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound("membership", pipelineID+"/"+contactID)
}

func (s *Store) ListMemberships(_ context.Context, opts ports.MembershipListOptions) ([]*domain.Membership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*domain.Membership
	for _, m := range s.memberships {
		if opts.PipelineID != "" && m.PipelineID != opts.PipelineID {
			continue
		}
		if opts.StageID != "" && m.CurrentStageID != opts.StageID {
			continue
		}
		cp := *m
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastUpdated.Equal(out[j].LastUpdated) {
			return out[i].LastUpdated.After(out[j].LastUpdated)
		}
		return out[i].ID < out[j].ID
	})
	if opts.Offset > 0 {
		if opts.Offset >= len(out) {
			return nil, nil
		}
		out = out[opts.Offset:]
	}
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

func (s *Store) DeleteMembership(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.memberships[id]; !ok {
		return domain.ErrNotFound("membership", id)
	}
	for tid, tr := range s.transitions {
		if tr.MembershipID == id {
			delete(s.transitions, tid)
		}
	}
	delete(s.memberships, id)
	return nil
}

func (s *Store) ApplyTransition(_ context.Context, m *domain.Membership, tr *domain.Transition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.memberships[m.ID]
	if !ok {
		return domain.ErrNotFound("membership", m.ID)
	}
	if existing.Version != m.Version {
		return domain.ErrConcurrencyConflict(m.ID)
	}

	cp := *tr
	s.transitions[tr.ID] = &cp
	s.seq++
	s.transSeq[tr.ID] = s.seq

	existing.CurrentStageID = tr.ToStageID
	existing.LastUpdated = tr.CreatedAt
	existing.Version++

	m.CurrentStageID = existing.CurrentStageID
	m.LastUpdated = existing.LastUpdated
	m.Version = existing.Version
	return nil
}

func (s *Store) ListTransitions(_ context.Context, membershipID string, limit int) ([]*domain.Transition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*domain.Transition
	for _, tr := range s.transitions {
		if tr.MembershipID == membershipID {
			cp := *tr
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return s.transSeq[out[i].ID] > s.transSeq[out[j].ID]
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) CountByStage(_ context.Context, pipelineID string) (map[string]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := make(map[string]int)
	for _, m := range s.memberships {
		if m.PipelineID == pipelineID {
			counts[m.CurrentStageID]++
		}
	}
	return counts, nil
}

// TransitionCount reports the number of stored transitions, for tests.
func (s *Store) TransitionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.transitions)
}

// errSimulated marks injected failures.
var errSimulated = &simulatedError{}

type simulatedError struct{}

func (e *simulatedError) Error() string { return "simulated storage failure" }
