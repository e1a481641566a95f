package sqldb

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/mobilize-crm/pipeline-service/internal/core/domain"
	"github.com/mobilize-crm/pipeline-service/internal/core/ports"
)

var memdbCounter int

// newTestStore opens an isolated in-memory SQLite database.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	memdbCounter++
	store, err := NewSQLite(fmt.Sprintf("file:memdb%d?mode=memory&cache=shared", memdbCounter))
	if err != nil {
		t.Fatalf("NewSQLite() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func mustCreatePipeline(t *testing.T, store *Store, id string, main bool) *domain.Pipeline {
	t.Helper()
	now := time.Now().UTC()
	p := &domain.Pipeline{
		ID: id, Name: "Pipeline " + id, Type: domain.PipelineTypePerson,
		OfficeID: "office-1", IsMainPipeline: main, CreatedAt: now, UpdatedAt: now,
	}
	if err := store.CreatePipeline(context.Background(), p); err != nil {
		t.Fatalf("CreatePipeline() error = %v", err)
	}
	return p
}

func mustCreateStage(t *testing.T, store *Store, pipelineID, id string, order int) *domain.Stage {
	t.Helper()
	now := time.Now().UTC()
	st := &domain.Stage{
		ID: id, PipelineID: pipelineID, Name: "Stage " + id, Order: order,
		CreatedAt: now, UpdatedAt: now,
	}
	if err := store.CreateStage(context.Background(), st); err != nil {
		t.Fatalf("CreateStage() error = %v", err)
	}
	return st
}

func mustCreateMembership(t *testing.T, store *Store, id, pipelineID, contactID, stageID string) *domain.Membership {
	t.Helper()
	now := time.Now().UTC()
	m := &domain.Membership{
		ID: id, PipelineID: pipelineID, ContactID: contactID,
		ContactType: domain.ContactKindPerson, CurrentStageID: stageID,
		EnteredAt: now, LastUpdated: now, Version: 1,
	}
	initial := &domain.Transition{
		ID: id + "-initial", MembershipID: id, ToStageID: stageID,
		Notes: "Initial stage", CreatedAt: now,
	}
	if err := store.CreateMembership(context.Background(), m, initial); err != nil {
		t.Fatalf("CreateMembership() error = %v", err)
	}
	return m
}

func TestPipelineRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	p := mustCreatePipeline(t, store, "p1", false)

	got, err := store.GetPipeline(ctx, "p1")
	if err != nil {
		t.Fatalf("GetPipeline() error = %v", err)
	}
	if got.Name != p.Name || got.Type != p.Type || got.OfficeID != p.OfficeID {
		t.Errorf("GetPipeline() = %+v, want %+v", got, p)
	}

	got.Name = "Renamed"
	got.UpdatedAt = time.Now().UTC()
	if err := store.UpdatePipeline(ctx, got); err != nil {
		t.Fatalf("UpdatePipeline() error = %v", err)
	}
	again, _ := store.GetPipeline(ctx, "p1")
	if again.Name != "Renamed" {
		t.Errorf("name after update = %s, want Renamed", again.Name)
	}

	if _, err := store.GetPipeline(ctx, "missing"); !domain.IsType(err, domain.ErrorTypeNotFound) {
		t.Errorf("GetPipeline(missing) = %v, want not_found", err)
	}
}

func TestGetMainPipeline(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	mustCreatePipeline(t, store, "main", true)
	mustCreatePipeline(t, store, "custom", false)

	got, err := store.GetMainPipeline(ctx, "office-1", domain.PipelineTypePerson)
	if err != nil {
		t.Fatalf("GetMainPipeline() error = %v", err)
	}
	if got.ID != "main" {
		t.Errorf("GetMainPipeline() = %s, want main", got.ID)
	}

	_, err = store.GetMainPipeline(ctx, "office-2", domain.PipelineTypePerson)
	if !domain.IsType(err, domain.ErrorTypeNotFound) {
		t.Errorf("GetMainPipeline(other office) = %v, want not_found", err)
	}
}

func TestListPipelinesFilters(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	mustCreatePipeline(t, store, "main", true)
	mustCreatePipeline(t, store, "custom", false)

	mains, err := store.ListPipelines(ctx, ports.PipelineListOptions{MainOnly: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(mains) != 1 || mains[0].ID != "main" {
		t.Errorf("MainOnly = %v, want [main]", mains)
	}

	customs, err := store.ListPipelines(ctx, ports.PipelineListOptions{CustomOnly: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(customs) != 1 || customs[0].ID != "custom" {
		t.Errorf("CustomOnly = %v, want [custom]", customs)
	}
}

func TestStageOrderAppendsAndSorts(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	mustCreatePipeline(t, store, "p1", false)

	mustCreateStage(t, store, "p1", "s1", 1)
	mustCreateStage(t, store, "p1", "s2", 2)
	// Zero order appends after the maximum.
	appended := mustCreateStage(t, store, "p1", "s3", 0)
	if appended.Order != 3 {
		t.Errorf("appended order = %d, want 3", appended.Order)
	}

	stages, err := store.ListStages(ctx, "p1")
	if err != nil {
		t.Fatal(err)
	}
	for i, want := range []string{"s1", "s2", "s3"} {
		if stages[i].ID != want {
			t.Errorf("stages[%d] = %s, want %s", i, stages[i].ID, want)
		}
	}
}

func TestReorderStagesRollsBackOnUnknownStage(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	mustCreatePipeline(t, store, "p1", false)
	mustCreateStage(t, store, "p1", "s1", 1)
	mustCreateStage(t, store, "p1", "s2", 2)

	// The unknown ID is last, so earlier updates inside the transaction
	// must be rolled back.
	err := store.ReorderStages(ctx, "p1", []string{"s2", "s1", "ghost"})
	if !domain.IsType(err, domain.ErrorTypeNotFound) {
		t.Fatalf("ReorderStages() = %v, want not_found", err)
	}

	stages, _ := store.ListStages(ctx, "p1")
	if stages[0].ID != "s1" || stages[1].ID != "s2" {
		t.Errorf("order after failed reorder = %s,%s, want s1,s2", stages[0].ID, stages[1].ID)
	}

	if err := store.ReorderStages(ctx, "p1", []string{"s2", "s1"}); err != nil {
		t.Fatalf("ReorderStages() error = %v", err)
	}
	stages, _ = store.ListStages(ctx, "p1")
	if stages[0].ID != "s2" || stages[1].ID != "s1" {
		t.Errorf("order after reorder = %s,%s, want s2,s1", stages[0].ID, stages[1].ID)
	}
}

func TestDeleteStageBlockedWhileOccupied(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	mustCreatePipeline(t, store, "p1", false)
	mustCreateStage(t, store, "p1", "s1", 1)
	mustCreateMembership(t, store, "m1", "p1", "alice", "s1")

	err := store.DeleteStage(ctx, "s1")
	if !domain.IsType(err, domain.ErrorTypeStageInUse) {
		t.Fatalf("DeleteStage() = %v, want stage_in_use", err)
	}

	if err := store.DeleteMembership(ctx, "m1"); err != nil {
		t.Fatal(err)
	}
	if err := store.DeleteStage(ctx, "s1"); err != nil {
		t.Errorf("DeleteStage() after vacating = %v, want nil", err)
	}
}

func TestMembershipUniquePerPipeline(t *testing.T) {
	store := newTestStore(t)
	mustCreatePipeline(t, store, "p1", false)
	mustCreateStage(t, store, "p1", "s1", 1)
	mustCreateMembership(t, store, "m1", "p1", "alice", "s1")

	dup := &domain.Membership{
		ID: "m2", PipelineID: "p1", ContactID: "alice",
		ContactType: domain.ContactKindPerson, CurrentStageID: "s1", Version: 1,
	}
	err := store.CreateMembership(context.Background(), dup, nil)
	if !domain.IsType(err, domain.ErrorTypeInvalidArgument) {
		t.Errorf("duplicate CreateMembership() = %v, want invalid_argument", err)
	}
}

func TestApplyTransitionCAS(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	mustCreatePipeline(t, store, "p1", false)
	mustCreateStage(t, store, "p1", "s1", 1)
	mustCreateStage(t, store, "p1", "s2", 2)
	m := mustCreateMembership(t, store, "m1", "p1", "alice", "s1")

	stale := *m

	now := time.Now().UTC()
	err := store.ApplyTransition(ctx, m, &domain.Transition{
		ID: "t1", MembershipID: "m1", FromStageID: "s1", ToStageID: "s2", CreatedAt: now,
	})
	if err != nil {
		t.Fatalf("ApplyTransition() error = %v", err)
	}
	if m.Version != 2 || m.CurrentStageID != "s2" {
		t.Errorf("after transition version=%d stage=%s, want 2/s2", m.Version, m.CurrentStageID)
	}

	// The stale copy lost the race; nothing may change.
	err = store.ApplyTransition(ctx, &stale, &domain.Transition{
		ID: "t2", MembershipID: "m1", FromStageID: "s1", ToStageID: "s1", CreatedAt: now,
	})
	if !domain.IsType(err, domain.ErrorTypeConcurrencyConflict) {
		t.Fatalf("stale ApplyTransition() = %v, want concurrency_conflict", err)
	}

	current, _ := store.GetMembership(ctx, "m1")
	if current.Version != 2 || current.CurrentStageID != "s2" {
		t.Errorf("after conflict version=%d stage=%s, want 2/s2 unchanged", current.Version, current.CurrentStageID)
	}

	// The losing transition row was rolled back with the transaction.
	transitions, _ := store.ListTransitions(ctx, "m1", 0)
	if len(transitions) != 2 {
		t.Errorf("transitions = %d, want 2 (initial + winner)", len(transitions))
	}
}

func TestListTransitionsNewestFirst(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	mustCreatePipeline(t, store, "p1", false)
	mustCreateStage(t, store, "p1", "s1", 1)
	mustCreateStage(t, store, "p1", "s2", 2)
	m := mustCreateMembership(t, store, "m1", "p1", "alice", "s1")

	base := time.Now().UTC()
	err := store.ApplyTransition(ctx, m, &domain.Transition{
		ID: "t1", MembershipID: "m1", FromStageID: "s1", ToStageID: "s2",
		CreatedAt: base.Add(time.Second),
	})
	if err != nil {
		t.Fatal(err)
	}

	transitions, err := store.ListTransitions(ctx, "m1", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(transitions) != 2 {
		t.Fatalf("transitions = %d, want 2", len(transitions))
	}
	if transitions[0].ID != "t1" {
		t.Errorf("newest transition = %s, want t1", transitions[0].ID)
	}

	limited, _ := store.ListTransitions(ctx, "m1", 1)
	if len(limited) != 1 || limited[0].ID != "t1" {
		t.Errorf("limited transitions = %v, want [t1]", limited)
	}
}

func TestCountByStage(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	mustCreatePipeline(t, store, "p1", false)
	mustCreateStage(t, store, "p1", "s1", 1)
	mustCreateStage(t, store, "p1", "s2", 2)
	mustCreateMembership(t, store, "m1", "p1", "alice", "s1")
	mustCreateMembership(t, store, "m2", "p1", "bob", "s1")
	mustCreateMembership(t, store, "m3", "p1", "carol", "s2")

	counts, err := store.CountByStage(ctx, "p1")
	if err != nil {
		t.Fatalf("CountByStage() error = %v", err)
	}
	if counts["s1"] != 2 || counts["s2"] != 1 {
		t.Errorf("counts = %v, want s1:2 s2:1", counts)
	}
}

func TestDeletePipelineCascades(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	mustCreatePipeline(t, store, "p1", false)
	mustCreateStage(t, store, "p1", "s1", 1)
	mustCreateMembership(t, store, "m1", "p1", "alice", "s1")

	if err := store.DeletePipeline(ctx, "p1"); err != nil {
		t.Fatalf("DeletePipeline() error = %v", err)
	}

	if _, err := store.GetStage(ctx, "s1"); !domain.IsType(err, domain.ErrorTypeNotFound) {
		t.Error("stage survived pipeline delete")
	}
	if _, err := store.GetMembership(ctx, "m1"); !domain.IsType(err, domain.ErrorTypeNotFound) {
		t.Error("membership survived pipeline delete")
	}
	transitions, _ := store.ListTransitions(ctx, "m1", 0)
	if len(transitions) != 0 {
		t.Errorf("transitions remaining = %d, want 0", len(transitions))
	}
}
