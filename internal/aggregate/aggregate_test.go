package aggregate

import (
	"context"
	"errors"
	"testing"
	"time"

	cachemem "github.com/mobilize-crm/pipeline-service/internal/adapters/cache/memory"
	"github.com/mobilize-crm/pipeline-service/internal/adapters/events/direct"
	"github.com/mobilize-crm/pipeline-service/internal/core/domain"
	"github.com/mobilize-crm/pipeline-service/internal/core/ports"
	"github.com/mobilize-crm/pipeline-service/internal/engine"
	"github.com/mobilize-crm/pipeline-service/internal/storage/memory"
)

type fakeDirectory struct {
	contacts  map[string]domain.ContactRef
	listCount int
}

func (d *fakeDirectory) GetContact(_ context.Context, id string) (domain.ContactRef, error) {
	ref, ok := d.contacts[id]
	if !ok {
		return nil, domain.ErrNotFound("contact", id)
	}
	return ref, nil
}

func (d *fakeDirectory) ListContacts(_ context.Context, opts ports.ContactListOptions) ([]domain.ContactRef, int, error) {
	d.listCount++
	var out []domain.ContactRef
	for _, ref := range d.contacts {
		if opts.Kind != "" && ref.Kind() != opts.Kind {
			continue
		}
		out = append(out, ref)
	}
	return out, len(out), nil
}

// failingCache simulates an unavailable cache backend.
type failingCache struct{}

func (failingCache) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, domain.NewError(domain.ErrorTypeCacheUnavailable, "cache down")
}

func (failingCache) Set(context.Context, string, []byte, time.Duration) error {
	return domain.NewError(domain.ErrorTypeCacheUnavailable, "cache down")
}

func (failingCache) DeletePrefix(context.Context, string) error { return errors.New("cache down") }

func (failingCache) Close() error { return nil }

func seedSummaryFixture(t *testing.T, store *memory.Store) (pipelineID string, stageIDs []string) {
	t.Helper()
	ctx := context.Background()
	pipelineID = "p1"
	if err := store.CreatePipeline(ctx, &domain.Pipeline{
		ID: pipelineID, Name: "People Pipeline", Type: domain.PipelineTypePerson, OfficeID: "office-1",
	}); err != nil {
		t.Fatal(err)
	}
	for i, name := range []string{"PROMOTION", "INFORMATION", "Custom Step"} {
		id := "s" + name
		if err := store.CreateStage(ctx, &domain.Stage{
			ID: id, PipelineID: pipelineID, Name: name, Order: i + 1,
		}); err != nil {
			t.Fatal(err)
		}
		stageIDs = append(stageIDs, id)
	}
	return pipelineID, stageIDs
}

func addMember(t *testing.T, store *memory.Store, pipelineID, contactID, stageID string) {
	t.Helper()
	err := store.CreateMembership(context.Background(), &domain.Membership{
		ID: "m-" + contactID, PipelineID: pipelineID, ContactID: contactID,
		ContactType: domain.ContactKindPerson, CurrentStageID: stageID, Version: 1,
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
}

func TestStageSummaries(t *testing.T) {
	store := memory.NewStore()
	pipelineID, stageIDs := seedSummaryFixture(t, store)
	addMember(t, store, pipelineID, "a", stageIDs[0])
	addMember(t, store, pipelineID, "b", stageIDs[0])
	addMember(t, store, pipelineID, "c", stageIDs[0])
	addMember(t, store, pipelineID, "d", stageIDs[1])

	svc := New(store, nil, nil, DefaultTTLs(), nil)
	summaries, err := svc.StageSummaries(context.Background(), pipelineID)
	if err != nil {
		t.Fatalf("StageSummaries() error = %v", err)
	}
	if len(summaries) != 3 {
		t.Fatalf("got %d summaries, want 3", len(summaries))
	}

	if summaries[0].Count != 3 || summaries[0].Percentage != 75 {
		t.Errorf("stage 0 = %d (%v%%), want 3 (75%%)", summaries[0].Count, summaries[0].Percentage)
	}
	if summaries[1].Count != 1 || summaries[1].Percentage != 25 {
		t.Errorf("stage 1 = %d (%v%%), want 1 (25%%)", summaries[1].Count, summaries[1].Percentage)
	}
	if summaries[2].Count != 0 || summaries[2].Percentage != 0 {
		t.Errorf("stage 2 = %d (%v%%), want 0 (0%%)", summaries[2].Count, summaries[2].Percentage)
	}

	// Keyword stages carry their conventional colors; unnamed ones cycle
	// the palette by position.
	if summaries[0].Color != "#4e73df" {
		t.Errorf("PROMOTION color = %s, want #4e73df", summaries[0].Color)
	}
	if summaries[2].Color != "#36b9cc" {
		t.Errorf("palette fallback color = %s, want #36b9cc", summaries[2].Color)
	}
}

func TestStageSummariesEmptyPipeline(t *testing.T) {
	store := memory.NewStore()
	pipelineID, _ := seedSummaryFixture(t, store)

	svc := New(store, nil, nil, DefaultTTLs(), nil)
	summaries, err := svc.StageSummaries(context.Background(), pipelineID)
	if err != nil {
		t.Fatal(err)
	}
	for _, s := range summaries {
		if s.Count != 0 || s.Percentage != 0 {
			t.Errorf("stage %s = %d (%v%%), want 0 (0%%)", s.Name, s.Count, s.Percentage)
		}
	}
}

func TestStageSummariesUnknownPipeline(t *testing.T) {
	svc := New(memory.NewStore(), nil, nil, DefaultTTLs(), nil)
	_, err := svc.StageSummaries(context.Background(), "missing")
	if !domain.IsType(err, domain.ErrorTypeNotFound) {
		t.Errorf("StageSummaries() = %v, want not_found", err)
	}
}

func TestListContactsUsesCache(t *testing.T) {
	dir := &fakeDirectory{contacts: map[string]domain.ContactRef{
		"alice": domain.PersonRef{ID: "alice", FirstName: "Alice", LastName: "Smith", Office: "office-1"},
	}}
	cache := cachemem.New(cachemem.Config{})
	svc := New(memory.NewStore(), dir, cache, DefaultTTLs(), nil)
	ctx := context.Background()

	opts := ports.ContactListOptions{Kind: domain.ContactKindPerson, OfficeID: "office-1"}
	if _, err := svc.ListContacts(ctx, opts); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.ListContacts(ctx, opts); err != nil {
		t.Fatal(err)
	}
	if dir.listCount != 1 {
		t.Errorf("directory queried %d times, want 1 (second read cached)", dir.listCount)
	}

	// A different search term is a different key.
	opts.Search = "smith"
	if _, err := svc.ListContacts(ctx, opts); err != nil {
		t.Fatal(err)
	}
	if dir.listCount != 2 {
		t.Errorf("directory queried %d times, want 2", dir.listCount)
	}
}

func TestCacheFailureFallsThrough(t *testing.T) {
	store := memory.NewStore()
	pipelineID, stageIDs := seedSummaryFixture(t, store)
	addMember(t, store, pipelineID, "a", stageIDs[0])

	svc := New(store, nil, failingCache{}, DefaultTTLs(), nil)
	summaries, err := svc.StageSummaries(context.Background(), pipelineID)
	if err != nil {
		t.Fatalf("StageSummaries() with failing cache = %v, want nil", err)
	}
	if summaries[0].Count != 1 {
		t.Errorf("count = %d, want 1 from source of truth", summaries[0].Count)
	}
}

func TestMutationInvalidatesSummaries(t *testing.T) {
	store := memory.NewStore()
	pipelineID, _ := seedSummaryFixture(t, store)

	cache := cachemem.New(cachemem.Config{})
	pub, err := direct.NewPublisher(cache)
	if err != nil {
		t.Fatal(err)
	}
	eng := engine.New(store, nil, pub, nil)
	svc := New(store, nil, cache, DefaultTTLs(), nil)
	ctx := context.Background()

	before, err := svc.StageSummaries(ctx, pipelineID)
	if err != nil {
		t.Fatal(err)
	}
	if before[0].Count != 0 {
		t.Fatalf("unexpected starting count %d", before[0].Count)
	}

	// Mutating through the engine must drop the cached summary.
	if _, err := eng.AddContactToPipeline(ctx, engine.AddContactInput{
		PipelineID: pipelineID, ContactID: "alice", ContactKind: domain.ContactKindPerson,
	}); err != nil {
		t.Fatal(err)
	}

	after, err := svc.StageSummaries(ctx, pipelineID)
	if err != nil {
		t.Fatal(err)
	}
	if after[0].Count != 1 {
		t.Errorf("count after mutation = %d, want 1 (stale cache served)", after[0].Count)
	}
}

func TestBundle(t *testing.T) {
	store := memory.NewStore()
	pipelineID, stageIDs := seedSummaryFixture(t, store)
	addMember(t, store, pipelineID, "alice", stageIDs[1])

	dir := &fakeDirectory{contacts: map[string]domain.ContactRef{
		"alice": domain.PersonRef{ID: "alice", FirstName: "Alice", LastName: "Smith", Office: "office-1"},
	}}
	svc := New(store, dir, nil, DefaultTTLs(), nil)

	bundle, err := svc.Bundle(context.Background(), "alice")
	if err != nil {
		t.Fatalf("Bundle() error = %v", err)
	}
	if bundle.Contact.Name != "Alice Smith" {
		t.Errorf("contact name = %s, want Alice Smith", bundle.Contact.Name)
	}
	if len(bundle.Memberships) != 1 {
		t.Fatalf("memberships = %d, want 1", len(bundle.Memberships))
	}
	d := bundle.Memberships[0]
	if d.Pipeline != "People Pipeline" || d.Stage != "INFORMATION" {
		t.Errorf("placement = %s/%s, want People Pipeline/INFORMATION", d.Pipeline, d.Stage)
	}
	if d.StageColor != "#1cc88a" {
		t.Errorf("stage color = %s, want #1cc88a", d.StageColor)
	}
}
