package bootstrap

import (
	"context"
	"testing"

	"github.com/mobilize-crm/pipeline-service/internal/core/domain"
	"github.com/mobilize-crm/pipeline-service/internal/storage/memory"
)

func TestSeedOffice(t *testing.T) {
	store := memory.NewStore()
	seeder := New(store, nil)
	ctx := context.Background()

	if err := seeder.SeedOffice(ctx, "office-1"); err != nil {
		t.Fatalf("SeedOffice() error = %v", err)
	}

	people, err := store.GetMainPipeline(ctx, "office-1", domain.PipelineTypePerson)
	if err != nil {
		t.Fatalf("GetMainPipeline(person) error = %v", err)
	}
	if !people.IsMainPipeline {
		t.Error("people pipeline not marked main")
	}

	stages, err := store.ListStages(ctx, people.ID)
	if err != nil {
		t.Fatal(err)
	}
	wantPeople := []string{"PROMOTION", "INFORMATION", "INVITATION", "CONFIRMATION", "AUTOMATION"}
	if len(stages) != len(wantPeople) {
		t.Fatalf("people stages = %d, want %d", len(stages), len(wantPeople))
	}
	for i, want := range wantPeople {
		if stages[i].Name != want {
			t.Errorf("people stage[%d] = %s, want %s", i, stages[i].Name, want)
		}
	}
	if stages[0].Color != "#4e73df" {
		t.Errorf("PROMOTION color = %s, want #4e73df", stages[0].Color)
	}
	if stages[0].AutoMoveDays != 30 {
		t.Errorf("PROMOTION auto_move_days = %d, want 30", stages[0].AutoMoveDays)
	}
	if stages[len(stages)-1].AutoMoveDays != 0 {
		t.Error("terminal stage must not auto-move")
	}

	church, err := store.GetMainPipeline(ctx, "office-1", domain.PipelineTypeChurch)
	if err != nil {
		t.Fatalf("GetMainPipeline(church) error = %v", err)
	}
	churchStages, _ := store.ListStages(ctx, church.ID)
	if len(churchStages) != 6 {
		t.Fatalf("church stages = %d, want 6 (EN42 included)", len(churchStages))
	}
	if churchStages[4].Name != "EN42" {
		t.Errorf("church stage[4] = %s, want EN42", churchStages[4].Name)
	}
}

func TestSeedOfficeIdempotent(t *testing.T) {
	store := memory.NewStore()
	seeder := New(store, nil)
	ctx := context.Background()

	if err := seeder.SeedOffice(ctx, "office-1"); err != nil {
		t.Fatal(err)
	}
	first, _ := store.GetMainPipeline(ctx, "office-1", domain.PipelineTypePerson)

	if err := seeder.SeedOffice(ctx, "office-1"); err != nil {
		t.Fatalf("second SeedOffice() error = %v", err)
	}
	second, _ := store.GetMainPipeline(ctx, "office-1", domain.PipelineTypePerson)
	if second.ID != first.ID {
		t.Errorf("reseed replaced the main pipeline: %s != %s", second.ID, first.ID)
	}
}

func TestSeedOffices(t *testing.T) {
	store := memory.NewStore()
	seeder := New(store, nil)
	ctx := context.Background()

	if err := seeder.SeedOffices(ctx, []string{"office-1", "office-2"}); err != nil {
		t.Fatal(err)
	}
	for _, office := range []string{"office-1", "office-2"} {
		if _, err := store.GetMainPipeline(ctx, office, domain.PipelineTypePerson); err != nil {
			t.Errorf("office %s not seeded: %v", office, err)
		}
	}
}
