package sqldb

import (
	"context"
	"fmt"
	"testing"

	"github.com/mobilize-crm/pipeline-service/internal/core/domain"
	"github.com/mobilize-crm/pipeline-service/internal/core/ports"
)

var memdbCounter int

func newTestDirectory(t *testing.T) *Directory {
	t.Helper()
	memdbCounter++
	dir, err := Open("sqlite", fmt.Sprintf("file:contactsdb%d?mode=memory&cache=shared", memdbCounter))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { dir.Close() })
	return dir
}

func seedContacts(t *testing.T, dir *Directory) {
	t.Helper()
	ctx := context.Background()
	refs := []domain.ContactRef{
		domain.PersonRef{ID: "alice", FirstName: "Alice", LastName: "Anderson", Office: "office-1"},
		domain.PersonRef{ID: "bob", FirstName: "Bob", LastName: "Brown", Office: "office-1"},
		domain.PersonRef{ID: "carol", FirstName: "Carol", LastName: "Clark", Office: "office-2"},
		domain.ChurchRef{ID: "first-church", Name: "First Community Church", Office: "office-1"},
	}
	for _, ref := range refs {
		if err := dir.Upsert(ctx, ref); err != nil {
			t.Fatalf("Upsert(%s) error = %v", ref.ContactID(), err)
		}
	}
}

func TestGetContact(t *testing.T) {
	dir := newTestDirectory(t)
	seedContacts(t, dir)
	ctx := context.Background()

	ref, err := dir.GetContact(ctx, "alice")
	if err != nil {
		t.Fatalf("GetContact() error = %v", err)
	}
	if ref.Kind() != domain.ContactKindPerson {
		t.Errorf("kind = %s, want person", ref.Kind())
	}
	if ref.DisplayName() != "Alice Anderson" {
		t.Errorf("display name = %s, want Alice Anderson", ref.DisplayName())
	}

	church, err := dir.GetContact(ctx, "first-church")
	if err != nil {
		t.Fatal(err)
	}
	if church.Kind() != domain.ContactKindChurch || church.DisplayName() != "First Community Church" {
		t.Errorf("church = %s/%s, want church/First Community Church", church.Kind(), church.DisplayName())
	}

	if _, err := dir.GetContact(ctx, "ghost"); !domain.IsType(err, domain.ErrorTypeNotFound) {
		t.Errorf("GetContact(ghost) = %v, want not_found", err)
	}
}

func TestListContacts(t *testing.T) {
	dir := newTestDirectory(t)
	seedContacts(t, dir)
	ctx := context.Background()

	t.Run("filter by kind and office", func(t *testing.T) {
		refs, total, err := dir.ListContacts(ctx, ports.ContactListOptions{
			Kind: domain.ContactKindPerson, OfficeID: "office-1",
		})
		if err != nil {
			t.Fatal(err)
		}
		if total != 2 || len(refs) != 2 {
			t.Fatalf("got %d/%d, want 2/2", len(refs), total)
		}
		// People sort by last name.
		if refs[0].ContactID() != "alice" || refs[1].ContactID() != "bob" {
			t.Errorf("order = %s,%s, want alice,bob", refs[0].ContactID(), refs[1].ContactID())
		}
	})

	t.Run("search", func(t *testing.T) {
		refs, total, err := dir.ListContacts(ctx, ports.ContactListOptions{Search: "Brown"})
		if err != nil {
			t.Fatal(err)
		}
		if total != 1 || refs[0].ContactID() != "bob" {
			t.Errorf("search Brown = %v (total %d), want [bob]", refs, total)
		}
	})

	t.Run("pagination", func(t *testing.T) {
		page1, total, err := dir.ListContacts(ctx, ports.ContactListOptions{
			Kind: domain.ContactKindPerson, Page: 1, PageSize: 2,
		})
		if err != nil {
			t.Fatal(err)
		}
		if total != 3 || len(page1) != 2 {
			t.Fatalf("page 1 = %d items of %d, want 2 of 3", len(page1), total)
		}
		page2, _, err := dir.ListContacts(ctx, ports.ContactListOptions{
			Kind: domain.ContactKindPerson, Page: 2, PageSize: 2,
		})
		if err != nil {
			t.Fatal(err)
		}
		if len(page2) != 1 {
			t.Errorf("page 2 = %d items, want 1", len(page2))
		}
	})
}

func TestUpsertOverwrites(t *testing.T) {
	dir := newTestDirectory(t)
	ctx := context.Background()

	if err := dir.Upsert(ctx, domain.PersonRef{ID: "alice", FirstName: "Alice", LastName: "Anderson", Office: "office-1"}); err != nil {
		t.Fatal(err)
	}
	if err := dir.Upsert(ctx, domain.PersonRef{ID: "alice", FirstName: "Alicia", LastName: "Anderson", Office: "office-1"}); err != nil {
		t.Fatalf("second Upsert() error = %v", err)
	}

	ref, err := dir.GetContact(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if ref.DisplayName() != "Alicia Anderson" {
		t.Errorf("display name = %s, want Alicia Anderson", ref.DisplayName())
	}
}
