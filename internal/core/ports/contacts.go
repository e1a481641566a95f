package ports

import (
	"context"

	"github.com/mobilize-crm/pipeline-service/internal/core/domain"
)

// ContactListOptions filters contact directory listings.
type ContactListOptions struct {
	Kind     domain.ContactKind
	OfficeID string
	Search   string
	Page     int
	PageSize int
}

// ContactDirectory is the read-only view of the contact subsystem the core
// depends on: existence, identity and display formatting. Contacts are
// owned elsewhere and never mutated here.
type ContactDirectory interface {
	// GetContact resolves a contact reference, or NotFound.
	GetContact(ctx context.Context, id string) (domain.ContactRef, error)

	// ListContacts returns a page of contacts and the total match count.
	ListContacts(ctx context.Context, opts ContactListOptions) ([]domain.ContactRef, int, error)
}
