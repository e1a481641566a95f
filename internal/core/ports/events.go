package ports

import (
	"context"

	"github.com/mobilize-crm/pipeline-service/internal/core/domain"
)

// MutationPublisher receives a signal after every successful mutation in
// the registry or the engine. Publishing happens synchronously inside the
// mutating request, post-commit and pre-response, so the next read
// observes fresh data.
type MutationPublisher interface {
	// Publish delivers the event. Errors are logged by the caller and do
	// not fail the mutation, which has already committed.
	Publish(ctx context.Context, event *domain.MutationEvent) error

	// Close releases the underlying resources.
	Close() error
}
