// Package direct provides a synchronous mutation publisher that drops the
// affected cache namespaces in-process. This is the default implementation
// for single-instance deployments; a broker-backed publisher would replace
// it for fan-out.
package direct

import (
	"context"
	"fmt"

	"github.com/mobilize-crm/pipeline-service/internal/core/domain"
	"github.com/mobilize-crm/pipeline-service/internal/core/ports"
)

// Publisher implements ports.MutationPublisher by invalidating the cache
// inline. Because Publish runs post-commit and pre-response, the next read
// after any mutation recomputes from the source of truth.
type Publisher struct {
	cache ports.Cache
}

// NewPublisher creates a direct publisher over the given cache.
func NewPublisher(cache ports.Cache) (*Publisher, error) {
	if cache == nil {
		return nil, fmt.Errorf("cache required")
	}
	return &Publisher{cache: cache}, nil
}

// Publish maps the event to its cache namespaces and drops them. Pipeline
// mutations invalidate derived pipeline views; contact mutations also
// invalidate the listing namespace for the contact's kind.
func (p *Publisher) Publish(ctx context.Context, event *domain.MutationEvent) error {
	if err := p.cache.DeletePrefix(ctx, "pipeline_"); err != nil {
		return err
	}
	if event.Kind != domain.MutationContact {
		return nil
	}

	switch event.ContactKind {
	case domain.ContactKindPerson:
		return p.cache.DeletePrefix(ctx, "people_")
	case domain.ContactKindChurch:
		return p.cache.DeletePrefix(ctx, "church_")
	default:
		if err := p.cache.DeletePrefix(ctx, "people_"); err != nil {
			return err
		}
		return p.cache.DeletePrefix(ctx, "church_")
	}
}

// Close is a no-op for the direct publisher.
func (p *Publisher) Close() error {
	return nil
}
