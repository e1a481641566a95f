package direct

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/mobilize-crm/pipeline-service/internal/core/domain"
)

// recordingCache captures prefix deletes.
type recordingCache struct {
	dropped []string
}

func (c *recordingCache) Get(context.Context, string) ([]byte, bool, error) { return nil, false, nil }

func (c *recordingCache) Set(context.Context, string, []byte, time.Duration) error { return nil }

func (c *recordingCache) DeletePrefix(_ context.Context, prefix string) error {
	c.dropped = append(c.dropped, prefix)
	return nil
}

func (c *recordingCache) Close() error { return nil }

func TestNewPublisherRequiresCache(t *testing.T) {
	if _, err := NewPublisher(nil); err == nil {
		t.Error("NewPublisher(nil) = nil error, want error")
	}
}

func TestPublishNamespaces(t *testing.T) {
	tests := []struct {
		name  string
		event *domain.MutationEvent
		want  []string
	}{
		{
			name:  "pipeline mutation",
			event: &domain.MutationEvent{Kind: domain.MutationPipeline, PipelineID: "p1"},
			want:  []string{"pipeline_"},
		},
		{
			name:  "person mutation",
			event: &domain.MutationEvent{Kind: domain.MutationContact, ContactKind: domain.ContactKindPerson},
			want:  []string{"people_", "pipeline_"},
		},
		{
			name:  "church mutation",
			event: &domain.MutationEvent{Kind: domain.MutationContact, ContactKind: domain.ContactKindChurch},
			want:  []string{"church_", "pipeline_"},
		},
		{
			name:  "contact mutation without kind drops both listings",
			event: &domain.MutationEvent{Kind: domain.MutationContact},
			want:  []string{"church_", "people_", "pipeline_"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cache := &recordingCache{}
			pub, err := NewPublisher(cache)
			if err != nil {
				t.Fatal(err)
			}
			if err := pub.Publish(context.Background(), tt.event); err != nil {
				t.Fatalf("Publish() error = %v", err)
			}

			sort.Strings(cache.dropped)
			if len(cache.dropped) != len(tt.want) {
				t.Fatalf("dropped %v, want %v", cache.dropped, tt.want)
			}
			for i := range tt.want {
				if cache.dropped[i] != tt.want[i] {
					t.Errorf("dropped %v, want %v", cache.dropped, tt.want)
					break
				}
			}
		})
	}
}
