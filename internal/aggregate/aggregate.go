// Package aggregate serves the read side: paginated contact listings,
// per-contact pipeline bundles and per-stage summaries, each computed from
// the source of truth and cached under namespace-prefixed keys.
package aggregate

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/mobilize-crm/pipeline-service/internal/core/domain"
	"github.com/mobilize-crm/pipeline-service/internal/core/ports"
)

// Cache key namespaces. Invalidation drops a whole namespace, so every
// key must start with exactly one of these.
const (
	nsPipeline = "pipeline_"
	nsPeople   = "people_"
	nsChurch   = "church_"
)

// TTLConfig holds the cache tier durations. Listings churn fastest and
// take the short tier; summaries and bundles take the medium tier; stage
// structure rarely changes and takes the long tier.
type TTLConfig struct {
	Short  time.Duration
	Medium time.Duration
	Long   time.Duration
}

// DefaultTTLs returns the standard tier durations.
func DefaultTTLs() TTLConfig {
	return TTLConfig{
		Short:  60 * time.Second,
		Medium: 5 * time.Minute,
		Long:   30 * time.Minute,
	}
}

// Service is the read-through aggregation layer. A cache failure is
// logged and absorbed; the caller always gets source-of-truth data.
type Service struct {
	store    ports.PipelineStore
	contacts ports.ContactDirectory
	cache    ports.Cache
	logger   *slog.Logger
	ttl      TTLConfig
}

// New creates a Service. cache may be nil, in which case every read
// computes from source.
func New(store ports.PipelineStore, contacts ports.ContactDirectory, cache ports.Cache, ttl TTLConfig, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if ttl.Short <= 0 || ttl.Medium <= 0 || ttl.Long <= 0 {
		ttl = DefaultTTLs()
	}
	return &Service{
		store:    store,
		contacts: contacts,
		cache:    cache,
		logger:   logger,
		ttl:      ttl,
	}
}

// StageSummary is one row of a pipeline's distribution view.
type StageSummary struct {
	StageID    string  `json:"stage_id"`
	Name       string  `json:"name"`
	Color      string  `json:"color"`
	Count      int     `json:"count"`
	Percentage float64 `json:"percentage"`
}

// StageSummaries returns the pipeline's stages in order with membership
// counts and percentages. An empty pipeline reports every stage at 0%.
func (s *Service) StageSummaries(ctx context.Context, pipelineID string) ([]StageSummary, error) {
	key := nsPipeline + "summary_" + pipelineID
	return readThrough(ctx, s, key, s.ttl.Medium, func() ([]StageSummary, error) {
		return s.computeStageSummaries(ctx, pipelineID)
	})
}

func (s *Service) computeStageSummaries(ctx context.Context, pipelineID string) ([]StageSummary, error) {
	if _, err := s.store.GetPipeline(ctx, pipelineID); err != nil {
		return nil, err
	}
	stages, err := s.store.ListStages(ctx, pipelineID)
	if err != nil {
		return nil, err
	}
	counts, err := s.store.CountByStage(ctx, pipelineID)
	if err != nil {
		return nil, err
	}

	total := 0
	for _, n := range counts {
		total += n
	}

	summaries := make([]StageSummary, 0, len(stages))
	for i, st := range stages {
		count := counts[st.ID]
		pct := 0.0
		if total > 0 {
			pct = float64(count) / float64(total) * 100
		}
		summaries = append(summaries, StageSummary{
			StageID:    st.ID,
			Name:       st.Name,
			Color:      domain.StageColor(*st, i),
			Count:      count,
			Percentage: pct,
		})
	}
	return summaries, nil
}

// Stages returns the pipeline's stage structure, cached on the long tier.
func (s *Service) Stages(ctx context.Context, pipelineID string) ([]*domain.Stage, error) {
	key := nsPipeline + "stages_" + pipelineID
	return readThrough(ctx, s, key, s.ttl.Long, func() ([]*domain.Stage, error) {
		if _, err := s.store.GetPipeline(ctx, pipelineID); err != nil {
			return nil, err
		}
		return s.store.ListStages(ctx, pipelineID)
	})
}

// ContactPage is one page of a contact listing.
type ContactPage struct {
	Contacts []ContactEntry `json:"contacts"`
	Total    int            `json:"total"`
	Page     int            `json:"page"`
	PageSize int            `json:"page_size"`
}

// ContactEntry is a directory row flattened for listing.
type ContactEntry struct {
	ID       string             `json:"id"`
	Kind     domain.ContactKind `json:"kind"`
	Name     string             `json:"name"`
	OfficeID string             `json:"office_id"`
}

// ListContacts returns a page of the contact directory, cached on the
// short tier under the kind's namespace. The search term is hashed into
// the key so arbitrary input stays out of the keyspace.
func (s *Service) ListContacts(ctx context.Context, opts ports.ContactListOptions) (*ContactPage, error) {
	if opts.Page < 1 {
		opts.Page = 1
	}
	if opts.PageSize < 1 {
		opts.PageSize = 25
	}
	if opts.PageSize > 100 {
		opts.PageSize = 100
	}

	ns := nsPeople
	if opts.Kind == domain.ContactKindChurch {
		ns = nsChurch
	}
	key := fmt.Sprintf("%slist_%s_%d_%d_%s", ns, opts.OfficeID, opts.Page, opts.PageSize, searchHash(opts.Search))

	return readThrough(ctx, s, key, s.ttl.Short, func() (*ContactPage, error) {
		refs, total, err := s.contacts.ListContacts(ctx, opts)
		if err != nil {
			return nil, err
		}
		entries := make([]ContactEntry, 0, len(refs))
		for _, ref := range refs {
			entries = append(entries, ContactEntry{
				ID:       ref.ContactID(),
				Kind:     ref.Kind(),
				Name:     ref.DisplayName(),
				OfficeID: ref.OfficeID(),
			})
		}
		return &ContactPage{
			Contacts: entries,
			Total:    total,
			Page:     opts.Page,
			PageSize: opts.PageSize,
		}, nil
	})
}

// MembershipDetail is a membership joined with its pipeline and stage for
// display.
type MembershipDetail struct {
	Membership domain.Membership    `json:"membership"`
	Pipeline   string               `json:"pipeline_name"`
	Stage      string               `json:"stage_name"`
	StageColor string               `json:"stage_color"`
	Recent     []*domain.Transition `json:"recent_transitions,omitempty"`
}

// recentHistoryLimit bounds how many transitions a bundle carries per
// membership; the full log stays behind the history endpoint.
const recentHistoryLimit = 5

// ContactBundle is everything the contact detail view needs in one fetch.
type ContactBundle struct {
	Contact     ContactEntry       `json:"contact"`
	Memberships []MembershipDetail `json:"memberships"`
}

// Bundle assembles a contact's directory entry and pipeline placements,
// cached on the medium tier. The key lives in the pipeline namespace
// because placement data dominates the payload.
func (s *Service) Bundle(ctx context.Context, contactID string) (*ContactBundle, error) {
	key := nsPipeline + "contact_" + contactID
	return readThrough(ctx, s, key, s.ttl.Medium, func() (*ContactBundle, error) {
		return s.computeBundle(ctx, contactID)
	})
}

func (s *Service) computeBundle(ctx context.Context, contactID string) (*ContactBundle, error) {
	ref, err := s.contacts.GetContact(ctx, contactID)
	if err != nil {
		return nil, err
	}
	bundle := &ContactBundle{
		Contact: ContactEntry{
			ID:       ref.ContactID(),
			Kind:     ref.Kind(),
			Name:     ref.DisplayName(),
			OfficeID: ref.OfficeID(),
		},
	}

	pipelines, err := s.store.ListPipelines(ctx, ports.PipelineListOptions{})
	if err != nil {
		return nil, err
	}
	for _, p := range pipelines {
		m, err := s.store.FindMembership(ctx, p.ID, contactID)
		if domain.IsType(err, domain.ErrorTypeNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		detail := MembershipDetail{Membership: *m, Pipeline: p.Name}
		if st, err := s.store.GetStage(ctx, m.CurrentStageID); err == nil {
			detail.Stage = st.Name
			detail.StageColor = domain.StageColor(*st, st.Order)
		}
		if recent, err := s.store.ListTransitions(ctx, m.ID, recentHistoryLimit); err == nil {
			detail.Recent = recent
		}
		bundle.Memberships = append(bundle.Memberships, detail)
	}
	return bundle, nil
}

// readThrough checks the cache, computes on miss, and writes back. Cache
// errors on either side are logged and absorbed.
func readThrough[T any](ctx context.Context, s *Service, key string, ttl time.Duration, compute func() (T, error)) (T, error) {
	var zero T
	if s.cache != nil {
		raw, ok, err := s.cache.Get(ctx, key)
		if err != nil {
			s.logger.Warn("cache read failed, computing from source",
				slog.String("key", key),
				slog.String("error", err.Error()))
		} else if ok {
			var cached T
			if err := json.Unmarshal(raw, &cached); err == nil {
				return cached, nil
			}
			s.logger.Warn("dropping undecodable cache entry", slog.String("key", key))
		}
	}

	value, err := compute()
	if err != nil {
		return zero, err
	}

	if s.cache != nil {
		raw, err := json.Marshal(value)
		if err == nil {
			if err := s.cache.Set(ctx, key, raw, ttl); err != nil {
				s.logger.Warn("cache write failed",
					slog.String("key", key),
					slog.String("error", err.Error()))
			}
		}
	}
	return value, nil
}

// searchHash keys a free-text search term without embedding it.
func searchHash(search string) string {
	if search == "" {
		return "all"
	}
	sum := md5.Sum([]byte(search))
	return hex.EncodeToString(sum[:])
}
