package audit

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/chartlog/pkg/pagination"
)

// UnknownResourceName is shown for resources whose name cannot be resolved.
const UnknownResourceName = "Unknown"

// Options configures the query service. It is passed by value and never
// mutated after construction.
type Options struct {
	DefaultPageSize int
	MaxPageSize     int
}

func DefaultOptions() Options {
	return Options{DefaultPageSize: pagination.DefaultLimit, MaxPageSize: pagination.MaxLimit}
}

// NameResolver maps a resource id to a human-readable label.
type NameResolver interface {
	ResolveName(ctx context.Context, id string) (string, error)
}

type NameResolverFunc func(ctx context.Context, id string) (string, error)

func (f NameResolverFunc) ResolveName(ctx context.Context, id string) (string, error) {
	return f(ctx, id)
}

// Service is the read side of the audit trail.
type Service struct {
	repo      Repository
	opts      Options
	resolvers map[string]NameResolver
	logger    zerolog.Logger
}

func NewService(repo Repository, opts Options, logger zerolog.Logger) *Service {
	if opts.DefaultPageSize <= 0 {
		opts.DefaultPageSize = pagination.DefaultLimit
	}
	if opts.MaxPageSize <= 0 {
		opts.MaxPageSize = pagination.MaxLimit
	}
	if opts.DefaultPageSize > opts.MaxPageSize {
		opts.DefaultPageSize = opts.MaxPageSize
	}
	return &Service{
		repo:      repo,
		opts:      opts,
		resolvers: map[string]NameResolver{},
		logger:    logger.With().Str("component", "audit").Logger(),
	}
}

// RegisterResolver installs the name lookup for a resource type. Call it
// during wiring, before the service handles requests.
func (s *Service) RegisterResolver(resourceType string, r NameResolver) {
	s.resolvers[resourceType] = r
}

func (s *Service) Options() Options {
	return s.opts
}

func (s *Service) GetByID(ctx context.Context, id uuid.UUID) (*Event, error) {
	return s.repo.GetByID(ctx, id)
}

// List returns one newest-first page of events matching f plus the size of
// the whole filtered set. page is 1-based; out-of-range values are clamped.
func (s *Service) List(ctx context.Context, f Filter, page, pageSize int) ([]*Event, int, error) {
	if err := f.Validate(); err != nil {
		return nil, 0, err
	}
	if pageSize <= 0 {
		pageSize = s.opts.DefaultPageSize
	}
	p := pagination.FromPage(page, pageSize, s.opts.MaxPageSize)
	items, total, err := s.repo.List(ctx, f, p.Limit, p.Offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list audit events: %w", err)
	}
	return items, total, nil
}

// ResolveResourceName never fails: an unknown type, a missing id, a deleted
// entity or a lookup error all yield UnknownResourceName.
func (s *Service) ResolveResourceName(ctx context.Context, resourceType, resourceID string) string {
	if resourceID == "" {
		return UnknownResourceName
	}
	r, ok := s.resolvers[resourceType]
	if !ok {
		return UnknownResourceName
	}
	name, err := r.ResolveName(ctx, resourceID)
	if err != nil {
		s.logger.Debug().Err(err).
			Str("resource_type", resourceType).
			Str("resource_id", resourceID).
			Msg("resource name lookup failed")
		return UnknownResourceName
	}
	if strings.TrimSpace(name) == "" {
		return UnknownResourceName
	}
	return name
}

// Detail loads one event together with its resolved resource name and
// decoded change-set.
func (s *Service) Detail(ctx context.Context, id uuid.UUID) (*Detailed, error) {
	ev, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	d := &Detailed{Event: ev, ResourceName: UnknownResourceName}
	if ev.ResourceID != nil {
		d.ResourceName = s.ResolveResourceName(ctx, ev.ResourceType, *ev.ResourceID)
	}
	if ev.Action == ActionUpdate {
		changes, err := ev.DecodeChanges()
		if err != nil {
			s.logger.Warn().Err(err).Str("event_id", ev.ID.String()).Msg("undecodable change-set")
		}
		d.Changes = changes
	}
	return d, nil
}
