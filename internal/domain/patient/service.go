package patient

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/chartlog/internal/domain/audit"
)

type Service struct {
	repo  Repository
	audit *audit.Logger
	now   func() time.Time
}

func NewService(repo Repository, auditLog *audit.Logger) *Service {
	return &Service{repo: repo, audit: auditLog, now: time.Now}
}

func (s *Service) Create(ctx context.Context, in Input) (*Patient, error) {
	p := &Patient{ID: uuid.New()}
	if err := apply(p, in); err != nil {
		return nil, err
	}
	p.CreatedAt = s.now().UTC().Truncate(time.Microsecond)
	p.UpdatedAt = p.CreatedAt
	if err := s.repo.Create(ctx, p); err != nil {
		return nil, fmt.Errorf("create patient: %w", err)
	}
	s.audit.Create(ctx, ResourceType, p.ID.String(), p.fields())
	return p, nil
}

// Get loads one patient and records the access.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Patient, error) {
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	s.audit.View(ctx, ResourceType, id.String(), nil)
	return p, nil
}

// Update is read-then-write: the change-set is computed against the row as
// this request read it, so concurrent updates each audit their own diff.
func (s *Service) Update(ctx context.Context, id uuid.UUID, in Input) (*Patient, error) {
	before, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	after := *before
	if err := apply(&after, in); err != nil {
		return nil, err
	}
	after.UpdatedAt = s.now().UTC().Truncate(time.Microsecond)
	if err := s.repo.Update(ctx, &after); err != nil {
		return nil, fmt.Errorf("update patient: %w", err)
	}
	s.audit.Update(ctx, ResourceType, id.String(), audit.Diff(before.fields(), after.fields()))
	return &after, nil
}

// Delete removes the patient with its lab results and messages. Each removed
// dependent gets its own delete event, recorded before the patient's.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	removed, err := s.repo.Delete(ctx, id)
	if err != nil {
		return fmt.Errorf("delete patient: %w", err)
	}
	for _, d := range removed {
		detail := map[string]string{"patient_id": id.String(), "reason": "patient_deleted"}
		for k, v := range d.Detail {
			detail[k] = v
		}
		s.audit.Delete(ctx, d.ResourceType, d.ID, detail)
	}
	s.audit.Delete(ctx, ResourceType, id.String(), map[string]any{
		"mrn":        p.MRN,
		"name":       p.DisplayName(),
		"dependents": len(removed),
	})
	return nil
}

// List records a collection view carrying the filter that was used.
func (s *Service) List(ctx context.Context, f ListFilter, limit, offset int) ([]*Patient, int, error) {
	items, total, err := s.repo.List(ctx, f, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	s.audit.View(ctx, ResourceType, "", map[string]any{
		"search": f.Search,
		"limit":  limit,
		"offset": offset,
	})
	return items, total, nil
}

// ResolveName implements audit.NameResolver. It reads the repository
// directly so that rendering the audit trail is not itself audited.
func (s *Service) ResolveName(ctx context.Context, id string) (string, error) {
	pid, err := uuid.Parse(id)
	if err != nil {
		return "", fmt.Errorf("%w: bad id %q", ErrNotFound, id)
	}
	p, err := s.repo.GetByID(ctx, pid)
	if err != nil {
		return "", err
	}
	return p.DisplayName(), nil
}

func apply(p *Patient, in Input) error {
	in.MRN = strings.TrimSpace(in.MRN)
	in.FirstName = strings.TrimSpace(in.FirstName)
	in.LastName = strings.TrimSpace(in.LastName)
	if in.FirstName == "" || in.LastName == "" {
		return fmt.Errorf("%w: first_name and last_name are required", ErrInvalid)
	}
	if in.MRN == "" {
		return fmt.Errorf("%w: mrn is required", ErrInvalid)
	}

	p.MRN = in.MRN
	p.FirstName = in.FirstName
	p.LastName = in.LastName
	p.Email = in.Email
	p.Phone = in.Phone
	p.BirthDate = nil
	if in.BirthDate != nil && *in.BirthDate != "" {
		bd, err := time.Parse(time.DateOnly, *in.BirthDate)
		if err != nil {
			return fmt.Errorf("%w: birth_date must be YYYY-MM-DD", ErrInvalid)
		}
		p.BirthDate = &bd
	}
	return nil
}
