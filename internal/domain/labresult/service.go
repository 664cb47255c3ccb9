package labresult

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/chartlog/internal/domain/audit"
	"github.com/ehr/chartlog/internal/domain/notification"
	"github.com/ehr/chartlog/internal/platform/auth"
)

// Notifier is satisfied by *notification.Dispatcher.
type Notifier interface {
	Notify(ctx context.Context, patientID uuid.UUID, templateID string, data map[string]string, ref notification.Reference)
}

type Service struct {
	repo     Repository
	audit    *audit.Logger
	notifier Notifier
	now      func() time.Time
}

func NewService(repo Repository, auditLog *audit.Logger, notifier Notifier) *Service {
	return &Service{repo: repo, audit: auditLog, notifier: notifier, now: time.Now}
}

func (s *Service) Create(ctx context.Context, in CreateInput) (*LabResult, error) {
	patientID, err := uuid.Parse(in.PatientID)
	if err != nil {
		return nil, fmt.Errorf("%w: patient_id must be a UUID", ErrInvalid)
	}
	name := strings.TrimSpace(in.TestName)
	if name == "" {
		return nil, fmt.Errorf("%w: test_name is required", ErrInvalid)
	}
	status := in.Status
	if status == "" {
		status = StatusOrdered
	}
	if !status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalid, status)
	}

	now := s.now().UTC().Truncate(time.Microsecond)
	l := &LabResult{
		ID:             uuid.New(),
		PatientID:      patientID,
		TestName:       name,
		TestCode:       in.TestCode,
		Status:         status,
		ResultValue:    in.ResultValue,
		Unit:           in.Unit,
		ReferenceRange: in.ReferenceRange,
		Notes:          in.Notes,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if uid := auth.UserIDFromContext(ctx); uid != "" {
		l.OrderedBy = &uid
	}
	if status == StatusCompleted {
		l.CompletedAt = &now
	}
	if err := s.repo.Create(ctx, l); err != nil {
		return nil, fmt.Errorf("create lab result: %w", err)
	}
	s.audit.Create(ctx, ResourceType, l.ID.String(), l.fields())
	if status == StatusCompleted {
		s.notifyReady(ctx, l)
	}
	return l, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*LabResult, error) {
	l, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	s.audit.View(ctx, ResourceType, id.String(), nil)
	return l, nil
}

// Update applies in to the stored result. The write is conditional on the
// status read here, so of two requests racing a result to completed only
// one succeeds and only one notification goes out; the loser gets
// ErrConcurrentUpdate and may retry against the new state.
func (s *Service) Update(ctx context.Context, id uuid.UUID, in UpdateInput) (*LabResult, error) {
	before, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	after := *before
	if in.Status != "" {
		if !in.Status.Valid() {
			return nil, fmt.Errorf("%w: unknown status %q", ErrInvalid, in.Status)
		}
		if !CanTransition(before.Status, in.Status) {
			return nil, fmt.Errorf("%w: %s to %s", ErrInvalidTransition, before.Status, in.Status)
		}
		after.Status = in.Status
	}
	if in.ResultValue != nil {
		after.ResultValue = in.ResultValue
	}
	if in.Unit != nil {
		after.Unit = in.Unit
	}
	if in.ReferenceRange != nil {
		after.ReferenceRange = in.ReferenceRange
	}
	if in.Notes != nil {
		after.Notes = in.Notes
	}

	now := s.now().UTC().Truncate(time.Microsecond)
	after.UpdatedAt = now
	ready := notifies(before.Status, after.Status)
	if ready {
		after.CompletedAt = &now
	}

	if err := s.repo.Update(ctx, &after, before.Status); err != nil {
		return nil, fmt.Errorf("update lab result: %w", err)
	}
	s.audit.Update(ctx, ResourceType, id.String(), audit.Diff(before.fields(), after.fields()))
	if ready {
		s.notifyReady(ctx, &after)
	}
	return &after, nil
}

func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	l, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete lab result: %w", err)
	}
	s.audit.Delete(ctx, ResourceType, id.String(), map[string]string{
		"patient_id": l.PatientID.String(),
		"test_name":  l.TestName,
		"status":     string(l.Status),
	})
	return nil
}

func (s *Service) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*LabResult, int, error) {
	items, total, err := s.repo.ListByPatient(ctx, patientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	s.audit.View(ctx, ResourceType, "", map[string]any{
		"patient_id": patientID.String(),
		"limit":      limit,
		"offset":     offset,
	})
	return items, total, nil
}

// ResolveName implements audit.NameResolver.
func (s *Service) ResolveName(ctx context.Context, id string) (string, error) {
	lid, err := uuid.Parse(id)
	if err != nil {
		return "", fmt.Errorf("%w: bad id %q", ErrNotFound, id)
	}
	l, err := s.repo.GetByID(ctx, lid)
	if err != nil {
		return "", err
	}
	return l.TestName, nil
}

func (s *Service) notifyReady(ctx context.Context, l *LabResult) {
	if s.notifier == nil {
		return
	}
	s.notifier.Notify(ctx, l.PatientID, notification.TemplateLabResultReady,
		map[string]string{"test_name": l.TestName},
		notification.Reference{Type: ResourceType, ID: l.ID.String()})
}
