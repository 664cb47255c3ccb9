package notification

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/chartlog/internal/domain/audit"
	"github.com/ehr/chartlog/pkg/pagination"
)

type Service struct {
	repo  Repository
	audit *audit.Logger
	now   func() time.Time
}

func NewService(repo Repository, auditLog *audit.Logger) *Service {
	return &Service{repo: repo, audit: auditLog, now: time.Now}
}

func (s *Service) ListByPatient(ctx context.Context, patientID uuid.UUID, opts ListOptions) ([]*Notification, int, error) {
	p := pagination.New(opts.Limit, opts.Offset, pagination.MaxLimit)
	opts.Limit, opts.Offset = p.Limit, p.Offset
	items, total, err := s.repo.ListByPatient(ctx, patientID, opts)
	if err != nil {
		return nil, 0, err
	}
	s.audit.View(ctx, "patient_notifications", "", map[string]any{
		"patient_id":  patientID.String(),
		"unread_only": opts.UnreadOnly,
	})
	return items, total, nil
}

func (s *Service) CountUnread(ctx context.Context, patientID uuid.UUID) (int, error) {
	return s.repo.CountUnread(ctx, patientID)
}

// MarkRead is idempotent: marking an already-read notification succeeds,
// keeps the original read_at and records no audit event.
func (s *Service) MarkRead(ctx context.Context, id uuid.UUID) (*Notification, error) {
	at := s.now().UTC().Truncate(time.Microsecond)
	changed, err := s.repo.MarkRead(ctx, id, at)
	if err != nil {
		return nil, err
	}
	n, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if changed {
		s.audit.Update(ctx, "patient_notifications", id.String(), audit.Changes{
			"is_read": {Before: false, After: true},
			"read_at": {Before: nil, After: at.Format(time.RFC3339Nano)},
		})
	}
	return n, nil
}

// MarkAllRead returns how many notifications were flipped.
func (s *Service) MarkAllRead(ctx context.Context, patientID uuid.UUID) (int, error) {
	n, err := s.repo.MarkAllRead(ctx, patientID, s.now().UTC().Truncate(time.Microsecond))
	if err != nil {
		return 0, fmt.Errorf("mark all read: %w", err)
	}
	if n > 0 {
		s.audit.Update(ctx, "patients", patientID.String(), audit.Changes{
			"unread_notifications": {Before: n, After: 0},
		})
	}
	return n, nil
}
