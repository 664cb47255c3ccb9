package message

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/chartlog/internal/domain/audit"
	"github.com/ehr/chartlog/internal/domain/notification"
	"github.com/ehr/chartlog/internal/platform/auth"
	"github.com/ehr/chartlog/pkg/pagination"
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

// Send stores a message and tells the patient about it.
func (s *Service) Send(ctx context.Context, in Input) (*Message, error) {
	patientID, err := uuid.Parse(in.PatientID)
	if err != nil {
		return nil, fmt.Errorf("%w: patient_id must be a UUID", ErrInvalid)
	}
	subject := strings.TrimSpace(in.Subject)
	if subject == "" || strings.TrimSpace(in.Body) == "" {
		return nil, fmt.Errorf("%w: subject and body are required", ErrInvalid)
	}

	m := &Message{
		ID:        uuid.New(),
		PatientID: patientID,
		Subject:   subject,
		Body:      in.Body,
		CreatedAt: s.now().UTC().Truncate(time.Microsecond),
	}
	if uid := auth.UserIDFromContext(ctx); uid != "" {
		m.SenderID = &uid
	}
	if err := s.repo.Create(ctx, m); err != nil {
		return nil, fmt.Errorf("create message: %w", err)
	}
	// the body is clinical content; the trail keeps only who, whom and what about
	s.audit.Create(ctx, ResourceType, m.ID.String(), map[string]any{
		"patient_id": m.PatientID.String(),
		"sender_id":  m.SenderID,
		"subject":    m.Subject,
	})
	if s.notifier != nil {
		s.notifier.Notify(ctx, m.PatientID, notification.TemplateNewMessage,
			map[string]string{"subject": m.Subject},
			notification.Reference{Type: ResourceType, ID: m.ID.String()})
	}
	return m, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Message, error) {
	m, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	s.audit.View(ctx, ResourceType, id.String(), nil)
	return m, nil
}

func (s *Service) ListByPatient(ctx context.Context, patientID uuid.UUID, opts ListOptions) ([]*Message, int, error) {
	p := pagination.New(opts.Limit, opts.Offset, pagination.MaxLimit)
	opts.Limit, opts.Offset = p.Limit, p.Offset
	items, total, err := s.repo.ListByPatient(ctx, patientID, opts)
	if err != nil {
		return nil, 0, err
	}
	s.audit.View(ctx, ResourceType, "", map[string]any{
		"patient_id":  patientID.String(),
		"unread_only": opts.UnreadOnly,
	})
	return items, total, nil
}

// MarkRead is idempotent; only the call that flips the flag is audited.
func (s *Service) MarkRead(ctx context.Context, id uuid.UUID) (*Message, error) {
	at := s.now().UTC().Truncate(time.Microsecond)
	changed, err := s.repo.MarkRead(ctx, id, at)
	if err != nil {
		return nil, err
	}
	m, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if changed {
		s.audit.Update(ctx, ResourceType, id.String(), audit.Changes{
			"is_read": {Before: false, After: true},
			"read_at": {Before: nil, After: at.Format(time.RFC3339Nano)},
		})
	}
	return m, nil
}

func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	m, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	s.audit.Delete(ctx, ResourceType, id.String(), map[string]string{
		"patient_id": m.PatientID.String(),
		"subject":    m.Subject,
	})
	return nil
}

// ResolveName implements audit.NameResolver.
func (s *Service) ResolveName(ctx context.Context, id string) (string, error) {
	mid, err := uuid.Parse(id)
	if err != nil {
		return "", fmt.Errorf("%w: bad id %q", ErrNotFound, id)
	}
	m, err := s.repo.GetByID(ctx, mid)
	if err != nil {
		return "", err
	}
	return m.Subject, nil
}
