package notification

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, n *Notification) error
	GetByID(ctx context.Context, id uuid.UUID) (*Notification, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID, opts ListOptions) ([]*Notification, int, error)
	CountUnread(ctx context.Context, patientID uuid.UUID) (int, error)
	// MarkRead flips is_read only if it is still false; changed reports
	// whether this call did the flip.
	MarkRead(ctx context.Context, id uuid.UUID, at time.Time) (changed bool, err error)
	MarkAllRead(ctx context.Context, patientID uuid.UUID, at time.Time) (int, error)
}
