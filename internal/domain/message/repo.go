package message

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, m *Message) error
	GetByID(ctx context.Context, id uuid.UUID) (*Message, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID, opts ListOptions) ([]*Message, int, error)
	// MarkRead sets is_read and read_at only on an unread message.
	MarkRead(ctx context.Context, id uuid.UUID, at time.Time) (changed bool, err error)
	Delete(ctx context.Context, id uuid.UUID) error
}
