package labresult

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, l *LabResult) error
	GetByID(ctx context.Context, id uuid.UUID) (*LabResult, error)
	// Update writes l only if the stored status still equals prev, and
	// returns ErrConcurrentUpdate otherwise.
	Update(ctx context.Context, l *LabResult, prev Status) error
	Delete(ctx context.Context, id uuid.UUID) error
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*LabResult, int, error)
}
