package patient

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, p *Patient) error
	GetByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	Update(ctx context.Context, p *Patient) error
	// Delete removes the patient and every row that references it in one
	// transaction, returning the removed dependents.
	Delete(ctx context.Context, id uuid.UUID) ([]Dependent, error)
	List(ctx context.Context, f ListFilter, limit, offset int) ([]*Patient, int, error)
}
