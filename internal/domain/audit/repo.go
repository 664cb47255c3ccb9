package audit

import (
	"context"

	"github.com/google/uuid"
)

// Repository is the append-only audit store; it has no update or delete.
type Repository interface {
	Append(ctx context.Context, e *Event) error
	GetByID(ctx context.Context, id uuid.UUID) (*Event, error)
	List(ctx context.Context, f Filter, limit, offset int) ([]*Event, int, error)
}
