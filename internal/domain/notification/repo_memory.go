package notification

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository is an in-process Repository for tests and local runs.
type MemoryRepository struct {
	mu    sync.RWMutex
	items map[uuid.UUID]*Notification
	order []uuid.UUID
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{items: make(map[uuid.UUID]*Notification)}
}

func (r *MemoryRepository) Create(_ context.Context, n *Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[n.ID] = n.clone()
	r.order = append(r.order, n.ID)
	return nil
}

func (r *MemoryRepository) GetByID(_ context.Context, id uuid.UUID) (*Notification, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, ok := r.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	return n.clone(), nil
}

func (r *MemoryRepository) ListByPatient(_ context.Context, patientID uuid.UUID, opts ListOptions) ([]*Notification, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matched []*Notification
	for i := len(r.order) - 1; i >= 0; i-- {
		n := r.items[r.order[i]]
		if n.PatientID != patientID || (opts.UnreadOnly && n.IsRead) {
			continue
		}
		matched = append(matched, n)
	}
	sort.SliceStable(matched, func(a, b int) bool {
		return matched[a].CreatedAt.After(matched[b].CreatedAt)
	})

	total := len(matched)
	out := []*Notification{}
	for i := max(opts.Offset, 0); i < total && len(out) < opts.Limit; i++ {
		out = append(out, matched[i].clone())
	}
	return out, total, nil
}

func (r *MemoryRepository) CountUnread(_ context.Context, patientID uuid.UUID) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	count := 0
	for _, n := range r.items {
		if n.PatientID == patientID && !n.IsRead {
			count++
		}
	}
	return count, nil
}

func (r *MemoryRepository) MarkRead(_ context.Context, id uuid.UUID, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.items[id]
	if !ok {
		return false, ErrNotFound
	}
	if n.IsRead {
		return false, nil
	}
	n.IsRead = true
	n.ReadAt = &at
	return true, nil
}

func (r *MemoryRepository) MarkAllRead(_ context.Context, patientID uuid.UUID, at time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, n := range r.items {
		if n.PatientID == patientID && !n.IsRead {
			t := at
			n.IsRead = true
			n.ReadAt = &t
			count++
		}
	}
	return count, nil
}

// CountByReference reports how many notifications point at one entity.
func (r *MemoryRepository) CountByReference(_ context.Context, referenceType, referenceID string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	count := 0
	for _, n := range r.items {
		if n.ReferenceType != nil && *n.ReferenceType == referenceType &&
			n.ReferenceID != nil && *n.ReferenceID == referenceID {
			count++
		}
	}
	return count, nil
}
