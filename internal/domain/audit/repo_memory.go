package audit

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// MemoryRepository is an in-process Repository for tests and local runs.
type MemoryRepository struct {
	mu     sync.RWMutex
	events []*Event
	byID   map[uuid.UUID]int
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{byID: map[uuid.UUID]int{}}
}

func (r *MemoryRepository) Append(_ context.Context, e *Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[e.ID] = len(r.events)
	r.events = append(r.events, e.Clone())
	return nil
}

func (r *MemoryRepository) GetByID(_ context.Context, id uuid.UUID) (*Event, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i, ok := r.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return r.events[i].Clone(), nil
}

func (r *MemoryRepository) List(_ context.Context, f Filter, limit, offset int) ([]*Event, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	type indexed struct {
		seq int
		e   *Event
	}
	var matched []indexed
	for i, e := range r.events {
		if matches(e, f) {
			matched = append(matched, indexed{i, e})
		}
	}
	sort.Slice(matched, func(a, b int) bool {
		ea, eb := matched[a].e, matched[b].e
		if !ea.CreatedAt.Equal(eb.CreatedAt) {
			return ea.CreatedAt.After(eb.CreatedAt)
		}
		return matched[a].seq > matched[b].seq
	})

	total := len(matched)
	if offset < 0 {
		offset = 0
	}
	if offset >= total {
		return []*Event{}, total, nil
	}
	end := offset + limit
	if limit < 0 || end > total {
		end = total
	}
	out := make([]*Event, 0, end-offset)
	for _, m := range matched[offset:end] {
		out = append(out, m.e.Clone())
	}
	return out, total, nil
}

// Len returns the number of stored events.
func (r *MemoryRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.events)
}

func matches(e *Event, f Filter) bool {
	if f.ResourceType != "" && e.ResourceType != f.ResourceType {
		return false
	}
	if f.ResourceID != "" && (e.ResourceID == nil || *e.ResourceID != f.ResourceID) {
		return false
	}
	if f.ActorID != "" && (e.ActorID == nil || *e.ActorID != f.ActorID) {
		return false
	}
	if f.Action != "" && e.Action != f.Action {
		return false
	}
	if f.From != nil && e.CreatedAt.Before(*f.From) {
		return false
	}
	if f.To != nil && e.CreatedAt.After(*f.To) {
		return false
	}
	return true
}
