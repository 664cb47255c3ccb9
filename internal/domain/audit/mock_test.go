package audit

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var errOutage = errors.New("audit store unavailable")

// outageRepo simulates a storage outage on every call.
type outageRepo struct{}

func (outageRepo) Append(context.Context, *Event) error { return errOutage }

func (outageRepo) GetByID(context.Context, uuid.UUID) (*Event, error) { return nil, errOutage }

func (outageRepo) List(context.Context, Filter, int, int) ([]*Event, int, error) {
	return nil, 0, errOutage
}

// panicRecorder simulates a programming error inside the write path.
type panicRecorder struct{}

func (panicRecorder) Record(context.Context, Entry) (*Event, error) {
	panic("boom")
}

type fakePublisher struct {
	keys   []string
	values []interface{}
	err    error
}

func (p *fakePublisher) Publish(_ context.Context, key string, value interface{}) error {
	if p.err != nil {
		return p.err
	}
	p.keys = append(p.keys, key)
	p.values = append(p.values, value)
	return nil
}
