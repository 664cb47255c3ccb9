package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Writer validates entries and appends them to the audit store. It performs
// no diffing: update entries arrive with their change-set computed.
type Writer struct {
	repo Repository
	now  func() time.Time
}

func NewWriter(repo Repository) *Writer {
	return &Writer{repo: repo, now: time.Now}
}

// Record appends exactly one event. It must only be called after the
// mutation it describes has committed.
func (w *Writer) Record(ctx context.Context, e Entry) (*Event, error) {
	detail, err := encodeDetail(e.Detail)
	if err != nil {
		return nil, err
	}
	if err := validateEntry(e, detail); err != nil {
		return nil, err
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate audit id: %w", err)
	}
	ev := &Event{
		ID:           id,
		ActorID:      strPtr(e.ActorID),
		Action:       e.Action,
		ResourceType: e.ResourceType,
		ResourceID:   strPtr(e.ResourceID),
		Detail:       detail,
		IPAddress:    strPtr(e.Request.IPAddress),
		UserAgent:    strPtr(e.Request.UserAgent),
		RequestID:    strPtr(e.Request.RequestID),
		TenantID:     strPtr(e.Request.TenantID),
		// postgres keeps microseconds
		CreatedAt: w.now().UTC().Truncate(time.Microsecond),
	}
	if err := w.repo.Append(ctx, ev); err != nil {
		return nil, fmt.Errorf("append audit event: %w", err)
	}
	return ev, nil
}

func encodeDetail(d any) (json.RawMessage, error) {
	switch t := d.(type) {
	case nil:
		return json.RawMessage(`{}`), nil
	case json.RawMessage:
		if len(t) == 0 {
			return json.RawMessage(`{}`), nil
		}
		if !json.Valid(t) {
			return nil, fmt.Errorf("%w: detail is not valid JSON", ErrInvalidEvent)
		}
		return append(json.RawMessage(nil), t...), nil
	}
	b, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("%w: encode detail: %v", ErrInvalidEvent, err)
	}
	return b, nil
}

func validateEntry(e Entry, detail json.RawMessage) error {
	if !e.Action.Valid() {
		return fmt.Errorf("%w: unknown action %q", ErrInvalidEvent, e.Action)
	}
	if strings.TrimSpace(e.ResourceType) == "" {
		return fmt.Errorf("%w: resource_type is required", ErrInvalidEvent)
	}
	if e.Action.requiresResource() && strings.TrimSpace(e.ResourceID) == "" {
		return fmt.Errorf("%w: resource_id is required for %s", ErrInvalidEvent, e.Action)
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(detail, &obj); err != nil {
		return fmt.Errorf("%w: detail must be a JSON object", ErrInvalidEvent)
	}
	if e.Action == ActionUpdate {
		changes, ok := obj["changes"]
		var m map[string]json.RawMessage
		if !ok || json.Unmarshal(changes, &m) != nil || m == nil {
			return fmt.Errorf("%w: update detail must carry a changes map", ErrInvalidEvent)
		}
	}
	return nil
}
