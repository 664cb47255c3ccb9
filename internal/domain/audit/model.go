package audit

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound      = errors.New("audit event not found")
	ErrInvalidEvent  = errors.New("invalid audit event")
	ErrInvalidFilter = errors.New("invalid audit filter")
)

// Action is the kind of access or mutation an event records.
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
	ActionView   Action = "view"
	ActionLogin  Action = "login"
	ActionLogout Action = "logout"
)

func (a Action) Valid() bool {
	switch a {
	case ActionCreate, ActionUpdate, ActionDelete, ActionView, ActionLogin, ActionLogout:
		return true
	}
	return false
}

// requiresResource reports whether events of this action must name a resource instance.
func (a Action) requiresResource() bool {
	return a == ActionCreate || a == ActionUpdate || a == ActionDelete
}

func ParseAction(s string) (Action, error) {
	a := Action(s)
	if !a.Valid() {
		return "", fmt.Errorf("%w: unknown action %q", ErrInvalidFilter, s)
	}
	return a, nil
}

// Event is one immutable row of the audit trail. Detail holds the JSON payload
// exactly as it was stored, so repeated reads return identical bytes.
type Event struct {
	ID           uuid.UUID       `json:"id"`
	ActorID      *string         `json:"actor_id"`
	Action       Action          `json:"action"`
	ResourceType string          `json:"resource_type"`
	ResourceID   *string         `json:"resource_id"`
	Detail       json.RawMessage `json:"detail"`
	IPAddress    *string         `json:"ip_address"`
	UserAgent    *string         `json:"user_agent"`
	RequestID    *string         `json:"request_id,omitempty"`
	TenantID     *string         `json:"tenant_id,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

// Clone returns a deep copy so callers cannot mutate stored events.
func (e *Event) Clone() *Event {
	c := *e
	c.Detail = append(json.RawMessage(nil), e.Detail...)
	c.ActorID = cloneStr(e.ActorID)
	c.ResourceID = cloneStr(e.ResourceID)
	c.IPAddress = cloneStr(e.IPAddress)
	c.UserAgent = cloneStr(e.UserAgent)
	c.RequestID = cloneStr(e.RequestID)
	c.TenantID = cloneStr(e.TenantID)
	return &c
}

// DecodeChanges decodes detail.changes, returning nil when the event has none.
func (e *Event) DecodeChanges() (Changes, error) {
	if len(e.Detail) == 0 {
		return nil, nil
	}
	var d struct {
		Changes Changes `json:"changes"`
	}
	if err := json.Unmarshal(e.Detail, &d); err != nil {
		return nil, fmt.Errorf("decode changes: %w", err)
	}
	return d.Changes, nil
}

// RequestContext is the provenance of the request that caused an event.
type RequestContext struct {
	IPAddress string
	UserAgent string
	RequestID string
	TenantID  string
}

// Entry is the input to Writer.Record. Empty strings mean "not present".
type Entry struct {
	ActorID      string
	Action       Action
	ResourceType string
	ResourceID   string
	Detail       any
	Request      RequestContext
}

// UpdateDetail is the detail payload of an update event.
type UpdateDetail struct {
	Changes Changes `json:"changes"`
}

// Filter narrows List. Zero values match everything.
type Filter struct {
	ResourceType string
	ResourceID   string
	ActorID      string
	Action       Action
	From         *time.Time
	To           *time.Time
}

func (f Filter) Validate() error {
	if f.Action != "" && !f.Action.Valid() {
		return fmt.Errorf("%w: unknown action %q", ErrInvalidFilter, f.Action)
	}
	if f.From != nil && f.To != nil && f.From.After(*f.To) {
		return fmt.Errorf("%w: from is after to", ErrInvalidFilter)
	}
	return nil
}

// Changes maps a field name to its before and after values.
type Changes map[string]FieldChange

type absent struct{}

// Absent marks the side of a FieldChange where the field did not exist.
// It is distinct from an explicit nil, which records a JSON null.
var Absent any = absent{}

func IsAbsent(v any) bool {
	_, ok := v.(absent)
	return ok
}

// FieldChange is one entry of a change-set. An Absent side is omitted from
// the JSON object entirely.
type FieldChange struct {
	Before any
	After  any
}

func (fc FieldChange) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	wrote := false
	for _, side := range []struct {
		key string
		val any
	}{{"before", fc.Before}, {"after", fc.After}} {
		if IsAbsent(side.val) {
			continue
		}
		b, err := json.Marshal(side.val)
		if err != nil {
			return nil, err
		}
		if wrote {
			buf.WriteByte(',')
		}
		fmt.Fprintf(&buf, "%q:", side.key)
		buf.Write(b)
		wrote = true
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (fc *FieldChange) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	side := func(key string) (any, error) {
		b, ok := raw[key]
		if !ok {
			return Absent, nil
		}
		return decodeValue(b)
	}
	var err error
	if fc.Before, err = side("before"); err != nil {
		return err
	}
	fc.After, err = side("after")
	return err
}

func decodeValue(b []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

// Detailed is an event plus the display name of the resource it refers to.
type Detailed struct {
	*Event
	ResourceName string  `json:"resource_name"`
	Changes      Changes `json:"changes,omitempty"`
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func cloneStr(p *string) *string {
	if p == nil {
		return nil
	}
	s := *p
	return &s
}
