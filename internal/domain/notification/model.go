package notification

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound        = errors.New("notification not found")
	ErrInvalid         = errors.New("invalid notification")
	ErrUnknownTemplate = errors.New("unknown notification template")
)

const (
	TypeLabResult = "lab_result"
	TypeMessage   = "message"
)

// Notification is a recipient-facing inbox entry derived from a state change
// of some other entity. Reference fields are a weak pointer back to it.
type Notification struct {
	ID            uuid.UUID  `json:"id"`
	PatientID     uuid.UUID  `json:"patient_id"`
	Title         string     `json:"title"`
	Message       string     `json:"message"`
	Type          string     `json:"type"`
	ReferenceType *string    `json:"reference_type"`
	ReferenceID   *string    `json:"reference_id"`
	IsRead        bool       `json:"is_read"`
	ReadAt        *time.Time `json:"read_at"`
	CreatedAt     time.Time  `json:"created_at"`
}

func (n *Notification) clone() *Notification {
	c := *n
	if n.ReferenceType != nil {
		s := *n.ReferenceType
		c.ReferenceType = &s
	}
	if n.ReferenceID != nil {
		s := *n.ReferenceID
		c.ReferenceID = &s
	}
	if n.ReadAt != nil {
		t := *n.ReadAt
		c.ReadAt = &t
	}
	return &c
}

// ListOptions narrows ListByPatient.
type ListOptions struct {
	UnreadOnly bool
	Limit      int
	Offset     int
}
