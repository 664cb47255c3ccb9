package labresult

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/chartlog/internal/domain/audit"
)

const ResourceType = "lab_results"

var (
	ErrNotFound          = errors.New("lab result not found")
	ErrInvalid           = errors.New("invalid lab result")
	ErrInvalidTransition = errors.New("invalid lab result status transition")
	ErrConcurrentUpdate  = errors.New("lab result was modified concurrently")
)

type Status string

const (
	StatusOrdered    Status = "ordered"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

func (s Status) Valid() bool {
	switch s {
	case StatusOrdered, StatusInProgress, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

var transitions = map[Status][]Status{
	StatusOrdered:    {StatusInProgress, StatusCompleted, StatusCancelled},
	StatusInProgress: {StatusCompleted, StatusCancelled},
}

// CanTransition reports whether a result may move from one status to
// another. Saving without a status change is always allowed.
func CanTransition(from, to Status) bool {
	if from == to {
		return true
	}
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// notifies reports whether a transition should tell the patient their
// result is ready: only on first arrival at completed.
func notifies(from, to Status) bool {
	return to == StatusCompleted && from != StatusCompleted
}

// LabResult maps to the lab_results table.
type LabResult struct {
	ID             uuid.UUID  `json:"id"`
	PatientID      uuid.UUID  `json:"patient_id"`
	TestName       string     `json:"test_name"`
	TestCode       *string    `json:"test_code,omitempty"`
	Status         Status     `json:"status"`
	ResultValue    *string    `json:"result_value,omitempty"`
	Unit           *string    `json:"unit,omitempty"`
	ReferenceRange *string    `json:"reference_range,omitempty"`
	Notes          *string    `json:"notes,omitempty"`
	OrderedBy      *string    `json:"ordered_by,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

func (l *LabResult) fields() audit.Fields {
	return audit.Fields{
		"patient_id":      l.PatientID,
		"test_name":       l.TestName,
		"test_code":       l.TestCode,
		"status":          l.Status,
		"result_value":    l.ResultValue,
		"unit":            l.Unit,
		"reference_range": l.ReferenceRange,
		"notes":           l.Notes,
		"ordered_by":      l.OrderedBy,
		"completed_at":    l.CompletedAt,
	}
}

// CreateInput is the body of an order.
type CreateInput struct {
	PatientID      string  `json:"patient_id" validate:"required,uuid"`
	TestName       string  `json:"test_name" validate:"required,max=200"`
	TestCode       *string `json:"test_code,omitempty" validate:"omitempty,max=50"`
	Status         Status  `json:"status,omitempty" validate:"omitempty,lab_status"`
	ResultValue    *string `json:"result_value,omitempty"`
	Unit           *string `json:"unit,omitempty" validate:"omitempty,max=30"`
	ReferenceRange *string `json:"reference_range,omitempty"`
	Notes          *string `json:"notes,omitempty"`
}

// UpdateInput replaces the mutable fields of a result. A nil field keeps
// its stored value; an empty Status keeps the current status.
type UpdateInput struct {
	Status         Status  `json:"status,omitempty" validate:"omitempty,lab_status"`
	ResultValue    *string `json:"result_value,omitempty"`
	Unit           *string `json:"unit,omitempty" validate:"omitempty,max=30"`
	ReferenceRange *string `json:"reference_range,omitempty"`
	Notes          *string `json:"notes,omitempty"`
}
