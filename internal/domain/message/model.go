package message

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

const ResourceType = "patient_messages"

var (
	ErrNotFound = errors.New("message not found")
	ErrInvalid  = errors.New("invalid message")
)

// Message is a note from a care team member to a patient.
type Message struct {
	ID        uuid.UUID  `json:"id"`
	PatientID uuid.UUID  `json:"patient_id"`
	SenderID  *string    `json:"sender_id,omitempty"`
	Subject   string     `json:"subject"`
	Body      string     `json:"body"`
	IsRead    bool       `json:"is_read"`
	ReadAt    *time.Time `json:"read_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

type Input struct {
	PatientID string `json:"patient_id" validate:"required,uuid"`
	Subject   string `json:"subject" validate:"required,max=200"`
	Body      string `json:"body" validate:"required,max=10000"`
}

type ListOptions struct {
	UnreadOnly bool
	Limit      int
	Offset     int
}
