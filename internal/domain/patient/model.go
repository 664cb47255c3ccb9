package patient

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/chartlog/internal/domain/audit"
)

const ResourceType = "patients"

var (
	ErrNotFound     = errors.New("patient not found")
	ErrInvalid      = errors.New("invalid patient")
	ErrDuplicateMRN = errors.New("a patient with this mrn already exists")
)

// Patient maps to the patients table.
type Patient struct {
	ID        uuid.UUID  `json:"id"`
	MRN       string     `json:"mrn"`
	FirstName string     `json:"first_name"`
	LastName  string     `json:"last_name"`
	BirthDate *time.Time `json:"birth_date,omitempty"`
	Email     *string    `json:"email,omitempty"`
	Phone     *string    `json:"phone,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Dependent is a row removed together with its patient. ResourceType
// matches the owning package's audit resource type.
type Dependent struct {
	ResourceType string
	ID           string
	Detail       map[string]string
}

// DisplayName is the label shown for the patient on audit screens.
func (p *Patient) DisplayName() string {
	return strings.TrimSpace(p.FirstName + " " + p.LastName)
}

// fields is the view of a patient tracked in change-sets; bookkeeping
// timestamps are left out so they never show up as changes.
func (p *Patient) fields() audit.Fields {
	f := audit.Fields{
		"mrn":        p.MRN,
		"first_name": p.FirstName,
		"last_name":  p.LastName,
		"email":      p.Email,
		"phone":      p.Phone,
		"birth_date": nil,
	}
	if p.BirthDate != nil {
		f["birth_date"] = p.BirthDate.Format(time.DateOnly)
	}
	return f
}

// Input is the create/update request body.
type Input struct {
	MRN       string  `json:"mrn" validate:"required,mrn"`
	FirstName string  `json:"first_name" validate:"required,max=100"`
	LastName  string  `json:"last_name" validate:"required,max=100"`
	BirthDate *string `json:"birth_date,omitempty" validate:"omitempty,datetime=2006-01-02"`
	Email     *string `json:"email,omitempty" validate:"omitempty,email"`
	Phone     *string `json:"phone,omitempty" validate:"omitempty,max=30"`
}

// ListFilter narrows List. Search matches name or MRN, case-insensitively.
type ListFilter struct {
	Search string
}
