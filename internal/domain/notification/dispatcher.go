package notification

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Reference points a notification back at the entity whose state change
// produced it.
type Reference struct {
	Type string
	ID   string
}

// Dispatcher writes derived notifications. Like the audit logger it is
// best-effort: failures are logged and dropped, and a nil *Dispatcher is a
// no-op, so callers cannot fail because of it.
type Dispatcher struct {
	repo      Repository
	templates Templates
	now       func() time.Time
	logger    zerolog.Logger
}

func NewDispatcher(repo Repository, templates Templates, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		repo:      repo,
		templates: templates,
		now:       time.Now,
		logger:    logger.With().Str("component", "notification").Logger(),
	}
}

// Notify renders templateID with data and dispatches the result to patientID.
func (d *Dispatcher) Notify(ctx context.Context, patientID uuid.UUID, templateID string, data map[string]string, ref Reference) {
	if d == nil {
		return
	}
	tpl, err := d.templates.Render(templateID, data)
	if err != nil {
		d.logger.Error().Err(err).Str("reference_type", ref.Type).Str("reference_id", ref.ID).
			Msg("notification render failed")
		return
	}
	n := &Notification{
		PatientID: patientID,
		Title:     tpl.Title,
		Message:   tpl.Body,
		Type:      tpl.Type,
	}
	if ref.Type != "" {
		n.ReferenceType = &ref.Type
	}
	if ref.ID != "" {
		n.ReferenceID = &ref.ID
	}
	d.Dispatch(ctx, n)
}

// Dispatch stores n, filling in its id and creation time.
func (d *Dispatcher) Dispatch(ctx context.Context, n *Notification) {
	if d == nil || n == nil {
		return
	}
	log := d.logger.With().Str("patient_id", n.PatientID.String()).Str("type", n.Type).Logger()
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("panic", fmt.Sprint(r)).Msg("notification dispatch panicked")
		}
	}()

	if err := validate(n); err != nil {
		log.Error().Err(err).Msg("notification dropped")
		return
	}
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = d.now().UTC().Truncate(time.Microsecond)
	}
	n.IsRead = false
	n.ReadAt = nil

	if err := d.repo.Create(ctx, n); err != nil {
		log.Error().Err(err).Msg("notification write failed")
		return
	}
	log.Debug().Str("notification_id", n.ID.String()).Msg("notification dispatched")
}

func validate(n *Notification) error {
	switch {
	case n.PatientID == uuid.Nil:
		return fmt.Errorf("%w: patient_id is required", ErrInvalid)
	case strings.TrimSpace(n.Title) == "":
		return fmt.Errorf("%w: title is required", ErrInvalid)
	case strings.TrimSpace(n.Type) == "":
		return fmt.Errorf("%w: type is required", ErrInvalid)
	}
	return nil
}
