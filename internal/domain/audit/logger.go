package audit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/ehr/chartlog/internal/platform/auth"
	"github.com/ehr/chartlog/internal/platform/db"
	"github.com/ehr/chartlog/internal/platform/middleware"
)

// Publisher mirrors recorded events onto an external stream.
type Publisher interface {
	Publish(ctx context.Context, key string, value interface{}) error
}

// Publishers fans an event out to every stream; one failing stream does not
// stop the others.
type Publishers []Publisher

func (ps Publishers) Publish(ctx context.Context, key string, value interface{}) error {
	var errs []error
	for _, p := range ps {
		if err := p.Publish(ctx, key, value); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type recorder interface {
	Record(ctx context.Context, e Entry) (*Event, error)
}

// Logger is the best-effort facade services call after a successful
// mutation. Its methods return nothing: failures are logged and dropped and
// never reach the caller's result. A nil *Logger is a no-op.
type Logger struct {
	rec            recorder
	pub            Publisher
	publishTimeout time.Duration
	logger         zerolog.Logger
}

func NewLogger(w *Writer, logger zerolog.Logger) *Logger {
	return newLogger(w, logger)
}

func newLogger(rec recorder, logger zerolog.Logger) *Logger {
	return &Logger{
		rec:            rec,
		publishTimeout: 2 * time.Second,
		logger:         logger.With().Str("component", "audit").Logger(),
	}
}

// WithPublisher returns a copy of l that also publishes every recorded event.
func (l *Logger) WithPublisher(p Publisher) *Logger {
	c := *l
	c.pub = p
	return &c
}

func (l *Logger) Create(ctx context.Context, resourceType, resourceID string, detail any) {
	l.record(ctx, ActionCreate, resourceType, resourceID, detail)
}

// Update records changes, which should come from Diff or DiffOf.
func (l *Logger) Update(ctx context.Context, resourceType, resourceID string, changes Changes) {
	if changes == nil {
		changes = Changes{}
	}
	l.record(ctx, ActionUpdate, resourceType, resourceID, UpdateDetail{Changes: changes})
}

func (l *Logger) Delete(ctx context.Context, resourceType, resourceID string, detail any) {
	l.record(ctx, ActionDelete, resourceType, resourceID, detail)
}

// View records read access. An empty resourceID marks a collection view, in
// which case detail usually carries the filter parameters.
func (l *Logger) View(ctx context.Context, resourceType, resourceID string, detail any) {
	l.record(ctx, ActionView, resourceType, resourceID, detail)
}

func (l *Logger) Login(ctx context.Context, userID string) {
	l.record(ctx, ActionLogin, "sessions", userID, nil)
}

func (l *Logger) Logout(ctx context.Context, userID string) {
	l.record(ctx, ActionLogout, "sessions", userID, nil)
}

func (l *Logger) record(ctx context.Context, action Action, resourceType, resourceID string, detail any) {
	if l == nil || l.rec == nil {
		return
	}
	log := l.logger.With().
		Str("action", string(action)).
		Str("resource_type", resourceType).
		Str("resource_id", resourceID).
		Logger()

	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("panic", fmt.Sprint(r)).Msg("audit write panicked")
		}
	}()

	ev, err := l.rec.Record(ctx, EntryFromContext(ctx, action, resourceType, resourceID, detail))
	if err != nil {
		log.Error().Err(err).Msg("audit write failed")
		return
	}
	if l.pub == nil {
		return
	}

	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.publishTimeout)
	defer cancel()
	if err := l.pub.Publish(pctx, StreamKey(ev), ev); err != nil {
		log.Warn().Err(err).Str("event_id", ev.ID.String()).Msg("audit publish failed")
	}
}

// EntryFromContext builds an Entry whose actor and request provenance come
// from the values the HTTP middleware stored on ctx.
func EntryFromContext(ctx context.Context, action Action, resourceType, resourceID string, detail any) Entry {
	meta := middleware.RequestMetaFromContext(ctx)
	return Entry{
		ActorID:      auth.UserIDFromContext(ctx),
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Detail:       detail,
		Request: RequestContext{
			IPAddress: meta.IPAddress,
			UserAgent: meta.UserAgent,
			RequestID: meta.RequestID,
			TenantID:  db.TenantFromContext(ctx),
		},
	}
}

// StreamKey keys stream messages by resource so one resource's events stay
// on one partition.
func StreamKey(e *Event) string {
	if e.ResourceID == nil {
		return e.ResourceType
	}
	return e.ResourceType + "/" + *e.ResourceID
}
