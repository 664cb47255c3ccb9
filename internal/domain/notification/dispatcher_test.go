package notification

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type failingRepo struct {
	*MemoryRepository
}

func (failingRepo) Create(context.Context, *Notification) error {
	return errors.New("inbox unavailable")
}

func TestDispatcher_Notify(t *testing.T) {
	repo := NewMemoryRepository()
	d := NewDispatcher(repo, NewTemplates(), zerolog.Nop())
	d.now = func() time.Time { return time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC) }
	patientID := uuid.New()

	d.Notify(context.Background(), patientID, TemplateLabResultReady,
		map[string]string{"test_name": "Lipid Panel"}, Reference{Type: "lab_results", ID: "l-1"})

	items, total, _ := repo.ListByPatient(context.Background(), patientID, ListOptions{Limit: 10})
	if total != 1 {
		t.Fatalf("expected 1 notification, got %d", total)
	}
	n := items[0]
	if n.ID == uuid.Nil || n.IsRead || n.ReadAt != nil {
		t.Errorf("unexpected state %+v", n)
	}
	if n.Type != TypeLabResult || *n.ReferenceType != "lab_results" || *n.ReferenceID != "l-1" {
		t.Errorf("unexpected notification %+v", n)
	}
	if !strings.Contains(n.Message, "Lipid Panel") {
		t.Errorf("unexpected message %q", n.Message)
	}
	if !n.CreatedAt.Equal(time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)) {
		t.Errorf("unexpected created_at %v", n.CreatedAt)
	}
}

func TestDispatcher_FailuresAreLoggedNotReturned(t *testing.T) {
	var buf bytes.Buffer
	d := NewDispatcher(failingRepo{NewMemoryRepository()}, NewTemplates(), zerolog.New(&buf))

	d.Notify(context.Background(), uuid.New(), TemplateNewMessage, map[string]string{"subject": "x"}, Reference{})

	if !strings.Contains(buf.String(), "notification write failed") {
		t.Errorf("expected write failure to be logged, got %q", buf.String())
	}
}

func TestDispatcher_DropsInvalid(t *testing.T) {
	var buf bytes.Buffer
	repo := NewMemoryRepository()
	d := NewDispatcher(repo, NewTemplates(), zerolog.New(&buf))

	d.Dispatch(context.Background(), &Notification{Title: "t", Type: TypeMessage})
	d.Notify(context.Background(), uuid.New(), "missing-template", nil, Reference{})

	if len(repo.items) != 0 {
		t.Errorf("invalid notifications must not be stored")
	}
	if !strings.Contains(buf.String(), "patient_id is required") || !strings.Contains(buf.String(), "render failed") {
		t.Errorf("expected both failures logged, got %q", buf.String())
	}
}

func TestDispatcher_NilIsNoop(t *testing.T) {
	var d *Dispatcher
	d.Notify(context.Background(), uuid.New(), TemplateNewMessage, nil, Reference{})
	d.Dispatch(context.Background(), &Notification{})
}
