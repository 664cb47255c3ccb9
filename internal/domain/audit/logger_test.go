package audit

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/ehr/chartlog/internal/platform/auth"
	"github.com/ehr/chartlog/internal/platform/db"
	"github.com/ehr/chartlog/internal/platform/middleware"
)

func requestContext() context.Context {
	ctx := auth.WithUser(context.Background(), "dr-house", []string{"physician"})
	ctx = middleware.WithRequestMeta(ctx, middleware.RequestMeta{
		RequestID: "req-9", IPAddress: "192.0.2.1", UserAgent: "chart-ui",
	})
	return context.WithValue(ctx, db.TenantIDKey, "acme")
}

func TestLogger_TakesActorAndProvenanceFromContext(t *testing.T) {
	repo := NewMemoryRepository()
	l := NewLogger(NewWriter(repo), zerolog.Nop())

	l.Create(requestContext(), "patients", "p-1", map[string]string{"mrn": "M-1"})

	items, total, _ := repo.List(context.Background(), Filter{}, 10, 0)
	if total != 1 {
		t.Fatalf("expected 1 event, got %d", total)
	}
	ev := items[0]
	if *ev.ActorID != "dr-house" || *ev.IPAddress != "192.0.2.1" || *ev.UserAgent != "chart-ui" ||
		*ev.RequestID != "req-9" || *ev.TenantID != "acme" {
		t.Errorf("provenance not captured: %+v", ev)
	}
	if ev.Action != ActionCreate {
		t.Errorf("expected create, got %s", ev.Action)
	}
}

func TestLogger_ActionsMapToEvents(t *testing.T) {
	repo := NewMemoryRepository()
	l := NewLogger(NewWriter(repo), zerolog.Nop())
	ctx := requestContext()

	l.Update(ctx, "lab_results", "l-1", Diff(Fields{"status": "ordered"}, Fields{"status": "completed"}))
	l.Update(ctx, "lab_results", "l-1", nil)
	l.Delete(ctx, "lab_results", "l-1", nil)
	l.View(ctx, "lab_results", "", map[string]string{"patient_id": "p-1"})
	l.Login(ctx, "dr-house")
	l.Logout(ctx, "dr-house")

	items, total, _ := repo.List(context.Background(), Filter{}, 10, 0)
	if total != 6 {
		t.Fatalf("expected 6 events, got %d", total)
	}
	counts := map[Action]int{}
	for _, ev := range items {
		counts[ev.Action]++
	}
	want := map[Action]int{ActionUpdate: 2, ActionDelete: 1, ActionView: 1, ActionLogin: 1, ActionLogout: 1}
	for a, n := range want {
		if counts[a] != n {
			t.Errorf("%s: got %d events, want %d", a, counts[a], n)
		}
	}

	updates, _, _ := repo.List(context.Background(), Filter{Action: ActionUpdate}, 10, 0)
	for _, ev := range updates {
		if _, err := ev.DecodeChanges(); err != nil {
			t.Errorf("update without decodable changes: %s", ev.Detail)
		}
	}
}

func TestLogger_FailuresAreSwallowedAndLogged(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(NewWriter(outageRepo{}), zerolog.New(&buf))

	// returns nothing and must not panic
	l.Create(context.Background(), "patients", "p-1", nil)

	if !strings.Contains(buf.String(), "audit write failed") || !strings.Contains(buf.String(), errOutage.Error()) {
		t.Errorf("expected failure to be logged, got %q", buf.String())
	}
}

func TestLogger_InvalidEntryIsLoggedNotReturned(t *testing.T) {
	var buf bytes.Buffer
	repo := NewMemoryRepository()
	l := NewLogger(NewWriter(repo), zerolog.New(&buf))

	l.Create(context.Background(), "patients", "", nil)

	if repo.Len() != 0 {
		t.Error("invalid event must not be stored")
	}
	if !strings.Contains(buf.String(), "resource_id is required") {
		t.Errorf("expected validation failure in log, got %q", buf.String())
	}
}

func TestLogger_RecoversPanics(t *testing.T) {
	var buf bytes.Buffer
	l := newLogger(panicRecorder{}, zerolog.New(&buf))

	l.Delete(context.Background(), "patients", "p-1", nil)

	if !strings.Contains(buf.String(), "audit write panicked") {
		t.Errorf("expected panic to be logged, got %q", buf.String())
	}
}

func TestLogger_NilIsNoop(t *testing.T) {
	var l *Logger
	l.Create(context.Background(), "patients", "p-1", nil)
	l.View(context.Background(), "patients", "", nil)
}

func TestLogger_PublishesAfterAppend(t *testing.T) {
	repo := NewMemoryRepository()
	pub := &fakePublisher{}
	l := NewLogger(NewWriter(repo), zerolog.Nop()).WithPublisher(pub)

	l.Create(requestContext(), "patients", "p-1", nil)
	l.View(requestContext(), "patients", "", nil)

	if len(pub.keys) != 2 || pub.keys[0] != "patients/p-1" || pub.keys[1] != "patients" {
		t.Fatalf("unexpected published keys %q", pub.keys)
	}
	ev, ok := pub.values[0].(*Event)
	if !ok {
		t.Fatalf("expected *Event, got %T", pub.values[0])
	}
	if _, err := repo.GetByID(context.Background(), ev.ID); err != nil {
		t.Errorf("published event must already be stored: %v", err)
	}
}

func TestLogger_PublishFailureKeepsStoredEvent(t *testing.T) {
	var buf bytes.Buffer
	repo := NewMemoryRepository()
	l := NewLogger(NewWriter(repo), zerolog.New(&buf)).WithPublisher(&fakePublisher{err: errors.New("broker down")})

	l.Create(context.Background(), "patients", "p-1", nil)

	if repo.Len() != 1 {
		t.Errorf("expected event to be stored, got %d", repo.Len())
	}
	if !strings.Contains(buf.String(), "audit publish failed") {
		t.Errorf("expected publish failure in log, got %q", buf.String())
	}
}

func TestLogger_NoPublishOnWriteFailure(t *testing.T) {
	pub := &fakePublisher{}
	l := NewLogger(NewWriter(outageRepo{}), zerolog.Nop()).WithPublisher(pub)

	l.Create(context.Background(), "patients", "p-1", nil)

	if len(pub.keys) != 0 {
		t.Error("nothing should be published when the append fails")
	}
}

func TestPublishers_FanOutPastFailures(t *testing.T) {
	down := &fakePublisher{err: errors.New("broker down")}
	live := &fakePublisher{}
	l := NewLogger(NewWriter(NewMemoryRepository()), zerolog.Nop()).WithPublisher(Publishers{down, live})

	l.Delete(requestContext(), "patients", "p-2", nil)

	if len(live.keys) != 1 || live.keys[0] != "patients/p-2" {
		t.Errorf("second publisher should still receive the event, got %q", live.keys)
	}
	if err := (Publishers{down, live}).Publish(context.Background(), "k", 1); err == nil {
		t.Error("expected the failing publisher's error")
	}
}
