package labresult

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/chartlog/internal/domain/audit"
	"github.com/ehr/chartlog/internal/domain/notification"
	"github.com/ehr/chartlog/internal/platform/auth"
)

type mockRepo struct {
	mu    sync.Mutex
	store map[uuid.UUID]*LabResult
	// beforeUpdate runs inside Update ahead of the status check, to simulate
	// a competing writer landing between read and write.
	beforeUpdate func(stored *LabResult)
}

func newMockRepo() *mockRepo {
	return &mockRepo{store: make(map[uuid.UUID]*LabResult)}
}

func (m *mockRepo) Create(_ context.Context, l *LabResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *l
	m.store[l.ID] = &c
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*LabResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.store[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *l
	return &c, nil
}

func (m *mockRepo) Update(_ context.Context, l *LabResult, prev Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.store[l.ID]
	if !ok {
		return ErrNotFound
	}
	if m.beforeUpdate != nil {
		m.beforeUpdate(stored)
	}
	if stored.Status != prev {
		return ErrConcurrentUpdate
	}
	c := *l
	m.store[l.ID] = &c
	return nil
}

func (m *mockRepo) Delete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.store[id]; !ok {
		return ErrNotFound
	}
	delete(m.store, id)
	return nil
}

func (m *mockRepo) ListByPatient(_ context.Context, patientID uuid.UUID, limit, offset int) ([]*LabResult, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*LabResult
	for _, l := range m.store {
		if l.PatientID == patientID {
			out = append(out, l)
		}
	}
	return out, len(out), nil
}

type fixture struct {
	svc       *Service
	repo      *mockRepo
	auditRepo *audit.MemoryRepository
	notes     *notification.MemoryRepository
}

func newFixture() *fixture {
	f := &fixture{
		repo:      newMockRepo(),
		auditRepo: audit.NewMemoryRepository(),
		notes:     notification.NewMemoryRepository(),
	}
	dispatcher := notification.NewDispatcher(f.notes, notification.NewTemplates(), zerolog.Nop())
	f.svc = NewService(f.repo, audit.NewLogger(audit.NewWriter(f.auditRepo), zerolog.Nop()), dispatcher)
	return f
}

func (f *fixture) notificationCount(t *testing.T, id uuid.UUID) int {
	t.Helper()
	n, err := f.notes.CountByReference(context.Background(), ResourceType, id.String())
	if err != nil {
		t.Fatalf("count notifications: %v", err)
	}
	return n
}

func (f *fixture) order(t *testing.T, status Status) *LabResult {
	t.Helper()
	l, err := f.svc.Create(context.Background(), CreateInput{
		PatientID: uuid.NewString(),
		TestName:  "CBC",
		Status:    status,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return l
}

func strp(s string) *string { return &s }

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusOrdered, StatusInProgress, true},
		{StatusOrdered, StatusCompleted, true},
		{StatusOrdered, StatusCancelled, true},
		{StatusInProgress, StatusCompleted, true},
		{StatusInProgress, StatusCancelled, true},
		{StatusInProgress, StatusOrdered, false},
		{StatusCompleted, StatusInProgress, false},
		{StatusCompleted, StatusCancelled, false},
		{StatusCancelled, StatusOrdered, false},
		{StatusCompleted, StatusCompleted, true},
		{StatusCancelled, StatusCancelled, true},
	}
	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestCreate_DefaultsAndAudit(t *testing.T) {
	f := newFixture()
	ctx := auth.WithUser(context.Background(), "dr-1", []string{"physician"})

	l, err := f.svc.Create(ctx, CreateInput{PatientID: uuid.NewString(), TestName: " Lipid panel "})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if l.Status != StatusOrdered || l.TestName != "Lipid panel" {
		t.Errorf("unexpected result: %+v", l)
	}
	if l.OrderedBy == nil || *l.OrderedBy != "dr-1" {
		t.Errorf("ordered_by should come from the caller, got %v", l.OrderedBy)
	}
	if l.CompletedAt != nil {
		t.Error("ordered result must not have completed_at")
	}
	if f.notificationCount(t, l.ID) != 0 {
		t.Error("ordering a test must not notify")
	}
	events, _, _ := f.auditRepo.List(context.Background(), audit.Filter{Action: audit.ActionCreate}, 10, 0)
	if len(events) != 1 || *events[0].ActorID != "dr-1" {
		t.Fatalf("expected one create event by dr-1, got %+v", events)
	}
}

func TestCreate_Validation(t *testing.T) {
	f := newFixture()
	cases := []CreateInput{
		{PatientID: "nope", TestName: "CBC"},
		{PatientID: uuid.NewString(), TestName: "  "},
		{PatientID: uuid.NewString(), TestName: "CBC", Status: "archived"},
	}
	for _, in := range cases {
		if _, err := f.svc.Create(context.Background(), in); !errors.Is(err, ErrInvalid) {
			t.Errorf("Create(%+v): expected ErrInvalid, got %v", in, err)
		}
	}
	if f.auditRepo.Len() != 0 {
		t.Error("rejected input must not be audited")
	}
}

func TestCreate_AsCompletedNotifies(t *testing.T) {
	f := newFixture()
	l := f.order(t, StatusCompleted)
	if l.CompletedAt == nil {
		t.Error("expected completed_at")
	}
	if got := f.notificationCount(t, l.ID); got != 1 {
		t.Errorf("expected 1 notification, got %d", got)
	}
}

func TestUpdate_NotifiesOnceOnCompletion(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	l := f.order(t, StatusOrdered)

	updated, err := f.svc.Update(ctx, l.ID, UpdateInput{Status: StatusCompleted, ResultValue: strp("5.4")})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.CompletedAt == nil {
		t.Error("expected completed_at on completion")
	}
	if got := f.notificationCount(t, l.ID); got != 1 {
		t.Fatalf("expected 1 notification after completion, got %d", got)
	}

	// saving a completed result again only touches notes
	again, err := f.svc.Update(ctx, l.ID, UpdateInput{Status: StatusCompleted, Notes: strp("reviewed")})
	if err != nil {
		t.Fatalf("second Update: %v", err)
	}
	if !again.CompletedAt.Equal(*updated.CompletedAt) {
		t.Error("completed_at must not move on a same-state save")
	}
	if got := f.notificationCount(t, l.ID); got != 1 {
		t.Errorf("expected notification count to stay 1, got %d", got)
	}

	items, _, _ := f.notes.ListByPatient(ctx, l.PatientID, notification.ListOptions{Limit: 10})
	if len(items) != 1 || items[0].Title != "Lab Result Ready" || !strings.Contains(items[0].Message, "CBC") {
		t.Errorf("unexpected notification: %+v", items)
	}
	if items[0].Type != notification.TypeLabResult {
		t.Errorf("expected type %s, got %s", notification.TypeLabResult, items[0].Type)
	}
}

func TestUpdate_InProgressThenCompleted(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	l := f.order(t, StatusOrdered)

	if _, err := f.svc.Update(ctx, l.ID, UpdateInput{Status: StatusInProgress}); err != nil {
		t.Fatalf("to in_progress: %v", err)
	}
	if f.notificationCount(t, l.ID) != 0 {
		t.Fatal("in_progress must not notify")
	}
	if _, err := f.svc.Update(ctx, l.ID, UpdateInput{Status: StatusCompleted}); err != nil {
		t.Fatalf("to completed: %v", err)
	}
	if got := f.notificationCount(t, l.ID); got != 1 {
		t.Errorf("expected 1 notification, got %d", got)
	}
}

func TestUpdate_RejectsInvalidTransition(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	l := f.order(t, StatusCompleted)

	if _, err := f.svc.Update(ctx, l.ID, UpdateInput{Status: StatusInProgress}); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if _, err := f.svc.Update(ctx, l.ID, UpdateInput{Status: "bogus"}); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
	updates, _, _ := f.auditRepo.List(ctx, audit.Filter{Action: audit.ActionUpdate}, 10, 0)
	if len(updates) != 0 {
		t.Errorf("rejected transitions must not be audited, got %d", len(updates))
	}
	stored, _ := f.repo.GetByID(ctx, l.ID)
	if stored.Status != StatusCompleted {
		t.Errorf("status changed to %s", stored.Status)
	}
}

func TestUpdate_StaleReadIsRejected(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	l := f.order(t, StatusInProgress)

	// another writer completes the result after this request read it
	f.repo.beforeUpdate = func(stored *LabResult) {
		stored.Status = StatusCompleted
		f.repo.beforeUpdate = nil
	}
	if _, err := f.svc.Update(ctx, l.ID, UpdateInput{Status: StatusCompleted}); !errors.Is(err, ErrConcurrentUpdate) {
		t.Fatalf("expected ErrConcurrentUpdate, got %v", err)
	}
	if f.notificationCount(t, l.ID) != 0 {
		t.Error("losing writer must not notify")
	}
	updates, _, _ := f.auditRepo.List(ctx, audit.Filter{Action: audit.ActionUpdate}, 10, 0)
	if len(updates) != 0 {
		t.Error("losing writer must not audit")
	}
}

func TestUpdate_ConcurrentCompletionNotifiesOnce(t *testing.T) {
	f := newFixture()
	l := f.order(t, StatusInProgress)

	const writers = 8
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Update(context.Background(), l.ID, UpdateInput{Status: StatusCompleted})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil && !errors.Is(err, ErrConcurrentUpdate) {
			t.Errorf("unexpected error: %v", err)
		}
	}
	if got := f.notificationCount(t, l.ID); got != 1 {
		t.Errorf("expected exactly 1 notification, got %d", got)
	}
}

func TestUpdate_AuditsDiff(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	l := f.order(t, StatusOrdered)

	if _, err := f.svc.Update(ctx, l.ID, UpdateInput{Status: StatusInProgress, Notes: strp("drawn")}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	events, _, _ := f.auditRepo.List(ctx, audit.Filter{Action: audit.ActionUpdate}, 10, 0)
	if len(events) != 1 {
		t.Fatalf("expected 1 update event, got %d", len(events))
	}
	changes, err := events[0].DecodeChanges()
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(changes) != 2 {
		t.Fatalf("expected status and notes, got %#v", changes)
	}
	if changes["status"].Before != "ordered" || changes["status"].After != "in_progress" {
		t.Errorf("status change: %#v", changes["status"])
	}
	if changes["notes"].Before != nil || changes["notes"].After != "drawn" {
		t.Errorf("notes change: %#v", changes["notes"])
	}
}

// downAuditRepo simulates an audit store outage.
type downAuditRepo struct{}

func (downAuditRepo) Append(context.Context, *audit.Event) error { return errors.New("audit down") }

func (downAuditRepo) GetByID(context.Context, uuid.UUID) (*audit.Event, error) {
	return nil, audit.ErrNotFound
}

func (downAuditRepo) List(context.Context, audit.Filter, int, int) ([]*audit.Event, int, error) {
	return nil, 0, errors.New("audit down")
}

// downNotificationRepo fails every write.
type downNotificationRepo struct {
	*notification.MemoryRepository
}

func (downNotificationRepo) Create(context.Context, *notification.Notification) error {
	return errors.New("notifications down")
}

func TestUpdate_SurvivesSideEffectOutages(t *testing.T) {
	repo := newMockRepo()
	dispatcher := notification.NewDispatcher(downNotificationRepo{notification.NewMemoryRepository()},
		notification.NewTemplates(), zerolog.Nop())
	svc := NewService(repo, audit.NewLogger(audit.NewWriter(downAuditRepo{}), zerolog.Nop()), dispatcher)
	ctx := context.Background()

	l, err := svc.Create(ctx, CreateInput{PatientID: uuid.NewString(), TestName: "A1C"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := svc.Update(ctx, l.ID, UpdateInput{Status: StatusCompleted}); err != nil {
		t.Fatalf("Update must succeed despite outages: %v", err)
	}
	stored, _ := repo.GetByID(ctx, l.ID)
	if stored.Status != StatusCompleted {
		t.Errorf("update not persisted: %s", stored.Status)
	}
}

func TestUpdate_NilNotifier(t *testing.T) {
	svc := NewService(newMockRepo(), nil, nil)
	ctx := context.Background()
	l, err := svc.Create(ctx, CreateInput{PatientID: uuid.NewString(), TestName: "TSH", Status: StatusCompleted})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := svc.Update(ctx, l.ID, UpdateInput{Notes: strp("ok")}); err != nil {
		t.Fatalf("Update: %v", err)
	}
}

func TestDeleteAndResolveName(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	l := f.order(t, StatusOrdered)

	query := audit.NewService(f.auditRepo, audit.DefaultOptions(), zerolog.Nop())
	query.RegisterResolver(ResourceType, f.svc)
	if got := query.ResolveResourceName(ctx, ResourceType, l.ID.String()); got != "CBC" {
		t.Errorf("expected CBC, got %q", got)
	}

	if err := f.svc.Delete(ctx, l.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := f.svc.Delete(ctx, l.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound on second delete, got %v", err)
	}
	if got := query.ResolveResourceName(ctx, ResourceType, l.ID.String()); got != audit.UnknownResourceName {
		t.Errorf("expected placeholder, got %q", got)
	}
}

func TestListByPatient_RecordsView(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	l := f.order(t, StatusOrdered)

	items, total, err := f.svc.ListByPatient(ctx, l.PatientID, 20, 0)
	if err != nil || total != 1 || len(items) != 1 {
		t.Fatalf("ListByPatient: %v, %d", err, total)
	}
	views, _, _ := f.auditRepo.List(ctx, audit.Filter{Action: audit.ActionView}, 10, 0)
	if len(views) != 1 || !strings.Contains(string(views[0].Detail), l.PatientID.String()) {
		t.Errorf("expected collection view with patient_id, got %+v", views)
	}
}
