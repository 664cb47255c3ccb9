package patient

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/chartlog/internal/domain/audit"
)

type mockRepo struct {
	mu         sync.Mutex
	store      map[uuid.UUID]*Patient
	dependents map[uuid.UUID][]Dependent
	err        error
}

func newMockRepo() *mockRepo {
	return &mockRepo{store: make(map[uuid.UUID]*Patient), dependents: make(map[uuid.UUID][]Dependent)}
}

func (m *mockRepo) Create(_ context.Context, p *Patient) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	for _, existing := range m.store {
		if existing.MRN == p.MRN {
			return ErrDuplicateMRN
		}
	}
	c := *p
	m.store[p.ID] = &c
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*Patient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.store[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *p
	return &c, nil
}

func (m *mockRepo) Update(_ context.Context, p *Patient) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	if _, ok := m.store[p.ID]; !ok {
		return ErrNotFound
	}
	c := *p
	m.store[p.ID] = &c
	return nil
}

func (m *mockRepo) Delete(_ context.Context, id uuid.UUID) ([]Dependent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.store[id]; !ok {
		return nil, ErrNotFound
	}
	removed := m.dependents[id]
	delete(m.store, id)
	delete(m.dependents, id)
	return removed, nil
}

func (m *mockRepo) List(_ context.Context, f ListFilter, limit, offset int) ([]*Patient, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Patient
	for _, p := range m.store {
		if f.Search == "" || strings.Contains(strings.ToLower(p.DisplayName()), strings.ToLower(f.Search)) {
			out = append(out, p)
		}
	}
	return out, len(out), nil
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

func newTestService() (*Service, *mockRepo, *audit.MemoryRepository) {
	repo := newMockRepo()
	auditRepo := audit.NewMemoryRepository()
	return NewService(repo, audit.NewLogger(audit.NewWriter(auditRepo), zerolog.Nop())), repo, auditRepo
}

func strp(s string) *string { return &s }

func validInput() Input {
	return Input{MRN: "MRN-1", FirstName: "Ada", LastName: "Lovelace", BirthDate: strp("1815-12-10")}
}

func auditEvents(t *testing.T, repo *audit.MemoryRepository, f audit.Filter) []*audit.Event {
	t.Helper()
	items, _, err := repo.List(context.Background(), f, 100, 0)
	if err != nil {
		t.Fatalf("list audit: %v", err)
	}
	return items
}

func TestCreate_AuditsAfterWrite(t *testing.T) {
	svc, repo, auditRepo := newTestService()

	p, err := svc.Create(context.Background(), validInput())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := repo.GetByID(context.Background(), p.ID); err != nil {
		t.Fatalf("patient not stored: %v", err)
	}

	events := auditEvents(t, auditRepo, audit.Filter{Action: audit.ActionCreate})
	if len(events) != 1 || *events[0].ResourceID != p.ID.String() || events[0].ResourceType != ResourceType {
		t.Fatalf("expected one create event for the patient, got %+v", events)
	}
	if !strings.Contains(string(events[0].Detail), `"birth_date":"1815-12-10"`) {
		t.Errorf("expected entity payload in detail, got %s", events[0].Detail)
	}
}

func TestCreate_Validation(t *testing.T) {
	svc, _, auditRepo := newTestService()

	in := validInput()
	in.LastName = "  "
	if _, err := svc.Create(context.Background(), in); !errors.Is(err, ErrInvalid) {
		t.Errorf("expected ErrInvalid, got %v", err)
	}
	in = validInput()
	in.BirthDate = strp("10/12/1815")
	if _, err := svc.Create(context.Background(), in); !errors.Is(err, ErrInvalid) {
		t.Errorf("expected ErrInvalid for bad date, got %v", err)
	}
	if auditRepo.Len() != 0 {
		t.Error("failed validation must not be audited")
	}
}

func TestCreate_StoreErrorSkipsAudit(t *testing.T) {
	svc, repo, auditRepo := newTestService()
	repo.err = errors.New("connection refused")

	if _, err := svc.Create(context.Background(), validInput()); err == nil {
		t.Fatal("expected store error")
	}
	if auditRepo.Len() != 0 {
		t.Error("audit must only run on the success path")
	}
}

func TestMutations_SurviveAuditOutage(t *testing.T) {
	repo := newMockRepo()
	svc := NewService(repo, audit.NewLogger(audit.NewWriter(downAuditRepo{}), zerolog.Nop()))
	ctx := context.Background()

	p, err := svc.Create(ctx, validInput())
	if err != nil {
		t.Fatalf("Create must succeed despite audit outage: %v", err)
	}
	in := validInput()
	in.Phone = strp("555-0100")
	if _, err := svc.Update(ctx, p.ID, in); err != nil {
		t.Fatalf("Update must succeed despite audit outage: %v", err)
	}
	stored, err := repo.GetByID(ctx, p.ID)
	if err != nil || stored.Phone == nil || *stored.Phone != "555-0100" {
		t.Fatalf("update not persisted: %+v, %v", stored, err)
	}
	if err := svc.Delete(ctx, p.ID); err != nil {
		t.Fatalf("Delete must succeed despite audit outage: %v", err)
	}
}

func TestUpdate_RecordsOnlyChangedFields(t *testing.T) {
	svc, _, auditRepo := newTestService()
	ctx := context.Background()
	p, _ := svc.Create(ctx, validInput())

	in := validInput()
	in.FirstName = "Augusta"
	in.Email = strp("ada@example.org")
	if _, err := svc.Update(ctx, p.ID, in); err != nil {
		t.Fatalf("Update: %v", err)
	}

	events := auditEvents(t, auditRepo, audit.Filter{Action: audit.ActionUpdate})
	if len(events) != 1 {
		t.Fatalf("expected 1 update event, got %d", len(events))
	}
	changes, err := events[0].DecodeChanges()
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(changes) != 2 {
		t.Fatalf("expected first_name and email only, got %#v", changes)
	}
	if changes["first_name"].Before != "Ada" || changes["first_name"].After != "Augusta" {
		t.Errorf("first_name: %#v", changes["first_name"])
	}
	if changes["email"].Before != nil || changes["email"].After != "ada@example.org" {
		t.Errorf("email: %#v", changes["email"])
	}
}

func TestUpdate_NotFound(t *testing.T) {
	svc, _, _ := newTestService()
	if _, err := svc.Update(context.Background(), uuid.New(), validInput()); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestGetAndList_RecordViews(t *testing.T) {
	svc, _, auditRepo := newTestService()
	ctx := context.Background()
	p, _ := svc.Create(ctx, validInput())

	if _, err := svc.Get(ctx, p.ID); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if _, _, err := svc.List(ctx, ListFilter{Search: "ada"}, 20, 0); err != nil {
		t.Fatalf("List: %v", err)
	}

	views := auditEvents(t, auditRepo, audit.Filter{Action: audit.ActionView})
	if len(views) != 2 {
		t.Fatalf("expected 2 view events, got %d", len(views))
	}
	list, single := views[0], views[1]
	if list.ResourceID != nil || !strings.Contains(string(list.Detail), `"search":"ada"`) {
		t.Errorf("collection view should carry the filter and no id: %+v %s", list, list.Detail)
	}
	if single.ResourceID == nil || *single.ResourceID != p.ID.String() {
		t.Errorf("single view should carry the id: %+v", single)
	}
}

func TestDelete_ThenNameDegrades(t *testing.T) {
	svc, _, auditRepo := newTestService()
	ctx := context.Background()
	p, _ := svc.Create(ctx, validInput())

	query := audit.NewService(auditRepo, audit.DefaultOptions(), zerolog.Nop())
	query.RegisterResolver(ResourceType, svc)

	if got := query.ResolveResourceName(ctx, ResourceType, p.ID.String()); got != "Ada Lovelace" {
		t.Errorf("expected Ada Lovelace, got %q", got)
	}
	if err := svc.Delete(ctx, p.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if got := query.ResolveResourceName(ctx, ResourceType, p.ID.String()); got != audit.UnknownResourceName {
		t.Errorf("expected placeholder after delete, got %q", got)
	}

	deletes := auditEvents(t, auditRepo, audit.Filter{Action: audit.ActionDelete})
	if len(deletes) != 1 || !strings.Contains(string(deletes[0].Detail), "Ada Lovelace") {
		t.Errorf("expected delete event with name, got %+v", deletes)
	}
}

func TestDelete_AuditsEachDependent(t *testing.T) {
	svc, repo, auditRepo := newTestService()
	ctx := context.Background()
	p, _ := svc.Create(ctx, validInput())

	labID, msgID := uuid.NewString(), uuid.NewString()
	repo.dependents[p.ID] = []Dependent{
		{ResourceType: "lab_results", ID: labID, Detail: map[string]string{"test_name": "CBC", "status": "completed"}},
		{ResourceType: "patient_messages", ID: msgID, Detail: map[string]string{"subject": "Follow-up"}},
	}

	if err := svc.Delete(ctx, p.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	for _, d := range []struct{ resourceType, id, want string }{
		{"lab_results", labID, `"test_name":"CBC"`},
		{"patient_messages", msgID, `"subject":"Follow-up"`},
	} {
		events := auditEvents(t, auditRepo, audit.Filter{Action: audit.ActionDelete, ResourceType: d.resourceType, ResourceID: d.id})
		if len(events) != 1 {
			t.Fatalf("%s: expected 1 delete event, got %d", d.resourceType, len(events))
		}
		detail := string(events[0].Detail)
		if !strings.Contains(detail, d.want) || !strings.Contains(detail, p.ID.String()) {
			t.Errorf("%s: detail should carry the row and its patient, got %s", d.resourceType, detail)
		}
	}

	parent := auditEvents(t, auditRepo, audit.Filter{Action: audit.ActionDelete, ResourceType: ResourceType})
	if len(parent) != 1 || !strings.Contains(string(parent[0].Detail), `"dependents":2`) {
		t.Errorf("expected one patient delete counting its dependents, got %+v", parent)
	}
}

func TestResolveName_BadID(t *testing.T) {
	svc, _, _ := newTestService()
	if _, err := svc.ResolveName(context.Background(), "not-a-uuid"); err == nil {
		t.Error("expected error for malformed id")
	}
}
