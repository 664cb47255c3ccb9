package audit

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/chartlog/internal/platform/db"
)

type RepoPG struct {
	pool *pgxpool.Pool
}

func NewRepoPG(pool *pgxpool.Pool) *RepoPG {
	return &RepoPG{pool: pool}
}

const auditCols = `id, user_id, action, resource_type, resource_id, details,
	ip_address, user_agent, request_id, tenant_id, created_at`

func scanEvent(row pgx.Row) (*Event, error) {
	var e Event
	var detail []byte
	err := row.Scan(
		&e.ID, &e.ActorID, &e.Action, &e.ResourceType, &e.ResourceID, &detail,
		&e.IPAddress, &e.UserAgent, &e.RequestID, &e.TenantID, &e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	e.Detail = detail
	e.CreatedAt = e.CreatedAt.UTC()
	return &e, nil
}

func (r *RepoPG) Append(ctx context.Context, e *Event) error {
	_, err := db.Conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO audit_logs (`+auditCols+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		e.ID, e.ActorID, string(e.Action), e.ResourceType, e.ResourceID, []byte(e.Detail),
		e.IPAddress, e.UserAgent, e.RequestID, e.TenantID, e.CreatedAt,
	)
	return err
}

func (r *RepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Event, error) {
	q := fmt.Sprintf("SELECT %s FROM audit_logs WHERE id = $1", auditCols)
	e, err := scanEvent(db.Conn(ctx, r.pool).QueryRow(ctx, q, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get audit event: %w", err)
	}
	return e, nil
}

func (r *RepoPG) List(ctx context.Context, f Filter, limit, offset int) ([]*Event, int, error) {
	where, args := filterClause(f)
	idx := len(args) + 1

	countQ := fmt.Sprintf("SELECT COUNT(*) FROM audit_logs %s", where)
	var total int
	if err := db.Conn(ctx, r.pool).QueryRow(ctx, countQ, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count audit events: %w", err)
	}

	q := fmt.Sprintf("SELECT %s FROM audit_logs %s ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d",
		auditCols, where, idx, idx+1)
	args = append(args, limit, offset)

	rows, err := db.Conn(ctx, r.pool).Query(ctx, q, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list audit events: %w", err)
	}
	defer rows.Close()

	items := []*Event{}
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, e)
	}
	return items, total, rows.Err()
}

func filterClause(f Filter) (string, []interface{}) {
	where := []string{}
	args := []interface{}{}
	add := func(cond string, v interface{}) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}

	if f.ResourceType != "" {
		add("resource_type = $%d", f.ResourceType)
	}
	if f.ResourceID != "" {
		add("resource_id = $%d", f.ResourceID)
	}
	if f.ActorID != "" {
		add("user_id = $%d", f.ActorID)
	}
	if f.Action != "" {
		add("action = $%d", string(f.Action))
	}
	if f.From != nil {
		add("created_at >= $%d", *f.From)
	}
	if f.To != nil {
		add("created_at <= $%d", *f.To)
	}

	if len(where) == 0 {
		return "", args
	}
	return "WHERE " + strings.Join(where, " AND "), args
}
