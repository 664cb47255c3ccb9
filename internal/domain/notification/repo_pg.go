package notification

import (
	"context"
	"errors"
	"fmt"
	"time"

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

const notifCols = `id, patient_id, title, message, type, reference_type, reference_id,
	is_read, read_at, created_at`

func scanNotification(row pgx.Row) (*Notification, error) {
	var n Notification
	err := row.Scan(&n.ID, &n.PatientID, &n.Title, &n.Message, &n.Type,
		&n.ReferenceType, &n.ReferenceID, &n.IsRead, &n.ReadAt, &n.CreatedAt)
	return &n, err
}

func (r *RepoPG) Create(ctx context.Context, n *Notification) error {
	_, err := db.Conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO patient_notifications (`+notifCols+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		n.ID, n.PatientID, n.Title, n.Message, n.Type, n.ReferenceType, n.ReferenceID,
		n.IsRead, n.ReadAt, n.CreatedAt)
	return err
}

func (r *RepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Notification, error) {
	q := fmt.Sprintf("SELECT %s FROM patient_notifications WHERE id = $1", notifCols)
	n, err := scanNotification(db.Conn(ctx, r.pool).QueryRow(ctx, q, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get notification: %w", err)
	}
	return n, nil
}

func (r *RepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, opts ListOptions) ([]*Notification, int, error) {
	where := "WHERE patient_id = $1"
	if opts.UnreadOnly {
		where += " AND is_read = false"
	}

	var total int
	countQ := "SELECT COUNT(*) FROM patient_notifications " + where
	if err := db.Conn(ctx, r.pool).QueryRow(ctx, countQ, patientID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count notifications: %w", err)
	}

	q := fmt.Sprintf("SELECT %s FROM patient_notifications %s ORDER BY created_at DESC, id DESC LIMIT $2 OFFSET $3",
		notifCols, where)
	rows, err := db.Conn(ctx, r.pool).Query(ctx, q, patientID, opts.Limit, opts.Offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	items := []*Notification{}
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, n)
	}
	return items, total, rows.Err()
}

func (r *RepoPG) CountUnread(ctx context.Context, patientID uuid.UUID) (int, error) {
	var count int
	err := db.Conn(ctx, r.pool).QueryRow(ctx,
		"SELECT COUNT(*) FROM patient_notifications WHERE patient_id = $1 AND is_read = false",
		patientID).Scan(&count)
	return count, err
}

// MarkRead is a single conditional update, so concurrent readers flip the
// row at most once and read_at keeps the first read time.
func (r *RepoPG) MarkRead(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx,
		"UPDATE patient_notifications SET is_read = true, read_at = $2 WHERE id = $1 AND is_read = false",
		id, at)
	if err != nil {
		return false, fmt.Errorf("mark notification read: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	var exists bool
	if err := db.Conn(ctx, r.pool).QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM patient_notifications WHERE id = $1)", id).Scan(&exists); err != nil {
		return false, fmt.Errorf("check notification: %w", err)
	}
	if !exists {
		return false, ErrNotFound
	}
	return false, nil
}

func (r *RepoPG) MarkAllRead(ctx context.Context, patientID uuid.UUID, at time.Time) (int, error) {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx,
		"UPDATE patient_notifications SET is_read = true, read_at = $2 WHERE patient_id = $1 AND is_read = false",
		patientID, at)
	if err != nil {
		return 0, fmt.Errorf("mark notifications read: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
