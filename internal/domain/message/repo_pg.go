package message

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

const msgCols = `id, patient_id, sender_id, subject, body, is_read, read_at, created_at`

func scanMessage(row pgx.Row) (*Message, error) {
	var m Message
	err := row.Scan(&m.ID, &m.PatientID, &m.SenderID, &m.Subject, &m.Body, &m.IsRead, &m.ReadAt, &m.CreatedAt)
	return &m, err
}

func (r *RepoPG) Create(ctx context.Context, m *Message) error {
	_, err := db.Conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO patient_messages (`+msgCols+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		m.ID, m.PatientID, m.SenderID, m.Subject, m.Body, m.IsRead, m.ReadAt, m.CreatedAt)
	return err
}

func (r *RepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Message, error) {
	q := fmt.Sprintf("SELECT %s FROM patient_messages WHERE id = $1", msgCols)
	m, err := scanMessage(db.Conn(ctx, r.pool).QueryRow(ctx, q, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get message: %w", err)
	}
	return m, nil
}

func (r *RepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, opts ListOptions) ([]*Message, int, error) {
	where := "WHERE patient_id = $1"
	if opts.UnreadOnly {
		where += " AND is_read = false"
	}

	var total int
	if err := db.Conn(ctx, r.pool).QueryRow(ctx, "SELECT COUNT(*) FROM patient_messages "+where, patientID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count messages: %w", err)
	}

	q := fmt.Sprintf("SELECT %s FROM patient_messages %s ORDER BY created_at DESC, id DESC LIMIT $2 OFFSET $3", msgCols, where)
	rows, err := db.Conn(ctx, r.pool).Query(ctx, q, patientID, opts.Limit, opts.Offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	items := []*Message{}
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, m)
	}
	return items, total, rows.Err()
}

func (r *RepoPG) MarkRead(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx,
		"UPDATE patient_messages SET is_read = true, read_at = $2 WHERE id = $1 AND is_read = false", id, at)
	if err != nil {
		return false, fmt.Errorf("mark message read: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	var exists bool
	if err := db.Conn(ctx, r.pool).QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM patient_messages WHERE id = $1)", id).Scan(&exists); err != nil {
		return false, fmt.Errorf("check message: %w", err)
	}
	if !exists {
		return false, ErrNotFound
	}
	return false, nil
}

func (r *RepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, "DELETE FROM patient_messages WHERE id = $1", id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
