package labresult

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/chartlog/internal/platform/db"
)

type RepoPG struct {
	pool *pgxpool.Pool
}

func NewRepoPG(pool *pgxpool.Pool) *RepoPG {
	return &RepoPG{pool: pool}
}

const labCols = `id, patient_id, test_name, test_code, status, result_value, unit,
	reference_range, notes, ordered_by, completed_at, created_at, updated_at`

func scanLab(row pgx.Row) (*LabResult, error) {
	var l LabResult
	err := row.Scan(&l.ID, &l.PatientID, &l.TestName, &l.TestCode, &l.Status, &l.ResultValue, &l.Unit,
		&l.ReferenceRange, &l.Notes, &l.OrderedBy, &l.CompletedAt, &l.CreatedAt, &l.UpdatedAt)
	return &l, err
}

func (r *RepoPG) Create(ctx context.Context, l *LabResult) error {
	_, err := db.Conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO lab_results (`+labCols+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		l.ID, l.PatientID, l.TestName, l.TestCode, string(l.Status), l.ResultValue, l.Unit,
		l.ReferenceRange, l.Notes, l.OrderedBy, l.CompletedAt, l.CreatedAt, l.UpdatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23503" {
		return fmt.Errorf("%w: patient %s does not exist", ErrInvalid, l.PatientID)
	}
	return err
}

func (r *RepoPG) GetByID(ctx context.Context, id uuid.UUID) (*LabResult, error) {
	q := fmt.Sprintf("SELECT %s FROM lab_results WHERE id = $1", labCols)
	l, err := scanLab(db.Conn(ctx, r.pool).QueryRow(ctx, q, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get lab result: %w", err)
	}
	return l, nil
}

// Update guards on the status this request read, so two writers racing to
// completed cannot both succeed and both notify.
func (r *RepoPG) Update(ctx context.Context, l *LabResult, prev Status) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `
		UPDATE lab_results SET status = $3, result_value = $4, unit = $5, reference_range = $6,
			notes = $7, completed_at = $8, updated_at = $9
		WHERE id = $1 AND status = $2`,
		l.ID, string(prev), string(l.Status), l.ResultValue, l.Unit, l.ReferenceRange,
		l.Notes, l.CompletedAt, l.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	var exists bool
	if err := db.Conn(ctx, r.pool).QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM lab_results WHERE id = $1)", l.ID).Scan(&exists); err != nil {
		return fmt.Errorf("check lab result: %w", err)
	}
	if !exists {
		return ErrNotFound
	}
	return ErrConcurrentUpdate
}

func (r *RepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, "DELETE FROM lab_results WHERE id = $1", id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *RepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*LabResult, int, error) {
	var total int
	if err := db.Conn(ctx, r.pool).QueryRow(ctx,
		"SELECT COUNT(*) FROM lab_results WHERE patient_id = $1", patientID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count lab results: %w", err)
	}

	q := fmt.Sprintf("SELECT %s FROM lab_results WHERE patient_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2 OFFSET $3", labCols)
	rows, err := db.Conn(ctx, r.pool).Query(ctx, q, patientID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list lab results: %w", err)
	}
	defer rows.Close()

	items := []*LabResult{}
	for rows.Next() {
		l, err := scanLab(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, l)
	}
	return items, total, rows.Err()
}
