package patient

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

const patientCols = `id, mrn, first_name, last_name, birth_date, email, phone, created_at, updated_at`

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	err := row.Scan(&p.ID, &p.MRN, &p.FirstName, &p.LastName, &p.BirthDate,
		&p.Email, &p.Phone, &p.CreatedAt, &p.UpdatedAt)
	return &p, err
}

func mapErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrDuplicateMRN
	}
	return err
}

func (r *RepoPG) Create(ctx context.Context, p *Patient) error {
	_, err := db.Conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO patients (`+patientCols+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		p.ID, p.MRN, p.FirstName, p.LastName, p.BirthDate, p.Email, p.Phone, p.CreatedAt, p.UpdatedAt)
	return mapErr(err)
}

func (r *RepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	q := fmt.Sprintf("SELECT %s FROM patients WHERE id = $1", patientCols)
	p, err := scanPatient(db.Conn(ctx, r.pool).QueryRow(ctx, q, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get patient: %w", err)
	}
	return p, nil
}

func (r *RepoPG) Update(ctx context.Context, p *Patient) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `
		UPDATE patients SET mrn = $2, first_name = $3, last_name = $4, birth_date = $5,
			email = $6, phone = $7, updated_at = $8
		WHERE id = $1`,
		p.ID, p.MRN, p.FirstName, p.LastName, p.BirthDate, p.Email, p.Phone, p.UpdatedAt)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// dependentDeletes remove a patient's child rows; the foreign keys are
// ON DELETE RESTRICT so nothing disappears without being returned here.
var dependentDeletes = []struct {
	resourceType string
	query        string
	detail       []string
}{
	{"lab_results", "DELETE FROM lab_results WHERE patient_id = $1 RETURNING id, test_name, status", []string{"test_name", "status"}},
	{"patient_messages", "DELETE FROM patient_messages WHERE patient_id = $1 RETURNING id, subject", []string{"subject"}},
}

func (r *RepoPG) Delete(ctx context.Context, id uuid.UUID) (removed []Dependent, err error) {
	ctx, tx, err := db.WithTx(ctx, r.pool)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	// the row lock blocks concurrent child inserts until commit
	var locked uuid.UUID
	err = tx.QueryRow(ctx, "SELECT id FROM patients WHERE id = $1 FOR UPDATE", id).Scan(&locked)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lock patient: %w", err)
	}

	for _, d := range dependentDeletes {
		rows, err := deleteDependents(ctx, tx, id, d.resourceType, d.query, d.detail)
		if err != nil {
			return nil, err
		}
		removed = append(removed, rows...)
	}

	if _, err = tx.Exec(ctx, "DELETE FROM patients WHERE id = $1", id); err != nil {
		return nil, fmt.Errorf("delete patient: %w", err)
	}
	if err = tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit patient delete: %w", err)
	}
	return removed, nil
}

func deleteDependents(ctx context.Context, tx pgx.Tx, patientID uuid.UUID, resourceType, query string, detail []string) ([]Dependent, error) {
	rows, err := tx.Query(ctx, query, patientID)
	if err != nil {
		return nil, fmt.Errorf("delete %s: %w", resourceType, err)
	}
	defer rows.Close()

	var out []Dependent
	for rows.Next() {
		var id uuid.UUID
		values := make([]string, len(detail))
		dest := []any{&id}
		for i := range values {
			dest = append(dest, &values[i])
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan %s: %w", resourceType, err)
		}
		d := Dependent{ResourceType: resourceType, ID: id.String(), Detail: map[string]string{}}
		for i, k := range detail {
			d.Detail[k] = values[i]
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("delete %s: %w", resourceType, err)
	}
	return out, nil
}

func (r *RepoPG) List(ctx context.Context, f ListFilter, limit, offset int) ([]*Patient, int, error) {
	where := ""
	args := []interface{}{}
	if f.Search != "" {
		where = "WHERE first_name ILIKE $1 OR last_name ILIKE $1 OR mrn ILIKE $1"
		args = append(args, "%"+f.Search+"%")
	}

	var total int
	if err := db.Conn(ctx, r.pool).QueryRow(ctx, "SELECT COUNT(*) FROM patients "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count patients: %w", err)
	}

	q := fmt.Sprintf("SELECT %s FROM patients %s ORDER BY last_name, first_name, id LIMIT $%d OFFSET $%d",
		patientCols, where, len(args)+1, len(args)+2)
	args = append(args, limit, offset)
	rows, err := db.Conn(ctx, r.pool).Query(ctx, q, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list patients: %w", err)
	}
	defer rows.Close()

	items := []*Patient{}
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, p)
	}
	return items, total, rows.Err()
}
