package patient

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/htncare/outreach/internal/platform/db"
	"github.com/htncare/outreach/internal/platform/phi"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type repoPG struct {
	pool   *pgxpool.Pool
	cipher phi.Cipher
}

// NewRepoPG returns a patient repository that encrypts PHI columns with
// cipher before they reach storage.
func NewRepoPG(pool *pgxpool.Pool, cipher phi.Cipher) Repository {
	return &repoPG{pool: pool, cipher: cipher}
}

func (r *repoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const cols = `id, first_name, last_name, email, email_hash, phone, date_of_birth,
	status, is_admin, created_at, updated_at`

func (r *repoPG) encrypt(p *Patient) (*Patient, error) {
	enc := *p
	var err error
	if enc.FirstName, err = r.cipher.Encrypt(p.FirstName); err != nil {
		return nil, fmt.Errorf("encrypt first_name: %w", err)
	}
	if enc.LastName, err = r.cipher.Encrypt(p.LastName); err != nil {
		return nil, fmt.Errorf("encrypt last_name: %w", err)
	}
	if enc.Email, err = r.cipher.Encrypt(p.Email); err != nil {
		return nil, fmt.Errorf("encrypt email: %w", err)
	}
	if enc.Phone, err = r.cipher.Encrypt(p.Phone); err != nil {
		return nil, fmt.Errorf("encrypt phone: %w", err)
	}
	if p.DateOfBirth != nil {
		dob, err := r.cipher.Encrypt(*p.DateOfBirth)
		if err != nil {
			return nil, fmt.Errorf("encrypt date_of_birth: %w", err)
		}
		enc.DateOfBirth = &dob
	}
	enc.EmailHash = r.cipher.Hash(p.Email)
	return &enc, nil
}

func (r *repoPG) scan(row pgx.Row) (*Patient, error) {
	var p Patient
	err := row.Scan(&p.ID, &p.FirstName, &p.LastName, &p.Email, &p.EmailHash,
		&p.Phone, &p.DateOfBirth, &p.Status, &p.IsAdmin, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	if p.FirstName, err = r.cipher.Decrypt(p.FirstName); err != nil {
		return nil, fmt.Errorf("decrypt first_name: %w", err)
	}
	if p.LastName, err = r.cipher.Decrypt(p.LastName); err != nil {
		return nil, fmt.Errorf("decrypt last_name: %w", err)
	}
	if p.Email, err = r.cipher.Decrypt(p.Email); err != nil {
		return nil, fmt.Errorf("decrypt email: %w", err)
	}
	if p.Phone, err = r.cipher.Decrypt(p.Phone); err != nil {
		return nil, fmt.Errorf("decrypt phone: %w", err)
	}
	if p.DateOfBirth != nil {
		dob, err := r.cipher.Decrypt(*p.DateOfBirth)
		if err != nil {
			return nil, fmt.Errorf("decrypt date_of_birth: %w", err)
		}
		p.DateOfBirth = &dob
	}
	return &p, nil
}

func (r *repoPG) Create(ctx context.Context, p *Patient) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	enc, err := r.encrypt(p)
	if err != nil {
		return err
	}
	_, err = r.conn(ctx).Exec(ctx, `
		INSERT INTO patients (id, first_name, last_name, email, email_hash, phone,
			date_of_birth, status, is_admin)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		enc.ID, enc.FirstName, enc.LastName, enc.Email, enc.EmailHash, enc.Phone,
		enc.DateOfBirth, enc.Status, enc.IsAdmin)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrDuplicateEmail
	}
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return r.scan(r.conn(ctx).QueryRow(ctx, `SELECT `+cols+` FROM patients WHERE id = $1`, id))
}

func (r *repoPG) GetByEmail(ctx context.Context, email string) (*Patient, error) {
	return r.scan(r.conn(ctx).QueryRow(ctx,
		`SELECT `+cols+` FROM patients WHERE email_hash = $1`, r.cipher.Hash(email)))
}

func (r *repoPG) Update(ctx context.Context, p *Patient) error {
	enc, err := r.encrypt(p)
	if err != nil {
		return err
	}
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE patients SET first_name=$2, last_name=$3, email=$4, email_hash=$5,
			phone=$6, date_of_birth=$7, status=$8, is_admin=$9, updated_at=NOW()
		WHERE id = $1`,
		enc.ID, enc.FirstName, enc.LastName, enc.Email, enc.EmailHash,
		enc.Phone, enc.DateOfBirth, enc.Status, enc.IsAdmin)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) UpdateStatus(ctx context.Context, id uuid.UUID, status Status) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE patients SET status=$2, updated_at=NOW() WHERE id = $1`, id, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) List(ctx context.Context, status *Status, limit, offset int) ([]*Patient, int, error) {
	where := ``
	args := []interface{}{}
	if status != nil {
		where = ` WHERE status = $1`
		args = append(args, *status)
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM patients`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	q := fmt.Sprintf(`SELECT %s FROM patients%s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		cols, where, len(args)+1, len(args)+2)
	args = append(args, limit, offset)
	rows, err := r.conn(ctx).Query(ctx, q, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []*Patient
	for rows.Next() {
		p, err := r.scan(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, p)
	}
	return out, total, rows.Err()
}

func (r *repoPG) ActiveIDs(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT id FROM patients WHERE status = 'active' AND NOT is_admin`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *repoPG) GetByIDs(ctx context.Context, ids []uuid.UUID) ([]*Patient, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+cols+` FROM patients WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Patient
	for rows.Next() {
		p, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
