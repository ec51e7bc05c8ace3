package reading

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/htncare/outreach/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const cols = `id, patient_id, systolic, diastolic, heart_rate, reading_date, device_id, created_at`

func scanReading(row pgx.Row) (*Reading, error) {
	var rd Reading
	err := row.Scan(&rd.ID, &rd.PatientID, &rd.Systolic, &rd.Diastolic,
		&rd.HeartRate, &rd.ReadingDate, &rd.DeviceID, &rd.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &rd, nil
}

func (r *repoPG) Create(ctx context.Context, rd *Reading) error {
	if rd.ID == uuid.Nil {
		rd.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO blood_pressure_readings (id, patient_id, systolic, diastolic,
			heart_rate, reading_date, device_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		rd.ID, rd.PatientID, rd.Systolic, rd.Diastolic, rd.HeartRate, rd.ReadingDate, rd.DeviceID)
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Reading, error) {
	return scanReading(r.conn(ctx).QueryRow(ctx,
		`SELECT `+cols+` FROM blood_pressure_readings WHERE id = $1`, id))
}

func (r *repoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Reading, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM blood_pressure_readings WHERE patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+cols+` FROM blood_pressure_readings WHERE patient_id = $1
		ORDER BY reading_date DESC LIMIT $2 OFFSET $3`,
		patientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []*Reading
	for rows.Next() {
		rd, err := scanReading(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, rd)
	}
	return out, total, rows.Err()
}

func (r *repoPG) CountByPatient(ctx context.Context, patientID uuid.UUID) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM blood_pressure_readings WHERE patient_id = $1`, patientID).Scan(&n)
	return n, err
}

func (r *repoPG) grouped(ctx context.Context, q string, args ...interface{}) (map[uuid.UUID][]*Reading, error) {
	rows, err := r.conn(ctx).Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[uuid.UUID][]*Reading)
	for rows.Next() {
		rd, err := scanReading(rows)
		if err != nil {
			return nil, err
		}
		out[rd.PatientID] = append(out[rd.PatientID], rd)
	}
	return out, rows.Err()
}

func (r *repoPG) ListSince(ctx context.Context, since time.Time) (map[uuid.UUID][]*Reading, error) {
	return r.grouped(ctx,
		`SELECT `+cols+` FROM blood_pressure_readings WHERE reading_date >= $1
		ORDER BY patient_id, reading_date DESC`, since)
}

func (r *repoPG) ListForPatientsSince(ctx context.Context, ids []uuid.UUID, since time.Time) (map[uuid.UUID][]*Reading, error) {
	if len(ids) == 0 {
		return map[uuid.UUID][]*Reading{}, nil
	}
	return r.grouped(ctx,
		`SELECT `+cols+` FROM blood_pressure_readings
		WHERE patient_id = ANY($1) AND reading_date >= $2
		ORDER BY patient_id, reading_date DESC`, ids, since)
}

func (r *repoPG) LatestPerPatient(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*Reading, error) {
	if len(ids) == 0 {
		return map[uuid.UUID]*Reading{}, nil
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT DISTINCT ON (patient_id) `+cols+`
		FROM blood_pressure_readings WHERE patient_id = ANY($1)
		ORDER BY patient_id, reading_date DESC`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[uuid.UUID]*Reading)
	for rows.Next() {
		rd, err := scanReading(rows)
		if err != nil {
			return nil, err
		}
		out[rd.PatientID] = rd
	}
	return out, rows.Err()
}

func (r *repoPG) LatestTimes(ctx context.Context) (map[uuid.UUID]time.Time, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT patient_id, MAX(reading_date) FROM blood_pressure_readings GROUP BY patient_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[uuid.UUID]time.Time)
	for rows.Next() {
		var id uuid.UUID
		var t time.Time
		if err := rows.Scan(&id, &t); err != nil {
			return nil, err
		}
		out[id] = t
	}
	return out, rows.Err()
}
