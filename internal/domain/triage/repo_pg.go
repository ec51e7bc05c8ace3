package triage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

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

func mapPgErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrConflict
	}
	return err
}

// =========== Item Repository ===========

type itemRepoPG struct{ pool *pgxpool.Pool }

func NewItemRepoPG(pool *pgxpool.Pool) ItemRepository {
	return &itemRepoPG{pool: pool}
}

func (r *itemRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const itemCols = `id, patient_id, list_type, status, close_reason, close_note,
	priority, priority_title, priority_detail, cooldown_until, follow_up_date,
	created_at, updated_at, closed_at, closed_by`

func scanItem(row pgx.Row) (*Item, error) {
	var it Item
	err := row.Scan(&it.ID, &it.PatientID, &it.ListType, &it.Status,
		&it.CloseReason, &it.CloseNote,
		&it.Priority, &it.PriorityTitle, &it.PriorityDetail,
		&it.CooldownUntil, &it.FollowUpDate,
		&it.CreatedAt, &it.UpdatedAt, &it.ClosedAt, &it.ClosedBy)
	if err != nil {
		return nil, mapPgErr(err)
	}
	return &it, nil
}

func (r *itemRepoPG) Create(ctx context.Context, item *Item) error {
	if item.ID == uuid.Nil {
		item.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO triage_items (id, patient_id, list_type, status,
			priority, priority_title, priority_detail, follow_up_date)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		item.ID, item.PatientID, item.ListType, item.Status,
		item.Priority, item.PriorityTitle, item.PriorityDetail, item.FollowUpDate)
	return mapPgErr(err)
}

func (r *itemRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Item, error) {
	return scanItem(r.conn(ctx).QueryRow(ctx,
		`SELECT `+itemCols+` FROM triage_items WHERE id = $1`, id))
}

func (r *itemRepoPG) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*Item, error) {
	return scanItem(r.conn(ctx).QueryRow(ctx,
		`SELECT `+itemCols+` FROM triage_items WHERE id = $1 FOR UPDATE`, id))
}

func (r *itemRepoPG) GetOpenByPatientAndList(ctx context.Context, patientID uuid.UUID, listType ListType) (*Item, error) {
	return scanItem(r.conn(ctx).QueryRow(ctx,
		`SELECT `+itemCols+` FROM triage_items
		WHERE patient_id = $1 AND list_type = $2 AND status = 'open'`,
		patientID, listType))
}

func (r *itemRepoPG) GetLatestByPatientAndList(ctx context.Context, patientID uuid.UUID, listType ListType) (*Item, error) {
	return scanItem(r.conn(ctx).QueryRow(ctx,
		`SELECT `+itemCols+` FROM triage_items
		WHERE patient_id = $1 AND list_type = $2
		ORDER BY created_at DESC LIMIT 1`,
		patientID, listType))
}

func (r *itemRepoPG) Update(ctx context.Context, item *Item) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE triage_items SET status=$2, close_reason=$3, close_note=$4,
			priority=$5, priority_title=$6, priority_detail=$7,
			cooldown_until=$8, follow_up_date=$9, closed_at=$10, closed_by=$11,
			updated_at=NOW()
		WHERE id = $1`,
		item.ID, item.Status, item.CloseReason, item.CloseNote,
		item.Priority, item.PriorityTitle, item.PriorityDetail,
		item.CooldownUntil, item.FollowUpDate, item.ClosedAt, item.ClosedBy)
	if err != nil {
		return mapPgErr(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

const priorityRankSQL = `CASE priority WHEN 'high' THEN 0 WHEN 'medium' THEN 1 WHEN 'low' THEN 2 ELSE 3 END`

func (r *itemRepoPG) List(ctx context.Context, listType *ListType, status *Status) ([]*Item, error) {
	q := `SELECT ` + itemCols + ` FROM triage_items`
	var conds []string
	var args []interface{}
	if status != nil {
		args = append(args, *status)
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if listType != nil {
		args = append(args, *listType)
		conds = append(conds, fmt.Sprintf("list_type = $%d", len(args)))
	}
	if len(conds) > 0 {
		q += ` WHERE ` + strings.Join(conds, " AND ")
	}
	q += ` ORDER BY ` + priorityRankSQL + `, created_at DESC`

	rows, err := r.conn(ctx).Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func (r *itemRepoPG) CountOpenByList(ctx context.Context) (map[ListType]int, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT list_type, COUNT(*) FROM triage_items WHERE status = 'open' GROUP BY list_type`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := make(map[ListType]int)
	for rows.Next() {
		var lt ListType
		var n int
		if err := rows.Scan(&lt, &n); err != nil {
			return nil, err
		}
		counts[lt] = n
	}
	return counts, rows.Err()
}

// =========== Attempt Repository ===========

type attemptRepoPG struct {
	pool   *pgxpool.Pool
	cipher phi.FieldCipher
}

// NewAttemptRepoPG returns an attempt repository. Notes are encrypted with
// cipher before they reach storage.
func NewAttemptRepoPG(pool *pgxpool.Pool, cipher phi.FieldCipher) AttemptRepository {
	return &attemptRepoPG{pool: pool, cipher: cipher}
}

func (r *attemptRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const attemptCols = `id, item_id, patient_id, case_worker_id, outcome, notes,
	follow_up_needed, follow_up_date, materials_sent, materials_desc,
	referral_made, referral_to, created_at`

func (r *attemptRepoPG) scanAttempt(row pgx.Row) (*Attempt, error) {
	var a Attempt
	err := row.Scan(&a.ID, &a.ItemID, &a.PatientID, &a.CaseWorkerID, &a.Outcome, &a.Notes,
		&a.FollowUpNeeded, &a.FollowUpDate, &a.MaterialsSent, &a.MaterialsDesc,
		&a.ReferralMade, &a.ReferralTo, &a.CreatedAt)
	if err != nil {
		return nil, mapPgErr(err)
	}
	notes, err := r.cipher.Decrypt(a.Notes)
	if err != nil {
		return nil, fmt.Errorf("decrypt attempt notes: %w", err)
	}
	a.Notes = notes
	return &a, nil
}

func (r *attemptRepoPG) Create(ctx context.Context, a *Attempt) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	notes, err := r.cipher.Encrypt(a.Notes)
	if err != nil {
		return fmt.Errorf("encrypt attempt notes: %w", err)
	}
	_, err = r.conn(ctx).Exec(ctx, `
		INSERT INTO call_attempts (id, item_id, patient_id, case_worker_id, outcome, notes,
			follow_up_needed, follow_up_date, materials_sent, materials_desc,
			referral_made, referral_to)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		a.ID, a.ItemID, a.PatientID, a.CaseWorkerID, a.Outcome, notes,
		a.FollowUpNeeded, a.FollowUpDate, a.MaterialsSent, a.MaterialsDesc,
		a.ReferralMade, a.ReferralTo)
	return mapPgErr(err)
}

func (r *attemptRepoPG) CountUnsuccessful(ctx context.Context, itemID uuid.UUID) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT COUNT(*) FROM call_attempts
		WHERE item_id = $1 AND outcome IN ('left_vm', 'no_answer', 'refused')`,
		itemID).Scan(&n)
	return n, err
}

func (r *attemptRepoPG) queryAttempts(ctx context.Context, q string, args ...interface{}) ([]*Attempt, error) {
	rows, err := r.conn(ctx).Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var attempts []*Attempt
	for rows.Next() {
		a, err := r.scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}

func (r *attemptRepoPG) ListByItem(ctx context.Context, itemID uuid.UUID) ([]*Attempt, error) {
	return r.queryAttempts(ctx,
		`SELECT `+attemptCols+` FROM call_attempts WHERE item_id = $1 ORDER BY created_at DESC`,
		itemID)
}

func (r *attemptRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Attempt, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM call_attempts WHERE patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, err
	}
	attempts, err := r.queryAttempts(ctx,
		`SELECT `+attemptCols+` FROM call_attempts WHERE patient_id = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		patientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	return attempts, total, nil
}

func (r *attemptRepoPG) LastByItems(ctx context.Context, itemIDs []uuid.UUID) (map[uuid.UUID]*Attempt, error) {
	if len(itemIDs) == 0 {
		return map[uuid.UUID]*Attempt{}, nil
	}
	attempts, err := r.queryAttempts(ctx, `
		SELECT DISTINCT ON (item_id) `+attemptCols+`
		FROM call_attempts WHERE item_id = ANY($1)
		ORDER BY item_id, created_at DESC`,
		itemIDs)
	if err != nil {
		return nil, err
	}
	last := make(map[uuid.UUID]*Attempt, len(attempts))
	for _, a := range attempts {
		last[a.ItemID] = a
	}
	return last, nil
}

func (r *attemptRepoPG) CountByItems(ctx context.Context, itemIDs []uuid.UUID) (map[uuid.UUID]int, error) {
	if len(itemIDs) == 0 {
		return map[uuid.UUID]int{}, nil
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT item_id, COUNT(*) FROM call_attempts
		WHERE item_id = ANY($1) GROUP BY item_id`,
		itemIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := make(map[uuid.UUID]int)
	for rows.Next() {
		var id uuid.UUID
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			return nil, err
		}
		counts[id] = n
	}
	return counts, rows.Err()
}

func (r *attemptRepoPG) ListForReport(ctx context.Context, f ReportFilter) ([]*ReportRow, error) {
	var conds []string
	var args []interface{}
	add := func(cond string, arg interface{}) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.From != nil {
		add("a.created_at >= $%d", *f.From)
	}
	if f.To != nil {
		add("a.created_at < $%d", *f.To)
	}
	if f.CaseWorkerID != nil {
		add("a.case_worker_id = $%d", *f.CaseWorkerID)
	}
	if f.Outcome != nil {
		add("a.outcome = $%d", *f.Outcome)
	}
	if f.ListType != nil {
		add("i.list_type = $%d", *f.ListType)
	}

	q := `SELECT a.id, a.item_id, a.patient_id, a.case_worker_id, a.outcome, a.notes,
		a.follow_up_needed, a.follow_up_date, a.materials_sent, a.materials_desc,
		a.referral_made, a.referral_to, a.created_at, i.list_type
		FROM call_attempts a
		JOIN triage_items i ON i.id = a.item_id`
	if len(conds) > 0 {
		q += ` WHERE ` + strings.Join(conds, " AND ")
	}
	q += ` ORDER BY a.created_at DESC`

	rows, err := r.conn(ctx).Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var result []*ReportRow
	for rows.Next() {
		var row ReportRow
		err := rows.Scan(&row.ID, &row.ItemID, &row.PatientID, &row.CaseWorkerID,
			&row.Outcome, &row.Notes,
			&row.FollowUpNeeded, &row.FollowUpDate, &row.MaterialsSent, &row.MaterialsDesc,
			&row.ReferralMade, &row.ReferralTo, &row.CreatedAt, &row.ListType)
		if err != nil {
			return nil, err
		}
		notes, err := r.cipher.Decrypt(row.Notes)
		if err != nil {
			return nil, fmt.Errorf("decrypt attempt notes: %w", err)
		}
		row.Notes = notes
		result = append(result, &row)
	}
	return result, rows.Err()
}

func (r *attemptRepoPG) Stats(ctx context.Context, since time.Time) (*ReportStats, error) {
	stats := &ReportStats{ByOutcome: make(map[Outcome]int, len(Outcomes))}
	for _, o := range Outcomes {
		stats.ByOutcome[o] = 0
	}

	err := r.conn(ctx).QueryRow(ctx, `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE created_at >= $1)
		FROM call_attempts`, since).Scan(&stats.TotalAll, &stats.TotalWeek)
	if err != nil {
		return nil, err
	}

	rows, err := r.conn(ctx).Query(ctx,
		`SELECT outcome, COUNT(*) FROM call_attempts GROUP BY outcome`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var o Outcome
		var n int
		if err := rows.Scan(&o, &n); err != nil {
			return nil, err
		}
		stats.ByOutcome[o] = n
	}
	return stats, rows.Err()
}

// =========== Transaction Runner ===========

type txRunnerPG struct{ pool *pgxpool.Pool }

func NewTxRunnerPG(pool *pgxpool.Pool) TxRunner {
	return &txRunnerPG{pool: pool}
}

func (t *txRunnerPG) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return db.RunInTx(ctx, t.pool, fn)
}
