package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/secfleet/secfleet/internal/domain"
)

// ─── Job Records ────────────────────────────────────────────────────────────

// SaveJobRecord upserts job and replaces its task records, atomically.
func (d *DB) SaveJobRecord(ctx context.Context, job domain.JobRecord, tasks []domain.TaskRecord) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx,
		`INSERT INTO job_records (id, name, state, status, queued_at, started_at, completed_at, failure_count)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			name=excluded.name,
			state=excluded.state,
			status=excluded.status,
			queued_at=excluded.queued_at,
			started_at=excluded.started_at,
			completed_at=excluded.completed_at,
			failure_count=excluded.failure_count`,
		job.ID, job.Name, string(job.State), string(job.Status), job.QueuedAt.UnixMilli(),
		nullableMillis(job.StartedAt), nullableMillis(job.CompletedAt), job.FailureCount,
	)
	if err != nil {
		return fmt.Errorf("save job %d: %w", job.ID, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM task_records WHERE job_id = ?`, job.ID); err != nil {
		return err
	}
	for _, t := range tasks {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO task_records (job_id, node_id, name, state, error, started_at, completed_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			job.ID, t.NodeID, t.Name, string(t.State), nullableString(t.Error),
			nullableMillis(t.StartedAt), nullableMillis(t.CompletedAt),
		)
		if err != nil {
			return fmt.Errorf("save task %q of job %d: %w", t.Name, job.ID, err)
		}
	}
	return tx.Commit()
}

// GetJobRecord returns a job record and its task records in node order.
func (d *DB) GetJobRecord(ctx context.Context, id int64) (*domain.JobRecord, []domain.TaskRecord, error) {
	row := d.q(ctx).QueryRowContext(ctx,
		`SELECT id, name, state, status, queued_at, started_at, completed_at, failure_count
		 FROM job_records WHERE id = ?`, id,
	)
	job, err := scanJobRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, fmt.Errorf("job %d: %w", id, domain.ErrJobNotFound)
	}
	if err != nil {
		return nil, nil, err
	}

	rows, err := d.q(ctx).QueryContext(ctx,
		`SELECT job_id, node_id, name, state, error, started_at, completed_at
		 FROM task_records WHERE job_id = ? ORDER BY node_id`, id,
	)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	var tasks []domain.TaskRecord
	for rows.Next() {
		var t domain.TaskRecord
		var errText sql.NullString
		var started, completed sql.NullInt64
		if err := rows.Scan(&t.JobID, &t.NodeID, &t.Name, &t.State, &errText, &started, &completed); err != nil {
			return nil, nil, err
		}
		t.Error = errText.String
		t.StartedAt, t.CompletedAt = fromMillis(started), fromMillis(completed)
		tasks = append(tasks, t)
	}
	return job, tasks, rows.Err()
}

// ListJobRecords returns the most recent job records, newest first.
func (d *DB) ListJobRecords(ctx context.Context, limit int) ([]domain.JobRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := d.q(ctx).QueryContext(ctx,
		`SELECT id, name, state, status, queued_at, started_at, completed_at, failure_count
		 FROM job_records ORDER BY id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.JobRecord
	for rows.Next() {
		j, err := scanJobRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *j)
	}
	return out, rows.Err()
}

// NextJobID returns one past the greatest persisted job id.
func (d *DB) NextJobID(ctx context.Context) (int64, error) {
	var maxID sql.NullInt64
	if err := d.q(ctx).QueryRowContext(ctx, `SELECT MAX(id) FROM job_records`).Scan(&maxID); err != nil {
		return 0, err
	}
	return maxID.Int64 + 1, nil
}

func scanJobRecord(s scanner) (*domain.JobRecord, error) {
	var j domain.JobRecord
	var queued int64
	var started, completed sql.NullInt64
	err := s.Scan(&j.ID, &j.Name, &j.State, &j.Status, &queued, &started, &completed, &j.FailureCount)
	if err != nil {
		return nil, err
	}
	j.QueuedAt = fromMillis(sql.NullInt64{Int64: queued, Valid: true})
	j.StartedAt, j.CompletedAt = fromMillis(started), fromMillis(completed)
	return &j, nil
}

// ─── Alerts ─────────────────────────────────────────────────────────────────

// Raise persists an operator alert.
func (d *DB) Raise(ctx context.Context, a domain.Alert) error {
	_, err := d.q(ctx).ExecContext(ctx,
		`INSERT INTO alerts (kind, message, job_id, created_at, acknowledged) VALUES (?, ?, ?, ?, ?)`,
		string(a.Kind), a.Message, nullableID(a.JobID), a.CreatedAt.UnixMilli(), a.Acknowledged,
	)
	return err
}

// ListAlerts returns alerts newest first, optionally only unacknowledged ones.
func (d *DB) ListAlerts(ctx context.Context, pendingOnly bool) ([]domain.Alert, error) {
	query := `SELECT id, kind, message, job_id, created_at, acknowledged FROM alerts`
	if pendingOnly {
		query += ` WHERE acknowledged = 0`
	}
	query += ` ORDER BY id DESC`

	rows, err := d.q(ctx).QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Alert
	for rows.Next() {
		var a domain.Alert
		var jobID sql.NullInt64
		var created int64
		if err := rows.Scan(&a.ID, &a.Kind, &a.Message, &jobID, &created, &a.Acknowledged); err != nil {
			return nil, err
		}
		a.JobID = jobID.Int64
		a.CreatedAt = fromMillis(sql.NullInt64{Int64: created, Valid: true})
		out = append(out, a)
	}
	return out, rows.Err()
}

// AcknowledgeAlert marks an alert as seen.
func (d *DB) AcknowledgeAlert(ctx context.Context, id int64) error {
	result, err := d.q(ctx).ExecContext(ctx, `UPDATE alerts SET acknowledged = 1 WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return expectRow(result, "alert", id)
}
