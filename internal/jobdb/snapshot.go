package jobdb

import (
	"context"
	"errors"
	"fmt"

	"sdqueue/internal/jobs"
	"sdqueue/internal/logging"
)

var errReadOnly = errors.New("database opened read-only")

// Load returns every decodable job row. Rows that fail to scan or decode
// are logged and skipped.
func (d *DB) Load(ctx context.Context) ([]jobs.Job, error) {
	rows, err := d.db.QueryxContext(ctx, selectJobsSQL)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	defer rows.Close()

	var out []jobs.Job
	skipped := 0
	for rows.Next() {
		var row jobRow
		if err := rows.StructScan(&row); err != nil {
			d.warnSkipped("", err)
			skipped++
			continue
		}
		job, err := fromRow(row)
		if err != nil {
			d.warnSkipped(row.ID.String, err)
			skipped++
			continue
		}
		out = append(out, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	d.logger.Debug("job table loaded", logging.Int("jobs", len(out)), logging.Int("skipped", skipped))
	return out, nil
}

func (d *DB) warnSkipped(id string, err error) {
	logging.WarnWithContext(d.logger, "skipping unreadable job row", "job_row_skipped",
		logging.JobID(id),
		logging.Error(err),
		logging.String(logging.FieldImpact, "job is dropped from the queue"),
		logging.String(logging.FieldErrorHint, "inspect the row with sqlite3 "+d.path),
	)
}

// Save replaces the jobs table with snapshot in a single transaction.
func (d *DB) Save(ctx context.Context, snapshot []jobs.Job) error {
	if d.readOnly {
		return errReadOnly
	}
	rows := make([]jobRow, 0, len(snapshot))
	for _, job := range snapshot {
		row, err := toRow(job)
		if err != nil {
			return fmt.Errorf("encode job %s: %w", job.ID, err)
		}
		rows = append(rows, row)
	}
	return retryOnBusy(ctx, func() error {
		return d.replaceAll(ctx, rows)
	})
}

func (d *DB) replaceAll(ctx context.Context, rows []jobRow) error {
	tx, err := d.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin snapshot tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DELETE FROM jobs"); err != nil {
		return fmt.Errorf("clear jobs: %w", err)
	}
	if len(rows) > 0 {
		stmt, err := tx.PrepareNamedContext(ctx, insertJobSQL)
		if err != nil {
			return fmt.Errorf("prepare insert: %w", err)
		}
		defer stmt.Close()
		for _, row := range rows {
			if _, err := stmt.ExecContext(ctx, row); err != nil {
				return fmt.Errorf("insert job %s: %w", row.ID.String, err)
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit snapshot: %w", err)
	}
	return nil
}
