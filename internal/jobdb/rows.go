package jobdb

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"sdqueue/internal/jobs"
)

const insertJobSQL = `INSERT INTO jobs (
    id, kind, status, params_json, model_json, outputs_json, error_message,
    created_at, started_at, completed_at, deleted_at, previous_status, linked_job_id
) VALUES (
    :id, :kind, :status, :params_json, :model_json, :outputs_json, :error_message,
    :created_at, :started_at, :completed_at, :deleted_at, :previous_status, :linked_job_id
)`

const selectJobsSQL = `SELECT
    id, kind, status, params_json, model_json, outputs_json, error_message,
    created_at, started_at, completed_at, deleted_at, previous_status, linked_job_id
FROM jobs ORDER BY created_at, rowid`

// jobRow mirrors the jobs table. Every column scans as nullable so one
// damaged row cannot fail the whole load.
type jobRow struct {
	ID             sql.NullString `db:"id"`
	Kind           sql.NullString `db:"kind"`
	Status         sql.NullString `db:"status"`
	Params         sql.NullString `db:"params_json"`
	Model          sql.NullString `db:"model_json"`
	Outputs        sql.NullString `db:"outputs_json"`
	ErrorMessage   sql.NullString `db:"error_message"`
	CreatedAt      sql.NullString `db:"created_at"`
	StartedAt      sql.NullString `db:"started_at"`
	CompletedAt    sql.NullString `db:"completed_at"`
	DeletedAt      sql.NullString `db:"deleted_at"`
	PreviousStatus sql.NullString `db:"previous_status"`
	LinkedJobID    sql.NullString `db:"linked_job_id"`
}

func toRow(job jobs.Job) (jobRow, error) {
	row := jobRow{
		ID:             nullableString(job.ID),
		Kind:           nullableString(string(job.Kind)),
		Status:         nullableString(string(job.Status)),
		ErrorMessage:   nullableString(job.ErrorMessage),
		CreatedAt:      nullableTime(job.CreatedAt),
		StartedAt:      nullableTime(job.StartedAt),
		CompletedAt:    nullableTime(job.CompletedAt),
		DeletedAt:      nullableTime(job.DeletedAt),
		PreviousStatus: nullableString(string(job.PreviousStatus)),
		LinkedJobID:    nullableString(job.LinkedJobID),
	}
	if len(job.Params) > 0 {
		row.Params = nullableString(string(job.Params))
	}
	model, err := json.Marshal(job.Model)
	if err != nil {
		return jobRow{}, fmt.Errorf("encode model snapshot: %w", err)
	}
	row.Model = nullableString(string(model))
	if len(job.Outputs) > 0 {
		outputs, err := json.Marshal(job.Outputs)
		if err != nil {
			return jobRow{}, fmt.Errorf("encode outputs: %w", err)
		}
		row.Outputs = nullableString(string(outputs))
	}
	return row, nil
}

// fromRow decodes a row. Optional columns fall back to zero values; a
// missing identity or an undecodable blob is an error.
func fromRow(row jobRow) (jobs.Job, error) {
	if !row.ID.Valid || row.ID.String == "" {
		return jobs.Job{}, errors.New("missing id")
	}
	job := jobs.Job{
		ID:             row.ID.String,
		Kind:           jobs.Kind(row.Kind.String),
		Status:         jobs.Status(row.Status.String),
		ErrorMessage:   row.ErrorMessage.String,
		PreviousStatus: jobs.Status(row.PreviousStatus.String),
		LinkedJobID:    row.LinkedJobID.String,
	}
	if row.Params.Valid && row.Params.String != "" {
		if !json.Valid([]byte(row.Params.String)) {
			return jobs.Job{}, errors.New("params_json is not valid JSON")
		}
		job.Params = json.RawMessage(row.Params.String)
	}
	if row.Model.Valid && row.Model.String != "" {
		if err := json.Unmarshal([]byte(row.Model.String), &job.Model); err != nil {
			return jobs.Job{}, fmt.Errorf("decode model_json: %w", err)
		}
	}
	if row.Outputs.Valid && row.Outputs.String != "" {
		if err := json.Unmarshal([]byte(row.Outputs.String), &job.Outputs); err != nil {
			return jobs.Job{}, fmt.Errorf("decode outputs_json: %w", err)
		}
	}

	created, err := parseTimeString(row.CreatedAt.String)
	if err != nil {
		return jobs.Job{}, fmt.Errorf("parse created_at: %w", err)
	}
	job.CreatedAt = created
	job.StartedAt = optionalTime(row.StartedAt)
	job.CompletedAt = optionalTime(row.CompletedAt)
	job.DeletedAt = optionalTime(row.DeletedAt)
	return job, nil
}

func nullableString(value string) sql.NullString {
	return sql.NullString{String: value, Valid: value != ""}
}

func nullableTime(value time.Time) sql.NullString {
	if value.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: value.UTC().Format(time.RFC3339Nano), Valid: true}
}

func optionalTime(value sql.NullString) time.Time {
	if !value.Valid {
		return time.Time{}
	}
	parsed, err := parseTimeString(value.String)
	if err != nil {
		return time.Time{}
	}
	return parsed
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse(time.DateTime, value)
}
