package db

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// JobPatch is a partial update of a job record. Only non-nil fields are
// written, so concurrent stage handlers never clobber each other's columns.
type JobPatch struct {
	Title              *string
	FileName           *string
	StoragePath        *string
	Status             *Status
	EngineRequestID    *string
	Transcript         *string
	DiarizedTranscript *string
	Speakers           *[]Speaker
	Summary            *string
	DocumentBody       *string
	Agreements         *[]string
	ExportPath         *string
	FailureReason      *string
}

const jobColumns = `id, owner_id, title, file_name, storage_path, status,
	engine_request_id, transcript, diarized_transcript, speakers, summary,
	document_body, agreements, export_path, failure_reason, created_at, updated_at`

// CreateJob inserts a new job record. The job ID is chosen by the caller
// (the initiating client) so the very first storage write can reference it.
func (db *DB) CreateJob(ctx context.Context, job *Job) error {
	if job.ID == uuid.Nil {
		return fmt.Errorf("job id is required")
	}
	if job.Status == "" {
		job.Status = StatusUploaded
	}

	err := db.pool.QueryRow(ctx,
		`INSERT INTO jobs (id, owner_id, title, file_name, status)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING created_at, updated_at`,
		job.ID, job.OwnerID, job.Title, job.FileName, job.Status,
	).Scan(&job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}

	created := *job
	db.publish(JobEvent{Type: EventInsert, Current: &created})
	return nil
}

// UpdateJob applies a partial patch to a job record atomically and publishes
// the mutation. Returns the updated job.
func (db *DB) UpdateJob(ctx context.Context, jobID uuid.UUID, patch JobPatch) (*Job, error) {
	setClauses, args, err := buildPatch(patch)
	if err != nil {
		return nil, err
	}
	if len(setClauses) == 0 {
		return nil, fmt.Errorf("empty patch for job %s", jobID)
	}

	previous, err := db.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if previous == nil {
		return nil, fmt.Errorf("job not found: %s", jobID)
	}

	query := "UPDATE jobs SET " + setClauses +
		fmt.Sprintf(", updated_at = NOW() WHERE id = $%d RETURNING ", len(args)+1) + jobColumns
	args = append(args, jobID)

	row := db.pool.QueryRow(ctx, query, args...)
	updated, err := scanJob(row)
	if err != nil {
		return nil, fmt.Errorf("failed to update job %s: %w", jobID, err)
	}

	db.publish(JobEvent{Type: EventUpdate, Previous: previous, Current: updated})
	return updated, nil
}

// MarkFailed moves a job to the terminal error status with a human-readable
// reason. Jobs already in a terminal status are left untouched.
func (db *DB) MarkFailed(ctx context.Context, jobID uuid.UUID, reason string) error {
	status := StatusError
	current, err := db.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if current == nil {
		return fmt.Errorf("job not found: %s", jobID)
	}
	if current.Status.Terminal() {
		return nil
	}

	_, err = db.UpdateJob(ctx, jobID, JobPatch{Status: &status, FailureReason: &reason})
	return err
}

// GetJob retrieves a job by ID. Returns nil when no such job exists.
func (db *DB) GetJob(ctx context.Context, jobID uuid.UUID) (*Job, error) {
	row := db.pool.QueryRow(ctx,
		"SELECT "+jobColumns+" FROM jobs WHERE id = $1", jobID)
	job, err := scanJob(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

// GetOwnedJob retrieves a job only if it belongs to ownerID.
func (db *DB) GetOwnedJob(ctx context.Context, jobID, ownerID uuid.UUID) (*Job, error) {
	job, err := db.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job == nil || job.OwnerID != ownerID {
		return nil, nil
	}
	return job, nil
}

// ListRecentJobs retrieves the most recently created jobs for an owner.
func (db *DB) ListRecentJobs(ctx context.Context, ownerID uuid.UUID, limit int) ([]Job, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := db.pool.Query(ctx,
		"SELECT "+jobColumns+" FROM jobs WHERE owner_id = $1 ORDER BY created_at DESC LIMIT $2",
		ownerID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

// buildPatch renders a JobPatch into SQL SET clauses and positional args.
func buildPatch(patch JobPatch) (string, []any, error) {
	clauses := ""
	args := []any{}

	add := func(column string, value any) {
		if clauses != "" {
			clauses += ", "
		}
		args = append(args, value)
		clauses += fmt.Sprintf("%s = $%d", column, len(args))
	}

	if patch.Title != nil {
		add("title", *patch.Title)
	}
	if patch.FileName != nil {
		add("file_name", *patch.FileName)
	}
	if patch.StoragePath != nil {
		add("storage_path", *patch.StoragePath)
	}
	if patch.Status != nil {
		add("status", *patch.Status)
	}
	if patch.EngineRequestID != nil {
		add("engine_request_id", *patch.EngineRequestID)
	}
	if patch.Transcript != nil {
		add("transcript", *patch.Transcript)
	}
	if patch.DiarizedTranscript != nil {
		add("diarized_transcript", *patch.DiarizedTranscript)
	}
	if patch.Speakers != nil {
		speakers, err := json.Marshal(*patch.Speakers)
		if err != nil {
			return "", nil, fmt.Errorf("failed to marshal speakers: %w", err)
		}
		add("speakers", speakers)
	}
	if patch.Summary != nil {
		add("summary", *patch.Summary)
	}
	if patch.DocumentBody != nil {
		add("document_body", *patch.DocumentBody)
	}
	if patch.Agreements != nil {
		agreements, err := json.Marshal(*patch.Agreements)
		if err != nil {
			return "", nil, fmt.Errorf("failed to marshal agreements: %w", err)
		}
		add("agreements", agreements)
	}
	if patch.ExportPath != nil {
		add("export_path", *patch.ExportPath)
	}
	if patch.FailureReason != nil {
		add("failure_reason", *patch.FailureReason)
	}

	return clauses, args, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*Job, error) {
	var job Job
	var fileName, storagePath, engineRequestID *string
	var transcript, diarized, summary, documentBody, exportPath, failureReason *string
	var speakersJSON, agreementsJSON []byte

	err := row.Scan(
		&job.ID, &job.OwnerID, &job.Title, &fileName, &storagePath, &job.Status,
		&engineRequestID, &transcript, &diarized, &speakersJSON, &summary,
		&documentBody, &agreementsJSON, &exportPath, &failureReason,
		&job.CreatedAt, &job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	setIf := func(dst *string, src *string) {
		if src != nil {
			*dst = *src
		}
	}
	setIf(&job.FileName, fileName)
	setIf(&job.StoragePath, storagePath)
	setIf(&job.EngineRequestID, engineRequestID)
	setIf(&job.Transcript, transcript)
	setIf(&job.DiarizedTranscript, diarized)
	setIf(&job.Summary, summary)
	setIf(&job.DocumentBody, documentBody)
	setIf(&job.ExportPath, exportPath)
	setIf(&job.FailureReason, failureReason)

	if len(speakersJSON) > 0 {
		if err := json.Unmarshal(speakersJSON, &job.Speakers); err != nil {
			return nil, fmt.Errorf("failed to unmarshal speakers: %w", err)
		}
	}
	if len(agreementsJSON) > 0 {
		if err := json.Unmarshal(agreementsJSON, &job.Agreements); err != nil {
			return nil, fmt.Errorf("failed to unmarshal agreements: %w", err)
		}
	}

	return &job, nil
}
