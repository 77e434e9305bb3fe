package repository

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"telemetry-pipeline/core/models"
)

// ExportRepository handles database operations for export jobs and items
type ExportRepository struct {
	db *DB
}

// NewExportRepository creates a new export repository
func NewExportRepository(db *DB) *ExportRepository {
	return &ExportRepository{db: db}
}

// CreateJob inserts a pending job plus one pending item per requested
// log and returns the populated job
func (r *ExportRepository) CreateJob(format models.ExportFormat, resampleHz float64, logIDs []int64) (*models.ExportJob, error) {
	requested, err := json.Marshal(logIDs)
	if err != nil {
		return nil, err
	}

	tx, err := r.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	now := time.Now()
	job := &models.ExportJob{
		Format:       format,
		ResampleHz:   resampleHz,
		Status:       models.ExportPending,
		RequestedIDs: logIDs,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	err = tx.QueryRow(`
		INSERT INTO export_jobs (format, resample_hz, status, requested_ids, created_at, updated_at)
		VALUES ($1, $2, 'pending', $3, $4, $4)
		RETURNING id
	`, format, resampleHz, requested, now).Scan(&job.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to create export job: %w", err)
	}

	for _, logID := range logIDs {
		_, err := tx.Exec(`
			INSERT INTO export_items (job_id, log_id, status, attempts, created_at, updated_at)
			VALUES ($1, $2, 'pending', 0, $3, $3)
		`, job.ID, logID, now)
		if err != nil {
			return nil, fmt.Errorf("failed to create export item for log %d: %w", logID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return job, nil
}

// GetJob retrieves one export job by ID
func (r *ExportRepository) GetJob(id int64) (*models.ExportJob, error) {
	var job models.ExportJob
	var requested []byte
	var completedAt sql.NullTime

	err := r.db.QueryRow(`
		SELECT id, format, resample_hz, status, requested_ids,
			COALESCE(archive_uri, ''), COALESCE(error_message, ''),
			created_at, updated_at, completed_at
		FROM export_jobs
		WHERE id = $1
	`, id).Scan(
		&job.ID, &job.Format, &job.ResampleHz, &job.Status, &requested,
		&job.ArchiveURI, &job.ErrorMessage,
		&job.CreatedAt, &job.UpdatedAt, &completedAt,
	)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get export job %d: %w", id, err)
	}

	json.Unmarshal(requested, &job.RequestedIDs)
	if completedAt.Valid {
		t := completedAt.Time
		job.CompletedAt = &t
	}
	return &job, nil
}

// SetJobStatus updates a job's status and error message
func (r *ExportRepository) SetJobStatus(id int64, status models.ExportStatus, errMsg string) error {
	query := `
		UPDATE export_jobs
		SET status = $1, error_message = NULLIF($2, ''), updated_at = $3,
			completed_at = CASE WHEN $1 IN ('completed', 'completed_with_errors', 'failed') THEN $3 ELSE completed_at END
		WHERE id = $4
	`
	_, err := r.db.Exec(query, status, errMsg, time.Now(), id)
	return err
}

// SetJobArchive stores the archive location together with the final
// status
func (r *ExportRepository) SetJobArchive(id int64, archiveURI string, status models.ExportStatus, errMsg string) error {
	now := time.Now()
	_, err := r.db.Exec(`
		UPDATE export_jobs
		SET archive_uri = $1, status = $2, error_message = NULLIF($3, ''),
			completed_at = $4, updated_at = $4
		WHERE id = $5
	`, archiveURI, status, errMsg, now, id)
	return err
}

// GetItem retrieves one export item by ID
func (r *ExportRepository) GetItem(id int64) (*models.ExportItem, error) {
	var item models.ExportItem
	err := r.db.QueryRow(`
		SELECT id, job_id, log_id, status, COALESCE(output_uri, ''),
			COALESCE(error_message, ''), attempts, created_at, updated_at
		FROM export_items
		WHERE id = $1
	`, id).Scan(
		&item.ID, &item.JobID, &item.LogID, &item.Status, &item.OutputURI,
		&item.ErrorMessage, &item.Attempts, &item.CreatedAt, &item.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get export item %d: %w", id, err)
	}
	return &item, nil
}

// GetJobItems retrieves every item of a job
func (r *ExportRepository) GetJobItems(jobID int64) ([]*models.ExportItem, error) {
	rows, err := r.db.Query(`
		SELECT id, job_id, log_id, status, COALESCE(output_uri, ''),
			COALESCE(error_message, ''), attempts, created_at, updated_at
		FROM export_items
		WHERE job_id = $1
		ORDER BY id
	`, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to list items for job %d: %w", jobID, err)
	}
	defer rows.Close()

	var items []*models.ExportItem
	for rows.Next() {
		var item models.ExportItem
		err := rows.Scan(
			&item.ID, &item.JobID, &item.LogID, &item.Status, &item.OutputURI,
			&item.ErrorMessage, &item.Attempts, &item.CreatedAt, &item.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		items = append(items, &item)
	}
	return items, rows.Err()
}

// MarkItemProcessing flips an item to processing and counts the attempt
func (r *ExportRepository) MarkItemProcessing(id int64) error {
	_, err := r.db.Exec(`
		UPDATE export_items
		SET status = 'processing', attempts = attempts + 1, error_message = NULL, updated_at = $1
		WHERE id = $2
	`, time.Now(), id)
	return err
}

// MarkItemCompleted records a successful conversion
func (r *ExportRepository) MarkItemCompleted(id int64, outputURI string) error {
	_, err := r.db.Exec(`
		UPDATE export_items
		SET status = 'completed', output_uri = $1, updated_at = $2
		WHERE id = $3
	`, outputURI, time.Now(), id)
	return err
}

// MarkItemFailed records a failed conversion attempt
func (r *ExportRepository) MarkItemFailed(id int64, errMsg string) error {
	_, err := r.db.Exec(`
		UPDATE export_items
		SET status = 'failed', error_message = $1, updated_at = $2
		WHERE id = $3
	`, errMsg, time.Now(), id)
	return err
}

// CountJobsByStatus counts export jobs in the given status
func (r *ExportRepository) CountJobsByStatus(status models.ExportStatus) (int, error) {
	var n int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM export_jobs WHERE status = $1`, status).Scan(&n)
	if err != nil {
		return 0, err
	}
	return n, nil
}
