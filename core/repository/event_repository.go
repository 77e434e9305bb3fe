package repository

import (
	"telemetry-pipeline/core/models"
)

// EventRepository handles database operations for stage events
type EventRepository struct {
	db *DB
}

// NewEventRepository creates a new event repository
func NewEventRepository(db *DB) *EventRepository {
	return &EventRepository{db: db}
}

// RecordEvent appends one stage transition to the log's audit trail
func (r *EventRepository) RecordEvent(logID int64, stage models.Stage, status models.StageStatus, message string) error {
	return recordStageEvent(r.db, logID, stage, status, message)
}

func recordStageEvent(db *DB, logID int64, stage models.Stage, status models.StageStatus, message string) error {
	_, err := db.Exec(`
		INSERT INTO stage_events (log_id, stage, status, message, at)
		VALUES ($1, $2, $3, NULLIF($4, ''), NOW())
	`, logID, stage, status, message)
	return err
}

// GetLogEvents retrieves the most recent events for a log
func (r *EventRepository) GetLogEvents(logID int64, limit int) ([]models.StageEvent, error) {
	rows, err := r.db.Query(`
		SELECT id, log_id, stage, status, COALESCE(message, ''), at
		FROM stage_events
		WHERE log_id = $1
		ORDER BY at DESC
		LIMIT $2
	`, logID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []models.StageEvent
	for rows.Next() {
		var event models.StageEvent
		if err := rows.Scan(&event.ID, &event.LogID, &event.Stage, &event.Status, &event.Message, &event.At); err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, rows.Err()
}
