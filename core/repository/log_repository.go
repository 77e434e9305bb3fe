package repository

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"telemetry-pipeline/core/models"
)

// LogRepository handles database operations for telemetry logs
type LogRepository struct {
	db *DB
}

// NewLogRepository creates a new log repository
func NewLogRepository(db *DB) *LogRepository {
	return &LogRepository{db: db}
}

// CreateLog inserts a new log with every stage pending and returns its ID
func (r *LogRepository) CreateLog(log *models.TelemetryLog) error {
	query := `
		INSERT INTO telemetry_logs (
			file_name, original_uri, recovered_uri,
			recovery_status, parse_status, gps_status, map_preview_status,
			channels, tags, cars, drivers, event_types, locations,
			file_size, notes, created_at, updated_at
		) VALUES (
			$1, $2, '', 'pending', 'pending', 'pending', 'pending',
			$3, $4, $5, $6, $7, $8, $9, $10, $11, $11
		)
		RETURNING id
	`

	now := time.Now()
	err := r.db.QueryRow(query,
		log.FileName,
		log.OriginalURI,
		jsonList(log.Channels),
		jsonList(log.Tags),
		jsonList(log.Cars),
		jsonList(log.Drivers),
		jsonList(log.EventTypes),
		jsonList(log.Locations),
		log.FileSize,
		log.Notes,
		now,
	).Scan(&log.ID)
	if err != nil {
		return fmt.Errorf("failed to create log: %w", err)
	}

	log.RecoveryStatus = models.StagePending
	log.ParseStatus = models.StagePending
	log.GPSStatus = models.StagePending
	log.MapPreviewStatus = models.StagePending
	log.CreatedAt = now
	log.UpdatedAt = now
	return nil
}

// GetLog retrieves one log by ID
func (r *LogRepository) GetLog(id int64) (*models.TelemetryLog, error) {
	query := `
		SELECT id, file_name, original_uri, recovered_uri,
			recovery_status, COALESCE(recovery_error, ''),
			parse_status, COALESCE(parse_error, ''),
			gps_status, COALESCE(gps_error, ''),
			map_preview_status, COALESCE(map_preview_error, ''),
			channels, channel_count, COALESCE(start_time, 0), COALESCE(end_time, 0),
			COALESCE(duration_seconds, 0), captured_at,
			path, COALESCE(map_preview_uri, ''),
			COALESCE(file_size, 0), COALESCE(notes, ''),
			tags, cars, drivers, event_types, locations,
			created_at, updated_at
		FROM telemetry_logs
		WHERE id = $1
	`
	return r.scanLog(r.db.QueryRow(query, id))
}

// ListLogs retrieves logs ordered newest first
func (r *LogRepository) ListLogs(limit, offset int) ([]*models.TelemetryLog, error) {
	query := `
		SELECT id, file_name, original_uri, recovered_uri,
			recovery_status, COALESCE(recovery_error, ''),
			parse_status, COALESCE(parse_error, ''),
			gps_status, COALESCE(gps_error, ''),
			map_preview_status, COALESCE(map_preview_error, ''),
			channels, channel_count, COALESCE(start_time, 0), COALESCE(end_time, 0),
			COALESCE(duration_seconds, 0), captured_at,
			path, COALESCE(map_preview_uri, ''),
			COALESCE(file_size, 0), COALESCE(notes, ''),
			tags, cars, drivers, event_types, locations,
			created_at, updated_at
		FROM telemetry_logs
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`

	rows, err := r.db.Query(query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list logs: %w", err)
	}
	defer rows.Close()

	var logs []*models.TelemetryLog
	for rows.Next() {
		log, err := r.scanLog(rows)
		if err != nil {
			return nil, err
		}
		logs = append(logs, log)
	}
	return logs, rows.Err()
}

// SetStageStatus updates one stage's status and error message
func (r *LogRepository) SetStageStatus(id int64, stage models.Stage, status models.StageStatus, errMsg string) error {
	column, ok := stageColumns[stage]
	if !ok {
		return fmt.Errorf("unknown stage %q", stage)
	}
	query := fmt.Sprintf(`
		UPDATE telemetry_logs
		SET %s_status = $1, %s_error = NULLIF($2, ''), updated_at = $3
		WHERE id = $4
	`, column, column)

	if _, err := r.db.Exec(query, status, errMsg, time.Now(), id); err != nil {
		return err
	}

	// Best effort: the audit trail never blocks a status write.
	if err := recordStageEvent(r.db, id, stage, status, errMsg); err != nil {
		log.Printf("Failed to record stage event for log %d: %v", id, err)
	}
	return nil
}

// CountLogsInStageStatus counts logs whose named stage is in the given
// status
func (r *LogRepository) CountLogsInStageStatus(stage models.Stage, status models.StageStatus) (int, error) {
	column, ok := stageColumns[stage]
	if !ok {
		return 0, fmt.Errorf("unknown stage %q", stage)
	}
	query := fmt.Sprintf(`SELECT COUNT(*) FROM telemetry_logs WHERE %s_status = $1`, column)

	var n int
	if err := r.db.QueryRow(query, status).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

var stageColumns = map[models.Stage]string{
	models.StageRecovery:   "recovery",
	models.StageParse:      "parse",
	models.StageGPS:        "gps",
	models.StageMapPreview: "map_preview",
}

// SetRecoveredURI stores the location of the repaired copy
func (r *LogRepository) SetRecoveredURI(id int64, uri string) error {
	_, err := r.db.Exec(
		`UPDATE telemetry_logs SET recovered_uri = $1, updated_at = $2 WHERE id = $3`,
		uri, time.Now(), id,
	)
	return err
}

// SetParseResults stores the extracted metadata and resets the
// downstream stages to pending
func (r *LogRepository) SetParseResults(id int64, channels []string, startTime, endTime, duration float64, capturedAt *time.Time) error {
	query := `
		UPDATE telemetry_logs
		SET channels = $1, channel_count = $2, start_time = $3, end_time = $4,
			duration_seconds = $5, captured_at = $6,
			parse_status = 'completed', parse_error = NULL,
			gps_status = 'pending', gps_error = NULL,
			map_preview_status = 'pending', map_preview_error = NULL,
			updated_at = $7
		WHERE id = $8
	`
	_, err := r.db.Exec(query,
		jsonList(channels), len(channels), startTime, endTime, duration, capturedAt, time.Now(), id)
	return err
}

// SetPath stores the extracted GPS path, or clears it when nil
func (r *LogRepository) SetPath(id int64, path models.GeoPath) error {
	var encoded interface{}
	if len(path) > 0 {
		pairs := make([][2]float64, len(path))
		for i, c := range path {
			pairs[i] = [2]float64{c.Lon, c.Lat}
		}
		data, err := json.Marshal(pairs)
		if err != nil {
			return err
		}
		encoded = data
	}
	_, err := r.db.Exec(
		`UPDATE telemetry_logs SET path = $1, updated_at = $2 WHERE id = $3`,
		encoded, time.Now(), id,
	)
	return err
}

// SetMapPreviewURI stores the preview location, or clears it when empty
func (r *LogRepository) SetMapPreviewURI(id int64, uri string) error {
	_, err := r.db.Exec(
		`UPDATE telemetry_logs SET map_preview_uri = NULLIF($1, ''), updated_at = $2 WHERE id = $3`,
		uri, time.Now(), id,
	)
	return err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (r *LogRepository) scanLog(row rowScanner) (*models.TelemetryLog, error) {
	var log models.TelemetryLog
	var channels, tags, cars, drivers, eventTypes, locations []byte
	var path []byte
	var capturedAt sql.NullTime

	err := row.Scan(
		&log.ID, &log.FileName, &log.OriginalURI, &log.RecoveredURI,
		&log.RecoveryStatus, &log.RecoveryError,
		&log.ParseStatus, &log.ParseError,
		&log.GPSStatus, &log.GPSError,
		&log.MapPreviewStatus, &log.MapPreviewError,
		&channels, &log.ChannelCount, &log.StartTime, &log.EndTime,
		&log.Duration, &capturedAt,
		&path, &log.MapPreviewURI,
		&log.FileSize, &log.Notes,
		&tags, &cars, &drivers, &eventTypes, &locations,
		&log.CreatedAt, &log.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan log: %w", err)
	}

	if capturedAt.Valid {
		t := capturedAt.Time
		log.CapturedAt = &t
	}
	log.Channels = parseList(channels)
	log.Tags = parseList(tags)
	log.Cars = parseList(cars)
	log.Drivers = parseList(drivers)
	log.EventTypes = parseList(eventTypes)
	log.Locations = parseList(locations)

	if len(path) > 0 {
		var pairs [][2]float64
		if err := json.Unmarshal(path, &pairs); err == nil {
			for _, p := range pairs {
				log.Path = append(log.Path, models.Coordinate{Lon: p[0], Lat: p[1]})
			}
		}
	}
	return &log, nil
}

func jsonList(items []string) []byte {
	if items == nil {
		items = []string{}
	}
	data, _ := json.Marshal(items)
	return data
}

func parseList(data []byte) []string {
	if len(data) == 0 {
		return nil
	}
	var items []string
	json.Unmarshal(data, &items)
	return items
}
