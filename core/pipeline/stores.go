package pipeline

import (
	"time"

	"telemetry-pipeline/core/models"
)

// LogStore is the persistence surface the stage pipeline needs. The
// Postgres repository satisfies it; tests use an in-memory fake.
type LogStore interface {
	GetLog(id int64) (*models.TelemetryLog, error)
	SetStageStatus(id int64, stage models.Stage, status models.StageStatus, errMsg string) error
	SetRecoveredURI(id int64, uri string) error
	SetParseResults(id int64, channels []string, startTime, endTime, duration float64, capturedAt *time.Time) error
	SetPath(id int64, path models.GeoPath) error
	SetMapPreviewURI(id int64, uri string) error
}

// ExportStore is the persistence surface the export workflow needs.
type ExportStore interface {
	GetJob(id int64) (*models.ExportJob, error)
	SetJobStatus(id int64, status models.ExportStatus, errMsg string) error
	SetJobArchive(id int64, archiveURI string, status models.ExportStatus, errMsg string) error
	GetItem(id int64) (*models.ExportItem, error)
	GetJobItems(jobID int64) ([]*models.ExportItem, error)
	MarkItemProcessing(id int64) error
	MarkItemCompleted(id int64, outputURI string) error
	MarkItemFailed(id int64, errMsg string) error
}
