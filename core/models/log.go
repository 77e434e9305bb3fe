package models

import "time"

// StageStatus represents the status of one processing stage of a log.
type StageStatus string

const (
	StagePending    StageStatus = "pending"
	StageProcessing StageStatus = "processing"
	StageCompleted  StageStatus = "completed"
	StageFailed     StageStatus = "failed"
	StageSkipped    StageStatus = "skipped"
)

// Terminal reports whether the status is a per-attempt end state.
func (s StageStatus) Terminal() bool {
	return s == StageCompleted || s == StageFailed || s == StageSkipped
}

// Stage identifies one stage of the per-log pipeline.
type Stage string

const (
	StageRecovery   Stage = "recovery"
	StageParse      Stage = "parse"
	StageGPS        Stage = "gps"
	StageMapPreview Stage = "map_preview"
)

// TelemetryLog represents one uploaded recording and the state of its
// derivation pipeline. Stage statuses are mutated exclusively by the
// pipeline; each stage owns its own status and error fields.
type TelemetryLog struct {
	ID           int64
	FileName     string
	OriginalURI  string
	RecoveredURI string

	RecoveryStatus   StageStatus
	RecoveryError    string
	ParseStatus      StageStatus
	ParseError       string
	GPSStatus        StageStatus
	GPSError         string
	MapPreviewStatus StageStatus
	MapPreviewError  string

	Channels     []string
	ChannelCount int
	StartTime    float64 // unix seconds
	EndTime      float64 // unix seconds
	Duration     float64 // seconds
	CapturedAt   *time.Time

	Path          GeoPath
	MapPreviewURI string

	FileSize int64
	Notes    string

	Tags       []string
	Cars       []string
	Drivers    []string
	EventTypes []string
	Locations  []string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// StageStatusOf returns the stored status of the named stage.
func (l *TelemetryLog) StageStatusOf(stage Stage) StageStatus {
	switch stage {
	case StageRecovery:
		return l.RecoveryStatus
	case StageParse:
		return l.ParseStatus
	case StageGPS:
		return l.GPSStatus
	case StageMapPreview:
		return l.MapPreviewStatus
	}
	return ""
}
