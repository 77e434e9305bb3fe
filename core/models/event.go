package models

import "time"

// StageEvent records one stage status transition of a log, forming the
// processing audit trail.
type StageEvent struct {
	ID      int64
	LogID   int64
	Stage   Stage
	Status  StageStatus
	Message string
	At      time.Time
}
