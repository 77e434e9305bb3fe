package models

import (
	"fmt"
	"strings"
	"time"
)

// ExportFormat selects the output produced for each log in an export.
type ExportFormat string

const (
	// FormatOmni is the wide CSV layout: one row per timestamp, one
	// column per channel.
	FormatOmni ExportFormat = "omni"
	// FormatTVN is the long CSV layout: one Time,Name,Value row per
	// channel sample.
	FormatTVN ExportFormat = "tvn"
	// FormatLD is a placeholder that only emits descriptive metadata.
	// The real LD writer is intentionally not implemented.
	FormatLD ExportFormat = "ld"
)

// ParseFormat normalizes a requested format name, accepting the legacy
// "csv_" prefix.
func ParseFormat(s string) (ExportFormat, error) {
	f := ExportFormat(strings.TrimPrefix(s, "csv_"))
	if !f.Valid() {
		return "", fmt.Errorf("invalid format %q: must be one of omni, tvn, ld", s)
	}
	return f, nil
}

// Valid reports whether the format is one of the supported profiles.
func (f ExportFormat) Valid() bool {
	return f == FormatOmni || f == FormatTVN || f == FormatLD
}

// Extension returns the output file extension for the format.
func (f ExportFormat) Extension() string {
	if f == FormatLD {
		return "ld"
	}
	return "csv"
}

// ExportStatus represents the lifecycle of an export job or item.
type ExportStatus string

const (
	ExportPending             ExportStatus = "pending"
	ExportProcessing          ExportStatus = "processing"
	ExportCompleted           ExportStatus = "completed"
	ExportCompletedWithErrors ExportStatus = "completed_with_errors"
	ExportFailed              ExportStatus = "failed"
)

// Terminal reports whether the status is an end state.
func (s ExportStatus) Terminal() bool {
	return s == ExportCompleted || s == ExportCompletedWithErrors || s == ExportFailed
}

// ExportJob represents one bulk-export request. A job owns one
// ExportItem per requested log and only reaches a terminal status after
// every item has.
type ExportJob struct {
	ID           int64
	Format       ExportFormat
	ResampleHz   float64
	Status       ExportStatus
	RequestedIDs []int64
	ArchiveURI   string
	ErrorMessage string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	CompletedAt  *time.Time
}

// ExportItem is the per-log unit of an export job, unique per
// (job, log) pair.
type ExportItem struct {
	ID           int64
	JobID        int64
	LogID        int64
	Status       ExportStatus
	OutputURI    string
	ErrorMessage string
	Attempts     int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
