// Package gps derives an ordered geographic path from a recording's
// position-report channel.
package gps

import (
	"fmt"

	"telemetry-pipeline/core/models"
	"telemetry-pipeline/core/reader"
)

// Default channel and field names for the position report topic.
const (
	DefaultTopic          = "evelogger_vectornav_position_data"
	DefaultLatitudeField  = "evelogger_vectornav_latitude"
	DefaultLongitudeField = "evelogger_vectornav_longitude"
)

// DefaultSampleStep keeps roughly one in ten valid fixes.
const DefaultSampleStep = 10

// Extractor reads position reports from a recording and produces a
// down-sampled path.
type Extractor struct {
	reader     reader.Reader
	topic      string
	latField   string
	lonField   string
	sampleStep int
}

// Result holds the extracted path plus the first valid fix, kept
// separately for single-point reporting.
type Result struct {
	Path       models.GeoPath
	FirstFix   *models.Coordinate
	ValidCount int
}

// NewExtractor creates an extractor with the default topic, fields and
// sample step.
func NewExtractor(r reader.Reader) *Extractor {
	return &Extractor{
		reader:     r,
		topic:      DefaultTopic,
		latField:   DefaultLatitudeField,
		lonField:   DefaultLongitudeField,
		sampleStep: DefaultSampleStep,
	}
}

// WithSampleStep overrides the down-sampling stride. Values below 1 are
// rejected.
func (e *Extractor) WithSampleStep(step int) (*Extractor, error) {
	if step < 1 {
		return nil, fmt.Errorf("sample step must be >= 1, got %d", step)
	}
	copied := *e
	copied.sampleStep = step
	return &copied, nil
}

// Extract walks the position topic of the recording at path and
// collects valid coordinates. A (0, 0) pair is a "no fix" sentinel and
// is discarded. The 0th valid point is always kept, then every
// sampleStep-th, and the true last valid point is always appended so
// the path ends at the recording's actual endpoint.
func (e *Extractor) Extract(path string) (*Result, error) {
	res := &Result{}

	// Records on the position topic carry latitude and longitude as
	// separate channels sharing a timestamp; pair them up as they
	// arrive.
	var pendingLat, pendingLon *float64
	var pendingTS int64

	var lastValid *models.Coordinate
	lastKeptIndex := -1

	flush := func() {
		if pendingLat == nil || pendingLon == nil {
			return
		}
		lat, lon := *pendingLat, *pendingLon
		pendingLat, pendingLon = nil, nil

		if lat == 0.0 && lon == 0.0 {
			return
		}

		coord := models.Coordinate{Lon: lon, Lat: lat}
		if res.FirstFix == nil {
			first := coord
			res.FirstFix = &first
		}

		idx := res.ValidCount
		res.ValidCount++
		lastValid = &coord

		if idx%e.sampleStep == 0 {
			res.Path = append(res.Path, coord)
			lastKeptIndex = idx
		}
	}

	err := e.reader.Records(path, e.topic, func(rec models.LogRecord) error {
		switch rec.Channel {
		case e.latField, e.lonField:
		default:
			return nil
		}

		v, ok := rec.Value.AsFloat()
		if !ok {
			return nil
		}

		if pendingTS != rec.Timestamp {
			flush()
			pendingTS = rec.Timestamp
			pendingLat, pendingLon = nil, nil
		}
		if rec.Channel == e.latField {
			pendingLat = &v
		} else {
			pendingLon = &v
		}
		if pendingLat != nil && pendingLon != nil {
			flush()
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read position topic: %w", err)
	}
	flush()

	// Force the true last valid point even when the stride skipped it.
	if lastValid != nil && lastKeptIndex != res.ValidCount-1 {
		res.Path = append(res.Path, *lastValid)
	}

	return res, nil
}
