// Package reader decodes telemetry recordings into channel summaries
// and per-field record streams.
package reader

import "telemetry-pipeline/core/models"

// Summary describes a recording without decoding its messages.
type Summary struct {
	Topics       []string
	MessageCount uint64
	StartTimeNS  int64
	EndTimeNS    int64
}

// Reader is the log-decoding interface the pipeline consumes. Records
// streams decoded samples for a single topic, or for every topic when
// topic is empty, invoking fn once per (timestamp, channel, value)
// triple in file order.
type Reader interface {
	Summary(path string) (*Summary, error)
	Records(path string, topic string, fn func(models.LogRecord) error) error
}
