// Package exporter renders recordings as resampled tabular files.
package exporter

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"telemetry-pipeline/core/models"
	"telemetry-pipeline/core/reader"
	"telemetry-pipeline/core/resample"
)

// DefaultResampleHz is used when a job does not specify a rate.
const DefaultResampleHz = 20.0

// Converter turns one recording into one output file in the requested
// format.
type Converter struct {
	reader reader.Reader
}

// NewConverter creates a converter backed by the given log reader.
func NewConverter(r reader.Reader) *Converter {
	return &Converter{reader: r}
}

// Convert decodes srcPath, resamples every channel onto a common fixed
// timebase and writes outPath in the requested format.
func (c *Converter) Convert(srcPath, outPath string, format models.ExportFormat, hz float64) error {
	if !format.Valid() {
		return fmt.Errorf("invalid format %q: must be one of omni, tvn, ld", format)
	}
	if hz <= 0 {
		return fmt.Errorf("resample rate must be greater than 0, got %g", hz)
	}

	var records []models.LogRecord
	var topics []string
	seen := make(map[string]bool)

	err := c.reader.Records(srcPath, "", func(rec models.LogRecord) error {
		if !seen[rec.Channel] {
			seen[rec.Channel] = true
			topics = append(topics, rec.Channel)
		}
		records = append(records, rec)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to decode %s: %w", filepath.Base(srcPath), err)
	}

	groups := resample.Group(records)
	samples := resample.Resample(groups, hz)

	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return err
	}

	switch format {
	case models.FormatOmni:
		return writeWide(outPath, samples, topics)
	case models.FormatTVN:
		return writeLong(outPath, samples, topics)
	default:
		return writeLDPlaceholder(outPath, samples, topics, len(records), hz)
	}
}

// writeWide emits one row per timestamp with one column per channel,
// empty where a channel has no value yet.
func writeWide(outPath string, samples []resample.Sample, topics []string) error {
	f, err := os.Create(outPath)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	header := append([]string{"Time"}, topics...)
	if err := w.Write(header); err != nil {
		return err
	}

	row := make([]string, len(topics)+1)
	for _, s := range samples {
		row[0] = strconv.FormatInt(s.Timestamp, 10)
		for i, topic := range topics {
			row[i+1] = s.Values[topic]
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

// writeLong emits one Time,Name,Value row per channel present at each
// resampled timestamp.
func writeLong(outPath string, samples []resample.Sample, topics []string) error {
	f, err := os.Create(outPath)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"Time", "Name", "Value"}); err != nil {
		return err
	}

	for _, s := range samples {
		ts := strconv.FormatInt(s.Timestamp, 10)
		for _, topic := range topics {
			if v, ok := s.Values[topic]; ok {
				if err := w.Write([]string{ts, topic, v}); err != nil {
					return err
				}
			}
		}
	}
	w.Flush()
	return w.Error()
}

// writeLDPlaceholder emits descriptive metadata only. The LD binary
// format is deliberately not implemented.
func writeLDPlaceholder(outPath string, samples []resample.Sample, topics []string, sourcePoints int, hz float64) error {
	var b strings.Builder
	b.WriteString("# LD Format (placeholder)\n")
	b.WriteString("# This format is not yet fully implemented\n")
	fmt.Fprintf(&b, "# Requested resample_hz: %g\n", hz)
	fmt.Fprintf(&b, "# Source points: %d\n", sourcePoints)
	fmt.Fprintf(&b, "# Resampled points: %d\n", len(samples))
	fmt.Fprintf(&b, "# Topics: %d\n", len(topics))
	fmt.Fprintf(&b, "# Topic names: %s\n", strings.Join(topics, ", "))
	return os.WriteFile(outPath, []byte(b.String()), 0o644)
}
