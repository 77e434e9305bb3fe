// Package resample converts unordered multi-channel samples into a
// fixed-interval, forward-filled common timebase.
package resample

import (
	"math"
	"sort"

	"telemetry-pipeline/core/models"
)

// Sample is one resampled row: a grid timestamp and the latest known
// value per channel at that instant.
type Sample struct {
	Timestamp int64
	Values    map[string]string
}

// Group merges records by exact timestamp into per-channel value maps.
// Within one timestamp the last record per channel wins.
func Group(records []models.LogRecord) map[int64]map[string]string {
	groups := make(map[int64]map[string]string)
	for _, rec := range records {
		g, ok := groups[rec.Timestamp]
		if !ok {
			g = make(map[string]string)
			groups[rec.Timestamp] = g
		}
		g[rec.Channel] = rec.Value.String()
	}
	return groups
}

// Resample walks grouped samples on a fixed grid derived from hz,
// carrying every channel's latest value forward (zero-order hold). The
// output always starts at the source's first timestamp and ends exactly
// at its last, regardless of grid alignment. A single distinct source
// timestamp yields exactly that one sample.
func Resample(groups map[int64]map[string]string, hz float64) []Sample {
	if len(groups) == 0 {
		return nil
	}

	timestamps := make([]int64, 0, len(groups))
	for ts := range groups {
		timestamps = append(timestamps, ts)
	}
	sort.Slice(timestamps, func(i, j int) bool { return timestamps[i] < timestamps[j] })

	if len(timestamps) == 1 {
		ts := timestamps[0]
		return []Sample{{Timestamp: ts, Values: copyValues(groups[ts])}}
	}

	start := timestamps[0]
	end := timestamps[len(timestamps)-1]

	// Clamp the step while still in float space: a step beyond the
	// source span degenerates to start plus forced end, and converting
	// an out-of-range float to int64 is unspecified.
	var step int64
	switch s := math.Round(1e9 / hz); {
	case s >= float64(end-start):
		step = end - start
	case s < 1:
		step = 1
	default:
		step = int64(s)
	}

	var out []Sample
	current := make(map[string]string)
	srcIdx := 0

	for cursor := start; cursor <= end; cursor += step {
		for srcIdx < len(timestamps) && timestamps[srcIdx] <= cursor {
			for ch, v := range groups[timestamps[srcIdx]] {
				current[ch] = v
			}
			srcIdx++
		}
		out = append(out, Sample{Timestamp: cursor, Values: copyValues(current)})
	}

	// Force a final sample on the true last timestamp when the grid
	// overshot it.
	if out[len(out)-1].Timestamp != end {
		for srcIdx < len(timestamps) {
			for ch, v := range groups[timestamps[srcIdx]] {
				current[ch] = v
			}
			srcIdx++
		}
		out = append(out, Sample{Timestamp: end, Values: copyValues(current)})
	}

	return out
}

func copyValues(src map[string]string) map[string]string {
	dst := make(map[string]string, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
