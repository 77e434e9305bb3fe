package storage

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"time"
)

// DefaultRetention keeps standalone conversions and export bundles for
// two weeks before they are swept.
const DefaultRetention = 14 * 24 * time.Hour

// Retention removes aged derived artifacts from the media root. Raw and
// recovered recordings and map previews are never touched.
type Retention struct {
	media    *Media
	maxAge   time.Duration
	interval time.Duration
}

// NewRetention creates a sweeper over the given media layout.
func NewRetention(media *Media, maxAge time.Duration) *Retention {
	if maxAge <= 0 {
		maxAge = DefaultRetention
	}
	return &Retention{
		media:    media,
		maxAge:   maxAge,
		interval: 6 * time.Hour,
	}
}

// Start runs periodic sweeps until the context is cancelled.
func (r *Retention) Start(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := r.Sweep()
			if err != nil {
				log.Printf("Retention sweep failed: %v", err)
			} else if removed > 0 {
				log.Printf("Retention sweep removed %d expired artifact(s)", removed)
			}
		}
	}
}

// Sweep deletes expired files under the converted and exports areas and
// returns how many were removed.
func (r *Retention) Sweep() (int, error) {
	cutoff := time.Now().Add(-r.maxAge)
	removed := 0

	for _, area := range []string{"converted", "exports"} {
		root := filepath.Join(r.media.root, area)
		if _, err := os.Stat(root); os.IsNotExist(err) {
			continue
		}

		err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
			if err != nil || info.IsDir() {
				return err
			}
			if info.ModTime().Before(cutoff) {
				if err := os.Remove(path); err != nil {
					log.Printf("Failed to remove expired artifact %s: %v", path, err)
					return nil
				}
				removed++
			}
			return nil
		})
		if err != nil {
			return removed, err
		}
	}

	// Drop export directories left empty by the sweep.
	exportsRoot := filepath.Join(r.media.root, "exports")
	if dirs, err := os.ReadDir(exportsRoot); err == nil {
		for _, d := range dirs {
			if d.IsDir() {
				// Remove fails on non-empty directories, which is the point.
				os.Remove(filepath.Join(exportsRoot, d.Name()))
			}
		}
	}

	return removed, nil
}
