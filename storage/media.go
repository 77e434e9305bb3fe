// Package storage lays out the media root holding recordings and every
// derived artifact, and writes export archives.
package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/zip"

	"telemetry-pipeline/core/models"
)

// Media resolves between public URIs and filesystem paths under a
// single media root.
type Media struct {
	root    string
	baseURL string
}

// NewMedia creates a media layout rooted at root, served under baseURL.
func NewMedia(root, baseURL string) *Media {
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	return &Media{root: root, baseURL: baseURL}
}

// Resolve maps a stored URI (or a relative path) to an absolute
// filesystem path.
func (m *Media) Resolve(uri string) string {
	switch {
	case uri == "":
		return ""
	case strings.HasPrefix(uri, m.baseURL):
		return filepath.Join(m.root, strings.TrimPrefix(uri, m.baseURL))
	case filepath.IsAbs(uri):
		return uri
	default:
		return filepath.Join(m.root, uri)
	}
}

// URI maps an absolute path under the media root back to its public
// URI.
func (m *Media) URI(path string) (string, error) {
	rel, err := filepath.Rel(m.root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("path %s is outside the media root", path)
	}
	return m.baseURL + filepath.ToSlash(rel), nil
}

// RecoveredPath returns the destination for a repaired copy of the
// named recording.
func (m *Media) RecoveredPath(fileName string) string {
	ext := filepath.Ext(fileName)
	stem := strings.TrimSuffix(filepath.Base(fileName), ext)
	return filepath.Join(m.root, "logs", "recovered", stem+"-recovered"+ext)
}

// MapPreviewPath returns the stable per-log location of the preview
// thumbnail.
func (m *Media) MapPreviewPath(logID int64) string {
	return filepath.Join(m.root, "map_previews", fmt.Sprintf("%d.svg", logID))
}

// ExportItemPath returns the per-item output location inside a job's
// export directory.
func (m *Media) ExportItemPath(jobID, logID int64, format models.ExportFormat) string {
	name := fmt.Sprintf("%d_%s.%s", logID, format, format.Extension())
	return filepath.Join(m.root, "exports", fmt.Sprintf("%d", jobID), name)
}

// ArchivePath returns the location of a job's bundled archive.
func (m *Media) ArchivePath(jobID int64) string {
	return filepath.Join(m.root, "exports", fmt.Sprintf("%d", jobID), "bundle.zip")
}

// ConvertedPath returns a timestamped location for a standalone
// conversion of one log.
func (m *Media) ConvertedPath(logID int64, format models.ExportFormat, at time.Time) string {
	name := fmt.Sprintf("%d_%s_%s.%s", logID, format, at.Format("20060102_150405"), format.Extension())
	return filepath.Join(m.root, "converted", name)
}

// WriteMapPreview persists the SVG document for a log and returns its
// path and public URI.
func (m *Media) WriteMapPreview(logID int64, svg string) (string, string, error) {
	path := m.MapPreviewPath(logID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", "", err
	}
	if err := os.WriteFile(path, []byte(svg), 0o644); err != nil {
		return "", "", err
	}
	uri, err := m.URI(path)
	if err != nil {
		return "", "", err
	}
	return path, uri, nil
}

// ArchiveEntry names one file to include in an export archive.
type ArchiveEntry struct {
	SourcePath string
	Name       string
}

// WriteArchive bundles the entries into a deflate-compressed zip at
// archivePath. Entries whose source file is missing are skipped.
func (m *Media) WriteArchive(archivePath string, entries []ArchiveEntry) error {
	if err := os.MkdirAll(filepath.Dir(archivePath), 0o755); err != nil {
		return err
	}
	f, err := os.Create(archivePath)
	if err != nil {
		return err
	}
	defer f.Close()

	zw := zip.NewWriter(f)
	for _, entry := range entries {
		src, err := os.Open(entry.SourcePath)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			zw.Close()
			return err
		}
		w, err := zw.Create(entry.Name)
		if err != nil {
			src.Close()
			zw.Close()
			return err
		}
		if _, err := io.Copy(w, src); err != nil {
			src.Close()
			zw.Close()
			return err
		}
		src.Close()
	}
	return zw.Close()
}
