package storage

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeAged(t *testing.T, path string, age time.Duration) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	old := time.Now().Add(-age)
	if err := os.Chtimes(path, old, old); err != nil {
		t.Fatal(err)
	}
}

func TestSweepRemovesExpiredArtifacts(t *testing.T) {
	root := t.TempDir()
	media := NewMedia(root, "/media")

	expired := filepath.Join(root, "converted", "1_omni_20250101_000000.csv")
	fresh := filepath.Join(root, "converted", "2_omni_20250801_000000.csv")
	expiredArchive := filepath.Join(root, "exports", "3", "bundle.zip")
	writeAged(t, expired, 48*time.Hour)
	writeAged(t, fresh, time.Hour)
	writeAged(t, expiredArchive, 48*time.Hour)

	r := NewRetention(media, 24*time.Hour)
	removed, err := r.Sweep()
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if removed != 2 {
		t.Errorf("removed = %d, want 2", removed)
	}

	if _, err := os.Stat(expired); !os.IsNotExist(err) {
		t.Error("expired conversion survived the sweep")
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Errorf("fresh conversion was removed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "exports", "3")); !os.IsNotExist(err) {
		t.Error("emptied export directory survived the sweep")
	}
}

func TestSweepIgnoresOtherAreas(t *testing.T) {
	root := t.TempDir()
	media := NewMedia(root, "/media")

	raw := filepath.Join(root, "logs", "raw", "session.mcap")
	preview := filepath.Join(root, "map_previews", "1.svg")
	writeAged(t, raw, 30*24*time.Hour)
	writeAged(t, preview, 30*24*time.Hour)

	r := NewRetention(media, 24*time.Hour)
	if _, err := r.Sweep(); err != nil {
		t.Fatalf("Sweep: %v", err)
	}

	for _, path := range []string{raw, preview} {
		if _, err := os.Stat(path); err != nil {
			t.Errorf("%s was removed by the sweep", path)
		}
	}
}

func TestSweepEmptyRoot(t *testing.T) {
	r := NewRetention(NewMedia(t.TempDir(), "/media"), 0)
	if _, err := r.Sweep(); err != nil {
		t.Fatalf("Sweep on empty root: %v", err)
	}
}
