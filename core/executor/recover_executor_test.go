package executor

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mcap")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRecoverSuccess(t *testing.T) {
	// Stand-in tool: copy the input ($2) to the -o destination ($4) and
	// report statistics like the real CLI.
	script := writeScript(t, "cp \"$2\" \"$4\"\necho \"Recovered 120 messages\"\n")

	dir := t.TempDir()
	in := filepath.Join(dir, "damaged.mcap")
	out := filepath.Join(dir, "out", "repaired.mcap")
	if err := os.WriteFile(in, []byte("payload"), 0o644); err != nil {
		t.Fatal(err)
	}

	r := NewRecoverer(script)
	diag, err := r.Recover(context.Background(), in, out)
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if !strings.Contains(diag, "Recovered 120 messages") {
		t.Errorf("diagnostics = %q", diag)
	}

	raw, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if string(raw) != "payload" {
		t.Errorf("output content = %q", raw)
	}
}

func TestRecoverToolFailure(t *testing.T) {
	script := writeScript(t, "echo \"chunk CRC mismatch\" >&2\nexit 1\n")

	dir := t.TempDir()
	in := filepath.Join(dir, "damaged.mcap")
	if err := os.WriteFile(in, []byte("payload"), 0o644); err != nil {
		t.Fatal(err)
	}

	r := NewRecoverer(script)
	_, err := r.Recover(context.Background(), in, filepath.Join(dir, "out.mcap"))
	if err == nil {
		t.Fatal("expected error from failing tool")
	}
	if !strings.Contains(err.Error(), "chunk CRC mismatch") {
		t.Errorf("error does not carry tool stderr: %v", err)
	}
}

func TestRecoverMissingCommand(t *testing.T) {
	r := NewRecoverer("definitely-not-a-real-binary")
	_, err := r.Recover(context.Background(), "in.mcap", filepath.Join(t.TempDir(), "out.mcap"))
	if err == nil {
		t.Fatal("expected error for missing command")
	}
	if !strings.Contains(err.Error(), "not found") {
		t.Errorf("error = %v", err)
	}
}

func TestRecoverMissingOutput(t *testing.T) {
	// Tool exits cleanly but never writes the output file.
	script := writeScript(t, "exit 0\n")

	dir := t.TempDir()
	in := filepath.Join(dir, "damaged.mcap")
	if err := os.WriteFile(in, []byte("payload"), 0o644); err != nil {
		t.Fatal(err)
	}

	r := NewRecoverer(script)
	_, err := r.Recover(context.Background(), in, filepath.Join(dir, "out.mcap"))
	if err == nil {
		t.Fatal("expected error when output is missing")
	}
	if !strings.Contains(err.Error(), "was not created") {
		t.Errorf("error = %v", err)
	}
}
