// Package executor invokes the external log-repair tool.
package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// RecoverTimeout bounds one repair-tool invocation.
const RecoverTimeout = 5 * time.Minute

// Recoverer runs the repair tool (`mcap recover`) against a damaged
// recording.
type Recoverer struct {
	command string
	timeout time.Duration
}

// NewRecoverer creates a recoverer wrapping the named CLI binary.
func NewRecoverer(command string) *Recoverer {
	return &Recoverer{command: command, timeout: RecoverTimeout}
}

// Recover repairs inputPath into outputPath. The tool's diagnostic text
// is returned on success; the mcap CLI reports recovery statistics on
// either stdout or stderr.
func (r *Recoverer) Recover(ctx context.Context, inputPath, outputPath string) (string, error) {
	cmd, err := exec.LookPath(r.command)
	if err != nil {
		return "", fmt.Errorf("%s command not found in PATH: %w", r.command, err)
	}

	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return "", err
	}

	runCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	proc := exec.CommandContext(runCtx, cmd, "recover", inputPath, "-o", outputPath)
	proc.Stdout = &stdout
	proc.Stderr = &stderr

	if err := proc.Run(); err != nil {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("recover timed out after %v: %w", r.timeout, context.DeadlineExceeded)
		}
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = strings.TrimSpace(stdout.String())
		}
		if msg == "" {
			msg = "unknown error"
		}
		return "", fmt.Errorf("%s recover failed: %s", r.command, msg)
	}

	if _, err := os.Stat(outputPath); err != nil {
		return "", fmt.Errorf("recovered file was not created: %s", outputPath)
	}

	diag := strings.TrimSpace(stdout.String())
	if diag == "" {
		diag = strings.TrimSpace(stderr.String())
	}
	return diag, nil
}
