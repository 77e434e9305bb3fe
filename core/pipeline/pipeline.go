// Package pipeline drives the per-log derivation stages and the bulk
// export workflow. Each stage persists its own status and returns the
// next unit of work; the scheduler owns delivery and retries.
package pipeline

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"os"
	"time"

	"telemetry-pipeline/core/executor"
	"telemetry-pipeline/core/gps"
	"telemetry-pipeline/core/mapview"
	"telemetry-pipeline/core/models"
	"telemetry-pipeline/core/reader"
	"telemetry-pipeline/core/scheduler"
	"telemetry-pipeline/storage"
)

// Retry limits per stage. Early stages get a longer leash because the
// repair tool and summary parse dominate their failures.
var (
	stagePolicy      = scheduler.RetryPolicy{MaxAttempts: 3, Backoff: 60 * time.Second}
	mapPreviewPolicy = scheduler.RetryPolicy{MaxAttempts: 2, Backoff: 30 * time.Second}
)

// Pipeline executes the per-log stage chain
// recovery -> parse -> gps -> map_preview.
type Pipeline struct {
	logs      LogStore
	media     *storage.Media
	reader    reader.Reader
	recoverer *executor.Recoverer
	extractor *gps.Extractor
	renderer  *mapview.Renderer
	loc       *time.Location
}

// New creates a pipeline. loc controls how the capture timestamp is
// derived from the recording's epoch start time; nil means UTC.
func New(
	logs LogStore,
	media *storage.Media,
	r reader.Reader,
	recoverer *executor.Recoverer,
	extractor *gps.Extractor,
	renderer *mapview.Renderer,
	loc *time.Location,
) *Pipeline {
	if loc == nil {
		loc = time.UTC
	}
	return &Pipeline{
		logs:      logs,
		media:     media,
		reader:    r,
		recoverer: recoverer,
		extractor: extractor,
		renderer:  renderer,
		loc:       loc,
	}
}

// Register wires the stage handlers into the scheduler.
func (p *Pipeline) Register(s *scheduler.Scheduler) {
	s.Handle(scheduler.TaskRecover, p.HandleRecover, stagePolicy)
	s.Handle(scheduler.TaskParse, p.HandleParse, stagePolicy)
	s.Handle(scheduler.TaskExtractGPS, p.HandleExtractGPS, stagePolicy)
	s.Handle(scheduler.TaskMapPreview, p.HandleMapPreview, mapPreviewPolicy)
}

// StartTask builds the first task of the chain for a freshly
// registered log.
func StartTask(logID int64) scheduler.Task {
	t := scheduler.NewTask(scheduler.TaskRecover)
	t.LogID = logID
	return t
}

// HandleRecover repairs the original recording with the external tool
// and schedules parsing.
func (p *Pipeline) HandleRecover(ctx context.Context, task scheduler.Task) ([]scheduler.Task, error) {
	tlog, err := p.getLog(task.LogID)
	if err != nil {
		return nil, err
	}

	src := p.media.Resolve(tlog.OriginalURI)
	if src == "" || !fileExists(src) {
		msg := "recording file not found: " + src
		p.setStage(task.LogID, models.StageRecovery, models.StageFailed, msg)
		return nil, failf(FailureNotFound, "%s", msg)
	}

	p.setStage(task.LogID, models.StageRecovery, models.StageProcessing, "")

	outPath := p.media.RecoveredPath(tlog.FileName)
	diag, err := p.recoverer.Recover(ctx, src, outPath)
	if err != nil {
		classified := classifyExternal(err)
		p.setStage(task.LogID, models.StageRecovery, models.StageFailed, err.Error())
		return nil, classified
	}
	if diag != "" {
		log.Printf("Recovered log %d: %s", task.LogID, diag)
	}

	uri, err := p.media.URI(outPath)
	if err != nil {
		p.setStage(task.LogID, models.StageRecovery, models.StageFailed, err.Error())
		return nil, fail(FailureTool, err)
	}
	if err := p.logs.SetRecoveredURI(task.LogID, uri); err != nil {
		return nil, err
	}
	p.setStage(task.LogID, models.StageRecovery, models.StageCompleted, "")

	next := scheduler.NewTask(scheduler.TaskParse)
	next.LogID = task.LogID
	return []scheduler.Task{next}, nil
}

// HandleParse extracts channel and time metadata from the best
// available source file and schedules GPS extraction.
func (p *Pipeline) HandleParse(ctx context.Context, task scheduler.Task) ([]scheduler.Task, error) {
	tlog, err := p.getLog(task.LogID)
	if err != nil {
		return nil, err
	}

	src := resolveSource(p.media, tlog)
	if src == "" {
		msg := "no readable source file for parsing"
		p.failParse(task.LogID, msg)
		return nil, failf(FailureNotFound, "%s", msg)
	}

	p.setStage(task.LogID, models.StageParse, models.StageProcessing, "")

	summary, err := p.reader.Summary(src)
	if err != nil {
		p.failParse(task.LogID, err.Error())
		return nil, fail(FailureDecode, err)
	}

	startSec := float64(summary.StartTimeNS) / 1e9
	endSec := float64(summary.EndTimeNS) / 1e9
	duration := endSec - startSec

	var capturedAt *time.Time
	if summary.StartTimeNS > 0 {
		t := time.Unix(0, summary.StartTimeNS).In(p.loc)
		capturedAt = &t
	}

	// SetParseResults also resets gps and map_preview to pending, so a
	// re-parse restarts the downstream stages cleanly.
	if err := p.logs.SetParseResults(task.LogID, summary.Topics, startSec, endSec, duration, capturedAt); err != nil {
		return nil, err
	}

	next := scheduler.NewTask(scheduler.TaskExtractGPS)
	next.LogID = task.LogID
	return []scheduler.Task{next}, nil
}

// HandleExtractGPS derives the ordered path from the position topic. An
// empty or single-point path is a valid outcome, not an error: the gps
// stage completes and the map preview is skipped.
func (p *Pipeline) HandleExtractGPS(ctx context.Context, task scheduler.Task) ([]scheduler.Task, error) {
	tlog, err := p.getLog(task.LogID)
	if err != nil {
		return nil, err
	}

	src := resolveSource(p.media, tlog)
	if src == "" {
		msg := "no readable source file for gps extraction"
		p.setStage(task.LogID, models.StageGPS, models.StageFailed, msg)
		p.setStage(task.LogID, models.StageMapPreview, models.StageSkipped, "")
		return nil, failf(FailureNotFound, "%s", msg)
	}

	p.setStage(task.LogID, models.StageGPS, models.StageProcessing, "")

	res, err := p.extractor.Extract(src)
	if err != nil {
		p.setStage(task.LogID, models.StageGPS, models.StageFailed, err.Error())
		p.setStage(task.LogID, models.StageMapPreview, models.StageSkipped, "")
		return nil, fail(FailureDecode, err)
	}

	if len(res.Path) >= 2 {
		if err := p.logs.SetPath(task.LogID, res.Path); err != nil {
			return nil, err
		}
		p.setStage(task.LogID, models.StageGPS, models.StageCompleted, "")
		p.setStage(task.LogID, models.StageMapPreview, models.StagePending, "")

		next := scheduler.NewTask(scheduler.TaskMapPreview)
		next.LogID = task.LogID
		return []scheduler.Task{next}, nil
	}

	// No usable path. Clear any stale state and settle both stages.
	if err := p.logs.SetPath(task.LogID, nil); err != nil {
		log.Printf("Failed to clear path for log %d: %v", task.LogID, err)
	}
	if err := p.logs.SetMapPreviewURI(task.LogID, ""); err != nil {
		log.Printf("Failed to clear map preview for log %d: %v", task.LogID, err)
	}
	p.setStage(task.LogID, models.StageGPS, models.StageCompleted, "")
	p.setStage(task.LogID, models.StageMapPreview, models.StageSkipped, "")
	return nil, nil
}

// HandleMapPreview renders and persists the thumbnail. The preview is
// immutable once generated: an existing URI completes the stage without
// touching the artifact.
func (p *Pipeline) HandleMapPreview(ctx context.Context, task scheduler.Task) ([]scheduler.Task, error) {
	tlog, err := p.getLog(task.LogID)
	if err != nil {
		return nil, err
	}

	p.setStage(task.LogID, models.StageMapPreview, models.StageProcessing, "")

	if tlog.MapPreviewURI != "" {
		p.setStage(task.LogID, models.StageMapPreview, models.StageCompleted, "")
		return nil, nil
	}

	if len(tlog.Path) == 0 {
		p.setStage(task.LogID, models.StageMapPreview, models.StageSkipped, "")
		return nil, nil
	}

	svg, err := p.renderer.Render(ctx, tlog.Path)
	if err != nil {
		p.setStage(task.LogID, models.StageMapPreview, models.StageFailed, err.Error())
		return nil, fail(FailureValidation, err)
	}

	_, uri, err := p.media.WriteMapPreview(task.LogID, svg)
	if err != nil {
		p.setStage(task.LogID, models.StageMapPreview, models.StageFailed, err.Error())
		return nil, fail(FailureTool, err)
	}

	if err := p.logs.SetMapPreviewURI(task.LogID, uri); err != nil {
		return nil, err
	}
	p.setStage(task.LogID, models.StageMapPreview, models.StageCompleted, "")
	return nil, nil
}

// resolveSource prefers the repaired copy over the original when it
// exists and is readable.
func resolveSource(media *storage.Media, tlog *models.TelemetryLog) string {
	if tlog.RecoveredURI != "" {
		if path := media.Resolve(tlog.RecoveredURI); fileExists(path) {
			return path
		}
	}
	if tlog.OriginalURI != "" {
		if path := media.Resolve(tlog.OriginalURI); fileExists(path) {
			return path
		}
	}
	return ""
}

// failParse marks parse failed and settles the stages that can never
// run without parse output.
func (p *Pipeline) failParse(logID int64, msg string) {
	p.setStage(logID, models.StageParse, models.StageFailed, msg)
	p.setStage(logID, models.StageGPS, models.StageSkipped, "")
	p.setStage(logID, models.StageMapPreview, models.StageSkipped, "")
}

func (p *Pipeline) getLog(id int64) (*models.TelemetryLog, error) {
	tlog, err := p.logs.GetLog(id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, failf(FailureNotFound, "log %d does not exist", id)
	}
	if err != nil {
		return nil, err
	}
	return tlog, nil
}

func (p *Pipeline) setStage(id int64, stage models.Stage, status models.StageStatus, errMsg string) {
	if err := p.logs.SetStageStatus(id, stage, status, errMsg); err != nil {
		log.Printf("Failed to persist %s status for log %d: %v", stage, id, err)
	}
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
