package pipeline

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"time"

	"telemetry-pipeline/core/exporter"
	"telemetry-pipeline/core/models"
	"telemetry-pipeline/core/scheduler"
	"telemetry-pipeline/storage"
)

var (
	startExportPolicy = scheduler.RetryPolicy{MaxAttempts: 2, Backoff: 30 * time.Second}
	convertItemPolicy = scheduler.RetryPolicy{MaxAttempts: 2, Backoff: 30 * time.Second}
	finalizePolicy    = scheduler.RetryPolicy{MaxAttempts: 2, Backoff: 30 * time.Second}
	convertLogPolicy  = scheduler.RetryPolicy{MaxAttempts: 3, Backoff: 60 * time.Second}
)

// ExportWorkflow fans an export job out into one conversion task per
// requested log and joins on completion to bundle the outputs.
type ExportWorkflow struct {
	exports   ExportStore
	logs      LogStore
	media     *storage.Media
	converter *exporter.Converter
	barrier   *scheduler.Barrier
}

// NewExportWorkflow creates the workflow.
func NewExportWorkflow(exports ExportStore, logs LogStore, media *storage.Media, converter *exporter.Converter) *ExportWorkflow {
	return &ExportWorkflow{
		exports:   exports,
		logs:      logs,
		media:     media,
		converter: converter,
		barrier:   scheduler.NewBarrier(),
	}
}

// Register wires the workflow handlers into the scheduler. Item and
// finalize kinds install terminal hooks so the join fires on failures
// too and a dead finalize still settles the job.
func (w *ExportWorkflow) Register(s *scheduler.Scheduler) {
	s.HandleWithTerminal(scheduler.TaskStartExport, w.HandleStart, startExportPolicy, w.jobTerminal)
	s.HandleWithTerminal(scheduler.TaskConvertItem, w.HandleConvertItem, convertItemPolicy, w.itemTerminal)
	s.HandleWithTerminal(scheduler.TaskFinalizeJob, w.HandleFinalize, finalizePolicy, w.jobTerminal)
	s.Handle(scheduler.TaskConvertLog, w.HandleConvertLog, convertLogPolicy)
}

// ExportStartTask builds the fan-out trigger for a freshly created job.
func ExportStartTask(jobID int64) scheduler.Task {
	t := scheduler.NewTask(scheduler.TaskStartExport)
	t.JobID = jobID
	return t
}

// ConvertLogTask builds a standalone single-log conversion task.
func ConvertLogTask(logID int64, format models.ExportFormat) scheduler.Task {
	t := scheduler.NewTask(scheduler.TaskConvertLog)
	t.LogID = logID
	t.Format = string(format)
	return t
}

// HandleStart fans the job out: one conversion task per item, all
// scheduled concurrently, with the join barrier registered first.
func (w *ExportWorkflow) HandleStart(ctx context.Context, task scheduler.Task) ([]scheduler.Task, error) {
	job, err := w.getJob(task.JobID)
	if err != nil {
		return nil, err
	}

	items, err := w.exports.GetJobItems(job.ID)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		w.setJobStatus(job.ID, models.ExportFailed, "No items found for export job")
		return nil, failf(FailureValidation, "export job %d has no items", job.ID)
	}

	w.barrier.Register(job.ID, len(items))
	w.setJobStatus(job.ID, models.ExportProcessing, "")

	tasks := make([]scheduler.Task, 0, len(items))
	for _, item := range items {
		t := scheduler.NewTask(scheduler.TaskConvertItem)
		t.JobID = job.ID
		t.ItemID = item.ID
		t.LogID = item.LogID
		tasks = append(tasks, t)
	}
	return tasks, nil
}

// HandleConvertItem converts one log and arrives at the job's barrier
// on success; the last arrival returns the finalize task.
func (w *ExportWorkflow) HandleConvertItem(ctx context.Context, task scheduler.Task) ([]scheduler.Task, error) {
	item, err := w.exports.GetItem(task.ItemID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, failf(FailureNotFound, "export item %d does not exist", task.ItemID)
	}
	if err != nil {
		return nil, err
	}

	if err := w.exports.MarkItemProcessing(item.ID); err != nil {
		return nil, err
	}

	job, err := w.getJob(item.JobID)
	if err != nil {
		return nil, err
	}
	tlog, err := w.getLogForExport(item.LogID)
	if err != nil {
		w.exports.MarkItemFailed(item.ID, err.Error())
		return nil, err
	}

	src := resolveSource(w.media, tlog)
	if src == "" {
		msg := fmt.Sprintf("source file not found for log %d", tlog.ID)
		w.exports.MarkItemFailed(item.ID, msg)
		return nil, failf(FailureNotFound, "%s", msg)
	}

	outPath := w.media.ExportItemPath(job.ID, tlog.ID, job.Format)
	if err := w.converter.Convert(src, outPath, job.Format, job.ResampleHz); err != nil {
		w.exports.MarkItemFailed(item.ID, err.Error())
		return nil, fail(FailureDecode, err)
	}

	uri, err := w.media.URI(outPath)
	if err != nil {
		w.exports.MarkItemFailed(item.ID, err.Error())
		return nil, fail(FailureTool, err)
	}
	if err := w.exports.MarkItemCompleted(item.ID, uri); err != nil {
		return nil, err
	}

	return w.arrive(job.ID), nil
}

// itemTerminal joins failed items into the barrier after their last
// attempt. The handler may have died before writing the item row (a
// store error on lookup or status update), so the failure is persisted
// here too; the job must never settle over a non-terminal item.
func (w *ExportWorkflow) itemTerminal(task scheduler.Task, cause error) []scheduler.Task {
	if err := w.exports.MarkItemFailed(task.ItemID, cause.Error()); err != nil {
		log.Printf("Failed to persist failure for export item %d: %v", task.ItemID, err)
	}
	return w.arrive(task.JobID)
}

func (w *ExportWorkflow) arrive(jobID int64) []scheduler.Task {
	if !w.barrier.Arrive(jobID) {
		return nil
	}
	t := scheduler.NewTask(scheduler.TaskFinalizeJob)
	t.JobID = jobID
	return []scheduler.Task{t}
}

// HandleFinalize joins the fan-out: bundles every successful output
// into one archive and settles the job status.
func (w *ExportWorkflow) HandleFinalize(ctx context.Context, task scheduler.Task) ([]scheduler.Task, error) {
	job, err := w.getJob(task.JobID)
	if err != nil {
		return nil, err
	}

	items, err := w.exports.GetJobItems(job.ID)
	if err != nil {
		return nil, err
	}

	// Anything not completed with an output counts as failed, including
	// items left non-terminal by a store error along the way.
	var completed, failed []*models.ExportItem
	for _, item := range items {
		if item.Status == models.ExportCompleted && item.OutputURI != "" {
			completed = append(completed, item)
		} else {
			failed = append(failed, item)
		}
	}

	if len(completed) == 0 {
		w.setJobStatus(job.ID, models.ExportFailed, "No files were converted successfully")
		return nil, nil
	}

	entries := make([]storage.ArchiveEntry, 0, len(completed))
	for _, item := range completed {
		tlog, err := w.getLogForExport(item.LogID)
		if err != nil {
			continue
		}
		stem := strings.TrimSuffix(tlog.FileName, filepath.Ext(tlog.FileName))
		entries = append(entries, storage.ArchiveEntry{
			SourcePath: w.media.Resolve(item.OutputURI),
			Name:       fmt.Sprintf("%s_%s.%s", stem, job.Format, job.Format.Extension()),
		})
	}

	archivePath := w.media.ArchivePath(job.ID)
	if err := w.media.WriteArchive(archivePath, entries); err != nil {
		return nil, fmt.Errorf("failed to write archive for job %d: %w", job.ID, err)
	}

	uri, err := w.media.URI(archivePath)
	if err != nil {
		return nil, err
	}

	status := models.ExportCompleted
	msg := ""
	if len(failed) > 0 {
		status = models.ExportCompletedWithErrors
		msg = fmt.Sprintf("%d item(s) failed", len(failed))
	}
	if err := w.exports.SetJobArchive(job.ID, uri, status, msg); err != nil {
		return nil, err
	}
	return nil, nil
}

// jobTerminal marks the job failed after the last attempt of the
// fan-out or join step.
func (w *ExportWorkflow) jobTerminal(task scheduler.Task, err error) []scheduler.Task {
	w.setJobStatus(task.JobID, models.ExportFailed, err.Error())
	return nil
}

// HandleConvertLog runs a standalone conversion of one log outside any
// export job, writing a timestamped file under the converted area.
func (w *ExportWorkflow) HandleConvertLog(ctx context.Context, task scheduler.Task) ([]scheduler.Task, error) {
	format, err := models.ParseFormat(task.Format)
	if err != nil {
		return nil, failf(FailureValidation, "%v", err)
	}

	tlog, err := w.getLogForExport(task.LogID)
	if err != nil {
		return nil, err
	}
	src := resolveSource(w.media, tlog)
	if src == "" {
		return nil, failf(FailureNotFound, "source file not found for log %d", tlog.ID)
	}

	outPath := w.media.ConvertedPath(tlog.ID, format, time.Now())
	if err := w.converter.Convert(src, outPath, format, exporter.DefaultResampleHz); err != nil {
		return nil, fail(FailureDecode, err)
	}
	log.Printf("Converted log %d to %s: %s", tlog.ID, format, outPath)
	return nil, nil
}

func (w *ExportWorkflow) getJob(id int64) (*models.ExportJob, error) {
	job, err := w.exports.GetJob(id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, failf(FailureNotFound, "export job %d does not exist", id)
	}
	if err != nil {
		return nil, err
	}
	return job, nil
}

func (w *ExportWorkflow) getLogForExport(id int64) (*models.TelemetryLog, error) {
	tlog, err := w.logs.GetLog(id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, failf(FailureNotFound, "log %d does not exist", id)
	}
	if err != nil {
		return nil, err
	}
	return tlog, nil
}

func (w *ExportWorkflow) setJobStatus(id int64, status models.ExportStatus, msg string) {
	if err := w.exports.SetJobStatus(id, status, msg); err != nil {
		log.Printf("Failed to persist status for export job %d: %v", id, err)
	}
}
