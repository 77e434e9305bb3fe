package pipeline

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/klauspost/compress/zip"

	"telemetry-pipeline/core/exporter"
	"telemetry-pipeline/core/models"
	"telemetry-pipeline/core/scheduler"
	"telemetry-pipeline/storage"
)

type fakeExportStore struct {
	mu    sync.Mutex
	jobs  map[int64]*models.ExportJob
	items map[int64]*models.ExportItem
}

func newFakeExportStore(job *models.ExportJob, items ...*models.ExportItem) *fakeExportStore {
	s := &fakeExportStore{
		jobs:  make(map[int64]*models.ExportJob),
		items: make(map[int64]*models.ExportItem),
	}
	if job != nil {
		copied := *job
		s.jobs[job.ID] = &copied
	}
	for _, item := range items {
		copied := *item
		s.items[item.ID] = &copied
	}
	return s
}

func (s *fakeExportStore) GetJob(id int64) (*models.ExportJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *job
	return &copied, nil
}

func (s *fakeExportStore) SetJobStatus(id int64, status models.ExportStatus, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return sql.ErrNoRows
	}
	job.Status, job.ErrorMessage = status, errMsg
	return nil
}

func (s *fakeExportStore) SetJobArchive(id int64, archiveURI string, status models.ExportStatus, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return sql.ErrNoRows
	}
	job.ArchiveURI, job.Status, job.ErrorMessage = archiveURI, status, errMsg
	return nil
}

func (s *fakeExportStore) GetItem(id int64) (*models.ExportItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *item
	return &copied, nil
}

func (s *fakeExportStore) GetJobItems(jobID int64) ([]*models.ExportItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.ExportItem
	for _, item := range s.items {
		if item.JobID == jobID {
			copied := *item
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (s *fakeExportStore) MarkItemProcessing(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	if !ok {
		return sql.ErrNoRows
	}
	item.Status, item.ErrorMessage = models.ExportProcessing, ""
	item.Attempts++
	return nil
}

func (s *fakeExportStore) MarkItemCompleted(id int64, outputURI string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	if !ok {
		return sql.ErrNoRows
	}
	item.Status, item.OutputURI, item.ErrorMessage = models.ExportCompleted, outputURI, ""
	return nil
}

func (s *fakeExportStore) MarkItemFailed(id int64, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	if !ok {
		return sql.ErrNoRows
	}
	item.Status, item.ErrorMessage = models.ExportFailed, errMsg
	return nil
}

type exportFixture struct {
	workflow *ExportWorkflow
	exports  *fakeExportStore
	logs     *fakeLogStore
	media    *storage.Media
	root     string
}

// newExportFixture builds a workflow over a job with one item per log.
// Each log gets a real source file so conversion can run end to end.
func newExportFixture(t *testing.T, format models.ExportFormat, logIDs []int64) *exportFixture {
	t.Helper()
	root := t.TempDir()
	media := storage.NewMedia(root, "/media")

	job := &models.ExportJob{ID: 1, Format: format, ResampleHz: 10, Status: models.ExportPending, RequestedIDs: logIDs}
	var items []*models.ExportItem
	var tlogs []*models.TelemetryLog
	for i, logID := range logIDs {
		items = append(items, &models.ExportItem{ID: int64(i + 1), JobID: 1, LogID: logID, Status: models.ExportPending})

		name := fmt.Sprintf("log%d.mcap", logID)
		path := filepath.Join(root, "logs", "raw", name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte("mcap"), 0o644); err != nil {
			t.Fatal(err)
		}
		uri, err := media.URI(path)
		if err != nil {
			t.Fatal(err)
		}
		tlogs = append(tlogs, &models.TelemetryLog{ID: logID, FileName: name, OriginalURI: uri})
	}

	exports := newFakeExportStore(job, items...)
	logs := newFakeLogStore(tlogs...)
	rdr := &fakeRecordingReader{records: []models.LogRecord{
		{Timestamp: 0, Channel: "speed", Value: models.FloatValue(10)},
		{Timestamp: 1e9, Channel: "speed", Value: models.FloatValue(20)},
	}}

	w := NewExportWorkflow(exports, logs, media, exporter.NewConverter(rdr))
	return &exportFixture{workflow: w, exports: exports, logs: logs, media: media, root: root}
}

func TestHandleStartFansOut(t *testing.T) {
	fx := newExportFixture(t, models.FormatOmni, []int64{10, 11, 12})

	next, err := fx.workflow.HandleStart(context.Background(), ExportStartTask(1))
	if err != nil {
		t.Fatalf("HandleStart: %v", err)
	}
	if len(next) != 3 {
		t.Fatalf("fan-out produced %d tasks, want 3", len(next))
	}
	for _, task := range next {
		if task.Kind != scheduler.TaskConvertItem || task.JobID != 1 {
			t.Errorf("unexpected fan-out task %+v", task)
		}
	}

	job, _ := fx.exports.GetJob(1)
	if job.Status != models.ExportProcessing {
		t.Errorf("job status = %s, want processing", job.Status)
	}
}

func TestHandleStartEmptyJob(t *testing.T) {
	exports := newFakeExportStore(&models.ExportJob{ID: 1, Format: models.FormatOmni, Status: models.ExportPending})
	logs := newFakeLogStore()
	media := storage.NewMedia(t.TempDir(), "/media")
	w := NewExportWorkflow(exports, logs, media, exporter.NewConverter(&fakeRecordingReader{}))

	_, err := w.HandleStart(context.Background(), ExportStartTask(1))
	var perm *scheduler.PermanentError
	if !errors.As(err, &perm) {
		t.Errorf("empty job should fail permanently, got %v", err)
	}

	job, _ := exports.GetJob(1)
	if job.Status != models.ExportFailed {
		t.Errorf("job status = %s, want failed", job.Status)
	}
}

// runJob drives the fan-out and every item by hand, then the finalize
// task the last arrival returns.
func runJob(t *testing.T, fx *exportFixture, failItems map[int64]bool) {
	t.Helper()
	ctx := context.Background()

	fanout, err := fx.workflow.HandleStart(ctx, ExportStartTask(1))
	if err != nil {
		t.Fatalf("HandleStart: %v", err)
	}

	var finalize []scheduler.Task
	for _, task := range fanout {
		if failItems[task.ItemID] {
			// Simulate a conversion failure by removing the source file.
			tlog, _ := fx.logs.GetLog(task.LogID)
			os.Remove(fx.media.Resolve(tlog.OriginalURI))
		}
		next, err := fx.workflow.HandleConvertItem(ctx, task)
		if err != nil {
			// The scheduler would call the terminal hook after the
			// last attempt.
			next = fx.workflow.itemTerminal(task, err)
		}
		finalize = append(finalize, next...)
	}

	if len(finalize) != 1 || finalize[0].Kind != scheduler.TaskFinalizeJob {
		t.Fatalf("join produced %+v, want exactly one finalize task", finalize)
	}
	if _, err := fx.workflow.HandleFinalize(ctx, finalize[0]); err != nil {
		t.Fatalf("HandleFinalize: %v", err)
	}
}

func TestExportJobAllItemsSucceed(t *testing.T) {
	fx := newExportFixture(t, models.FormatOmni, []int64{10, 11})
	runJob(t, fx, nil)

	job, _ := fx.exports.GetJob(1)
	if job.Status != models.ExportCompleted {
		t.Errorf("job status = %s, want completed", job.Status)
	}
	if job.ArchiveURI == "" {
		t.Fatal("archive URI not set")
	}

	zr, err := zip.OpenReader(fx.media.Resolve(job.ArchiveURI))
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	defer zr.Close()
	if len(zr.File) != 2 {
		t.Errorf("archive holds %d files, want 2", len(zr.File))
	}
}

func TestExportJobPartialFailure(t *testing.T) {
	fx := newExportFixture(t, models.FormatTVN, []int64{10, 11, 12})
	runJob(t, fx, map[int64]bool{2: true})

	job, _ := fx.exports.GetJob(1)
	if job.Status != models.ExportCompletedWithErrors {
		t.Errorf("job status = %s, want completed_with_errors", job.Status)
	}
	if job.ErrorMessage != "1 item(s) failed" {
		t.Errorf("job error = %q", job.ErrorMessage)
	}

	zr, err := zip.OpenReader(fx.media.Resolve(job.ArchiveURI))
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	defer zr.Close()
	if len(zr.File) != 2 {
		t.Errorf("archive holds %d files, want only the 2 successes", len(zr.File))
	}

	item, _ := fx.exports.GetItem(2)
	if item.Status != models.ExportFailed || item.ErrorMessage == "" {
		t.Errorf("failed item = %s %q", item.Status, item.ErrorMessage)
	}
}

func TestExportJobAllItemsFail(t *testing.T) {
	fx := newExportFixture(t, models.FormatOmni, []int64{10, 11})
	runJob(t, fx, map[int64]bool{1: true, 2: true})

	job, _ := fx.exports.GetJob(1)
	if job.Status != models.ExportFailed {
		t.Errorf("job status = %s, want failed", job.Status)
	}
	if job.ErrorMessage != "No files were converted successfully" {
		t.Errorf("job error = %q", job.ErrorMessage)
	}
}

// flakyExportStore drops selected item status writes on the floor the
// way a store outage would, leaving those rows untouched.
type flakyExportStore struct {
	*fakeExportStore
	brokenProcessing map[int64]bool
	brokenFailed     map[int64]bool
}

func (s *flakyExportStore) MarkItemProcessing(id int64) error {
	if s.brokenProcessing[id] {
		return errors.New("connection reset")
	}
	return s.fakeExportStore.MarkItemProcessing(id)
}

func (s *flakyExportStore) MarkItemFailed(id int64, errMsg string) error {
	if s.brokenFailed[id] {
		return errors.New("connection reset")
	}
	return s.fakeExportStore.MarkItemFailed(id, errMsg)
}

func TestItemStoreErrorCountsAsFailed(t *testing.T) {
	fx := newExportFixture(t, models.FormatOmni, []int64{10, 11})
	fx.workflow.exports = &flakyExportStore{
		fakeExportStore:  fx.exports,
		brokenProcessing: map[int64]bool{2: true},
	}

	runJob(t, fx, nil)

	item, _ := fx.exports.GetItem(2)
	if item.Status != models.ExportFailed || item.ErrorMessage == "" {
		t.Errorf("item after store error = %s %q, want failed with message", item.Status, item.ErrorMessage)
	}

	job, _ := fx.exports.GetJob(1)
	if job.Status != models.ExportCompletedWithErrors {
		t.Errorf("job status = %s, want completed_with_errors", job.Status)
	}
	if job.ErrorMessage != "1 item(s) failed" {
		t.Errorf("job error = %q", job.ErrorMessage)
	}
}

func TestFinalizeCountsNonTerminalItemAsFailed(t *testing.T) {
	fx := newExportFixture(t, models.FormatOmni, []int64{10, 11})
	// Every status write for item 2 is lost, so its row stays pending
	// all the way to the join.
	fx.workflow.exports = &flakyExportStore{
		fakeExportStore:  fx.exports,
		brokenProcessing: map[int64]bool{2: true},
		brokenFailed:     map[int64]bool{2: true},
	}

	runJob(t, fx, nil)

	item, _ := fx.exports.GetItem(2)
	if item.Status != models.ExportPending {
		t.Fatalf("item status = %s, the store should have dropped every write", item.Status)
	}

	job, _ := fx.exports.GetJob(1)
	if job.Status != models.ExportCompletedWithErrors {
		t.Errorf("job status = %s, want completed_with_errors", job.Status)
	}
	if job.ErrorMessage != "1 item(s) failed" {
		t.Errorf("job error = %q", job.ErrorMessage)
	}
}

func TestArchiveEntriesUseLogFileNames(t *testing.T) {
	fx := newExportFixture(t, models.FormatOmni, []int64{10})
	runJob(t, fx, nil)

	job, _ := fx.exports.GetJob(1)
	zr, err := zip.OpenReader(fx.media.Resolve(job.ArchiveURI))
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	defer zr.Close()
	if len(zr.File) != 1 || zr.File[0].Name != "log10_omni.csv" {
		t.Errorf("archive entry = %v, want log10_omni.csv", zr.File)
	}
}

func TestJobTerminalMarksFailed(t *testing.T) {
	fx := newExportFixture(t, models.FormatOmni, []int64{10})

	fx.workflow.jobTerminal(ExportStartTask(1), errors.New("database unavailable"))

	job, _ := fx.exports.GetJob(1)
	if job.Status != models.ExportFailed {
		t.Errorf("job status = %s, want failed", job.Status)
	}
	if job.ErrorMessage != "database unavailable" {
		t.Errorf("job error = %q", job.ErrorMessage)
	}
}

func TestHandleConvertLogStandalone(t *testing.T) {
	fx := newExportFixture(t, models.FormatOmni, []int64{10})

	next, err := fx.workflow.HandleConvertLog(context.Background(), ConvertLogTask(10, models.FormatTVN))
	if err != nil {
		t.Fatalf("HandleConvertLog: %v", err)
	}
	if len(next) != 0 {
		t.Errorf("standalone conversion returned follow-ups: %+v", next)
	}

	matches, err := filepath.Glob(filepath.Join(fx.root, "converted", "10_tvn_*.csv"))
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 1 {
		t.Errorf("converted outputs = %v, want one file", matches)
	}
}

func TestHandleConvertLogBadFormat(t *testing.T) {
	fx := newExportFixture(t, models.FormatOmni, []int64{10})

	task := ConvertLogTask(10, models.FormatOmni)
	task.Format = "parquet"
	_, err := fx.workflow.HandleConvertLog(context.Background(), task)
	var perm *scheduler.PermanentError
	if !errors.As(err, &perm) {
		t.Errorf("invalid format should fail permanently, got %v", err)
	}
}
