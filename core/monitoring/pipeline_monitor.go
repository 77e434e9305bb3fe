// Package monitoring reports periodic pipeline health to the log.
package monitoring

import (
	"context"
	"log"
	"time"

	"telemetry-pipeline/core/models"
	"telemetry-pipeline/core/repository"
	"telemetry-pipeline/core/scheduler"
)

// PipelineMonitor logs a periodic snapshot of queue depth, stage
// backlog and export activity.
type PipelineMonitor struct {
	queue      *scheduler.Queue
	logRepo    *repository.LogRepository
	exportRepo *repository.ExportRepository
	interval   time.Duration
}

// NewPipelineMonitor creates a monitor with a one-minute report cycle.
func NewPipelineMonitor(queue *scheduler.Queue, logRepo *repository.LogRepository, exportRepo *repository.ExportRepository) *PipelineMonitor {
	return &PipelineMonitor{
		queue:      queue,
		logRepo:    logRepo,
		exportRepo: exportRepo,
		interval:   1 * time.Minute,
	}
}

// Start runs the report loop until the context is cancelled.
func (m *PipelineMonitor) Start(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.report()
		}
	}
}

func (m *PipelineMonitor) report() {
	pendingRecovery := m.countStage(models.StageRecovery, models.StagePending)
	failed := 0
	for _, stage := range []models.Stage{models.StageRecovery, models.StageParse, models.StageGPS, models.StageMapPreview} {
		failed += m.countStage(stage, models.StageFailed)
	}

	activeExports, err := m.exportRepo.CountJobsByStatus(models.ExportProcessing)
	if err != nil {
		log.Printf("Failed to count active export jobs: %v", err)
	}

	log.Printf("Pipeline status: queue depth %d, logs awaiting recovery %d, failed stages %d, active export jobs %d",
		m.queue.Len(), pendingRecovery, failed, activeExports)
}

func (m *PipelineMonitor) countStage(stage models.Stage, status models.StageStatus) int {
	n, err := m.logRepo.CountLogsInStageStatus(stage, status)
	if err != nil {
		log.Printf("Failed to count %s logs in stage %s: %v", status, stage, err)
		return 0
	}
	return n
}
