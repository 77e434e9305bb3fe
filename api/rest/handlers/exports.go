package handlers

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"telemetry-pipeline/core/exporter"
	"telemetry-pipeline/core/models"
	"telemetry-pipeline/core/pipeline"
	"telemetry-pipeline/core/repository"
	"telemetry-pipeline/core/scheduler"
)

// ExportHandler handles export job HTTP requests
type ExportHandler struct {
	exportRepo *repository.ExportRepository
	scheduler  *scheduler.Scheduler
}

// NewExportHandler creates a new export handler
func NewExportHandler(exportRepo *repository.ExportRepository, sched *scheduler.Scheduler) *ExportHandler {
	return &ExportHandler{exportRepo: exportRepo, scheduler: sched}
}

// CreateExportRequest starts a bulk export of the named logs
type CreateExportRequest struct {
	LogIDs     []int64 `json:"log_ids"`
	Format     string  `json:"format"`
	ResampleHz float64 `json:"resample_hz,omitempty"`
}

// ExportJobResponse is the JSON shape of one export job
type ExportJobResponse struct {
	ID           int64                `json:"id"`
	Format       string               `json:"format"`
	ResampleHz   float64              `json:"resample_hz"`
	Status       string               `json:"status"`
	RequestedIDs []int64              `json:"requested_ids"`
	ArchiveURI   string               `json:"archive_uri,omitempty"`
	ErrorMessage string               `json:"error_message,omitempty"`
	Items        []ExportItemResponse `json:"items,omitempty"`
	CreatedAt    time.Time            `json:"created_at"`
	CompletedAt  *time.Time           `json:"completed_at,omitempty"`
}

// ExportItemResponse is the JSON shape of one per-log export item
type ExportItemResponse struct {
	ID           int64  `json:"id"`
	LogID        int64  `json:"log_id"`
	Status       string `json:"status"`
	OutputURI    string `json:"output_uri,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
	Attempts     int    `json:"attempts"`
}

func exportJobResponse(job *models.ExportJob, items []*models.ExportItem) ExportJobResponse {
	resp := ExportJobResponse{
		ID:           job.ID,
		Format:       string(job.Format),
		ResampleHz:   job.ResampleHz,
		Status:       string(job.Status),
		RequestedIDs: job.RequestedIDs,
		ArchiveURI:   job.ArchiveURI,
		ErrorMessage: job.ErrorMessage,
		CreatedAt:    job.CreatedAt,
		CompletedAt:  job.CompletedAt,
	}
	for _, item := range items {
		resp.Items = append(resp.Items, ExportItemResponse{
			ID:           item.ID,
			LogID:        item.LogID,
			Status:       string(item.Status),
			OutputURI:    item.OutputURI,
			ErrorMessage: item.ErrorMessage,
			Attempts:     item.Attempts,
		})
	}
	return resp
}

// CreateExport handles POST /v1/exports
func (h *ExportHandler) CreateExport(w http.ResponseWriter, r *http.Request) {
	var req CreateExportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if len(req.LogIDs) == 0 {
		http.Error(w, "log_ids must not be empty", http.StatusBadRequest)
		return
	}

	format, err := models.ParseFormat(req.Format)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	hz := req.ResampleHz
	if hz <= 0 {
		hz = exporter.DefaultResampleHz
	}

	job, err := h.exportRepo.CreateJob(format, hz, req.LogIDs)
	if err != nil {
		http.Error(w, "Failed to create export job", http.StatusInternalServerError)
		return
	}

	if err := h.scheduler.Submit(pipeline.ExportStartTask(job.ID)); err != nil {
		http.Error(w, "Failed to schedule export", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, exportJobResponse(job, nil))
}

// GetExport handles GET /v1/exports/{id}
func (h *ExportHandler) GetExport(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		http.Error(w, "Invalid export id", http.StatusBadRequest)
		return
	}

	job, err := h.exportRepo.GetJob(id)
	if errors.Is(err, sql.ErrNoRows) {
		http.Error(w, "Export job not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "Failed to load export job", http.StatusInternalServerError)
		return
	}

	items, err := h.exportRepo.GetJobItems(id)
	if err != nil {
		http.Error(w, "Failed to load export items", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, exportJobResponse(job, items))
}
