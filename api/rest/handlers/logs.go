package handlers

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"telemetry-pipeline/core/models"
	"telemetry-pipeline/core/pipeline"
	"telemetry-pipeline/core/repository"
	"telemetry-pipeline/core/scheduler"
)

// LogHandler handles log-related HTTP requests
type LogHandler struct {
	logRepo   *repository.LogRepository
	eventRepo *repository.EventRepository
	scheduler *scheduler.Scheduler
}

// NewLogHandler creates a new log handler
func NewLogHandler(logRepo *repository.LogRepository, eventRepo *repository.EventRepository, sched *scheduler.Scheduler) *LogHandler {
	return &LogHandler{logRepo: logRepo, eventRepo: eventRepo, scheduler: sched}
}

// RegisterLogRequest registers an already-stored recording for
// processing. File upload itself is handled elsewhere.
type RegisterLogRequest struct {
	FileName    string   `json:"file_name"`
	OriginalURI string   `json:"original_uri"`
	FileSize    int64    `json:"file_size,omitempty"`
	Notes       string   `json:"notes,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	Cars        []string `json:"cars,omitempty"`
	Drivers     []string `json:"drivers,omitempty"`
	EventTypes  []string `json:"event_types,omitempty"`
	Locations   []string `json:"locations,omitempty"`
}

// LogResponse is the JSON shape of one log
type LogResponse struct {
	ID           int64      `json:"id"`
	FileName     string     `json:"file_name"`
	OriginalURI  string     `json:"original_uri,omitempty"`
	RecoveredURI string     `json:"recovered_uri,omitempty"`
	Stages       StageInfo  `json:"stages"`
	Channels     []string   `json:"channels,omitempty"`
	ChannelCount int        `json:"channel_count"`
	StartTime    float64    `json:"start_time,omitempty"`
	EndTime      float64    `json:"end_time,omitempty"`
	Duration     float64    `json:"duration_seconds,omitempty"`
	CapturedAt   *time.Time `json:"captured_at,omitempty"`
	MapPreview   string     `json:"map_preview_uri,omitempty"`
	PathPoints   int        `json:"path_points"`
	Tags         []string   `json:"tags,omitempty"`
	Cars         []string   `json:"cars,omitempty"`
	Drivers      []string   `json:"drivers,omitempty"`
	EventTypes   []string   `json:"event_types,omitempty"`
	Locations    []string   `json:"locations,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// StageInfo reports the pipeline status per stage
type StageInfo struct {
	Recovery        string `json:"recovery"`
	RecoveryError   string `json:"recovery_error,omitempty"`
	Parse           string `json:"parse"`
	ParseError      string `json:"parse_error,omitempty"`
	GPS             string `json:"gps"`
	GPSError        string `json:"gps_error,omitempty"`
	MapPreview      string `json:"map_preview"`
	MapPreviewError string `json:"map_preview_error,omitempty"`
}

func logResponse(l *models.TelemetryLog) LogResponse {
	return LogResponse{
		ID:           l.ID,
		FileName:     l.FileName,
		OriginalURI:  l.OriginalURI,
		RecoveredURI: l.RecoveredURI,
		Stages: StageInfo{
			Recovery:        string(l.RecoveryStatus),
			RecoveryError:   l.RecoveryError,
			Parse:           string(l.ParseStatus),
			ParseError:      l.ParseError,
			GPS:             string(l.GPSStatus),
			GPSError:        l.GPSError,
			MapPreview:      string(l.MapPreviewStatus),
			MapPreviewError: l.MapPreviewError,
		},
		Channels:     l.Channels,
		ChannelCount: l.ChannelCount,
		StartTime:    l.StartTime,
		EndTime:      l.EndTime,
		Duration:     l.Duration,
		CapturedAt:   l.CapturedAt,
		MapPreview:   l.MapPreviewURI,
		PathPoints:   len(l.Path),
		Tags:         l.Tags,
		Cars:         l.Cars,
		Drivers:      l.Drivers,
		EventTypes:   l.EventTypes,
		Locations:    l.Locations,
		CreatedAt:    l.CreatedAt,
	}
}

// RegisterLog handles POST /v1/logs
func (h *LogHandler) RegisterLog(w http.ResponseWriter, r *http.Request) {
	var req RegisterLogRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.FileName == "" || req.OriginalURI == "" {
		http.Error(w, "file_name and original_uri are required", http.StatusBadRequest)
		return
	}

	tlog := &models.TelemetryLog{
		FileName:    req.FileName,
		OriginalURI: req.OriginalURI,
		FileSize:    req.FileSize,
		Notes:       req.Notes,
		Tags:        req.Tags,
		Cars:        req.Cars,
		Drivers:     req.Drivers,
		EventTypes:  req.EventTypes,
		Locations:   req.Locations,
	}
	if err := h.logRepo.CreateLog(tlog); err != nil {
		http.Error(w, "Failed to create log", http.StatusInternalServerError)
		return
	}

	if err := h.scheduler.Submit(pipeline.StartTask(tlog.ID)); err != nil {
		http.Error(w, "Failed to schedule processing", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, logResponse(tlog))
}

// GetLog handles GET /v1/logs/{id}
func (h *LogHandler) GetLog(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		http.Error(w, "Invalid log id", http.StatusBadRequest)
		return
	}

	tlog, err := h.logRepo.GetLog(id)
	if errors.Is(err, sql.ErrNoRows) {
		http.Error(w, "Log not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "Failed to load log", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, logResponse(tlog))
}

// ListLogs handles GET /v1/logs
func (h *LogHandler) ListLogs(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)

	logs, err := h.logRepo.ListLogs(limit, offset)
	if err != nil {
		http.Error(w, "Failed to list logs", http.StatusInternalServerError)
		return
	}

	out := make([]LogResponse, 0, len(logs))
	for _, l := range logs {
		out = append(out, logResponse(l))
	}
	writeJSON(w, http.StatusOK, out)
}

// ProcessLog handles POST /v1/logs/{id}/process and restarts the stage
// chain from recovery
func (h *LogHandler) ProcessLog(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		http.Error(w, "Invalid log id", http.StatusBadRequest)
		return
	}
	if _, err := h.logRepo.GetLog(id); errors.Is(err, sql.ErrNoRows) {
		http.Error(w, "Log not found", http.StatusNotFound)
		return
	} else if err != nil {
		http.Error(w, "Failed to load log", http.StatusInternalServerError)
		return
	}

	if err := h.scheduler.Submit(pipeline.StartTask(id)); err != nil {
		http.Error(w, "Failed to schedule processing", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "scheduled"})
}

// ConvertLog handles POST /v1/logs/{id}/convert for standalone
// conversions outside an export job
func (h *LogHandler) ConvertLog(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		http.Error(w, "Invalid log id", http.StatusBadRequest)
		return
	}

	format, err := models.ParseFormat(queryString(r, "format", string(models.FormatOmni)))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.scheduler.Submit(pipeline.ConvertLogTask(id, format)); err != nil {
		http.Error(w, "Failed to schedule conversion", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "scheduled", "format": string(format)})
}

// StageEventResponse is the JSON shape of one audit-trail entry
type StageEventResponse struct {
	ID      int64     `json:"id"`
	Stage   string    `json:"stage"`
	Status  string    `json:"status"`
	Message string    `json:"message,omitempty"`
	At      time.Time `json:"at"`
}

// GetLogEvents handles GET /v1/logs/{id}/events
func (h *LogHandler) GetLogEvents(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		http.Error(w, "Invalid log id", http.StatusBadRequest)
		return
	}

	events, err := h.eventRepo.GetLogEvents(id, queryInt(r, "limit", 100))
	if err != nil {
		http.Error(w, "Failed to load events", http.StatusInternalServerError)
		return
	}

	out := make([]StageEventResponse, 0, len(events))
	for _, e := range events {
		out = append(out, StageEventResponse{
			ID:      e.ID,
			Stage:   string(e.Stage),
			Status:  string(e.Status),
			Message: e.Message,
			At:      e.At,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func pathID(r *http.Request) (int64, error) {
	return strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
}

func queryInt(r *http.Request, key string, defaultValue int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			return n
		}
	}
	return defaultValue
}

func queryString(r *http.Request, key, defaultValue string) string {
	if v := r.URL.Query().Get(key); v != "" {
		return v
	}
	return defaultValue
}
