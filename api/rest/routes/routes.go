package routes

import (
	"telemetry-pipeline/api/rest/handlers"
	"telemetry-pipeline/core/repository"
	"telemetry-pipeline/core/scheduler"

	"github.com/gorilla/mux"
)

// SetupRoutes configures all API routes
func SetupRoutes(r *mux.Router, db *repository.DB, sched *scheduler.Scheduler) {
	logRepo := repository.NewLogRepository(db)
	eventRepo := repository.NewEventRepository(db)
	exportRepo := repository.NewExportRepository(db)
	logHandler := handlers.NewLogHandler(logRepo, eventRepo, sched)
	exportHandler := handlers.NewExportHandler(exportRepo, sched)

	api := r.PathPrefix("/v1").Subrouter()

	// Log endpoints
	api.HandleFunc("/logs", logHandler.RegisterLog).Methods("POST")
	api.HandleFunc("/logs", logHandler.ListLogs).Methods("GET")
	api.HandleFunc("/logs/{id}", logHandler.GetLog).Methods("GET")
	api.HandleFunc("/logs/{id}/process", logHandler.ProcessLog).Methods("POST")
	api.HandleFunc("/logs/{id}/events", logHandler.GetLogEvents).Methods("GET")
	api.HandleFunc("/logs/{id}/convert", logHandler.ConvertLog).Methods("POST")

	// Export endpoints
	api.HandleFunc("/exports", exportHandler.CreateExport).Methods("POST")
	api.HandleFunc("/exports/{id}", exportHandler.GetExport).Methods("GET")
}
