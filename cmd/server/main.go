package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"telemetry-pipeline/api/rest/routes"
	"telemetry-pipeline/config"
	"telemetry-pipeline/core/executor"
	"telemetry-pipeline/core/exporter"
	"telemetry-pipeline/core/gps"
	"telemetry-pipeline/core/mapview"
	"telemetry-pipeline/core/monitoring"
	"telemetry-pipeline/core/pipeline"
	"telemetry-pipeline/core/reader"
	"telemetry-pipeline/core/repository"
	"telemetry-pipeline/core/scheduler"
	"telemetry-pipeline/storage"

	"github.com/gorilla/mux"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	loc, err := cfg.Location()
	if err != nil {
		log.Fatalf("Invalid timezone %q: %v", cfg.Timezone, err)
	}

	// Initialize database
	db, err := repository.NewDB(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	log.Println("Database connected successfully")

	// Initialize repositories
	logRepo := repository.NewLogRepository(db)
	exportRepo := repository.NewExportRepository(db)

	// Initialize media storage and processing components
	media := storage.NewMedia(cfg.MediaRoot, cfg.MediaURL)
	mcapReader := reader.NewMCAPReader()
	recoverer := executor.NewRecoverer(cfg.RecoverCommand)
	extractor := gps.NewExtractor(mcapReader)
	renderer := mapview.NewRenderer(mapview.NewTileFetcher(cfg.TileURLTemplate))
	converter := exporter.NewConverter(mcapReader)

	// Initialize scheduler and task handlers
	queue := scheduler.NewQueue()
	sched := scheduler.NewScheduler(queue, cfg.Workers)

	stages := pipeline.New(logRepo, media, mcapReader, recoverer, extractor, renderer, loc)
	stages.Register(sched)

	exports := pipeline.NewExportWorkflow(exportRepo, logRepo, media, converter)
	exports.Register(sched)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sched.Start(ctx)
	log.Printf("Scheduler started with %d workers", cfg.Workers)

	// Background reporting and artifact retention
	monitor := monitoring.NewPipelineMonitor(queue, logRepo, exportRepo)
	go monitor.Start(ctx)
	retention := storage.NewRetention(media, storage.DefaultRetention)
	go retention.Start(ctx)

	// Setup routes with database and scheduler
	r := mux.NewRouter()
	routes.SetupRoutes(r, db, sched)

	// Serve derived media (map previews, converted files, archives)
	r.PathPrefix(cfg.MediaURL).Handler(
		http.StripPrefix(cfg.MediaURL, http.FileServer(http.Dir(cfg.MediaRoot))))

	// Health check endpoint
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods("GET")

	// Start server
	server := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: r,
	}

	// Graceful shutdown
	go func() {
		log.Printf("Starting server on port %s", cfg.ServerPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")
	if err := server.Shutdown(context.Background()); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}
	cancel()
	sched.Wait()
	log.Println("Server exited")
}
