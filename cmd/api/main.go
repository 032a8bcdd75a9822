package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/nimbusgrid/nimbus/internal/catalog"
	"github.com/nimbusgrid/nimbus/internal/config"
	"github.com/nimbusgrid/nimbus/internal/database"
	"github.com/nimbusgrid/nimbus/internal/httpapi"
	"github.com/nimbusgrid/nimbus/internal/middleware"
	"github.com/nimbusgrid/nimbus/internal/query"
	"github.com/nimbusgrid/nimbus/internal/storage"
	"github.com/nimbusgrid/nimbus/internal/tracing"
)

func main() {
	if err := config.LoadEnv(); err != nil {
		log.Printf("Warning: Could not load .env file: %v", err)
	}

	cfg := config.NewConfig()
	logger := log.New(os.Stdout, "[NIMBUS-API] ", log.LstdFlags|log.Lshortfile)

	dbConn, err := database.NewDBConnection(cfg)
	if err != nil {
		logger.Fatalf("Failed to connect to catalog store: %v", err)
	}
	defer dbConn.Close()

	if err := dbConn.RunMigrations(); err != nil {
		logger.Printf("Warning: migration failed: %v", err)
	}

	ctx := context.Background()
	shutdownTracing, err := tracing.Setup(ctx, "nimbus-api", cfg.Tracing)
	if err != nil {
		logger.Printf("Warning: tracing setup failed: %v", err)
		shutdownTracing = func(context.Context) error { return nil }
	}
	sentry := tracing.NewSentryClient(cfg.Tracing)

	sourceRepo := catalog.NewSourceRepository(dbConn.DB)
	metricRepo := catalog.NewMetricRepository(dbConn.DB)
	locationRepo := catalog.NewLocationRepository(dbConn.DB)
	sourceFieldRepo := catalog.NewSourceFieldRepository(dbConn.DB)
	projectionRepo := catalog.NewProjectionRepository(dbConn.DB)
	fileMetaRepo := catalog.NewFileMetaRepository(dbConn.DB)
	fileBandMetaRepo := catalog.NewFileBandMetaRepository(dbConn.DB)

	provider, err := storage.NewFromConfig(ctx, cfg, dbConn.DB, fileMetaRepo, fileBandMetaRepo, projectionRepo)
	if err != nil {
		logger.Fatalf("Failed to build storage provider: %v", err)
	}

	queryService := query.New(sourceFieldRepo, metricRepo, projectionRepo, provider)
	handler := httpapi.New(sourceRepo, metricRepo, locationRepo, queryService)
	healthHandler := httpapi.NewHealthHandler(dbConn.DB, sourceRepo)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", healthHandler.HandleHealth)
	mux.HandleFunc("/sources", handler.HandleSources)
	mux.HandleFunc("/source/", handler.HandleSource)
	mux.HandleFunc("/metrics", handler.HandleMetrics)
	mux.HandleFunc("/location/search", handler.HandleLocationSearch)
	mux.HandleFunc("/wx", handler.HandleWeather)
	mux.HandleFunc("/", handleHome)

	wrapped := middleware.CORS(middleware.Gzip(mux))

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      wrapped,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Printf("Starting nimbus query API on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			sentry.CaptureError(err)
			logger.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Println("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Fatalf("Server forced to shutdown: %v", err)
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Printf("Warning: tracing shutdown: %v", err)
	}

	logger.Println("Server stopped")
}

func handleHome(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html")
	w.Write([]byte(`<!DOCTYPE html>
<html lang="en">
<head><meta charset="UTF-8"><title>nimbus</title></head>
<body>
<h1>nimbus weather API</h1>
<p>Gridded NWP ingest, storage, and point-query service.</p>
<ul>
<li>GET /sources</li>
<li>GET /source/{id}</li>
<li>GET /metrics</li>
<li>GET /location/search?q=</li>
<li>GET /wx?lat=&lon=&start=&end=&metrics=</li>
</ul>
</body>
</html>
`))
}
