package main

import (
	"context"
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
	"github.com/nimbusgrid/nimbus/internal/decode"
	"github.com/nimbusgrid/nimbus/internal/derive"
	"github.com/nimbusgrid/nimbus/internal/ingest"
	"github.com/nimbusgrid/nimbus/internal/queue"
	"github.com/nimbusgrid/nimbus/internal/reduce"
	"github.com/nimbusgrid/nimbus/internal/storage"
	"github.com/nimbusgrid/nimbus/internal/tracing"
)

const idleDelay = 5 * time.Second

func main() {
	if err := config.LoadEnv(); err != nil {
		log.Printf("Warning: Could not load .env file: %v", err)
	}
	cfg := config.NewConfig()
	logger := log.New(os.Stdout, "[NIMBUS-WORKER] ", log.LstdFlags|log.Lshortfile)

	dbConn, err := database.NewDBConnection(cfg)
	if err != nil {
		logger.Fatalf("Failed to connect to catalog store: %v", err)
	}
	defer dbConn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := tracing.Setup(ctx, "nimbus-worker", cfg.Tracing)
	if err != nil {
		logger.Printf("Warning: tracing setup failed: %v", err)
		shutdownTracing = func(context.Context) error { return nil }
	}
	defer shutdownTracing(context.Background())
	sentry := tracing.NewSentryClient(cfg.Tracing)

	projectionRepo := catalog.NewProjectionRepository(dbConn.DB)
	fileMetaRepo := catalog.NewFileMetaRepository(dbConn.DB)
	fileBandMetaRepo := catalog.NewFileBandMetaRepository(dbConn.DB)

	provider, err := storage.NewFromConfig(ctx, cfg, dbConn.DB, fileMetaRepo, fileBandMetaRepo, projectionRepo)
	if err != nil {
		logger.Fatalf("Failed to build storage provider: %v", err)
	}

	projectionRegistry, err := decode.NewProjectionRegistry(projectionRepo, 64)
	if err != nil {
		logger.Fatalf("Failed to build projection registry: %v", err)
	}

	w := &ingest.Worker{
		Queue:              queue.New(dbConn.DB, cfg.Queue.LeaseSeconds),
		SourceRepo:         catalog.NewSourceRepository(dbConn.DB),
		SourceFieldRepo:    catalog.NewSourceFieldRepository(dbConn.DB),
		MetricRepo:         catalog.NewMetricRepository(dbConn.DB),
		ProjectionRegistry: projectionRegistry,
		Provider:           provider,
		Reducer:            reduce.NewReducer(&http.Client{Timeout: 30 * time.Second}),
		Decoder:            decode.NewDecoder(),
		Generators:         []derive.Generator{derive.NewWindGenerator()},
		HTTPClient:         &http.Client{Timeout: 30 * time.Second},
		ErrorReporter:      sentry.CaptureError,
	}

	go func() {
		logger.Println("worker loop starting")
		w.RunForever(ctx, idleDelay)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Println("shutting down worker...")
	cancel()
}
