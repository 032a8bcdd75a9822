package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/nimbusgrid/nimbus/internal/catalog"
	"github.com/nimbusgrid/nimbus/internal/config"
	"github.com/nimbusgrid/nimbus/internal/database"
	"github.com/nimbusgrid/nimbus/internal/merge"
	"github.com/nimbusgrid/nimbus/internal/storage"
)

const mergeInterval = 30 * time.Minute

func main() {
	if err := config.LoadEnv(); err != nil {
		log.Printf("Warning: Could not load .env file: %v", err)
	}
	cfg := config.NewConfig()
	logger := log.New(os.Stdout, "[NIMBUS-MERGER] ", log.LstdFlags|log.Lshortfile)

	dbConn, err := database.NewDBConnection(cfg)
	if err != nil {
		logger.Fatalf("Failed to connect to catalog store: %v", err)
	}
	defer dbConn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	projectionRepo := catalog.NewProjectionRepository(dbConn.DB)
	fileMetaRepo := catalog.NewFileMetaRepository(dbConn.DB)
	fileBandMetaRepo := catalog.NewFileBandMetaRepository(dbConn.DB)

	provider, err := storage.NewFromConfig(ctx, cfg, dbConn.DB, fileMetaRepo, fileBandMetaRepo, projectionRepo)
	if err != nil {
		logger.Fatalf("Failed to build storage provider: %v", err)
	}

	m := merge.New(provider)

	go func() {
		logger.Println("merger loop starting")
		m.RunForever(ctx, mergeInterval)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Println("shutting down merger...")
	cancel()
}
