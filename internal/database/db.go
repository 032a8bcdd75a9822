// Package database wraps the Catalog store's Postgres connection and its
// migration runner, shared by every nimbus binary.
package database

import (
	"database/sql"
	"fmt"
	"log"

	_ "github.com/lib/pq" // Postgres driver

	"github.com/nimbusgrid/nimbus/internal/config"
)

// DB wraps the Catalog store's connection pool.
type DB struct {
	*sql.DB
}

// NewDBConnection opens and pings the Catalog store's Postgres connection.
func NewDBConnection(cfg *config.Config) (*DB, error) {
	connStr := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Catalog.Host,
		cfg.Catalog.Port,
		cfg.Catalog.User,
		cfg.Catalog.Password,
		cfg.Catalog.Name,
		cfg.Catalog.SSLMode,
	)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to catalog store: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping catalog store: %w", err)
	}

	log.Println("connected to catalog store")
	return &DB{db}, nil
}

// Close closes the underlying connection pool.
func (db *DB) Close() error {
	return db.DB.Close()
}
