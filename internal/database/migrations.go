package database

import (
	"fmt"
	"log"
)

// Migration represents a single forward-only Catalog schema migration.
type Migration struct {
	ID      int
	Name    string
	SQL     string
	Applied bool
}

// RunMigrations creates the Catalog schema described in spec §3 if it does
// not already exist, tracking applied migrations in a migrations table —
// same transaction-per-migration pattern as the teacher's version.
func (db *DB) RunMigrations() error {
	log.Println("running catalog migrations...")

	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS migrations (
			id SERIAL PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			applied_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	migrations := []Migration{
		{
			ID:   1,
			Name: "create_postgis_extension",
			SQL:  `CREATE EXTENSION IF NOT EXISTS postgis;`,
		},
		{
			ID:   2,
			Name: "create_sources_table",
			SQL: `
				CREATE TABLE IF NOT EXISTS sources (
					id BIGSERIAL PRIMARY KEY,
					short_name VARCHAR(100) UNIQUE NOT NULL,
					display_name VARCHAR(255) NOT NULL,
					source_url TEXT,
					last_updated TIMESTAMP WITH TIME ZONE
				)
			`,
		},
		{
			ID:   3,
			Name: "create_metrics_table",
			SQL: `
				CREATE TABLE IF NOT EXISTS metrics (
					id BIGSERIAL PRIMARY KEY,
					name VARCHAR(100) UNIQUE NOT NULL,
					units VARCHAR(50) NOT NULL,
					intermediate BOOLEAN NOT NULL DEFAULT FALSE
				)
			`,
		},
		{
			ID:   4,
			Name: "create_projections_table",
			SQL: `
				CREATE TABLE IF NOT EXISTS projections (
					id BIGSERIAL PRIMARY KEY,
					n_x INTEGER NOT NULL,
					n_y INTEGER NOT NULL,
					lats BYTEA NOT NULL,
					lons BYTEA NOT NULL,
					ll_hash BIGINT NOT NULL,
					created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
					UNIQUE(ll_hash, n_x, n_y)
				)
			`,
		},
		{
			ID:   5,
			Name: "create_source_fields_table",
			SQL: `
				CREATE TABLE IF NOT EXISTS source_fields (
					id BIGSERIAL PRIMARY KEY,
					source_id BIGINT NOT NULL REFERENCES sources(id) ON DELETE CASCADE,
					metric_id BIGINT NOT NULL REFERENCES metrics(id) ON DELETE CASCADE,
					projection_id BIGINT REFERENCES projections(id),
					index_short_name VARCHAR(100) NOT NULL,
					index_level VARCHAR(100) NOT NULL,
					selectors JSONB,
					UNIQUE(source_id, metric_id)
				)
			`,
		},
		{
			ID:   6,
			Name: "create_locations_table",
			SQL: `
				CREATE TABLE IF NOT EXISTS locations (
					id BIGSERIAL PRIMARY KEY,
					name VARCHAR(255) NOT NULL,
					latitude DOUBLE PRECISION NOT NULL,
					longitude DOUBLE PRECISION NOT NULL,
					population INTEGER
				)
			`,
		},
		{
			ID:   7,
			Name: "create_locations_index",
			SQL: `
				CREATE INDEX IF NOT EXISTS idx_locations_name ON locations(lower(name));
				CREATE INDEX IF NOT EXISTS idx_locations_population ON locations(population DESC NULLS LAST);
			`,
		},
		{
			ID:   8,
			Name: "create_file_meta_table",
			SQL: `
				CREATE TABLE IF NOT EXISTS file_meta (
					file_name VARCHAR(64) PRIMARY KEY,
					projection_id BIGINT NOT NULL REFERENCES projections(id),
					ctime TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
					loc_size INTEGER NOT NULL
				)
			`,
		},
		{
			ID:   9,
			Name: "create_file_band_meta_table",
			SQL: `
				CREATE TABLE IF NOT EXISTS file_band_meta (
					file_name VARCHAR(64) NOT NULL REFERENCES file_meta(file_name) ON DELETE CASCADE,
					"offset" INTEGER NOT NULL,
					source_field_id BIGINT NOT NULL REFERENCES source_fields(id),
					valid_time TIMESTAMP WITH TIME ZONE NOT NULL,
					run_time TIMESTAMP WITH TIME ZONE NOT NULL,
					vals_per_loc INTEGER NOT NULL DEFAULT 1,
					PRIMARY KEY (file_name, "offset")
				)
			`,
		},
		{
			ID:   10,
			Name: "create_file_band_meta_indices",
			SQL: `
				CREATE INDEX IF NOT EXISTS idx_file_band_meta_lookup
					ON file_band_meta(source_field_id, valid_time, run_time);
			`,
		},
		{
			ID:   11,
			Name: "create_queue_tasks_table",
			SQL: `
				CREATE TABLE IF NOT EXISTS queue_tasks (
					id BIGSERIAL PRIMARY KEY,
					payload JSONB NOT NULL,
					enqueued_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
					schedule_at TIMESTAMP WITH TIME ZONE NOT NULL,
					state VARCHAR(20) NOT NULL DEFAULT 'queued',
					leased_until TIMESTAMP WITH TIME ZONE,
					attempts INTEGER NOT NULL DEFAULT 0
				)
			`,
		},
		{
			ID:   12,
			Name: "create_queue_tasks_index",
			SQL: `
				CREATE INDEX IF NOT EXISTS idx_queue_tasks_dequeue
					ON queue_tasks(state, schedule_at);
			`,
		},
		{
			ID:   13,
			Name: "create_wide_column_rows_table",
			SQL: `
				CREATE TABLE IF NOT EXISTS wide_column_rows (
					partition_key VARCHAR(100) NOT NULL,
					row_key VARCHAR(100) NOT NULL,
					field_id BIGINT NOT NULL,
					data BYTEA NOT NULL,
					valid_time TIMESTAMP WITH TIME ZONE NOT NULL,
					run_time TIMESTAMP WITH TIME ZONE NOT NULL,
					x_shard INTEGER NOT NULL,
					PRIMARY KEY (partition_key, row_key, field_id)
				)
			`,
		},
	}

	for i := range migrations {
		var count int
		err := db.QueryRow("SELECT COUNT(*) FROM migrations WHERE name = $1", migrations[i].Name).Scan(&count)
		if err != nil {
			return fmt.Errorf("failed to check migration status: %w", err)
		}
		migrations[i].Applied = count > 0
	}

	for _, migration := range migrations {
		if migration.Applied {
			continue
		}

		log.Printf("applying migration %d: %s", migration.ID, migration.Name)

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("failed to start transaction: %w", err)
		}

		if _, err = tx.Exec(migration.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to apply migration %s: %w", migration.Name, err)
		}

		if _, err = tx.Exec("INSERT INTO migrations (name) VALUES ($1)", migration.Name); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %s: %w", migration.Name, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %s: %w", migration.Name, err)
		}
	}

	log.Println("catalog migrations complete")
	return nil
}
