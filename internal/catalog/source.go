package catalog

import (
	"database/sql"
	"fmt"
	"time"
)

// Source is a named upstream model or observation feed (e.g. HRRR, GFS,
// METAR). Seeded at bootstrap; last_updated is mutated by successful
// ingest (spec §3).
type Source struct {
	ID          int64
	ShortName   string
	DisplayName string
	SourceURL   string
	LastUpdated sql.NullTime
}

// SourceRepository is the Catalog's repository for sources, following the
// teacher's one-repository-per-entity, *sql.DB-holding pattern.
type SourceRepository struct {
	DB *sql.DB
}

// NewSourceRepository constructs a SourceRepository.
func NewSourceRepository(db *sql.DB) *SourceRepository {
	return &SourceRepository{DB: db}
}

// FindByShortName looks up a Source by its unique short name, returning
// (nil, nil) if none exists.
func (r *SourceRepository) FindByShortName(shortName string) (*Source, error) {
	var s Source
	err := r.DB.QueryRow(
		`SELECT id, short_name, display_name, source_url, last_updated
		 FROM sources WHERE short_name = $1`,
		shortName,
	).Scan(&s.ID, &s.ShortName, &s.DisplayName, &s.SourceURL, &s.LastUpdated)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find source by short name: %w", err)
	}
	return &s, nil
}

// FindAll returns every registered source.
func (r *SourceRepository) FindAll() ([]Source, error) {
	rows, err := r.DB.Query(
		`SELECT id, short_name, display_name, source_url, last_updated FROM sources ORDER BY id`,
	)
	if err != nil {
		return nil, fmt.Errorf("find all sources: %w", err)
	}
	defer rows.Close()

	var out []Source
	for rows.Next() {
		var s Source
		if err := rows.Scan(&s.ID, &s.ShortName, &s.DisplayName, &s.SourceURL, &s.LastUpdated); err != nil {
			return nil, fmt.Errorf("scan source: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// FindByID looks up a Source by id, returning (nil, nil) if absent.
func (r *SourceRepository) FindByID(id int64) (*Source, error) {
	var s Source
	err := r.DB.QueryRow(
		`SELECT id, short_name, display_name, source_url, last_updated FROM sources WHERE id = $1`,
		id,
	).Scan(&s.ID, &s.ShortName, &s.DisplayName, &s.SourceURL, &s.LastUpdated)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find source by id: %w", err)
	}
	return &s, nil
}

// Create inserts a new Source, used by bootstrap seeding.
func (r *SourceRepository) Create(s *Source) (int64, error) {
	var id int64
	err := r.DB.QueryRow(
		`INSERT INTO sources (short_name, display_name, source_url) VALUES ($1, $2, $3) RETURNING id`,
		s.ShortName, s.DisplayName, s.SourceURL,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("create source: %w", err)
	}
	return id, nil
}

// TouchLastUpdated mutates last_updated on successful ingest (spec §3
// lifecycle column for Source).
func (r *SourceRepository) TouchLastUpdated(id int64, at time.Time) error {
	_, err := r.DB.Exec(`UPDATE sources SET last_updated = $2 WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("touch source last_updated: %w", err)
	}
	return nil
}
