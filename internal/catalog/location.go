package catalog

import (
	"database/sql"
	"fmt"
)

// Location is a named point seeded from external city/zipcode data,
// queried read-only (spec §3).
type Location struct {
	ID         int64
	Name       string
	Lat        float64
	Lon        float64
	Population sql.NullInt64
}

// LocationRepository is the Catalog's repository for locations.
type LocationRepository struct {
	DB *sql.DB
}

// NewLocationRepository constructs a LocationRepository.
func NewLocationRepository(db *sql.DB) *LocationRepository {
	return &LocationRepository{DB: db}
}

// Search returns up to 10 locations matching q as a case-insensitive
// substring, ranked by population descending — the exact contract of
// GET /location/search in spec §6.3.
func (r *LocationRepository) Search(q string) ([]Location, error) {
	rows, err := r.DB.Query(
		`SELECT id, name, latitude, longitude, population FROM locations
		 WHERE name ILIKE '%' || $1 || '%'
		 ORDER BY population DESC NULLS LAST
		 LIMIT 10`,
		q,
	)
	if err != nil {
		return nil, fmt.Errorf("search locations: %w", err)
	}
	defer rows.Close()

	var out []Location
	for rows.Next() {
		var l Location
		if err := rows.Scan(&l.ID, &l.Name, &l.Lat, &l.Lon, &l.Population); err != nil {
			return nil, fmt.Errorf("scan location: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// Create inserts a new Location, used by the (out-of-scope) seed script's
// catalog-facing collaborator interface.
func (r *LocationRepository) Create(l *Location) (int64, error) {
	var id int64
	err := r.DB.QueryRow(
		`INSERT INTO locations (name, latitude, longitude, population) VALUES ($1, $2, $3, $4) RETURNING id`,
		l.Name, l.Lat, l.Lon, l.Population,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("create location: %w", err)
	}
	return id, nil
}
