package catalog

import (
	"database/sql"
	"fmt"
)

// Metric is a physical quantity (e.g. "2 m Temperature"), unit-bearing.
// Seeded, immutable after (spec §3). Metrics marked Intermediate are
// never ingested directly — they only feed derived-field generators.
type Metric struct {
	ID           int64
	Name         string
	Units        string
	Intermediate bool
}

// MetricRepository is the Catalog's repository for metrics.
type MetricRepository struct {
	DB *sql.DB
}

// NewMetricRepository constructs a MetricRepository.
func NewMetricRepository(db *sql.DB) *MetricRepository {
	return &MetricRepository{DB: db}
}

// FindAll returns every registered metric.
func (r *MetricRepository) FindAll() ([]Metric, error) {
	rows, err := r.DB.Query(`SELECT id, name, units, intermediate FROM metrics ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("find all metrics: %w", err)
	}
	defer rows.Close()

	var out []Metric
	for rows.Next() {
		var m Metric
		if err := rows.Scan(&m.ID, &m.Name, &m.Units, &m.Intermediate); err != nil {
			return nil, fmt.Errorf("scan metric: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// FindByID looks up a Metric by id, returning (nil, nil) if absent.
func (r *MetricRepository) FindByID(id int64) (*Metric, error) {
	var m Metric
	err := r.DB.QueryRow(`SELECT id, name, units, intermediate FROM metrics WHERE id = $1`, id).
		Scan(&m.ID, &m.Name, &m.Units, &m.Intermediate)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find metric by id: %w", err)
	}
	return &m, nil
}

// FindByName looks up a Metric by its unique name, returning (nil, nil)
// if absent.
func (r *MetricRepository) FindByName(name string) (*Metric, error) {
	var m Metric
	err := r.DB.QueryRow(`SELECT id, name, units, intermediate FROM metrics WHERE name = $1`, name).
		Scan(&m.ID, &m.Name, &m.Units, &m.Intermediate)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find metric by name: %w", err)
	}
	return &m, nil
}

// Create inserts a new Metric, used by bootstrap seeding.
func (r *MetricRepository) Create(m *Metric) (int64, error) {
	var id int64
	err := r.DB.QueryRow(
		`INSERT INTO metrics (name, units, intermediate) VALUES ($1, $2, $3) RETURNING id`,
		m.Name, m.Units, m.Intermediate,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("create metric: %w", err)
	}
	return id, nil
}
