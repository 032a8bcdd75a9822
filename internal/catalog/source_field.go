package catalog

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"
)

// SourceField is one (Source, Metric) pairing, identifying which message
// to extract from each file of that source. projection_id is set on
// first successful ingest (spec §3).
type SourceField struct {
	ID             int64
	SourceID       int64
	MetricID       int64
	ProjectionID   sql.NullInt64
	IndexShortName string
	IndexLevel     string
	Selectors      json.RawMessage
}

// SourceFieldRepository is the Catalog's repository for source fields.
type SourceFieldRepository struct {
	DB *sql.DB
}

// NewSourceFieldRepository constructs a SourceFieldRepository.
func NewSourceFieldRepository(db *sql.DB) *SourceFieldRepository {
	return &SourceFieldRepository{DB: db}
}

func scanSourceField(row *sql.Row) (*SourceField, error) {
	var f SourceField
	err := row.Scan(&f.ID, &f.SourceID, &f.MetricID, &f.ProjectionID, &f.IndexShortName, &f.IndexLevel, &f.Selectors)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan source field: %w", err)
	}
	return &f, nil
}

const sourceFieldColumns = `id, source_id, metric_id, projection_id, index_short_name, index_level, selectors`

// FindByID looks up a SourceField by id.
func (r *SourceFieldRepository) FindByID(id int64) (*SourceField, error) {
	return scanSourceField(r.DB.QueryRow(`SELECT `+sourceFieldColumns+` FROM source_fields WHERE id = $1`, id))
}

// FindBySourceAndMetric looks up the unique (source_id, metric_id) pair.
func (r *SourceFieldRepository) FindBySourceAndMetric(sourceID, metricID int64) (*SourceField, error) {
	return scanSourceField(r.DB.QueryRow(
		`SELECT `+sourceFieldColumns+` FROM source_fields WHERE source_id = $1 AND metric_id = $2`,
		sourceID, metricID,
	))
}

// FindBySource returns every SourceField registered for one Source — the
// Writer's lookup for "which (short_name, level) pairs does this ingest
// task need to select from the sidecar index" (spec §4.2 step 2).
func (r *SourceFieldRepository) FindBySource(sourceID int64) ([]SourceField, error) {
	rows, err := r.DB.Query(`SELECT `+sourceFieldColumns+` FROM source_fields WHERE source_id = $1`, sourceID)
	if err != nil {
		return nil, fmt.Errorf("find source fields by source: %w", err)
	}
	defer rows.Close()

	var out []SourceField
	for rows.Next() {
		var f SourceField
		if err := rows.Scan(&f.ID, &f.SourceID, &f.MetricID, &f.ProjectionID, &f.IndexShortName, &f.IndexLevel, &f.Selectors); err != nil {
			return nil, fmt.Errorf("scan source field: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// FindByMetrics returns every non-intermediate SourceField whose metric is
// in metricIDs and whose projection_id is set — the filter used by the
// Query service's step 1 (spec §4.8).
func (r *SourceFieldRepository) FindByMetrics(metricIDs []int64) ([]SourceField, error) {
	if len(metricIDs) == 0 {
		return nil, nil
	}
	rows, err := r.DB.Query(
		`SELECT sf.id, sf.source_id, sf.metric_id, sf.projection_id, sf.index_short_name, sf.index_level, sf.selectors
		 FROM source_fields sf
		 JOIN metrics m ON m.id = sf.metric_id
		 WHERE sf.metric_id = ANY($1) AND sf.projection_id IS NOT NULL AND m.intermediate = FALSE`,
		pq.Array(metricIDs),
	)
	if err != nil {
		return nil, fmt.Errorf("find source fields by metrics: %w", err)
	}
	defer rows.Close()

	var out []SourceField
	for rows.Next() {
		var f SourceField
		if err := rows.Scan(&f.ID, &f.SourceID, &f.MetricID, &f.ProjectionID, &f.IndexShortName, &f.IndexLevel, &f.Selectors); err != nil {
			return nil, fmt.Errorf("scan source field: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// SetProjection sets projection_id on first successful ingest (spec §3
// invariant: every SourceField used in ingest has a non-null projection_id
// after first ingest). Last-writer-wins on repeated calls, matching the
// "rare, only on first sighting" conflict policy of spec §5.
func (r *SourceFieldRepository) SetProjection(id, projectionID int64) error {
	_, err := r.DB.Exec(`UPDATE source_fields SET projection_id = $2 WHERE id = $1`, id, projectionID)
	if err != nil {
		return fmt.Errorf("set source field projection: %w", err)
	}
	return nil
}

// Create inserts a new SourceField, used by bootstrap seeding and by the
// derived-field generator registering its synthetic fields.
func (r *SourceFieldRepository) Create(f *SourceField) (int64, error) {
	var id int64
	err := r.DB.QueryRow(
		`INSERT INTO source_fields (source_id, metric_id, projection_id, index_short_name, index_level, selectors)
		 VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		f.SourceID, f.MetricID, f.ProjectionID, f.IndexShortName, f.IndexLevel, f.Selectors,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("create source field: %w", err)
	}
	return id, nil
}
