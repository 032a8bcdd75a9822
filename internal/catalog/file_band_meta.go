package catalog

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// FileBandMeta is the Catalog row tracking where one (source_field,
// valid_time, run_time) band lives within a file's physical layout.
// Created by the Writer; rewritten by the Merger; deleted by the
// Cleaner (spec §3).
type FileBandMeta struct {
	FileName      string
	Offset        int
	SourceFieldID int64
	ValidTime     time.Time
	RunTime       time.Time
	ValsPerLoc    int
}

// FileBandMetaRepository is the Catalog's repository for file band
// metadata.
type FileBandMetaRepository struct {
	DB *sql.DB
}

// NewFileBandMetaRepository constructs a FileBandMetaRepository.
func NewFileBandMetaRepository(db *sql.DB) *FileBandMetaRepository {
	return &FileBandMetaRepository{DB: db}
}

// Create inserts a FileBandMeta row within an existing transaction (see
// FileMetaRepository.Create for the atomicity rationale).
func (r *FileBandMetaRepository) Create(tx *sql.Tx, b *FileBandMeta) error {
	_, err := tx.Exec(
		`INSERT INTO file_band_meta (file_name, "offset", source_field_id, valid_time, run_time, vals_per_loc)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		b.FileName, b.Offset, b.SourceFieldID, b.ValidTime, b.RunTime, b.ValsPerLoc,
	)
	if err != nil {
		return fmt.Errorf("create file band meta: %w", err)
	}
	return nil
}

// FindForQuery returns every band for the given source fields whose
// valid_time falls in [start, end), ordered by (valid_time, run_time) —
// the ordering spec §4.8 step 5 requires of the final result.
func (r *FileBandMetaRepository) FindForQuery(sourceFieldIDs []int64, start, end time.Time) ([]FileBandMeta, error) {
	if len(sourceFieldIDs) == 0 {
		return nil, nil
	}
	rows, err := r.DB.Query(
		`SELECT file_name, "offset", source_field_id, valid_time, run_time, vals_per_loc
		 FROM file_band_meta
		 WHERE source_field_id = ANY($1) AND valid_time >= $2 AND valid_time < $3
		 ORDER BY valid_time, run_time`,
		pq.Array(sourceFieldIDs), start, end,
	)
	if err != nil {
		return nil, fmt.Errorf("find bands for query: %w", err)
	}
	defer rows.Close()

	var out []FileBandMeta
	for rows.Next() {
		var b FileBandMeta
		if err := rows.Scan(&b.FileName, &b.Offset, &b.SourceFieldID, &b.ValidTime, &b.RunTime, &b.ValsPerLoc); err != nil {
			return nil, fmt.Errorf("scan file band meta: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// FindLiveByFileName returns bands with valid_time >= cutoff for a file —
// the Merger's "indices still referenced by its live bands" step (spec
// §4.6 step 1); bands older than cutoff are deliberately excluded so the
// merge leaves them for the Cleaner.
func (r *FileBandMetaRepository) FindLiveByFileName(fileName string, cutoff time.Time) ([]FileBandMeta, error) {
	rows, err := r.DB.Query(
		`SELECT file_name, "offset", source_field_id, valid_time, run_time, vals_per_loc
		 FROM file_band_meta WHERE file_name = $1 AND valid_time >= $2
		 ORDER BY "offset"`,
		fileName, cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("find live bands: %w", err)
	}
	defer rows.Close()

	var out []FileBandMeta
	for rows.Next() {
		var b FileBandMeta
		if err := rows.Scan(&b.FileName, &b.Offset, &b.SourceFieldID, &b.ValidTime, &b.RunTime, &b.ValsPerLoc); err != nil {
			return nil, fmt.Errorf("scan file band meta: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// Repoint moves a band's (file_name, offset) to its merged location
// within tx — spec §4.6 step 6.
func (r *FileBandMetaRepository) Repoint(tx *sql.Tx, oldFileName string, oldOffset int, newFileName string, newOffset int) error {
	_, err := tx.Exec(
		`UPDATE file_band_meta SET file_name = $3, "offset" = $4 WHERE file_name = $1 AND "offset" = $2`,
		oldFileName, oldOffset, newFileName, newOffset,
	)
	if err != nil {
		return fmt.Errorf("repoint file band meta: %w", err)
	}
	return nil
}

// DeleteExpired removes bands older than the retention horizon — Cleaner
// step 1 (spec §4.7).
func (r *FileBandMetaRepository) DeleteExpired(retention time.Duration) (int64, error) {
	res, err := r.DB.Exec(`DELETE FROM file_band_meta WHERE valid_time < $1`, time.Now().UTC().Add(-retention))
	if err != nil {
		return 0, fmt.Errorf("delete expired bands: %w", err)
	}
	return res.RowsAffected()
}

// DeleteSupersededRuns keeps only the max run_time band for each
// (source_field_id, valid_time) where valid_time < now-1h, deleting the
// rest — Cleaner step 2 (spec §4.7).
func (r *FileBandMetaRepository) DeleteSupersededRuns() (int64, error) {
	res, err := r.DB.Exec(`
		DELETE FROM file_band_meta fbm
		USING (
			SELECT source_field_id, valid_time, MAX(run_time) AS max_run
			FROM file_band_meta
			WHERE valid_time < NOW() - INTERVAL '1 hour'
			GROUP BY source_field_id, valid_time
		) latest
		WHERE fbm.source_field_id = latest.source_field_id
		  AND fbm.valid_time = latest.valid_time
		  AND fbm.valid_time < NOW() - INTERVAL '1 hour'
		  AND fbm.run_time <> latest.max_run
	`)
	if err != nil {
		return 0, fmt.Errorf("delete superseded runs: %w", err)
	}
	return res.RowsAffected()
}
