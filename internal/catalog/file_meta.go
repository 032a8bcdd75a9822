package catalog

import (
	"database/sql"
	"fmt"
	"time"
)

// FileMeta is the Catalog row for one physical storage artifact. Created
// by the Writer; deleted only by the Cleaner once no band references it
// (spec §3).
type FileMeta struct {
	FileName     string
	ProjectionID int64
	Ctime        time.Time
	LocSize      int
}

// FileMetaRepository is the Catalog's repository for file metadata.
type FileMetaRepository struct {
	DB *sql.DB
}

// NewFileMetaRepository constructs a FileMetaRepository.
func NewFileMetaRepository(db *sql.DB) *FileMetaRepository {
	return &FileMetaRepository{DB: db}
}

// Create inserts a new FileMeta row within an existing transaction, so
// the Writer can commit it atomically with its FileBandMeta rows (spec
// §5: "all bands and the FileMeta commit atomically").
func (r *FileMetaRepository) Create(tx *sql.Tx, f *FileMeta) error {
	_, err := tx.Exec(
		`INSERT INTO file_meta (file_name, projection_id, ctime, loc_size) VALUES ($1, $2, $3, $4)`,
		f.FileName, f.ProjectionID, f.Ctime, f.LocSize,
	)
	if err != nil {
		return fmt.Errorf("create file meta: %w", err)
	}
	return nil
}

// FindByName looks up a FileMeta by its primary key, returning (nil, nil)
// if absent.
func (r *FileMetaRepository) FindByName(fileName string) (*FileMeta, error) {
	var f FileMeta
	err := r.DB.QueryRow(
		`SELECT file_name, projection_id, ctime, loc_size FROM file_meta WHERE file_name = $1`,
		fileName,
	).Scan(&f.FileName, &f.ProjectionID, &f.Ctime, &f.LocSize)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find file meta: %w", err)
	}
	return &f, nil
}

// FindByProjection returns every FileMeta referenced by at least one live
// band for a projection, ascending by loc_size — the ordering the Merger
// groups batches from (spec §4.6).
func (r *FileMetaRepository) FindByProjection(projectionID int64) ([]FileMeta, error) {
	rows, err := r.DB.Query(
		`SELECT DISTINCT fm.file_name, fm.projection_id, fm.ctime, fm.loc_size
		 FROM file_meta fm
		 JOIN file_band_meta fbm ON fbm.file_name = fm.file_name
		 WHERE fm.projection_id = $1
		 ORDER BY fm.loc_size ASC`,
		projectionID,
	)
	if err != nil {
		return nil, fmt.Errorf("find file meta by projection: %w", err)
	}
	defer rows.Close()

	var out []FileMeta
	for rows.Next() {
		var f FileMeta
		if err := rows.Scan(&f.FileName, &f.ProjectionID, &f.Ctime, &f.LocSize); err != nil {
			return nil, fmt.Errorf("scan file meta: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// FindOrphanedCandidates returns FileMeta rows with no remaining bands
// and ctime older than cutoff — step 3 of the Cleaner (spec §4.7).
func (r *FileMetaRepository) FindOrphanedCandidates(cutoff time.Time) ([]FileMeta, error) {
	rows, err := r.DB.Query(
		`SELECT fm.file_name, fm.projection_id, fm.ctime, fm.loc_size
		 FROM file_meta fm
		 LEFT JOIN file_band_meta fbm ON fbm.file_name = fm.file_name
		 WHERE fbm.file_name IS NULL AND fm.ctime <= $1`,
		cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("find orphaned file meta: %w", err)
	}
	defer rows.Close()

	var out []FileMeta
	for rows.Next() {
		var f FileMeta
		if err := rows.Scan(&f.FileName, &f.ProjectionID, &f.Ctime, &f.LocSize); err != nil {
			return nil, fmt.Errorf("scan file meta: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// Delete removes a FileMeta row. Callers must have already deleted its
// underlying blob objects.
func (r *FileMetaRepository) Delete(fileName string) error {
	_, err := r.DB.Exec(`DELETE FROM file_meta WHERE file_name = $1`, fileName)
	if err != nil {
		return fmt.Errorf("delete file meta: %w", err)
	}
	return nil
}
