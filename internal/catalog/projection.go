package catalog

import (
	"bytes"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
)

// Projection is a specific 2-D lat/lon grid definition, identified by
// shape plus a hash of its (rounded) lat/lon arrays. Created on first
// sighting of a new grid; immutable thereafter (spec §3).
type Projection struct {
	ID   int64
	NX   int
	NY   int
	Lats [][]float64 // n_y x n_x
	Lons [][]float64 // n_y x n_x
	LLHash int64
}

// ProjectionRepository is the Catalog's repository for projections.
type ProjectionRepository struct {
	DB *sql.DB
}

// NewProjectionRepository constructs a ProjectionRepository.
func NewProjectionRepository(db *sql.DB) *ProjectionRepository {
	return &ProjectionRepository{DB: db}
}

// FindByHash looks up a Projection by (ll_hash, n_x, n_y) — the
// projection-identity lookup key of spec §4.3. Returns (nil, nil) if no
// matching grid has been seen before.
func (r *ProjectionRepository) FindByHash(llHash int64, nx, ny int) (*Projection, error) {
	var p Projection
	var latsBlob, lonsBlob []byte
	err := r.DB.QueryRow(
		`SELECT id, n_x, n_y, lats, lons, ll_hash FROM projections WHERE ll_hash = $1 AND n_x = $2 AND n_y = $3`,
		llHash, nx, ny,
	).Scan(&p.ID, &p.NX, &p.NY, &latsBlob, &lonsBlob, &p.LLHash)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find projection by hash: %w", err)
	}
	p.Lats = decodeGrid(latsBlob, p.NY, p.NX)
	p.Lons = decodeGrid(lonsBlob, p.NY, p.NX)
	return &p, nil
}

// FindByID looks up a Projection by id, returning (nil, nil) if absent.
func (r *ProjectionRepository) FindByID(id int64) (*Projection, error) {
	var p Projection
	var latsBlob, lonsBlob []byte
	err := r.DB.QueryRow(
		`SELECT id, n_x, n_y, lats, lons, ll_hash FROM projections WHERE id = $1`, id,
	).Scan(&p.ID, &p.NX, &p.NY, &latsBlob, &lonsBlob, &p.LLHash)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find projection by id: %w", err)
	}
	p.Lats = decodeGrid(latsBlob, p.NY, p.NX)
	p.Lons = decodeGrid(lonsBlob, p.NY, p.NX)
	return &p, nil
}

// FindAll returns every known projection, for callers (the Merger, the
// Cleaner) that sweep all grids rather than looking one up by key.
func (r *ProjectionRepository) FindAll() ([]Projection, error) {
	rows, err := r.DB.Query(`SELECT id, n_x, n_y, lats, lons, ll_hash FROM projections`)
	if err != nil {
		return nil, fmt.Errorf("find all projections: %w", err)
	}
	defer rows.Close()

	var out []Projection
	for rows.Next() {
		var p Projection
		var latsBlob, lonsBlob []byte
		if err := rows.Scan(&p.ID, &p.NX, &p.NY, &latsBlob, &lonsBlob, &p.LLHash); err != nil {
			return nil, fmt.Errorf("scan projection: %w", err)
		}
		p.Lats = decodeGrid(latsBlob, p.NY, p.NX)
		p.Lons = decodeGrid(lonsBlob, p.NY, p.NX)
		out = append(out, p)
	}
	return out, rows.Err()
}

// Create inserts a new Projection and returns its id. Callers must have
// already checked FindByHash to avoid racing duplicate grids; a unique
// constraint on (ll_hash, n_x, n_y) is the last line of defense.
func (r *ProjectionRepository) Create(p *Projection) (int64, error) {
	var id int64
	err := r.DB.QueryRow(
		`INSERT INTO projections (n_x, n_y, lats, lons, ll_hash) VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		p.NX, p.NY, encodeGrid(p.Lats), encodeGrid(p.Lons), p.LLHash,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("create projection: %w", err)
	}
	return id, nil
}

// encodeGrid packs a row-major n_y x n_x float64 grid as little-endian
// bytes for storage in a bytea column.
func encodeGrid(grid [][]float64) []byte {
	buf := new(bytes.Buffer)
	for _, row := range grid {
		for _, v := range row {
			var b [8]byte
			binary.LittleEndian.PutUint64(b[:], math.Float64bits(v))
			buf.Write(b[:])
		}
	}
	return buf.Bytes()
}

// decodeGrid is the inverse of encodeGrid, given the stored shape.
func decodeGrid(blob []byte, ny, nx int) [][]float64 {
	grid := make([][]float64, ny)
	i := 0
	for y := 0; y < ny; y++ {
		row := make([]float64, nx)
		for x := 0; x < nx; x++ {
			bits := binary.LittleEndian.Uint64(blob[i : i+8])
			row[x] = math.Float64frombits(bits)
			i += 8
		}
		grid[y] = row
	}
	return grid
}
