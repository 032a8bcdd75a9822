package decode

import (
	"context"
	"fmt"
	"hash/crc32"
	"math"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/nimbusgrid/nimbus/internal/catalog"
)

// NormalizeLongitude maps a longitude in [0,360) onto [-180,180), the
// normalization spec §4.3 requires before hashing and before storage so
// that the same physical grid hashes identically regardless of which
// convention the producer used.
func NormalizeLongitude(lon float64) float64 {
	lon = math.Mod(lon, 360)
	if lon < 0 {
		lon += 360
	}
	if lon >= 180 {
		lon -= 360
	}
	return lon
}

// LLHash computes crc32(round(lats,8) || round(lons,8)) over the
// normalized grid, the projection-identity hash of spec §4.3. Longitudes
// are normalized to [-180,180) first so a grid described in [0,360) and
// the same grid described in [-180,180) hash identically (the
// "projection stability" testable property of spec §8).
func LLHash(lats, lons [][]float64) int64 {
	crc := crc32.NewIEEE()
	var buf [8]byte
	for y := range lats {
		for x := range lats[y] {
			writeRounded(crc, buf[:], lats[y][x])
			writeRounded(crc, buf[:], NormalizeLongitude(lons[y][x]))
		}
	}
	return int64(crc.Sum32())
}

func writeRounded(crc interface{ Write([]byte) (int, error) }, buf []byte, v float64) {
	rounded := math.Round(v*1e8) / 1e8
	bits := math.Float64bits(rounded)
	for i := 0; i < 8; i++ {
		buf[i] = byte(bits >> (8 * i))
	}
	crc.Write(buf)
}

// ProjectionRegistry deduplicates grid definitions by (ll_hash, n_x, n_y),
// creating a new catalog.Projection on first sighting and caching
// lookups in an LRU so repeated ingests for an already-known grid skip
// the round trip to the Catalog store — the "lut_meta" cache design note
// of spec §9, exercised here at decode time rather than only at query
// time.
type ProjectionRegistry struct {
	repo  *catalog.ProjectionRepository
	cache *lru.Cache[int64, *catalog.Projection]
}

// NewProjectionRegistry constructs a ProjectionRegistry with a
// process-lifetime cache of up to size recently resolved projections.
func NewProjectionRegistry(repo *catalog.ProjectionRepository, size int) (*ProjectionRegistry, error) {
	cache, err := lru.New[int64, *catalog.Projection](size)
	if err != nil {
		return nil, fmt.Errorf("new projection cache: %w", err)
	}
	return &ProjectionRegistry{repo: repo, cache: cache}, nil
}

// Resolve looks up or creates the Projection for a decoded grid,
// normalizing longitudes before hashing and before storage as spec §4.3
// requires.
func (pr *ProjectionRegistry) Resolve(ctx context.Context, lats, lons [][]float64) (*catalog.Projection, error) {
	ny := len(lats)
	nx := 0
	if ny > 0 {
		nx = len(lats[0])
	}
	normLons := make([][]float64, ny)
	for y := range lons {
		row := make([]float64, len(lons[y]))
		for x, v := range lons[y] {
			row[x] = NormalizeLongitude(v)
		}
		normLons[y] = row
	}

	llHash := LLHash(lats, normLons)
	if p, ok := pr.cache.Get(llHash); ok && p.NX == nx && p.NY == ny {
		return p, nil
	}

	existing, err := pr.repo.FindByHash(llHash, nx, ny)
	if err != nil {
		return nil, fmt.Errorf("resolve projection: %w", err)
	}
	if existing != nil {
		pr.cache.Add(llHash, existing)
		return existing, nil
	}

	p := &catalog.Projection{NX: nx, NY: ny, Lats: lats, Lons: normLons, LLHash: llHash}
	id, err := pr.repo.Create(p)
	if err != nil {
		return nil, fmt.Errorf("create projection: %w", err)
	}
	p.ID = id
	pr.cache.Add(llHash, p)
	return p, nil
}
