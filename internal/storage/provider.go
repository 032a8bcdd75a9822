// Package storage implements the Writer's Blob store abstraction: the
// uniform DataProvider interface of spec §4.5 and its two concrete,
// statically-selected backends (s3store.go: object-store range-read;
// widecolumn.go: partition/row). The object-store backend records its
// artifacts in the Catalog's FileMeta/FileBandMeta tables
// (internal/catalog); the wide-column backend keeps everything in its own
// wide_column_rows table and writes no FileMeta/FileBandMeta rows.
package storage

import (
	"context"
	"time"
)

// DataPointSet is a transient record of one or more float values at a
// given (valid_time, source_field, run_time), produced by a backend's
// GetFields (spec §3).
type DataPointSet struct {
	Values        []float32
	MetricID      int64
	ValidTime     time.Time
	SourceFieldID int64
	RunTime       time.Time
	Derived       bool
	Synthesized   bool
}

// BandKey identifies one (source_field_id, valid_time, run_time) band.
type BandKey struct {
	SourceFieldID int64
	ValidTime     time.Time
	RunTime       time.Time
}

// Band is one decoded (or derived) array to write, carrying its key
// alongside the n_y x n_x values. PutFields takes an ordered slice
// rather than a map so band-insertion order — and therefore each band's
// byte offset within the packed row (spec §4.5.1) — is deterministic.
type Band struct {
	Key    BandKey
	Values [][]float32 // [y][x]
}

// DataProvider is the pluggable Blob store capability of spec §4.5 and
// §9 ("Dynamic dispatch over DataProvider"): put_fields, get_fields,
// clean, merge. Exactly one concrete backend is wired per deployment via
// config.StorageConfig.Provider.
type DataProvider interface {
	// PutFields writes every band in fields under projectionID. The
	// object-store backend records FileMeta/FileBandMeta in the Catalog
	// in one transaction after its blobs land (spec §5); the wide-column
	// backend upserts its own rows only.
	PutFields(ctx context.Context, projectionID int64, bands []Band) error

	// GetFields fans out reads for the given source fields at grid
	// point (x,y) within [start,end) and returns the matching
	// DataPointSets.
	GetFields(ctx context.Context, projectionID int64, x, y int, sourceFieldIDs []int64, start, end time.Time) ([]DataPointSet, error)

	// Clean drops bands/objects older than oldestTime it owns directly
	// (the Cleaner, internal/clean, drives most retention through the
	// Catalog; Clean here is for backend-specific physical cleanup a
	// Catalog-only sweep cannot see, e.g. truly orphaned objects).
	Clean(ctx context.Context, oldestTime time.Time) error

	// Merge runs the backend's compaction policy. For the wide-column
	// backend this is a no-op (spec §4.6: "its layout is already merged
	// by row").
	Merge(ctx context.Context) error
}
