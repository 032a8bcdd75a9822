// Package query implements the point-query service of spec §4.8: given
// a coordinate, a time window, and a set of metric names, resolve the
// SourceFields that cover them, locate the covering grid cell per
// projection, and fan out DataProvider.GetFields calls to assemble a
// flat, time-ordered result.
package query

import (
	"context"
	"fmt"
	"sort"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"

	"github.com/nimbusgrid/nimbus/internal/catalog"
	"github.com/nimbusgrid/nimbus/internal/storage"
)

// Point is one resolved sample, ready for the HTTP layer to serialize.
type Point struct {
	MetricID   int64
	MetricName string
	Units      string
	ValidTime  time.Time
	RunTime    time.Time
	Value      float32
	Derived    bool
}

// Result is the outcome of one Query call. Metrics with no SourceField
// covering the requested point are reported separately rather than
// silently dropped (spec §7: "not covered" is a distinct outcome from
// "no data in range").
type Result struct {
	Points     []Point
	NotCovered []string // metric names with no SourceField, or no grid cell, covering this point
}

// Service is the point-query entry point.
type Service struct {
	SourceFieldRepo *catalog.SourceFieldRepository
	MetricRepo      *catalog.MetricRepository
	ProjectionRepo  *catalog.ProjectionRepository
	Provider        storage.DataProvider
	FanOutLimit     int // spec §4.8: "bounded worker pool, ~10"

	projectionCache *lru.Cache[int64, *catalog.Projection]
}

// New constructs a Service with the spec's default fan-out and a
// projection lookup cache (spec §9 design note "lut_meta": resolving a
// projection's full lat/lon grid from the Catalog on every query is
// wasteful since projections are immutable once created).
func New(sourceFieldRepo *catalog.SourceFieldRepository, metricRepo *catalog.MetricRepository, projectionRepo *catalog.ProjectionRepository, provider storage.DataProvider) *Service {
	cache, _ := lru.New[int64, *catalog.Projection](64)
	return &Service{
		SourceFieldRepo: sourceFieldRepo,
		MetricRepo:      metricRepo,
		ProjectionRepo:  projectionRepo,
		Provider:        provider,
		FanOutLimit:     10,
		projectionCache: cache,
	}
}

// Query resolves metricNames at (lat, lon) over [start, end).
func (s *Service) Query(ctx context.Context, lat, lon float64, start, end time.Time, metricNames []string) (*Result, error) {
	metricsByID := map[int64]catalog.Metric{}
	var metricIDs []int64
	result := &Result{}

	for _, name := range metricNames {
		m, err := s.MetricRepo.FindByName(name)
		if err != nil {
			return nil, fmt.Errorf("find metric %q: %w", name, err)
		}
		if m == nil {
			result.NotCovered = append(result.NotCovered, name)
			continue
		}
		metricsByID[m.ID] = *m
		metricIDs = append(metricIDs, m.ID)
	}
	if len(metricIDs) == 0 {
		return result, nil
	}

	fields, err := s.SourceFieldRepo.FindByMetrics(metricIDs)
	if err != nil {
		return nil, fmt.Errorf("find source fields: %w", err)
	}

	coveredMetricIDs := map[int64]bool{}
	byProjection := map[int64][]catalog.SourceField{}
	for _, f := range fields {
		if !f.ProjectionID.Valid {
			continue
		}
		byProjection[f.ProjectionID.Int64] = append(byProjection[f.ProjectionID.Int64], f)
	}

	type resolved struct {
		fields []catalog.SourceField
		x, y   int
	}
	var toQuery []resolved
	for projID, projFields := range byProjection {
		proj, err := s.lookupProjection(projID)
		if err != nil {
			return nil, fmt.Errorf("find projection %d: %w", projID, err)
		}
		if proj == nil {
			continue
		}
		x, y, ok := GetXYForCoord(proj, lat, lon)
		if !ok {
			continue // not covered; leave its metrics in the uncovered set below
		}
		toQuery = append(toQuery, resolved{fields: projFields, x: x, y: y})
		for _, f := range projFields {
			coveredMetricIDs[f.MetricID] = true
		}
	}

	for id, m := range metricsByID {
		if !coveredMetricIDs[id] {
			result.NotCovered = append(result.NotCovered, m.Name)
		}
	}

	fieldToMetric := map[int64]catalog.Metric{}
	for _, f := range fields {
		fieldToMetric[f.ID] = metricsByID[f.MetricID]
	}

	pointSets := make([][]storage.DataPointSet, len(toQuery))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.FanOutLimit)
	for i, r := range toQuery {
		i, r := i, r
		sourceFieldIDs := make([]int64, len(r.fields))
		for j, f := range r.fields {
			sourceFieldIDs[j] = f.ID
		}
		// Every field in r shares one projection. The object-store
		// backend ignores projectionID and finds its artifacts through
		// the FileBandMeta rows for sourceFieldIDs; the wide-column
		// backend builds its partition key from projectionID and y.
		g.Go(func() error {
			var projID int64
			if len(r.fields) > 0 {
				projID = r.fields[0].ProjectionID.Int64
			}
			sets, err := s.Provider.GetFields(gctx, projID, r.x, r.y, sourceFieldIDs, start, end)
			if err != nil {
				return fmt.Errorf("get fields: %w", err)
			}
			pointSets[i] = sets
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, sets := range pointSets {
		for _, ds := range sets {
			m := fieldToMetric[ds.SourceFieldID]
			for _, v := range ds.Values {
				result.Points = append(result.Points, Point{
					MetricID:   m.ID,
					MetricName: m.Name,
					Units:      m.Units,
					ValidTime:  ds.ValidTime,
					RunTime:    ds.RunTime,
					Value:      v,
					Derived:    ds.Derived,
				})
			}
		}
	}

	sort.Slice(result.Points, func(i, j int) bool {
		a, b := result.Points[i], result.Points[j]
		if !a.ValidTime.Equal(b.ValidTime) {
			return a.ValidTime.Before(b.ValidTime)
		}
		return a.RunTime.Before(b.RunTime)
	})

	return result, nil
}

func (s *Service) lookupProjection(id int64) (*catalog.Projection, error) {
	if p, ok := s.projectionCache.Get(id); ok {
		return p, nil
	}
	p, err := s.ProjectionRepo.FindByID(id)
	if err != nil {
		return nil, err
	}
	if p != nil {
		s.projectionCache.Add(id, p)
	}
	return p, nil
}
