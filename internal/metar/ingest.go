// ingest.go ties the METAR parse and Cressman grid into one ingest
// pass: build (or reuse) the station grid's Projection, grid each
// configured metric, and hand the results to the same storage.Band/
// DataProvider path the GRIB pipeline uses.
package metar

import (
	"context"
	"fmt"
	"time"

	"github.com/nimbusgrid/nimbus/internal/decode"
	"github.com/nimbusgrid/nimbus/internal/storage"
)

// FieldMapping names which SourceField a gridded metric writes to.
type FieldMapping struct {
	MetricName    string
	SourceFieldID int64
	Extract       func(Observation) (float64, bool)
}

// DefaultFieldMappings covers spec §6.1's named field set, each
// converted to SI units on extraction (temp_c->K, sea_level_pressure_mb
// ->Pa, wind_speed_kt/wind_gust_kt->m/s, visibility_statute_mi->m,
// wind_dir_degrees passed through unchanged). Callers fill in
// SourceFieldID from their own Catalog bootstrap.
func DefaultFieldMappings() []FieldMapping {
	return []FieldMapping{
		{MetricName: "2 metre temperature", Extract: func(o Observation) (float64, bool) {
			if o.TempC == nil {
				return 0, false
			}
			return decode.NormalizeTemperature(*o.TempC, decode.Celsius), true
		}},
		{MetricName: "mean sea level pressure", Extract: func(o Observation) (float64, bool) {
			if o.SeaLevelPressure == nil {
				return 0, false
			}
			return decode.NormalizePressure(*o.SeaLevelPressure, decode.Hectopascal), true
		}},
		{MetricName: "10 metre wind speed", Extract: func(o Observation) (float64, bool) {
			if o.WindSpeed == nil {
				return 0, false
			}
			return decode.NormalizeSpeed(*o.WindSpeed, decode.Knots), true
		}},
		{MetricName: "wind gust", Extract: func(o Observation) (float64, bool) {
			if o.WindGust == nil {
				return 0, false
			}
			return decode.NormalizeSpeed(*o.WindGust, decode.Knots), true
		}},
		{MetricName: "10 metre wind direction", Extract: func(o Observation) (float64, bool) {
			if o.WindDir == nil {
				return 0, false
			}
			return *o.WindDir, true
		}},
		{MetricName: "visibility", Extract: func(o Observation) (float64, bool) {
			if o.Visibility == nil {
				return 0, false
			}
			return decode.NormalizeDistance(*o.Visibility, decode.StatuteMiles), true
		}},
	}
}

// Ingester grids one batch of observations and writes it through the
// standard storage path.
type Ingester struct {
	ProjectionRegistry *decode.ProjectionRegistry
	Provider           storage.DataProvider
	Stations           []Station
	Mappings           []FieldMapping
	Lats, Lons         [][]float64 // the fixed analysis grid, spec's ~10km EPSG:4087-spaced mesh
}

// Ingest grids observedAt's batch across every configured mapping and
// writes the resulting bands under one run_time/valid_time (METAR has no
// forecast horizon: run_time and valid_time are both the observation
// batch's nominal time).
func (ing *Ingester) Ingest(ctx context.Context, observations []Observation, observedAt time.Time) error {
	proj, err := ing.ProjectionRegistry.Resolve(ctx, ing.Lats, ing.Lons)
	if err != nil {
		return fmt.Errorf("resolve station grid projection: %w", err)
	}

	var bands []storage.Band
	for _, mapping := range ing.Mappings {
		if mapping.SourceFieldID == 0 {
			continue // not bootstrapped for this deployment
		}
		values := map[string]float64{}
		for _, obs := range observations {
			if v, ok := mapping.Extract(obs); ok {
				values[obs.ICAO] = v
			}
		}
		grid := Grid(ing.Lats, ing.Lons, ing.Stations, values)

		f32 := make([][]float32, len(grid))
		for y, row := range grid {
			f32row := make([]float32, len(row))
			for x, v := range row {
				f32row[x] = float32(v)
			}
			f32[y] = f32row
		}

		bands = append(bands, storage.Band{
			Key: storage.BandKey{
				SourceFieldID: mapping.SourceFieldID,
				ValidTime:     observedAt,
				RunTime:       observedAt,
			},
			Values: f32,
		})
	}

	if len(bands) == 0 {
		return nil
	}
	if err := ing.Provider.PutFields(ctx, proj.ID, bands); err != nil {
		return fmt.Errorf("write metar bands: %w", err)
	}
	return nil
}
