// Package derive implements the per-source derived-field generator hook
// of spec §4.4. The reference case, HRRR wind speed/direction from U/V
// components, is implemented directly; other sources may register their
// own Generator.
package derive

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/nimbusgrid/nimbus/internal/decode"
)

// DerivedArray is one synthetic (field, valid_time, run_time) array
// produced by a Generator, ready for the Writer to group by projection
// alongside the directly-decoded arrays.
type DerivedArray struct {
	MetricName string
	ValidTime  time.Time
	RunTime    time.Time
	Values     [][]float64
}

// Generator is the per-source derived-field hook of spec §4.4: given the
// decoded message collection for one ingest task, it returns additional
// arrays to write under the same projection.
type Generator interface {
	Derive(messages []decode.RawMessage) ([]DerivedArray, error)
}

// WindGenerator is the reference case: pairs "10 metre U wind component"
// and "10 metre V wind component" messages by (valid_time, run_time) and
// emits wind-speed and wind-direction arrays.
type WindGenerator struct {
	UShortName string
	VShortName string
}

// NewWindGenerator constructs a WindGenerator for the conventional GRIB2
// short names for 10 m wind components.
func NewWindGenerator() *WindGenerator {
	return &WindGenerator{UShortName: "10 metre U wind component", VShortName: "10 metre V wind component"}
}

// Derive implements Generator.
func (g *WindGenerator) Derive(messages []decode.RawMessage) ([]DerivedArray, error) {
	var us, vs []decode.RawMessage
	for _, m := range messages {
		switch m.ShortName {
		case g.UShortName:
			us = append(us, m)
		case g.VShortName:
			vs = append(vs, m)
		}
	}

	sortByValidRun(us)
	sortByValidRun(vs)

	if len(us) != len(vs) {
		return nil, fmt.Errorf("wind derive: %d U messages but %d V messages", len(us), len(vs))
	}

	var out []DerivedArray
	for i := range us {
		u, v := us[i], vs[i]
		if !u.ValidTime().Equal(v.ValidTime()) || !u.AnalDate.Equal(v.AnalDate) {
			return nil, fmt.Errorf("wind derive: U/V pair %d not aligned on (valid_time, run_time)", i)
		}

		speed, err := zipGrids(u.Values, v.Values, windSpeed)
		if err != nil {
			return nil, fmt.Errorf("wind speed: %w", err)
		}
		direction, err := zipGrids(u.Values, v.Values, windDirection)
		if err != nil {
			return nil, fmt.Errorf("wind direction: %w", err)
		}

		out = append(out,
			DerivedArray{MetricName: "wind_speed", ValidTime: u.ValidTime(), RunTime: u.AnalDate, Values: speed},
			DerivedArray{MetricName: "wind_direction", ValidTime: u.ValidTime(), RunTime: u.AnalDate, Values: direction},
		)
	}
	return out, nil
}

// windSpeed computes |u + iv| = sqrt(u^2+v^2) (spec §8 testable
// property: within 1 ULP of float32).
func windSpeed(u, v float64) float64 {
	return math.Sqrt(u*u + v*v)
}

// windDirection computes the "blowing toward" bearing
// (90 - atan2(v,u)) mod 360, the convention pinned by Open Question
// decision 2 in SPEC_FULL.md. direction(0,0) is defined as 0.
func windDirection(u, v float64) float64 {
	if u == 0 && v == 0 {
		return 0
	}
	angle := math.Atan2(v, u) * 180 / math.Pi
	dir := math.Mod(90-angle, 360)
	if dir < 0 {
		dir += 360
	}
	return dir
}

func sortByValidRun(msgs []decode.RawMessage) {
	sort.Slice(msgs, func(i, j int) bool {
		vi, vj := msgs[i].ValidTime(), msgs[j].ValidTime()
		if !vi.Equal(vj) {
			return vi.Before(vj)
		}
		return msgs[i].AnalDate.Before(msgs[j].AnalDate)
	})
}

func zipGrids(a, b [][]float64, f func(x, y float64) float64) ([][]float64, error) {
	if len(a) != len(b) {
		return nil, fmt.Errorf("grid row count mismatch: %d vs %d", len(a), len(b))
	}
	out := make([][]float64, len(a))
	for y := range a {
		if len(a[y]) != len(b[y]) {
			return nil, fmt.Errorf("grid row %d length mismatch: %d vs %d", y, len(a[y]), len(b[y]))
		}
		row := make([]float64, len(a[y]))
		for x := range a[y] {
			row[x] = f(a[y][x], b[y][x])
		}
		out[y] = row
	}
	return out, nil
}
