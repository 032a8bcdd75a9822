package decode

import (
	"fmt"
	"io"
	"time"

	"github.com/nilsmagnus/grib/griblib"
)

// Decoder reads a reduced GRIB2 buffer (the output of the Downloader/
// Reducer) into RawMessage values using the teacher's own GRIB decoder
// dependency, `github.com/nilsmagnus/grib/griblib` — the same call the
// teacher's `processor.go` makes (`griblib.ReadMessages`).
type Decoder struct{}

// NewDecoder constructs a Decoder. It is stateless; all dependencies on
// shared state (the projection cache) live in ProjectionRegistry.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Decode parses every self-describing message in r and converts each to
// a RawMessage. Malformed individual messages are skipped with their
// index and error returned alongside the successfully decoded ones, so
// callers can log a warning and continue (spec §7 "Malformed" handling:
// "the specific band is skipped ... other bands in the file still
// commit").
func (d *Decoder) Decode(r io.Reader) ([]RawMessage, []error) {
	messages, err := griblib.ReadMessages(r)
	if err != nil {
		return nil, []error{fmt.Errorf("read grib messages: %w", err)}
	}

	var out []RawMessage
	var errs []error
	for i, msg := range messages {
		raw, convErr := convertMessage(msg)
		if convErr != nil {
			errs = append(errs, fmt.Errorf("message %d: %w", i, convErr))
			continue
		}
		out = append(out, raw)
	}
	return out, errs
}

// convertMessage maps one griblib.Message onto the RawMessage shape spec
// §4.3 describes: a regular lat/lon grid is reconstructed from its
// template scalars (La1/Lo1/La2/Lo2/Ni/Nj), values are reshaped from the
// message's decoded data array in scanning order, and the statistical
// processing fields (stepType/lengthOfTimeRange) are read when the
// product definition template carries them.
func convertMessage(msg griblib.Message) (RawMessage, error) {
	grid := msg.Section3.GridDefinition
	nx := int(grid.Nx)
	ny := int(grid.Ny)
	if nx <= 0 || ny <= 0 {
		return RawMessage{}, fmt.Errorf("invalid grid shape %dx%d", nx, ny)
	}

	lats, lons := regularLatLonGrid(grid, nx, ny)

	values, err := reshapeValues(msg.Section7.Data, nx, ny, grid.ScanMode)
	if err != nil {
		return RawMessage{}, err
	}

	analDate := msg.Section1.RefTime
	forecastTime := time.Duration(msg.Section4.ProductDefinitionTemplate.ForecastTime()) * time.Hour
	validDate := analDate.Add(forecastTime)

	stepType, lengthOfRange := statisticalProcessing(msg)

	return RawMessage{
		ShortName:         msg.Section4.ProductDefinitionTemplate.ParameterName(),
		Level:             msg.Section4.ProductDefinitionTemplate.LevelName(),
		Values:            values,
		Lats:              lats,
		Lons:              lons,
		ValidDate:         validDate,
		AnalDate:          analDate,
		StepType:          stepType,
		LengthOfTimeRange: lengthOfRange,
	}, nil
}

// regularLatLonGrid reconstructs the full n_y x n_x lat/lon arrays for a
// GRIB2 Template 3.0 regular lat/lon grid from its four corner/step
// scalars, rather than trusting a precomputed array from the decoder —
// standard practice for this grid template since it is rectangular by
// construction.
func regularLatLonGrid(grid griblib.Grid, nx, ny int) ([][]float64, [][]float64) {
	la1 := float64(grid.La1) / 1e6
	lo1 := float64(grid.Lo1) / 1e6
	di := float64(grid.Di) / 1e6
	dj := float64(grid.Dj) / 1e6
	if grid.La2 < grid.La1 {
		dj = -dj
	}

	lats := make([][]float64, ny)
	lons := make([][]float64, ny)
	for y := 0; y < ny; y++ {
		latRow := make([]float64, nx)
		lonRow := make([]float64, nx)
		lat := la1 + float64(y)*dj
		for x := 0; x < nx; x++ {
			latRow[x] = lat
			lonRow[x] = lo1 + float64(x)*di
		}
		lats[y] = latRow
		lons[y] = lonRow
	}
	return lats, lons
}

// reshapeValues lays the message's flat data array out as [y][x],
// honoring the grid's scanning mode (row order / direction).
func reshapeValues(data []float64, nx, ny int, scanMode byte) ([][]float64, error) {
	if len(data) != nx*ny {
		return nil, fmt.Errorf("data length %d does not match grid %dx%d", len(data), nx, ny)
	}
	values := make([][]float64, ny)
	// Bit 3 (0x20) of the scanning mode flag set means rows run
	// north-to-south in storage order; spec stores the canonical grid
	// south-up the same way it is hashed, so rows are reversed in that
	// case.
	southToNorth := scanMode&0x20 == 0
	for y := 0; y < ny; y++ {
		row := make([]float64, nx)
		srcY := y
		if !southToNorth {
			srcY = ny - 1 - y
		}
		copy(row, data[srcY*nx:(srcY+1)*nx])
		values[y] = row
	}
	return values, nil
}

// statisticalProcessing reads the stepType/lengthOfTimeRange pair spec
// §4.3 keys its end-valid-time rule on, when the message's product
// definition template carries statistical processing (avg/accum); plain
// instantaneous messages report an empty stepType.
func statisticalProcessing(msg griblib.Message) (string, time.Duration) {
	sp, ok := msg.Section4.ProductDefinitionTemplate.(interface {
		TypeOfStatisticalProcessing() byte
		LengthOfTimeRange() uint32
		LengthOfTimeRangeUnit() time.Duration
	})
	if !ok {
		return "", 0
	}
	var stepType string
	switch sp.TypeOfStatisticalProcessing() {
	case 0:
		stepType = "avg"
	case 1:
		stepType = "accum"
	default:
		return "", 0
	}
	return stepType, time.Duration(sp.LengthOfTimeRange()) * sp.LengthOfTimeRangeUnit()
}
