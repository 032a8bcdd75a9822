// Package decode implements the gridded-file Decoder of spec §4.3: parse
// a reduced buffer into self-describing messages, compute each message's
// projection identity, and apply the end-valid-time rule. The GRIB2
// parsing itself is delegated to the teacher's own dependency,
// `github.com/nilsmagnus/grib/griblib` (see griblib_adapter.go); the
// identity/valid-time logic here is pure Go and independent of it.
package decode

import "time"

// RawMessage is one decoded gridded message: a 2-D value array plus the
// metadata spec §4.3 requires be carried alongside it.
type RawMessage struct {
	ShortName         string
	Level             string
	Values            [][]float64 // [y][x]
	Lats              [][]float64 // [y][x]
	Lons              [][]float64 // [y][x]
	ValidDate         time.Time
	AnalDate          time.Time
	StepType          string // "avg", "accum", "" (instant)
	LengthOfTimeRange time.Duration
}

// ValidTime applies the end-valid-time rule of spec §4.3: for
// average/accumulation messages with a known statistical-processing
// length, valid_time is the end of the interval
// (analDate + forecastTime + lengthOfTimeRange, i.e. validDate +
// lengthOfTimeRange); otherwise valid_time is simply validDate.
func (m RawMessage) ValidTime() time.Time {
	if (m.StepType == "avg" || m.StepType == "accum") && m.LengthOfTimeRange > 0 {
		return m.ValidDate.Add(m.LengthOfTimeRange)
	}
	return m.ValidDate
}
