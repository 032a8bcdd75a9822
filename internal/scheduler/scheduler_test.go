package scheduler

import (
	"reflect"
	"testing"
	"time"
)

func hrrrSchedule() SourceSchedule {
	return SourceSchedule{
		ShortName:   "hrrr",
		CycleHours:  1,
		PublishLag:  70 * time.Minute,
		URLTemplate: "https://example.test/hrrr.{yyyymmdd}/conus/hrrr.t{HH}z.wrfsubhf{hh}.grib2",
		IdxTemplate: "https://example.test/hrrr.{yyyymmdd}/conus/hrrr.t{HH}z.wrfsubhf{hh}.grib2.idx",
		HorizonSteps: []HorizonStep{
			{FromHour: 0, ToHour: 19, StepHours: 1},
		},
	}
}

func TestCanonicalRunTimeHourlyFloor(t *testing.T) {
	s := hrrrSchedule()
	now := time.Date(2026, 7, 30, 14, 42, 17, 0, time.UTC)
	got := s.CanonicalRunTime(now)
	want := time.Date(2026, 7, 30, 14, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("CanonicalRunTime(%v) = %v, want %v", now, got, want)
	}
}

func TestCanonicalRunTimeSixHourlyFloor(t *testing.T) {
	s := SourceSchedule{CycleHours: 6}
	now := time.Date(2026, 7, 30, 14, 42, 17, 0, time.UTC)
	got := s.CanonicalRunTime(now)
	want := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("CanonicalRunTime(%v) = %v, want %v", now, got, want)
	}
}

func TestAcquireTime(t *testing.T) {
	s := hrrrSchedule()
	runTime := time.Date(2026, 7, 30, 14, 0, 0, 0, time.UTC)
	want := time.Date(2026, 7, 30, 15, 10, 0, 0, time.UTC)
	if got := s.AcquireTime(runTime); !got.Equal(want) {
		t.Errorf("AcquireTime() = %v, want %v", got, want)
	}
}

func TestHorizonsHourlyStep(t *testing.T) {
	s := hrrrSchedule()
	got := s.Horizons()
	if len(got) != 19 {
		t.Fatalf("Horizons() returned %d steps, want 19", len(got))
	}
	if got[0] != 0 || got[len(got)-1] != 18 {
		t.Errorf("Horizons() = %v, want to start at 0 and end at 18", got)
	}
}

func TestHorizonsWideningSteps(t *testing.T) {
	s := SourceSchedule{
		HorizonSteps: []HorizonStep{
			{FromHour: 0, ToHour: 48, StepHours: 1},
			{FromHour: 48, ToHour: 120, StepHours: 3},
		},
	}
	got := s.Horizons()
	want := 48 + (120-48)/3
	if len(got) != want {
		t.Errorf("Horizons() returned %d steps, want %d", len(got), want)
	}
	if got[48] != 48 {
		t.Errorf("Horizons()[48] = %d, want 48 (first widened step)", got[48])
	}
	if got[48+1] != 51 {
		t.Errorf("Horizons()[49] = %d, want 51 (3h step after widening)", got[48+1])
	}
}

func TestRenderTemplate(t *testing.T) {
	runTime := time.Date(2026, 7, 30, 6, 0, 0, 0, time.UTC)
	got := renderTemplate("hrrr.{yyyymmdd}/hrrr.t{HH}z.wrfsubhf{hh}.grib2", runTime, 5)
	want := "hrrr.20260730/hrrr.t06z.wrfsubhf05.grib2"
	if got != want {
		t.Errorf("renderTemplate() = %q, want %q", got, want)
	}
}

func TestHorizonStepsTypesMatch(t *testing.T) {
	// Guards the HorizonStep field shape Horizons relies on.
	hs := HorizonStep{FromHour: 1, ToHour: 2, StepHours: 1}
	if !reflect.DeepEqual(hs, HorizonStep{FromHour: 1, ToHour: 2, StepHours: 1}) {
		t.Errorf("HorizonStep equality check failed unexpectedly")
	}
}
