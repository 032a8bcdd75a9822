package reduce

import (
	"reflect"
	"strings"
	"testing"
)

// TestParseIndexScenario5 pins spec §8 Scenario 5's worked example: given
// the index below with {TMP@2m, UGRD@10m} selected, the emitted ranges
// are exactly [(0,1024), (2048,1024)] — the duplicate offset at 2048
// (UGRD/VGRD sharing a byte-range header) coalesces into one range, and
// VIS/XXX are dropped since they weren't selected.
func TestParseIndexScenario5(t *testing.T) {
	idx := strings.Join([]string{
		"1:0:d=…:TMP:2 m above ground:1 hour fcst:",
		"2:1024:d=…:VIS:surface:1 hour fcst:",
		"3:2048:d=…:UGRD:10 m above ground:1 hour fcst:",
		"3:2048:d=…:VGRD:10 m above ground:1 hour fcst:",
		"4:3072:d=…:XXX:surface:1 hour fcst:",
	}, "\n")

	selected := map[FieldKey]bool{
		{ShortName: "TMP", Level: "2 m above ground"}:  true,
		{ShortName: "UGRD", Level: "10 m above ground"}: true,
	}

	got, err := ParseIndex(idx, selected)
	if err != nil {
		t.Fatalf("ParseIndex: %v", err)
	}
	want := []ByteRange{
		{Start: 0, Length: 1024},
		{Start: 2048, Length: 1024},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ParseIndex() = %+v, want %+v", got, want)
	}
}

// TestParseIndexDropsTrailingSelectedRecord covers the documented edge
// case: a selected record with no following record has no computable
// length and is dropped rather than panicking or emitting a bogus range.
func TestParseIndexDropsTrailingSelectedRecord(t *testing.T) {
	idx := strings.Join([]string{
		"1:0:d=…:TMP:2 m above ground:1 hour fcst:",
		"2:1024:d=…:UGRD:10 m above ground:1 hour fcst:",
	}, "\n")

	selected := map[FieldKey]bool{
		{ShortName: "UGRD", Level: "10 m above ground"}: true,
	}

	got, err := ParseIndex(idx, selected)
	if err != nil {
		t.Fatalf("ParseIndex: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("ParseIndex() = %+v, want no ranges (trailing record has no end offset)", got)
	}
}

func TestParseIndexNoSelection(t *testing.T) {
	idx := "1:0:d=…:TMP:2 m above ground:1 hour fcst:\n2:1024:d=…:VIS:surface:1 hour fcst:\n"
	got, err := ParseIndex(idx, map[FieldKey]bool{})
	if err != nil {
		t.Fatalf("ParseIndex: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("ParseIndex() = %+v, want no ranges when nothing is selected", got)
	}
}
