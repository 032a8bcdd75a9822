package storage

import (
	"testing"
	"time"
)

// TestTimeSubRangesScenario6 pins spec §8 Scenario 6: a 24h window split
// at queryRangeShardHours produces exactly ceil(24h / shard-hours)
// sub-ranges, each shard-hours wide except possibly the last.
func TestTimeSubRangesScenario6(t *testing.T) {
	start := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(24 * time.Hour)

	got := timeSubRanges(start, end, queryRangeShardHours*time.Hour)

	want := 4 // ceil(24/6)
	if len(got) != want {
		t.Fatalf("timeSubRanges produced %d ranges, want %d", len(got), want)
	}
	if !got[0].start.Equal(start) {
		t.Errorf("first range starts at %v, want %v", got[0].start, start)
	}
	if !got[len(got)-1].end.Equal(end) {
		t.Errorf("last range ends at %v, want %v", got[len(got)-1].end, end)
	}
	for i := 1; i < len(got); i++ {
		if !got[i-1].end.Equal(got[i].start) {
			t.Errorf("range %d end %v does not abut range %d start %v", i-1, got[i-1].end, i, got[i].start)
		}
	}
}

func TestTimeSubRangesShortWindow(t *testing.T) {
	start := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(2 * time.Hour)

	got := timeSubRanges(start, end, queryRangeShardHours*time.Hour)
	if len(got) != 1 {
		t.Fatalf("timeSubRanges produced %d ranges, want 1", len(got))
	}
	if !got[0].start.Equal(start) || !got[0].end.Equal(end) {
		t.Errorf("timeSubRanges = %+v, want a single [start,end) range", got[0])
	}
}

func TestTimeSubRangesEmptyWindow(t *testing.T) {
	start := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	if got := timeSubRanges(start, start, time.Hour); got != nil {
		t.Errorf("timeSubRanges(start,start) = %+v, want nil", got)
	}
}

func TestCompressDecompressFloat32sRoundTrip(t *testing.T) {
	values := []float32{1.5, -2.25, 0, 3.125, 100.0}
	data, err := compressFloat32s(values)
	if err != nil {
		t.Fatalf("compressFloat32s: %v", err)
	}
	got, err := decompressFloat32s(data)
	if err != nil {
		t.Fatalf("decompressFloat32s: %v", err)
	}
	if len(got) != len(values) {
		t.Fatalf("round trip length = %d, want %d", len(got), len(values))
	}
	for i, v := range values {
		if got[i] != v {
			t.Errorf("round trip[%d] = %v, want %v", i, got[i], v)
		}
	}
}

func TestPartitionAndRowKey(t *testing.T) {
	if got := partitionKey(7, 100); got != "7-100" {
		t.Errorf("partitionKey(7,100) = %q, want \"7-100\"", got)
	}
	valid := time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)
	run := time.Date(2026, 7, 1, 6, 0, 0, 0, time.UTC)
	want := "2026-07-01T12:00:00Z,2026-07-01T06:00:00Z,1"
	if got := rowKey(valid, run, 1); got != want {
		t.Errorf("rowKey() = %q, want %q", got, want)
	}
}
