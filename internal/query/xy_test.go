package query

import (
	"testing"

	"github.com/nimbusgrid/nimbus/internal/catalog"
)

// fixtureProjection builds a 5x5 regular grid spanning [30,34] lat x
// [-100,-96] lon, 1 degree spacing.
func fixtureProjection() *catalog.Projection {
	const n = 5
	lats := make([][]float64, n)
	lons := make([][]float64, n)
	for y := 0; y < n; y++ {
		lats[y] = make([]float64, n)
		lons[y] = make([]float64, n)
		for x := 0; x < n; x++ {
			lats[y][x] = 30 + float64(y)
			lons[y][x] = -100 + float64(x)
		}
	}
	return &catalog.Projection{NX: n, NY: n, Lats: lats, Lons: lons}
}

func TestGetXYForCoordInsideGrid(t *testing.T) {
	proj := fixtureProjection()
	x, y, ok := GetXYForCoord(proj, 32.1, -97.9)
	if !ok {
		t.Fatalf("expected coverage inside grid")
	}
	if x != 2 || y != 2 {
		t.Errorf("GetXYForCoord = (%d,%d), want (2,2)", x, y)
	}
}

func TestGetXYForCoordOutsideBoundingBox(t *testing.T) {
	proj := fixtureProjection()
	if _, _, ok := GetXYForCoord(proj, 0, 0); ok {
		t.Errorf("expected (0,0) to be outside the grid's bounding box")
	}
}

func TestGetXYForCoordOnEdge(t *testing.T) {
	proj := fixtureProjection()
	x, y, ok := GetXYForCoord(proj, 30, -100)
	if !ok {
		t.Fatalf("expected the grid's own corner to be covered")
	}
	if x != 0 || y != 0 {
		t.Errorf("GetXYForCoord = (%d,%d), want (0,0)", x, y)
	}
}
