// xy.go implements the point-query service's grid-point resolution: a
// local hill climb from the grid's center cell, stepping toward
// whichever neighbor is closer to the target coordinate until no
// neighbor improves on the current cell (spec §4.8, §9 "get_xy_for_coord").
// A full linear scan over n_x*n_y cells per query does not scale to the
// grid sizes spec §1 describes; the hill climb trades an (almost always
// satisfied) unimodality assumption about a regular lat/lon grid's
// distance field for O(steps) instead of O(n_x*n_y) per lookup.
package query

import (
	"github.com/nimbusgrid/nimbus/internal/catalog"
)

// GetXYForCoord returns the (x, y) grid cell whose lat/lon is closest to
// (lat, lon), or ok=false if (lat, lon) falls outside the grid's
// [minlat,maxlat]x[minlon,maxlon] bounding box (spec §4.8's literal
// coverage rule, not a distance threshold — a Euclidean cutoff can
// accept or reject edge points inconsistently on a non-square-spaced
// grid).
func GetXYForCoord(proj *catalog.Projection, lat, lon float64) (x, y int, ok bool) {
	if proj.NX == 0 || proj.NY == 0 {
		return 0, 0, false
	}
	if !inBoundingBox(proj, lat, lon) {
		return 0, 0, false
	}

	x, y = proj.NX/2, proj.NY/2
	dist := sqDist(proj, x, y, lat, lon)

	for {
		bestX, bestY, bestDist := x, y, dist
		for _, d := range [][2]int{{1, 0}, {-1, 0}, {0, 1}, {0, -1}} {
			nx, ny := x+d[0], y+d[1]
			if nx < 0 || nx >= proj.NX || ny < 0 || ny >= proj.NY {
				continue
			}
			if nd := sqDist(proj, nx, ny, lat, lon); nd < bestDist {
				bestX, bestY, bestDist = nx, ny, nd
			}
		}
		if bestX == x && bestY == y {
			break
		}
		x, y, dist = bestX, bestY, bestDist
	}

	return x, y, true
}

// inBoundingBox reports whether (lat, lon) falls within the grid's
// corner-defined bounding box. The grid is a regular lat/lon grid built
// from its four corner scalars (decode.regularLatLonGrid), so the
// extremes sit on the first/last row and first/last column rather than
// requiring a full scan.
func inBoundingBox(proj *catalog.Projection, lat, lon float64) bool {
	lat0, lat1 := proj.Lats[0][0], proj.Lats[proj.NY-1][0]
	minLat, maxLat := lat0, lat1
	if minLat > maxLat {
		minLat, maxLat = maxLat, minLat
	}
	lon0, lon1 := proj.Lons[0][0], proj.Lons[0][proj.NX-1]
	minLon, maxLon := lon0, lon1
	if minLon > maxLon {
		minLon, maxLon = maxLon, minLon
	}
	return lat >= minLat && lat <= maxLat && lon >= minLon && lon <= maxLon
}

func sqDist(proj *catalog.Projection, x, y int, lat, lon float64) float64 {
	dLat := proj.Lats[y][x] - lat
	dLon := proj.Lons[y][x] - lon
	return dLat*dLat + dLon*dLon
}
