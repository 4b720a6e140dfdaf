// Package mercator holds the spherical Web Mercator (EPSG:3857) conversions
// and the slippy-map tile arithmetic shared by the reprojector, the pyramid
// generator and the tile address translator.
package mercator

import (
	"math"

	"github.com/wroge/wgs84"
)

// TileSize is the edge length in pixels of a map tile.
const TileSize = 256

// EPSG codes of the two coordinate systems the pipeline deals with.
const (
	EPSGWebMercator = 3857
	EPSGWGS84       = 4326
)

// HalfWorld is the extent of the Web Mercator plane from the origin, in
// meters: the projection covers [-HalfWorld,HalfWorld] on both axes.
const HalfWorld = 20037508.342789244

var (
	toMeters = wgs84.LonLat().To(wgs84.WebMercator())
	toLonLat = wgs84.WebMercator().To(wgs84.LonLat())
)

// LatLngToMeters projects a WGS84 coordinate onto the Web Mercator plane.
func LatLngToMeters(lat, lng float64) (x, y float64) {
	x, y, _ = toMeters(lng, lat, 0)
	return x, y
}

// MetersToLatLng inverts LatLngToMeters.
func MetersToLatLng(x, y float64) (lat, lng float64) {
	lng, lat, _ = toLonLat(x, y, 0)
	return lat, lng
}

// Resolution returns the ground size of one tile pixel at the given zoom,
// measured at the equator, in meters.
func Resolution(zoom int) float64 {
	return 2 * HalfWorld / (TileSize * math.Exp2(float64(zoom)))
}

// MetersToTile returns the XYZ (north-up row) tile containing the given
// Web Mercator coordinate, clamped to the valid range of the zoom level.
func MetersToTile(x, y float64, zoom int) (col, row int) {
	n := int(1) << uint(zoom)
	span := 2 * HalfWorld / float64(n)
	col = int(math.Floor((x + HalfWorld) / span))
	row = int(math.Floor((HalfWorld - y) / span))
	return clamp(col, 0, n-1), clamp(row, 0, n-1)
}

// TileBoundsMeters returns the Web Mercator extent of XYZ tile (zoom,col,row).
func TileBoundsMeters(zoom, col, row int) (minX, minY, maxX, maxY float64) {
	span := 2 * HalfWorld / math.Exp2(float64(zoom))
	minX = -HalfWorld + float64(col)*span
	maxY = HalfWorld - float64(row)*span
	return minX, maxY - span, minX + span, maxY
}

// FlipRow converts a row index between the north-up (XYZ) and south-up (TMS)
// conventions. The formula is self-inverse.
func FlipRow(zoom, row int) int {
	return (1 << uint(zoom)) - 1 - row
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
