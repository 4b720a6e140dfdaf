package warp

import (
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geoanchor/warptile/gcp"
	"github.com/geoanchor/warptile/mercator"
	"github.com/geoanchor/warptile/raster"
	"github.com/geoanchor/warptile/tps"
)

// squareSet pins the corners of a w x h source image onto an axis-aligned
// geographic rectangle near (lat0,lng0).
func squareSet(w, h float64, lat0, lng0, dLat, dLng float64) gcp.Set {
	return gcp.Set{
		{Pixel: gcp.Point{X: 0, Y: 0}, Geo: gcp.GeoPoint{Lat: lat0 + dLat, Lng: lng0}},
		{Pixel: gcp.Point{X: w, Y: 0}, Geo: gcp.GeoPoint{Lat: lat0 + dLat, Lng: lng0 + dLng}},
		{Pixel: gcp.Point{X: 0, Y: h}, Geo: gcp.GeoPoint{Lat: lat0, Lng: lng0}},
		{Pixel: gcp.Point{X: w, Y: h}, Geo: gcp.GeoPoint{Lat: lat0, Lng: lng0 + dLng}},
	}
}

func graySource(w, h int) *raster.Raster {
	src := raster.New(w, h, 1)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			src.SetPixel(x, y, []uint8{uint8((x + y) % 251)})
		}
	}
	return src
}

func TestReprojectCoversSource(t *testing.T) {
	src := graySource(50, 50)
	sp, err := tps.Solve(squareSet(50, 50, 47.0, 8.0, 0.009, 0.013))
	require.NoError(t, err)

	pr, err := Reproject(src, sp)
	require.NoError(t, err)
	assert.Equal(t, mercator.EPSGWebMercator, pr.EPSG)
	assert.Equal(t, 1, pr.Bands)
	assert.Greater(t, pr.Width, 0)
	assert.Greater(t, pr.Height, 0)
	assert.Greater(t, pr.Resolution, 0.0)

	// the mapped source center must carry data
	lat, lng := sp.Forward(25, 25)
	mx, my := mercator.LatLngToMeters(lat, lng)
	px := int((mx - pr.Bounds.Min.X()) / pr.Resolution)
	py := int((pr.Bounds.Max.Y() - my) / pr.Resolution)
	assert.True(t, pr.IsValid(px, py))

	valid := 0
	for _, v := range pr.Valid {
		if v {
			valid++
		}
	}
	// axis-aligned mapping: most of the destination box is covered
	assert.Greater(t, valid, pr.Width*pr.Height/2)
}

func TestReprojectExtentContainsControlPoints(t *testing.T) {
	set := squareSet(40, 40, -33.9, 151.2, 0.01, 0.01)
	sp, err := tps.Solve(set)
	require.NoError(t, err)

	pr, err := Reproject(graySource(40, 40), sp)
	require.NoError(t, err)
	for _, cp := range set {
		mx, my := mercator.LatLngToMeters(cp.Geo.Lat, cp.Geo.Lng)
		assert.GreaterOrEqual(t, mx, pr.Bounds.Min.X()-pr.Resolution)
		assert.LessOrEqual(t, mx, pr.Bounds.Max.X()+pr.Resolution)
		assert.GreaterOrEqual(t, my, pr.Bounds.Min.Y()-pr.Resolution)
		assert.LessOrEqual(t, my, pr.Bounds.Max.Y()+pr.Resolution)
	}
}

func TestReprojectPreservesBandsAndPalette(t *testing.T) {
	pal := color.Palette{
		color.RGBA{A: 255},
		color.RGBA{R: 255, A: 255},
	}
	src := raster.New(20, 20, 1)
	src.Palette = pal
	for y := 0; y < 20; y++ {
		for x := 0; x < 20; x++ {
			src.SetPixel(x, y, []uint8{uint8((x + y) % 2)})
		}
	}
	sp, err := tps.Solve(squareSet(20, 20, 47.0, 8.0, 0.004, 0.004))
	require.NoError(t, err)

	pr, err := Reproject(src, sp)
	require.NoError(t, err)
	assert.Equal(t, 1, pr.Bands)
	assert.Equal(t, pal, pr.Palette)
	// indexed rasters must be sampled nearest: only original indices appear
	for i, v := range pr.Valid {
		if v {
			assert.LessOrEqual(t, pr.Pix[i], uint8(1))
		}
	}
}

func TestReprojectRotatedLeavesCornersTransparent(t *testing.T) {
	// a 45-degree-ish mapping: the warped square's bounding box corners
	// fall outside the source footprint and must stay nodata
	set := gcp.Set{
		{Pixel: gcp.Point{X: 25, Y: 0}, Geo: gcp.GeoPoint{Lat: 47.010, Lng: 8.005}},
		{Pixel: gcp.Point{X: 50, Y: 25}, Geo: gcp.GeoPoint{Lat: 47.005, Lng: 8.010}},
		{Pixel: gcp.Point{X: 25, Y: 50}, Geo: gcp.GeoPoint{Lat: 47.000, Lng: 8.005}},
		{Pixel: gcp.Point{X: 0, Y: 25}, Geo: gcp.GeoPoint{Lat: 47.005, Lng: 8.000}},
	}
	sp, err := tps.Solve(set)
	require.NoError(t, err)

	pr, err := Reproject(graySource(50, 50), sp)
	require.NoError(t, err)
	assert.False(t, pr.IsValid(0, 0))
	assert.False(t, pr.IsValid(pr.Width-1, 0))
	assert.False(t, pr.IsValid(0, pr.Height-1))
	assert.False(t, pr.IsValid(pr.Width-1, pr.Height-1))
	assert.True(t, pr.IsValid(pr.Width/2, pr.Height/2))
}

func TestReprojectMaxPixels(t *testing.T) {
	sp, err := tps.Solve(squareSet(64, 64, 47.0, 8.0, 0.01, 0.01))
	require.NoError(t, err)

	pr, err := Reproject(graySource(64, 64), sp, MaxPixels(1024))
	require.NoError(t, err)
	assert.LessOrEqual(t, pr.Width*pr.Height, 1300) // ceil rounding may slightly overshoot
}

func TestReprojectOptionValidation(t *testing.T) {
	sp, err := tps.Solve(squareSet(8, 8, 47.0, 8.0, 0.01, 0.01))
	require.NoError(t, err)
	_, err = Reproject(graySource(8, 8), sp, Workers(0))
	assert.Error(t, err)
	_, err = Reproject(graySource(8, 8), sp, MaxPixels(0))
	assert.Error(t, err)
}

func TestReprojectDeterministic(t *testing.T) {
	src := graySource(30, 30)
	sp, err := tps.Solve(squareSet(30, 30, 47.0, 8.0, 0.005, 0.007))
	require.NoError(t, err)

	a, err := Reproject(src, sp, Workers(4))
	require.NoError(t, err)
	b, err := Reproject(src, sp, Workers(1))
	require.NoError(t, err)
	assert.Equal(t, a.Pix, b.Pix)
	assert.Equal(t, a.Valid, b.Valid)
	assert.Equal(t, a.Bounds, b.Bounds)
}
