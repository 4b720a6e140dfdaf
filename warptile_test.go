package warptile

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geoanchor/warptile/gcp"
	"github.com/geoanchor/warptile/mercator"
	"github.com/geoanchor/warptile/pyramid"
	"github.com/geoanchor/warptile/raster"
	"github.com/geoanchor/warptile/store"
	"github.com/geoanchor/warptile/tps"
	"github.com/geoanchor/warptile/warp"
)

// trianglePoints pins a 100x100 source onto roughly 1km of ground near
// Lucerne with an axis-aligned right triangle.
func trianglePoints() gcp.Set {
	return gcp.Set{
		{Pixel: gcp.Point{X: 0, Y: 0}, Geo: gcp.GeoPoint{Lat: 47.059, Lng: 8.300}},
		{Pixel: gcp.Point{X: 100, Y: 0}, Geo: gcp.GeoPoint{Lat: 47.059, Lng: 8.313}},
		{Pixel: gcp.Point{X: 0, Y: 100}, Geo: gcp.GeoPoint{Lat: 47.050, Lng: 8.300}},
	}
}

func grayPNG(t *testing.T, w, h int) *bytes.Buffer {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetGray(x, y, color.Gray{Y: uint8((x*7 + y*3) % 256)})
		}
	}
	buf := &bytes.Buffer{}
	require.NoError(t, png.Encode(buf, img))
	return buf
}

func newTestPipeline(t *testing.T, fs afero.Fs, options ...Option) *Pipeline {
	t.Helper()
	st, err := store.New(fs, "tiles")
	require.NoError(t, err)
	opts := append([]Option{ZoomRange(14, 16)}, options...)
	p, err := New(st, opts...)
	require.NoError(t, err)
	return p
}

func TestRunMinimalScenario(t *testing.T) {
	fs := afero.NewMemMapFs()
	p := newTestPipeline(t, fs)

	res, err := p.Run(context.Background(), grayPNG(t, 100, 100), trianglePoints())
	require.NoError(t, err)
	require.NotEmpty(t, res.ID)
	assert.Greater(t, res.TileCount, 0)
	assert.Equal(t, 14, res.ZoomMin)
	assert.Equal(t, 16, res.ZoomMax)

	st, err := store.New(fs, "tiles")
	require.NoError(t, err)
	ok, err := st.Exists(res.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	// tiles at zMax collectively cover the mapped bounding box; inset by
	// more than one z16 pixel so boundary-grazing tiles don't count
	inset := 2 * mercator.Resolution(16)
	minCol, minRow := mercator.MetersToTile(res.Bounds.Min.X()+inset, res.Bounds.Max.Y()-inset, 16)
	maxCol, maxRow := mercator.MetersToTile(res.Bounds.Max.X()-inset, res.Bounds.Min.Y()+inset, 16)
	placeholder := pyramid.PlaceholderPNG(256)
	for row := minRow; row <= maxRow; row++ {
		for col := minCol; col <= maxCol; col++ {
			data, err := st.ReadTile(res.ID, pyramid.Address{Z: 16, Col: col, Row: row})
			require.NoError(t, err)
			assert.NotEqual(t, placeholder, data, "tile 16/%d/%d missing", col, row)
		}
	}
}

func TestStagesProduceOpaqueRaster(t *testing.T) {
	// axis-aligned triangle mapping: no destination pixel falls outside the
	// source, so the normalized raster is opaque everywhere
	src, err := raster.Decode(grayPNG(t, 100, 100))
	require.NoError(t, err)
	sp, err := tps.Solve(trianglePoints())
	require.NoError(t, err)
	projected, err := warp.Reproject(src, sp)
	require.NoError(t, err)
	normalized, err := raster.Normalize(projected)
	require.NoError(t, err)

	for y := 0; y < normalized.Height; y++ {
		for x := 0; x < normalized.Width; x++ {
			require.Equal(t, uint8(255), normalized.At(x, y, 3), "pixel (%d,%d)", x, y)
		}
	}
}

func TestRunInsufficientPointsPublishesNothing(t *testing.T) {
	fs := afero.NewMemMapFs()
	p := newTestPipeline(t, fs)

	_, err := p.Run(context.Background(), grayPNG(t, 50, 50), trianglePoints()[:2])
	require.Error(t, err)
	assert.ErrorIs(t, err, tps.ErrInsufficientControlPoints)
	assert.Equal(t, ClassGeometry, Classify(err))

	entries, err := afero.ReadDir(fs, "tiles")
	if err == nil {
		assert.Empty(t, entries)
	}
}

func TestRunUndecodableImage(t *testing.T) {
	p := newTestPipeline(t, afero.NewMemMapFs())
	_, err := p.Run(context.Background(), strings.NewReader("junk"), trianglePoints())
	require.Error(t, err)
	assert.ErrorIs(t, err, raster.ErrUnopenableImage)
	assert.Equal(t, ClassInput, Classify(err))
}

func TestRunIdempotentExceptNamespace(t *testing.T) {
	fs := afero.NewMemMapFs()
	p := newTestPipeline(t, fs, ZoomRange(15, 16))

	img := grayPNG(t, 60, 60).Bytes()
	a, err := p.Run(context.Background(), bytes.NewReader(img), trianglePoints())
	require.NoError(t, err)
	b, err := p.Run(context.Background(), bytes.NewReader(img), trianglePoints())
	require.NoError(t, err)
	require.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, a.TileCount, b.TileCount)
	assert.Equal(t, a.Bounds, b.Bounds)

	// byte-identical tile sets under the two namespaces
	walk := func(id string) map[string][]byte {
		out := map[string][]byte{}
		root := "tiles/" + id
		err := afero.Walk(fs, root, func(p string, info os.FileInfo, err error) error {
			if err != nil || info.IsDir() {
				return err
			}
			data, err := afero.ReadFile(fs, p)
			if err != nil {
				return err
			}
			out[strings.TrimPrefix(p, root)] = data
			return nil
		})
		require.NoError(t, err)
		return out
	}
	assert.Equal(t, walk(a.ID), walk(b.ID))
}

func TestRunCancelledContext(t *testing.T) {
	p := newTestPipeline(t, afero.NewMemMapFs())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.Run(ctx, grayPNG(t, 20, 20), trianglePoints())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewOptionValidation(t *testing.T) {
	st, err := store.New(afero.NewMemMapFs(), "tiles")
	require.NoError(t, err)

	_, err = New(nil)
	assert.Error(t, err)
	_, err = New(st, ZoomRange(-1, 4))
	assert.Error(t, err)
	_, err = New(st, ZoomRange(8, 2))
	assert.Error(t, err)
	_, err = New(st, TileSize(31))
	assert.Error(t, err)
	_, err = New(st, Workers(0))
	assert.Error(t, err)
	_, err = New(st, Logger(nil))
	assert.Error(t, err)
}

func TestClassify(t *testing.T) {
	assert.Equal(t, ClassInput, Classify(gcp.ErrInvalid))
	assert.Equal(t, ClassGeometry, Classify(tps.ErrDegenerateControlPoints))
	assert.Equal(t, ClassGeometry, Classify(warp.ErrProjection))
	assert.Equal(t, ClassUnsupportedBands, Classify(raster.ErrUnsupportedBandLayout))
	assert.Equal(t, ClassStorage, Classify(store.ErrStorage))
	assert.Equal(t, ClassInternal, Classify(assert.AnError))
}
