// Package warp resamples a source raster into spherical Web Mercator through
// a fitted control point spline. Every destination pixel is mapped back
// through the projection and the inverse spline into the source pixel frame
// and sampled there.
package warp

import (
	"fmt"
	"math"
	"runtime"

	"github.com/paulmach/orb"
	"golang.org/x/sync/errgroup"

	"github.com/geoanchor/warptile/mercator"
	"github.com/geoanchor/warptile/raster"
	"github.com/geoanchor/warptile/tps"
)

// ErrProjection is returned when the destination extent cannot be evaluated,
// e.g. the spline maps it to non-finite coordinates.
var ErrProjection = fmt.Errorf("cannot evaluate projection over destination extent")

type ErrInvalidOption struct {
	msg string
}

func (err ErrInvalidOption) Error() string {
	return err.msg
}

// edgeSamples is the number of points sampled along each source edge when
// estimating the destination extent. The spline is non-rigid, so corners
// alone would miss a bulging edge.
const edgeSamples = 16

type warper struct {
	kernel    raster.Kernel
	workers   int
	maxPixels int
}

type Option func(w *warper) error

// Kernel selects the resampling kernel, bilinear by default.
func Kernel(k raster.Kernel) Option {
	return func(w *warper) error {
		w.kernel = k
		return nil
	}
}

// Workers caps the number of concurrent resampling goroutines.
func Workers(n int) Option {
	return func(w *warper) error {
		if n < 1 {
			return ErrInvalidOption{"workers must be >=1"}
		}
		w.workers = n
		return nil
	}
}

// MaxPixels caps the destination raster size. When the estimated native
// resolution would exceed it, the output is coarsened to fit.
func MaxPixels(n int) Option {
	return func(w *warper) error {
		if n < 1 {
			return ErrInvalidOption{"max pixels must be >=1"}
		}
		w.maxPixels = n
		return nil
	}
}

// Reproject warps src into EPSG:3857. The destination extent is the bounding
// box of the transformed source outline expanded to whole pixels, at a
// resolution approximating the source's native ground resolution.
// Destination pixels that map outside the source stay nodata.
func Reproject(src *raster.Raster, sp *tps.Spline, options ...Option) (*raster.ProjectedRaster, error) {
	w := &warper{
		kernel:    raster.KernelBilinear,
		workers:   runtime.NumCPU(),
		maxPixels: 64 << 20,
	}
	for _, o := range options {
		if err := o(w); err != nil {
			return nil, err
		}
	}

	minX, minY, maxX, maxY, err := destinationExtent(src, sp)
	if err != nil {
		return nil, err
	}

	res := nativeResolution(src, minX, minY, maxX, maxY)
	width := int(math.Ceil((maxX - minX) / res))
	height := int(math.Ceil((maxY - minY) / res))
	if width < 1 {
		width = 1
	}
	if height < 1 {
		height = 1
	}
	if width*height > w.maxPixels {
		scale := math.Sqrt(float64(width*height) / float64(w.maxPixels))
		res *= scale
		width = int(math.Ceil((maxX - minX) / res))
		height = int(math.Ceil((maxY - minY) / res))
	}
	// snap the extent to whole output pixels
	maxX = minX + float64(width)*res
	minY = maxY - float64(height)*res

	dst := raster.New(width, height, src.Bands)
	dst.Palette = src.Palette

	g := errgroup.Group{}
	g.SetLimit(w.workers)
	for py := 0; py < height; py++ {
		py := py
		g.Go(func() error {
			samples := make([]float64, src.Bands)
			px8 := make([]uint8, src.Bands)
			cy := maxY - (float64(py)+0.5)*res
			for px := 0; px < width; px++ {
				cx := minX + (float64(px)+0.5)*res
				lat, lng := mercator.MetersToLatLng(cx, cy)
				if !finite(lat) || !finite(lng) {
					return fmt.Errorf("%w: pixel (%d,%d)", ErrProjection, px, py)
				}
				sx, sy := sp.Inverse(lat, lng)
				if !finite(sx) || !finite(sy) {
					return fmt.Errorf("%w: pixel (%d,%d)", ErrProjection, px, py)
				}
				// control point pixel coordinates are corner-based;
				// sampling addresses pixel centers
				if !src.Sample(sx-0.5, sy-0.5, w.kernel, samples) {
					continue
				}
				for b := range samples {
					px8[b] = clamp8(samples[b])
				}
				dst.SetPixel(px, py, px8)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return &raster.ProjectedRaster{
		Raster:     dst,
		EPSG:       mercator.EPSGWebMercator,
		Bounds:     orb.Bound{Min: orb.Point{minX, minY}, Max: orb.Point{maxX, maxY}},
		Resolution: res,
	}, nil
}

// destinationExtent forward-maps the source outline into mercator meters and
// returns its bounding box.
func destinationExtent(src *raster.Raster, sp *tps.Spline) (minX, minY, maxX, maxY float64, err error) {
	minX, minY = math.Inf(1), math.Inf(1)
	maxX, maxY = math.Inf(-1), math.Inf(-1)

	w, h := float64(src.Width), float64(src.Height)
	add := func(x, y float64) error {
		lat, lng := sp.Forward(x, y)
		mx, my := mercator.LatLngToMeters(lat, lng)
		if !finite(mx) || !finite(my) {
			return fmt.Errorf("%w: source pixel (%g,%g) maps to (%g,%g)", ErrProjection, x, y, lat, lng)
		}
		minX, minY = math.Min(minX, mx), math.Min(minY, my)
		maxX, maxY = math.Max(maxX, mx), math.Max(maxY, my)
		return nil
	}
	for i := 0; i <= edgeSamples; i++ {
		t := float64(i) / edgeSamples
		for _, p := range [4][2]float64{{t * w, 0}, {t * w, h}, {0, t * h}, {w, t * h}} {
			if err := add(p[0], p[1]); err != nil {
				return 0, 0, 0, 0, err
			}
		}
	}
	if maxX <= minX || maxY <= minY {
		return 0, 0, 0, 0, fmt.Errorf("%w: degenerate extent", ErrProjection)
	}
	return minX, minY, maxX, maxY, nil
}

// nativeResolution estimates the ground size of one source pixel as the
// geometric mean of the per-axis extents over the source dimensions.
func nativeResolution(src *raster.Raster, minX, minY, maxX, maxY float64) float64 {
	rx := (maxX - minX) / float64(src.Width)
	ry := (maxY - minY) / float64(src.Height)
	return math.Sqrt(rx * ry)
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func clamp8(v float64) uint8 {
	if v <= 0 {
		return 0
	}
	if v >= 255 {
		return 255
	}
	return uint8(math.Round(v))
}
