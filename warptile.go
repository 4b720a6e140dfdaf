// Package warptile georeferences scanned or photographed maps. From a source
// image and a handful of pixel-to-map control points it fits a thin plate
// spline warp, resamples the image into spherical Web Mercator, normalizes
// it to RGBA and slices it into a sparse slippy-map tile pyramid published
// under a fresh namespace id.
package warptile

import (
	"context"
	"fmt"
	"io"
	"runtime"
	"time"

	"github.com/paulmach/orb"
	"go.uber.org/zap"

	"github.com/geoanchor/warptile/gcp"
	"github.com/geoanchor/warptile/pyramid"
	"github.com/geoanchor/warptile/raster"
	"github.com/geoanchor/warptile/store"
	"github.com/geoanchor/warptile/tps"
	"github.com/geoanchor/warptile/warp"
)

// A Pipeline runs the full georeference-and-tile sequence. Pipelines are
// stateless between runs; concurrent Run calls are independent and publish
// into distinct namespaces.
type Pipeline struct {
	store    *store.Store
	log      *zap.Logger
	zoomMin  int
	zoomMax  int
	tileSize int
	kernel   raster.Kernel
	workers  int
}

type ErrInvalidOption struct {
	msg string
}

func (err ErrInvalidOption) Error() string {
	return err.msg
}

type Option func(p *Pipeline) error

// Logger sets the structured logger, discarded by default.
func Logger(l *zap.Logger) Option {
	return func(p *Pipeline) error {
		if l == nil {
			return ErrInvalidOption{"logger must not be nil"}
		}
		p.log = l
		return nil
	}
}

// ZoomRange sets the inclusive tile zoom levels, default 9-16.
func ZoomRange(min, max int) Option {
	return func(p *Pipeline) error {
		if min < 0 || max < min {
			return ErrInvalidOption{fmt.Sprintf("invalid zoom range %d-%d", min, max)}
		}
		p.zoomMin, p.zoomMax = min, max
		return nil
	}
}

// TileSize sets the tile edge length in pixels, default 256.
func TileSize(n int) Option {
	return func(p *Pipeline) error {
		if n < 2 || n%2 != 0 {
			return ErrInvalidOption{"tile size must be an even number >=2"}
		}
		p.tileSize = n
		return nil
	}
}

// Kernel selects the resampling kernel for warping and base tile rendering,
// default bilinear.
func Kernel(k raster.Kernel) Option {
	return func(p *Pipeline) error {
		p.kernel = k
		return nil
	}
}

// Workers caps per-run concurrency, default NumCPU.
func Workers(n int) Option {
	return func(p *Pipeline) error {
		if n < 1 {
			return ErrInvalidOption{"workers must be >=1"}
		}
		p.workers = n
		return nil
	}
}

// New creates a pipeline publishing into the given store.
func New(st *store.Store, options ...Option) (*Pipeline, error) {
	if st == nil {
		return nil, ErrInvalidOption{"store must not be nil"}
	}
	p := &Pipeline{
		store:    st,
		log:      zap.NewNop(),
		zoomMin:  pyramid.DefaultZoomMin,
		zoomMax:  pyramid.DefaultZoomMax,
		tileSize: 256,
		kernel:   raster.KernelBilinear,
		workers:  runtime.NumCPU(),
	}
	for _, o := range options {
		if err := o(p); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// A Result describes a published pyramid. ID is the namespace the tiles live
// under; it is only ever returned for fully published pyramids.
type Result struct {
	ID               string
	TileCount        int
	ZoomMin, ZoomMax int
	Bounds           orb.Bound // web mercator meters
}

// Run executes the pipeline on one image: decode, fit the control point
// spline, warp into Web Mercator, normalize bands, tile, publish. On any
// failure nothing is published and no namespace id escapes.
func (p *Pipeline) Run(ctx context.Context, img io.Reader, points gcp.Set) (*Result, error) {
	start := time.Now()

	src, err := raster.Decode(img)
	if err != nil {
		return nil, err
	}
	p.log.Debug("decoded source image",
		zap.Int("width", src.Width), zap.Int("height", src.Height),
		zap.Int("bands", src.Bands), zap.String("layout", src.Layout().String()))
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	spline, err := tps.Solve(points)
	if err != nil {
		return nil, err
	}
	p.log.Debug("solved control point spline", zap.Int("points", len(points)))
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	warpStart := time.Now()
	projected, err := warp.Reproject(src, spline,
		warp.Kernel(p.kernel), warp.Workers(p.workers))
	if err != nil {
		return nil, err
	}
	p.log.Debug("reprojected raster",
		zap.Int("width", projected.Width), zap.Int("height", projected.Height),
		zap.Float64("resolution", projected.Resolution),
		zap.Duration("took", time.Since(warpStart)))
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	normalized, err := raster.Normalize(projected)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	tileStart := time.Now()
	pyr, err := pyramid.Generate(normalized,
		pyramid.ZoomRange(p.zoomMin, p.zoomMax),
		pyramid.TileSize(p.tileSize),
		pyramid.Kernel(p.kernel),
		pyramid.Workers(p.workers))
	if err != nil {
		return nil, err
	}
	p.log.Debug("generated tile pyramid",
		zap.Int("tiles", pyr.Len()), zap.Duration("took", time.Since(tileStart)))
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	id := store.NewNamespace()
	if err := p.store.Publish(id, pyr); err != nil {
		return nil, err
	}

	p.log.Info("published pyramid",
		zap.String("id", id), zap.Int("tiles", pyr.Len()),
		zap.Duration("took", time.Since(start)))
	return &Result{
		ID:        id,
		TileCount: pyr.Len(),
		ZoomMin:   p.zoomMin,
		ZoomMax:   p.zoomMax,
		Bounds:    normalized.Bounds,
	}, nil
}
