// Package pyramid slices a normalized Web Mercator raster into a sparse
// quadtree of fixed-size PNG-able tiles across a zoom range, and resolves
// tile addresses between the public north-up and the stored south-up row
// conventions.
package pyramid

import (
	"fmt"
	"image"
	"runtime"
	"sort"

	"github.com/sourcegraph/conc/pool"

	"github.com/geoanchor/warptile/mercator"
	"github.com/geoanchor/warptile/raster"
)

type ErrInvalidOption struct {
	msg string
}

func (err ErrInvalidOption) Error() string {
	return err.msg
}

// Default zoom range, matching the slippy-map levels a scanned map is
// typically served at.
const (
	DefaultZoomMin = 9
	DefaultZoomMax = 16
)

// A Tile is one node of the pyramid. Row is stored south-up (TMS); tiles are
// immutable once generated.
type Tile struct {
	Z, Col, Row int
	Image       *image.NRGBA
}

// A Pyramid is the sparse tile set covering [ZoomMin,ZoomMax]. Tiles with no
// source data are not present. Safe for unbounded concurrent readers once
// generated.
type Pyramid struct {
	ZoomMin, ZoomMax int
	TileSize         int
	tiles            map[Address]*Tile
}

type generator struct {
	zoomMin, zoomMax int
	tileSize         int
	kernel           raster.Kernel
	workers          int
}

type Option func(g *generator) error

// ZoomRange sets the inclusive zoom levels to generate, default 9-16.
func ZoomRange(min, max int) Option {
	return func(g *generator) error {
		if min < 0 || max < min {
			return ErrInvalidOption{fmt.Sprintf("invalid zoom range %d-%d", min, max)}
		}
		g.zoomMin, g.zoomMax = min, max
		return nil
	}
}

// TileSize sets the tile edge length in pixels, default 256. It must be even
// so that a tile splits into four child quadrants.
func TileSize(n int) Option {
	return func(g *generator) error {
		if n < 2 || n%2 != 0 {
			return ErrInvalidOption{"tile size must be an even number >=2"}
		}
		g.tileSize = n
		return nil
	}
}

// Kernel selects the kernel used when rendering the highest zoom level.
func Kernel(k raster.Kernel) Option {
	return func(g *generator) error {
		g.kernel = k
		return nil
	}
}

// Workers caps the number of concurrent tile rendering goroutines.
func Workers(n int) Option {
	return func(g *generator) error {
		if n < 1 {
			return ErrInvalidOption{"workers must be >=1"}
		}
		g.workers = n
		return nil
	}
}

// Generate builds the tile pyramid for a normalized RGBA raster. The highest
// zoom is rendered directly from the raster; every lower level is the 2x2
// box downsample of its children. Fully transparent tiles are omitted.
// Output is deterministic for identical inputs.
func Generate(pr *raster.ProjectedRaster, options ...Option) (*Pyramid, error) {
	if pr.Bands != 4 {
		return nil, fmt.Errorf("pyramid needs a normalized 4-band raster, got %d bands", pr.Bands)
	}
	if pr.EPSG != mercator.EPSGWebMercator {
		return nil, fmt.Errorf("pyramid needs a web mercator raster, got EPSG:%d", pr.EPSG)
	}
	g := &generator{
		zoomMin:  DefaultZoomMin,
		zoomMax:  DefaultZoomMax,
		tileSize: mercator.TileSize,
		kernel:   raster.KernelBilinear,
		workers:  runtime.NumCPU(),
	}
	for _, o := range options {
		if err := o(g); err != nil {
			return nil, err
		}
	}

	p := &Pyramid{
		ZoomMin:  g.zoomMin,
		ZoomMax:  g.zoomMax,
		TileSize: g.tileSize,
		tiles:    map[Address]*Tile{},
	}

	if err := g.renderBase(pr, p); err != nil {
		return nil, err
	}
	// strict level barrier: a zoom level is only derived once the level
	// below it is complete
	for z := g.zoomMax - 1; z >= g.zoomMin; z-- {
		if err := g.downsampleLevel(p, z); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// renderBase renders every tile of the highest zoom that intersects the
// raster's extent, discarding tiles that come out fully transparent.
func (g *generator) renderBase(pr *raster.ProjectedRaster, p *Pyramid) error {
	minCol, minRow := mercator.MetersToTile(pr.Bounds.Min.X(), pr.Bounds.Max.Y(), g.zoomMax)
	maxCol, maxRow := mercator.MetersToTile(pr.Bounds.Max.X(), pr.Bounds.Min.Y(), g.zoomMax)

	type job struct{ col, row int }
	jobs := make([]job, 0, (maxCol-minCol+1)*(maxRow-minRow+1))
	for row := minRow; row <= maxRow; row++ {
		for col := minCol; col <= maxCol; col++ {
			jobs = append(jobs, job{col, row})
		}
	}
	rendered := make([]*image.NRGBA, len(jobs))

	wp := pool.New().WithMaxGoroutines(g.workers).WithErrors().WithFirstError()
	for i := range jobs {
		i := i
		wp.Go(func() error {
			rendered[i] = g.renderTile(pr, g.zoomMax, jobs[i].col, jobs[i].row)
			return nil
		})
	}
	if err := wp.Wait(); err != nil {
		return err
	}

	for i, img := range rendered {
		if img == nil {
			continue
		}
		p.put(g.zoomMax, jobs[i].col, jobs[i].row, img)
	}
	return nil
}

// renderTile resamples the raster into the footprint of XYZ tile
// (z,col,row). Returns nil when no pixel carries data.
func (g *generator) renderTile(pr *raster.ProjectedRaster, z, col, row int) *image.NRGBA {
	minX, _, _, maxY := mercator.TileBoundsMeters(z, col, row)
	res := 2 * mercator.HalfWorld / (float64(int(1)<<uint(z)) * float64(g.tileSize))

	img := image.NewNRGBA(image.Rect(0, 0, g.tileSize, g.tileSize))
	samples := make([]float64, 4)
	hasData := false
	for j := 0; j < g.tileSize; j++ {
		my := maxY - (float64(j)+0.5)*res
		fy := (pr.Bounds.Max.Y()-my)/pr.Resolution - 0.5
		for i := 0; i < g.tileSize; i++ {
			mx := minX + (float64(i)+0.5)*res
			fx := (mx-pr.Bounds.Min.X())/pr.Resolution - 0.5
			if !pr.Sample(fx, fy, g.kernel, samples) {
				continue
			}
			o := img.PixOffset(i, j)
			img.Pix[o+0] = clamp8(samples[0])
			img.Pix[o+1] = clamp8(samples[1])
			img.Pix[o+2] = clamp8(samples[2])
			img.Pix[o+3] = clamp8(samples[3])
			if img.Pix[o+3] > 0 {
				hasData = true
			}
		}
	}
	if !hasData {
		return nil
	}
	return img
}

// downsampleLevel derives zoom z from the already complete level z+1. A
// parent tile is generated when at least one of its four children exists;
// missing children contribute transparent quadrants.
func (g *generator) downsampleLevel(p *Pyramid, z int) error {
	parents := map[[2]int]struct{}{}
	for addr := range p.tiles {
		if addr.Z != z+1 {
			continue
		}
		xyz := addr.Flip() // map key rows are south-up
		parents[[2]int{xyz.Col / 2, xyz.Row / 2}] = struct{}{}
	}
	if len(parents) == 0 {
		return nil
	}

	order := make([][2]int, 0, len(parents))
	for pa := range parents {
		order = append(order, pa)
	}
	sort.Slice(order, func(i, j int) bool {
		if order[i][1] != order[j][1] {
			return order[i][1] < order[j][1]
		}
		return order[i][0] < order[j][0]
	})

	rendered := make([]*image.NRGBA, len(order))
	wp := pool.New().WithMaxGoroutines(g.workers).WithErrors().WithFirstError()
	for i := range order {
		i := i
		wp.Go(func() error {
			col, row := order[i][0], order[i][1]
			rendered[i] = g.downsampleTile(p, z, col, row)
			return nil
		})
	}
	if err := wp.Wait(); err != nil {
		return err
	}
	for i, img := range rendered {
		if img == nil {
			continue
		}
		p.put(z, order[i][0], order[i][1], img)
	}
	return nil
}

// downsampleTile box-averages the four children of XYZ tile (z,col,row).
func (g *generator) downsampleTile(p *Pyramid, z, col, row int) *image.NRGBA {
	half := g.tileSize / 2
	img := image.NewNRGBA(image.Rect(0, 0, g.tileSize, g.tileSize))
	any := false
	for dr := 0; dr < 2; dr++ {
		for dc := 0; dc < 2; dc++ {
			child := p.tileAtXYZ(z+1, 2*col+dc, 2*row+dr)
			if child == nil {
				continue
			}
			any = true
			src := child.Image
			for j := 0; j < half; j++ {
				for i := 0; i < half; i++ {
					o := img.PixOffset(dc*half+i, dr*half+j)
					s00 := src.PixOffset(2*i, 2*j)
					s10 := src.PixOffset(2*i+1, 2*j)
					s01 := src.PixOffset(2*i, 2*j+1)
					s11 := src.PixOffset(2*i+1, 2*j+1)
					for b := 0; b < 4; b++ {
						sum := uint32(src.Pix[s00+b]) + uint32(src.Pix[s10+b]) +
							uint32(src.Pix[s01+b]) + uint32(src.Pix[s11+b])
						img.Pix[o+b] = uint8((sum + 2) / 4)
					}
				}
			}
		}
	}
	if !any {
		return nil
	}
	return img
}

// put stores a rendered XYZ tile under its south-up key.
func (p *Pyramid) put(z, col, xyzRow int, img *image.NRGBA) {
	row := mercator.FlipRow(z, xyzRow)
	addr := Address{Z: z, Col: col, Row: row}
	p.tiles[addr] = &Tile{Z: z, Col: col, Row: row, Image: img}
}

// tileAtXYZ looks up a stored tile by its north-up address, or nil.
func (p *Pyramid) tileAtXYZ(z, col, row int) *Tile {
	return p.tiles[Address{Z: z, Col: col, Row: mercator.FlipRow(z, row)}]
}

// Len returns the number of stored tiles.
func (p *Pyramid) Len() int {
	return len(p.tiles)
}

// Tiles returns all stored tiles in deterministic order (zoom, then column,
// then stored row).
func (p *Pyramid) Tiles() []*Tile {
	out := make([]*Tile, 0, len(p.tiles))
	for _, t := range p.tiles {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Z != out[j].Z {
			return out[i].Z < out[j].Z
		}
		if out[i].Col != out[j].Col {
			return out[i].Col < out[j].Col
		}
		return out[i].Row < out[j].Row
	})
	return out
}

func clamp8(v float64) uint8 {
	if v <= 0 {
		return 0
	}
	if v >= 255 {
		return 255
	}
	return uint8(v + 0.5)
}
