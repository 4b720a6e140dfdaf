// Package raster holds the in-memory raster model used between pipeline
// stages: a band-interleaved 8-bit pixel grid with an explicit validity mask
// separating real data from nodata, plus decoding and band normalization.
package raster

import (
	"image/color"
	"math"

	"github.com/paulmach/orb"
)

// Layout classifies a raster's band structure for normalization dispatch.
type Layout int

const (
	LayoutIndexed Layout = iota // 1 band with a color table
	LayoutGray                  // 1 band, no color table
	LayoutRGB                   // 3 bands
	LayoutRGBAPlus              // 4 or more bands, first four taken as RGBA
	LayoutUnsupported
)

func (l Layout) String() string {
	switch l {
	case LayoutIndexed:
		return "indexed"
	case LayoutGray:
		return "gray"
	case LayoutRGB:
		return "rgb"
	case LayoutRGBAPlus:
		return "rgba+"
	}
	return "unsupported"
}

// A Raster is a Width x Height grid of Bands 8-bit samples, band-interleaved
// by pixel. Valid marks pixels that carry data; pixels outside the resampled
// footprint stay invalid and become fully transparent downstream. Stages
// never mutate their input raster.
type Raster struct {
	Width, Height int
	Bands         int
	Palette       color.Palette // only meaningful when Bands == 1
	Pix           []uint8       // len = Width*Height*Bands
	Valid         []bool        // len = Width*Height
}

// New allocates a raster with every pixel marked invalid.
func New(width, height, bands int) *Raster {
	return &Raster{
		Width:  width,
		Height: height,
		Bands:  bands,
		Pix:    make([]uint8, width*height*bands),
		Valid:  make([]bool, width*height),
	}
}

// Layout classifies the raster for band normalization.
func (r *Raster) Layout() Layout {
	switch {
	case r.Bands == 1 && r.Palette != nil:
		return LayoutIndexed
	case r.Bands == 1:
		return LayoutGray
	case r.Bands == 3:
		return LayoutRGB
	case r.Bands >= 4:
		return LayoutRGBAPlus
	}
	return LayoutUnsupported
}

func (r *Raster) index(x, y int) int {
	return y*r.Width + x
}

// SetPixel stores one sample per band at (x,y) and marks the pixel valid.
func (r *Raster) SetPixel(x, y int, samples []uint8) {
	i := r.index(x, y)
	copy(r.Pix[i*r.Bands:(i+1)*r.Bands], samples)
	r.Valid[i] = true
}

// At returns the sample of one band at (x,y).
func (r *Raster) At(x, y, band int) uint8 {
	return r.Pix[r.index(x, y)*r.Bands+band]
}

// IsValid reports whether the pixel at (x,y) carries data.
func (r *Raster) IsValid(x, y int) bool {
	return r.Valid[r.index(x, y)]
}

// Kernel selects the resampling kernel used when sampling a raster at
// fractional pixel coordinates.
type Kernel int

const (
	KernelBilinear Kernel = iota
	KernelNearest
)

func (k Kernel) String() string {
	if k == KernelNearest {
		return "nearest"
	}
	return "bilinear"
}

// Sample reads the raster at the fractional pixel coordinate (fx,fy), where
// integer coordinates address pixel centers. The per-band result is written
// into out (len >= Bands). It returns false when no valid source pixel
// contributes, in which case out is untouched.
//
// Bilinear sampling weights the four nearest pixels; neighbours outside the
// raster or without data contribute nothing and the remaining weights are
// renormalized. Indexed rasters are always sampled nearest, as interpolating
// palette indices would blend unrelated colors.
func (r *Raster) Sample(fx, fy float64, k Kernel, out []float64) bool {
	if k == KernelNearest || r.Palette != nil {
		return r.sampleNearest(fx, fy, out)
	}
	return r.sampleBilinear(fx, fy, out)
}

func (r *Raster) sampleNearest(fx, fy float64, out []float64) bool {
	x := int(math.Round(fx))
	y := int(math.Round(fy))
	if x < 0 || x >= r.Width || y < 0 || y >= r.Height || !r.IsValid(x, y) {
		return false
	}
	for b := 0; b < r.Bands; b++ {
		out[b] = float64(r.At(x, y, b))
	}
	return true
}

func (r *Raster) sampleBilinear(fx, fy float64, out []float64) bool {
	// positions within half a pixel of the outermost centers are still
	// inside the raster footprint: clamp onto the edge instead of losing
	// the out-of-grid neighbour's weight
	if fx > -0.5 && fx < 0 {
		fx = 0
	} else if fx > float64(r.Width-1) && fx < float64(r.Width)-0.5 {
		fx = float64(r.Width - 1)
	}
	if fy > -0.5 && fy < 0 {
		fy = 0
	} else if fy > float64(r.Height-1) && fy < float64(r.Height)-0.5 {
		fy = float64(r.Height - 1)
	}

	x0 := int(math.Floor(fx))
	y0 := int(math.Floor(fy))
	dx := fx - float64(x0)
	dy := fy - float64(y0)

	weights := [4]float64{
		(1 - dx) * (1 - dy),
		dx * (1 - dy),
		(1 - dx) * dy,
		dx * dy,
	}
	coords := [4][2]int{
		{x0, y0}, {x0 + 1, y0}, {x0, y0 + 1}, {x0 + 1, y0 + 1},
	}

	total := 0.0
	acc := make([]float64, r.Bands)
	for i, c := range coords {
		x, y := c[0], c[1]
		if weights[i] == 0 || x < 0 || x >= r.Width || y < 0 || y >= r.Height || !r.IsValid(x, y) {
			continue
		}
		total += weights[i]
		for b := 0; b < r.Bands; b++ {
			acc[b] += weights[i] * float64(r.At(x, y, b))
		}
	}
	if total <= 0 {
		return false
	}
	for b := 0; b < r.Bands; b++ {
		out[b] = acc[b] / total
	}
	return true
}

// A ProjectedRaster is a raster georeferenced in a projected coordinate
// system: Bounds is the extent it covers in that system's units and
// Resolution the ground size of one pixel.
type ProjectedRaster struct {
	*Raster
	EPSG       int
	Bounds     orb.Bound // projection units, min = lower-left
	Resolution float64   // units per pixel
}
