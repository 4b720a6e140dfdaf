package raster

import (
	"errors"
	"fmt"
)

// ErrUnsupportedBandLayout is returned for band counts the normalizer has no
// policy for (0 or 2 bands).
var ErrUnsupportedBandLayout = errors.New("unsupported band layout")

// Normalize converts any projected raster to the canonical 4-band RGBA form
// the tiler assumes:
//
//	indexed: palette indices expanded through the color table
//	gray:    single band replicated into R, G and B
//	rgb:     bands copied, opaque alpha added
//	rgba+:   first four bands passed through unchanged
//
// In every case pixels without data get alpha 0. The input is not modified.
func Normalize(pr *ProjectedRaster) (*ProjectedRaster, error) {
	layout := pr.Layout()
	if layout == LayoutUnsupported {
		return nil, fmt.Errorf("%w: %d bands", ErrUnsupportedBandLayout, pr.Bands)
	}

	src := pr.Raster
	dst := New(src.Width, src.Height, 4)
	px := make([]uint8, 4)
	for y := 0; y < src.Height; y++ {
		for x := 0; x < src.Width; x++ {
			if !src.IsValid(x, y) {
				continue
			}
			switch layout {
			case LayoutIndexed:
				idx := int(src.At(x, y, 0))
				if idx >= len(src.Palette) {
					return nil, fmt.Errorf("palette index %d out of range (table has %d entries)", idx, len(src.Palette))
				}
				r16, g16, b16, a16 := src.Palette[idx].RGBA()
				px[0], px[1], px[2], px[3] = uint8(r16>>8), uint8(g16>>8), uint8(b16>>8), uint8(a16>>8)
			case LayoutGray:
				v := src.At(x, y, 0)
				px[0], px[1], px[2], px[3] = v, v, v, 0xff
			case LayoutRGB:
				px[0], px[1], px[2], px[3] = src.At(x, y, 0), src.At(x, y, 1), src.At(x, y, 2), 0xff
			case LayoutRGBAPlus:
				px[0], px[1], px[2], px[3] = src.At(x, y, 0), src.At(x, y, 1), src.At(x, y, 2), src.At(x, y, 3)
			}
			dst.SetPixel(x, y, px)
		}
	}
	return &ProjectedRaster{
		Raster:     dst,
		EPSG:       pr.EPSG,
		Bounds:     pr.Bounds,
		Resolution: pr.Resolution,
	}, nil
}
