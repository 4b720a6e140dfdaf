package raster

import (
	"errors"
	"fmt"
	"image"
	"io"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// ErrUnopenableImage is returned when the source bytes cannot be decoded by
// any registered image format.
var ErrUnopenableImage = errors.New("cannot decode source image")

// Decode reads an encoded image (PNG, JPEG, GIF, TIFF, BMP or WebP) and maps
// it onto the band model: paletted images keep their color table as a single
// index band, grayscale becomes one band, YCbCr (JPEG) becomes three bands,
// everything else is flattened to four RGBA bands. All decoded pixels are
// marked valid.
func Decode(r io.Reader) (*Raster, error) {
	img, format, err := image.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnopenableImage, err)
	}
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return nil, fmt.Errorf("%w: %s image is empty", ErrUnopenableImage, format)
	}

	switch src := img.(type) {
	case *image.Paletted:
		ras := New(w, h, 1)
		ras.Palette = src.Palette
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				ras.SetPixel(x, y, []uint8{src.ColorIndexAt(b.Min.X+x, b.Min.Y+y)})
			}
		}
		return ras, nil
	case *image.Gray:
		ras := New(w, h, 1)
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				ras.SetPixel(x, y, []uint8{src.GrayAt(b.Min.X+x, b.Min.Y+y).Y})
			}
		}
		return ras, nil
	case *image.YCbCr:
		ras := New(w, h, 3)
		px := make([]uint8, 3)
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				r16, g16, b16, _ := src.At(b.Min.X+x, b.Min.Y+y).RGBA()
				px[0], px[1], px[2] = uint8(r16>>8), uint8(g16>>8), uint8(b16>>8)
				ras.SetPixel(x, y, px)
			}
		}
		return ras, nil
	default:
		ras := New(w, h, 4)
		px := make([]uint8, 4)
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				r16, g16, b16, a16 := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
				if a16 > 0 {
					// RGBA() returns alpha-premultiplied values
					px[0] = uint8((r16 * 0xffff / a16) >> 8)
					px[1] = uint8((g16 * 0xffff / a16) >> 8)
					px[2] = uint8((b16 * 0xffff / a16) >> 8)
				} else {
					px[0], px[1], px[2] = 0, 0, 0
				}
				px[3] = uint8(a16 >> 8)
				ras.SetPixel(x, y, px)
			}
		}
		return ras, nil
	}
}
