package pyramid

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"sync"
)

var (
	placeholderMu   sync.Mutex
	placeholderImg  = map[int]*image.NRGBA{}
	placeholderPNGs = map[int][]byte{}
)

// Placeholder returns the shared fully transparent tile image of the given
// size. Callers must not modify it.
func Placeholder(size int) *image.NRGBA {
	placeholderMu.Lock()
	defer placeholderMu.Unlock()
	img, ok := placeholderImg[size]
	if !ok {
		img = image.NewNRGBA(image.Rect(0, 0, size, size))
		placeholderImg[size] = img
	}
	return img
}

// PlaceholderPNG returns the PNG encoding of the transparent placeholder
// tile, encoded once per size.
func PlaceholderPNG(size int) []byte {
	placeholderMu.Lock()
	img, ok := placeholderPNGs[size]
	placeholderMu.Unlock()
	if ok {
		return img
	}
	data, err := EncodePNG(Placeholder(size))
	if err != nil {
		// encoding an in-memory NRGBA to a buffer cannot fail
		panic(fmt.Sprintf("encode placeholder: %v", err))
	}
	placeholderMu.Lock()
	placeholderPNGs[size] = data
	placeholderMu.Unlock()
	return data
}

// EncodePNG serializes a tile image. PNG encoding carries no timestamps or
// randomness, so regenerated pyramids stay byte-identical.
func EncodePNG(img image.Image) ([]byte, error) {
	buf := &bytes.Buffer{}
	if err := png.Encode(buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}
