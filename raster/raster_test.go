package raster

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSampleBilinear(t *testing.T) {
	r := New(2, 2, 1)
	r.SetPixel(0, 0, []uint8{0})
	r.SetPixel(1, 0, []uint8{100})
	r.SetPixel(0, 1, []uint8{200})
	r.SetPixel(1, 1, []uint8{100})

	out := make([]float64, 1)

	require.True(t, r.Sample(0, 0, KernelBilinear, out))
	assert.InDelta(t, 0, out[0], 1e-9)

	require.True(t, r.Sample(0.5, 0, KernelBilinear, out))
	assert.InDelta(t, 50, out[0], 1e-9)

	require.True(t, r.Sample(0.5, 0.5, KernelBilinear, out))
	assert.InDelta(t, 100, out[0], 1e-9)
}

func TestSampleOutsideBounds(t *testing.T) {
	r := New(2, 2, 1)
	r.SetPixel(0, 0, []uint8{10})
	r.SetPixel(1, 0, []uint8{10})
	r.SetPixel(0, 1, []uint8{10})
	r.SetPixel(1, 1, []uint8{10})

	out := make([]float64, 1)
	assert.False(t, r.Sample(-5, 0, KernelBilinear, out))
	assert.False(t, r.Sample(0, 8, KernelBilinear, out))
	assert.False(t, r.Sample(3, 3, KernelNearest, out))
}

func TestSampleSkipsInvalidNeighbours(t *testing.T) {
	r := New(2, 1, 1)
	r.SetPixel(0, 0, []uint8{40})
	// pixel (1,0) left invalid

	out := make([]float64, 1)
	// halfway between a valid and an invalid pixel: weight renormalizes to
	// the valid one
	require.True(t, r.Sample(0.5, 0, KernelBilinear, out))
	assert.InDelta(t, 40, out[0], 1e-9)
}

func TestSampleNearest(t *testing.T) {
	r := New(2, 2, 2)
	r.SetPixel(1, 1, []uint8{7, 9})
	out := make([]float64, 2)
	require.True(t, r.Sample(0.8, 1.2, KernelNearest, out))
	assert.Equal(t, []float64{7, 9}, out)
}

func TestLayout(t *testing.T) {
	testfunc := func(bands int, palette bool, want Layout) {
		t.Helper()
		r := New(1, 1, bands)
		if palette {
			r.Palette = testPalette()
		}
		assert.Equal(t, want, r.Layout())
	}
	testfunc(1, true, LayoutIndexed)
	testfunc(1, false, LayoutGray)
	testfunc(3, false, LayoutRGB)
	testfunc(4, false, LayoutRGBAPlus)
	testfunc(5, false, LayoutRGBAPlus)
	testfunc(2, false, LayoutUnsupported)
	testfunc(0, false, LayoutUnsupported)
}
