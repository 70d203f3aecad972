package segment

import (
	"context"
	"image"
	"image/color"
	"testing"

	"github.com/chaos-io/cutout/mask"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromAlpha(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 4, 2))
	img.SetNRGBA(1, 0, color.NRGBA{R: 200, A: 255})
	img.SetNRGBA(2, 1, color.NRGBA{G: 10, A: 51})

	r := FromAlpha(img, mask.Dims{Width: 4, Height: 2})

	assert.Equal(t, float32(1), r.At(1, 0))
	assert.InDelta(t, 0.2, r.At(2, 1), 1e-6)
	assert.Zero(t, r.At(0, 0))
}

func TestFromConfidenceMask(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 3, 1))
	img.SetGray(0, 0, color.Gray{Y: 255})
	img.SetGray(1, 0, color.Gray{Y: 102})

	r := FromConfidenceMask(img, mask.Dims{Width: 3, Height: 1})

	assert.Equal(t, float32(1), r.At(0, 0))
	assert.InDelta(t, 0.4, r.At(1, 0), 1e-6)
	assert.Zero(t, r.At(2, 0))
}

func TestFromCategoryMask(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 3, 1))
	img.SetGray(0, 0, color.Gray{Y: 127})
	img.SetGray(1, 0, color.Gray{Y: 128})
	img.SetGray(2, 0, color.Gray{Y: 255})

	r := FromCategoryMask(img, mask.Dims{Width: 3, Height: 1})

	assert.Equal(t, []float32{0, 1, 1}, r.Data())
}

func TestNormalize_ResizesToDims(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 40, 20))
	for i := 3; i < len(img.Pix); i += 4 {
		img.Pix[i] = 255
	}

	d := mask.Dims{Width: 10, Height: 5}
	r := Normalize(img, ShapeAlpha, d)

	require.Equal(t, d, r.Dims())
	for _, v := range r.Data() {
		assert.InDelta(t, 1, v, 0.01)
	}
}

func TestNormalize_OffsetBounds(t *testing.T) {
	img := image.NewNRGBA(image.Rect(5, 5, 7, 6))
	img.SetNRGBA(6, 5, color.NRGBA{A: 255})

	r := Normalize(img, ShapeAlpha, mask.Dims{Width: 2, Height: 1})
	assert.Equal(t, []float32{0, 1}, r.Data())
}

func TestCoverageConfidence(t *testing.T) {
	assert.Equal(t, 0.3, CoverageConfidence(nil))
	assert.Equal(t, 0.3, CoverageConfidence(mask.NewRaster(testDims)))
	assert.Equal(t, 0.95, CoverageConfidence(filled(0.5)))
}

func TestParseMaskShape(t *testing.T) {
	s, ok := ParseMaskShape("category")
	assert.True(t, ok)
	assert.Equal(t, ShapeCategory, s)

	_, ok = ParseMaskShape("blob")
	assert.False(t, ok)
}

func TestAlphaSource(t *testing.T) {
	opaque := image.NewNRGBA(image.Rect(0, 0, 2, 2))
	for i := 3; i < len(opaque.Pix); i += 4 {
		opaque.Pix[i] = 255
	}

	_, err := NewAlphaSource().Segment(context.Background(), opaque)
	assert.ErrorIs(t, err, ErrFailed)

	opaque.Pix[3] = 0
	out, err := NewAlphaSource().Segment(context.Background(), opaque)
	require.NoError(t, err)
	assert.Equal(t, 1.0, out.Confidence)
	assert.Equal(t, []float32{0, 1, 1, 1}, out.Raster.Data())
}
