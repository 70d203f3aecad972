package composite

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/chaos-io/cutout/mask"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func solid(w, h int, c color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

func TestCompose_WritesAlphaOnly(t *testing.T) {
	src := solid(3, 1, color.NRGBA{R: 10, G: 20, B: 30, A: 255})
	final := mask.FromSlice(mask.Dims{Width: 3, Height: 1}, []float32{0, 0.5, 1.2})

	out := Compose(src, final)

	assert.Equal(t, color.NRGBA{R: 10, G: 20, B: 30, A: 0}, out.NRGBAAt(0, 0))
	assert.Equal(t, color.NRGBA{R: 10, G: 20, B: 30, A: 128}, out.NRGBAAt(1, 0))
	assert.Equal(t, color.NRGBA{R: 10, G: 20, B: 30, A: 255}, out.NRGBAAt(2, 0))

	// 原图不变
	assert.Equal(t, uint8(255), src.NRGBAAt(0, 0).A)
}

func TestCompose_ScalesMaskToSource(t *testing.T) {
	src := solid(40, 20, color.NRGBA{R: 200, A: 255})
	final := mask.NewRaster(mask.Dims{Width: 10, Height: 5})
	final.Fill(1)

	out := Compose(src, final)

	require.Equal(t, image.Rect(0, 0, 40, 20), out.Bounds())
	assert.Equal(t, uint8(255), out.NRGBAAt(20, 10).A)
	assert.Equal(t, uint8(200), out.NRGBAAt(20, 10).R)
}

func TestCompose_OffsetSource(t *testing.T) {
	src := solid(10, 10, color.NRGBA{G: 99, A: 255}).SubImage(image.Rect(2, 2, 6, 4))
	final := mask.NewRaster(mask.Dims{Width: 4, Height: 2})
	final.Set(3, 1, 1)

	out := Compose(src, final)

	assert.Equal(t, image.Rect(0, 0, 4, 2), out.Bounds())
	assert.Equal(t, color.NRGBA{G: 99, A: 255}, out.NRGBAAt(3, 1))
	assert.Equal(t, uint8(0), out.NRGBAAt(0, 0).A)
}

func TestMatte(t *testing.T) {
	final := mask.FromSlice(mask.Dims{Width: 3, Height: 1}, []float32{0, 0.5, 1})

	m := Matte(final)

	assert.Equal(t, color.NRGBA{R: 255, A: 128}, m.NRGBAAt(0, 0))
	assert.Equal(t, color.NRGBA{R: 255, A: 64}, m.NRGBAAt(1, 0))
	assert.Equal(t, color.NRGBA{R: 255, A: 0}, m.NRGBAAt(2, 0))
}

func TestScale_SameDimsIsIdentity(t *testing.T) {
	m := mask.NewRaster(mask.Dims{Width: 4, Height: 4})
	assert.Same(t, m, Scale(m, m.Dims()))
}

func TestScale_KeepsRange(t *testing.T) {
	m := mask.NewRaster(mask.Dims{Width: 8, Height: 8})
	for y := 0; y < 8; y++ {
		for x := 4; x < 8; x++ {
			m.Set(x, y, 1)
		}
	}

	got := Scale(m, mask.Dims{Width: 32, Height: 32})
	for _, v := range got.Data() {
		assert.GreaterOrEqual(t, v, float32(0))
		assert.LessOrEqual(t, v, float32(1))
	}
	assert.InDelta(t, 0, got.At(0, 16), 1e-3)
	assert.InDelta(t, 1, got.At(31, 16), 1e-3)
}

func TestFitWithin(t *testing.T) {
	tests := []struct {
		name             string
		w, h, maxW, maxH int
		want             mask.Dims
	}{
		{"不放大", 100, 50, 1024, 1024, mask.Dims{Width: 100, Height: 50}},
		{"按长边缩小", 2048, 1024, 1024, 1024, mask.Dims{Width: 1024, Height: 512}},
		{"竖图", 500, 2000, 1000, 1000, mask.Dims{Width: 250, Height: 1000}},
		{"不限", 3000, 2000, 0, 0, mask.Dims{Width: 3000, Height: 2000}},
		{"至少 1 像素", 4000, 1, 100, 100, mask.Dims{Width: 100, Height: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FitWithin(tt.w, tt.h, tt.maxW, tt.maxH))
		})
	}
}

func TestDownscale(t *testing.T) {
	src := solid(64, 32, color.NRGBA{B: 255, A: 255})
	got := Downscale(src, mask.Dims{Width: 16, Height: 8})
	assert.Equal(t, image.Rect(0, 0, 16, 8), got.Bounds())
	assert.Same(t, src, Downscale(src, mask.Dims{Width: 64, Height: 32}))
}

func TestWritePNG(t *testing.T) {
	final := mask.FromSlice(mask.Dims{Width: 2, Height: 1}, []float32{0.25, 1})
	var buf bytes.Buffer
	require.NoError(t, WritePNG(&buf, Compose(solid(2, 1, color.NRGBA{R: 1, A: 255}), final)))

	img, err := png.Decode(&buf)
	require.NoError(t, err)
	_, _, _, a := img.At(0, 0).RGBA()
	assert.Equal(t, uint32(64*257), a)

	gray := MaskImage(final)
	assert.Equal(t, uint8(64), gray.GrayAt(0, 0).Y)
}
