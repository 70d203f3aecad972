// Package composite 把 final mask 写入原图的 alpha 通道，以及导出前后的缩放。
package composite

import (
	"fmt"
	"image"
	"image/png"
	"io"
	"math"

	"github.com/chaos-io/cutout/mask"
	"github.com/nfnt/resize"
	"golang.org/x/image/draw"
)

// matteAlpha 调试遮罩的最大 alpha
const matteAlpha = 128

// FitWithin 计算不超过 maxW×maxH 的等比尺寸，只缩小不放大；maxW/maxH <= 0 表示不限
func FitWithin(w, h, maxW, maxH int) mask.Dims {
	scale := 1.0
	if maxW > 0 {
		scale = math.Min(scale, float64(maxW)/float64(w))
	}
	if maxH > 0 {
		scale = math.Min(scale, float64(maxH)/float64(h))
	}
	return mask.Dims{
		Width:  max(1, int(math.Round(float64(w)*scale))),
		Height: max(1, int(math.Round(float64(h)*scale))),
	}
}

// Downscale 把图片缩放到 d（工作分辨率），尺寸一致时只做格式转换
func Downscale(img image.Image, d mask.Dims) *image.NRGBA {
	b := img.Bounds()
	if b.Dx() == d.Width && b.Dy() == d.Height {
		return toNRGBA(img)
	}
	return toNRGBA(resize.Resize(uint(d.Width), uint(d.Height), img, resize.Lanczos3))
}

// Compose 复制 src，把 final mask 按 round(clamp(v)*255) 写入 alpha，RGB 不变。
// mask 尺寸与 src 不同时先把 mask 缩放到 src 的尺寸。
func Compose(src image.Image, final *mask.Raster) *image.NRGBA {
	out := toNRGBA(src)
	if out == src {
		out = cloneNRGBA(out)
	}
	b := out.Rect
	alpha := Scale(final, mask.Dims{Width: b.Dx(), Height: b.Dy()})

	data := alpha.Data()
	for y := 0; y < b.Dy(); y++ {
		row := y * out.Stride
		for x := 0; x < b.Dx(); x++ {
			out.Pix[row+x*4+3] = toByte(data[y*b.Dx()+x])
		}
	}
	return out
}

// Matte 调试遮罩：被移除的区域显示为半透明红色，alpha = round((1-v)*128)
func Matte(final *mask.Raster) *image.NRGBA {
	d := final.Dims()
	out := image.NewNRGBA(d.Rect())
	for i, v := range final.Data() {
		a := 1 - clamp01(v)
		out.Pix[i*4+0] = 255
		out.Pix[i*4+1] = 0
		out.Pix[i*4+2] = 0
		out.Pix[i*4+3] = uint8(math.Round(float64(a) * matteAlpha))
	}
	return out
}

// MaskImage 以灰度图形式输出 mask
func MaskImage(final *mask.Raster) *image.Gray {
	d := final.Dims()
	out := image.NewGray(d.Rect())
	for i, v := range final.Data() {
		out.Pix[i] = toByte(v)
	}
	return out
}

// Scale 用 CatmullRom 把 mask 缩放到 d；尺寸一致时原样返回
func Scale(m *mask.Raster, d mask.Dims) *mask.Raster {
	if m.Dims() == d {
		return m
	}

	// 用 Gray16 保留精度
	src := image.NewGray16(m.Dims().Rect())
	for i, v := range m.Data() {
		g := uint16(math.Round(float64(clamp01(v)) * 0xffff))
		src.Pix[i*2] = uint8(g >> 8)
		src.Pix[i*2+1] = uint8(g)
	}
	dst := image.NewGray16(d.Rect())
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)

	out := mask.NewRaster(d)
	data := out.Data()
	for i := range data {
		g := uint16(dst.Pix[i*2])<<8 | uint16(dst.Pix[i*2+1])
		data[i] = float32(g) / 0xffff
	}
	return out
}

// WritePNG 导出为带透明通道的 PNG
func WritePNG(w io.Writer, img image.Image) error {
	enc := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := enc.Encode(w, img); err != nil {
		return fmt.Errorf("encode png: %w", err)
	}
	return nil
}

func toByte(v float32) uint8 {
	return uint8(math.Round(float64(clamp01(v)) * 255))
}

func clamp01(v float32) float32 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func toNRGBA(img image.Image) *image.NRGBA {
	if nrgba, ok := img.(*image.NRGBA); ok && nrgba.Rect.Min == (image.Point{}) && nrgba.Stride == 4*nrgba.Rect.Dx() {
		return nrgba
	}
	b := img.Bounds()
	dst := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}

func cloneNRGBA(img *image.NRGBA) *image.NRGBA {
	dst := image.NewNRGBA(img.Rect)
	copy(dst.Pix, img.Pix)
	return dst
}
