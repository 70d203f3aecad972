package segment

import (
	"image"
	"image/draw"

	"github.com/chaos-io/cutout/mask"
	"github.com/nfnt/resize"
)

const (
	// 平均不透明度超过 coverageMin 认为模型找到了主体
	coverageMin        = 0.01
	coverageConfident  = 0.95
	coverageUncertain  = 0.3
	categoryForeground = 127
)

// MaskShape 模型输出图片的编码方式
type MaskShape int

const (
	// ShapeAlpha 抠图结果，alpha 通道即不透明度
	ShapeAlpha MaskShape = iota
	// ShapeConfidence 置信度图，第一个通道 / 255
	ShapeConfidence
	// ShapeCategory 类别图，第一个通道 > 127 为前景
	ShapeCategory
)

func ParseMaskShape(s string) (MaskShape, bool) {
	switch s {
	case "", "alpha":
		return ShapeAlpha, true
	case "confidence":
		return ShapeConfidence, true
	case "category":
		return ShapeCategory, true
	}
	return ShapeAlpha, false
}

// Normalize 按 shape 把模型输出图片转为 d 尺寸的 raster
func Normalize(img image.Image, shape MaskShape, d mask.Dims) *mask.Raster {
	switch shape {
	case ShapeConfidence:
		return FromConfidenceMask(img, d)
	case ShapeCategory:
		return FromCategoryMask(img, d)
	default:
		return FromAlpha(img, d)
	}
}

// FromAlpha alpha / 255
func FromAlpha(img image.Image, d mask.Dims) *mask.Raster {
	return fromChannel(img, d, 3, func(v uint8) float32 { return float32(v) / 255 })
}

// FromConfidenceMask 第一个通道 / 255
func FromConfidenceMask(img image.Image, d mask.Dims) *mask.Raster {
	return fromChannel(img, d, 0, func(v uint8) float32 { return float32(v) / 255 })
}

// FromCategoryMask 第一个通道 > 127 为 1，否则为 0
func FromCategoryMask(img image.Image, d mask.Dims) *mask.Raster {
	return fromChannel(img, d, 0, func(v uint8) float32 {
		if v > categoryForeground {
			return 1
		}
		return 0
	})
}

func fromChannel(img image.Image, d mask.Dims, channel int, conv func(uint8) float32) *mask.Raster {
	r := mask.NewRaster(d)
	if img == nil || d.Len() == 0 {
		return r
	}

	src := toNRGBA(resizeTo(img, d))
	data := r.Data()
	for y := 0; y < d.Height; y++ {
		row := y * src.Stride
		for x := 0; x < d.Width; x++ {
			data[y*d.Width+x] = conv(src.Pix[row+x*4+channel])
		}
	}
	return r
}

// CoverageConfidence 模型本身不给置信度时的估计：几乎全透明说明没找到主体
func CoverageConfidence(r *mask.Raster) float64 {
	if r != nil && r.Mean() > coverageMin {
		return coverageConfident
	}
	return coverageUncertain
}

// resizeTo 缩放到 d，尺寸一致时原样返回
func resizeTo(img image.Image, d mask.Dims) image.Image {
	b := img.Bounds()
	if b.Dx() == d.Width && b.Dy() == d.Height {
		return img
	}
	return resize.Resize(uint(d.Width), uint(d.Height), img, resize.Bilinear)
}

// hasUsefulAlpha 检查 alpha 通道是否 真的包含透明信息
// 只要存在非 255（非完全不透明），就认为“已有抠图”
func hasUsefulAlpha(img *image.NRGBA) bool {
	for i := 3; i < len(img.Pix); i += 4 {
		if img.Pix[i] != 255 {
			return true
		}
	}
	return false
}

func toNRGBA(img image.Image) *image.NRGBA {
	if nrgba, ok := img.(*image.NRGBA); ok && nrgba.Rect.Min == (image.Point{}) {
		return nrgba
	}
	b := img.Bounds()
	dst := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}
