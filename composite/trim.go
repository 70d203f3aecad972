package composite

import (
	"errors"
	"image"

	"golang.org/x/image/draw"
)

// SubjectThreshold alpha 超过该比例的像素算作主体
const SubjectThreshold = 0.8

var ErrNoSubject = errors.New("no foreground found")

// CropMode 导出时的裁剪方式
type CropMode int

const (
	CropNone CropMode = iota
	// CropTight 裁到主体的 bounding box
	CropTight
	// CropSquare 以主体中心、最长边为边长裁成正方形
	CropSquare
)

func ParseCropMode(s string) (CropMode, bool) {
	switch s {
	case "", "none":
		return CropNone, true
	case "tight":
		return CropTight, true
	case "square":
		return CropSquare, true
	}
	return CropNone, false
}

// SubjectBounds 从 alpha 通道计算主体 bounding box，
// alpha > threshold*255 的像素算作主体
func SubjectBounds(img *image.NRGBA, threshold float64) (image.Rectangle, error) {
	b := img.Rect
	th := uint8(threshold * 255)

	minX, minY := b.Max.X, b.Max.Y
	maxX, maxY := b.Min.X, b.Min.Y
	found := false

	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if img.Pix[img.PixOffset(x, y)+3] <= th {
				continue
			}
			found = true
			minX, minY = min(minX, x), min(minY, y)
			maxX, maxY = max(maxX, x), max(maxY, y)
		}
	}

	if !found {
		return image.Rectangle{}, ErrNoSubject
	}
	return image.Rect(minX, minY, maxX+1, maxY+1), nil
}

// Crop 按 mode 裁剪合成后的图片
func Crop(img *image.NRGBA, mode CropMode) (*image.NRGBA, error) {
	if mode == CropNone {
		return img, nil
	}

	bbox, err := SubjectBounds(img, SubjectThreshold)
	if err != nil {
		return nil, err
	}
	if mode == CropSquare {
		bbox = squareAround(bbox).Intersect(img.Rect)
	}

	dst := image.NewNRGBA(image.Rect(0, 0, bbox.Dx(), bbox.Dy()))
	draw.Draw(dst, dst.Bounds(), img, bbox.Min, draw.Src)
	return dst, nil
}

func squareAround(bbox image.Rectangle) image.Rectangle {
	cx := (bbox.Min.X + bbox.Max.X) / 2
	cy := (bbox.Min.Y + bbox.Max.Y) / 2
	half := max(bbox.Dx(), bbox.Dy()) / 2
	return image.Rect(cx-half, cy-half, cx+half, cy+half)
}

// Premultiply RGB 乘以 alpha，透明区域变黑，去掉边缘的背景色残留
func Premultiply(img *image.NRGBA) {
	for i := 0; i < len(img.Pix); i += 4 {
		a := float64(img.Pix[i+3]) / 255.0
		img.Pix[i] = uint8(float64(img.Pix[i]) * a)
		img.Pix[i+1] = uint8(float64(img.Pix[i+1]) * a)
		img.Pix[i+2] = uint8(float64(img.Pix[i+2]) * a)
	}
}
