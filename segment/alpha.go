package segment

import (
	"context"
	"fmt"
	"image"

	"github.com/chaos-io/cutout/mask"
)

// AlphaSource 输入图片本身已经带有透明信息（已抠过图）时，直接使用它的 alpha 通道
type AlphaSource struct{}

func NewAlphaSource() *AlphaSource {
	return &AlphaSource{}
}

func (a *AlphaSource) Segment(ctx context.Context, img image.Image) (*Outcome, error) {
	src := toNRGBA(img)
	if !hasUsefulAlpha(src) {
		return nil, fmt.Errorf("%w: image has no useful alpha", ErrFailed)
	}

	d := mask.Dims{Width: src.Rect.Dx(), Height: src.Rect.Dy()}
	return &Outcome{Raster: FromAlpha(src, d), Confidence: 1}, nil
}
