// Package segment 外部分割模型的统一接口与主/备结果选择策略。
//
// 每个外部模型都通过一个适配器产出同一种结果 Outcome{Raster, Confidence}，
// Selector 只根据置信度和失败状态做决定，不关心模型输出的原始形态。
package segment

import (
	"context"
	"errors"
	"image"

	"github.com/chaos-io/cutout/mask"
)

var (
	// ErrUnavailable 模型未配置；作为备用模型时等同于“没有备用”，不算失败
	ErrUnavailable = errors.New("segmentation unavailable")
	// ErrFailed 模型被调用但出错
	ErrFailed = errors.New("segmentation failed")
	// ErrAllMethodsFailed 本次运行没有得到任何 mask
	ErrAllMethodsFailed = errors.New("all segmentation methods failed")
)

// Outcome 归一化后的分割结果，Raster 尺寸与输入图片一致
type Outcome struct {
	Raster     *mask.Raster
	Confidence float64
}

// Source 外部分割模型
type Source interface {
	Segment(ctx context.Context, img image.Image) (*Outcome, error)
}

// SourceFunc 让普通函数实现 Source
type SourceFunc func(ctx context.Context, img image.Image) (*Outcome, error)

func (f SourceFunc) Segment(ctx context.Context, img image.Image) (*Outcome, error) {
	return f(ctx, img)
}

// Progress 运行进度
type Progress struct {
	Stage   string `json:"stage"`
	Percent int    `json:"percent"`
}

type progressKey struct{}

// WithProgress 把进度通道放进 context，模型适配器通过 ReportProgress 汇报
func WithProgress(ctx context.Context, ch chan<- Progress) context.Context {
	return context.WithValue(ctx, progressKey{}, ch)
}

// ReportProgress 非阻塞发送，接收方跟不上时丢弃
func ReportProgress(ctx context.Context, stage string, percent int) {
	ch, ok := ctx.Value(progressKey{}).(chan<- Progress)
	if !ok || ch == nil {
		return
	}
	select {
	case ch <- Progress{Stage: stage, Percent: percent}:
	default:
	}
}
