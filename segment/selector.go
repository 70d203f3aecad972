package segment

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"math"
	"time"
)

const (
	// DefaultConfidenceThreshold 低于该置信度的主模型结果会触发备用模型
	DefaultConfidenceThreshold = 0.4
	MinConfidenceThreshold     = 0.4
	MaxConfidenceThreshold     = 0.55
)

// Status 选择结果的来源，用于界面提示
type Status int

const (
	StatusPrimary Status = iota
	StatusFallbackUsed
	StatusLowConfidence
	StatusLowConfidenceNoFallback
)

func (s Status) String() string {
	switch s {
	case StatusPrimary:
		return "primary"
	case StatusFallbackUsed:
		return "fallback used"
	case StatusLowConfidence:
		return "low-confidence accepted"
	case StatusLowConfidenceNoFallback:
		return "low-confidence accepted, no fallback"
	default:
		return "unknown"
	}
}

func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Attempt 一次模型调用的结果：Outcome 与 Err 二选一
type Attempt struct {
	Outcome *Outcome
	Err     error
}

func (a Attempt) ok() bool {
	return a.Err == nil && a.Outcome != nil && a.Outcome.Raster != nil
}

func (a Attempt) confidence() float64 {
	c := a.Outcome.Confidence
	if math.IsNaN(c) {
		return 0
	}
	return c
}

// Selection 被采用的 mask 及其来源
type Selection struct {
	Outcome
	Status      Status
	PrimaryErr  error
	FallbackErr error
	Inference   time.Duration
}

func (s *Selection) FallbackUsed() bool { return s.Status == StatusFallbackUsed }

// Selector 主模型必需，备用模型可选
type Selector struct {
	Primary   Source
	Fallback  Source
	Threshold float64
}

func NewSelector(primary, fallback Source, threshold float64) *Selector {
	return &Selector{Primary: primary, Fallback: fallback, Threshold: threshold}
}

// Ready 配置了主模型才能运行
func (s *Selector) Ready() bool { return s != nil && s.Primary != nil }

// Select 按顺序执行选择策略：
//
//  1. 主模型失败且没有备用 → ErrAllMethodsFailed
//  2. 主模型成功且置信度 ≥ 阈值 → 主模型结果，不调用备用
//  3. 主模型失败或置信度不足且有备用 → 调用备用
//     备用成功 → 备用结果；备用失败 → 主模型成功过则接受低置信度结果，否则 ErrAllMethodsFailed
//  4. 主模型置信度不足且没有备用 → 主模型结果
//
// fallback 为 nil 或返回 ErrUnavailable 表示没有备用模型。
func (s *Selector) Select(primary Attempt, fallback func() Attempt) (*Selection, error) {
	primaryOK := primary.ok()
	if primaryOK && primary.confidence() >= s.Threshold {
		return &Selection{Outcome: *primary.Outcome, Status: StatusPrimary}, nil
	}
	if primary.Err == nil && !primaryOK {
		primary.Err = fmt.Errorf("%w: empty result", ErrFailed)
	}

	var fb Attempt
	available := false
	if fallback != nil {
		fb = fallback()
		available = !errors.Is(fb.Err, ErrUnavailable)
	}

	if !available {
		if primaryOK {
			return &Selection{Outcome: *primary.Outcome, Status: StatusLowConfidenceNoFallback}, nil
		}
		return nil, fmt.Errorf("%w: primary: %w", ErrAllMethodsFailed, primary.Err)
	}

	if fb.ok() {
		return &Selection{Outcome: *fb.Outcome, Status: StatusFallbackUsed, PrimaryErr: primary.Err}, nil
	}
	if fb.Err == nil {
		fb.Err = fmt.Errorf("%w: empty result", ErrFailed)
	}

	if primaryOK {
		return &Selection{Outcome: *primary.Outcome, Status: StatusLowConfidence, FallbackErr: fb.Err}, nil
	}
	return nil, fmt.Errorf("%w: primary: %w; fallback: %w", ErrAllMethodsFailed, primary.Err, fb.Err)
}

// Run 同步运行主模型，必要时运行备用模型，并做选择
func (s *Selector) Run(ctx context.Context, img image.Image) (*Selection, error) {
	if !s.Ready() {
		return nil, fmt.Errorf("primary: %w", ErrUnavailable)
	}

	start := time.Now()
	ReportProgress(ctx, "primary", 0)
	primary := invoke(ctx, s.Primary, img)
	inference := time.Since(start)
	if primary.Err != nil {
		slog.Warn("primary segmentation failed", "error", primary.Err)
	} else {
		slog.Debug("primary segmentation done", "confidence", primary.Outcome.Confidence, "cost", inference)
	}

	var fallback func() Attempt
	if s.Fallback != nil {
		fallback = func() Attempt {
			ReportProgress(ctx, "fallback", 0)
			a := invoke(ctx, s.Fallback, img)
			if a.Err != nil {
				slog.Warn("fallback segmentation failed", "error", a.Err)
			}
			return a
		}
	}

	sel, err := s.Select(primary, fallback)
	if err != nil {
		return nil, err
	}
	sel.Inference = inference
	ReportProgress(ctx, "done", 100)
	slog.Info("segmentation selected", "status", sel.Status.String(), "confidence", sel.Confidence)
	return sel, nil
}

// invoke 调用模型并校验结果尺寸；模型返回的 panic 不会传出
func invoke(ctx context.Context, src Source, img image.Image) (a Attempt) {
	defer func() {
		if r := recover(); r != nil {
			a = Attempt{Err: fmt.Errorf("%w: panic: %v", ErrFailed, r)}
		}
	}()

	if err := ctx.Err(); err != nil {
		return Attempt{Err: fmt.Errorf("%w: %w", ErrFailed, err)}
	}

	out, err := src.Segment(ctx, img)
	if err != nil {
		if errors.Is(err, ErrUnavailable) || errors.Is(err, ErrFailed) {
			return Attempt{Err: err}
		}
		return Attempt{Err: fmt.Errorf("%w: %w", ErrFailed, err)}
	}
	if out == nil || out.Raster == nil {
		return Attempt{Err: fmt.Errorf("%w: empty result", ErrFailed)}
	}

	b := img.Bounds()
	if d := out.Raster.Dims(); d.Width != b.Dx() || d.Height != b.Dy() {
		return Attempt{Err: fmt.Errorf("%w: mask is %s, image is %dx%d", ErrFailed, d, b.Dx(), b.Dy())}
	}
	return Attempt{Outcome: out}
}
