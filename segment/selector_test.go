package segment

import (
	"context"
	"errors"
	"image"
	"testing"

	"github.com/chaos-io/cutout/mask"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testDims = mask.Dims{Width: 8, Height: 6}

func filled(v float32) *mask.Raster {
	r := mask.NewRaster(testDims)
	r.Fill(v)
	return r
}

func succeed(v float32, confidence float64) Attempt {
	return Attempt{Outcome: &Outcome{Raster: filled(v), Confidence: confidence}}
}

func fail(msg string) Attempt {
	return Attempt{Err: errors.New(msg)}
}

type countingFallback struct {
	attempt Attempt
	calls   int
}

func (c *countingFallback) fn() Attempt {
	c.calls++
	return c.attempt
}

func TestSelector_Select(t *testing.T) {
	tests := []struct {
		name        string
		primary     Attempt
		fallback    *countingFallback
		wantErr     error
		wantStatus  Status
		wantValue   float32
		wantFbCalls int
	}{
		{
			name:       "主模型高置信度，直接采用",
			primary:    succeed(0.2, 0.95),
			fallback:   &countingFallback{attempt: succeed(0.7, 0.6)},
			wantStatus: StatusPrimary,
			wantValue:  0.2,
		},
		{
			name:       "置信度恰好等于阈值",
			primary:    succeed(0.2, 0.5),
			fallback:   &countingFallback{attempt: succeed(0.7, 0.6)},
			wantStatus: StatusPrimary,
			wantValue:  0.2,
		},
		{
			name:        "主模型低置信度，备用成功",
			primary:     succeed(0.2, 0.3),
			fallback:    &countingFallback{attempt: succeed(0.7, 0.6)},
			wantStatus:  StatusFallbackUsed,
			wantValue:   0.7,
			wantFbCalls: 1,
		},
		{
			name:        "主模型失败，备用成功",
			primary:     fail("model crashed"),
			fallback:    &countingFallback{attempt: succeed(0.7, 0.6)},
			wantStatus:  StatusFallbackUsed,
			wantValue:   0.7,
			wantFbCalls: 1,
		},
		{
			name:        "主模型低置信度，备用失败，接受主模型",
			primary:     succeed(0.2, 0.3),
			fallback:    &countingFallback{attempt: fail("fallback crashed")},
			wantStatus:  StatusLowConfidence,
			wantValue:   0.2,
			wantFbCalls: 1,
		},
		{
			name:        "主模型失败，备用失败",
			primary:     fail("model crashed"),
			fallback:    &countingFallback{attempt: fail("fallback crashed")},
			wantErr:     ErrAllMethodsFailed,
			wantFbCalls: 1,
		},
		{
			name:       "主模型失败，没有备用",
			primary:    fail("model crashed"),
			wantErr:    ErrAllMethodsFailed,
			wantStatus: StatusPrimary,
		},
		{
			name:       "主模型低置信度，没有备用",
			primary:    succeed(0.2, 0.1),
			wantStatus: StatusLowConfidenceNoFallback,
			wantValue:  0.2,
		},
		{
			name:        "备用未配置视为没有备用",
			primary:     succeed(0.2, 0.1),
			fallback:    &countingFallback{attempt: Attempt{Err: ErrUnavailable}},
			wantStatus:  StatusLowConfidenceNoFallback,
			wantValue:   0.2,
			wantFbCalls: 1,
		},
		{
			name:        "主模型失败，备用未配置",
			primary:     fail("model crashed"),
			fallback:    &countingFallback{attempt: Attempt{Err: ErrUnavailable}},
			wantErr:     ErrAllMethodsFailed,
			wantFbCalls: 1,
		},
		{
			name:        "主模型返回空结果视为失败",
			primary:     Attempt{Outcome: &Outcome{Confidence: 0.99}},
			fallback:    &countingFallback{attempt: succeed(0.7, 0.6)},
			wantStatus:  StatusFallbackUsed,
			wantValue:   0.7,
			wantFbCalls: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewSelector(nil, nil, 0.5)

			var fb func() Attempt
			if tt.fallback != nil {
				fb = tt.fallback.fn
			}
			got, err := s.Select(tt.primary, fb)

			if tt.fallback != nil {
				assert.Equal(t, tt.wantFbCalls, tt.fallback.calls)
			}
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, got)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, got.Status)
			assert.Equal(t, tt.wantValue, got.Raster.At(0, 0))
		})
	}
}

func TestSelector_FallbackUsedKeepsPrimaryError(t *testing.T) {
	s := NewSelector(nil, nil, DefaultConfidenceThreshold)
	got, err := s.Select(fail("boom"), func() Attempt { return succeed(1, 0.6) })

	require.NoError(t, err)
	assert.True(t, got.FallbackUsed())
	assert.EqualError(t, got.PrimaryErr, "boom")
}

func testImage() image.Image {
	return image.NewNRGBA(image.Rect(0, 0, testDims.Width, testDims.Height))
}

func sourceOf(a Attempt) Source {
	return SourceFunc(func(ctx context.Context, img image.Image) (*Outcome, error) {
		return a.Outcome, a.Err
	})
}

func TestSelector_Run(t *testing.T) {
	t.Run("主模型未配置", func(t *testing.T) {
		s := NewSelector(nil, nil, 0.5)
		assert.False(t, s.Ready())
		_, err := s.Run(context.Background(), testImage())
		assert.ErrorIs(t, err, ErrUnavailable)
	})

	t.Run("主模型高置信度，备用不被调用", func(t *testing.T) {
		called := false
		fb := SourceFunc(func(ctx context.Context, img image.Image) (*Outcome, error) {
			called = true
			return &Outcome{Raster: filled(1), Confidence: 0.6}, nil
		})
		s := NewSelector(sourceOf(succeed(0.4, 0.95)), fb, 0.5)

		got, err := s.Run(context.Background(), testImage())
		require.NoError(t, err)
		assert.Equal(t, StatusPrimary, got.Status)
		assert.False(t, called)
	})

	t.Run("主模型报错，没有备用", func(t *testing.T) {
		s := NewSelector(sourceOf(fail("primary throws")), nil, 0.5)
		_, err := s.Run(context.Background(), testImage())
		assert.ErrorIs(t, err, ErrAllMethodsFailed)
		assert.ErrorIs(t, err, ErrFailed)
		assert.ErrorContains(t, err, "primary throws")
	})

	t.Run("结果尺寸不一致视为失败", func(t *testing.T) {
		wrong := &Outcome{Raster: mask.NewRaster(mask.Dims{Width: 3, Height: 3}), Confidence: 1}
		s := NewSelector(sourceOf(Attempt{Outcome: wrong}), sourceOf(succeed(0.7, 0.6)), 0.5)

		got, err := s.Run(context.Background(), testImage())
		require.NoError(t, err)
		assert.Equal(t, StatusFallbackUsed, got.Status)
		assert.ErrorContains(t, got.PrimaryErr, "mask is 3x3")
	})

	t.Run("模型 panic 不会传出", func(t *testing.T) {
		panicky := SourceFunc(func(ctx context.Context, img image.Image) (*Outcome, error) {
			panic("index out of range")
		})
		s := NewSelector(panicky, nil, 0.5)
		_, err := s.Run(context.Background(), testImage())
		assert.ErrorIs(t, err, ErrAllMethodsFailed)
	})

	t.Run("context 已取消", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		s := NewSelector(sourceOf(succeed(0.4, 0.95)), nil, 0.5)
		_, err := s.Run(ctx, testImage())
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestStatus_String(t *testing.T) {
	assert.Equal(t, "fallback used", StatusFallbackUsed.String())
	text, err := StatusLowConfidenceNoFallback.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "low-confidence accepted, no fallback", string(text))
}
