// Package editor 一张图片的抠图编辑会话：分割、画笔修正、羽化、撤销重做和导出。
package editor

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"time"

	"github.com/chaos-io/cutout/composite"
	"github.com/chaos-io/cutout/history"
	"github.com/chaos-io/cutout/mask"
	"github.com/chaos-io/cutout/segment"
	"github.com/chaos-io/cutout/util"
)

var (
	ErrNoImage       = errors.New("no image loaded")
	ErrNoMask        = errors.New("no mask yet")
	ErrRunInProgress = errors.New("segmentation already running")
)

type Options struct {
	MaxSide      int
	BrushSize    float64
	Feather      float64
	FeatherMode  mask.FeatherMode
	HistoryDepth int
	// Timeout 单次分割的超时，<= 0 不限
	Timeout time.Duration
}

func DefaultOptions() Options {
	return Options{
		MaxSide:      1024,
		BrushSize:    24,
		FeatherMode:  mask.FeatherCentered,
		HistoryDepth: 64,
	}
}

// Session 所有方法都持有同一把锁，画笔、重算、羽化、导出串行执行。
// 只有分割是异步的。
type Session struct {
	mu sync.Mutex

	opts     Options
	selector *segment.Selector

	source  image.Image
	working *image.NRGBA
	store   *mask.Store
	history *history.Stack[mask.Snapshot]
	// dirty 当前状态还没有进入历史
	dirty   bool
	drawing bool

	tool      mask.Tool
	brushSize float64
	feather   float64

	gen     int
	run     *Run
	last    *segment.Selection
	lastErr error
	// 当前分割的阶段和百分比
	stage   string
	percent int
}

func NewSession(selector *segment.Selector, opts Options) *Session {
	return &Session{
		opts:      opts,
		selector:  selector,
		history:   history.New[mask.Snapshot](opts.HistoryDepth),
		tool:      mask.ToolKeep,
		brushSize: opts.BrushSize,
		feather:   opts.Feather,
	}
}

// LoadImage 换图：按 MaxSide 缩到工作分辨率，丢弃 mask、历史和上一次分割的结果。
// 正在进行的分割会被取消，它的结果不会再被采用。
func (s *Session) LoadImage(img image.Image) mask.Dims {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cancelRun()

	b := img.Bounds()
	d := composite.FitWithin(b.Dx(), b.Dy(), s.opts.MaxSide, s.opts.MaxSide)
	s.source = img
	s.working = composite.Downscale(img, d)
	s.store = mask.NewStore(d, s.opts.FeatherMode)
	s.store.SetFeather(s.feather)
	s.history.Reset()
	s.dirty = false
	s.drawing = false
	s.last = nil
	s.lastErr = nil
	s.stage, s.percent = "", 0

	slog.Debug("image loaded", "source", fmt.Sprintf("%dx%d", b.Dx(), b.Dy()), "working", d.String())
	return d
}

// Close 取消正在进行的分割，会话被移除时调用
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelRun()
}

// cancelRun 取消当前分割并让它的结果失效
func (s *Session) cancelRun() {
	if s.run != nil {
		s.run.Cancel()
		s.run = nil
	}
	s.gen++
}

// Run 一次分割。Wait 在结果被会话采用（或丢弃）之后才返回。
type Run struct {
	*segment.Task
	applied chan struct{}
	sel     *segment.Selection
	err     error
}

func (r *Run) Wait(ctx context.Context) (*segment.Selection, error) {
	select {
	case <-r.applied:
		return r.sel, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// StartSegmentation 在后台对工作分辨率的图片运行分割。
// 没有图片、没有主模型或已有分割在运行时拒绝。
func (s *Session) StartSegmentation(ctx context.Context) (*Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.working == nil {
		return nil, ErrNoImage
	}
	if !s.selector.Ready() {
		return nil, fmt.Errorf("primary: %w", segment.ErrUnavailable)
	}
	if s.run != nil {
		return nil, ErrRunInProgress
	}

	cancel := context.CancelFunc(func() {})
	if s.opts.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, s.opts.Timeout)
	}

	r := &Run{Task: s.selector.Start(ctx, s.working), applied: make(chan struct{})}
	s.run = r
	s.stage, s.percent = "", 0
	gen := s.gen

	go func() {
		defer cancel()
		// 运行结束时 Progress 关闭
		for p := range r.Task.Progress() {
			s.mu.Lock()
			if s.run == r && s.gen == gen {
				s.stage, s.percent = p.Stage, p.Percent
			}
			s.mu.Unlock()
		}
		sel, err := r.Task.Wait(context.Background())

		s.mu.Lock()
		if s.run == r && s.gen == gen {
			s.run = nil
			if err != nil {
				s.lastErr = err
				slog.Warn("segmentation failed, base mask unchanged", "error", err)
			} else {
				s.applySelection(sel)
			}
		} else {
			slog.Debug("discarding stale segmentation result")
			if err == nil {
				err = context.Canceled
				sel = nil
			}
		}
		r.sel, r.err = sel, err
		s.mu.Unlock()
		close(r.applied)
	}()
	return r, nil
}

// RunSegmentation 运行分割并等待结果被采用
func (s *Session) RunSegmentation(ctx context.Context) (*segment.Selection, error) {
	r, err := s.StartSegmentation(ctx)
	if err != nil {
		return nil, err
	}
	sel, err := r.Wait(ctx)
	if err != nil && ctx.Err() != nil {
		r.Cancel()
	}
	return sel, err
}

// ApplySelection 把选择结果设为 base mask，清空修正层和历史
func (s *Session) ApplySelection(sel *segment.Selection) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.store == nil {
		return ErrNoImage
	}
	s.applySelection(sel)
	return nil
}

func (s *Session) applySelection(sel *segment.Selection) {
	s.store.SetBase(sel.Raster)
	s.store.Recompute()
	s.history.Reset()
	s.dirty = false
	s.drawing = false
	s.last = sel
	s.lastErr = nil
}

// SetTool 切换画笔工具
func (s *Session) SetTool(t mask.Tool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tool = t
}

// SetBrushSize 设置画笔直径，非正数被忽略
func (s *Session) SetBrushSize(size float64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !(size > 0) {
		return false
	}
	s.brushSize = size
	return true
}

// SetFeather 修改羽化半径（0~2）。连续的修改与之前未入历史的笔画合并为一步撤销。
func (s *Session) SetFeather(radius float64) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.store == nil {
		s.feather = radius
		return radius
	}
	if s.store.HasBase() && !s.dirty {
		s.checkpoint()
	}
	s.store.SetFeather(radius)
	s.feather = s.store.Feather()
	return s.feather
}

// checkpoint 在修改前保证修改前的状态在历史里，并截断重做分支
func (s *Session) checkpoint() {
	if s.history.Len() == 0 || s.dirty {
		s.history.Push(s.store.Snapshot())
	} else {
		s.history.DiscardRedo()
	}
	s.dirty = true
}

// PointerDown 开始一笔并在 (x, y) 盖第一个章，坐标为工作分辨率下的像素坐标。
// 没有 base mask 时不做任何事，返回 false。
func (s *Session) PointerDown(x, y float64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.store == nil || !s.store.HasBase() {
		return false
	}
	radius := mask.BrushRadius(s.brushSize)
	if !(radius > 0) {
		return false
	}
	s.checkpoint()
	s.drawing = true
	return s.store.Stamp(s.tool, x, y, radius)
}

// PointerMove 按下状态下每次移动盖一个章，不做插值
func (s *Session) PointerMove(x, y float64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.drawing {
		return false
	}
	return s.store.Stamp(s.tool, x, y, mask.BrushRadius(s.brushSize))
}

func (s *Session) PointerUp() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.drawing = false
}

// Stroke 一次完成的笔画：down、逐点 move、up
func (s *Session) Stroke(points []image.Point) bool {
	if len(points) == 0 {
		return false
	}
	if !s.PointerDown(float64(points[0].X), float64(points[0].Y)) {
		return false
	}
	for _, p := range points[1:] {
		s.PointerMove(float64(p.X), float64(p.Y))
	}
	s.PointerUp()
	return true
}

func (s *Session) Undo() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.store == nil {
		return false
	}
	s.drawing = false
	if s.dirty {
		s.history.Push(s.store.Snapshot())
		s.dirty = false
	}
	snap, ok := s.history.Undo()
	if !ok {
		return false
	}
	s.store.Restore(snap)
	s.feather = s.store.Feather()
	return true
}

func (s *Session) Redo() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.store == nil || s.dirty {
		return false
	}
	snap, ok := s.history.Redo()
	if !ok {
		return false
	}
	s.store.Restore(snap)
	s.feather = s.store.Feather()
	return true
}

// FinalMask 当前 final mask 的拷贝；还没有 base 时为 nil
func (s *Session) FinalMask() *mask.Raster {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.store == nil {
		return nil
	}
	return s.store.Final().Clone()
}

// Result 把 final mask 放大到原图尺寸后写入原图的 alpha
func (s *Session) Result() (*image.NRGBA, error) {
	defer util.Trace("editor.Result")()

	s.mu.Lock()
	defer s.mu.Unlock()

	final, err := s.final()
	if err != nil {
		return nil, err
	}
	return composite.Compose(s.source, final), nil
}

// Matte 工作分辨率下的调试遮罩
func (s *Session) Matte() (*image.NRGBA, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	final, err := s.final()
	if err != nil {
		return nil, err
	}
	return composite.Matte(final), nil
}

// MaskImage final mask 的灰度图
func (s *Session) MaskImage() (*image.Gray, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	final, err := s.final()
	if err != nil {
		return nil, err
	}
	return composite.MaskImage(final), nil
}

func (s *Session) final() (*mask.Raster, error) {
	if s.source == nil {
		return nil, ErrNoImage
	}
	if s.store.Final() == nil {
		return nil, ErrNoMask
	}
	return s.store.Final(), nil
}

// State 会话的界面状态
type State struct {
	Width        int     `json:"width"`
	Height       int     `json:"height"`
	SourceWidth  int     `json:"source_width"`
	SourceHeight int     `json:"source_height"`
	HasMask      bool    `json:"has_mask"`
	Tool         string  `json:"tool"`
	BrushSize    float64 `json:"brush_size"`
	Feather      float64 `json:"feather"`
	FeatherMode  string  `json:"feather_mode"`
	CanUndo      bool    `json:"can_undo"`
	CanRedo      bool    `json:"can_redo"`
	Running      bool    `json:"running"`
	CanRun       bool    `json:"can_run"`
	Stage        string  `json:"stage,omitempty"`
	Percent      int     `json:"percent"`
	Status       string  `json:"status,omitempty"`
	Confidence   float64 `json:"confidence,omitempty"`
	FallbackUsed bool    `json:"fallback_used"`
	InferenceMS  int64   `json:"inference_ms,omitempty"`
	Error        string  `json:"error,omitempty"`
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := State{
		Tool:        s.tool.String(),
		BrushSize:   s.brushSize,
		Feather:     s.feather,
		FeatherMode: s.opts.FeatherMode.String(),
		Running:     s.run != nil,
		Stage:       s.stage,
		Percent:     s.percent,
	}
	st.CanRun = s.working != nil && s.selector.Ready() && !st.Running

	if s.source != nil {
		b := s.source.Bounds()
		st.SourceWidth, st.SourceHeight = b.Dx(), b.Dy()
		d := s.store.Dims()
		st.Width, st.Height = d.Width, d.Height
		st.HasMask = s.store.Final() != nil
		st.CanUndo = s.dirty || s.history.CanUndo()
		st.CanRedo = !s.dirty && s.history.CanRedo()
	}
	if s.last != nil {
		st.Status = s.last.Status.String()
		st.Confidence = s.last.Confidence
		st.FallbackUsed = s.last.FallbackUsed()
		st.InferenceMS = s.last.Inference.Milliseconds()
	}
	if s.lastErr != nil {
		st.Error = s.lastErr.Error()
	}
	return st
}
