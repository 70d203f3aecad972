// Package server 抠图编辑的 HTTP 接口
package server

import (
	"context"
	"errors"
	"fmt"
	"image"
	"net/http"
	"strconv"

	"github.com/chaos-io/cutout/composite"
	"github.com/chaos-io/cutout/config"
	"github.com/chaos-io/cutout/editor"
	"github.com/chaos-io/cutout/mask"
	"github.com/chaos-io/cutout/segment"
	"github.com/chaos-io/cutout/util"
	nhttp "github.com/chaos-io/cutout/util/http"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Response 通用响应
type Response struct {
	Success bool         `json:"success"`
	Message string       `json:"message"`
	ID      string       `json:"id,omitempty"`
	Changed *bool        `json:"changed,omitempty"`
	Data    editor.State `json:"data"`
}

// ErrorResponse 错误响应
type ErrorResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}

type StrokeRequest struct {
	Tool      string   `json:"tool"`
	BrushSize float64  `json:"brush_size"`
	Points    [][2]int `json:"points" binding:"required,min=1"`
}

type ToolRequest struct {
	Tool      string  `json:"tool"`
	BrushSize float64 `json:"brush_size"`
}

type FeatherRequest struct {
	Radius *float64 `json:"radius" binding:"required"`
}

type Handler struct {
	cfg      *config.Config
	sessions *Registry
	http     nhttp.IClient
}

func NewHandler(cfg *config.Config, sessions *Registry, cli nhttp.IClient) *Handler {
	if cli == nil {
		cli = nhttp.NewHTTPClient()
	}
	return &Handler{cfg: cfg, sessions: sessions, http: cli}
}

// CreateSession 上传图片（表单字段 image）或给出图片地址（表单字段 url）新建会话
func (h *Handler) CreateSession(c *gin.Context) {
	img, err := h.readImage(c)
	if err != nil {
		badRequest(c, "读取图片失败", err)
		return
	}

	id, s := h.sessions.Create()
	d := s.LoadImage(img)

	util.Logger.Info("session created",
		zap.String("id", id),
		zap.Int("width", img.Bounds().Dx()),
		zap.Int("height", img.Bounds().Dy()),
		zap.Stringer("working", d))

	c.JSON(http.StatusCreated, Response{
		Success: true,
		Message: "会话已创建",
		ID:      id,
		Data:    s.State(),
	})
}

func (h *Handler) readImage(c *gin.Context) (image.Image, error) {
	limits := util.ImageLimits{MaxBytes: h.cfg.Server.MaxUploadSize, MaxPixels: h.cfg.Server.MaxPixels}
	if url := c.PostForm("url"); url != "" {
		return util.DownloadImage(c.Request.Context(), h.http, url, limits)
	}

	file, err := c.FormFile("image")
	if err != nil {
		return nil, err
	}
	if limit := limits.MaxBytes; limit > 0 && file.Size > limit {
		return nil, fmt.Errorf("文件大小超过限制 (%d MB): %w", limit/(1024*1024), util.ErrImageTooLarge)
	}

	f, err := file.Open()
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = f.Close()
	}()
	return util.ReadImage(f, limits)
}

// Segment 运行分割。async=true 时立即返回，通过 state 的 stage 和 percent 查询进度。
func (h *Handler) Segment(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}

	async, _ := strconv.ParseBool(c.Query("async"))
	if async {
		_, err := s.StartSegmentation(context.WithoutCancel(c.Request.Context()))
		if err != nil {
			h.segmentError(c, err)
			return
		}
		c.JSON(http.StatusAccepted, Response{Success: true, Message: "分割已开始", Data: s.State()})
		return
	}

	if _, err := s.RunSegmentation(c.Request.Context()); err != nil {
		h.segmentError(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Message: "分割完成", Data: s.State()})
}

func (h *Handler) segmentError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	msg := "分割失败"
	switch {
	case errors.Is(err, editor.ErrNoImage):
		status, msg = http.StatusConflict, "会话没有图片"
	case errors.Is(err, editor.ErrRunInProgress):
		status, msg = http.StatusConflict, "分割正在进行"
	case errors.Is(err, segment.ErrAllMethodsFailed):
		status, msg = http.StatusBadGateway, "所有分割方法都失败了"
	case errors.Is(err, segment.ErrUnavailable):
		status, msg = http.StatusServiceUnavailable, "未配置分割模型"
	}
	util.Logger.Warn("segmentation rejected", zap.String("id", c.Param("id")), zap.Error(err))
	c.JSON(status, ErrorResponse{Success: false, Message: msg, Error: err.Error()})
}

// Stroke 一笔：points 为工作分辨率下的像素坐标
func (h *Handler) Stroke(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}

	var req StrokeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "参数错误", err)
		return
	}
	if !h.applyTool(c, s, req.Tool, req.BrushSize) {
		return
	}

	points := make([]image.Point, len(req.Points))
	for i, p := range req.Points {
		points[i] = image.Pt(p[0], p[1])
	}
	changed := s.Stroke(points)
	c.JSON(http.StatusOK, Response{Success: true, Message: "ok", Changed: &changed, Data: s.State()})
}

// SetTool 切换工具和笔刷大小
func (h *Handler) SetTool(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}

	var req ToolRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "参数错误", err)
		return
	}
	if !h.applyTool(c, s, req.Tool, req.BrushSize) {
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Message: "ok", Data: s.State()})
}

func (h *Handler) applyTool(c *gin.Context, s *editor.Session, tool string, size float64) bool {
	if tool != "" {
		t, ok := mask.ParseTool(tool)
		if !ok {
			badRequest(c, "未知工具", fmt.Errorf("tool %q", tool))
			return false
		}
		s.SetTool(t)
	}
	if size != 0 && !s.SetBrushSize(size) {
		badRequest(c, "笔刷大小必须为正数", fmt.Errorf("brush_size %v", size))
		return false
	}
	return true
}

// SetFeather 设置羽化半径，超出 [0, 2] 时截断
func (h *Handler) SetFeather(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}

	var req FeatherRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "参数错误", err)
		return
	}
	s.SetFeather(*req.Radius)
	c.JSON(http.StatusOK, Response{Success: true, Message: "ok", Data: s.State()})
}

func (h *Handler) Undo(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	changed := s.Undo()
	c.JSON(http.StatusOK, Response{Success: true, Message: "ok", Changed: &changed, Data: s.State()})
}

func (h *Handler) Redo(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	changed := s.Redo()
	c.JSON(http.StatusOK, Response{Success: true, Message: "ok", Changed: &changed, Data: s.State()})
}

func (h *Handler) State(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Message: "ok", Data: s.State()})
}

// Mask final mask 灰度图
func (h *Handler) Mask(c *gin.Context) {
	h.writePNG(c, func(s *editor.Session) (image.Image, error) { return s.MaskImage() })
}

// Result 原图尺寸的透明背景 PNG。crop=tight|square 裁到主体，premultiply=true 预乘 alpha。
func (h *Handler) Result(c *gin.Context) {
	mode, ok := composite.ParseCropMode(c.Query("crop"))
	if !ok {
		badRequest(c, "未知裁剪方式", fmt.Errorf("crop %q", c.Query("crop")))
		return
	}
	premultiply, _ := strconv.ParseBool(c.Query("premultiply"))

	h.writePNG(c, func(s *editor.Session) (image.Image, error) {
		img, err := s.Result()
		if err != nil {
			return nil, err
		}
		if img, err = composite.Crop(img, mode); err != nil {
			return nil, err
		}
		if premultiply {
			composite.Premultiply(img)
		}
		return img, nil
	})
}

// Matte 调试遮罩
func (h *Handler) Matte(c *gin.Context) {
	h.writePNG(c, func(s *editor.Session) (image.Image, error) { return s.Matte() })
}

func (h *Handler) writePNG(c *gin.Context, render func(s *editor.Session) (image.Image, error)) {
	s, ok := h.session(c)
	if !ok {
		return
	}

	img, err := render(s)
	if err != nil {
		msg := "还没有可导出的 mask"
		if errors.Is(err, composite.ErrNoSubject) {
			msg = "未检测到前景区域"
		}
		c.JSON(http.StatusConflict, ErrorResponse{Success: false, Message: msg, Error: err.Error()})
		return
	}

	c.Header("Content-Type", "image/png")
	c.Status(http.StatusOK)
	if err := composite.WritePNG(c.Writer, img); err != nil {
		util.Logger.Error("failed to write png", zap.String("id", c.Param("id")), zap.Error(err))
	}
}

func (h *Handler) DeleteSession(c *gin.Context) {
	if !h.sessions.Delete(c.Param("id")) {
		h.notFound(c)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) session(c *gin.Context) (*editor.Session, bool) {
	s, err := h.sessions.Get(c.Param("id"))
	if err != nil {
		h.notFound(c)
		return nil, false
	}
	return s, true
}

func (h *Handler) notFound(c *gin.Context) {
	c.JSON(http.StatusNotFound, ErrorResponse{
		Success: false,
		Message: "会话不存在或已过期",
		Error:   ErrSessionNotFound.Error(),
	})
}

func badRequest(c *gin.Context, msg string, err error) {
	c.JSON(http.StatusBadRequest, ErrorResponse{Success: false, Message: msg, Error: err.Error()})
}
