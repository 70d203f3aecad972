package server

import (
	"github.com/gin-gonic/gin"
)

// NewRouter 注册全部路由
func NewRouter(h *Handler, version string) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(Logger())
	r.Use(CORS())
	if h.cfg.Server.MaxUploadSize > 0 {
		r.MaxMultipartMemory = h.cfg.Server.MaxUploadSize
	}

	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":   "ok",
			"version":  version,
			"sessions": h.sessions.Len(),
		})
	})

	api := r.Group("/api/v1")
	{
		api.POST("/sessions", h.CreateSession)

		s := api.Group("/sessions/:id")
		s.GET("/state", h.State)
		s.POST("/segment", h.Segment)
		s.POST("/stroke", h.Stroke)
		s.PUT("/tool", h.SetTool)
		s.PUT("/feather", h.SetFeather)
		s.POST("/undo", h.Undo)
		s.POST("/redo", h.Redo)
		s.GET("/mask.png", h.Mask)
		s.GET("/result.png", h.Result)
		s.GET("/matte.png", h.Matte)
		s.DELETE("", h.DeleteSession)
	}
	return r
}
