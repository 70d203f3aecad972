package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"image"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/chaos-io/cutout/cache"
	"github.com/chaos-io/cutout/composite"
	"github.com/chaos-io/cutout/config"
	"github.com/chaos-io/cutout/editor"
	"github.com/chaos-io/cutout/mask"
	"github.com/chaos-io/cutout/segment"
	"github.com/chaos-io/cutout/server"
	"github.com/chaos-io/cutout/util"
	nhttp "github.com/chaos-io/cutout/util/http"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/exp/zapslog"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	configPath := flag.String("config", "config.yaml", "配置文件")
	input := flag.String("input", "", "单次抠图：本地图片路径或 http(s) 地址，为空时启动 HTTP 服务")
	outputDir := flag.String("output", "./output", "单次抠图的输出目录")
	matte := flag.Bool("matte", false, "单次抠图时同时输出调试遮罩")
	crop := flag.String("crop", "", "单次抠图的裁剪方式：tight 或 square")
	flag.Parse()

	// 加载配置
	cfg, err := config.New(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config, using defaults: %v\n", err)
	}

	// 初始化日志
	if err := util.InitLogger(cfg.Server.Mode); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer util.Sync()
	slog.SetDefault(slog.New(zapslog.NewHandler(util.Logger.Core())))

	util.Logger.Info("starting cutout",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit))

	cli := nhttp.NewHTTPClient()

	var segCache segment.Cache
	if cfg.Segment.Cache {
		redisCache := cache.NewRedis(&cfg.Redis)
		if err := redisCache.Ping(context.Background()); err != nil {
			util.Logger.Warn("redis connection failed, cache disabled", zap.Error(err))
		} else {
			util.Logger.Info("redis connected successfully")
			segCache = redisCache
		}
		defer redisCache.Close()
	}

	selector := newSelector(cfg, cli, segCache)
	opts := editorOptions(cfg)

	if *input != "" {
		if err := runOnce(cfg, cli, editor.NewSession(selector, opts), *input, *outputDir, *crop, *matte); err != nil {
			util.Logger.Fatal("cutout failed", zap.Error(err))
		}
		return
	}

	serve(cfg, cli, selector, opts)
}

func serve(cfg *config.Config, cli nhttp.IClient, selector *segment.Selector, opts editor.Options) {
	registry := server.NewRegistry(cfg.Session, func() *editor.Session {
		return editor.NewSession(selector, opts)
	})
	if err := registry.Start(); err != nil {
		util.Logger.Fatal("failed to start session sweeper", zap.Error(err))
	}
	defer registry.Stop()

	// 设置Gin模式
	gin.SetMode(cfg.Server.Mode)
	r := server.NewRouter(server.NewHandler(cfg, registry, cli), Version)

	srv := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		util.Logger.Info("server starting", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			util.Logger.Fatal("failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		util.Logger.Error("server shutdown failed", zap.Error(err))
	}
	util.Logger.Info("server stopped")
}

// newSelector 按配置组装主模型和备用模型
func newSelector(cfg *config.Config, cli nhttp.IClient, c segment.Cache) *segment.Selector {
	primary := newSource("primary", cfg.Segment.Primary, cli, c)
	fallback := newSource("fallback", cfg.Segment.Fallback, cli, c)
	if primary == nil {
		util.Logger.Warn("no primary segmentation model configured, segmentation disabled")
	}
	return segment.NewSelector(primary, fallback, cfg.Segment.ConfidenceThreshold)
}

func newSource(name string, m config.ModelConfig, cli nhttp.IClient, c segment.Cache) segment.Source {
	shape, _ := segment.ParseMaskShape(m.Shape)

	var src segment.Source
	switch m.Kind {
	case "remote":
		src = segment.NewRemoteSource(segment.RemoteConfig{
			BaseURL:      m.BaseURL,
			Model:        m.Model,
			Shape:        shape,
			Confidence:   m.Confidence,
			PollInterval: m.PollInterval,
		}, cli)
	case "alpha":
		return segment.NewAlphaSource()
	default:
		return nil
	}

	util.Logger.Info("segmentation model configured",
		zap.String("role", name),
		zap.String("base_url", m.BaseURL),
		zap.String("model", m.Model))
	if c != nil {
		return segment.NewCachedSource(name+":"+m.Model, src, c)
	}
	return src
}

func editorOptions(cfg *config.Config) editor.Options {
	mode, err := mask.ParseFeatherMode(cfg.Editor.FeatherMode)
	if err != nil {
		util.Logger.Warn("unknown feather mode, using centered", zap.String("mode", cfg.Editor.FeatherMode))
	}
	return editor.Options{
		MaxSide:      cfg.Editor.MaxSide,
		BrushSize:    cfg.Editor.BrushSize,
		Feather:      cfg.Editor.Feather,
		FeatherMode:  mode,
		HistoryDepth: cfg.Editor.HistoryDepth,
		Timeout:      cfg.Segment.Timeout,
	}
}

// runOnce 单次抠图：分割后直接导出，不做画笔修正
func runOnce(cfg *config.Config, cli nhttp.IClient, s *editor.Session, input, outputDir, crop string, withMatte bool) error {
	defer util.Trace("runOnce")()

	mode, ok := composite.ParseCropMode(crop)
	if !ok {
		return fmt.Errorf("unknown crop mode %q", crop)
	}

	if err := os.MkdirAll(outputDir, os.ModePerm); err != nil {
		return err
	}

	var img image.Image
	var err error
	if strings.HasPrefix(input, "http://") || strings.HasPrefix(input, "https://") {
		img, err = util.DownloadImage(context.Background(), cli, input, util.ImageLimits{MaxPixels: cfg.Server.MaxPixels})
	} else {
		img, err = util.OpenImage(input)
	}
	if err != nil {
		return fmt.Errorf("load image: %w", err)
	}

	s.LoadImage(img)

	ctx := context.Background()
	if cfg.Segment.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Segment.Timeout)
		defer cancel()
	}
	sel, err := s.RunSegmentation(ctx)
	if err != nil {
		return err
	}
	util.Logger.Info("segmentation done",
		zap.Stringer("status", sel.Status),
		zap.Float64("confidence", sel.Confidence),
		zap.Duration("inference", sel.Inference))

	base := strings.TrimSuffix(filepath.Base(input), filepath.Ext(input))
	result, err := s.Result()
	if err != nil {
		return err
	}
	if result, err = composite.Crop(result, mode); err != nil {
		return err
	}
	if err := writeFile(filepath.Join(outputDir, base+"_cutout.png"), result); err != nil {
		return err
	}

	if withMatte {
		m, err := s.Matte()
		if err != nil {
			return err
		}
		if err := writeFile(filepath.Join(outputDir, base+"_matte.png"), m); err != nil {
			return err
		}
	}
	return nil
}

func writeFile(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		_ = f.Close()
	}()

	if err := composite.WritePNG(f, img); err != nil {
		return err
	}
	util.Logger.Info("output written", zap.String("path", path))
	return nil
}
