package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/chaos-io/cutout/mask"
	"github.com/chaos-io/cutout/segment"
	"github.com/spf13/viper"
)

type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Segment SegmentConfig `mapstructure:"segment"`
	Editor  EditorConfig  `mapstructure:"editor"`
	Redis   RedisConfig   `mapstructure:"redis"`
	Session SessionConfig `mapstructure:"session"`
}

type ServerConfig struct {
	Port          string        `mapstructure:"port"`
	Mode          string        `mapstructure:"mode"`
	ReadTimeout   time.Duration `mapstructure:"read_timeout"`
	WriteTimeout  time.Duration `mapstructure:"write_timeout"`
	MaxUploadSize int64         `mapstructure:"max_upload_size"`
	// MaxPixels 上传或下载图片的像素数上限
	MaxPixels     int64         `mapstructure:"max_pixels"`
}

type SegmentConfig struct {
	ConfidenceThreshold float64       `mapstructure:"confidence_threshold"`
	Timeout             time.Duration `mapstructure:"timeout"`
	Cache               bool          `mapstructure:"cache"`
	Primary             ModelConfig   `mapstructure:"primary"`
	Fallback            ModelConfig   `mapstructure:"fallback"`
}

// ModelConfig 一个分割模型。Kind 为 remote（ComfyUI 推理服务）、alpha（使用图片自带的 alpha）或空（未配置）
type ModelConfig struct {
	Kind         string        `mapstructure:"kind"`
	BaseURL      string        `mapstructure:"base_url"`
	Model        string        `mapstructure:"model"`
	Shape        string        `mapstructure:"shape"`
	Confidence   float64       `mapstructure:"confidence"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

type EditorConfig struct {
	MaxSide      int     `mapstructure:"max_side"`
	BrushSize    float64 `mapstructure:"brush_size"`
	Feather      float64 `mapstructure:"feather"`
	FeatherMode  string  `mapstructure:"feather_mode"`
	HistoryDepth int     `mapstructure:"history_depth"`
}

type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

type SessionConfig struct {
	IdleTTL    time.Duration `mapstructure:"idle_ttl"`
	SweepSpec  string        `mapstructure:"sweep_spec"`
	MaxEntries int           `mapstructure:"max_entries"`
}

// Load 从 YAML 文件加载配置，环境变量 CUTOUT_* 覆盖文件中的值
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("cutout")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// 设置默认值
	setDefaults(v)

	// 读取配置文件
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// New 加载配置，失败时返回默认配置和加载错误
func New(configPath string) (*Config, error) {
	cfg, err := Load(configPath)
	if err != nil {
		return Default(), err
	}
	return cfg, nil
}

// Validate 检查取值范围
func (c *Config) Validate() error {
	t := c.Segment.ConfidenceThreshold
	if t < segment.MinConfidenceThreshold || t > segment.MaxConfidenceThreshold {
		return fmt.Errorf("segment.confidence_threshold %.2f out of range [%.2f, %.2f]",
			t, segment.MinConfidenceThreshold, segment.MaxConfidenceThreshold)
	}
	if _, err := mask.ParseFeatherMode(c.Editor.FeatherMode); err != nil {
		return fmt.Errorf("editor.feather_mode: %w", err)
	}
	if c.Editor.Feather < 0 || c.Editor.Feather > mask.MaxFeatherRadius {
		return fmt.Errorf("editor.feather %.2f out of range [0, %.0f]", c.Editor.Feather, mask.MaxFeatherRadius)
	}
	if c.Editor.BrushSize <= 0 {
		return fmt.Errorf("editor.brush_size must be positive, got %v", c.Editor.BrushSize)
	}
	for name, m := range map[string]ModelConfig{"primary": c.Segment.Primary, "fallback": c.Segment.Fallback} {
		switch m.Kind {
		case "", "alpha":
		case "remote":
			if m.BaseURL == "" {
				return fmt.Errorf("segment.%s.base_url is required for remote models", name)
			}
		default:
			return fmt.Errorf("segment.%s.kind %q is not supported", name, m.Kind)
		}
		if _, ok := segment.ParseMaskShape(m.Shape); !ok {
			return fmt.Errorf("segment.%s.shape %q is not supported", name, m.Shape)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.mode", d.Server.Mode)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)
	v.SetDefault("server.max_upload_size", d.Server.MaxUploadSize)
	v.SetDefault("server.max_pixels", d.Server.MaxPixels)

	v.SetDefault("segment.confidence_threshold", d.Segment.ConfidenceThreshold)
	v.SetDefault("segment.timeout", d.Segment.Timeout)
	v.SetDefault("segment.cache", d.Segment.Cache)
	v.SetDefault("segment.primary.kind", d.Segment.Primary.Kind)
	v.SetDefault("segment.primary.base_url", d.Segment.Primary.BaseURL)
	v.SetDefault("segment.primary.model", d.Segment.Primary.Model)
	v.SetDefault("segment.primary.shape", d.Segment.Primary.Shape)
	v.SetDefault("segment.primary.poll_interval", d.Segment.Primary.PollInterval)
	v.SetDefault("segment.fallback.shape", d.Segment.Fallback.Shape)
	v.SetDefault("segment.fallback.confidence", d.Segment.Fallback.Confidence)
	v.SetDefault("segment.fallback.poll_interval", d.Segment.Fallback.PollInterval)

	v.SetDefault("editor.max_side", d.Editor.MaxSide)
	v.SetDefault("editor.brush_size", d.Editor.BrushSize)
	v.SetDefault("editor.feather", d.Editor.Feather)
	v.SetDefault("editor.feather_mode", d.Editor.FeatherMode)
	v.SetDefault("editor.history_depth", d.Editor.HistoryDepth)

	v.SetDefault("redis.addr", d.Redis.Addr)
	v.SetDefault("redis.password", d.Redis.Password)
	v.SetDefault("redis.db", d.Redis.DB)
	v.SetDefault("redis.ttl", d.Redis.TTL)

	v.SetDefault("session.idle_ttl", d.Session.IdleTTL)
	v.SetDefault("session.sweep_spec", d.Session.SweepSpec)
	v.SetDefault("session.max_entries", d.Session.MaxEntries)
}

// Default 内置默认配置
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:          ":8080",
			Mode:          "debug",
			ReadTimeout:   30 * time.Second,
			WriteTimeout:  60 * time.Second,
			MaxUploadSize: 20 * 1024 * 1024,
			MaxPixels:     40_000_000,
		},
		Segment: SegmentConfig{
			ConfidenceThreshold: segment.DefaultConfidenceThreshold,
			Timeout:             2 * time.Minute,
			Cache:               false,
			Primary: ModelConfig{
				Kind:         "remote",
				BaseURL:      "http://127.0.0.1:8188/",
				Model:        segment.BiRefNetModel,
				Shape:        "alpha",
				PollInterval: 500 * time.Millisecond,
			},
			Fallback: ModelConfig{
				Shape:        "confidence",
				Confidence:   0.6,
				PollInterval: 500 * time.Millisecond,
			},
		},
		Editor: EditorConfig{
			MaxSide:      1024,
			BrushSize:    24,
			Feather:      0,
			FeatherMode:  "centered",
			HistoryDepth: 64,
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			Password: "",
			DB:       0,
			TTL:      24 * time.Hour,
		},
		Session: SessionConfig{
			IdleTTL:    30 * time.Minute,
			SweepSpec:  "@every 1m",
			MaxEntries: 256,
		},
	}
}
