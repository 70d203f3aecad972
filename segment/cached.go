package segment

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"image"
	"log/slog"
	"math"

	"github.com/chaos-io/cutout/mask"
	"github.com/chaos-io/cutout/util"
)

// Cache 分割结果缓存，未命中时 Get 返回 (nil, nil)
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
}

// CachedSource 以图片像素的 MD5 为键缓存模型结果，同一张图重复运行不再调用模型。
// 缓存读写失败只记录日志，不影响分割本身。
type CachedSource struct {
	Name   string
	Source Source
	Cache  Cache
}

func NewCachedSource(name string, src Source, cache Cache) *CachedSource {
	return &CachedSource{Name: name, Source: src, Cache: cache}
}

func (c *CachedSource) Segment(ctx context.Context, img image.Image) (*Outcome, error) {
	key := c.key(img)

	data, err := c.Cache.Get(ctx, key)
	if err != nil {
		slog.Warn("failed to get cached segmentation", "key", key, "error", err)
	} else if data != nil {
		out, err := decodeOutcome(data)
		if err == nil {
			slog.Debug("segmentation cache hit", "key", key)
			return out, nil
		}
		slog.Warn("failed to decode cached segmentation", "key", key, "error", err)
	}

	out, err := c.Source.Segment(ctx, img)
	if err != nil {
		return nil, err
	}

	data, err = encodeOutcome(out)
	if err != nil {
		slog.Warn("failed to encode segmentation", "key", key, "error", err)
		return out, nil
	}
	if err := c.Cache.Set(ctx, key, data); err != nil {
		slog.Warn("failed to set cached segmentation", "key", key, "error", err)
	}
	return out, nil
}

func (c *CachedSource) key(img image.Image) string {
	src := toNRGBA(img)
	b := src.Rect
	header := fmt.Sprintf("%dx%d:", b.Dx(), b.Dy())
	return "segment:" + c.Name + ":" + util.BytesMD5(append([]byte(header), src.Pix...))
}

type cachedOutcome struct {
	Width      int     `json:"width"`
	Height     int     `json:"height"`
	Confidence float64 `json:"confidence"`
	Mask       string  `json:"mask"` // base64 编码的 little-endian float32
}

func encodeOutcome(out *Outcome) ([]byte, error) {
	if out == nil || out.Raster == nil {
		return nil, fmt.Errorf("encode outcome: empty result")
	}
	values := out.Raster.Data()
	buf := make([]byte, 4*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	d := out.Raster.Dims()
	return json.Marshal(cachedOutcome{
		Width:      d.Width,
		Height:     d.Height,
		Confidence: out.Confidence,
		Mask:       base64.StdEncoding.EncodeToString(buf),
	})
}

func decodeOutcome(data []byte) (*Outcome, error) {
	var c cachedOutcome
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("unmarshal outcome: %w", err)
	}
	buf, err := base64.StdEncoding.DecodeString(c.Mask)
	if err != nil {
		return nil, fmt.Errorf("decode mask: %w", err)
	}
	d := mask.Dims{Width: c.Width, Height: c.Height}
	if c.Width < 0 || c.Height < 0 || len(buf) != 4*d.Len() {
		return nil, fmt.Errorf("decode mask: %d bytes for %s", len(buf), d)
	}
	values := make([]float32, d.Len())
	for i := range values {
		values[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return &Outcome{Raster: mask.FromSlice(d, values), Confidence: c.Confidence}, nil
}
