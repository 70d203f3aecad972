package util

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"

	nhttp "github.com/chaos-io/cutout/util/http"
	_ "golang.org/x/image/webp"
)

var ErrImageTooLarge = errors.New("image too large")

// ImageLimits 外部输入图片的限制，<= 0 不限
type ImageLimits struct {
	MaxBytes  int64
	MaxPixels int64
}

// DownloadImage 下载图片，响应体超过 MaxBytes 时中止读取
func DownloadImage(ctx context.Context, cli nhttp.IClient, url string, limits ImageLimits) (image.Image, error) {
	var data []byte
	err := cli.DoHTTPRequest(ctx, &nhttp.RequestParam{
		RequestURI:      url,
		Method:          "GET",
		Response:        &data,
		MaxResponseSize: limits.MaxBytes,
	})
	if errors.Is(err, nhttp.ErrResponseTooLarge) {
		return nil, fmt.Errorf("download image: %w: more than %d bytes", ErrImageTooLarge, limits.MaxBytes)
	}
	if err != nil {
		return nil, fmt.Errorf("download image: %w", err)
	}
	return decodeLimited(data, limits.MaxPixels)
}

// ReadImage 读取并解码图片，完整解码前先检查字节数和像素数
func ReadImage(r io.Reader, limits ImageLimits) (image.Image, error) {
	src := r
	if limits.MaxBytes > 0 {
		src = io.LimitReader(r, limits.MaxBytes+1)
	}
	data, err := io.ReadAll(src)
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}
	if limits.MaxBytes > 0 && int64(len(data)) > limits.MaxBytes {
		return nil, fmt.Errorf("read image: %w: more than %d bytes", ErrImageTooLarge, limits.MaxBytes)
	}
	return decodeLimited(data, limits.MaxPixels)
}

func decodeLimited(data []byte, maxPixels int64) (image.Image, error) {
	if maxPixels > 0 {
		cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("decode image: %w", err)
		}
		if px := int64(cfg.Width) * int64(cfg.Height); px > maxPixels {
			return nil, fmt.Errorf("decode image: %w: %s is %dx%d, limit is %d pixels",
				ErrImageTooLarge, format, cfg.Width, cfg.Height, maxPixels)
		}
	}
	return DecodeImage(bytes.NewReader(data))
}

// OpenImage 打开本地图片
func OpenImage(path string) (image.Image, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = file.Close()
	}()

	return DecodeImage(file)
}

// DecodeImage 解码 png / jpeg / webp
func DecodeImage(r io.Reader) (image.Image, error) {
	img, format, err := image.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	if img.Bounds().Empty() {
		return nil, fmt.Errorf("decode image: empty %s image", format)
	}
	return img, nil
}
