package mask

import (
	"fmt"
	"image"
)

// Dims 一次编辑会话中所有 raster 共享的尺寸
type Dims struct {
	Width  int
	Height int
}

// Len 返回像素总数
func (d Dims) Len() int { return d.Width * d.Height }

// Rect 以 image.Rectangle 形式返回尺寸
func (d Dims) Rect() image.Rectangle { return image.Rect(0, 0, d.Width, d.Height) }

func (d Dims) String() string { return fmt.Sprintf("%dx%d", d.Width, d.Height) }

// Raster 每像素的前景不透明度，取值 [0, 1]，行优先，index = y*width + x
type Raster struct {
	dims Dims
	data []float32
}

// NewRaster 创建全 0 的 raster
func NewRaster(d Dims) *Raster {
	if d.Width < 0 || d.Height < 0 {
		panic(fmt.Sprintf("mask: negative dimensions %s", d))
	}
	return &Raster{dims: d, data: make([]float32, d.Len())}
}

// FromSlice 包装已有数据，长度必须与尺寸一致
func FromSlice(d Dims, data []float32) *Raster {
	if len(data) != d.Len() {
		panic(fmt.Sprintf("mask: %d values for %s raster", len(data), d))
	}
	return &Raster{dims: d, data: data}
}

func (r *Raster) Dims() Dims { return r.dims }

// At 返回 (x, y) 处的值，越界返回 0
func (r *Raster) At(x, y int) float32 {
	if x < 0 || y < 0 || x >= r.dims.Width || y >= r.dims.Height {
		return 0
	}
	return r.data[y*r.dims.Width+x]
}

// Set 设置 (x, y) 处的值，越界忽略
func (r *Raster) Set(x, y int, v float32) {
	if x < 0 || y < 0 || x >= r.dims.Width || y >= r.dims.Height {
		return
	}
	r.data[y*r.dims.Width+x] = v
}

func (r *Raster) Fill(v float32) {
	for i := range r.data {
		r.data[i] = v
	}
}

// Data 返回底层数据，调用方修改会直接影响 raster
func (r *Raster) Data() []float32 { return r.data }

// Clone 深拷贝，nil 的 raster 拷贝仍是 nil（表示“全 0”的缺省层）
func (r *Raster) Clone() *Raster {
	if r == nil {
		return nil
	}
	c := &Raster{dims: r.dims, data: make([]float32, len(r.data))}
	copy(c.data, r.data)
	return c
}

// Equal 逐像素比较；nil 与全 0 raster 视为相等
func (r *Raster) Equal(o *Raster) bool {
	switch {
	case r == nil && o == nil:
		return true
	case r == nil:
		return o.isZero()
	case o == nil:
		return r.isZero()
	}
	if r.dims != o.dims {
		return false
	}
	for i, v := range r.data {
		if v != o.data[i] {
			return false
		}
	}
	return true
}

func (r *Raster) isZero() bool {
	for _, v := range r.data {
		if v != 0 {
			return false
		}
	}
	return true
}

// Mean 平均不透明度
func (r *Raster) Mean() float64 {
	if len(r.data) == 0 {
		return 0
	}
	var sum float64
	for _, v := range r.data {
		sum += float64(v)
	}
	return sum / float64(len(r.data))
}

func mustMatch(op string, want Dims, got *Raster) {
	if got != nil && got.dims != want {
		panic(fmt.Sprintf("mask: %s: raster is %s, session is %s", op, got.dims, want))
	}
}

func clamp01(v float32) float32 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
