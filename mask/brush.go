package mask

import "math"

// BrushIntensity 单次笔刷在任意像素上能达到的最大强度
const BrushIntensity = 0.9

// Tool 笔刷工具：保留或移除
type Tool int

const (
	ToolKeep Tool = iota
	ToolRemove
)

func (t Tool) String() string {
	switch t {
	case ToolKeep:
		return "keep"
	case ToolRemove:
		return "remove"
	default:
		return "unknown"
	}
}

// ParseTool 解析 "keep" / "remove"
func ParseTool(s string) (Tool, bool) {
	switch s {
	case "keep":
		return ToolKeep, true
	case "remove":
		return ToolRemove, true
	}
	return ToolKeep, false
}

// BrushRadius 笔刷尺寸是直径，半径最小为 1
func BrushRadius(size float64) float64 {
	return math.Max(1, size/2)
}

// Stamp 在 layer 上以 (cx, cy) 为圆心盖一个线性衰减的圆形印章。
//
//	t = 1 - d/radius，圆心为 1，边缘为 0
//	layer[i] = max(layer[i], t*0.9)
//
// 取 max 而不是累加：同一笔画内反复经过同一区域不会变得更深。
// radius <= 0 时不做任何事，返回 false。
func Stamp(layer *Raster, cx, cy, radius float64) bool {
	if layer == nil || !(radius > 0) || !finite(cx) || !finite(cy) {
		return false
	}

	w, h := layer.dims.Width, layer.dims.Height
	r2 := radius * radius

	// 先在 float 上截断到 raster 范围再转 int，半径很大时不会溢出
	minX := int(math.Max(0, math.Floor(cx-radius)))
	maxX := int(math.Min(float64(w-1), math.Ceil(cx+radius)))
	minY := int(math.Max(0, math.Floor(cy-radius)))
	maxY := int(math.Min(float64(h-1), math.Ceil(cy+radius)))

	for py := minY; py <= maxY; py++ {
		dy := float64(py) - cy
		row := py * w
		for px := minX; px <= maxX; px++ {
			dx := float64(px) - cx
			d2 := dx*dx + dy*dy
			if d2 > r2 {
				continue
			}
			t := float32((1 - math.Sqrt(d2)/radius) * BrushIntensity)
			if t > layer.data[row+px] {
				layer.data[row+px] = t
			}
		}
	}
	return true
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
