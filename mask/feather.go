package mask

import (
	"fmt"
	"math"
)

// MaxFeatherRadius 羽化半径上限，超出部分被截断
const MaxFeatherRadius = 2.0

// FeatherMode 羽化的滑动窗口形式
type FeatherMode int

const (
	// FeatherCentered 居中的可分离 box blur，窗口 [i-1, i+1]，边界按实际像素数归一
	FeatherCentered FeatherMode = iota
	// FeatherCausal 从左到右、从上到下的尾随滑动和，逐位复现旧版输出
	FeatherCausal
)

func (m FeatherMode) String() string {
	switch m {
	case FeatherCentered:
		return "centered"
	case FeatherCausal:
		return "causal"
	default:
		return "unknown"
	}
}

func ParseFeatherMode(s string) (FeatherMode, error) {
	switch s {
	case "", "centered":
		return FeatherCentered, nil
	case "causal":
		return FeatherCausal, nil
	}
	return FeatherCentered, fmt.Errorf("unknown feather mode %q", s)
}

// FeatherPasses 给定半径需要的 pass 数：ceil(min(r, 2) * 2)
func FeatherPasses(radius float64) int {
	if !(radius > 0) {
		return 0
	}
	return int(math.Ceil(math.Min(radius, MaxFeatherRadius) * 2))
}

// Feather 对 mask 做 passes 次「先水平后垂直」的可分离均值滤波。
// radius <= 0 原样返回输入（同一个指针）；否则返回新的 raster，输入不被修改。
func Feather(m *Raster, radius float64, mode FeatherMode) *Raster {
	passes := FeatherPasses(radius)
	if m == nil || passes == 0 {
		return m
	}

	w, h := m.dims.Width, m.dims.Height
	out := m.Clone()
	tmp := make([]float32, len(out.data))

	for p := 0; p < passes; p++ {
		switch mode {
		case FeatherCausal:
			causalRows(out.data, tmp, w, h)
			causalCols(tmp, out.data, w, h)
		default:
			centeredRows(out.data, tmp, w, h)
			centeredCols(tmp, out.data, w, h)
		}
	}

	for i, v := range out.data {
		out.data[i] = clamp01(v)
	}
	return out
}

// causalRows 每行维护一个尾随累加器：加入当前像素、减去前一个像素，再除以计数
func causalRows(src, dst []float32, w, h int) {
	for y := 0; y < h; y++ {
		var acc float64
		cnt := 0
		for x := 0; x < w; x++ {
			i := y*w + x
			acc += float64(src[i])
			cnt++
			if x >= 1 {
				acc -= float64(src[i-1])
				cnt--
			}
			dst[i] = float32(acc / float64(max(1, cnt)))
		}
	}
}

func causalCols(src, dst []float32, w, h int) {
	for x := 0; x < w; x++ {
		var acc float64
		cnt := 0
		for y := 0; y < h; y++ {
			k := y*w + x
			acc += float64(src[k])
			cnt++
			if y >= 1 {
				acc -= float64(src[k-w])
				cnt--
			}
			dst[k] = float32(acc / float64(max(1, cnt)))
		}
	}
}

// centeredRows 3 点居中均值，用滑动和实现
func centeredRows(src, dst []float32, w, h int) {
	for y := 0; y < h; y++ {
		row := y * w
		centeredLine(src, dst, row, 1, w)
	}
}

func centeredCols(src, dst []float32, w, h int) {
	for x := 0; x < w; x++ {
		centeredLine(src, dst, x, w, h)
	}
}

// centeredLine 处理从 start 开始、步长 stride、长度 n 的一条线
func centeredLine(src, dst []float32, start, stride, n int) {
	if n == 0 {
		return
	}
	var acc float64
	cnt := 0
	// 窗口初始为 [0, 0]
	acc += float64(src[start])
	cnt++
	for i := 0; i < n; i++ {
		// 右边界进入 i+1
		if i+1 < n {
			acc += float64(src[start+(i+1)*stride])
			cnt++
		}
		// 左边界 i-2 离开
		if i-2 >= 0 {
			acc -= float64(src[start+(i-2)*stride])
			cnt--
		}
		dst[start+i*stride] = float32(acc / float64(cnt))
	}
}
