package mask

import "math"

// Snapshot keep/remove 两个修正层与羽化半径在某一时刻的不可变副本
type Snapshot struct {
	Keep    *Raster
	Remove  *Raster
	Feather float64
}

// Equal 两个快照是否表示同一状态
func (s Snapshot) Equal(o Snapshot) bool {
	return s.Feather == o.Feather && s.Keep.Equal(o.Keep) && s.Remove.Equal(o.Remove)
}

// Store 持有当前图片的 base mask、两个修正层和派生出的 final mask。
// Store 不加锁，由会话统一串行化访问。
type Store struct {
	dims        Dims
	base        *Raster
	keep        *Raster
	remove      *Raster
	feather     float64
	featherMode FeatherMode
	final       *Raster
}

func NewStore(d Dims, mode FeatherMode) *Store {
	return &Store{dims: d, featherMode: mode}
}

func (s *Store) Dims() Dims { return s.dims }

// SetBase 替换 base mask，清空两个修正层并让 final mask 失效
func (s *Store) SetBase(r *Raster) {
	mustMatch("set base", s.dims, r)
	s.base = r
	s.keep = nil
	s.remove = nil
	s.final = nil
}

func (s *Store) HasBase() bool { return s.base != nil }

func (s *Store) Base() *Raster { return s.base }

// Layer 返回工具对应的修正层，不存在时按需分配
func (s *Store) Layer(t Tool) *Raster {
	if t == ToolRemove {
		if s.remove == nil {
			s.remove = NewRaster(s.dims)
		}
		return s.remove
	}
	if s.keep == nil {
		s.keep = NewRaster(s.dims)
	}
	return s.keep
}

// Stamp 在工具对应的层上盖章并重算 final mask。
// 没有 base 或 radius <= 0 时不做任何事。
func (s *Store) Stamp(t Tool, cx, cy, radius float64) bool {
	if s.base == nil || !(radius > 0) {
		return false
	}
	Stamp(s.Layer(t), cx, cy, radius)
	s.Recompute()
	return true
}

// SetFeather 设置羽化半径（截断到 [0, 2]）并重算
func (s *Store) SetFeather(radius float64) {
	s.feather = clampFeather(radius)
	s.Recompute()
}

func (s *Store) Feather() float64 { return s.feather }

func (s *Store) FeatherMode() FeatherMode { return s.featherMode }

// Recompute final = feather(clamp(base + keep - remove, 0, 1))。
// 没有 base 时什么也不做，返回 false。
func (s *Store) Recompute() bool {
	if s.base == nil {
		return false
	}

	m := NewRaster(s.dims)
	for i, v := range s.base.data {
		if s.keep != nil {
			v += s.keep.data[i]
		}
		if s.remove != nil {
			v -= s.remove.data[i]
		}
		m.data[i] = clamp01(v)
	}

	s.final = Feather(m, s.feather, s.featherMode)
	return true
}

// Final 当前的 final mask；尚未计算时为 nil
func (s *Store) Final() *Raster { return s.final }

// Snapshot 拷贝当前修正层，后续修改不会影响快照
func (s *Store) Snapshot() Snapshot {
	return Snapshot{
		Keep:    s.keep.Clone(),
		Remove:  s.remove.Clone(),
		Feather: s.feather,
	}
}

// Restore 按快照恢复修正层和羽化半径，然后重算。
// 快照本身仍然不可变，这里保存的是它的拷贝。
func (s *Store) Restore(snap Snapshot) {
	mustMatch("restore keep", s.dims, snap.Keep)
	mustMatch("restore remove", s.dims, snap.Remove)
	s.keep = snap.Keep.Clone()
	s.remove = snap.Remove.Clone()
	s.feather = clampFeather(snap.Feather)
	s.Recompute()
}

// Clear 丢弃全部 raster，新图片加载时使用
func (s *Store) Clear() {
	s.base = nil
	s.keep = nil
	s.remove = nil
	s.final = nil
}

func clampFeather(r float64) float64 {
	if math.IsNaN(r) || r < 0 {
		return 0
	}
	return math.Min(r, MaxFeatherRadius)
}
