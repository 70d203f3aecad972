// Package history 线性 undo/redo 栈，没有分支：在 undo 之后 Push 会丢弃 redo 分支。
package history

// Stack 保存快照序列和当前位置。非空时 position 始终在 [0, len-1]。
// 存入的值由调用方保证不可变（通常是深拷贝）。
type Stack[T any] struct {
	items    []T
	pos      int
	maxDepth int
}

// New 创建栈，maxDepth <= 0 表示不限深度；超出时丢弃最旧的快照
func New[T any](maxDepth int) *Stack[T] {
	return &Stack[T]{pos: -1, maxDepth: maxDepth}
}

// Push 丢弃当前位置之后的快照，再追加 v，并把位置移到 v
func (s *Stack[T]) Push(v T) {
	s.DiscardRedo()
	s.items = append(s.items, v)
	if s.maxDepth > 0 && len(s.items) > s.maxDepth {
		drop := len(s.items) - s.maxDepth
		var zero T
		for i := 0; i < drop; i++ {
			s.items[i] = zero
		}
		s.items = append(s.items[:0], s.items[drop:]...)
	}
	s.pos = len(s.items) - 1
}

// DiscardRedo 丢弃当前位置之后的所有快照
func (s *Stack[T]) DiscardRedo() {
	if s.pos+1 >= len(s.items) {
		return
	}
	var zero T
	for i := s.pos + 1; i < len(s.items); i++ {
		s.items[i] = zero
	}
	s.items = s.items[:s.pos+1]
}

// Undo 后退一步并返回新位置上的快照；已在 0 时不动
func (s *Stack[T]) Undo() (T, bool) {
	if !s.CanUndo() {
		var zero T
		return zero, false
	}
	s.pos--
	return s.items[s.pos], true
}

// Redo 前进一步并返回新位置上的快照；已在末尾时不动
func (s *Stack[T]) Redo() (T, bool) {
	if !s.CanRedo() {
		var zero T
		return zero, false
	}
	s.pos++
	return s.items[s.pos], true
}

// Current 当前位置上的快照
func (s *Stack[T]) Current() (T, bool) {
	if s.pos < 0 {
		var zero T
		return zero, false
	}
	return s.items[s.pos], true
}

func (s *Stack[T]) CanUndo() bool { return s.pos > 0 }

func (s *Stack[T]) CanRedo() bool { return s.pos >= 0 && s.pos < len(s.items)-1 }

func (s *Stack[T]) Len() int { return len(s.items) }

// Position 当前位置，空栈为 -1
func (s *Stack[T]) Position() int { return s.pos }

// Reset 清空，新图片加载时使用
func (s *Stack[T]) Reset() {
	s.items = nil
	s.pos = -1
}
