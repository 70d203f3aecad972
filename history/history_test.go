package history

import (
	"testing"

	"github.com/chaos-io/cutout/mask"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStack_Empty(t *testing.T) {
	s := New[int](0)

	_, ok := s.Current()
	assert.False(t, ok)
	_, ok = s.Undo()
	assert.False(t, ok)
	_, ok = s.Redo()
	assert.False(t, ok)
	assert.Equal(t, -1, s.Position())
}

func TestStack_UndoRedoRoundTrip(t *testing.T) {
	d := mask.Dims{Width: 32, Height: 32}
	store := mask.NewStore(d, mask.FeatherCentered)
	store.SetBase(mask.NewRaster(d))

	s := New[mask.Snapshot](0)
	s0 := store.Snapshot()
	s.Push(s0)

	store.Stamp(mask.ToolKeep, 10, 10, 5)
	store.SetFeather(1)
	s1 := store.Snapshot()
	s.Push(s1)

	got, ok := s.Undo()
	require.True(t, ok)
	assert.True(t, got.Equal(s0))
	cur, _ := s.Current()
	assert.True(t, cur.Equal(s0))

	got, ok = s.Redo()
	require.True(t, ok)
	assert.True(t, got.Equal(s1))
	cur, _ = s.Current()
	assert.True(t, cur.Equal(s1))
}

func TestStack_NoopAtEnds(t *testing.T) {
	s := New[string](0)
	s.Push("a")

	_, ok := s.Undo()
	assert.False(t, ok)
	_, ok = s.Redo()
	assert.False(t, ok)
	assert.Equal(t, 0, s.Position())

	s.Push("b")
	_, ok = s.Redo()
	assert.False(t, ok)
	assert.Equal(t, 1, s.Position())
}

func TestStack_PushTruncatesRedoBranch(t *testing.T) {
	s := New[string](0)
	s.Push("a")
	s.Push("b")
	s.Push("c")

	s.Undo()
	s.Undo()
	s.Push("d")

	assert.Equal(t, 2, s.Len())
	assert.Equal(t, 1, s.Position())
	assert.False(t, s.CanRedo())

	v, _ := s.Undo()
	assert.Equal(t, "a", v)
	v, _ = s.Redo()
	assert.Equal(t, "d", v)
}

func TestStack_DiscardRedo(t *testing.T) {
	s := New[int](0)
	s.Push(1)
	s.Push(2)
	s.Undo()

	require.True(t, s.CanRedo())
	s.DiscardRedo()

	assert.False(t, s.CanRedo())
	assert.Equal(t, 1, s.Len())
	v, ok := s.Current()
	assert.True(t, ok)
	assert.Equal(t, 1, v)
}

func TestStack_MaxDepthDropsOldest(t *testing.T) {
	s := New[int](3)
	for i := 1; i <= 5; i++ {
		s.Push(i)
		assert.LessOrEqual(t, s.Len(), 3)
		assert.Equal(t, s.Len()-1, s.Position())
	}

	v, _ := s.Current()
	assert.Equal(t, 5, v)
	v, _ = s.Undo()
	assert.Equal(t, 4, v)
	v, _ = s.Undo()
	assert.Equal(t, 3, v)
	assert.False(t, s.CanUndo())
}

func TestStack_Reset(t *testing.T) {
	s := New[int](0)
	s.Push(1)
	s.Reset()

	assert.Zero(t, s.Len())
	assert.Equal(t, -1, s.Position())
}
