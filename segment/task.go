package segment

import (
	"context"
	"image"
	"sync"
)

// Task 一次异步运行。Progress 在运行结束后关闭。
type Task struct {
	progress chan Progress
	done     chan struct{}
	cancel   context.CancelFunc

	once sync.Once
	sel  *Selection
	err  error
}

// Start 在后台运行 Run，返回可等待、可取消的 Task
func (s *Selector) Start(ctx context.Context, img image.Image) *Task {
	ctx, cancel := context.WithCancel(ctx)
	t := &Task{
		progress: make(chan Progress, 16),
		done:     make(chan struct{}),
		cancel:   cancel,
	}

	go func() {
		defer cancel()
		sel, err := s.Run(WithProgress(ctx, t.progress), img)
		t.finish(sel, err)
	}()
	return t
}

func (t *Task) finish(sel *Selection, err error) {
	t.once.Do(func() {
		t.sel, t.err = sel, err
		close(t.progress)
		close(t.done)
	})
}

// Progress 进度通道
func (t *Task) Progress() <-chan Progress { return t.progress }

// Done 运行结束时关闭
func (t *Task) Done() <-chan struct{} { return t.done }

// Cancel 取消正在运行的模型调用
func (t *Task) Cancel() { t.cancel() }

// Wait 等待结果；ctx 结束时返回 ctx.Err()，任务本身不受影响
func (t *Task) Wait(ctx context.Context) (*Selection, error) {
	select {
	case <-t.done:
		return t.sel, t.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
