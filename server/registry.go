package server

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/chaos-io/cutout/config"
	"github.com/chaos-io/cutout/editor"
	"github.com/chaos-io/cutout/util"
	"github.com/robfig/cron/v3"
	"github.com/segmentio/ksuid"
	"go.uber.org/zap"
)

var ErrSessionNotFound = errors.New("session not found")

type entry struct {
	session  *editor.Session
	lastUsed time.Time
}

// Registry 内存中的编辑会话，空闲超过 IdleTTL 的会话由定时任务清理
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*entry

	cfg        config.SessionConfig
	newSession func() *editor.Session
	now        func() time.Time
	cron       *cron.Cron
}

func NewRegistry(cfg config.SessionConfig, newSession func() *editor.Session) *Registry {
	return &Registry{
		sessions:   make(map[string]*entry),
		cfg:        cfg,
		newSession: newSession,
		now:        time.Now,
	}
}

// Create 新建会话。超过 MaxEntries 时淘汰最久未使用的会话。
func (r *Registry) Create() (string, *editor.Session) {
	r.mu.Lock()
	var evicted *editor.Session
	if r.cfg.MaxEntries > 0 && len(r.sessions) >= r.cfg.MaxEntries {
		evicted = r.evictOldest()
	}

	id := ksuid.New().String()
	s := r.newSession()
	r.sessions[id] = &entry{session: s, lastUsed: r.now()}
	r.mu.Unlock()

	// 会话锁可能被导出占用，不在 registry 锁里等待
	if evicted != nil {
		evicted.Close()
	}
	return id, s
}

// Get 取会话并刷新最后使用时间
func (r *Registry) Get(id string) (*editor.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	e.lastUsed = r.now()
	return e.session, nil
}

// Delete 删除会话并取消它正在进行的分割
func (r *Registry) Delete(id string) bool {
	r.mu.Lock()
	e, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	if !ok {
		return false
	}
	e.session.Close()
	return true
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Sweep 删除空闲超时的会话，返回删除的数量
func (r *Registry) Sweep() int {
	if r.cfg.IdleTTL <= 0 {
		return 0
	}

	r.mu.Lock()
	deadline := r.now().Add(-r.cfg.IdleTTL)
	var expired []*editor.Session
	for id, e := range r.sessions {
		if e.lastUsed.Before(deadline) {
			delete(r.sessions, id)
			expired = append(expired, e.session)
		}
	}
	r.mu.Unlock()

	for _, s := range expired {
		s.Close()
	}
	return len(expired)
}

// evictOldest 移除最久未使用的会话并返回它，调用方持有锁
func (r *Registry) evictOldest() *editor.Session {
	var oldestID string
	var oldest time.Time
	for id, e := range r.sessions {
		if oldestID == "" || e.lastUsed.Before(oldest) {
			oldestID, oldest = id, e.lastUsed
		}
	}
	if oldestID == "" {
		return nil
	}
	e := r.sessions[oldestID]
	delete(r.sessions, oldestID)
	util.Logger.Info("session evicted", zap.String("id", oldestID))
	return e.session
}

// Start 按 SweepSpec 启动清理任务
func (r *Registry) Start() error {
	c := cron.New()
	_, err := c.AddFunc(r.cfg.SweepSpec, func() {
		if n := r.Sweep(); n > 0 {
			util.Logger.Info("idle sessions swept", zap.Int("count", n), zap.Int("remaining", r.Len()))
		}
	})
	if err != nil {
		return err
	}
	c.Start()
	r.cron = c
	return nil
}

// Stop 停止清理任务，返回的 context 在正在执行的任务结束后关闭
func (r *Registry) Stop() context.Context {
	if r.cron == nil {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		return ctx
	}
	return r.cron.Stop()
}
