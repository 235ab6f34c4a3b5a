package shutdown

import (
	"context"
	"sync"
	"time"

	"github.com/betbot/igcli/pkg/logger"
)

// Handler 关闭处理函数，应在 ctx 到期前返回
type Handler func(ctx context.Context) error

type namedHandler struct {
	name string
	fn   Handler
}

// Manager 优雅关闭管理器
type Manager struct {
	callbacks []namedHandler
	mu        sync.Mutex
	once      sync.Once
}

// NewManager 创建新的关闭管理器
func NewManager() *Manager {
	return &Manager{}
}

// OnShutdown 注册关闭回调
func (m *Manager) OnShutdown(name string, handler Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = append(m.callbacks, namedHandler{name: name, fn: handler})
}

// Shutdown 并发执行所有关闭回调（阻塞调用，只执行一次）。
// 返回未在 ctx 到期前完成的回调名称。
func (m *Manager) Shutdown(ctx context.Context) (pending []string) {
	m.once.Do(func() {
		pending = m.run(ctx)
	})
	return pending
}

func (m *Manager) run(ctx context.Context) []string {
	m.mu.Lock()
	callbacks := append([]namedHandler(nil), m.callbacks...)
	m.mu.Unlock()

	if len(callbacks) == 0 {
		logger.Info("没有注册的关闭回调")
		return nil
	}

	logger.Infof("开始优雅关闭，共 %d 个回调", len(callbacks))

	var (
		mu   sync.Mutex
		left = make(map[string]struct{}, len(callbacks))
		wg   sync.WaitGroup
	)
	for _, cb := range callbacks {
		left[cb.name] = struct{}{}
	}
	wg.Add(len(callbacks))

	for _, cb := range callbacks {
		go func(cb namedHandler) {
			defer wg.Done()
			start := time.Now()
			if err := cb.fn(ctx); err != nil {
				logger.Warnf("关闭回调 %s 失败: %v", cb.name, err)
			} else {
				logger.Debugf("关闭回调 %s 完成，耗时 %s", cb.name, time.Since(start))
			}
			mu.Lock()
			delete(left, cb.name)
			mu.Unlock()
		}(cb)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("所有关闭回调已完成")
		return nil
	case <-ctx.Done():
		mu.Lock()
		defer mu.Unlock()
		pending := make([]string, 0, len(left))
		for _, cb := range callbacks {
			if _, ok := left[cb.name]; ok {
				pending = append(pending, cb.name)
			}
		}
		logger.Warnf("关闭超时: %v，未完成: %v", ctx.Err(), pending)
		return pending
	}
}
