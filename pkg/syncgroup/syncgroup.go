package syncgroup

import (
	"context"
	"sync"
	"sync/atomic"
)

// SyncGroup 是 sync.WaitGroup 的包装器，简化 goroutine 生命周期管理
// 自动管理 Add() 和 Done()，并记录当前仍在运行的 goroutine 数量
type SyncGroup struct {
	wg      sync.WaitGroup
	running atomic.Int64
}

// NewSyncGroup 创建新的 SyncGroup
func NewSyncGroup() *SyncGroup {
	return &SyncGroup{}
}

// Go 启动一个受管理的 goroutine
func (g *SyncGroup) Go(fn func()) {
	if fn == nil {
		return
	}
	g.wg.Add(1)
	g.running.Add(1)
	go func() {
		defer func() {
			g.running.Add(-1)
			g.wg.Done()
		}()
		fn()
	}()
}

// Running 当前仍在运行的 goroutine 数量
func (g *SyncGroup) Running() int {
	return int(g.running.Load())
}

// Wait 等待所有 goroutine 完成
func (g *SyncGroup) Wait() {
	g.wg.Wait()
}

// WaitContext 等待所有 goroutine 完成或 ctx 结束
// 超时返回 ctx.Err()，此时仍有 goroutine 在运行
func (g *SyncGroup) WaitContext(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
