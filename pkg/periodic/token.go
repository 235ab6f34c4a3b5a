package periodic

import (
	"sync"
)

// Token 会话代际的停止信号
// 每次启动刷新任务都会创建新的 Token，停止后的 Token 只会被丢弃，不会被复用
type Token struct {
	generation uint64
	once       sync.Once
	done       chan struct{}
}

// NewToken 创建未触发的 Token
func NewToken(generation uint64) *Token {
	return &Token{
		generation: generation,
		done:       make(chan struct{}),
	}
}

// Signal 触发停止信号，可重复调用
func (t *Token) Signal() {
	t.once.Do(func() { close(t.done) })
}

// IsSignaled 非阻塞检查是否已触发
func (t *Token) IsSignaled() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// Done 触发后关闭的 channel，用于 select
func (t *Token) Done() <-chan struct{} {
	return t.done
}

// Generation 该 Token 对应的会话代际
func (t *Token) Generation() uint64 {
	return t.generation
}
