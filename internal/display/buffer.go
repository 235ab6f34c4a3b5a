package display

import (
	"sync/atomic"
)

// Frame 缓冲区的一次完整内容
type Frame struct {
	Generation uint64
	Text       string
}

// Buffer 由单个任务整体覆盖写入、由渲染层随时读取的文本缓冲区
// 内容以不可变 Frame 的形式原子替换，读者不会看到写了一半的内容；
// 代际只增不减，旧代际的写入会被拒绝
type Buffer struct {
	name string
	cur  atomic.Pointer[Frame]
}

// NewBuffer 创建空缓冲区（代际 0）
func NewBuffer(name string) *Buffer {
	b := &Buffer{name: name}
	b.cur.Store(&Frame{})
	return b
}

// Name 缓冲区名称
func (b *Buffer) Name() string {
	return b.name
}

// Load 读取当前内容
func (b *Buffer) Load() Frame {
	return *b.cur.Load()
}

// Text 读取当前文本
func (b *Buffer) Text() string {
	return b.cur.Load().Text
}

// Generation 当前代际
func (b *Buffer) Generation() uint64 {
	return b.cur.Load().Generation
}

// Publish 以 gen 代际整体替换文本；gen 小于当前代际时拒绝并返回 false
func (b *Buffer) Publish(gen uint64, text string) bool {
	next := &Frame{Generation: gen, Text: text}
	for {
		old := b.cur.Load()
		if gen < old.Generation {
			return false
		}
		if b.cur.CompareAndSwap(old, next) {
			return true
		}
	}
}

// Set 不区分代际的写入（状态栏这类与会话无关的缓冲区使用）
func (b *Buffer) Set(text string) {
	for {
		old := b.cur.Load()
		if b.cur.CompareAndSwap(old, &Frame{Generation: old.Generation, Text: text}) {
			return
		}
	}
}

// Reset 清空文本并把代际提升到 gen（不会降低代际）
func (b *Buffer) Reset(gen uint64) {
	b.raise(gen, true)
}

// Seal 保留文本，把代际提升到 gen，之后旧代际的写入都会被拒绝
func (b *Buffer) Seal(gen uint64) {
	b.raise(gen, false)
}

func (b *Buffer) raise(gen uint64, clear bool) {
	for {
		old := b.cur.Load()
		if gen < old.Generation {
			gen = old.Generation
		}
		text := old.Text
		if clear {
			text = ""
		}
		if b.cur.CompareAndSwap(old, &Frame{Generation: gen, Text: text}) {
			return
		}
	}
}
