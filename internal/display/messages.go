package display

import (
	"strings"
	"sync"
	"sync/atomic"
)

// DefaultMessageLines 操作消息最多保留的行数
const DefaultMessageLines = 500

// MessageLog 追加式的操作消息日志
type MessageLog struct {
	mu       sync.Mutex
	lines    []string
	maxLines int
	text     atomic.Pointer[string]
	version  atomic.Uint64
}

// NewMessageLog 创建消息日志，maxLines<=0 时使用默认值
func NewMessageLog(maxLines int) *MessageLog {
	if maxLines <= 0 {
		maxLines = DefaultMessageLines
	}
	l := &MessageLog{maxLines: maxLines}
	empty := ""
	l.text.Store(&empty)
	return l
}

// Append 追加一条消息（可以是多行）
func (l *MessageLog) Append(msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.lines = append(l.lines, strings.Split(msg, "\n")...)
	if over := len(l.lines) - l.maxLines; over > 0 {
		l.lines = append(l.lines[:0], l.lines[over:]...)
	}
	joined := strings.Join(l.lines, "\n")
	l.text.Store(&joined)
	l.version.Add(1)
}

// Text 全部消息
func (l *MessageLog) Text() string {
	return *l.text.Load()
}

// Lines 消息行的副本
func (l *MessageLog) Lines() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.lines))
	copy(out, l.lines)
	return out
}

// Last 最后一行消息，没有消息时为空
func (l *MessageLog) Last() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.lines) == 0 {
		return ""
	}
	return l.lines[len(l.lines)-1]
}

// Version 每次追加后递增，渲染层据此判断是否需要滚动到底部
func (l *MessageLog) Version() uint64 {
	return l.version.Load()
}
