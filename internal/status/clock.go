package status

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/betbot/igcli/internal/display"
	"github.com/betbot/igcli/pkg/periodic"
	"github.com/betbot/igcli/pkg/syncgroup"
)

// Interval 状态栏刷新间隔
const Interval = time.Second

// TimeLayout 状态栏时间格式（UTC）
const TimeLayout = "Mon 02 Jan 2006 | 15:04:05"

// Source 当前会话状态
type Source interface {
	Status() (online bool, accountID string)
}

// Clock 状态栏任务，使用自己的 Token，与会话的启停无关
type Clock struct {
	mu     sync.Mutex
	source Source
	buffer *display.Buffer
	now    func() time.Time
	group  *syncgroup.SyncGroup
	token  *periodic.Token
	task   *periodic.Task
}

// Option 状态栏选项
type Option func(*Clock)

// WithNow 替换时钟（测试用）
func WithNow(now func() time.Time) Option {
	return func(c *Clock) { c.now = now }
}

// WithGroup 任务 goroutine 加入 group
func WithGroup(g *syncgroup.SyncGroup) Option {
	return func(c *Clock) { c.group = g }
}

// NewClock 创建状态栏任务
func NewClock(source Source, buffer *display.Buffer, opts ...Option) *Clock {
	c := &Clock{source: source, buffer: buffer, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Render 生成状态栏文本
func Render(now time.Time, online bool, accountID string) string {
	stamp := now.UTC().Format(TimeLayout)
	if !online {
		return stamp + " || Status: Offline |"
	}
	return fmt.Sprintf("%s || Status: Online | ID: %s ", stamp, accountID)
}

// Tick 写一次状态栏
func (c *Clock) Tick(ctx context.Context, _ uint64) error {
	online, id := c.source.Status()
	c.buffer.Set(Render(c.now(), online, id))
	return nil
}

// Start 立即写一次并启动任务；重复调用无效果
func (c *Clock) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != nil {
		return
	}
	_ = c.Tick(context.Background(), 0)

	c.token = periodic.NewToken(0)
	var opts []periodic.Option
	if c.group != nil {
		opts = append(opts, periodic.WithGroup(c.group))
	}
	c.task = periodic.Start(display.Status, Interval, c.token, c.Tick, opts...)
}

// Stop 停止任务，不等待 goroutine 退出
func (c *Clock) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token == nil {
		return
	}
	c.token.Signal()
}

// Done 任务退出后关闭；未启动时返回 nil
func (c *Clock) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.task == nil {
		return nil
	}
	return c.task.Done()
}
