package periodic

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/betbot/igcli/pkg/syncgroup"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultInterval interval<=0 时使用的间隔
	DefaultInterval = 5 * time.Second
	// DefaultTickTimeout 单次执行的超时时间
	DefaultTickTimeout = 30 * time.Second
)

// Action 每次 tick 执行的函数，generation 为启动该任务的 Token 代际
type Action func(ctx context.Context, generation uint64) error

// TransientError 单次 tick 失败；记录日志后任务继续运行
type TransientError struct {
	Task       string
	Generation uint64
	Err        error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("periodic task %s (generation %d): %v", e.Task, e.Generation, e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// Option 任务选项
type Option func(*Task)

// WithTickTimeout 设置单次执行的超时时间
func WithTickTimeout(d time.Duration) Option {
	return func(t *Task) {
		if d > 0 {
			t.tickTimeout = d
		}
	}
}

// WithGroup 让任务 goroutine 由指定的 SyncGroup 管理
func WithGroup(g *syncgroup.SyncGroup) Option {
	return func(t *Task) { t.group = g }
}

// WithErrorHandler tick 失败时的额外回调（在任务 goroutine 中调用）
func WithErrorHandler(fn func(*TransientError)) Option {
	return func(t *Task) { t.onError = fn }
}

// Task 可取消的后台周期任务
// 由 Token 控制生命周期，停止后不会重启；重启意味着新的 Token 和新的 Task
type Task struct {
	name        string
	interval    time.Duration
	action      Action
	token       *Token
	kick        *kick
	tickTimeout time.Duration
	group       *syncgroup.SyncGroup
	onError     func(*TransientError)
	log         *logrus.Entry

	done     chan struct{}
	ticks    atomic.Int64
	failures atomic.Int64
}

// Start 创建并启动任务
func Start(name string, interval time.Duration, token *Token, action Action, opts ...Option) *Task {
	if interval <= 0 {
		interval = DefaultInterval
	}
	t := &Task{
		name:        name,
		interval:    interval,
		action:      action,
		token:       token,
		kick:        newKick(),
		tickTimeout: DefaultTickTimeout,
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.log = logrus.WithFields(logrus.Fields{
		"module":     "periodic",
		"task":       name,
		"generation": token.Generation(),
	})

	if t.group != nil {
		t.group.Go(t.loop)
	} else {
		go t.loop()
	}
	return t
}

func (t *Task) loop() {
	defer close(t.done)
	t.log.Debugf("任务启动，间隔 %s", t.interval)

	timer := time.NewTimer(t.interval)
	defer timer.Stop()

	for {
		select {
		case <-t.token.Done():
			t.log.Debug("收到停止信号，任务退出")
			return
		case <-timer.C:
		case <-t.kick.C():
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		}

		// select 在多个分支同时就绪时随机选择，这里再检查一次
		if t.token.IsSignaled() {
			t.log.Debug("收到停止信号，任务退出")
			return
		}

		t.runOnce()
		timer.Reset(t.interval)
	}
}

func (t *Task) runOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), t.tickTimeout)
	defer cancel()

	err := t.invoke(ctx)
	t.ticks.Add(1)
	if err == nil {
		return
	}

	t.failures.Add(1)
	terr := &TransientError{Task: t.name, Generation: t.token.Generation(), Err: err}
	t.log.WithError(err).Warn("刷新失败，保留上一次结果")
	if t.onError != nil {
		t.onError(terr)
	}
}

func (t *Task) invoke(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("panic: %v", r)
		}
	}()
	return t.action(ctx, t.token.Generation())
}

// Name 任务名称
func (t *Task) Name() string {
	return t.name
}

// Token 任务所属的 Token
func (t *Task) Token() *Token {
	return t.token
}

// Trigger 请求尽快执行一次（非阻塞），任务已停止时无效果
func (t *Task) Trigger() {
	t.kick.emit()
}

// Done 任务 goroutine 退出后关闭
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Ticks 已执行的次数（包括失败的）
func (t *Task) Ticks() int64 {
	return t.ticks.Load()
}

// Failures 失败的次数
func (t *Task) Failures() int64 {
	return t.failures.Load()
}

// Job 命名的 Action，由持有者决定用哪个 Token 启动
type Job struct {
	Name   string
	Action Action
}
