package session

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/betbot/igcli/internal/domain"
	"github.com/betbot/igcli/pkg/igapi"
	"github.com/betbot/igcli/pkg/periodic"
	"github.com/betbot/igcli/pkg/persistence"
	"github.com/betbot/igcli/pkg/syncgroup"
)

var log = logrus.WithField("module", "session")

var (
	ErrAuthRequired         = errors.New("not logged in")
	ErrAlreadyRunning       = errors.New("refresh tasks already running")
	ErrNotRunning           = errors.New("refresh tasks not running")
	ErrAlreadyAuthenticated = errors.New("already logged in")
	ErrLoginInProgress      = errors.New("login already in progress")
	ErrLoginFailed          = errors.New("login failed")
)

// State 会话状态
type State int

const (
	StateLoggedOut State = iota
	StateLoggingIn
	StateAuthenticated
)

func (s State) String() string {
	switch s {
	case StateLoggedOut:
		return "logged-out"
	case StateLoggingIn:
		return "logging-in"
	case StateAuthenticated:
		return "authenticated"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Fence 会话代际变化时通知缓冲区的持有者
type Fence interface {
	Fence(generation uint64, clear bool)
}

// Option 管理器选项
type Option func(*Manager)

// WithTickTimeout 刷新任务单次执行的超时时间
func WithTickTimeout(d time.Duration) Option {
	return func(m *Manager) { m.tickTimeout = d }
}

// WithInterval 覆盖账户配置里的刷新间隔
func WithInterval(d time.Duration) Option {
	return func(m *Manager) { m.interval = d }
}

// WithGroup 刷新任务 goroutine 的归属，Shutdown 时等待它们退出
func WithGroup(g *syncgroup.SyncGroup) Option {
	return func(m *Manager) { m.group = g }
}

// Manager 会话生命周期：登录状态、账户配置和当前代际的刷新任务。
// 所有状态由一把读写锁保护，锁不会跨越外部接口调用
type Manager struct {
	api   igapi.API
	store persistence.Store

	tickTimeout time.Duration
	interval    time.Duration
	group       *syncgroup.SyncGroup

	mu         sync.RWMutex
	state      State
	accountID  string
	config     domain.AccountConfig
	generation uint64
	token      *periodic.Token
	tasks      []*periodic.Task
	jobs       []periodic.Job
	fence      Fence
	failures   int64
	lastError  string
}

// NewManager 创建会话管理器
func NewManager(api igapi.API, store persistence.Store, opts ...Option) *Manager {
	m := &Manager{
		api:         api,
		store:       store,
		tickTimeout: periodic.DefaultTickTimeout,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Register 设置每个会话代际要启动的任务，以及缓冲区的代际栅栏
func (m *Manager) Register(jobs []periodic.Job, fence Fence) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs = append([]periodic.Job(nil), jobs...)
	m.fence = fence
}

// Login 登录并启动刷新任务。失败时回到 LoggedOut，不修改任何状态
func (m *Manager) Login(ctx context.Context, identifier, secret string) (domain.AccountConfig, error) {
	identifier = strings.TrimSpace(identifier)

	m.mu.Lock()
	switch m.state {
	case StateAuthenticated:
		m.mu.Unlock()
		return domain.AccountConfig{}, ErrAlreadyAuthenticated
	case StateLoggingIn:
		m.mu.Unlock()
		return domain.AccountConfig{}, ErrLoginInProgress
	}
	m.state = StateLoggingIn
	m.mu.Unlock()

	cfg, err := m.authenticate(ctx, identifier, secret)

	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		m.state = StateLoggedOut
		log.WithError(err).WithField("account", identifier).Warn("登录失败")
		return domain.AccountConfig{}, err
	}
	m.state = StateAuthenticated
	m.accountID = identifier
	m.config = cfg
	m.startLocked()
	log.WithFields(logrus.Fields{
		"account":    identifier,
		"generation": m.generation,
	}).Info("登录成功")
	return cfg.Clone(), nil
}

func (m *Manager) authenticate(ctx context.Context, identifier, secret string) (domain.AccountConfig, error) {
	if identifier == "" {
		return domain.AccountConfig{}, errors.Wrap(ErrLoginFailed, "identifier is empty")
	}
	if _, err := m.api.Login(ctx, identifier, secret); err != nil {
		return domain.AccountConfig{}, fmt.Errorf("%w: %w", ErrLoginFailed, err)
	}

	cfg, err := m.loadConfig(identifier)
	if err != nil {
		if lerr := m.api.Logout(ctx); lerr != nil {
			log.WithError(lerr).Debug("回滚登录时登出失败")
		}
		return domain.AccountConfig{}, fmt.Errorf("%w: %w", ErrLoginFailed, err)
	}
	return cfg, nil
}

// 账户没有配置条目时使用默认值
func (m *Manager) loadConfig(accountID string) (domain.AccountConfig, error) {
	cfg := domain.DefaultAccountConfig()
	if m.store != nil {
		err := m.store.Load(accountID, &cfg)
		if err != nil && !errors.Is(err, persistence.ErrNotExists) {
			return domain.AccountConfig{}, errors.Wrapf(err, "load %s configuration", accountID)
		}
	}
	cfg.ApplyDefaults()
	return cfg, nil
}

// Logout 停止任务、清空配置和缓冲区，然后尽力通知服务端
func (m *Manager) Logout(ctx context.Context) error {
	m.mu.Lock()
	if m.state != StateAuthenticated {
		m.mu.Unlock()
		return ErrAuthRequired
	}
	account := m.accountID
	if m.token != nil {
		m.stopLocked()
	}
	if m.fence != nil {
		m.fence.Fence(m.generation+1, true)
	}
	m.state = StateLoggedOut
	m.accountID = ""
	m.config = domain.AccountConfig{}
	m.mu.Unlock()

	if err := m.api.Logout(ctx); err != nil {
		log.WithError(err).Warn("服务端登出失败，本地会话已清除")
	}
	log.WithField("account", account).Info("已登出")
	return nil
}

// Start 以新的 Token 启动刷新任务
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateAuthenticated {
		return ErrAuthRequired
	}
	if m.token != nil {
		return ErrAlreadyRunning
	}
	m.startLocked()
	return nil
}

// Stop 触发当前 Token 并丢弃任务句柄，不等待进行中的 tick
func (m *Manager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.token == nil {
		return ErrNotRunning
	}
	m.stopLocked()
	return nil
}

// Restart 在同一次加锁内 Stop + Start，新任务使用新的 Token
func (m *Manager) Restart() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateAuthenticated {
		return ErrAuthRequired
	}
	if m.token != nil {
		m.stopLocked()
	}
	m.startLocked()
	return nil
}

// Trigger 让所有任务尽快执行一次
func (m *Manager) Trigger() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.state != StateAuthenticated {
		return ErrAuthRequired
	}
	if m.token == nil {
		return ErrNotRunning
	}
	for _, t := range m.tasks {
		t.Trigger()
	}
	return nil
}

// Shutdown 停止任务并等待 goroutine 退出或 ctx 到期
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.token != nil {
		m.stopLocked()
	}
	m.mu.Unlock()

	if m.group == nil {
		return nil
	}
	return m.group.WaitContext(ctx)
}

func (m *Manager) startLocked() {
	m.generation++
	m.failures = 0
	m.lastError = ""
	gen := m.generation
	token := periodic.NewToken(gen)
	if m.fence != nil {
		m.fence.Fence(gen, false)
	}

	interval := time.Duration(m.config.RefreshInterval) * time.Second
	if m.interval > 0 {
		interval = m.interval
	}
	opts := []periodic.Option{
		periodic.WithTickTimeout(m.tickTimeout),
		periodic.WithErrorHandler(m.recordFailure),
	}
	if m.group != nil {
		opts = append(opts, periodic.WithGroup(m.group))
	}
	tasks := make([]*periodic.Task, 0, len(m.jobs))
	for _, job := range m.jobs {
		tasks = append(tasks, periodic.Start(job.Name, interval, token, job.Action, opts...))
	}
	m.token = token
	m.tasks = tasks
	log.WithFields(logrus.Fields{
		"generation": gen,
		"tasks":      len(tasks),
		"interval":   interval,
	}).Debug("刷新任务已启动")
}

// recordFailure 统计当前代际的 tick 失败，旧代际的失败忽略
func (m *Manager) recordFailure(e *periodic.TransientError) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.Generation != m.generation {
		return
	}
	m.failures++
	m.lastError = e.Error()
}

// Failures 当前代际的 tick 失败次数和最近一次错误
func (m *Manager) Failures() (int64, string) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.failures, m.lastError
}

func (m *Manager) stopLocked() {
	m.token.Signal()
	gen := m.token.Generation()
	m.token = nil
	m.tasks = nil
	// 下一代的代际提前生效，迟到的写入直接被拒绝
	if m.fence != nil {
		m.fence.Fence(m.generation+1, false)
	}
	log.WithField("generation", gen).Debug("刷新任务已停止")
}

// State 当前状态
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Authenticated 是否已登录
func (m *Manager) Authenticated() bool {
	return m.State() == StateAuthenticated
}

// AccountID 当前账户，未登录时为空
func (m *Manager) AccountID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.accountID
}

// Status 状态栏用的一次性读取
func (m *Manager) Status() (online bool, accountID string) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state == StateAuthenticated, m.accountID
}

// Generation 最近一次启动的代际
func (m *Manager) Generation() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.generation
}

// Running 是否有存活的刷新任务
func (m *Manager) Running() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.token != nil
}

// Token 当前代际的 Token，未运行时为 nil
func (m *Manager) Token() *periodic.Token {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.token
}

// Tasks 当前代际的任务
func (m *Manager) Tasks() []*periodic.Task {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*periodic.Task(nil), m.tasks...)
}

// Tracked 跟踪列表的副本，未登录时为空
func (m *Manager) Tracked() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.config.Tracked...)
}

// Aliases 别名表的副本，未登录时为空
func (m *Manager) Aliases() map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]string, len(m.config.Aliases))
	for k, v := range m.config.Aliases {
		out[k] = v
	}
	return out
}

// Config 当前配置的副本
func (m *Manager) Config() (domain.AccountConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.state != StateAuthenticated {
		return domain.AccountConfig{}, ErrAuthRequired
	}
	return m.config.Clone(), nil
}

// Update 在锁内修改配置。fn 不能调用外部接口
func (m *Manager) Update(fn func(cfg *domain.AccountConfig)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateAuthenticated {
		return ErrAuthRequired
	}
	fn(&m.config)
	return nil
}

// Save 把当前账户的配置写回共享文件
func (m *Manager) Save() error {
	m.mu.RLock()
	if m.state != StateAuthenticated {
		m.mu.RUnlock()
		return ErrAuthRequired
	}
	account := m.accountID
	cfg := m.config.Clone()
	m.mu.RUnlock()

	if m.store == nil {
		return errors.New("no configuration store")
	}
	return errors.Wrapf(m.store.Save(account, cfg), "save %s configuration", account)
}
