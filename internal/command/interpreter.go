package command

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/betbot/igcli/internal/domain"
	"github.com/betbot/igcli/internal/session"
	"github.com/betbot/igcli/pkg/cache"
	"github.com/betbot/igcli/pkg/igapi"
)

var log = logrus.WithField("module", "command")

// ErrUnrecognizedCommand 第一个词不是已知命令
var ErrUnrecognizedCommand = errors.New("unrecognised command")

// ArityError 参数个数不对
type ArityError struct {
	Command string
	Usage   string
	Got     int
}

func (e *ArityError) Error() string {
	return "Invalid syntax, expected: " + e.Usage
}

// Session 命令层用到的会话操作
type Session interface {
	Login(ctx context.Context, identifier, secret string) (domain.AccountConfig, error)
	Logout(ctx context.Context) error
	Restart() error
	Trigger() error
	Authenticated() bool
	AccountID() string
	Config() (domain.AccountConfig, error)
	Update(fn func(cfg *domain.AccountConfig)) error
	Save() error
	Aliases() map[string]string
}

// KeyStore 持久化 API key（可选）
type KeyStore interface {
	SetAPIKey(key string) error
}

// Reporter 追加一条操作消息
type Reporter func(msg string)

// MarketCacheTTL 已验证 epic 的缓存时间
const MarketCacheTTL = 10 * time.Minute

type handler func(ctx context.Context, args []string) error

type command struct {
	name    string
	usage   string
	summary string
	run     handler
}

// Interpreter 解析并执行操作员输入，一次只执行一条命令
type Interpreter struct {
	mu       sync.Mutex
	sess     Session
	api      igapi.API
	keys     KeyStore
	markets  *cache.InMemoryCache[string, igapi.MarketInfo]
	report   Reporter
	quit     func()
	registry map[string]*command
}

// Option 解释器选项
type Option func(*Interpreter)

// WithKeyStore `api` 命令同时把 key 写入存储
func WithKeyStore(ks KeyStore) Option {
	return func(in *Interpreter) { in.keys = ks }
}

// WithQuit `quit` 命令的回调
func WithQuit(fn func()) Option {
	return func(in *Interpreter) { in.quit = fn }
}

// New 创建解释器
func New(sess Session, api igapi.API, report Reporter, opts ...Option) *Interpreter {
	if report == nil {
		report = func(string) {}
	}
	in := &Interpreter{
		sess:    sess,
		api:     api,
		report:  report,
		markets: cache.NewInMemoryCache[string, igapi.MarketInfo](MarketCacheTTL, time.Minute),
	}
	for _, opt := range opts {
		opt(in)
	}
	in.registry = map[string]*command{}
	for _, c := range in.commands() {
		in.registry[c.name] = c
	}
	return in
}

// Close 释放缓存的清理 goroutine
func (in *Interpreter) Close() {
	in.markets.Close()
}

// Parse 按空白切分，并把别名单次展开（展开结果不会再次展开）
func (in *Interpreter) Parse(line string) []string {
	tokens := strings.Fields(line)
	if len(tokens) == 0 {
		return nil
	}
	// alias/unalias 的参数是别名本身，不展开
	if tokens[0] == "alias" || tokens[0] == "unalias" {
		return tokens
	}
	aliases := in.sess.Aliases()
	if len(aliases) == 0 {
		return tokens
	}
	out := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		if exp, ok := aliases[tok]; ok {
			out = append(out, strings.Fields(exp)...)
			continue
		}
		out = append(out, tok)
	}
	return out
}

// Execute 执行一行输入。所有结果（包括错误）都会写入操作消息；
// 返回的错误只用于调用方判断
func (in *Interpreter) Execute(ctx context.Context, line string) error {
	in.mu.Lock()
	defer in.mu.Unlock()

	tokens := in.Parse(line)
	if len(tokens) == 0 {
		return nil
	}
	log.WithField("input", line).Debug("执行命令")

	name, args := tokens[0], tokens[1:]
	cmd, ok := in.registry[name]
	if !ok {
		in.report("Unrecognised command: " + name)
		return errors.Wrap(ErrUnrecognizedCommand, name)
	}

	err := cmd.run(ctx, args)
	if err != nil {
		in.report(describe(cmd, err))
		log.WithError(err).WithField("command", name).Debug("命令失败")
	}
	return err
}

// Commands 已注册的命令名（排序后）
func (in *Interpreter) Commands() []string {
	names := make([]string, 0, len(in.registry))
	for name := range in.registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func describe(cmd *command, err error) string {
	var arity *ArityError
	switch {
	case errors.As(err, &arity):
		return arity.Error()
	case errors.Is(err, session.ErrAuthRequired):
		return fmt.Sprintf("Login required: %s", cmd.name)
	case errors.Is(err, session.ErrLoginFailed):
		return "Login failed: " + strings.TrimPrefix(err.Error(), session.ErrLoginFailed.Error()+": ")
	default:
		return fmt.Sprintf("%s%s failed: %v", strings.ToUpper(cmd.name[:1]), cmd.name[1:], err)
	}
}

func (in *Interpreter) arity(name string, got int) error {
	usage := name
	if c, ok := in.registry[name]; ok {
		usage = c.usage
	}
	return &ArityError{Command: name, Usage: usage, Got: got}
}

func (in *Interpreter) requireAuth() error {
	if !in.sess.Authenticated() {
		return session.ErrAuthRequired
	}
	return nil
}
