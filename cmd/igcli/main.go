package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/sirupsen/logrus"

	"github.com/betbot/igcli/internal/command"
	"github.com/betbot/igcli/internal/display"
	"github.com/betbot/igcli/internal/refresh"
	"github.com/betbot/igcli/internal/session"
	"github.com/betbot/igcli/internal/status"
	"github.com/betbot/igcli/internal/statusapi"
	"github.com/betbot/igcli/internal/tui"
	"github.com/betbot/igcli/pkg/config"
	"github.com/betbot/igcli/pkg/igapi"
	"github.com/betbot/igcli/pkg/logger"
	"github.com/betbot/igcli/pkg/persistence"
	"github.com/betbot/igcli/pkg/ratelimit"
	"github.com/betbot/igcli/pkg/secretstore"
	"github.com/betbot/igcli/pkg/shutdown"
	"github.com/betbot/igcli/pkg/syncgroup"
)

const gracefulShutdownPeriod = 5 * time.Second

func fatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	logger.Errorf(format, args...)
	_ = logger.Close()
	os.Exit(1)
}

func main() {
	envFiles := flag.String("env", ".env", ".env 文件列表（逗号分隔，不存在时忽略）")
	configFile := flag.String("config", "", "账户配置文件（覆盖 IG_CLI_CONFIG）")
	logLevel := flag.String("log-level", "", "日志级别（覆盖 IG_CLI_LOG_LEVEL）")
	httpAddr := flag.String("http", "", "只读状态接口地址（覆盖 IG_CLI_HTTP）")
	flag.Parse()

	cfg, err := config.Load(strings.Split(*envFiles, ",")...)
	if err != nil {
		fatal("加载配置失败: %v", err)
	}
	if *configFile != "" {
		cfg.ConfigFile = *configFile
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if *httpAddr != "" {
		cfg.HTTPAddr = *httpAddr
	}
	if err := cfg.Validate(); err != nil {
		fatal("配置无效: %v", err)
	}

	// 终端由 TUI 占用，日志只写文件
	logConfig := logger.DefaultConfig()
	logConfig.Level = cfg.LogLevel
	logConfig.OutputFile = cfg.LogFile
	if err := logger.Init(logConfig); err != nil {
		fatal("初始化日志失败: %v", err)
	}
	logrus.Infof("使用账户配置文件: %s", cfg.ConfigFile)

	store := persistence.NewYAMLFileStore(cfg.ConfigFile)
	if err := store.Check(); err != nil {
		fatal("账户配置文件无法解析 %s: %v", cfg.ConfigFile, err)
	}

	shutdowns := shutdown.NewManager()

	var secrets *secretstore.Store
	if cfg.SecretsDir != "" {
		var key []byte
		if cfg.SecretsKey != "" {
			key, err = secretstore.ParseKey(cfg.SecretsKey)
			if err != nil {
				fatal("IG_CLI_SECRETS_KEY 无效: %v", err)
			}
		}
		secrets, err = secretstore.Open(secretstore.OpenOptions{Path: cfg.SecretsDir, EncryptionKey: key})
		if err != nil {
			fatal("打开密钥存储失败: %v", err)
		}
		if cfg.APIKey == "" {
			if stored, err := secrets.APIKey(); err != nil {
				logrus.WithError(err).Warn("读取已保存的 API key 失败")
			} else if stored != "" {
				cfg.APIKey = stored
				logrus.Info("使用已保存的 API key")
			}
		}
	}

	client := igapi.NewClient(igapi.Config{
		BaseURL:    cfg.APIURL,
		APIKey:     cfg.APIKey,
		Timeout:    cfg.TickTimeout,
		RetryCount: 2,
		RetryWait:  500 * time.Millisecond,
		Limiter:    ratelimit.NewManager(),
	})

	board := display.NewBoard()
	group := syncgroup.NewSyncGroup()

	mgr := session.NewManager(client, store,
		session.WithTickTimeout(cfg.TickTimeout),
		session.WithGroup(group))
	refresher := refresh.New(client, mgr, board)
	mgr.Register(refresher.Jobs(), refresher)

	var program *tea.Program
	quit := func() {
		if program != nil {
			program.Quit()
		}
	}
	opts := []command.Option{command.WithQuit(quit)}
	if secrets != nil {
		opts = append(opts, command.WithKeyStore(secrets))
	}
	interp := command.New(mgr, client, board.Messages.Append, opts...)

	clock := status.NewClock(mgr, board.Status, status.WithGroup(group))
	clock.Start()

	var api *statusapi.Server
	if cfg.HTTPAddr != "" {
		api = statusapi.New(mgr, board)
		if err := api.Start(cfg.HTTPAddr); err != nil {
			fatal("启动状态接口失败: %v", err)
		}
		shutdowns.OnShutdown("statusapi", api.Shutdown)
	}

	// 时钟和会话任务共用 group，所以两者的停止放在同一个回调里
	shutdowns.OnShutdown("tasks", func(ctx context.Context) error {
		clock.Stop()
		return mgr.Shutdown(ctx)
	})
	shutdowns.OnShutdown("interpreter", func(ctx context.Context) error {
		interp.Close()
		return nil
	})

	program = tea.NewProgram(tui.NewModel(board, interp, nil), tea.WithAltScreen())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGHUP)
	go func() {
		sig := <-sigChan
		logrus.Infof("收到信号 %s，正在退出", sig)
		program.Quit()
	}()

	if cfg.AutoLogin() {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), tui.CommandTimeout)
			defer cancel()
			_ = interp.Login(ctx, cfg.Identifier, cfg.Password)
		}()
	} else {
		board.Messages.Append("Type 'help' for a list of commands")
	}

	if _, err := program.Run(); err != nil {
		logrus.WithError(err).Error("界面退出异常")
	}
	signal.Stop(sigChan)

	logrus.Info("正在关闭...")
	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownPeriod)
	defer cancel()
	if pending := shutdowns.Shutdown(ctx); len(pending) > 0 {
		logrus.Warnf("关闭超时，未完成: %s", strings.Join(pending, ", "))
	}

	if mgr.Authenticated() {
		logoutCtx, logoutCancel := context.WithTimeout(context.Background(), gracefulShutdownPeriod)
		if err := mgr.Logout(logoutCtx); err != nil {
			logrus.WithError(err).Warn("登出失败")
		}
		logoutCancel()
	}
	if secrets != nil {
		if err := secrets.Close(); err != nil {
			logrus.WithError(err).Warn("关闭密钥存储失败")
		}
	}
	logrus.Info("已退出")
	_ = logger.Close()
}
