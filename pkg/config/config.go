package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/betbot/igcli/pkg/secretstore"
)

// 环境变量名
const (
	EnvAPIKey      = "IG_API_KEY"
	EnvIdentifier  = "IG_ID"
	EnvPassword    = "IG_PWD"
	EnvConfigFile  = "IG_CLI_CONFIG"
	EnvAPIURL      = "IG_API_URL"
	EnvLogLevel    = "IG_CLI_LOG_LEVEL"
	EnvLogFile     = "IG_CLI_LOG_FILE"
	EnvSecretsDir  = "IG_CLI_SECRETS"
	EnvSecretsKey  = "IG_CLI_SECRETS_KEY"
	EnvHTTPAddr    = "IG_CLI_HTTP"
	EnvTickTimeout = "IG_CLI_TICK_TIMEOUT"
)

// 默认值
const (
	DefaultConfigFile  = "config.yml"
	DefaultAPIURL      = "https://demo-api.ig.com/gateway/deal"
	DefaultLogLevel    = "info"
	DefaultLogFile     = "logs/igcli.log"
	DefaultTickTimeout = 30 * time.Second
)

// Config 进程级设置（账户级设置在 domain.AccountConfig 里）
type Config struct {
	APIKey     string // IG API key
	Identifier string // 账户标识
	Password   string // 账户密码

	ConfigFile string // 账户配置 YAML 文件
	APIURL     string // REST 网关地址

	LogLevel string
	LogFile  string

	SecretsDir string // badger 目录，为空时不启用
	SecretsKey string // 32 字节 hex/base64，为空时不加密

	HTTPAddr    string        // 只读状态 API 监听地址，为空时不启用
	TickTimeout time.Duration // 每次刷新的超时时间
}

// Load 先读 .env（不存在时忽略），再读环境变量
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		_ = godotenv.Load()
	} else {
		for _, f := range envFiles {
			if err := godotenv.Load(f); err != nil && !os.IsNotExist(err) {
				return nil, fmt.Errorf("加载 %s 失败: %w", f, err)
			}
		}
	}
	return FromEnv(), nil
}

// FromEnv 只读环境变量
func FromEnv() *Config {
	return &Config{
		APIKey:      strings.TrimSpace(os.Getenv(EnvAPIKey)),
		Identifier:  strings.TrimSpace(os.Getenv(EnvIdentifier)),
		Password:    os.Getenv(EnvPassword),
		ConfigFile:  getEnv(EnvConfigFile, DefaultConfigFile),
		APIURL:      getEnv(EnvAPIURL, DefaultAPIURL),
		LogLevel:    getEnv(EnvLogLevel, DefaultLogLevel),
		LogFile:     getEnv(EnvLogFile, DefaultLogFile),
		SecretsDir:  os.Getenv(EnvSecretsDir),
		SecretsKey:  os.Getenv(EnvSecretsKey),
		HTTPAddr:    os.Getenv(EnvHTTPAddr),
		TickTimeout: parseDurationEnv(EnvTickTimeout, DefaultTickTimeout),
	}
}

// AutoLogin 三个变量都配置时启动后自动登录
func (c *Config) AutoLogin() bool {
	return c.APIKey != "" && c.Identifier != "" && c.Password != ""
}

// Validate 启动前校验，错误会直接终止启动
func (c *Config) Validate() error {
	if strings.TrimSpace(c.ConfigFile) == "" {
		return fmt.Errorf("%s 不能为空", EnvConfigFile)
	}
	if !strings.HasPrefix(c.APIURL, "http://") && !strings.HasPrefix(c.APIURL, "https://") {
		return fmt.Errorf("%s 必须是 http(s) 地址: %q", EnvAPIURL, c.APIURL)
	}
	if c.TickTimeout <= 0 {
		return fmt.Errorf("%s 必须大于 0", EnvTickTimeout)
	}
	if c.HTTPAddr != "" {
		if _, _, err := net.SplitHostPort(c.HTTPAddr); err != nil {
			return fmt.Errorf("%s 格式错误: %w", EnvHTTPAddr, err)
		}
	}
	if c.SecretsKey != "" {
		if c.SecretsDir == "" {
			return fmt.Errorf("配置了 %s 但没有配置 %s", EnvSecretsKey, EnvSecretsDir)
		}
		if _, err := secretstore.ParseKey(c.SecretsKey); err != nil {
			return fmt.Errorf("%s 无效: %w", EnvSecretsKey, err)
		}
	}
	return nil
}

// getEnv 获取环境变量，如果不存在则返回默认值
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseDurationEnv 解析时长环境变量，纯数字按秒处理
func parseDurationEnv(key string, defaultValue time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	return defaultValue
}
