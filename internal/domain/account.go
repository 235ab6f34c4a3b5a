package domain

import (
	"fmt"
	"sort"
	"strings"
)

// 账户配置默认值
const (
	DefaultRefreshSeconds = 5
	DefaultCurrency       = "USD"
)

// AccountConfig 单个账户的面板配置，按账户 ID 存在共享的 YAML 文件中
type AccountConfig struct {
	RefreshInterval int               `yaml:"refresh"`  // 刷新间隔（秒）
	Currency        string            `yaml:"currency"` // 下单币种
	Tracked         []string          `yaml:"tracked"`  // 跟踪的 epic，有序且不重复
	Aliases         map[string]string `yaml:"alias"`    // 命令别名
}

// DefaultAccountConfig 默认配置
func DefaultAccountConfig() AccountConfig {
	return AccountConfig{
		RefreshInterval: DefaultRefreshSeconds,
		Currency:        DefaultCurrency,
		Tracked:         []string{},
		Aliases:         map[string]string{},
	}
}

// ApplyDefaults 为缺失的字段补上默认值，并去掉重复的 tracked
func (c *AccountConfig) ApplyDefaults() {
	if c.RefreshInterval <= 0 {
		c.RefreshInterval = DefaultRefreshSeconds
	}
	if strings.TrimSpace(c.Currency) == "" {
		c.Currency = DefaultCurrency
	}
	if c.Tracked == nil {
		c.Tracked = []string{}
	}
	c.Tracked = dedupe(c.Tracked)
	if c.Aliases == nil {
		c.Aliases = map[string]string{}
	}
}

// Clone 深拷贝，调用方可以随意修改副本
func (c AccountConfig) Clone() AccountConfig {
	out := c
	out.Tracked = append([]string(nil), c.Tracked...)
	out.Aliases = make(map[string]string, len(c.Aliases))
	for k, v := range c.Aliases {
		out.Aliases[k] = v
	}
	return out
}

// IsTracked epic 是否已在跟踪列表中
func (c *AccountConfig) IsTracked(epic string) bool {
	for _, e := range c.Tracked {
		if e == epic {
			return true
		}
	}
	return false
}

// Track 追加 epic，已存在时返回 false
func (c *AccountConfig) Track(epic string) bool {
	if c.IsTracked(epic) {
		return false
	}
	c.Tracked = append(c.Tracked, epic)
	return true
}

// Untrack 移除 epic，不存在时返回 false
func (c *AccountConfig) Untrack(epic string) bool {
	for i, e := range c.Tracked {
		if e == epic {
			c.Tracked = append(c.Tracked[:i:i], c.Tracked[i+1:]...)
			return true
		}
	}
	return false
}

// Summary 登录时展示给操作员的配置摘要
func (c *AccountConfig) Summary() string {
	return fmt.Sprintf("... Refresh rate: %d s\n... Currency: %s\n... Added %d trackers",
		c.RefreshInterval, c.Currency, len(c.Tracked))
}

// AliasNames 排序后的别名列表
func (c *AccountConfig) AliasNames() []string {
	names := make([]string, 0, len(c.Aliases))
	for name := range c.Aliases {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
