package command

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/betbot/igcli/internal/domain"
	"github.com/betbot/igcli/pkg/igapi"
)

// ErrLoggedIn 登录状态下不允许修改 API key
var ErrLoggedIn = errors.New("logout before changing the API key")

// ErrInvalidSize 下单数量不是正数
var ErrInvalidSize = errors.New("size must be a positive number")

func (in *Interpreter) commands() []*command {
	return []*command{
		{name: "update", usage: "update", summary: "refresh every panel now", run: in.update},
		{name: "api", usage: "api <key>", summary: "set the API key", run: in.setAPIKey},
		{name: "login", usage: "login <user> <pass>", summary: "log in and start refreshing", run: in.login},
		{name: "logout", usage: "logout", summary: "stop refreshing and log out", run: in.logout},
		{name: "save", usage: "save", summary: "save this account's configuration", run: in.save},
		{name: "track", usage: "track <epic...>", summary: "add markets to the trackers panel", run: in.track},
		{name: "stoptrack", usage: "stoptrack <epic...>", summary: "remove markets from the trackers panel", run: in.stopTrack},
		{name: "search", usage: "search <term...>", summary: "search markets by name", run: in.search},
		{name: "buy", usage: "buy <size> <epic>", summary: "open a market BUY position", run: in.order(igapi.Buy)},
		{name: "sell", usage: "sell <size> <epic>", summary: "open a market SELL position", run: in.order(igapi.Sell)},
		{name: "alias", usage: "alias <name> <expansion...>", summary: "define an input alias", run: in.alias},
		{name: "unalias", usage: "unalias <name>", summary: "remove an input alias", run: in.unalias},
		{name: "restart", usage: "restart", summary: "restart the refresh tasks", run: in.restart},
		{name: "help", usage: "help", summary: "list commands", run: in.help},
		{name: "quit", usage: "quit", summary: "exit", run: in.quitCmd},
	}
}

func (in *Interpreter) update(ctx context.Context, args []string) error {
	if err := in.requireAuth(); err != nil {
		return err
	}
	if len(args) != 0 {
		return in.arity("update", len(args))
	}
	if err := in.sess.Trigger(); err != nil {
		return err
	}
	in.report("Refreshing")
	return nil
}

func (in *Interpreter) setAPIKey(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return in.arity("api", len(args))
	}
	if in.sess.Authenticated() {
		return ErrLoggedIn
	}
	in.api.SetAPIKey(args[0])
	if in.keys != nil {
		if err := in.keys.SetAPIKey(args[0]); err != nil {
			return errors.Wrap(err, "store api key")
		}
	}
	in.report("API key set")
	return nil
}

func (in *Interpreter) login(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return in.arity("login", len(args))
	}
	return in.doLogin(ctx, args[0], args[1])
}

func (in *Interpreter) doLogin(ctx context.Context, identifier, secret string) error {
	cfg, err := in.sess.Login(ctx, identifier, secret)
	if err != nil {
		return err
	}
	in.report(fmt.Sprintf("Loading %s configuration...", identifier))
	for _, line := range strings.Split(cfg.Summary(), "\n") {
		in.report(line)
	}
	in.report("Login successful")
	return nil
}

// Login 与 `login` 命令相同，但不经过分词（用于启动时自动登录，密码可以含空格）
func (in *Interpreter) Login(ctx context.Context, identifier, secret string) error {
	in.mu.Lock()
	defer in.mu.Unlock()
	err := in.doLogin(ctx, identifier, secret)
	if err != nil {
		in.report(describe(in.registry["login"], err))
	}
	return err
}

func (in *Interpreter) logout(ctx context.Context, args []string) error {
	if err := in.requireAuth(); err != nil {
		return err
	}
	if len(args) != 0 {
		return in.arity("logout", len(args))
	}
	if err := in.sess.Logout(ctx); err != nil {
		return err
	}
	in.markets.Clear()
	in.report("Logged out")
	return nil
}

func (in *Interpreter) save(ctx context.Context, args []string) error {
	if err := in.requireAuth(); err != nil {
		return err
	}
	if len(args) != 0 {
		return in.arity("save", len(args))
	}
	if err := in.sess.Save(); err != nil {
		return err
	}
	in.report("Configuration saved")
	return nil
}

// market 校验 epic，命中缓存时不请求接口（下单使用）
func (in *Interpreter) market(ctx context.Context, epic string) (igapi.MarketInfo, error) {
	if info, ok := in.markets.Get(epic); ok {
		return info, nil
	}
	return in.lookupMarket(ctx, epic)
}

// lookupMarket 总是请求接口，结果写入缓存
func (in *Interpreter) lookupMarket(ctx context.Context, epic string) (igapi.MarketInfo, error) {
	info, err := in.api.GetMarket(ctx, epic)
	if err != nil {
		return igapi.MarketInfo{}, err
	}
	in.markets.Set(epic, *info, MarketCacheTTL)
	return *info, nil
}

// track 逐个向接口校验 epic（不读缓存）；被拒绝的跳过并提示，其余的一次性加入
func (in *Interpreter) track(ctx context.Context, args []string) error {
	if err := in.requireAuth(); err != nil {
		return err
	}
	if len(args) == 0 {
		return in.arity("track", len(args))
	}

	valid := make([]string, 0, len(args))
	for _, epic := range args {
		if _, err := in.lookupMarket(ctx, epic); err != nil {
			if igapi.IsMarketRejected(err) {
				in.report("Unable to find market: " + epic)
			} else {
				in.report(fmt.Sprintf("Unable to check market %s: %v", epic, err))
			}
			continue
		}
		valid = append(valid, epic)
	}
	if len(valid) == 0 {
		return nil
	}

	var added []string
	err := in.sess.Update(func(cfg *domain.AccountConfig) {
		for _, epic := range valid {
			if cfg.Track(epic) {
				added = append(added, epic)
			}
		}
	})
	if err != nil {
		return err
	}
	if len(added) > 0 {
		in.report("Tracking: " + strings.Join(added, ", "))
	} else {
		in.report("Already tracking: " + strings.Join(valid, ", "))
	}
	return nil
}

func (in *Interpreter) stopTrack(ctx context.Context, args []string) error {
	if err := in.requireAuth(); err != nil {
		return err
	}
	if len(args) == 0 {
		return in.arity("stoptrack", len(args))
	}

	var removed, missing []string
	err := in.sess.Update(func(cfg *domain.AccountConfig) {
		for _, epic := range args {
			if cfg.Untrack(epic) {
				removed = append(removed, epic)
			} else {
				missing = append(missing, epic)
			}
		}
	})
	if err != nil {
		return err
	}
	if len(removed) > 0 {
		in.report("Stopped tracking: " + strings.Join(removed, ", "))
	}
	if len(missing) > 0 {
		in.report("Not tracked: " + strings.Join(missing, ", "))
	}
	return nil
}

func (in *Interpreter) search(ctx context.Context, args []string) error {
	if err := in.requireAuth(); err != nil {
		return err
	}
	if len(args) == 0 {
		return in.arity("search", len(args))
	}
	term := strings.Join(args, " ")
	markets, err := in.api.SearchMarkets(ctx, term)
	if err != nil {
		return err
	}
	if len(markets) == 0 {
		in.report("No markets found for: " + term)
		return nil
	}
	found := make([]string, 0, len(markets))
	for _, m := range markets {
		in.markets.Set(m.Epic, m, MarketCacheTTL)
		found = append(found, fmt.Sprintf("%s: %s", m.InstrumentName, m.Epic))
	}
	in.report("Found epics: " + strings.Join(found, ", "))
	return nil
}

func (in *Interpreter) order(direction igapi.Direction) handler {
	name := strings.ToLower(string(direction))
	return func(ctx context.Context, args []string) error {
		if err := in.requireAuth(); err != nil {
			return err
		}
		if len(args) != 2 {
			return in.arity(name, len(args))
		}
		size, err := decimal.NewFromString(args[0])
		if err != nil || !size.IsPositive() {
			return errors.Wrap(ErrInvalidSize, args[0])
		}
		epic := args[1]

		cfg, err := in.sess.Config()
		if err != nil {
			return err
		}
		if _, err := in.market(ctx, epic); err != nil {
			if igapi.IsMarketRejected(err) {
				return errors.Wrap(igapi.ErrMarketNotFound, epic)
			}
			return err
		}

		conf, err := in.api.SubmitOrder(ctx, igapi.OrderRequest{
			Direction: direction,
			OrderType: igapi.OrderTypeMarket,
			Epic:      epic,
			Size:      size,
			Currency:  cfg.Currency,
		})
		if err != nil {
			return err
		}
		in.report(describeConfirmation(conf))
		return nil
	}
}

func describeConfirmation(c *igapi.Confirmation) string {
	if !c.Accepted() {
		reason := c.Reason
		if reason == "" {
			reason = c.DealStatus
		}
		return fmt.Sprintf("Order rejected: %s %s %s (%s)", c.Direction, c.Size.StringFixed(2), c.Epic, reason)
	}
	level := "-"
	if c.Level.Valid {
		level = c.Level.Decimal.StringFixed(2)
	}
	return fmt.Sprintf("Order accepted: %s %s %s @ %s, deal %s", c.Direction, c.Size.StringFixed(2), c.Epic, level, c.DealID)
}

func (in *Interpreter) alias(ctx context.Context, args []string) error {
	if err := in.requireAuth(); err != nil {
		return err
	}
	if len(args) < 2 {
		return in.arity("alias", len(args))
	}
	name, expansion := args[0], strings.Join(args[1:], " ")
	err := in.sess.Update(func(cfg *domain.AccountConfig) {
		if cfg.Aliases == nil {
			cfg.Aliases = map[string]string{}
		}
		cfg.Aliases[name] = expansion
	})
	if err != nil {
		return err
	}
	in.report(fmt.Sprintf("Alias added: %s -> %s", name, expansion))
	return nil
}

func (in *Interpreter) unalias(ctx context.Context, args []string) error {
	if err := in.requireAuth(); err != nil {
		return err
	}
	if len(args) != 1 {
		return in.arity("unalias", len(args))
	}
	var found bool
	err := in.sess.Update(func(cfg *domain.AccountConfig) {
		if _, found = cfg.Aliases[args[0]]; found {
			delete(cfg.Aliases, args[0])
		}
	})
	if err != nil {
		return err
	}
	if !found {
		in.report("No such alias: " + args[0])
		return nil
	}
	in.report("Alias removed: " + args[0])
	return nil
}

func (in *Interpreter) restart(ctx context.Context, args []string) error {
	if err := in.requireAuth(); err != nil {
		return err
	}
	if len(args) != 0 {
		return in.arity("restart", len(args))
	}
	if err := in.sess.Restart(); err != nil {
		return err
	}
	in.report("Refresh tasks restarted")
	return nil
}

func (in *Interpreter) help(ctx context.Context, args []string) error {
	for _, c := range in.commands() {
		in.report(fmt.Sprintf("%-28s %s", c.usage, c.summary))
	}
	// 登录后附带当前账户的别名
	if cfg, err := in.sess.Config(); err == nil {
		for _, name := range cfg.AliasNames() {
			in.report(fmt.Sprintf("%-28s %s", name, "alias for: "+cfg.Aliases[name]))
		}
	}
	return nil
}

func (in *Interpreter) quitCmd(ctx context.Context, args []string) error {
	if in.quit != nil {
		in.quit()
	}
	return nil
}
