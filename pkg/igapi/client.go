package igapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/betbot/igcli/pkg/ratelimit"
)

var log = logrus.WithField("module", "igapi")

// DefaultBaseURL 模拟盘网关
const DefaultBaseURL = "https://demo-api.ig.com/gateway/deal"

// API 面板用到的 IG REST 接口
type API interface {
	SetAPIKey(key string)
	HasAPIKey() bool
	Login(ctx context.Context, identifier, password string) (*Session, error)
	Logout(ctx context.Context) error
	GetPositions(ctx context.Context) ([]Position, error)
	GetWorkingOrders(ctx context.Context) ([]WorkingOrder, error)
	GetMarketSnapshots(ctx context.Context, epics ...string) ([]MarketSnapshot, error)
	GetActivity(ctx context.Context) ([]Activity, error)
	GetMarket(ctx context.Context, epic string) (*MarketInfo, error)
	SearchMarkets(ctx context.Context, term string) ([]MarketInfo, error)
	SubmitOrder(ctx context.Context, req OrderRequest) (*Confirmation, error)
}

// Config 客户端配置
type Config struct {
	BaseURL        string
	APIKey         string
	Timeout        time.Duration // 单次 HTTP 请求超时
	RetryCount     int           // 只对 GET 生效
	RetryWait      time.Duration
	ActivityPeriod time.Duration // GetActivity 查询的时间范围
	Limiter        *ratelimit.Manager
}

// Client IG REST 客户端，并发安全
type Client struct {
	http           *resty.Client
	limiter        *ratelimit.Manager
	activityPeriod time.Duration
	newDealRef     func() string

	mu            sync.RWMutex
	apiKey        string
	cst           string
	securityToken string
	session       *Session
}

var _ API = (*Client)(nil)

// NewClient 创建客户端
func NewClient(cfg Config) *Client {
	host := strings.TrimSuffix(cfg.BaseURL, "/")
	if host == "" {
		host = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	if cfg.RetryCount < 0 {
		cfg.RetryCount = 0
	}
	if cfg.RetryWait <= 0 {
		cfg.RetryWait = 500 * time.Millisecond
	}
	if cfg.ActivityPeriod <= 0 {
		cfg.ActivityPeriod = 24 * time.Hour
	}
	if cfg.Limiter == nil {
		cfg.Limiter = ratelimit.NewManager()
	}

	hc := resty.New().
		SetBaseURL(host).
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", "application/json; charset=UTF-8").
		SetHeader("Content-Type", "application/json; charset=UTF-8").
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(cfg.RetryWait).
		SetRetryMaxWaitTime(10 * cfg.RetryWait).
		AddRetryCondition(retryIdempotent).
		SetRetryAfter(func(client *resty.Client, resp *resty.Response) (time.Duration, error) {
			// 429 优先使用 Retry-After 头
			if resp != nil && resp.StatusCode() == http.StatusTooManyRequests {
				if retryAfter := resp.Header().Get("Retry-After"); retryAfter != "" {
					if d, err := time.ParseDuration(retryAfter + "s"); err == nil {
						return d, nil
					}
				}
			}
			return 0, nil
		})

	return &Client{
		http:           hc,
		limiter:        cfg.Limiter,
		activityPeriod: cfg.ActivityPeriod,
		newDealRef:     newDealReference,
		apiKey:         strings.TrimSpace(cfg.APIKey),
	}
}

// 下单不能重放，只重试 GET
func retryIdempotent(resp *resty.Response, err error) bool {
	if resp == nil || resp.Request == nil || resp.Request.Method != http.MethodGet {
		return false
	}
	if err != nil {
		return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
	}
	code := resp.StatusCode()
	return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}

// dealReference 限制 30 个字符以内
func newDealReference() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))[:30]
}

// SetAPIKey 更换 API key，同时丢弃旧的会话令牌
func (c *Client) SetAPIKey(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.apiKey = strings.TrimSpace(key)
	c.cst, c.securityToken, c.session = "", "", nil
}

// HasAPIKey 是否已设置 API key
func (c *Client) HasAPIKey() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.apiKey != ""
}

// Session 当前会话，未登录时为 nil
func (c *Client) Session() *Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.session == nil {
		return nil
	}
	s := *c.session
	return &s
}

type call struct {
	bucket    string
	method    string
	path      string
	version   string
	query     map[string]string
	body      interface{}
	out       interface{}
	anonymous bool // 不需要 CST / X-SECURITY-TOKEN
}

func (c *Client) do(ctx context.Context, cl call) (*resty.Response, error) {
	c.mu.RLock()
	apiKey, cst, token := c.apiKey, c.cst, c.securityToken
	c.mu.RUnlock()

	if apiKey == "" {
		return nil, ErrNoAPIKey
	}
	if !cl.anonymous && cst == "" {
		return nil, errors.Wrapf(ErrUnauthorized, "%s %s: not logged in", cl.method, cl.path)
	}
	if err := c.limiter.Wait(ctx, cl.bucket); err != nil {
		return nil, errors.Wrapf(err, "%s %s: rate limit", cl.method, cl.path)
	}

	r := c.http.R().
		SetContext(ctx).
		SetHeader("X-IG-API-KEY", apiKey).
		SetHeader("Version", cl.version)
	if !cl.anonymous {
		r.SetHeader("CST", cst).SetHeader("X-SECURITY-TOKEN", token)
	}
	if len(cl.query) > 0 {
		r.SetQueryParams(cl.query)
	}
	if cl.body != nil {
		r.SetBody(cl.body)
	}
	if cl.out != nil {
		r.SetResult(cl.out)
	}

	start := time.Now()
	resp, err := r.Execute(cl.method, cl.path)
	if err != nil {
		return nil, errors.Wrapf(err, "%s %s", cl.method, cl.path)
	}
	log.WithFields(logrus.Fields{
		"method":  cl.method,
		"path":    cl.path,
		"status":  resp.StatusCode(),
		"elapsed": time.Since(start).Round(time.Millisecond),
	}).Debug("request")

	if !resp.IsSuccess() {
		return resp, parseError(cl.method, cl.path, resp)
	}
	return resp, nil
}

func parseError(method, path string, resp *resty.Response) error {
	apiErr := &APIError{
		Method:     method,
		Path:       path,
		StatusCode: resp.StatusCode(),
		Body:       strings.TrimSpace(string(resp.Body())),
	}
	var body errorResponse
	if err := json.Unmarshal(resp.Body(), &body); err == nil {
		apiErr.Code = body.ErrorCode
	}
	return apiErr
}

// Login POST /session (v2)，保存 CST 和 X-SECURITY-TOKEN
func (c *Client) Login(ctx context.Context, identifier, password string) (*Session, error) {
	var out loginResponse
	resp, err := c.do(ctx, call{
		bucket:    ratelimit.BucketSession,
		method:    http.MethodPost,
		path:      "/session",
		version:   "2",
		body:      loginRequest{Identifier: identifier, Password: password},
		out:       &out,
		anonymous: true,
	})
	if err != nil {
		return nil, err
	}

	cst := resp.Header().Get("CST")
	token := resp.Header().Get("X-SECURITY-TOKEN")
	if cst == "" || token == "" {
		return nil, errors.Wrap(ErrUnauthorized, "login response missing session tokens")
	}

	s := &Session{
		AccountID:       out.CurrentAccountID,
		ClientID:        out.ClientID,
		Currency:        out.CurrencyIsoCode,
		LightstreamerEP: out.LightstreamerEndpoint,
	}
	c.mu.Lock()
	c.cst, c.securityToken, c.session = cst, token, s
	c.mu.Unlock()

	log.WithField("account", s.AccountID).Info("logged in")
	cp := *s
	return &cp, nil
}

// Logout DELETE /session，本地令牌无论成功与否都会清掉
func (c *Client) Logout(ctx context.Context) error {
	c.mu.RLock()
	loggedIn := c.cst != ""
	c.mu.RUnlock()
	if !loggedIn {
		return nil
	}

	_, err := c.do(ctx, call{
		bucket:  ratelimit.BucketSession,
		method:  http.MethodDelete,
		path:    "/session",
		version: "1",
	})

	c.mu.Lock()
	c.cst, c.securityToken, c.session = "", "", nil
	c.mu.Unlock()
	return err
}

// GetPositions GET /positions (v2)
func (c *Client) GetPositions(ctx context.Context) ([]Position, error) {
	var out positionsResponse
	if _, err := c.do(ctx, call{
		bucket:  ratelimit.BucketNonTrading,
		method:  http.MethodGet,
		path:    "/positions",
		version: "2",
		out:     &out,
	}); err != nil {
		return nil, err
	}

	positions := make([]Position, 0, len(out.Positions))
	for _, p := range out.Positions {
		pos := Position{
			DealID:         p.Position.DealID,
			Epic:           p.Market.Epic,
			InstrumentName: p.Market.InstrumentName,
			Direction:      p.Position.Direction,
			Size:           p.Position.Size,
			Level:          p.Position.Level,
			Currency:       p.Position.Currency,
			Bid:            p.Market.Bid,
			Offer:          p.Market.Offer,
		}
		pos.ProfitLoss = ProfitLoss(pos)
		positions = append(positions, pos)
	}
	return positions, nil
}

// ProfitLoss 按平仓价估算盈亏：多头用 bid，空头用 offer
func ProfitLoss(p Position) decimal.Decimal {
	switch p.Direction {
	case Buy:
		if p.Bid.Valid {
			return p.Bid.Decimal.Sub(p.Level).Mul(p.Size)
		}
	case Sell:
		if p.Offer.Valid {
			return p.Level.Sub(p.Offer.Decimal).Mul(p.Size)
		}
	}
	return decimal.Zero
}

// GetWorkingOrders GET /workingorders (v2)
func (c *Client) GetWorkingOrders(ctx context.Context) ([]WorkingOrder, error) {
	var out workingOrdersResponse
	if _, err := c.do(ctx, call{
		bucket:  ratelimit.BucketNonTrading,
		method:  http.MethodGet,
		path:    "/workingorders",
		version: "2",
		out:     &out,
	}); err != nil {
		return nil, err
	}

	orders := make([]WorkingOrder, 0, len(out.WorkingOrders))
	for _, o := range out.WorkingOrders {
		d := o.WorkingOrderData
		epic := d.Epic
		if epic == "" {
			epic = o.MarketData.Epic
		}
		orders = append(orders, WorkingOrder{
			DealID:         d.DealID,
			Epic:           epic,
			InstrumentName: o.MarketData.InstrumentName,
			Direction:      d.Direction,
			OrderType:      d.OrderType,
			Size:           d.OrderSize,
			Level:          d.OrderLevel,
			Currency:       d.CurrencyCode,
		})
	}
	return orders, nil
}

// GetMarketSnapshots GET /markets?epics= (v2)。返回顺序以服务端为准
func (c *Client) GetMarketSnapshots(ctx context.Context, epics ...string) ([]MarketSnapshot, error) {
	if len(epics) == 0 {
		return nil, nil
	}
	var out marketDetailsResponse
	if _, err := c.do(ctx, call{
		bucket:  ratelimit.BucketNonTrading,
		method:  http.MethodGet,
		path:    "/markets",
		version: "2",
		query:   map[string]string{"epics": strings.Join(epics, ",")},
		out:     &out,
	}); err != nil {
		return nil, err
	}

	snapshots := make([]MarketSnapshot, 0, len(out.MarketDetails))
	for _, m := range out.MarketDetails {
		snapshots = append(snapshots, MarketSnapshot{
			Epic:   m.Instrument.Epic,
			Name:   m.Instrument.Name,
			Status: m.Snapshot.MarketStatus,
			Low:    m.Snapshot.Low,
			High:   m.Snapshot.High,
			Bid:    m.Snapshot.Bid,
			Offer:  m.Snapshot.Offer,
		})
	}
	return snapshots, nil
}

// GetActivity GET /history/activity/{ms} (v1)
func (c *Client) GetActivity(ctx context.Context) ([]Activity, error) {
	var out activityResponse
	if _, err := c.do(ctx, call{
		bucket:  ratelimit.BucketNonTrading,
		method:  http.MethodGet,
		path:    fmt.Sprintf("/history/activity/%d", c.activityPeriod.Milliseconds()),
		version: "1",
		out:     &out,
	}); err != nil {
		return nil, err
	}

	activities := make([]Activity, 0, len(out.Activities))
	for _, a := range out.Activities {
		activities = append(activities, Activity{
			Date:       string(a.Date),
			Type:       string(a.Activity),
			Epic:       string(a.Epic),
			MarketName: string(a.MarketName),
			Size:       string(a.Size),
			Currency:   string(a.Currency),
			Level:      string(a.Level),
			Status:     string(a.ActionStatus),
			DealID:     string(a.DealID),
		})
	}
	return activities, nil
}

// GetMarket GET /markets/{epic} (v3)。未知 epic 返回 ErrMarketNotFound，格式错误返回 ErrBadRequest
func (c *Client) GetMarket(ctx context.Context, epic string) (*MarketInfo, error) {
	epic = strings.TrimSpace(epic)
	if epic == "" {
		return nil, errors.Wrap(ErrBadRequest, "empty epic")
	}
	var out marketResponse
	if _, err := c.do(ctx, call{
		bucket:  ratelimit.BucketNonTrading,
		method:  http.MethodGet,
		path:    "/markets/" + url.PathEscape(epic),
		version: "3",
		out:     &out,
	}); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, errors.Wrapf(ErrMarketNotFound, "epic %s", epic)
		}
		return nil, err
	}

	info := &MarketInfo{
		Epic:           out.Instrument.Epic,
		InstrumentName: out.Instrument.Name,
		InstrumentType: out.Instrument.Type,
		Expiry:         out.Instrument.Expiry,
		Status:         out.Snapshot.MarketStatus,
		Bid:            out.Snapshot.Bid,
		Offer:          out.Snapshot.Offer,
	}
	if info.Epic == "" {
		info.Epic = epic
	}
	for _, cur := range out.Instrument.Currencies {
		info.Currencies = append(info.Currencies, cur.Code)
	}
	return info, nil
}

// SearchMarkets GET /markets?searchTerm= (v1)
func (c *Client) SearchMarkets(ctx context.Context, term string) ([]MarketInfo, error) {
	var out searchResponse
	if _, err := c.do(ctx, call{
		bucket:  ratelimit.BucketNonTrading,
		method:  http.MethodGet,
		path:    "/markets",
		version: "1",
		query:   map[string]string{"searchTerm": term},
		out:     &out,
	}); err != nil {
		return nil, err
	}

	markets := make([]MarketInfo, 0, len(out.Markets))
	for _, m := range out.Markets {
		markets = append(markets, MarketInfo{
			Epic:           m.Epic,
			InstrumentName: m.InstrumentName,
			InstrumentType: m.InstrumentType,
			Expiry:         m.Expiry,
			Status:         m.MarketStatus,
			Bid:            m.Bid,
			Offer:          m.Offer,
		})
	}
	return markets, nil
}

// SubmitOrder POST /positions/otc (v2)，再用 dealReference 查询 /confirms
func (c *Client) SubmitOrder(ctx context.Context, req OrderRequest) (*Confirmation, error) {
	if req.Direction != Buy && req.Direction != Sell {
		return nil, errors.Errorf("invalid direction %q", req.Direction)
	}
	if strings.TrimSpace(req.Epic) == "" {
		return nil, errors.New("epic is required")
	}
	if !req.Size.IsPositive() {
		return nil, errors.Errorf("size must be positive, got %s", req.Size)
	}
	if strings.TrimSpace(req.Currency) == "" {
		return nil, errors.New("currency is required")
	}
	if req.OrderType == "" {
		req.OrderType = OrderTypeMarket
	}
	if req.Expiry == "" {
		req.Expiry = "-"
	}

	ref := c.newDealRef()
	var placed dealReferenceResponse
	if _, err := c.do(ctx, call{
		bucket:  ratelimit.BucketTrading,
		method:  http.MethodPost,
		path:    "/positions/otc",
		version: "2",
		body: otcOrderRequest{
			Epic:          req.Epic,
			Expiry:        req.Expiry,
			Direction:     req.Direction,
			Size:          json.Number(req.Size.String()),
			OrderType:     req.OrderType,
			CurrencyCode:  req.Currency,
			ForceOpen:     true,
			DealReference: ref,
		},
		out: &placed,
	}); err != nil {
		return nil, err
	}
	if placed.DealReference != "" {
		ref = placed.DealReference
	}
	log.WithFields(logrus.Fields{
		"epic":      req.Epic,
		"direction": req.Direction,
		"size":      req.Size.String(),
		"reference": ref,
	}).Info("order submitted")

	var conf confirmResponse
	if _, err := c.do(ctx, call{
		bucket:  ratelimit.BucketTrading,
		method:  http.MethodGet,
		path:    "/confirms/" + url.PathEscape(ref),
		version: "1",
		out:     &conf,
	}); err != nil {
		return nil, errors.Wrapf(err, "confirm %s", ref)
	}

	out := &Confirmation{
		DealReference: ref,
		DealID:        conf.DealID,
		DealStatus:    conf.DealStatus,
		Reason:        conf.Reason,
		Epic:          conf.Epic,
		Direction:     conf.Direction,
		Size:          conf.Size,
		Level:         conf.Level,
	}
	if conf.DealReference != "" {
		out.DealReference = conf.DealReference
	}
	return out, nil
}
