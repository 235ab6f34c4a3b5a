package igapi

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// MockClient is an in-memory API for tests.
type MockClient struct {
	mu sync.RWMutex

	APIKey        string
	Password      string // empty accepts any password
	LoggedIn      bool
	Positions     []Position
	WorkingOrders []WorkingOrder
	Snapshots     map[string]MarketSnapshot
	Activities    []Activity
	Markets       map[string]MarketInfo // epics known to GetMarket
	BadEpics      map[string]bool       // epics GetMarket answers with ErrBadRequest
	Orders        []OrderRequest

	// Call tracking
	Calls map[string]int
	// Epics passed to each GetMarketSnapshots call
	SnapshotRequests [][]string

	// Error injection
	ErrorOnNext map[string]error
	// Hooks run before a call returns, e.g. to block a tick in flight
	Hooks map[string]func(ctx context.Context)
}

var _ API = (*MockClient)(nil)

// NewMockClient creates a new mock client
func NewMockClient() *MockClient {
	return &MockClient{
		Snapshots:   make(map[string]MarketSnapshot),
		Markets:     make(map[string]MarketInfo),
		BadEpics:    make(map[string]bool),
		Calls:       make(map[string]int),
		ErrorOnNext: make(map[string]error),
		Hooks:       make(map[string]func(ctx context.Context)),
	}
}

// AddMarket registers an epic with a snapshot.
func (m *MockClient) AddMarket(epic, name string, bid, offer float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b := decimal.NewNullDecimal(decimal.NewFromFloat(bid))
	o := decimal.NewNullDecimal(decimal.NewFromFloat(offer))
	m.Markets[epic] = MarketInfo{Epic: epic, InstrumentName: name, Bid: b, Offer: o, Status: "TRADEABLE"}
	m.Snapshots[epic] = MarketSnapshot{Epic: epic, Name: name, Bid: b, Offer: o, Status: "TRADEABLE"}
}

// SetPositions replaces the open positions.
func (m *MockClient) SetPositions(positions ...Position) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Positions = positions
}

// CallCount returns how many times name was called.
func (m *MockClient) CallCount(name string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.Calls[name]
}

// SetError injects an error returned by the next call to name.
func (m *MockClient) SetError(name string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ErrorOnNext[name] = err
}

// SetHook installs fn to run inside every call to name.
func (m *MockClient) SetHook(name string, fn func(ctx context.Context)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Hooks[name] = fn
}

func (m *MockClient) trackCall(ctx context.Context, name string) error {
	m.mu.Lock()
	m.Calls[name]++
	hook := m.Hooks[name]
	err, ok := m.ErrorOnNext[name]
	if ok {
		delete(m.ErrorOnNext, name)
	}
	m.mu.Unlock()

	if hook != nil {
		hook(ctx)
	}
	if ok {
		return err
	}
	return nil
}

func (m *MockClient) requireSession() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.APIKey == "" {
		return ErrNoAPIKey
	}
	if !m.LoggedIn {
		return ErrUnauthorized
	}
	return nil
}

func (m *MockClient) SetAPIKey(key string) {
	m.trackCall(context.Background(), "SetAPIKey")
	m.mu.Lock()
	defer m.mu.Unlock()
	m.APIKey = strings.TrimSpace(key)
	m.LoggedIn = false
}

func (m *MockClient) HasAPIKey() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.APIKey != ""
}

func (m *MockClient) Login(ctx context.Context, identifier, password string) (*Session, error) {
	if err := m.trackCall(ctx, "Login"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.APIKey == "" {
		return nil, ErrNoAPIKey
	}
	if m.Password != "" && password != m.Password {
		return nil, &APIError{Method: "POST", Path: "/session", StatusCode: 401, Code: "error.security.invalid-details"}
	}
	m.LoggedIn = true
	return &Session{AccountID: "ACC-" + identifier, Currency: "USD"}, nil
}

func (m *MockClient) Logout(ctx context.Context) error {
	err := m.trackCall(ctx, "Logout")
	m.mu.Lock()
	m.LoggedIn = false
	m.mu.Unlock()
	return err
}

func (m *MockClient) GetPositions(ctx context.Context) ([]Position, error) {
	if err := m.trackCall(ctx, "GetPositions"); err != nil {
		return nil, err
	}
	if err := m.requireSession(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Position(nil), m.Positions...), nil
}

func (m *MockClient) GetWorkingOrders(ctx context.Context) ([]WorkingOrder, error) {
	if err := m.trackCall(ctx, "GetWorkingOrders"); err != nil {
		return nil, err
	}
	if err := m.requireSession(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]WorkingOrder(nil), m.WorkingOrders...), nil
}

// GetMarketSnapshots skips unknown epics, like the server does.
func (m *MockClient) GetMarketSnapshots(ctx context.Context, epics ...string) ([]MarketSnapshot, error) {
	if err := m.trackCall(ctx, "GetMarketSnapshots"); err != nil {
		return nil, err
	}
	if err := m.requireSession(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SnapshotRequests = append(m.SnapshotRequests, append([]string(nil), epics...))
	out := make([]MarketSnapshot, 0, len(epics))
	for _, epic := range epics {
		if s, ok := m.Snapshots[epic]; ok {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *MockClient) GetActivity(ctx context.Context) ([]Activity, error) {
	if err := m.trackCall(ctx, "GetActivity"); err != nil {
		return nil, err
	}
	if err := m.requireSession(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Activity(nil), m.Activities...), nil
}

func (m *MockClient) GetMarket(ctx context.Context, epic string) (*MarketInfo, error) {
	if err := m.trackCall(ctx, "GetMarket"); err != nil {
		return nil, err
	}
	if err := m.requireSession(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.BadEpics[epic] {
		return nil, errors.Wrapf(ErrBadRequest, "epic %s", epic)
	}
	info, ok := m.Markets[epic]
	if !ok {
		return nil, errors.Wrapf(ErrMarketNotFound, "epic %s", epic)
	}
	return &info, nil
}

func (m *MockClient) SearchMarkets(ctx context.Context, term string) ([]MarketInfo, error) {
	if err := m.trackCall(ctx, "SearchMarkets"); err != nil {
		return nil, err
	}
	if err := m.requireSession(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	term = strings.ToLower(term)
	var out []MarketInfo
	for _, info := range m.Markets {
		if strings.Contains(strings.ToLower(info.InstrumentName), term) || strings.Contains(strings.ToLower(info.Epic), term) {
			out = append(out, info)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Epic < out[j].Epic })
	return out, nil
}

func (m *MockClient) SubmitOrder(ctx context.Context, req OrderRequest) (*Confirmation, error) {
	if err := m.trackCall(ctx, "SubmitOrder"); err != nil {
		return nil, err
	}
	if err := m.requireSession(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Orders = append(m.Orders, req)
	conf := &Confirmation{
		DealReference: fmt.Sprintf("REF%04d", len(m.Orders)),
		DealID:        "DEAL-" + req.Epic,
		DealStatus:    DealAccepted,
		Epic:          req.Epic,
		Direction:     req.Direction,
		Size:          req.Size,
	}
	if info, ok := m.Markets[req.Epic]; ok {
		if req.Direction == Buy {
			conf.Level = info.Offer
		} else {
			conf.Level = info.Bid
		}
	}
	return conf, nil
}
