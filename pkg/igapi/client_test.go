package igapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeIG struct {
	t          *testing.T
	marketHits atomic.Int32
	orderBody  atomic.Value
}

func (f *fakeIG) handler() http.Handler {
	mux := http.NewServeMux()
	authed := func(w http.ResponseWriter, r *http.Request) bool {
		if r.Header.Get("X-IG-API-KEY") != "key" {
			w.WriteHeader(http.StatusForbidden)
			io.WriteString(w, `{"errorCode":"error.security.api-key-invalid"}`)
			return false
		}
		if r.Header.Get("CST") != "cst-1" || r.Header.Get("X-SECURITY-TOKEN") != "xst-1" {
			w.WriteHeader(http.StatusUnauthorized)
			io.WriteString(w, `{"errorCode":"error.security.client-token-invalid"}`)
			return false
		}
		return true
	}

	mux.HandleFunc("/session", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			assert.Equal(f.t, "2", r.Header.Get("Version"))
			var body loginRequest
			require.NoError(f.t, json.NewDecoder(r.Body).Decode(&body))
			if body.Password != "pwd" {
				w.WriteHeader(http.StatusUnauthorized)
				io.WriteString(w, `{"errorCode":"error.security.invalid-details"}`)
				return
			}
			w.Header().Set("CST", "cst-1")
			w.Header().Set("X-SECURITY-TOKEN", "xst-1")
			w.Header().Set("Content-Type", "application/json")
			io.WriteString(w, `{"currentAccountId":"ABC123","clientId":"C1","currencyIsoCode":"GBP"}`)
		case http.MethodDelete:
			if authed(w, r) {
				w.WriteHeader(http.StatusNoContent)
			}
		}
	})
	mux.HandleFunc("/positions", func(w http.ResponseWriter, r *http.Request) {
		if !authed(w, r) {
			return
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"positions":[
			{"position":{"dealId":"D1","direction":"BUY","size":1.5,"level":1800.1234,"currency":"USD"},
			 "market":{"epic":"CS.D.USCGC.TODAY.IP","instrumentName":"Gold","bid":1808.45,"offer":1808.75}},
			{"position":{"dealId":"D2","direction":"SELL","size":2,"level":100,"currency":"GBP"},
			 "market":{"epic":"IX.D.FTSE.DAILY.IP","instrumentName":"FTSE 100","bid":null,"offer":99.5}}]}`)
	})
	mux.HandleFunc("/workingorders", func(w http.ResponseWriter, r *http.Request) {
		if !authed(w, r) {
			return
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"workingOrders":[{"workingOrderData":{"dealId":"W1","direction":"SELL","epic":"E1",
			"orderType":"LIMIT","orderSize":3,"orderLevel":7200.5,"currencyCode":"GBP"},
			"marketData":{"instrumentName":"FTSE 100"}}]}`)
	})
	mux.HandleFunc("/markets", func(w http.ResponseWriter, r *http.Request) {
		if !authed(w, r) {
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if term := r.URL.Query().Get("searchTerm"); term != "" {
			assert.Equal(f.t, "1", r.Header.Get("Version"))
			io.WriteString(w, `{"markets":[{"epic":"CS.D.USCGC.TODAY.IP","instrumentName":"Spot Gold","bid":1.5,"offer":null}]}`)
			return
		}
		assert.Equal(f.t, "A,B", r.URL.Query().Get("epics"))
		io.WriteString(w, `{"marketDetails":[
			{"instrument":{"epic":"B","name":"Bravo"},"snapshot":{"low":1,"high":2,"bid":1.5,"offer":1.6}},
			{"instrument":{"epic":"A","name":"Alpha"},"snapshot":{"low":null,"high":null,"bid":null,"offer":null}}]}`)
	})
	mux.HandleFunc("/markets/", func(w http.ResponseWriter, r *http.Request) {
		if !authed(w, r) {
			return
		}
		f.marketHits.Add(1)
		assert.Equal(f.t, "3", r.Header.Get("Version"))
		switch r.URL.Path {
		case "/markets/GOOD":
			w.Header().Set("Content-Type", "application/json")
			io.WriteString(w, `{"instrument":{"epic":"GOOD","name":"Good","type":"CURRENCIES","currencies":[{"code":"USD"}]},
				"snapshot":{"marketStatus":"TRADEABLE","bid":1,"offer":2}}`)
		case "/markets/MISSING":
			w.WriteHeader(http.StatusNotFound)
			io.WriteString(w, `{"errorCode":"error.service.marketdata.instrument.epic.unavailable"}`)
		case "/markets/FLAKY":
			w.WriteHeader(http.StatusServiceUnavailable)
		default:
			w.WriteHeader(http.StatusBadRequest)
			io.WriteString(w, `{"errorCode":"invalid.epic"}`)
		}
	})
	mux.HandleFunc("/history/activity/", func(w http.ResponseWriter, r *http.Request) {
		if !authed(w, r) {
			return
		}
		assert.Equal(f.t, "/history/activity/3600000", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"activities":[{"date":"10/16/26","activity":"POSITION","marketName":"Gold",
			"size":"+1.5","currency":"$","level":1800.1,"actionStatus":"ACCEPT"}]}`)
	})
	mux.HandleFunc("/positions/otc", func(w http.ResponseWriter, r *http.Request) {
		if !authed(w, r) {
			return
		}
		b, _ := io.ReadAll(r.Body)
		f.orderBody.Store(string(b))
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"dealReference":"REF1"}`)
	})
	mux.HandleFunc("/confirms/REF1", func(w http.ResponseWriter, r *http.Request) {
		if !authed(w, r) {
			return
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"dealReference":"REF1","dealId":"DEAL1","dealStatus":"ACCEPTED","epic":"GOOD",
			"direction":"BUY","size":2,"level":2}`)
	})
	return mux
}

func newTestClient(t *testing.T) (*Client, *fakeIG) {
	f := &fakeIG{t: t}
	srv := httptest.NewServer(f.handler())
	t.Cleanup(srv.Close)
	c := NewClient(Config{
		BaseURL:        srv.URL + "/",
		APIKey:         "key",
		RetryCount:     2,
		RetryWait:      time.Millisecond,
		ActivityPeriod: time.Hour,
	})
	return c, f
}

func login(t *testing.T, c *Client) {
	s, err := c.Login(context.Background(), "user", "pwd")
	require.NoError(t, err)
	assert.Equal(t, "ABC123", s.AccountID)
	assert.Equal(t, "GBP", s.Currency)
}

func TestRequiresAPIKeyAndSession(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	_, err := c.GetPositions(ctx)
	assert.True(t, errors.Is(err, ErrUnauthorized))

	c.SetAPIKey("")
	assert.False(t, c.HasAPIKey())
	_, err = c.Login(ctx, "user", "pwd")
	assert.Equal(t, ErrNoAPIKey, err)
}

func TestLoginFailure(t *testing.T) {
	c, _ := newTestClient(t)
	_, err := c.Login(context.Background(), "user", "wrong")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnauthorized))

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "error.security.invalid-details", apiErr.Code)
	assert.Nil(t, c.Session())
}

func TestPositionsComputeProfitLoss(t *testing.T) {
	c, _ := newTestClient(t)
	login(t, c)

	positions, err := c.GetPositions(context.Background())
	require.NoError(t, err)
	require.Len(t, positions, 2)

	gold := positions[0]
	assert.Equal(t, "Gold", gold.InstrumentName)
	assert.Equal(t, Buy, gold.Direction)
	assert.True(t, gold.ProfitLoss.Equal(decimal.RequireFromString("12.4899")), gold.ProfitLoss.String())

	// 空头只看 offer，bid 缺失不影响
	assert.True(t, positions[1].ProfitLoss.Equal(decimal.NewFromInt(1)))
}

func TestWorkingOrders(t *testing.T) {
	c, _ := newTestClient(t)
	login(t, c)
	orders, err := c.GetWorkingOrders(context.Background())
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, "FTSE 100", orders[0].InstrumentName)
	assert.Equal(t, "7200.5", orders[0].Level.String())
}

func TestSnapshotsKeepServerOrderAndNulls(t *testing.T) {
	c, _ := newTestClient(t)
	login(t, c)

	snaps, err := c.GetMarketSnapshots(context.Background())
	require.NoError(t, err)
	assert.Empty(t, snaps)

	snaps, err = c.GetMarketSnapshots(context.Background(), "A", "B")
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	assert.Equal(t, "Bravo", snaps[0].Name)
	assert.True(t, snaps[0].Bid.Valid)
	assert.False(t, snaps[1].Low.Valid)
	assert.False(t, snaps[1].Offer.Valid)
}

func TestGetMarketErrors(t *testing.T) {
	c, f := newTestClient(t)
	login(t, c)
	ctx := context.Background()

	info, err := c.GetMarket(ctx, "GOOD")
	require.NoError(t, err)
	assert.Equal(t, "Good", info.InstrumentName)
	assert.Equal(t, []string{"USD"}, info.Currencies)

	_, err = c.GetMarket(ctx, "MISSING")
	assert.True(t, errors.Is(err, ErrMarketNotFound))
	assert.True(t, IsMarketRejected(err))

	_, err = c.GetMarket(ctx, "bad epic")
	assert.True(t, errors.Is(err, ErrBadRequest))
	assert.True(t, IsMarketRejected(err))

	before := f.marketHits.Load()
	_, err = c.GetMarket(ctx, "FLAKY")
	require.Error(t, err)
	assert.False(t, IsMarketRejected(err))
	assert.Equal(t, int32(3), f.marketHits.Load()-before, "GET 在 5xx 时重试")
}

func TestActivityAndSearch(t *testing.T) {
	c, _ := newTestClient(t)
	login(t, c)

	acts, err := c.GetActivity(context.Background())
	require.NoError(t, err)
	require.Len(t, acts, 1)
	assert.Equal(t, Activity{Date: "10/16/26", Type: "POSITION", MarketName: "Gold", Size: "+1.5",
		Currency: "$", Level: "1800.1", Status: "ACCEPT"}, acts[0])

	markets, err := c.SearchMarkets(context.Background(), "gold")
	require.NoError(t, err)
	require.Len(t, markets, 1)
	assert.Equal(t, "CS.D.USCGC.TODAY.IP", markets[0].Epic)
}

func TestSubmitOrder(t *testing.T) {
	c, f := newTestClient(t)
	login(t, c)

	_, err := c.SubmitOrder(context.Background(), OrderRequest{Direction: Buy, Epic: "GOOD", Size: decimal.Zero, Currency: "USD"})
	assert.Error(t, err)

	conf, err := c.SubmitOrder(context.Background(), OrderRequest{
		Direction: Buy,
		Epic:      "GOOD",
		Size:      decimal.NewFromInt(2),
		Currency:  "USD",
	})
	require.NoError(t, err)
	assert.True(t, conf.Accepted())
	assert.Equal(t, "DEAL1", conf.DealID)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(f.orderBody.Load().(string)), &body))
	assert.Equal(t, float64(2), body["size"])
	assert.Equal(t, "MARKET", body["orderType"])
	assert.Equal(t, "-", body["expiry"])
	assert.LessOrEqual(t, len(body["dealReference"].(string)), 30)
}

func TestLogoutClearsSession(t *testing.T) {
	c, _ := newTestClient(t)
	login(t, c)
	require.NoError(t, c.Logout(context.Background()))
	assert.Nil(t, c.Session())

	_, err := c.GetPositions(context.Background())
	assert.True(t, errors.Is(err, ErrUnauthorized))
	assert.NoError(t, c.Logout(context.Background()))
}
