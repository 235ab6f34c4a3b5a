package igapi

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"
)

// Direction 交易方向
type Direction string

const (
	Buy  Direction = "BUY"
	Sell Direction = "SELL"
)

// 下单类型
const (
	OrderTypeMarket = "MARKET"
	OrderTypeLimit  = "LIMIT"
)

// 成交确认状态
const (
	DealAccepted = "ACCEPTED"
	DealRejected = "REJECTED"
)

// Session 登录后的账户信息
type Session struct {
	AccountID       string
	ClientID        string
	Currency        string
	LightstreamerEP string
}

// Position 持仓，ProfitLoss 按当前买卖价计算
type Position struct {
	DealID         string
	Epic           string
	InstrumentName string
	Direction      Direction
	Size           decimal.Decimal
	Level          decimal.Decimal
	Currency       string
	Bid            decimal.NullDecimal
	Offer          decimal.NullDecimal
	ProfitLoss     decimal.Decimal
}

// WorkingOrder 挂单
type WorkingOrder struct {
	DealID         string
	Epic           string
	InstrumentName string
	Direction      Direction
	OrderType      string
	Size           decimal.Decimal
	Level          decimal.Decimal
	Currency       string
}

// MarketSnapshot 跟踪市场的快照，缺失的价格字段 Valid=false
type MarketSnapshot struct {
	Epic   string
	Name   string
	Status string
	Low    decimal.NullDecimal
	High   decimal.NullDecimal
	Bid    decimal.NullDecimal
	Offer  decimal.NullDecimal
}

// Activity 账户活动记录。字段保持服务端原样，只用于展示
type Activity struct {
	Date       string
	Type       string
	Epic       string
	MarketName string
	Size       string
	Currency   string
	Level      string
	Status     string
	DealID     string
}

// MarketInfo 单个市场的信息（GetMarket / SearchMarkets）
type MarketInfo struct {
	Epic           string
	InstrumentName string
	InstrumentType string
	Expiry         string
	Status         string
	Currencies     []string
	Bid            decimal.NullDecimal
	Offer          decimal.NullDecimal
}

// OrderRequest 下单参数
type OrderRequest struct {
	Direction Direction
	OrderType string
	Epic      string
	Size      decimal.Decimal
	Currency  string
	Expiry    string // 为空时使用 "-"
}

// Confirmation 成交确认
type Confirmation struct {
	DealReference string
	DealID        string
	DealStatus    string
	Reason        string
	Epic          string
	Direction     Direction
	Size          decimal.Decimal
	Level         decimal.NullDecimal
}

// Accepted 是否被接受
func (c *Confirmation) Accepted() bool {
	return c != nil && c.DealStatus == DealAccepted
}

// flexString 兼容服务端有时返回数字、有时返回字符串的字段
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	*f = flexString(strings.TrimSpace(string(b)))
	return nil
}

// 以下是服务端 JSON 结构

type loginRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

type loginResponse struct {
	CurrentAccountID      string `json:"currentAccountId"`
	ClientID              string `json:"clientId"`
	CurrencyIsoCode       string `json:"currencyIsoCode"`
	LightstreamerEndpoint string `json:"lightstreamerEndpoint"`
}

type positionsResponse struct {
	Positions []struct {
		Position struct {
			DealID    string          `json:"dealId"`
			Direction Direction       `json:"direction"`
			Size      decimal.Decimal `json:"size"`
			Level     decimal.Decimal `json:"level"`
			Currency  string          `json:"currency"`
		} `json:"position"`
		Market struct {
			Epic           string              `json:"epic"`
			InstrumentName string              `json:"instrumentName"`
			Bid            decimal.NullDecimal `json:"bid"`
			Offer          decimal.NullDecimal `json:"offer"`
		} `json:"market"`
	} `json:"positions"`
}

type workingOrdersResponse struct {
	WorkingOrders []struct {
		WorkingOrderData struct {
			DealID       string          `json:"dealId"`
			Direction    Direction       `json:"direction"`
			Epic         string          `json:"epic"`
			OrderType    string          `json:"orderType"`
			OrderSize    decimal.Decimal `json:"orderSize"`
			OrderLevel   decimal.Decimal `json:"orderLevel"`
			CurrencyCode string          `json:"currencyCode"`
		} `json:"workingOrderData"`
		MarketData struct {
			Epic           string `json:"epic"`
			InstrumentName string `json:"instrumentName"`
		} `json:"marketData"`
	} `json:"workingOrders"`
}

type snapshotBody struct {
	MarketStatus string              `json:"marketStatus"`
	Bid          decimal.NullDecimal `json:"bid"`
	Offer        decimal.NullDecimal `json:"offer"`
	High         decimal.NullDecimal `json:"high"`
	Low          decimal.NullDecimal `json:"low"`
}

type instrumentBody struct {
	Epic       string `json:"epic"`
	Name       string `json:"name"`
	Type       string `json:"type"`
	Expiry     string `json:"expiry"`
	Currencies []struct {
		Code      string `json:"code"`
		IsDefault bool   `json:"isDefault"`
	} `json:"currencies"`
}

type marketDetailsResponse struct {
	MarketDetails []marketResponse `json:"marketDetails"`
}

type marketResponse struct {
	Instrument instrumentBody `json:"instrument"`
	Snapshot   snapshotBody   `json:"snapshot"`
}

type activityResponse struct {
	Activities []struct {
		Date         flexString `json:"date"`
		Activity     flexString `json:"activity"`
		Epic         flexString `json:"epic"`
		MarketName   flexString `json:"marketName"`
		Size         flexString `json:"size"`
		Currency     flexString `json:"currency"`
		Level        flexString `json:"level"`
		ActionStatus flexString `json:"actionStatus"`
		DealID       flexString `json:"dealId"`
	} `json:"activities"`
}

type searchResponse struct {
	Markets []struct {
		Epic           string              `json:"epic"`
		InstrumentName string              `json:"instrumentName"`
		InstrumentType string              `json:"instrumentType"`
		Expiry         string              `json:"expiry"`
		MarketStatus   string              `json:"marketStatus"`
		Bid            decimal.NullDecimal `json:"bid"`
		Offer          decimal.NullDecimal `json:"offer"`
	} `json:"markets"`
}

type otcOrderRequest struct {
	Epic           string      `json:"epic"`
	Expiry         string      `json:"expiry"`
	Direction      Direction   `json:"direction"`
	Size           json.Number `json:"size"` // 服务端要求数字而不是字符串
	OrderType      string      `json:"orderType"`
	CurrencyCode   string      `json:"currencyCode"`
	ForceOpen      bool        `json:"forceOpen"`
	GuaranteedStop bool        `json:"guaranteedStop"`
	DealReference  string      `json:"dealReference"`
}

type dealReferenceResponse struct {
	DealReference string `json:"dealReference"`
}

type confirmResponse struct {
	DealReference string              `json:"dealReference"`
	DealID        string              `json:"dealId"`
	DealStatus    string              `json:"dealStatus"`
	Reason        string              `json:"reason"`
	Epic          string              `json:"epic"`
	Direction     Direction           `json:"direction"`
	Size          decimal.Decimal     `json:"size"`
	Level         decimal.NullDecimal `json:"level"`
}

type errorResponse struct {
	ErrorCode string `json:"errorCode"`
}
