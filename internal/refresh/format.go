package refresh

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/betbot/igcli/pkg/igapi"
)

// BannerWidth 标题栏宽度
const BannerWidth = 60

// 标题
const (
	PositionsTitle = " POSITIONS "
	OrdersTitle    = " ORDERS "
	TrackersTitle  = " TRACKERS "
)

// 每行的固定列格式
const (
	positionLine = "%-4s %-15s %5s %-3s @ %10s || %10s"
	orderLine    = "%-4s %-15s %5s %-3s @ %10s "
	trackerLine  = "%-15s || %9s | %9s || %9s | %9s"
	activityLine = "%s %-15s %-10s %5s %-3s @ %10s || %10s"
	missingField = "-"
)

// Banner 标题居中，两侧用 '-' 填充；填充为奇数时右侧多一个
func Banner(title string) string {
	n := len([]rune(title))
	if n >= BannerWidth {
		return title
	}
	fill := BannerWidth - n
	left := fill / 2
	return strings.Repeat("-", left) + title + strings.Repeat("-", fill-left)
}

func withHeader(title string, lines []string) string {
	return Banner(title) + "\n" + strings.Join(lines, "\n")
}

func fixed2(d decimal.Decimal) string {
	return d.StringFixed(2)
}

func orDash(d decimal.NullDecimal) string {
	if !d.Valid {
		return missingField
	}
	return d.Decimal.String()
}

// FormatPosition 单个持仓
func FormatPosition(p igapi.Position) string {
	return fmt.Sprintf(positionLine,
		p.Direction, p.InstrumentName, fixed2(p.Size), p.Currency, fixed2(p.Level), fixed2(p.ProfitLoss))
}

// FormatPositions 持仓面板
func FormatPositions(positions []igapi.Position) string {
	lines := make([]string, 0, len(positions))
	for _, p := range positions {
		lines = append(lines, FormatPosition(p))
	}
	return withHeader(PositionsTitle, lines)
}

// FormatOrder 单个挂单
func FormatOrder(o igapi.WorkingOrder) string {
	return fmt.Sprintf(orderLine, o.Direction, o.InstrumentName, fixed2(o.Size), o.Currency, fixed2(o.Level))
}

// FormatOrders 挂单面板
func FormatOrders(orders []igapi.WorkingOrder) string {
	lines := make([]string, 0, len(orders))
	for _, o := range orders {
		lines = append(lines, FormatOrder(o))
	}
	return withHeader(OrdersTitle, lines)
}

// FormatTracker 单个跟踪市场，缺失的价格显示为 "-"
func FormatTracker(s igapi.MarketSnapshot) string {
	name := s.Name
	if name == "" {
		name = s.Epic
	}
	return fmt.Sprintf(trackerLine, name, orDash(s.Low), orDash(s.High), orDash(s.Bid), orDash(s.Offer))
}

// FormatTrackers 跟踪面板。按服务端返回的列表逐行输出
func FormatTrackers(snapshots []igapi.MarketSnapshot) string {
	lines := make([]string, 0, len(snapshots))
	for _, s := range snapshots {
		lines = append(lines, FormatTracker(s))
	}
	return withHeader(TrackersTitle, lines)
}

// FormatActivity 单条活动记录
func FormatActivity(a igapi.Activity) string {
	return fmt.Sprintf(activityLine, a.Date, a.Type, a.MarketName, a.Size, a.Currency, a.Level, a.Status)
}

// FormatActivities 活动面板，没有标题栏
func FormatActivities(activities []igapi.Activity) string {
	lines := make([]string, 0, len(activities))
	for _, a := range activities {
		lines = append(lines, FormatActivity(a))
	}
	return strings.Join(lines, "\n")
}
