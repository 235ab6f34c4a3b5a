package refresh

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/igcli/internal/display"
	"github.com/betbot/igcli/pkg/igapi"
)

type staticTracked struct {
	mu   sync.Mutex
	list []string
}

func (s *staticTracked) Tracked() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.list...)
}

func loggedInMock() *igapi.MockClient {
	m := igapi.NewMockClient()
	m.SetAPIKey("key")
	_, _ = m.Login(context.Background(), "user", "pwd")
	return m
}

func TestBanner(t *testing.T) {
	b := Banner(PositionsTitle)
	assert.Len(t, b, BannerWidth)
	assert.Equal(t, strings.Repeat("-", 24)+" POSITIONS "+strings.Repeat("-", 25), b)
	assert.Equal(t, strings.Repeat("-", 26)+" ORDERS "+strings.Repeat("-", 26), Banner(OrdersTitle))
}

func TestPositionLineLayout(t *testing.T) {
	p := igapi.Position{
		Direction:      igapi.Buy,
		InstrumentName: "Gold",
		Size:           decimal.RequireFromString("1.5"),
		Currency:       "USD",
		Level:          decimal.RequireFromString("1800.1234"),
		ProfitLoss:     decimal.RequireFromString("12.50"),
	}
	want := "BUY " + " " + "Gold" + strings.Repeat(" ", 11) + " " + " 1.50" + " USD @ " + "   1800.12" + " || " + "     12.50"
	assert.Equal(t, want, FormatPosition(p))

	text := FormatPositions([]igapi.Position{p, p})
	lines := strings.Split(text, "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, Banner(PositionsTitle), lines[0])
	assert.Equal(t, want, lines[2])
}

func TestOrderLine(t *testing.T) {
	o := igapi.WorkingOrder{
		Direction:      igapi.Sell,
		InstrumentName: "FTSE 100",
		Size:           decimal.NewFromInt(3),
		Currency:       "GBP",
		Level:          decimal.RequireFromString("7200.5"),
	}
	assert.Equal(t, "SELL FTSE 100         3.00 GBP @    7200.50 ", FormatOrder(o))
	assert.Equal(t, Banner(OrdersTitle)+"\n", FormatOrders(nil))
}

func TestTrackerMissingFields(t *testing.T) {
	s := igapi.MarketSnapshot{
		Epic: "CS.D.USCGC.TODAY.IP",
		Name: "Spot Gold",
		Bid:  decimal.NewNullDecimal(decimal.RequireFromString("1808.45")),
	}
	assert.Equal(t, "Spot Gold       ||         - |         - ||   1808.45 |         -", FormatTracker(s))

	s.Name = ""
	assert.True(t, strings.HasPrefix(FormatTracker(s), "CS.D.USCGC.TODAY.IP ||"))
}

func TestActivityHasNoHeader(t *testing.T) {
	acts := []igapi.Activity{
		{Date: "10/16/26", Type: "POSITION", MarketName: "Gold", Size: "+1", Currency: "$", Level: "1800", Status: "ACCEPT"},
		{Date: "10/16/26", Type: "ORDER", MarketName: "FTSE", Size: "-2", Currency: "£", Level: "7200", Status: "ACCEPT"},
	}
	text := FormatActivities(acts)
	lines := strings.Split(text, "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "10/16/26 POSITION        Gold          +1 $   @       1800 ||     ACCEPT", lines[0])
	assert.Equal(t, "", FormatActivities(nil))
}

func TestTrackersEmptyListSkipsAPI(t *testing.T) {
	m := loggedInMock()
	board := display.NewBoard()
	r := New(m, &staticTracked{}, board)

	require.NoError(t, r.Trackers(context.Background(), 1))
	assert.Equal(t, Banner(TrackersTitle)+"\n", board.Trackers.Text())
	assert.Equal(t, 0, m.CallCount("GetMarketSnapshots"))
}

func TestTrackersIterateReturnedList(t *testing.T) {
	m := loggedInMock()
	m.AddMarket("A", "Alpha", 1, 2)
	m.AddMarket("C", "Charlie", 5, 6)
	board := display.NewBoard()
	r := New(m, &staticTracked{list: []string{"A", "B", "C"}}, board)

	require.NoError(t, r.Trackers(context.Background(), 1))
	lines := strings.Split(board.Trackers.Text(), "\n")
	require.Len(t, lines, 3, "B 没有返回，不应出现空行")
	assert.True(t, strings.HasPrefix(lines[1], "Alpha"))
	assert.True(t, strings.HasPrefix(lines[2], "Charlie"))
	assert.Equal(t, [][]string{{"A", "B", "C"}}, m.SnapshotRequests)
}

func TestErrorKeepsLastGoodValue(t *testing.T) {
	m := loggedInMock()
	m.SetPositions(igapi.Position{Direction: igapi.Buy, InstrumentName: "Gold", Currency: "USD"})
	board := display.NewBoard()
	r := New(m, &staticTracked{}, board)

	require.NoError(t, r.Positions(context.Background(), 1))
	good := board.Positions.Text()

	m.SetError("GetPositions", errors.New("timeout"))
	err := r.Positions(context.Background(), 1)
	require.Error(t, err)
	assert.Equal(t, good, board.Positions.Text())
}

func TestStaleGenerationIsDropped(t *testing.T) {
	m := loggedInMock()
	board := display.NewBoard()
	r := New(m, &staticTracked{}, board)

	require.NoError(t, r.Orders(context.Background(), 1))
	r.Fence(2, false)
	assert.Equal(t, Banner(OrdersTitle)+"\n", board.Orders.Text())

	m.WorkingOrders = []igapi.WorkingOrder{{Direction: igapi.Buy, InstrumentName: "late"}}
	require.NoError(t, r.Orders(context.Background(), 1))
	assert.NotContains(t, board.Orders.Text(), "late")

	r.Fence(3, true)
	for _, b := range board.Refresh() {
		assert.Equal(t, "", b.Text())
		assert.Equal(t, uint64(3), b.Generation())
	}
}

func TestJobs(t *testing.T) {
	r := New(loggedInMock(), &staticTracked{}, display.NewBoard())
	jobs := r.Jobs()
	require.Len(t, jobs, 4)
	names := []string{}
	for _, j := range jobs {
		names = append(names, j.Name)
		assert.NotNil(t, j.Action)
	}
	assert.Equal(t, []string{display.Positions, display.Orders, display.Trackers, display.Activity}, names)
}
