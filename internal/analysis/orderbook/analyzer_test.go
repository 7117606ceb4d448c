package orderbook

import (
	"errors"
	"testing"

	"github.com/skalibog/bybit-mcp/internal/config"
	"github.com/skalibog/bybit-mcp/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func book(bids, asks [][2]float64) *models.OrderBook {
	ob := &models.OrderBook{Symbol: "BTCUSDT"}
	for _, b := range bids {
		ob.Bids = append(ob.Bids, models.OrderBookLevel{Price: b[0], Amount: b[1]})
	}
	for _, a := range asks {
		ob.Asks = append(ob.Asks, models.OrderBookLevel{Price: a[0], Amount: a[1]})
	}
	return ob
}

func TestEvaluateDeepBook(t *testing.T) {
	a := NewAnalyzer(config.Default().Analysis.OrderBook)
	// уровни намеренно не отсортированы
	l, err := a.Evaluate(book(
		[][2]float64{{99990, 50}, {100000, 20}, {99500, 30}},
		[][2]float64{{100020, 40}, {100010, 20}, {100400, 30}},
	))
	require.NoError(t, err)

	assert.Equal(t, 100000.0, l.BestBid)
	assert.Equal(t, 100010.0, l.BestAsk)
	assert.InDelta(t, 0.01, l.SpreadPct, 1e-3)
	assert.Greater(t, l.Depth1Pct.BidUSD, 9e6)
	assert.Greater(t, l.Depth2Pct.AskUSD, 9e6)
	assert.GreaterOrEqual(t, l.Score, 9.0)
	assert.LessOrEqual(t, l.Score, 10.0)
	assert.Equal(t, "excellent", l.Rating)
}

func TestEvaluateThinBook(t *testing.T) {
	a := NewAnalyzer(config.Default().Analysis.OrderBook)
	l, err := a.Evaluate(book(
		[][2]float64{{0.98, 100}},
		[][2]float64{{1.02, 100}},
	))
	require.NoError(t, err)

	assert.InDelta(t, 4.0, l.SpreadPct, 1e-9)
	assert.Zero(t, l.Depth1Pct.BidUSD)
	assert.Equal(t, "poor", l.Rating)
	assert.GreaterOrEqual(t, l.Score, 0.0)
}

func TestEvaluateEmptyBook(t *testing.T) {
	a := NewAnalyzer(config.Default().Analysis.OrderBook)
	_, err := a.Evaluate(book(nil, [][2]float64{{1, 1}}))
	assert.True(t, errors.Is(err, ErrEmptyBook))
}

func TestImbalanceThreshold(t *testing.T) {
	a := NewAnalyzer(config.OrderBookConfig{ImbalanceThreshold: 10})
	bids := []models.OrderBookLevel{{Price: 1, Amount: 52}}
	asks := []models.OrderBookLevel{{Price: 2, Amount: 48}}
	assert.Zero(t, a.calculateImbalance(bids, asks))

	bids[0].Amount = 80
	asks[0].Amount = 20
	assert.InDelta(t, 60.0, a.calculateImbalance(bids, asks), 1e-9)
}

func TestFindSignificantLevels(t *testing.T) {
	levels := []models.OrderBookLevel{{Price: 1, Amount: 1}, {Price: 2, Amount: 1}, {Price: 3, Amount: 1}, {Price: 4, Amount: 1}, {Price: 5, Amount: 30}}
	walls := findSignificantLevels(levels)
	require.Len(t, walls, 1)
	assert.Equal(t, 5.0, walls[0].Price)
}
