package scanner

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/skalibog/bybit-mcp/internal/analysis/market"
	"github.com/skalibog/bybit-mcp/internal/analysis/structure"
	"github.com/skalibog/bybit-mcp/internal/analysis/technical"
	"github.com/skalibog/bybit-mcp/internal/config"
	"github.com/skalibog/bybit-mcp/internal/storage"
	"github.com/skalibog/bybit-mcp/internal/validation"
	"github.com/skalibog/bybit-mcp/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	storage.MarketData
	tickers    []models.Ticker
	tickersErr error
	klines     map[string][]models.Candle
}

func (f *fakeSource) GetTickers(context.Context, string, string) ([]models.Ticker, error) {
	return f.tickers, f.tickersErr
}

func (f *fakeSource) GetKlines(_ context.Context, _, symbol, _ string, _ int) ([]models.Candle, error) {
	c, ok := f.klines[symbol]
	if !ok {
		return nil, errors.New("нет данных")
	}
	return c, nil
}

func series(n int, start, step float64) []models.Candle {
	candles := make([]models.Candle, n)
	ts := time.Unix(1700000000, 0)
	price := start
	for i := range candles {
		open := price
		price += step
		wave := math.Sin(float64(i)/3) * math.Abs(step) * 0.5
		closePrice := price + wave
		candles[i] = models.Candle{
			OpenTime: ts.Add(time.Duration(i) * time.Hour),
			Open:     open,
			High:     math.Max(open, closePrice) + 0.5,
			Low:      math.Min(open, closePrice) - 0.5,
			Close:    closePrice,
			Volume:   100 + float64(i%5),
		}
	}
	return candles
}

func newScanner(src *fakeSource) *Scanner {
	cfg := config.Default()
	analyzer := market.NewAnalyzer(cfg.Analysis, src)
	engine := validation.NewEngine(cfg.Risk, cfg.Analysis.Levels.NearPct)
	return New(cfg.Scanner, analyzer, engine)
}

func TestCandidates(t *testing.T) {
	tickers := []models.Ticker{
		{Symbol: "BTCUSDT", LastPrice: 60000, Turnover24h: 5e9},
		{Symbol: "ETHUSDT", LastPrice: 3000, Turnover24h: 2e9},
		{Symbol: "ETHBTC", LastPrice: 0.05, Turnover24h: 9e9},
		{Symbol: "DUSTUSDT", LastPrice: 0.1, Turnover24h: 1000},
		{Symbol: "DEADUSDT", LastPrice: 0, Turnover24h: 1e9},
	}
	got := Candidates(tickers, 1e6, 10)
	require.Len(t, got, 2)
	assert.Equal(t, "BTCUSDT", got[0].Symbol)
	assert.Equal(t, "ETHUSDT", got[1].Symbol)

	assert.Len(t, Candidates(tickers, 1e6, 1), 1)
}

func TestTargets(t *testing.T) {
	sl, tp, ok := Targets(models.Long, 100, 2, 1.5, 2)
	require.True(t, ok)
	assert.Equal(t, 97.0, sl)
	assert.Equal(t, 106.0, tp)
	assert.InDelta(t, 2.0, validation.RiskReward(100, sl, tp), 1e-9)

	sl, tp, ok = Targets(models.Short, 100, 2, 1.5, 2)
	require.True(t, ok)
	assert.Equal(t, 103.0, sl)
	assert.Equal(t, 94.0, tp)
}

func TestTargetsRejectNonPositivePrices(t *testing.T) {
	// ATR 20 при цене 100: цель шорта 100 - 30*4 ниже нуля
	_, tp, ok := Targets(models.Short, 100, 20, 1.5, 4)
	assert.False(t, ok)
	assert.Negative(t, tp)

	_, _, ok = Targets(models.Short, 90, 20, 1.5, 3)
	assert.False(t, ok)

	sl, _, ok := Targets(models.Long, 100, 80, 1.5, 2)
	assert.False(t, ok)
	assert.Negative(t, sl)
}

func TestScanAnyRanksAndLimits(t *testing.T) {
	src := &fakeSource{
		tickers: []models.Ticker{
			{Symbol: "BTCUSDT", LastPrice: 220, Turnover24h: 5e9, ChangePct24h: 2},
			{Symbol: "ETHUSDT", LastPrice: 220, Turnover24h: 2e9, ChangePct24h: 3},
			{Symbol: "SOLUSDT", LastPrice: 220, Turnover24h: 1e9, ChangePct24h: 1},
			{Symbol: "DUSTUSDT", LastPrice: 1, Turnover24h: 10},
		},
		klines: map[string][]models.Candle{
			"BTCUSDT": series(120, 100, 1),
			"ETHUSDT": series(120, 100, 1),
			"SOLUSDT": series(120, 100, 1),
		},
	}

	records, err := newScanner(src).Scan(context.Background(), Criteria{Preset: Any, MinVolume24h: 1e6, Limit: 2})
	require.NoError(t, err)
	require.Len(t, records, 2)

	for _, r := range records {
		assert.Equal(t, models.Long, r.Side)
		assert.Equal(t, 10, r.TotalChecks)
		assert.Less(t, r.StopLoss, r.EntryPrice)
		assert.Greater(t, r.TakeProfit, r.EntryPrice)
		assert.True(t, r.Checklist[validation.GoodRR])
		assert.True(t, r.Checklist[validation.BTCSupport])
		assert.True(t, r.Checklist[validation.TrendAlignment])
		assert.NotEqual(t, "DUSTUSDT", r.Symbol)
	}
	// одинаковая оценка: порядок по обороту
	assert.Equal(t, "BTCUSDT", records[0].Symbol)
	assert.Equal(t, "ETHUSDT", records[1].Symbol)
}

func TestScanErrors(t *testing.T) {
	s := newScanner(&fakeSource{tickersErr: errors.New("503")})
	_, err := s.Scan(context.Background(), Criteria{Preset: Any})
	assert.Error(t, err)

	_, err = s.Scan(context.Background(), Criteria{Preset: "moon"})
	assert.Error(t, err)

	empty := newScanner(&fakeSource{})
	records, err := empty.Scan(context.Background(), Criteria{Preset: Oversold})
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestMatch(t *testing.T) {
	rsi := func(v float64) *float64 { return &v }
	analysis := func(snap *technical.Snapshot, st *structure.Result) *market.Analysis {
		return &market.Analysis{Timeframes: []market.TimeframeAnalysis{{Timeframe: "1h", Technical: snap, Structure: st}}}
	}

	side, _, ok := Match(Oversold, analysis(&technical.Snapshot{RSI: rsi(25)}, nil))
	assert.True(t, ok)
	assert.Equal(t, models.Long, side)

	_, _, ok = Match(Oversold, analysis(&technical.Snapshot{RSI: rsi(45)}, nil))
	assert.False(t, ok)

	side, _, ok = Match(Overbought, analysis(&technical.Snapshot{RSI: rsi(80)}, nil))
	assert.True(t, ok)
	assert.Equal(t, models.Short, side)

	bos := &structure.Result{BOS: []structure.Event{{Type: structure.Bearish, Level: 90}}}
	side, _, ok = Match(Breakout, analysis(&technical.Snapshot{}, bos))
	assert.True(t, ok)
	assert.Equal(t, models.Short, side)

	choch := &structure.Result{ChoCh: []structure.Event{{Type: structure.Bullish, Level: 110}}}
	side, _, ok = Match(Reversal, analysis(&technical.Snapshot{}, choch))
	assert.True(t, ok)
	assert.Equal(t, models.Long, side)

	_, _, ok = Match(Reversal, analysis(&technical.Snapshot{}, bos))
	assert.False(t, ok)

	_, _, ok = Match(Any, &market.Analysis{})
	assert.False(t, ok)
}
