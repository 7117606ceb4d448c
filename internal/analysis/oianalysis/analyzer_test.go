package oianalysis

import (
	"context"
	"testing"

	"github.com/skalibog/bybit-mcp/internal/config"
	"github.com/skalibog/bybit-mcp/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSource struct {
	oi      []models.OpenInterest
	candles []models.Candle
}

func (s stubSource) GetOpenInterest(context.Context, string, string, string, int) ([]models.OpenInterest, error) {
	return s.oi, nil
}

func (s stubSource) GetKlines(context.Context, string, string, string, int) ([]models.Candle, error) {
	return s.candles, nil
}

// oiNewestFirst принимает значения в хронологическом порядке
func oiNewestFirst(values ...float64) []models.OpenInterest {
	out := make([]models.OpenInterest, len(values))
	for i, v := range values {
		out[len(values)-1-i] = models.OpenInterest{Symbol: "BTCUSDT", Value: v}
	}
	return out
}

func closes(values ...float64) []models.Candle {
	out := make([]models.Candle, len(values))
	for i, v := range values {
		out[i] = models.Candle{Open: v, High: v, Low: v, Close: v}
	}
	return out
}

func TestEvaluateRisingConfirmed(t *testing.T) {
	a := NewAnalyzer(config.Default().Analysis.OpenInterest)
	r, err := a.Evaluate("BTCUSDT",
		oiNewestFirst(1000, 1020, 1040, 1060, 1100),
		closes(100, 101, 102, 103, 104))
	require.NoError(t, err)

	assert.Equal(t, 1100.0, r.Current)
	assert.Equal(t, 1060.0, r.Previous)
	assert.InDelta(t, (1100.0-1060)/1060*100, r.ChangePct, 1e-9)
	assert.InDelta(t, 10.0, r.PeriodChange, 1e-9)
	assert.Equal(t, "rising", r.Trend)
	assert.Equal(t, "confirmed_up", r.Divergence)
	assert.Greater(t, r.Signal, 0.0)
}

func TestEvaluateBearishDivergence(t *testing.T) {
	a := NewAnalyzer(config.Default().Analysis.OpenInterest)
	r, err := a.Evaluate("BTCUSDT",
		oiNewestFirst(1100, 1080, 1050, 1020, 1000),
		closes(100, 102, 104, 106, 108))
	require.NoError(t, err)

	assert.Equal(t, "falling", r.Trend)
	assert.Equal(t, "bearish", r.Divergence)
	assert.Less(t, r.Signal, 0.0)
}

func TestEvaluateSingleSample(t *testing.T) {
	a := NewAnalyzer(config.Default().Analysis.OpenInterest)
	r, err := a.Evaluate("BTCUSDT", oiNewestFirst(500), nil)
	require.NoError(t, err)
	assert.Equal(t, 500.0, r.Current)
	assert.Zero(t, r.ChangePct)
	assert.Equal(t, "flat", r.Trend)
	assert.Equal(t, "none", r.Divergence)
}

func TestAnalyzeSetsCategory(t *testing.T) {
	a := NewAnalyzer(config.Default().Analysis.OpenInterest)
	r, err := a.Analyze(context.Background(), stubSource{oi: oiNewestFirst(1, 2)}, "inverse", "BTCUSD")
	require.NoError(t, err)
	assert.Equal(t, "inverse", r.Category)

	_, err = a.Analyze(context.Background(), stubSource{}, "linear", "BTCUSDT")
	assert.Error(t, err)
}
