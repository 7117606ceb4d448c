package funding

import (
	"context"
	"errors"
	"testing"

	"github.com/skalibog/bybit-mcp/internal/config"
	"github.com/skalibog/bybit-mcp/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSource struct {
	rates []models.FundingRate
	err   error
}

func (s stubSource) GetFundingHistory(context.Context, string, string, int) ([]models.FundingRate, error) {
	return s.rates, s.err
}

func newestFirst(values ...float64) []models.FundingRate {
	rates := make([]models.FundingRate, len(values))
	for i, v := range values {
		rates[i] = models.FundingRate{Symbol: "BTCUSDT", Rate: v}
	}
	return rates
}

func TestEvaluateEmpty(t *testing.T) {
	_, err := NewAnalyzer(config.Default().Analysis.Funding).Evaluate("BTCUSDT", nil)
	assert.Error(t, err)
}

func TestEvaluateRisingExtreme(t *testing.T) {
	a := NewAnalyzer(config.Default().Analysis.Funding)
	r, err := a.Evaluate("BTCUSDT", newestFirst(0.001, 0.0006, 0.0003, 0.0001))
	require.NoError(t, err)

	assert.True(t, r.Extreme)
	assert.Equal(t, "rising", r.Trend)
	assert.Equal(t, "longs_pay", r.Bias)
	assert.InDelta(t, 0.1, r.CurrentRatePct, 1e-12)
	assert.InDelta(t, 0.001*3*365*100, r.AnnualizedPct, 1e-9)
	assert.Less(t, r.Signal, 0.0)
	assert.Equal(t, 4, r.Samples)
}

func TestEvaluateFallingNegative(t *testing.T) {
	a := NewAnalyzer(config.Default().Analysis.Funding)
	r, err := a.Evaluate("ETHUSDT", newestFirst(-0.0002, 0.0, 0.0001))
	require.NoError(t, err)

	assert.False(t, r.Extreme)
	assert.Equal(t, "falling", r.Trend)
	assert.Equal(t, "shorts_pay", r.Bias)
	assert.Greater(t, r.Signal, 0.0)
	assert.GreaterOrEqual(t, r.Signal, -100.0)
	assert.LessOrEqual(t, r.Signal, 100.0)
}

func TestAnalyzeWrapsSourceError(t *testing.T) {
	a := NewAnalyzer(config.Default().Analysis.Funding)
	_, err := a.Analyze(context.Background(), stubSource{err: errors.New("boom")}, "linear", "BTCUSDT")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestCalculateSlope(t *testing.T) {
	assert.InDelta(t, 1.0, calculateSlope([]float64{1, 2, 3, 4}), 1e-12)
	assert.InDelta(t, -2.0, calculateSlope([]float64{6, 4, 2}), 1e-12)
	assert.Zero(t, calculateSlope([]float64{5}))
}
