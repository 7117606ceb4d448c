package volumedelta

import (
	"testing"

	"github.com/skalibog/bybit-mcp/internal/config"
	"github.com/skalibog/bybit-mcp/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func candles(n int, bullish bool, volume float64) []models.Candle {
	out := make([]models.Candle, n)
	price := 100.0
	for i := range out {
		open := price
		if bullish {
			price++
		} else {
			price--
		}
		out[i] = models.Candle{Open: open, Close: price, High: open + 2, Low: open - 2, Volume: volume}
	}
	return out
}

func TestEvaluateNeedsLookback(t *testing.T) {
	_, err := NewAnalyzer(config.VolumeDeltaConfig{Lookback: 20}).Evaluate(candles(5, true, 10))
	assert.Error(t, err)
}

func TestEvaluateBuyers(t *testing.T) {
	r, err := NewAnalyzer(config.Default().Analysis.VolumeDelta).Evaluate(candles(40, true, 10))
	require.NoError(t, err)

	assert.InDelta(t, 100.0, r.CumulativeDelta, 1e-9)
	assert.Equal(t, "buyers", r.Bias)
	assert.Zero(t, r.Impulses)
}

func TestEvaluateSellersWithImpulse(t *testing.T) {
	c := candles(40, false, 10)
	c[len(c)-1].Volume = 100

	r, err := NewAnalyzer(config.Default().Analysis.VolumeDelta).Evaluate(c)
	require.NoError(t, err)

	assert.Less(t, r.CumulativeDelta, 0.0)
	assert.Equal(t, 1, r.Impulses)
	assert.Less(t, r.ImpulseSignal, 0.0)
	assert.Equal(t, "sellers", r.Bias)
}
