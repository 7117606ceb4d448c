package technical

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/skalibog/bybit-mcp/internal/config"
	"github.com/skalibog/bybit-mcp/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func series(n int, start, step float64) []models.Candle {
	candles := make([]models.Candle, n)
	ts := time.Unix(1700000000, 0)
	price := start
	for i := range candles {
		open := price
		price += step
		// небольшая волна, чтобы индикаторы не вырождались
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

func newAnalyzer() *Analyzer {
	return NewAnalyzer(config.Default().Analysis.Technical)
}

func TestEvaluateRequiresEnoughBars(t *testing.T) {
	_, err := newAnalyzer().Evaluate(series(20, 100, 1))
	assert.Error(t, err)
}

func TestEvaluateUptrend(t *testing.T) {
	s, err := newAnalyzer().Evaluate(series(120, 100, 1))
	require.NoError(t, err)

	assert.Equal(t, Bullish, s.Trend)
	require.NotNil(t, s.RSI)
	assert.Greater(t, *s.RSI, 50.0)
	require.NotNil(t, s.EMA.EMA50)
	assert.True(t, s.EMA.Above50)
	assert.Nil(t, s.EMA.EMA200, "на 120 свечах EMA200 не считается")
	require.NotNil(t, s.MACD)
	assert.Greater(t, s.MACD.Value, 0.0)
}

func TestEvaluateDowntrend(t *testing.T) {
	s, err := newAnalyzer().Evaluate(series(120, 300, -1))
	require.NoError(t, err)

	assert.Equal(t, Bearish, s.Trend)
	assert.False(t, s.EMA.Above50)
	require.NotNil(t, s.RSI)
	assert.Less(t, *s.RSI, 50.0)
	assert.Less(t, s.Signal, 100.0)
	assert.GreaterOrEqual(t, s.Signal, -100.0)
}

func TestSnapshotIsJSONEncodable(t *testing.T) {
	s, err := newAnalyzer().Evaluate(series(40, 100, 0.5))
	require.NoError(t, err)

	_, err = json.Marshal(s)
	assert.NoError(t, err)
}

func TestVolumeRatio(t *testing.T) {
	volumes := []float64{10, 10, 10, 10, 30}
	assert.InDelta(t, 3.0, volumeRatio(volumes, 4), 1e-9)
	assert.InDelta(t, 3.0, volumeRatio(volumes, 20), 1e-9)
	assert.Zero(t, volumeRatio([]float64{0, 0, 5}, 2))
	assert.Zero(t, volumeRatio([]float64{5}, 2))
}

func TestVolatilityBands(t *testing.T) {
	low, normal, high := 0.5, 2.0, 4.0
	assert.Equal(t, "low", volatility(&low))
	assert.Equal(t, "normal", volatility(&normal))
	assert.Equal(t, "high", volatility(&high))
	assert.Equal(t, "normal", volatility(nil))
}

func TestRSISignalRange(t *testing.T) {
	for rsi := 0.0; rsi <= 100; rsi += 5 {
		v := rsiSignal(rsi)
		assert.GreaterOrEqual(t, v, -100.0)
		assert.LessOrEqual(t, v, 100.0)
	}
	assert.Greater(t, rsiSignal(20), 0.0)
	assert.Less(t, rsiSignal(80), 0.0)
}
