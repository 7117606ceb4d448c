package structure

import (
	"testing"

	"github.com/skalibog/bybit-mcp/internal/config"
	"github.com/skalibog/bybit-mcp/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectSyntheticBullishBOS(t *testing.T) {
	a := &Analyzer{Window: 1, MinBars: 5}
	highs := []float64{100, 110, 105, 115, 112}
	lows := []float64{95, 100, 98, 105, 103}

	res := a.Detect(highs, lows, 116)

	assert.Equal(t, Bullish, res.CurrentStructure)
	require.Len(t, res.BOS, 1)
	assert.Equal(t, Bullish, res.BOS[0].Type)
	assert.Equal(t, 110.0, res.BOS[0].Level)
	assert.Empty(t, res.ChoCh)
}

func TestDetectBearishChoChInUptrend(t *testing.T) {
	a := &Analyzer{Window: 1, MinBars: 5}
	highs := []float64{100, 110, 105, 115, 112}
	lows := []float64{95, 100, 98, 105, 103}

	res := a.Detect(highs, lows, 97)

	assert.Equal(t, Bullish, res.CurrentStructure)
	assert.Empty(t, res.BOS)
	require.Len(t, res.ChoCh, 1)
	assert.Equal(t, Bearish, res.ChoCh[0].Type)
	assert.Equal(t, 98.0, res.ChoCh[0].Level)
	assert.True(t, res.HasBearishChoCh())
}

func TestDetectBearishStructure(t *testing.T) {
	a := &Analyzer{Window: 1, MinBars: 5}
	highs := []float64{120, 115, 118, 108, 110}
	lows := []float64{110, 105, 107, 99, 101}

	res := a.Detect(highs, lows, 95)
	assert.Equal(t, Bearish, res.CurrentStructure)
	require.Len(t, res.BOS, 1)
	assert.Equal(t, Bearish, res.BOS[0].Type)

	res = a.Detect(highs, lows, 125)
	require.Len(t, res.ChoCh, 1)
	assert.Equal(t, Bullish, res.ChoCh[0].Type)
	assert.True(t, res.HasBullishChoCh())
}

func TestShortSeriesIsNeutral(t *testing.T) {
	a := NewAnalyzer(config.StructureConfig{})
	res := a.Detect([]float64{1, 2, 3}, []float64{0, 1, 2}, 4)

	assert.Equal(t, Neutral, res.CurrentStructure)
	assert.NotNil(t, res.BOS)
	assert.NotNil(t, res.ChoCh)
	assert.Zero(t, res.SwingHighsCount)
}

// Ряд с растущими свинговыми максимумами и минимумами и закрытием выше
// предыдущего максимума дает бычий BOS и ни одного ChoCh.
func TestIncreasingSwingsProduceBOSOnly(t *testing.T) {
	a := NewAnalyzer(config.StructureConfig{Window: 2, MinBars: 10})

	var candles []models.Candle
	base := 100.0
	for wave := 0; wave < 4; wave++ {
		// подъем и откат, каждый следующий цикл выше предыдущего
		for _, d := range []float64{0, 2, 4, 6, 4, 2} {
			p := base + d
			candles = append(candles, models.Candle{Open: p, High: p + 1, Low: p - 1, Close: p})
		}
		base += 5
	}
	last := candles[len(candles)-1]
	last.Close = 200
	last.High = 201
	candles[len(candles)-1] = last

	res := a.Analyze(candles)
	assert.Equal(t, Bullish, res.CurrentStructure)
	require.NotEmpty(t, res.BOS)
	assert.Equal(t, Bullish, res.BOS[0].Type)
	assert.Empty(t, res.ChoCh)
	assert.GreaterOrEqual(t, res.SwingHighsCount, 2)
	assert.GreaterOrEqual(t, res.SwingLowsCount, 2)
}

func TestEqualNeighboursAreNotSwings(t *testing.T) {
	got := swings([]float64{1, 3, 3, 1}, 1, func(x, y float64) bool { return x > y })
	assert.Empty(t, got)
}

func TestSwingWindowClippedAtEdges(t *testing.T) {
	values := []float64{9, 5, 6, 8, 7, 4, 10}

	// первый и последний бары сравниваются только с тем, что есть внутри ряда
	assert.Equal(t, []float64{9, 8, 10}, SwingHighs(values, 2))
	assert.Equal(t, []float64{5, 4}, SwingLows(values, 2))

	// в середине действует полное окно: 7 меньше 8 слева
	assert.NotContains(t, SwingHighs(values, 2), 7.0)

	assert.Empty(t, SwingHighs([]float64{3}, 2))
}
