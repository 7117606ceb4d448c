package patterns

import (
	"testing"

	"github.com/skalibog/bybit-mcp/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bar(open, high, low, closePrice float64) models.Candle {
	return models.Candle{Open: open, High: high, Low: low, Close: closePrice, Volume: 100}
}

func find(patterns []Pattern, t Type) *Pattern {
	for i := range patterns {
		if patterns[i].Type == t {
			return &patterns[i]
		}
	}
	return nil
}

func TestDetectHammerAfterDecline(t *testing.T) {
	candles := []models.Candle{
		bar(111, 112, 109.5, 110),
		bar(110, 110.5, 107.5, 108),
		bar(107, 107.5, 105.5, 106),
		bar(104, 105.1, 100, 105),
	}
	found := NewDetector(10).Detect(candles, nil)

	p := find(found, Hammer)
	require.NotNil(t, p)
	assert.Equal(t, Bullish, p.Direction)
	assert.Equal(t, 3, p.Index)
	assert.GreaterOrEqual(t, p.Reliability, 0.0)
	assert.LessOrEqual(t, p.Reliability, 1.0)
}

func TestDetectBullishEngulfingWithFilter(t *testing.T) {
	candles := []models.Candle{
		bar(105, 106, 99, 100),
		bar(99.5, 106.5, 99, 106),
	}

	found := NewDetector(10).Detect(candles, []Type{BullishEngulfing})
	require.Len(t, found, 1)
	assert.Equal(t, BullishEngulfing, found[0].Type)
	assert.Equal(t, Bullish, found[0].Direction)

	assert.Empty(t, NewDetector(10).Detect(candles, []Type{Doji}))
}

func TestDetectThreeWhiteSoldiers(t *testing.T) {
	candles := []models.Candle{
		bar(100, 104.5, 99.8, 104),
		bar(102, 107.3, 101.8, 107),
		bar(105, 110.2, 104.8, 110),
	}
	p := find(NewDetector(10).Detect(candles, nil), ThreeWhiteSoldiers)
	require.NotNil(t, p)
	assert.Equal(t, Bullish, p.Direction)
}

func TestDetectMorningStar(t *testing.T) {
	candles := []models.Candle{
		bar(110, 111, 99, 100),
		bar(99, 99.5, 98, 98.5),
		bar(99, 107.5, 98.8, 107),
	}
	p := find(NewDetector(10).Detect(candles, nil), MorningStar)
	require.NotNil(t, p)
	assert.Equal(t, 2, p.Index)
}

func TestDetectRespectsLookback(t *testing.T) {
	candles := []models.Candle{
		bar(105, 106, 99, 100),
		bar(99.5, 106.5, 99, 106),
		bar(106, 106.5, 105.5, 106.2),
		bar(106.2, 107, 105.9, 106.8),
	}
	found := NewDetector(2).Detect(candles, []Type{BullishEngulfing})
	assert.Empty(t, found)
}

func TestVolumeRaisesReliability(t *testing.T) {
	candles := []models.Candle{
		bar(105, 106, 99, 100),
		bar(99.5, 106.5, 99, 106),
	}
	base := NewDetector(10).Detect(candles, []Type{BullishEngulfing})[0].Reliability

	candles[1].Volume = 300
	boosted := NewDetector(10).Detect(candles, []Type{BullishEngulfing})[0].Reliability
	assert.Greater(t, boosted, base)
}

func TestParseTypes(t *testing.T) {
	assert.Equal(t, []Type{Hammer, Doji}, ParseTypes([]string{"Hammer", "unknown", " doji "}))
	assert.Nil(t, ParseTypes([]string{"hammer", "all"}))
	assert.Nil(t, ParseTypes(nil))
}

func TestMaxReliability(t *testing.T) {
	ps := []Pattern{
		{Direction: Bullish, Reliability: 0.6},
		{Direction: Bearish, Reliability: 0.8},
	}
	assert.Equal(t, 0.8, MaxReliability(ps))
	assert.Equal(t, 0.6, MaxReliabilityFor(ps, Bullish))
	assert.Zero(t, MaxReliability(nil))
}
