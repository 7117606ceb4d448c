package validation

import (
	"github.com/skalibog/bybit-mcp/internal/analysis/levels"
	"github.com/skalibog/bybit-mcp/internal/analysis/market"
	"github.com/skalibog/bybit-mcp/internal/analysis/patterns"
	"github.com/skalibog/bybit-mcp/internal/analysis/technical"
	"github.com/skalibog/bybit-mcp/pkg/models"
)

// Reading показания индикаторов одного таймфрейма
type Reading struct {
	Timeframe         string   `json:"timeframe"`
	Trend             string   `json:"trend"`
	RSI               *float64 `json:"rsi,omitempty"`
	MACDHistogram     *float64 `json:"macd_histogram,omitempty"`
	BollingerPosition string   `json:"bollinger_position,omitempty"`
	AboveEMA50        *bool    `json:"above_ema50,omitempty"`
}

// Opportunity входные данные для проверки сетапа
type Opportunity struct {
	Symbol     string      `json:"symbol"`
	Side       models.Side `json:"side"`
	EntryPrice float64     `json:"entry_price"`
	StopLoss   float64     `json:"stop_loss"`
	TakeProfit float64     `json:"take_profit"`

	Timeframes []Reading `json:"timeframes"`
	// ConfirmedIndicators внешний счетчик подтверждений; берется максимум с рассчитанным
	ConfirmedIndicators int `json:"confirmed_indicators_count,omitempty"`

	Supports    []levels.Level `json:"-"`
	Resistances []levels.Level `json:"-"`
	NearLevel   bool           `json:"near_level"`

	VolumeRatio        float64 `json:"volume_ratio"`
	PatternReliability float64 `json:"pattern_reliability"`
	Volatility         string  `json:"volatility"`
	TrendStrength      string  `json:"trend_strength"`
	BTCTrend           string  `json:"btc_trend"`
	Sentiment          string  `json:"sentiment"`
	OnchainSupport     bool    `json:"onchain_support"`

	// RiskFraction доля депозита на сделку; 0 означает значение из настроек
	RiskFraction float64 `json:"-"`
}

// AgreeingTrends число таймфреймов, тренд которых совпадает с направлением
func (o Opportunity) AgreeingTrends() int {
	want := technical.Bullish
	if o.Side == models.Short {
		want = technical.Bearish
	}
	n := 0
	for _, r := range o.Timeframes {
		if r.Trend == want {
			n++
		}
	}
	return n
}

// Confirmations число подтверждающих показаний по всем таймфреймам
func (o Opportunity) Confirmations() int {
	long := o.Side != models.Short
	n := 0
	for _, r := range o.Timeframes {
		if r.RSI != nil && ((long && *r.RSI < 35) || (!long && *r.RSI > 65)) {
			n++
		}
		if r.MACDHistogram != nil && ((long && *r.MACDHistogram > 0) || (!long && *r.MACDHistogram < 0)) {
			n++
		}
		switch r.BollingerPosition {
		case technical.BandLower, technical.BandBelow:
			if long {
				n++
			}
		case technical.BandUpper, technical.BandAbove:
			if !long {
				n++
			}
		}
		if r.AboveEMA50 != nil && *r.AboveEMA50 == long {
			n++
		}
	}
	if o.ConfirmedIndicators > n {
		return o.ConfirmedIndicators
	}
	return n
}

// ReadingFrom извлекает показания из снимка индикаторов
func ReadingFrom(tf string, s *technical.Snapshot) Reading {
	r := Reading{Timeframe: tf}
	if s == nil {
		return r
	}
	r.Trend = s.Trend
	r.RSI = s.RSI
	if s.MACD != nil {
		h := s.MACD.Histogram
		r.MACDHistogram = &h
	}
	if s.Bollinger != nil {
		r.BollingerPosition = s.Bollinger.Position
	}
	if s.EMA.EMA50 != nil {
		above := s.EMA.Above50
		r.AboveEMA50 = &above
	}
	return r
}

// FromAnalysis собирает сетап по мультитаймфреймовому анализу. Условия рынка
// берутся с первого успешного таймфрейма, объем и паттерны по максимуму.
// BTCTrend, Sentiment и OnchainSupport заполняет вызывающий.
func FromAnalysis(a *market.Analysis, side models.Side, entry, stopLoss, takeProfit float64) Opportunity {
	op := Opportunity{
		Symbol:     a.Symbol,
		Side:       side,
		EntryPrice: entry,
		StopLoss:   stopLoss,
		TakeProfit: takeProfit,
	}

	direction := patterns.Bullish
	if side == models.Short {
		direction = patterns.Bearish
	}

	for i, tf := range a.Successful() {
		op.Timeframes = append(op.Timeframes, ReadingFrom(tf.Timeframe, tf.Technical))
		if i == 0 {
			op.Volatility = tf.Technical.Volatility
			op.TrendStrength = tf.Technical.TrendStrength
		}
		if tf.Technical.VolumeRatio > op.VolumeRatio {
			op.VolumeRatio = tf.Technical.VolumeRatio
		}
		if r := patterns.MaxReliabilityFor(tf.Patterns, direction); r > op.PatternReliability {
			op.PatternReliability = r
		}
		if tf.Levels != nil {
			op.Supports = append(op.Supports, tf.Levels.Supports...)
			op.Resistances = append(op.Resistances, tf.Levels.Resistances...)
		}
	}
	return op
}
