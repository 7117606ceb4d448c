package technical

import (
	"fmt"
	"math"

	"github.com/markcheno/go-talib"
	"github.com/skalibog/bybit-mcp/internal/config"
	"github.com/skalibog/bybit-mcp/pkg/models"
)

// Направление тренда
const (
	Bullish = "bullish"
	Bearish = "bearish"
	Neutral = "neutral"
)

// Положение цены относительно полос Боллинджера
const (
	BandAbove  = "above"
	BandUpper  = "upper"
	BandMiddle = "middle"
	BandLower  = "lower"
	BandBelow  = "below"
)

// MACD значения MACD на последней свече
type MACD struct {
	Value     float64 `json:"value"`
	Signal    float64 `json:"signal"`
	Histogram float64 `json:"histogram"`
}

// Bollinger полосы Боллинджера на последней свече
type Bollinger struct {
	Upper    float64 `json:"upper"`
	Middle   float64 `json:"middle"`
	Lower    float64 `json:"lower"`
	PercentB float64 `json:"percent_b"`
	Position string  `json:"position"`
}

// EMA скользящие средние и положение цены относительно них
type EMA struct {
	EMA20    *float64 `json:"ema20,omitempty"`
	EMA50    *float64 `json:"ema50,omitempty"`
	EMA200   *float64 `json:"ema200,omitempty"`
	Above20  bool     `json:"above_ema20"`
	Above50  bool     `json:"above_ema50"`
	Above200 bool     `json:"above_ema200"`
}

// Snapshot результат расчета индикаторов. Индикаторы, для которых не хватило
// свечей, отсутствуют (nil), NaN в результат не попадает.
type Snapshot struct {
	Price         float64    `json:"price"`
	Bars          int        `json:"bars"`
	RSI           *float64   `json:"rsi,omitempty"`
	MACD          *MACD      `json:"macd,omitempty"`
	Bollinger     *Bollinger `json:"bollinger,omitempty"`
	EMA           EMA        `json:"ema"`
	ATR           *float64   `json:"atr,omitempty"`
	ATRPercent    *float64   `json:"atr_pct,omitempty"`
	ADX           *float64   `json:"adx,omitempty"`
	VolumeRatio   float64    `json:"volume_ratio"`
	Trend         string     `json:"trend"`
	TrendStrength string     `json:"trend_strength"`
	Volatility    string     `json:"volatility"`
	Signal        float64    `json:"signal"`
}

// Analyzer реализует анализатор технических индикаторов
type Analyzer struct {
	config config.TechnicalConfig
}

// NewAnalyzer создает новый анализатор технических индикаторов
func NewAnalyzer(cfg config.TechnicalConfig) *Analyzer {
	return &Analyzer{
		config: cfg,
	}
}

// MinBars минимальное число свечей для расчета
func (a *Analyzer) MinBars() int {
	return a.config.MACDSlow + a.config.MACDSignal
}

// Evaluate рассчитывает индикаторы по свечам (старые первыми)
func (a *Analyzer) Evaluate(candles []models.Candle) (*Snapshot, error) {
	if len(candles) < a.MinBars() {
		return nil, fmt.Errorf("недостаточно данных для анализа: %d свечей (требуется %d)", len(candles), a.MinBars())
	}

	// Подготавливаем данные для анализа
	n := len(candles)
	closes := make([]float64, n)
	highs := make([]float64, n)
	lows := make([]float64, n)
	volumes := make([]float64, n)

	for i, c := range candles {
		closes[i] = c.Close
		highs[i] = c.High
		lows[i] = c.Low
		volumes[i] = c.Volume
	}

	s := &Snapshot{Price: closes[n-1], Bars: n}
	s.RSI = a.rsi(closes)
	s.MACD = a.macd(closes)
	s.Bollinger = a.bollinger(closes)
	s.EMA = emaFlags(closes)
	s.ATR, s.ATRPercent = a.atr(highs, lows, closes)
	s.ADX = a.adx(highs, lows, closes)
	s.VolumeRatio = volumeRatio(volumes, a.config.VolumePeriod)

	s.Trend = trend(s.Price, s.EMA)
	s.TrendStrength = trendStrength(s.ADX, s.EMA)
	s.Volatility = volatility(s.ATRPercent)
	s.Signal = a.signal(s)

	return s, nil
}

func (a *Analyzer) rsi(closes []float64) *float64 {
	if len(closes) <= a.config.RSIPeriod {
		return nil
	}
	return last(talib.Rsi(closes, a.config.RSIPeriod))
}

func (a *Analyzer) macd(closes []float64) *MACD {
	if len(closes) < a.config.MACDSlow+a.config.MACDSignal {
		return nil
	}
	macd, signal, hist := talib.Macd(closes, a.config.MACDFast, a.config.MACDSlow, a.config.MACDSignal)
	m, s, h := last(macd), last(signal), last(hist)
	if m == nil || s == nil || h == nil {
		return nil
	}
	return &MACD{Value: *m, Signal: *s, Histogram: *h}
}

func (a *Analyzer) bollinger(closes []float64) *Bollinger {
	if len(closes) < a.config.BBPeriod {
		return nil
	}
	upper, middle, lower := talib.BBands(closes, a.config.BBPeriod, a.config.BBDeviation, a.config.BBDeviation, talib.SMA)
	u, m, l := last(upper), last(middle), last(lower)
	if u == nil || m == nil || l == nil {
		return nil
	}

	price := closes[len(closes)-1]
	// Позиция цены в полосе (0 = нижняя граница, 1 = верхняя граница)
	percentB := 0.5
	if *u > *l {
		percentB = (price - *l) / (*u - *l)
	}

	var position string
	switch {
	case percentB > 1:
		position = BandAbove
	case percentB >= 0.8:
		position = BandUpper
	case percentB < 0:
		position = BandBelow
	case percentB <= 0.2:
		position = BandLower
	default:
		position = BandMiddle
	}

	return &Bollinger{Upper: *u, Middle: *m, Lower: *l, PercentB: percentB, Position: position}
}

func emaFlags(closes []float64) EMA {
	price := closes[len(closes)-1]
	var e EMA
	if len(closes) >= 20 {
		e.EMA20 = last(talib.Ema(closes, 20))
	}
	if len(closes) >= 50 {
		e.EMA50 = last(talib.Ema(closes, 50))
	}
	if len(closes) >= 200 {
		e.EMA200 = last(talib.Ema(closes, 200))
	}
	e.Above20 = e.EMA20 != nil && price > *e.EMA20
	e.Above50 = e.EMA50 != nil && price > *e.EMA50
	e.Above200 = e.EMA200 != nil && price > *e.EMA200
	return e
}

func (a *Analyzer) atr(highs, lows, closes []float64) (*float64, *float64) {
	if len(closes) <= a.config.ATRPeriod {
		return nil, nil
	}
	atr := last(talib.Atr(highs, lows, closes, a.config.ATRPeriod))
	price := closes[len(closes)-1]
	if atr == nil || price <= 0 {
		return nil, nil
	}
	pct := *atr / price * 100
	return atr, &pct
}

func (a *Analyzer) adx(highs, lows, closes []float64) *float64 {
	period := a.config.ATRPeriod
	if len(closes) < 2*period+1 {
		return nil
	}
	return last(talib.Adx(highs, lows, closes, period))
}

// volumeRatio отношение объема последней свечи к среднему объему предыдущих period свечей
func volumeRatio(volumes []float64, period int) float64 {
	n := len(volumes)
	if n < 2 || period <= 0 {
		return 0
	}
	start := n - 1 - period
	if start < 0 {
		start = 0
	}
	var total float64
	for _, v := range volumes[start : n-1] {
		total += v
	}
	avg := total / float64(n-1-start)
	if avg == 0 {
		return 0
	}
	return volumes[n-1] / avg
}

func trend(price float64, e EMA) string {
	if e.EMA20 == nil {
		return Neutral
	}
	if e.EMA50 == nil {
		if price > *e.EMA20 {
			return Bullish
		}
		if price < *e.EMA20 {
			return Bearish
		}
		return Neutral
	}
	switch {
	case price > *e.EMA20 && *e.EMA20 > *e.EMA50:
		return Bullish
	case price < *e.EMA20 && *e.EMA20 < *e.EMA50:
		return Bearish
	default:
		return Neutral
	}
}

// trendStrength по ADX; без ADX по расхождению EMA20 и EMA50
func trendStrength(adx *float64, e EMA) string {
	if adx != nil {
		switch {
		case *adx >= 25:
			return "strong"
		case *adx >= 20:
			return "medium"
		default:
			return "weak"
		}
	}
	if e.EMA20 == nil || e.EMA50 == nil || *e.EMA50 == 0 {
		return "weak"
	}
	spread := math.Abs(*e.EMA20-*e.EMA50) / *e.EMA50 * 100
	switch {
	case spread >= 2:
		return "strong"
	case spread >= 0.5:
		return "medium"
	default:
		return "weak"
	}
}

func volatility(atrPct *float64) string {
	if atrPct == nil {
		return "normal"
	}
	switch {
	case *atrPct < 1:
		return "low"
	case *atrPct <= 3:
		return "normal"
	default:
		return "high"
	}
}

// signal сводит индикаторы в сигнал от -100 до 100
func (a *Analyzer) signal(s *Snapshot) float64 {
	var total, weight float64

	if s.RSI != nil {
		total += rsiSignal(*s.RSI) * 0.3
		weight += 0.3
	}
	if s.MACD != nil {
		total += macdSignal(*s.MACD) * 0.25
		weight += 0.25
	}
	if s.Bollinger != nil {
		total += bollingerSignal(*s.Bollinger) * 0.2
		weight += 0.2
	}
	switch s.Trend {
	case Bullish:
		total += 50 * 0.25
	case Bearish:
		total -= 50 * 0.25
	}
	weight += 0.25

	if weight == 0 {
		return 0
	}
	return clamp(total/weight, -100, 100)
}

// rsiSignal нормализует RSI к диапазону -100..100
func rsiSignal(rsi float64) float64 {
	switch {
	case rsi < 30:
		// Перепроданность: сигнал на покупку
		return 100 * (30 - rsi) / 30
	case rsi > 70:
		// Перекупленность: сигнал на продажу
		return -100 * (rsi - 70) / 30
	default:
		return (50 - rsi) * 2
	}
}

func macdSignal(m MACD) float64 {
	scale := math.Max(math.Abs(m.Value), math.Abs(m.Signal))
	if scale == 0 {
		return 0
	}
	return clamp(m.Histogram/scale*100, -100, 100)
}

func bollingerSignal(b Bollinger) float64 {
	switch b.Position {
	case BandAbove:
		return -100
	case BandBelow:
		return 100
	case BandUpper:
		return -60
	case BandLower:
		return 60
	default:
		return (0.5 - b.PercentB) * 100
	}
}

func last(values []float64) *float64 {
	if len(values) == 0 {
		return nil
	}
	v := values[len(values)-1]
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
