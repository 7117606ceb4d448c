package market

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/markcheno/go-talib"
	"github.com/skalibog/bybit-mcp/internal/analysis/technical"
	"github.com/skalibog/bybit-mcp/pkg/models"
)

// ErrNotEnoughData недостаточно данных для расчета
var ErrNotEnoughData = errors.New("недостаточно данных")

// Alignment согласованность трендов по таймфреймам
type Alignment struct {
	Bullish    int               `json:"bullish"`
	Bearish    int               `json:"bearish"`
	Neutral    int               `json:"neutral"`
	Total      int               `json:"total"`
	Aligned    int               `json:"aligned_count"`
	Direction  string            `json:"direction"`
	IsAligned  bool              `json:"is_aligned"`
	Timeframes map[string]string `json:"timeframes"`
}

// Align подсчитывает направления трендов успешных таймфреймов.
// Aligned число таймфреймов, совпадающих с преобладающим направлением.
func Align(analyses []TimeframeAnalysis) Alignment {
	al := Alignment{Direction: technical.Neutral, Timeframes: make(map[string]string)}
	for _, tf := range analyses {
		if !tf.OK() {
			continue
		}
		al.Total++
		al.Timeframes[tf.Timeframe] = tf.Technical.Trend
		switch tf.Technical.Trend {
		case technical.Bullish:
			al.Bullish++
		case technical.Bearish:
			al.Bearish++
		default:
			al.Neutral++
		}
	}

	switch {
	case al.Bullish > al.Bearish:
		al.Direction, al.Aligned = technical.Bullish, al.Bullish
	case al.Bearish > al.Bullish:
		al.Direction, al.Aligned = technical.Bearish, al.Bearish
	default:
		al.Aligned = al.Neutral
	}
	// Согласованность: преобладающее направление не нейтрально и охватывает большинство
	al.IsAligned = al.Direction != technical.Neutral && al.Aligned*2 > al.Total
	return al
}

// CountAgreeing число таймфреймов, тренд которых совпадает с направлением сделки
func CountAgreeing(analyses []TimeframeAnalysis, side models.Side) int {
	want := technical.Bullish
	if side == models.Short {
		want = technical.Bearish
	}
	n := 0
	for _, tf := range analyses {
		if tf.OK() && tf.Technical.Trend == want {
			n++
		}
	}
	return n
}

// Correlation результат расчета корреляции
type Correlation struct {
	Symbol      string  `json:"symbol"`
	Benchmark   string  `json:"benchmark"`
	Timeframe   string  `json:"timeframe"`
	Period      int     `json:"period"`
	Coefficient float64 `json:"correlation"`
	Label       string  `json:"label"`
	Description string  `json:"description"`
}

// Pearson коэффициент корреляции Пирсона доходностей двух рядов цен закрытия.
// Ряды выравниваются по последним значениям.
func Pearson(a, b []float64) (float64, error) {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	if n < 3 {
		return 0, fmt.Errorf("%w: нужно минимум 3 цены, получено %d", ErrNotEnoughData, n)
	}
	ra := returns(a[len(a)-n:])
	rb := returns(b[len(b)-n:])

	if constant(ra) || constant(rb) {
		return 0, nil
	}
	// в процентах: Correl обнуляет результат при произведении дисперсий меньше 1e-14
	coef := talib.Correl(scale(ra, 100), scale(rb, 100), len(ra))
	return clamp(coef[len(coef)-1], -1, 1), nil
}

func constant(values []float64) bool {
	for _, v := range values[1:] {
		if v != values[0] {
			return false
		}
	}
	return true
}

// CorrelationLabel текстовая метка коэффициента корреляции
func CorrelationLabel(c float64) string {
	switch {
	case c >= 0.7:
		return "strong_positive"
	case c >= 0.3:
		return "positive"
	case c > -0.3:
		return "weak"
	case c > -0.7:
		return "negative"
	default:
		return "strong_negative"
	}
}

// Correlate считает корреляцию доходностей symbol и benchmark за period свечей
func (a *Analyzer) Correlate(ctx context.Context, category, symbol, benchmark, timeframe string, period int) (*Correlation, error) {
	if period < 3 {
		period = 3
	}
	// period доходностей требует period+1 цен
	target, err := a.source.GetKlines(ctx, category, symbol, timeframe, period+1)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения свечей %s: %w", symbol, err)
	}
	base, err := a.source.GetKlines(ctx, category, benchmark, timeframe, period+1)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения свечей %s: %w", benchmark, err)
	}

	coef, err := Pearson(closes(target), closes(base))
	if err != nil {
		return nil, err
	}

	label := CorrelationLabel(coef)
	return &Correlation{
		Symbol:      symbol,
		Benchmark:   benchmark,
		Timeframe:   timeframe,
		Period:      period,
		Coefficient: coef,
		Label:       label,
		Description: describeCorrelation(label, benchmark),
	}, nil
}

func describeCorrelation(label, benchmark string) string {
	switch label {
	case "strong_positive":
		return fmt.Sprintf("Движется вместе с %s", benchmark)
	case "positive":
		return fmt.Sprintf("Частично следует за %s", benchmark)
	case "weak":
		return fmt.Sprintf("Движется независимо от %s", benchmark)
	case "negative":
		return fmt.Sprintf("Частично движется против %s", benchmark)
	default:
		return fmt.Sprintf("Движется против %s", benchmark)
	}
}

func closes(candles []models.Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}

func returns(prices []float64) []float64 {
	out := make([]float64, 0, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		if prices[i-1] == 0 {
			out = append(out, 0)
			continue
		}
		out = append(out, prices[i]/prices[i-1]-1)
	}
	return out
}

func scale(values []float64, k float64) []float64 {
	out := make([]float64, len(values))
	for i, v := range values {
		out[i] = v * k
	}
	return out
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
