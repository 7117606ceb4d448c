package oianalysis

import (
	"context"
	"fmt"
	"math"

	"github.com/skalibog/bybit-mcp/internal/config"
	"github.com/skalibog/bybit-mcp/pkg/models"
)

// Source источник данных открытого интереса и свечей
type Source interface {
	GetOpenInterest(ctx context.Context, category, symbol, intervalTime string, limit int) ([]models.OpenInterest, error)
	GetKlines(ctx context.Context, category, symbol, timeframe string, limit int) ([]models.Candle, error)
}

// Report снимок и интерпретация открытого интереса
type Report struct {
	Symbol         string  `json:"symbol"`
	Category       string  `json:"category"`
	Current        float64 `json:"current"`
	Previous       float64 `json:"previous"`
	ChangePct      float64 `json:"change_pct"`
	PeriodChange   float64 `json:"period_change_pct"`
	Trend          string  `json:"trend"` // rising | falling | flat
	Divergence     string  `json:"divergence"`
	Signal         float64 `json:"signal"`
	Interpretation string  `json:"interpretation"`
	Samples        int     `json:"samples"`
}

// Analyzer реализует анализатор открытого интереса
type Analyzer struct {
	config config.OpenInterestConfig
}

// NewAnalyzer создает новый анализатор открытого интереса
func NewAnalyzer(cfg config.OpenInterestConfig) *Analyzer {
	return &Analyzer{
		config: cfg,
	}
}

// Analyze загружает историю открытого интереса и часовые свечи и интерпретирует их
func (a *Analyzer) Analyze(ctx context.Context, src Source, category, symbol string) (*Report, error) {
	// Получаем историю открытого интереса
	openInterest, err := src.GetOpenInterest(ctx, category, symbol, "1h", a.config.Lookback)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения данных открытого интереса: %w", err)
	}

	// Получаем исторические свечи для анализа дивергенции
	candles, err := src.GetKlines(ctx, category, symbol, "1h", a.config.Lookback)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения исторических свечей: %w", err)
	}

	r, err := a.Evaluate(symbol, openInterest, candles)
	if err != nil {
		return nil, err
	}
	r.Category = category
	return r, nil
}

// Evaluate интерпретирует открытый интерес (новые первыми) и свечи (старые первыми)
func (a *Analyzer) Evaluate(symbol string, data []models.OpenInterest, candles []models.Candle) (*Report, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("нет данных об открытом интересе для %s", symbol)
	}

	// Хронологический порядок
	oi := make([]float64, len(data))
	for i, d := range data {
		oi[len(data)-1-i] = d.Value
	}

	r := &Report{
		Symbol:  symbol,
		Current: oi[len(oi)-1],
		Samples: len(oi),
	}
	if len(oi) > 1 {
		r.Previous = oi[len(oi)-2]
		r.ChangePct = percentChange(r.Previous, r.Current)
		r.PeriodChange = percentChange(oi[0], r.Current)
	}

	changeSignal := a.analyzeOIChange(r.ChangePct, len(oi))
	trendSignal, trend := a.analyzeOITrend(oi)
	divergenceSignal, divergence := a.analyzeOIvsPriceDivergence(oi, candles)
	r.Trend = trend
	r.Divergence = divergence

	// Комбинируем сигналы с весами
	r.Signal = clamp(changeSignal*0.4+divergenceSignal*0.4+trendSignal*0.2, -100, 100)
	r.Interpretation = interpret(r)
	return r, nil
}

// analyzeOIChange анализирует изменение открытого интереса
func (a *Analyzer) analyzeOIChange(percentChange float64, samples int) float64 {
	if samples < 2 || math.Abs(percentChange) < a.config.ChangeThreshold {
		return 0
	}

	// Рост OI усиливает текущее движение, снижение говорит о завершении тренда
	if percentChange > 0 {
		return math.Min(percentChange/a.config.ChangeThreshold, 1.0) * 50
	}
	return math.Min(math.Abs(percentChange)/a.config.ChangeThreshold, 1.0) * -20
}

// analyzeOITrend анализирует тренд открытого интереса
func (a *Analyzer) analyzeOITrend(oi []float64) (float64, string) {
	if len(oi) < 3 {
		return 0, "flat"
	}

	// Наклон в процентах от среднего значения за бар
	slope := relativeSlope(oi)
	switch {
	case slope > 0.05:
		return 30 * math.Min(slope, 1.0), "rising"
	case slope < -0.05:
		return -30 * math.Min(math.Abs(slope), 1.0), "falling"
	default:
		return 0, "flat"
	}
}

// analyzeOIvsPriceDivergence анализирует дивергенцию между OI и ценой на последних барах
func (a *Analyzer) analyzeOIvsPriceDivergence(oi []float64, candles []models.Candle) (float64, string) {
	n := 5
	if len(oi) < n || len(candles) < n {
		return 0, "none"
	}

	prices := make([]float64, n)
	for i, c := range candles[len(candles)-n:] {
		prices[i] = c.Close
	}
	priceSlope := relativeSlope(prices)
	oiSlope := relativeSlope(oi[len(oi)-n:])
	strength := math.Min(math.Abs(priceSlope*oiSlope), 1.0)

	switch {
	case priceSlope > 0 && oiSlope < 0:
		// Цена растет, OI падает: ослабление роста
		return -70 * strength, "bearish"
	case priceSlope < 0 && oiSlope > 0:
		// Цена падает, OI растет: потенциальное замедление падения
		return 70 * strength, "bullish"
	case priceSlope > 0 && oiSlope > 0:
		return 40 * strength, "confirmed_up"
	case priceSlope < 0 && oiSlope < 0:
		return -40 * strength, "confirmed_down"
	default:
		return 0, "none"
	}
}

func interpret(r *Report) string {
	switch {
	case r.Trend == "rising" && r.Divergence == "bearish":
		return "OI растет при ослабевающей цене: приток позиций против тренда"
	case r.Trend == "rising":
		return "Открытый интерес растет: в рынок приходят новые позиции"
	case r.Trend == "falling":
		return "Открытый интерес снижается: позиции закрываются, тренд может выдыхаться"
	default:
		return "Открытый интерес стабилен"
	}
}

func percentChange(from, to float64) float64 {
	if from == 0 {
		return 0
	}
	return (to - from) / from * 100
}

// relativeSlope наклон регрессии в процентах от среднего значения
func relativeSlope(values []float64) float64 {
	var mean float64
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))
	if mean == 0 {
		return 0
	}
	return calculateSlope(values) / mean * 100
}

// calculateSlope вычисляет наклон линейной регрессии
func calculateSlope(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}

	n := float64(len(values))
	var sumX, sumY, sumXY, sumXX float64

	for i, y := range values {
		x := float64(i)
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}

	// Формула наклона линейной регрессии
	slope := (n*sumXY - sumX*sumY) / (n*sumXX - sumX*sumX)
	if math.IsNaN(slope) || math.IsInf(slope, 0) {
		return 0
	}

	return slope
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
