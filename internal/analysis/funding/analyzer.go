package funding

import (
	"context"
	"fmt"
	"math"

	"github.com/skalibog/bybit-mcp/internal/config"
	"github.com/skalibog/bybit-mcp/pkg/models"
)

// Выплат финансирования в сутки на Bybit (каждые 8 часов)
const paymentsPerDay = 3

// Source источник истории ставок финансирования
type Source interface {
	GetFundingHistory(ctx context.Context, category, symbol string, limit int) ([]models.FundingRate, error)
}

// Report интерпретация ставки финансирования
type Report struct {
	Symbol         string  `json:"symbol"`
	CurrentRate    float64 `json:"current_rate"`
	CurrentRatePct float64 `json:"current_rate_pct"`
	AnnualizedPct  float64 `json:"annualized_pct"`
	AverageRate    float64 `json:"average_rate"`
	Trend          string  `json:"trend"` // rising | falling | flat
	Extreme        bool    `json:"extreme"`
	Bias           string  `json:"bias"`
	Signal         float64 `json:"signal"`
	Interpretation string  `json:"interpretation"`
	Samples        int     `json:"samples"`
}

// Analyzer реализует анализатор ставок финансирования
type Analyzer struct {
	config config.FundingConfig
}

// NewAnalyzer создает новый анализатор ставок финансирования
func NewAnalyzer(cfg config.FundingConfig) *Analyzer {
	return &Analyzer{
		config: cfg,
	}
}

// Analyze загружает историю ставок и интерпретирует ее
func (a *Analyzer) Analyze(ctx context.Context, src Source, category, symbol string) (*Report, error) {
	// Получаем историю ставок финансирования
	rates, err := src.GetFundingHistory(ctx, category, symbol, a.config.Periods)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения ставок финансирования: %w", err)
	}
	return a.Evaluate(symbol, rates)
}

// Evaluate интерпретирует историю ставок (новые первыми)
func (a *Analyzer) Evaluate(symbol string, rates []models.FundingRate) (*Report, error) {
	if len(rates) == 0 {
		return nil, fmt.Errorf("нет данных о ставках финансирования для %s", symbol)
	}

	current := rates[0].Rate
	var sum float64
	for _, r := range rates {
		sum += r.Rate
	}

	r := &Report{
		Symbol:         symbol,
		CurrentRate:    current,
		CurrentRatePct: current * 100,
		AnnualizedPct:  current * paymentsPerDay * 365 * 100,
		AverageRate:    sum / float64(len(rates)),
		Samples:        len(rates),
		Extreme:        math.Abs(current) > a.config.ExtremeThreshold,
	}

	switch {
	case current > 0:
		r.Bias = "longs_pay"
	case current < 0:
		r.Bias = "shorts_pay"
	default:
		r.Bias = "neutral"
	}

	// Анализируем различные аспекты ставок финансирования
	extremeSignal := a.analyzeExtremes(current)
	trendSignal, trend := a.analyzeTrend(rates)
	changeSignal := a.analyzeChange(rates)
	r.Trend = trend

	// Комбинируем сигналы с весами
	r.Signal = clamp(extremeSignal*0.4+trendSignal*0.4+changeSignal*0.2, -100, 100)
	r.Interpretation = interpret(r)

	return r, nil
}

// analyzeExtremes анализирует экстремальные значения ставок финансирования
func (a *Analyzer) analyzeExtremes(currentRate float64) float64 {
	// Высокая положительная ставка: держатели длинных позиций платят держателям коротких
	// Высокая отрицательная ставка: держатели коротких позиций платят держателям длинных
	switch {
	case currentRate > a.config.ExtremeThreshold:
		return -100 * math.Min(currentRate/0.01, 1.0)
	case currentRate < -a.config.ExtremeThreshold:
		return 100 * math.Min(math.Abs(currentRate)/0.01, 1.0)
	default:
		return clamp(-currentRate*10000, -100, 100)
	}
}

// analyzeTrend анализирует тренд ставок финансирования
func (a *Analyzer) analyzeTrend(rates []models.FundingRate) (float64, string) {
	// Нужно минимум 3 значения для анализа тренда
	if len(rates) < 3 {
		return 0, "flat"
	}

	// Линейная регрессия по хронологии (старые первыми)
	values := make([]float64, len(rates))
	for i, r := range rates {
		values[len(rates)-1-i] = r.Rate
	}
	slope := calculateSlope(values)

	// Рост ставок медвежий, снижение бычье
	switch {
	case slope > 1e-6:
		return -100 * math.Min(slope*1000, 1.0), "rising"
	case slope < -1e-6:
		return 100 * math.Min(math.Abs(slope)*1000, 1.0), "falling"
	default:
		return 0, "flat"
	}
}

// analyzeChange анализирует изменение ставок финансирования
func (a *Analyzer) analyzeChange(rates []models.FundingRate) float64 {
	if len(rates) < 2 {
		return 0
	}

	change := rates[0].Rate - rates[1].Rate

	// Резкое увеличение ставки медвежье, резкое уменьшение бычье
	if change > 0 {
		return -100 * math.Min(change/0.001, 1.0)
	}
	return 100 * math.Min(math.Abs(change)/0.001, 1.0)
}

func interpret(r *Report) string {
	switch {
	case r.Extreme && r.CurrentRate > 0:
		return "Экстремально высокая ставка: лонги перегружены, возможна коррекция"
	case r.Extreme && r.CurrentRate < 0:
		return "Экстремально низкая ставка: шорты перегружены, возможен шорт-сквиз"
	case r.CurrentRate > 0:
		return "Умеренно положительная ставка: преобладают лонги"
	case r.CurrentRate < 0:
		return "Умеренно отрицательная ставка: преобладают шорты"
	default:
		return "Нейтральная ставка"
	}
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
