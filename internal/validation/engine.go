// Package validation оценивает торговый сетап по матрице из десяти критериев
// и рассчитывает размер позиции по фиксированному риску на депозит.
package validation

import (
	"fmt"
	"math"

	"github.com/skalibog/bybit-mcp/internal/analysis/levels"
	"github.com/skalibog/bybit-mcp/internal/analysis/technical"
	"github.com/skalibog/bybit-mcp/internal/config"
	"github.com/skalibog/bybit-mcp/pkg/models"
)

// Критерии в порядке оценки
const (
	TrendAlignment      = "trend_alignment"
	MultipleIndicators  = "multiple_indicators"
	StrongSRLevel       = "strong_sr_level"
	VolumeConfirmation  = "volume_confirmation"
	PatternReliability  = "pattern_reliability"
	GoodRR              = "good_rr"
	FavorableConditions = "favorable_conditions"
	BTCSupport          = "btc_support"
	PositiveSentiment   = "positive_sentiment"
	OnchainSupport      = "onchain_support"
)

// Criteria все критерии в порядке оценки
var Criteria = []string{
	TrendAlignment,
	MultipleIndicators,
	StrongSRLevel,
	VolumeConfirmation,
	PatternReliability,
	GoodRR,
	FavorableConditions,
	BTCSupport,
	PositiveSentiment,
	OnchainSupport,
}

// TotalChecks число критериев
const TotalChecks = 10

// Пороги
const (
	ValidThreshold        = 8
	CautiousThreshold     = 7
	MinAgreeingTrends     = 3
	MinConfirmations      = 5
	MinVolumeRatio        = 1.5
	MinPatternReliability = 0.70
	MinRR                 = 2.0
	DefaultNearPct        = 2.0

	// погрешность сравнения R:R, цели считаются в float64
	rrEpsilon = 1e-9
)

// warnings фиксированные строки для непройденных критериев
var warnings = map[string]string{
	TrendAlignment:      "Тренды на таймфреймах не согласованы с направлением сделки",
	MultipleIndicators:  "Недостаточно подтверждающих индикаторов",
	StrongSRLevel:       "Вход далеко от сильного уровня поддержки/сопротивления",
	VolumeConfirmation:  "Объем не подтверждает движение",
	PatternReliability:  "Нет надежного свечного паттерна",
	GoodRR:              "Соотношение риск/прибыль ниже 1:2",
	FavorableConditions: "Неблагоприятные рыночные условия (волатильность или слабый тренд)",
	BTCSupport:          "BTC движется против направления сделки",
	PositiveSentiment:   "Негативный рыночный сентимент",
	OnchainSupport:      "Нет подтверждения ончейн-данными",
}

// Checklist результат проверки критериев
type Checklist map[string]bool

// Passed число пройденных критериев
func (c Checklist) Passed() int {
	n := 0
	for _, name := range Criteria {
		if c[name] {
			n++
		}
	}
	return n
}

// EntryPlan размер позиции и риск
type EntryPlan struct {
	RecommendedSize float64 `json:"recommended_size"`
	RiskUSD         float64 `json:"risk_usd"`
	RR              float64 `json:"rr"`
	DepositUSD      float64 `json:"deposit_usd"`
	RiskFraction    float64 `json:"risk_fraction"`
	PositionValue   float64 `json:"position_value_usd"`
}

// Result результат проверки сетапа
type Result struct {
	Symbol          string      `json:"symbol"`
	Side            models.Side `json:"side"`
	EntryPrice      float64     `json:"entry_price"`
	StopLoss        float64     `json:"stop_loss"`
	TakeProfit      float64     `json:"take_profit"`
	Passed          int         `json:"passed_checks"`
	Total           int         `json:"total_checks"`
	Score           float64     `json:"score"`
	IsValid         bool        `json:"is_valid"`
	Checklist       Checklist   `json:"checklist"`
	Warnings        []string    `json:"warnings"`
	Recommendations []string    `json:"recommendations"`
	EntryPlan       EntryPlan   `json:"entry_plan"`
}

// Engine движок проверки сетапов
type Engine struct {
	DepositUSD   float64
	RiskFraction float64
	NearPct      float64
}

// NewEngine создает движок с настройками риска
func NewEngine(risk config.RiskConfig, nearPct float64) *Engine {
	if nearPct <= 0 {
		nearPct = DefaultNearPct
	}
	return &Engine{
		DepositUSD:   risk.DepositUSD,
		RiskFraction: risk.RiskFraction,
		NearPct:      nearPct,
	}
}

// Validate оценивает сетап
func (e *Engine) Validate(op Opportunity) Result {
	checklist := e.Check(op)
	passed, score, valid := Score(checklist)

	fraction := e.RiskFraction
	if op.RiskFraction > 0 {
		fraction = op.RiskFraction
	}
	plan := e.Size(op.EntryPrice, op.StopLoss, fraction)
	plan.RR = RiskReward(op.EntryPrice, op.StopLoss, op.TakeProfit)

	res := Result{
		Symbol:     op.Symbol,
		Side:       op.Side,
		EntryPrice: op.EntryPrice,
		StopLoss:   op.StopLoss,
		TakeProfit: op.TakeProfit,
		Passed:     passed,
		Total:      TotalChecks,
		Score:      score,
		IsValid:    valid,
		Checklist:  checklist,
		Warnings:   Warnings(checklist),
		EntryPlan:  plan,
	}
	res.Recommendations = Recommendations(score, plan)
	return res
}

// Check вычисляет каждый из десяти критериев
func (e *Engine) Check(op Opportunity) Checklist {
	c := make(Checklist, TotalChecks)

	c[TrendAlignment] = op.AgreeingTrends() >= MinAgreeingTrends
	c[MultipleIndicators] = op.Confirmations() >= MinConfirmations
	c[StrongSRLevel] = op.NearLevel || e.nearTrackedLevel(op)
	c[VolumeConfirmation] = op.VolumeRatio >= MinVolumeRatio
	c[PatternReliability] = op.PatternReliability >= MinPatternReliability
	c[GoodRR] = RiskReward(op.EntryPrice, op.StopLoss, op.TakeProfit) >= MinRR-rrEpsilon
	c[FavorableConditions] = (op.Volatility == "normal" || op.Volatility == "low") &&
		(op.TrendStrength == "strong" || op.TrendStrength == "medium")
	c[BTCSupport] = compatible(op.BTCTrend, op.Side)
	c[PositiveSentiment] = op.Sentiment == "positive" || op.Sentiment == "neutral"
	c[OnchainSupport] = op.OnchainSupport

	return c
}

func (e *Engine) nearTrackedLevel(op Opportunity) bool {
	tracked := op.Supports
	if op.Side == models.Short {
		tracked = op.Resistances
	}
	_, ok := levels.NearLevel(op.EntryPrice, tracked, e.NearPct)
	return ok
}

// Size рассчитывает размер позиции: risk_usd = fraction × deposit,
// size = risk_usd / |entry − stop_loss|
func (e *Engine) Size(entry, stopLoss, fraction float64) EntryPlan {
	plan := EntryPlan{
		DepositUSD:   e.DepositUSD,
		RiskFraction: fraction,
		RiskUSD:      fraction * e.DepositUSD,
	}
	risk := math.Abs(entry - stopLoss)
	if risk == 0 || plan.RiskUSD == 0 {
		return plan
	}
	plan.RecommendedSize = plan.RiskUSD / risk
	plan.PositionValue = plan.RecommendedSize * entry
	return plan
}

// Score возвращает число пройденных критериев, оценку 0..10 и признак валидности
func Score(c Checklist) (int, float64, bool) {
	passed := c.Passed()
	return passed, float64(passed) * 10 / TotalChecks, passed >= ValidThreshold
}

// RiskReward отношение |tp − entry| к |entry − sl|; 0 при нулевом риске
func RiskReward(entry, stopLoss, takeProfit float64) float64 {
	risk := math.Abs(entry - stopLoss)
	if risk == 0 {
		return 0
	}
	return math.Abs(takeProfit-entry) / risk
}

// Warnings строки предупреждений по непройденным критериям
func Warnings(c Checklist) []string {
	out := []string{}
	for _, name := range Criteria {
		if !c[name] {
			out = append(out, warnings[name])
		}
	}
	return out
}

// Recommendations рекомендации по оценке: ≥8 открывать, ≥7 осторожно, иначе ждать
func Recommendations(score float64, plan EntryPlan) []string {
	switch {
	case score >= ValidThreshold:
		return []string{
			fmt.Sprintf("ОТКРЫВАТЬ: сетап подтвержден (%.1f/10)", score),
			fmt.Sprintf("Риск на сделку $%.2f, размер позиции %.6f", plan.RiskUSD, plan.RecommendedSize),
		}
	case score >= CautiousThreshold:
		return []string{
			fmt.Sprintf("ОСТОРОЖНО: сетап на грани (%.1f/10), уменьшить размер позиции", score),
			fmt.Sprintf("Рассмотреть размер не более %.6f", plan.RecommendedSize/2),
		}
	default:
		return []string{
			fmt.Sprintf("ЖДАТЬ: недостаточно подтверждений (%.1f/10)", score),
		}
	}
}

// compatible BTC поддерживает лонг при bullish/neutral и шорт при bearish/neutral
func compatible(btcTrend string, side models.Side) bool {
	switch btcTrend {
	case technical.Neutral:
		return true
	case technical.Bullish:
		return side == models.Long
	case technical.Bearish:
		return side == models.Short
	default:
		return false
	}
}
