// Package scanner ищет торговые возможности среди ликвидных USDT-пар:
// фильтрует тикеры по обороту, анализирует кандидатов на нескольких
// таймфреймах и оценивает каждый сетап движком валидации.
package scanner

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/skalibog/bybit-mcp/internal/analysis/market"
	"github.com/skalibog/bybit-mcp/internal/analysis/technical"
	"github.com/skalibog/bybit-mcp/internal/config"
	"github.com/skalibog/bybit-mcp/internal/validation"
	"github.com/skalibog/bybit-mcp/pkg/logger"
	"github.com/skalibog/bybit-mcp/pkg/models"
	"go.uber.org/zap"
)

// Критерии отбора
const (
	Any        = "any"
	Oversold   = "oversold"
	Overbought = "overbought"
	Breakout   = "breakout"
	Reversal   = "reversal"
)

// Presets допустимые критерии отбора
var Presets = []string{Any, Oversold, Overbought, Breakout, Reversal}

// BenchmarkSymbol инструмент для оценки фона рынка
const BenchmarkSymbol = "BTCUSDT"

const benchmarkTimeframe = "4h"

// Criteria параметры сканирования
type Criteria struct {
	Preset       string
	Category     string
	MinVolume24h float64
	Limit        int
}

// Record найденная возможность
type Record struct {
	Symbol          string               `json:"symbol"`
	Side            models.Side          `json:"side"`
	Reason          string               `json:"reason"`
	EntryPrice      float64              `json:"entry_price"`
	StopLoss        float64              `json:"stop_loss"`
	TakeProfit      float64              `json:"take_profit"`
	Score           float64              `json:"score"`
	PassedChecks    int                  `json:"passed_checks"`
	TotalChecks     int                  `json:"total_checks"`
	IsValid         bool                 `json:"is_valid"`
	Checklist       validation.Checklist `json:"checklist"`
	Warnings        []string             `json:"warnings"`
	Recommendations []string             `json:"recommendations"`
	EntryPlan       validation.EntryPlan `json:"entry_plan"`
	ChangePct24h    float64              `json:"change_pct_24h"`
	Turnover24h     float64              `json:"turnover_24h"`
	Signal          float64              `json:"signal"`
}

// Context фон рынка, общий для всех кандидатов одного сканирования
type Context struct {
	BTCTrend  string `json:"btc_trend"`
	Sentiment string `json:"sentiment"`
}

// Scanner сканер рынка
type Scanner struct {
	config   config.ScannerConfig
	analyzer *market.Analyzer
	engine   *validation.Engine
}

// New создает сканер
func New(cfg config.ScannerConfig, analyzer *market.Analyzer, engine *validation.Engine) *Scanner {
	if cfg.MaxCandidates <= 0 {
		cfg.MaxCandidates = 30
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 5
	}
	if len(cfg.Timeframes) == 0 {
		cfg.Timeframes = []string{"15m", "1h", "4h", "1d"}
	}
	if cfg.ATRStopMult <= 0 {
		cfg.ATRStopMult = 1.5
	}
	if cfg.RewardRatio <= 0 {
		cfg.RewardRatio = 2.0
	}
	return &Scanner{config: cfg, analyzer: analyzer, engine: engine}
}

// ValidPreset проверяет критерий отбора
func ValidPreset(preset string) bool {
	for _, p := range Presets {
		if p == preset {
			return true
		}
	}
	return false
}

// Scan выполняет сканирование и возвращает возможности по убыванию оценки
func (s *Scanner) Scan(ctx context.Context, c Criteria) ([]Record, error) {
	if c.Preset == "" {
		c.Preset = Any
	}
	if !ValidPreset(c.Preset) {
		return nil, fmt.Errorf("неизвестный критерий отбора: %s", c.Preset)
	}
	if c.Category == "" {
		c.Category = "linear"
	}
	if c.MinVolume24h <= 0 {
		c.MinVolume24h = s.config.MinVolume24h
	}
	if c.Limit <= 0 {
		c.Limit = 10
	}

	tickers, err := s.analyzer.Source().GetTickers(ctx, c.Category, "")
	if err != nil {
		return nil, fmt.Errorf("ошибка получения тикеров: %w", err)
	}

	candidates := Candidates(tickers, c.MinVolume24h, s.config.MaxCandidates)
	logger.Info("Сканирование рынка",
		zap.String("preset", c.Preset),
		zap.String("category", c.Category),
		zap.Int("tickers", len(tickers)),
		zap.Int("candidates", len(candidates)))
	if len(candidates) == 0 {
		return []Record{}, nil
	}

	mctx := s.marketContext(ctx, c.Category, tickers)

	symbols := make([]string, len(candidates))
	byName := make(map[string]models.Ticker, len(candidates))
	for i, t := range candidates {
		symbols[i] = t.Symbol
		byName[t.Symbol] = t
	}
	analyses := s.analyzer.AnalyzeMany(ctx, symbols, c.Category, s.config.Timeframes, s.config.Concurrency)

	records := make([]Record, 0, len(analyses))
	for symbol, a := range analyses {
		rec, ok := s.evaluate(a, c.Preset, mctx)
		if !ok {
			continue
		}
		t := byName[symbol]
		rec.ChangePct24h = t.ChangePct24h
		rec.Turnover24h = t.Turnover24h
		records = append(records, rec)
	}

	sort.Slice(records, func(i, j int) bool {
		if records[i].Score != records[j].Score {
			return records[i].Score > records[j].Score
		}
		return records[i].Turnover24h > records[j].Turnover24h
	})
	if len(records) > c.Limit {
		records = records[:c.Limit]
	}
	return records, nil
}

// Candidates отбирает USDT-пары с оборотом не ниже minTurnover и
// возвращает не более max самых ликвидных
func Candidates(tickers []models.Ticker, minTurnover float64, max int) []models.Ticker {
	out := make([]models.Ticker, 0, len(tickers))
	for _, t := range tickers {
		if !strings.HasSuffix(t.Symbol, "USDT") || t.LastPrice <= 0 {
			continue
		}
		if t.Turnover24h < minTurnover {
			continue
		}
		out = append(out, t)
	}
	out = market.SortTickers(out, market.SortByVolume)
	if max > 0 && len(out) > max {
		out = out[:max]
	}
	return out
}

// marketContext тренд BTC на 4h и настроение рынка по снимку тикеров
func (s *Scanner) marketContext(ctx context.Context, category string, tickers []models.Ticker) Context {
	mctx := Context{
		BTCTrend:  technical.Neutral,
		Sentiment: market.BuildOverview(tickers, 5).SentimentLabel(),
	}
	btc := s.analyzer.AnalyzeTimeframe(ctx, BenchmarkSymbol, category, benchmarkTimeframe, false)
	if btc.OK() {
		mctx.BTCTrend = btc.Technical.Trend
	} else {
		logger.Warn("Не удалось определить тренд BTC, используется нейтральный", zap.String("error", btc.Error))
	}
	return mctx
}

// evaluate применяет критерий отбора и оценивает сетап
func (s *Scanner) evaluate(a *market.Analysis, preset string, mctx Context) (Record, bool) {
	ok := a.Successful()
	if len(ok) == 0 || a.Price <= 0 {
		return Record{}, false
	}

	side, reason, matched := Match(preset, a)
	if !matched {
		return Record{}, false
	}

	atr := primaryATR(ok)
	if atr <= 0 {
		return Record{}, false
	}
	entry := a.Price
	stop, take, valid := Targets(side, entry, atr, s.config.ATRStopMult, s.config.RewardRatio)
	if !valid {
		logger.Debug("Цели сетапа вне допустимого диапазона, кандидат пропущен",
			zap.String("symbol", a.Symbol), zap.Float64("atr", atr))
		return Record{}, false
	}

	op := validation.FromAnalysis(a, side, entry, stop, take)
	op.BTCTrend = mctx.BTCTrend
	op.Sentiment = mctx.Sentiment
	res := s.engine.Validate(op)

	return Record{
		Symbol:          a.Symbol,
		Side:            side,
		Reason:          reason,
		EntryPrice:      entry,
		StopLoss:        stop,
		TakeProfit:      take,
		Score:           res.Score,
		PassedChecks:    res.Passed,
		TotalChecks:     res.Total,
		IsValid:         res.IsValid,
		Checklist:       res.Checklist,
		Warnings:        res.Warnings,
		Recommendations: res.Recommendations,
		EntryPlan:       res.EntryPlan,
		Signal:          a.Signal,
	}, true
}

// Match проверяет критерий отбора и определяет направление сделки
func Match(preset string, a *market.Analysis) (models.Side, string, bool) {
	ok := a.Successful()
	if len(ok) == 0 {
		return "", "", false
	}
	primary := ok[0].Technical

	switch preset {
	case Oversold:
		if primary.RSI != nil && *primary.RSI < 30 {
			return models.Long, fmt.Sprintf("RSI %.1f на %s: перепроданность", *primary.RSI, ok[0].Timeframe), true
		}
	case Overbought:
		if primary.RSI != nil && *primary.RSI > 70 {
			return models.Short, fmt.Sprintf("RSI %.1f на %s: перекупленность", *primary.RSI, ok[0].Timeframe), true
		}
	case Breakout:
		for _, tf := range ok {
			if tf.Structure == nil {
				continue
			}
			if tf.Structure.HasBullishBOS() {
				return models.Long, "Бычий слом структуры на " + tf.Timeframe, true
			}
			if tf.Structure.HasBearishBOS() {
				return models.Short, "Медвежий слом структуры на " + tf.Timeframe, true
			}
		}
	case Reversal:
		for _, tf := range ok {
			if tf.Structure == nil {
				continue
			}
			if tf.Structure.HasBullishChoCh() {
				return models.Long, "Бычья смена характера на " + tf.Timeframe, true
			}
			if tf.Structure.HasBearishChoCh() {
				return models.Short, "Медвежья смена характера на " + tf.Timeframe, true
			}
		}
	default:
		if a.Alignment.Direction == technical.Bearish {
			return models.Short, "Преобладает медвежий тренд: " + a.Recommendation, true
		}
		return models.Long, "Преобладает бычий или нейтральный тренд: " + a.Recommendation, true
	}
	return "", "", false
}

// Targets стоп на mult ATR от входа и тейк на reward стопов
func Targets(side models.Side, entry, atr, mult, reward float64) (stop, take float64, ok bool) {
	risk := atr * mult
	if side == models.Short {
		stop, take = entry+risk, entry-risk*reward
	} else {
		stop, take = entry-risk, entry+risk*reward
	}
	// при ATR, сравнимом с ценой, цель шорта или стоп лонга уходят в ноль
	return stop, take, stop > 0 && take > 0
}

func primaryATR(ok []market.TimeframeAnalysis) float64 {
	for _, tf := range ok {
		if tf.Technical.ATR != nil && *tf.Technical.ATR > 0 {
			return *tf.Technical.ATR
		}
	}
	return 0
}
