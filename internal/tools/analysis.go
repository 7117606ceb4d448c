package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/skalibog/bybit-mcp/internal/analysis/market"
	"github.com/skalibog/bybit-mcp/internal/analysis/patterns"
	"github.com/skalibog/bybit-mcp/internal/analysis/technical"
	"github.com/skalibog/bybit-mcp/internal/interval"
	"github.com/skalibog/bybit-mcp/internal/mcp"
	"github.com/skalibog/bybit-mcp/internal/scanner"
	"github.com/skalibog/bybit-mcp/internal/validation"
	"github.com/skalibog/bybit-mcp/pkg/logger"
	"github.com/skalibog/bybit-mcp/pkg/models"
	"go.uber.org/zap"
)

type analyzeAssetArgs struct {
	Symbol          string   `json:"symbol" validate:"required" desc:"Торговая пара, например BTCUSDT"`
	Category        string   `json:"category" default:"linear" validate:"oneof=spot linear inverse" desc:"Категория: spot, linear или inverse"`
	Timeframes      []string `json:"timeframes" default:"15m,1h,4h,1d" validate:"min=1,dive,oneof=1m 3m 5m 15m 30m 1h 2h 3h 4h 6h 12h 1d 1w 1M" desc:"Таймфреймы анализа"`
	IncludePatterns bool     `json:"include_patterns" default:"true" desc:"Искать свечные паттерны"`
}

type indicatorsArgs struct {
	Symbol     string   `json:"symbol" validate:"required" desc:"Торговая пара, например BTCUSDT"`
	Category   string   `json:"category" default:"linear" validate:"oneof=spot linear inverse" desc:"Категория: spot, linear или inverse"`
	Timeframe  string   `json:"timeframe" default:"1h" validate:"oneof=1m 3m 5m 15m 30m 1h 2h 3h 4h 6h 12h 1d 1w 1M" desc:"Таймфрейм"`
	Indicators []string `json:"indicators" default:"rsi,macd,bollinger,ema,atr,volume" validate:"min=1,dive,oneof=rsi macd bollinger ema atr adx volume trend" desc:"Индикаторы: rsi, macd, bollinger, ema, atr, adx, volume, trend"`
}

type patternsArgs struct {
	Symbol       string   `json:"symbol" validate:"required" desc:"Торговая пара, например BTCUSDT"`
	Category     string   `json:"category" default:"linear" validate:"oneof=spot linear inverse" desc:"Категория: spot, linear или inverse"`
	Timeframe    string   `json:"timeframe" default:"1h" validate:"oneof=1m 3m 5m 15m 30m 1h 2h 3h 4h 6h 12h 1d 1w 1M" desc:"Таймфрейм"`
	PatternTypes []string `json:"pattern_types" default:"all" desc:"Типы паттернов или all"`
	Lookback     int      `json:"lookback" default:"10" validate:"min=1,max=200" desc:"Сколько последних свечей проверять"`
}

type levelsArgs struct {
	Symbol          string `json:"symbol" validate:"required" desc:"Торговая пара, например BTCUSDT"`
	Category        string `json:"category" default:"linear" validate:"oneof=spot linear inverse" desc:"Категория: spot, linear или inverse"`
	Timeframe       string `json:"timeframe" default:"1h" validate:"oneof=1m 3m 5m 15m 30m 1h 2h 3h 4h 6h 12h 1d 1w 1M" desc:"Таймфрейм"`
	LookbackPeriods int    `json:"lookback_periods" default:"100" validate:"min=10,max=1000" desc:"Число свечей для поиска уровней"`
}

type correlationArgs struct {
	Symbol    string `json:"symbol" validate:"required" desc:"Торговая пара, например ETHUSDT"`
	Category  string `json:"category" default:"linear" validate:"oneof=spot linear inverse" desc:"Категория: spot, linear или inverse"`
	Timeframe string `json:"timeframe" default:"1h" validate:"oneof=1m 3m 5m 15m 30m 1h 2h 3h 4h 6h 12h 1d 1w 1M" desc:"Таймфрейм"`
	Period    int    `json:"period" default:"30" validate:"min=3,max=1000" desc:"Число доходностей для расчета"`
}

type alignmentArgs struct {
	Symbol     string   `json:"symbol" validate:"required" desc:"Торговая пара, например BTCUSDT"`
	Category   string   `json:"category" default:"linear" validate:"oneof=spot linear inverse" desc:"Категория: spot, linear или inverse"`
	Timeframes []string `json:"timeframes" default:"15m,1h,4h,1d" validate:"min=1,dive,oneof=1m 3m 5m 15m 30m 1h 2h 3h 4h 6h 12h 1d 1w 1M" desc:"Таймфреймы"`
}

type validateEntryArgs struct {
	Symbol              string   `json:"symbol" validate:"required" desc:"Торговая пара, например BTCUSDT"`
	Side                string   `json:"side" validate:"required,oneof=long short" desc:"Направление: long или short"`
	EntryPrice          float64  `json:"entry_price" validate:"gt=0" desc:"Цена входа"`
	StopLoss            float64  `json:"stop_loss" validate:"gt=0" desc:"Стоп-лосс"`
	TakeProfit          float64  `json:"take_profit" validate:"gt=0" desc:"Тейк-профит"`
	RiskPct             *float64 `json:"risk_pct,omitempty" validate:"omitempty,gt=0,lte=100" desc:"Риск на сделку в процентах депозита"`
	Category            string   `json:"category" default:"linear" validate:"oneof=spot linear inverse" desc:"Категория: spot, linear или inverse"`
	Timeframes          []string `json:"timeframes" default:"15m,1h,4h,1d" validate:"min=1,dive,oneof=1m 3m 5m 15m 30m 1h 2h 3h 4h 6h 12h 1d 1w 1M" desc:"Таймфреймы для проверки"`
	NearLevel           bool     `json:"near_level" desc:"Вход у сильного уровня, подтвержденного вручную"`
	OnchainSupport      bool     `json:"onchain_support" desc:"Ончейн-данные поддерживают сделку"`
	Sentiment           string   `json:"sentiment,omitempty" validate:"omitempty,oneof=positive neutral negative" desc:"Настроение рынка; по умолчанию по тикерам"`
	ConfirmedIndicators int      `json:"confirmed_indicators_count" validate:"gte=0" desc:"Внешний счетчик подтверждающих индикаторов"`
}

// ValidationReport результат validate_entry
type ValidationReport struct {
	validation.Result
	BTCTrend  string `json:"btc_trend"`
	Sentiment string `json:"sentiment"`
	Analyzed  int    `json:"timeframes_analyzed"`
}

func (t *Toolbox) analysisTools() []mcp.Tool {
	return []mcp.Tool{
		mcp.NewTool("analyze_asset",
			"Мультитаймфреймовый анализ: индикаторы, структура рынка, уровни, паттерны и сводный сигнал",
			t.analyzeAsset),
		mcp.NewTool("calculate_indicators",
			"Расчет выбранных индикаторов на одном таймфрейме",
			t.calculateIndicators),
		mcp.NewTool("detect_patterns",
			"Поиск свечных паттернов с оценкой надежности 0-1",
			t.detectPatterns),
		mcp.NewTool("find_support_resistance",
			"Уровни поддержки и сопротивления по кластерам свинговых точек",
			t.findLevels),
		mcp.NewTool("get_btc_correlation",
			"Корреляция доходностей инструмента с BTCUSDT в диапазоне [-1, 1]",
			t.btcCorrelation),
		mcp.NewTool("check_tf_alignment",
			"Согласованность трендов на нескольких таймфреймах",
			t.checkAlignment),
		mcp.NewTool("validate_entry",
			"Проверка сетапа по десяти критериям: оценка 0-10, чек-лист, предупреждения и размер позиции",
			t.validateEntry),
	}
}

func (t *Toolbox) analyzeAsset(ctx context.Context, args analyzeAssetArgs) (any, error) {
	return t.analyzer.Analyze(ctx, normalizeSymbol(args.Symbol), args.Category, args.Timeframes, args.IncludePatterns)
}

func (t *Toolbox) candles(ctx context.Context, category, symbol, timeframe string, limit int) ([]models.Candle, error) {
	candles, err := t.market.GetKlines(ctx, category, symbol, timeframe, limit)
	if err != nil {
		return nil, err
	}
	if len(candles) == 0 {
		return nil, fmt.Errorf("нет свечей для %s %s", symbol, timeframe)
	}
	return candles, nil
}

func (t *Toolbox) calculateIndicators(ctx context.Context, args indicatorsArgs) (any, error) {
	symbol := normalizeSymbol(args.Symbol)
	candles, err := t.candles(ctx, args.Category, symbol, args.Timeframe, t.analyzer.CandleLimit())
	if err != nil {
		return nil, err
	}
	snap, err := t.analyzer.Technical().Evaluate(candles)
	if err != nil {
		return nil, err
	}

	values := make(map[string]any, len(args.Indicators))
	for _, name := range args.Indicators {
		values[name] = pickIndicator(snap, name)
	}
	return map[string]any{
		"symbol":     symbol,
		"timeframe":  interval.ToHuman(args.Timeframe),
		"price":      snap.Price,
		"bars":       snap.Bars,
		"indicators": values,
		"signal":     snap.Signal,
	}, nil
}

// pickIndicator возвращает значение индикатора; nil если данных не хватило
func pickIndicator(s *technical.Snapshot, name string) any {
	switch strings.ToLower(name) {
	case "rsi":
		return s.RSI
	case "macd":
		return s.MACD
	case "bollinger":
		return s.Bollinger
	case "ema":
		return s.EMA
	case "atr":
		return map[string]any{"value": s.ATR, "pct": s.ATRPercent, "volatility": s.Volatility}
	case "adx":
		return s.ADX
	case "volume":
		return map[string]any{"ratio": s.VolumeRatio}
	case "trend":
		return map[string]any{"direction": s.Trend, "strength": s.TrendStrength}
	}
	return nil
}

func (t *Toolbox) detectPatterns(ctx context.Context, args patternsArgs) (any, error) {
	symbol := normalizeSymbol(args.Symbol)
	candles, err := t.candles(ctx, args.Category, symbol, args.Timeframe, t.analyzer.CandleLimit())
	if err != nil {
		return nil, err
	}

	found := patterns.NewDetector(args.Lookback).Detect(candles, patterns.ParseTypes(args.PatternTypes))
	if found == nil {
		found = []patterns.Pattern{}
	}
	return map[string]any{
		"symbol":          symbol,
		"timeframe":       interval.ToHuman(args.Timeframe),
		"count":           len(found),
		"patterns":        found,
		"max_reliability": patterns.MaxReliability(found),
	}, nil
}

func (t *Toolbox) findLevels(ctx context.Context, args levelsArgs) (any, error) {
	symbol := normalizeSymbol(args.Symbol)
	candles, err := t.candles(ctx, args.Category, symbol, args.Timeframe, args.LookbackPeriods)
	if err != nil {
		return nil, err
	}
	res := t.analyzer.Levels().Find(candles, args.LookbackPeriods)
	return map[string]any{
		"symbol":             symbol,
		"timeframe":          interval.ToHuman(args.Timeframe),
		"levels":             res,
		"nearest_support":    res.NearestSupport(),
		"nearest_resistance": res.NearestResistance(),
	}, nil
}

func (t *Toolbox) btcCorrelation(ctx context.Context, args correlationArgs) (any, error) {
	return t.analyzer.Correlate(ctx, args.Category, normalizeSymbol(args.Symbol), scanner.BenchmarkSymbol, args.Timeframe, args.Period)
}

func (t *Toolbox) checkAlignment(ctx context.Context, args alignmentArgs) (any, error) {
	symbol := normalizeSymbol(args.Symbol)
	a, err := t.analyzer.Analyze(ctx, symbol, args.Category, args.Timeframes, false)
	if err != nil {
		return nil, err
	}
	return struct {
		Symbol string `json:"symbol"`
		market.Alignment
	}{Symbol: symbol, Alignment: a.Alignment}, nil
}

func (t *Toolbox) validateEntry(ctx context.Context, args validateEntryArgs) (any, error) {
	symbol := normalizeSymbol(args.Symbol)
	side := models.Side(args.Side)
	if err := checkGeometry(side, args.EntryPrice, args.StopLoss, args.TakeProfit); err != nil {
		return nil, &mcp.ValidationError{Tool: "validate_entry", Err: err}
	}

	a, err := t.analyzer.Analyze(ctx, symbol, args.Category, args.Timeframes, true)
	if err != nil {
		return nil, err
	}

	op := validation.FromAnalysis(a, side, args.EntryPrice, args.StopLoss, args.TakeProfit)
	op.NearLevel = args.NearLevel
	op.OnchainSupport = args.OnchainSupport
	op.ConfirmedIndicators = args.ConfirmedIndicators
	if args.RiskPct != nil {
		op.RiskFraction = *args.RiskPct / 100
	}

	op.BTCTrend = t.btcTrend(ctx, args.Category)
	op.Sentiment = args.Sentiment
	if op.Sentiment == "" {
		op.Sentiment = t.sentiment(ctx, args.Category)
	}

	res := t.engine.Validate(op)
	logger.Info("Проверка сетапа",
		zap.String("symbol", symbol),
		zap.String("side", args.Side),
		zap.Int("passed", res.Passed),
		zap.Bool("valid", res.IsValid))

	return ValidationReport{
		Result:    res,
		BTCTrend:  op.BTCTrend,
		Sentiment: op.Sentiment,
		Analyzed:  len(a.Successful()),
	}, nil
}

// checkGeometry проверяет расположение стопа и тейка относительно входа
func checkGeometry(side models.Side, entry, stopLoss, takeProfit float64) error {
	if side == models.Long && !(stopLoss < entry && takeProfit > entry) {
		return fmt.Errorf("для long стоп-лосс должен быть ниже входа, а тейк-профит выше")
	}
	if side == models.Short && !(stopLoss > entry && takeProfit < entry) {
		return fmt.Errorf("для short стоп-лосс должен быть выше входа, а тейк-профит ниже")
	}
	return nil
}

// btcTrend тренд BTCUSDT на 4h; нейтральный, если данных нет
func (t *Toolbox) btcTrend(ctx context.Context, category string) string {
	if category == "inverse" {
		category = DefaultCategory
	}
	btc := t.analyzer.AnalyzeTimeframe(ctx, scanner.BenchmarkSymbol, category, "4h", false)
	if !btc.OK() {
		logger.Warn("Тренд BTC недоступен", zap.String("error", btc.Error))
		return technical.Neutral
	}
	return btc.Technical.Trend
}

// sentiment настроение рынка по снимку тикеров; neutral, если тикеры недоступны
func (t *Toolbox) sentiment(ctx context.Context, category string) string {
	tickers, err := t.exchange.GetTickers(ctx, category, "")
	if err != nil {
		logger.Warn("Настроение рынка недоступно", zap.Error(err))
		return "neutral"
	}
	return market.BuildOverview(tickers, 0).SentimentLabel()
}
