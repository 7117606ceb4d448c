// Package market объединяет аналитические компоненты в мультитаймфреймовый
// анализ инструмента, оценку согласованности таймфреймов, корреляцию и обзор рынка.
package market

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/skalibog/bybit-mcp/internal/analysis/levels"
	"github.com/skalibog/bybit-mcp/internal/analysis/patterns"
	"github.com/skalibog/bybit-mcp/internal/analysis/structure"
	"github.com/skalibog/bybit-mcp/internal/analysis/technical"
	"github.com/skalibog/bybit-mcp/internal/analysis/volumedelta"
	"github.com/skalibog/bybit-mcp/internal/config"
	"github.com/skalibog/bybit-mcp/internal/interval"
	"github.com/skalibog/bybit-mcp/internal/storage"
	"github.com/skalibog/bybit-mcp/pkg/logger"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Рекомендации по сводному сигналу
const (
	StrongBuy  = "СИЛЬНАЯ ПОКУПКА"
	Buy        = "ПОКУПКА"
	Hold       = "НЕЙТРАЛЬНО"
	Sell       = "ПРОДАЖА"
	StrongSell = "СИЛЬНАЯ ПРОДАЖА"
)

// Параллельных загрузок таймфреймов на один инструмент
const timeframeConcurrency = 4

// TimeframeAnalysis анализ одного таймфрейма. При ошибке заполнено только Error.
type TimeframeAnalysis struct {
	Timeframe string              `json:"timeframe"`
	Error     string              `json:"error,omitempty"`
	Price     float64             `json:"price,omitempty"`
	Technical *technical.Snapshot `json:"technical,omitempty"`
	Structure *structure.Result   `json:"structure,omitempty"`
	Volume    *volumedelta.Report `json:"volume_delta,omitempty"`
	Levels    *levels.Result      `json:"levels,omitempty"`
	Patterns  []patterns.Pattern  `json:"patterns,omitempty"`
}

// OK сообщает об успешном анализе таймфрейма
func (t TimeframeAnalysis) OK() bool {
	return t.Error == "" && t.Technical != nil
}

// Analysis мультитаймфреймовый анализ инструмента
type Analysis struct {
	Symbol         string              `json:"symbol"`
	Category       string              `json:"category"`
	Price          float64             `json:"price"`
	Timeframes     []TimeframeAnalysis `json:"timeframes"`
	Alignment      Alignment           `json:"alignment"`
	Signal         float64             `json:"signal"`
	Recommendation string              `json:"recommendation"`
}

// Successful возвращает только успешно проанализированные таймфреймы
func (a *Analysis) Successful() []TimeframeAnalysis {
	out := make([]TimeframeAnalysis, 0, len(a.Timeframes))
	for _, tf := range a.Timeframes {
		if tf.OK() {
			out = append(out, tf)
		}
	}
	return out
}

// Timeframe возвращает анализ таймфрейма по имени
func (a *Analysis) Timeframe(name string) (TimeframeAnalysis, bool) {
	for _, tf := range a.Timeframes {
		if tf.Timeframe == name {
			return tf, true
		}
	}
	return TimeframeAnalysis{}, false
}

// Analyzer объединяет все аналитические компоненты
type Analyzer struct {
	config    config.AnalysisConfig
	source    storage.MarketData
	technical *technical.Analyzer
	structure *structure.Analyzer
	patterns  *patterns.Detector
	levels    *levels.Finder
	volume    *volumedelta.Analyzer
}

// NewAnalyzer создает новый анализатор
func NewAnalyzer(cfg config.AnalysisConfig, source storage.MarketData) *Analyzer {
	if cfg.CandleLimit <= 0 {
		cfg.CandleLimit = 200
	}
	return &Analyzer{
		config:    cfg,
		source:    source,
		technical: technical.NewAnalyzer(cfg.Technical),
		structure: structure.NewAnalyzer(cfg.Structure),
		patterns:  patterns.NewDetector(10),
		levels:    levels.NewFinder(cfg.Levels),
		volume:    volumedelta.NewAnalyzer(cfg.VolumeDelta),
	}
}

// Source возвращает источник данных
func (a *Analyzer) Source() storage.MarketData { return a.source }

// Technical возвращает анализатор индикаторов
func (a *Analyzer) Technical() *technical.Analyzer { return a.technical }

// Structure возвращает анализатор структуры
func (a *Analyzer) Structure() *structure.Analyzer { return a.structure }

// Patterns возвращает детектор паттернов
func (a *Analyzer) Patterns() *patterns.Detector { return a.patterns }

// Levels возвращает поиск уровней
func (a *Analyzer) Levels() *levels.Finder { return a.levels }

// CandleLimit число свечей, загружаемых для анализа
func (a *Analyzer) CandleLimit() int { return a.config.CandleLimit }

// Analyze анализирует инструмент на нескольких таймфреймах параллельно.
// Ошибка одного таймфрейма записывается в результат; ошибка возвращается,
// только если не удался ни один таймфрейм.
func (a *Analyzer) Analyze(ctx context.Context, symbol, category string, timeframes []string, includePatterns bool) (*Analysis, error) {
	if len(timeframes) == 0 {
		return nil, fmt.Errorf("не указаны таймфреймы")
	}
	symbol = strings.ToUpper(symbol)

	result := &Analysis{
		Symbol:     symbol,
		Category:   category,
		Timeframes: make([]TimeframeAnalysis, len(timeframes)),
	}

	var g errgroup.Group
	g.SetLimit(timeframeConcurrency)
	for i, tf := range timeframes {
		i, tf := i, tf
		g.Go(func() error {
			result.Timeframes[i] = a.AnalyzeTimeframe(ctx, symbol, category, tf, includePatterns)
			return nil
		})
	}
	_ = g.Wait()

	ok := result.Successful()
	if len(ok) == 0 {
		return nil, fmt.Errorf("не удалось проанализировать %s ни на одном таймфрейме: %s", symbol, result.Timeframes[0].Error)
	}

	// Цена по самому младшему успешному таймфрейму
	fastest := ok[0]
	for _, tf := range ok[1:] {
		if lessTimeframe(tf.Timeframe, fastest.Timeframe) {
			fastest = tf
		}
	}
	result.Price = fastest.Price

	result.Alignment = Align(result.Timeframes)
	var total float64
	for _, tf := range ok {
		total += tf.Technical.Signal
	}
	result.Signal = total / float64(len(ok))
	result.Recommendation = Recommend(result.Signal)

	logger.Debug("Мультитаймфреймовый анализ завершен",
		zap.String("symbol", symbol),
		zap.Int("timeframes", len(timeframes)),
		zap.Int("successful", len(ok)),
		zap.Float64("signal", result.Signal))

	return result, nil
}

// AnalyzeTimeframe анализирует один таймфрейм; ошибки записываются в поле Error
func (a *Analyzer) AnalyzeTimeframe(ctx context.Context, symbol, category, tf string, includePatterns bool) TimeframeAnalysis {
	out := TimeframeAnalysis{Timeframe: interval.ToHuman(tf)}

	candles, err := a.source.GetKlines(ctx, category, symbol, tf, a.config.CandleLimit)
	if err != nil {
		logger.Warn("Предупреждение: не удалось получить свечи",
			zap.String("symbol", symbol), zap.String("timeframe", tf), zap.Error(err))
		out.Error = err.Error()
		return out
	}
	if len(candles) == 0 {
		out.Error = fmt.Sprintf("нет свечей для %s %s", symbol, tf)
		return out
	}

	snapshot, err := a.technical.Evaluate(candles)
	if err != nil {
		logger.Warn("Предупреждение: технический анализ недоступен",
			zap.String("symbol", symbol),
			zap.String("timeframe", tf),
			zap.Error(err),
			zap.Int("требуется_свечей", a.technical.MinBars()))
		out.Error = err.Error()
		return out
	}

	out.Price = candles[len(candles)-1].Close
	out.Technical = snapshot

	st := a.structure.Analyze(candles)
	out.Structure = &st

	lv := a.levels.Find(candles, 0)
	out.Levels = &lv

	if vd, err := a.volume.Evaluate(candles); err == nil {
		out.Volume = vd
	}

	if includePatterns {
		out.Patterns = a.patterns.Detect(candles, nil)
	}
	return out
}

// Recommend переводит сводный сигнал в рекомендацию
func Recommend(signal float64) string {
	switch {
	case signal >= 60:
		return StrongBuy
	case signal >= 25:
		return Buy
	case signal <= -60:
		return StrongSell
	case signal <= -25:
		return Sell
	default:
		return Hold
	}
}

// AnalyzeMany анализирует несколько инструментов с ограничением параллелизма.
// Результаты возвращаются по символу; неудачные инструменты пропускаются.
func (a *Analyzer) AnalyzeMany(ctx context.Context, symbols []string, category string, timeframes []string, concurrency int) map[string]*Analysis {
	if concurrency <= 0 {
		concurrency = 1
	}
	results := make(map[string]*Analysis, len(symbols))
	var mutex sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, symbol := range symbols {
		symbol := symbol
		g.Go(func() error {
			analysis, err := a.Analyze(gctx, symbol, category, timeframes, true)
			if err != nil {
				// Логируем ошибку, но продолжаем для других символов
				logger.Warn("Ошибка анализа инструмента", zap.String("symbol", symbol), zap.Error(err))
				return nil
			}
			mutex.Lock()
			results[symbol] = analysis
			mutex.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func lessTimeframe(a, b string) bool {
	ia, errA := interval.Parse(a)
	ib, errB := interval.Parse(b)
	if errA != nil || errB != nil {
		return false
	}
	return ia.Duration() < ib.Duration()
}
