package volumedelta

import (
	"fmt"
	"math"

	"github.com/skalibog/bybit-mcp/internal/config"
	"github.com/skalibog/bybit-mcp/pkg/logger"
	"github.com/skalibog/bybit-mcp/pkg/models"
	"go.uber.org/zap"
)

// Report оценка дельты объемов по свечам
type Report struct {
	CumulativeDelta float64 `json:"cumulative_delta"`
	Impulses        int     `json:"impulses"`
	ImpulseSignal   float64 `json:"impulse_signal"`
	VolumePrice     float64 `json:"volume_price_signal"`
	Signal          float64 `json:"signal"`
	Bias            string  `json:"bias"`
}

// Analyzer реализует анализатор дельты объемов
type Analyzer struct {
	config config.VolumeDeltaConfig
}

// NewAnalyzer создает новый анализатор дельты объемов
func NewAnalyzer(cfg config.VolumeDeltaConfig) *Analyzer {
	if cfg.Lookback <= 0 {
		cfg.Lookback = 20
	}
	if cfg.SignificanceThreshold <= 0 {
		cfg.SignificanceThreshold = 2
	}
	return &Analyzer{
		config: cfg,
	}
}

// Evaluate анализирует дельту объемов по свечам (старые первыми)
func (a *Analyzer) Evaluate(candles []models.Candle) (*Report, error) {
	if len(candles) < a.config.Lookback {
		return nil, fmt.Errorf("недостаточно данных для анализа дельты объемов: %d свечей (требуется %d)",
			len(candles), a.config.Lookback)
	}

	// Последние свечи первыми
	recent := make([]models.Candle, len(candles))
	for i, c := range candles {
		recent[len(candles)-1-i] = c
	}

	r := &Report{}
	r.CumulativeDelta = a.analyzeCumulativeDelta(recent)
	r.ImpulseSignal, r.Impulses = a.analyzeVolumeImpulses(recent)
	r.VolumePrice = a.analyzeVolumePriceRelation(recent)

	// Комбинируем сигналы с весами
	r.Signal = r.CumulativeDelta*0.5 + r.ImpulseSignal*0.3 + r.VolumePrice*0.2
	switch {
	case r.Signal >= 20:
		r.Bias = "buyers"
	case r.Signal <= -20:
		r.Bias = "sellers"
	default:
		r.Bias = "balanced"
	}

	logger.Debug("Анализ дельты объемов",
		zap.Int("candles", len(candles)),
		zap.Float64("signal", r.Signal))
	return r, nil
}

// analyzeCumulativeDelta анализирует кумулятивную дельту объемов
func (a *Analyzer) analyzeCumulativeDelta(candles []models.Candle) float64 {
	var cumulativeDelta, totalVolume float64

	for i := 0; i < a.config.Lookback && i < len(candles); i++ {
		candle := candles[i]

		// Объем бычьей свечи считаем покупками, медвежьей продажами
		delta := candle.Volume
		if candle.Close < candle.Open {
			delta = -delta
		}

		// Взвешиваем более недавние свечи сильнее
		weight := 1.0 - (float64(i) / float64(a.config.Lookback))

		cumulativeDelta += delta * weight
		totalVolume += math.Abs(delta) * weight
	}

	if totalVolume == 0 {
		return 0
	}
	return cumulativeDelta / totalVolume * 100
}

// analyzeVolumeImpulses ищет свечи с объемом выше среднего в SignificanceThreshold раз
func (a *Analyzer) analyzeVolumeImpulses(candles []models.Candle) (float64, int) {
	window := 30
	if len(candles) < window {
		window = len(candles)
	}

	var totalVolume float64
	for i := 0; i < window; i++ {
		totalVolume += candles[i].Volume
	}
	avgVolume := totalVolume / float64(window)
	if avgVolume == 0 {
		return 0, 0
	}

	var impulseSignal float64
	var impulses int
	maxStrength := a.config.SignificanceThreshold * 10

	for i := 0; i < 10 && i < len(candles); i++ {
		candle := candles[i]
		volumeRatio := candle.Volume / avgVolume
		if volumeRatio < a.config.SignificanceThreshold {
			continue
		}

		impulses++
		impulseStrength := math.Min((volumeRatio-1.0)*10, maxStrength)
		if candle.Close > candle.Open {
			impulseSignal += impulseStrength
		} else {
			impulseSignal -= impulseStrength
		}
	}

	return clamp(impulseSignal, -100, 100), impulses
}

// analyzeVolumePriceRelation анализирует соотношение изменения объема и цены
func (a *Analyzer) analyzeVolumePriceRelation(candles []models.Candle) float64 {
	var signal float64

	for i := 1; i < a.config.Lookback && i < len(candles); i++ {
		current := candles[i-1]
		previous := candles[i]
		if previous.Volume == 0 || previous.Close == 0 {
			continue
		}

		volumeChange := (current.Volume - previous.Volume) / previous.Volume
		priceChange := (current.Close - previous.Close) / previous.Close

		switch {
		case priceChange > 0 && volumeChange < -0.1:
			// Цена растет, объем падает: слабый рост
			signal -= 5
		case priceChange < 0 && volumeChange < -0.1:
			// Цена падает, объем падает: близкий разворот вверх
			signal += 10
		case priceChange > 0 && volumeChange > 0.1:
			// Цена растет, объем растет: сильный рост
			signal += 10
		case priceChange < 0 && volumeChange > 0.1:
			// Цена падает, объем растет: сильное падение
			signal -= 20
		}
	}

	return clamp(signal, -100, 100)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
