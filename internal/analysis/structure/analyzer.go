// Package structure определяет рыночную структуру по свинговым точкам:
// слом структуры (BOS) и смену характера (ChoCh).
package structure

import (
	"github.com/skalibog/bybit-mcp/internal/config"
	"github.com/skalibog/bybit-mcp/pkg/models"
)

// Текущая структура
const (
	Bullish = "bullish"
	Bearish = "bearish"
	Neutral = "neutral"
)

// Event событие BOS или ChoCh
type Event struct {
	Type  string  `json:"type"` // bullish | bearish
	Level float64 `json:"level"`
	Price float64 `json:"price"`
}

// Result результат анализа структуры
type Result struct {
	BOS              []Event   `json:"bos"`
	ChoCh            []Event   `json:"choch"`
	CurrentStructure string    `json:"current_structure"`
	SwingHighsCount  int       `json:"swing_highs_count"`
	SwingLowsCount   int       `json:"swing_lows_count"`
	SwingHighs       []float64 `json:"swing_highs,omitempty"`
	SwingLows        []float64 `json:"swing_lows,omitempty"`
}

// HasBullishChoCh сообщает о бычьей смене характера
func (r Result) HasBullishChoCh() bool { return hasType(r.ChoCh, Bullish) }

// HasBearishChoCh сообщает о медвежьей смене характера
func (r Result) HasBearishChoCh() bool { return hasType(r.ChoCh, Bearish) }

// HasBullishBOS сообщает о бычьем сломе структуры
func (r Result) HasBullishBOS() bool { return hasType(r.BOS, Bullish) }

// HasBearishBOS сообщает о медвежьем сломе структуры
func (r Result) HasBearishBOS() bool { return hasType(r.BOS, Bearish) }

func hasType(events []Event, typ string) bool {
	for _, e := range events {
		if e.Type == typ {
			return true
		}
	}
	return false
}

func emptyResult() Result {
	return Result{BOS: []Event{}, ChoCh: []Event{}, CurrentStructure: Neutral}
}

// Analyzer анализатор структуры рынка
type Analyzer struct {
	// Window число баров с каждой стороны для свинговой точки
	Window int
	// MinBars минимальная длина ряда; короче возвращается нейтральный результат
	MinBars int
}

// NewAnalyzer создает анализатор структуры
func NewAnalyzer(cfg config.StructureConfig) *Analyzer {
	a := &Analyzer{Window: cfg.Window, MinBars: cfg.MinBars}
	if a.Window <= 0 {
		a.Window = 5
	}
	if a.MinBars <= 0 {
		a.MinBars = 10
	}
	return a
}

// Analyze анализирует свечи (старые первыми)
func (a *Analyzer) Analyze(candles []models.Candle) Result {
	highs := make([]float64, len(candles))
	lows := make([]float64, len(candles))
	for i, c := range candles {
		highs[i] = c.High
		lows[i] = c.Low
	}
	var lastClose float64
	if len(candles) > 0 {
		lastClose = candles[len(candles)-1].Close
	}
	return a.Detect(highs, lows, lastClose)
}

// Detect определяет структуру по рядам максимумов и минимумов и последней цене закрытия
func (a *Analyzer) Detect(highs, lows []float64, lastClose float64) Result {
	n := len(highs)
	if len(lows) < n {
		n = len(lows)
	}
	if n < a.MinBars {
		return emptyResult()
	}
	highs, lows = highs[:n], lows[:n]

	swingHighs := SwingHighs(highs, a.Window)
	swingLows := SwingLows(lows, a.Window)

	res := emptyResult()
	res.SwingHighs = swingHighs
	res.SwingLows = swingLows
	res.SwingHighsCount = len(swingHighs)
	res.SwingLowsCount = len(swingLows)

	if len(swingHighs) < 2 || len(swingLows) < 2 {
		return res
	}

	h1, h2 := swingHighs[len(swingHighs)-1], swingHighs[len(swingHighs)-2]
	l1, l2 := swingLows[len(swingLows)-1], swingLows[len(swingLows)-2]

	switch {
	case h1 > h2 && l1 > l2:
		res.CurrentStructure = Bullish
		if lastClose > h2 {
			res.BOS = append(res.BOS, Event{Type: Bullish, Level: h2, Price: lastClose})
		}
		if lastClose < l2 {
			res.ChoCh = append(res.ChoCh, Event{Type: Bearish, Level: l2, Price: lastClose})
		}
	case h1 < h2 && l1 < l2:
		res.CurrentStructure = Bearish
		if lastClose < l2 {
			res.BOS = append(res.BOS, Event{Type: Bearish, Level: l2, Price: lastClose})
		}
		if lastClose > h2 {
			res.ChoCh = append(res.ChoCh, Event{Type: Bullish, Level: h2, Price: lastClose})
		}
	}
	return res
}

// swings возвращает значения свинговых точек в порядке появления. Точка i
// свинговая, если better(v[i], v[j]) для всех j из окна [i-w, i+w].
//
// Окно обрезается границами ряда: бар ближе w к краю сравнивается только с
// существующими соседями (нужен хотя бы один), поэтому первый и последний бары
// могут быть свинговыми. Иначе последний свинг не виден еще w баров.
func swings(values []float64, w int, better func(x, y float64) bool) []float64 {
	var out []float64
	for i := range values {
		lo, hi := i-w, i+w
		if lo < 0 {
			lo = 0
		}
		if hi > len(values)-1 {
			hi = len(values) - 1
		}
		if hi-lo < 1 {
			continue
		}

		ok := true
		for j := lo; j <= hi; j++ {
			if j != i && !better(values[i], values[j]) {
				ok = false
				break
			}
		}
		if ok {
			out = append(out, values[i])
		}
	}
	return out
}

// SwingHighs возвращает свинговые максимумы ряда
func SwingHighs(values []float64, w int) []float64 {
	return swings(values, w, func(x, y float64) bool { return x > y })
}

// SwingLows возвращает свинговые минимумы ряда
func SwingLows(values []float64, w int) []float64 {
	return swings(values, w, func(x, y float64) bool { return x < y })
}
