// Package levels ищет уровни поддержки и сопротивления по кластерам свинговых точек.
package levels

import (
	"math"
	"sort"

	"github.com/skalibog/bybit-mcp/internal/analysis/structure"
	"github.com/skalibog/bybit-mcp/internal/config"
	"github.com/skalibog/bybit-mcp/pkg/models"
)

// Тип уровня
const (
	Support    = "support"
	Resistance = "resistance"
)

// Level уровень цены; Touches число свинговых точек в кластере
type Level struct {
	Price       float64 `json:"price"`
	Type        string  `json:"type"`
	Touches     int     `json:"touches"`
	DistancePct float64 `json:"distance_pct"`
}

// Result уровни относительно последнего закрытия, ближайшие первыми
type Result struct {
	Price       float64 `json:"current_price"`
	Supports    []Level `json:"supports"`
	Resistances []Level `json:"resistances"`
	Bars        int     `json:"bars"`
}

// NearestSupport ближайшая поддержка или nil
func (r Result) NearestSupport() *Level {
	if len(r.Supports) == 0 {
		return nil
	}
	return &r.Supports[0]
}

// NearestResistance ближайшее сопротивление или nil
func (r Result) NearestResistance() *Level {
	if len(r.Resistances) == 0 {
		return nil
	}
	return &r.Resistances[0]
}

// Finder ищет уровни
type Finder struct {
	// ClusterPct ширина кластера в процентах
	ClusterPct float64
	// Window окно свинговой точки
	Window int
}

// NewFinder создает поиск уровней
func NewFinder(cfg config.LevelsConfig) *Finder {
	f := &Finder{ClusterPct: cfg.ClusterPct, Window: 2}
	if f.ClusterPct <= 0 {
		f.ClusterPct = 0.5
	}
	return f
}

// Find ищет уровни на последних lookback свечах (старые первыми).
// lookback <= 0 означает все свечи.
func (f *Finder) Find(candles []models.Candle, lookback int) Result {
	if lookback > 0 && len(candles) > lookback {
		candles = candles[len(candles)-lookback:]
	}
	res := Result{Supports: []Level{}, Resistances: []Level{}, Bars: len(candles)}
	if len(candles) == 0 {
		return res
	}
	res.Price = candles[len(candles)-1].Close

	highs := make([]float64, len(candles))
	lows := make([]float64, len(candles))
	for i, c := range candles {
		highs[i] = c.High
		lows[i] = c.Low
	}

	points := append(structure.SwingHighs(highs, f.Window), structure.SwingLows(lows, f.Window)...)
	for _, lvl := range f.cluster(points) {
		if res.Price > 0 {
			lvl.DistancePct = math.Abs(lvl.Price-res.Price) / res.Price * 100
		}
		switch {
		case lvl.Price < res.Price:
			lvl.Type = Support
			res.Supports = append(res.Supports, lvl)
		case lvl.Price > res.Price:
			lvl.Type = Resistance
			res.Resistances = append(res.Resistances, lvl)
		}
	}

	// Ближайшие первыми
	sort.Slice(res.Supports, func(i, j int) bool { return res.Supports[i].Price > res.Supports[j].Price })
	sort.Slice(res.Resistances, func(i, j int) bool { return res.Resistances[i].Price < res.Resistances[j].Price })
	return res
}

// cluster объединяет точки, лежащие в пределах ClusterPct от начала кластера
func (f *Finder) cluster(points []float64) []Level {
	if len(points) == 0 {
		return nil
	}
	sorted := append([]float64(nil), points...)
	sort.Float64s(sorted)

	var out []Level
	start, sum, n := sorted[0], 0.0, 0
	flush := func() {
		if n > 0 {
			out = append(out, Level{Price: sum / float64(n), Touches: n})
		}
	}
	for _, p := range sorted {
		if p > start*(1+f.ClusterPct/100) {
			flush()
			start, sum, n = p, 0, 0
		}
		sum += p
		n++
	}
	flush()
	return out
}

// NearLevel возвращает ближайший уровень в пределах pct процентов от цены
func NearLevel(price float64, levels []Level, pct float64) (*Level, bool) {
	if price <= 0 {
		return nil, false
	}
	var best *Level
	bestDist := math.MaxFloat64
	for i := range levels {
		dist := math.Abs(levels[i].Price-price) / price * 100
		if dist <= pct && dist < bestDist {
			best, bestDist = &levels[i], dist
		}
	}
	return best, best != nil
}
