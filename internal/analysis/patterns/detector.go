// Package patterns распознает свечные паттерны и оценивает их надежность.
package patterns

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/skalibog/bybit-mcp/pkg/models"
)

// Type тип свечного паттерна
type Type string

const (
	Hammer             Type = "hammer"
	ShootingStar       Type = "shooting_star"
	BullishEngulfing   Type = "bullish_engulfing"
	BearishEngulfing   Type = "bearish_engulfing"
	Doji               Type = "doji"
	MorningStar        Type = "morning_star"
	EveningStar        Type = "evening_star"
	ThreeWhiteSoldiers Type = "three_white_soldiers"
	ThreeBlackCrows    Type = "three_black_crows"
)

// AllTypes поддерживаемые паттерны
var AllTypes = []Type{
	Hammer, ShootingStar, BullishEngulfing, BearishEngulfing, Doji,
	MorningStar, EveningStar, ThreeWhiteSoldiers, ThreeBlackCrows,
}

// Направление паттерна
const (
	Bullish = "bullish"
	Bearish = "bearish"
	Neutral = "neutral"
)

// Базовая надежность паттернов
var baseReliability = map[Type]float64{
	Hammer:             0.60,
	ShootingStar:       0.60,
	BullishEngulfing:   0.70,
	BearishEngulfing:   0.70,
	Doji:               0.40,
	MorningStar:        0.75,
	EveningStar:        0.75,
	ThreeWhiteSoldiers: 0.75,
	ThreeBlackCrows:    0.75,
}

// Pattern найденный паттерн
type Pattern struct {
	Type        Type      `json:"type"`
	Direction   string    `json:"direction"`
	Reliability float64   `json:"reliability"`
	Index       int       `json:"index"`
	Time        time.Time `json:"time"`
	Price       float64   `json:"price"`
}

// Detector распознает паттерны на последних Lookback свечах
type Detector struct {
	Lookback int
}

// NewDetector создает детектор
func NewDetector(lookback int) *Detector {
	if lookback <= 0 {
		lookback = 10
	}
	return &Detector{Lookback: lookback}
}

// ParseTypes разбирает список типов; неизвестные типы пропускаются.
// Пустой список или "all" означает все паттерны.
func ParseTypes(names []string) []Type {
	var out []Type
	for _, name := range names {
		n := strings.ToLower(strings.TrimSpace(name))
		if n == "all" {
			return nil
		}
		t := Type(n)
		if _, ok := baseReliability[t]; ok {
			out = append(out, t)
		}
	}
	return out
}

// Detect ищет паттерны в свечах (старые первыми). Если filter не пуст,
// возвращаются только паттерны из него. Результат отсортирован от новых к старым.
func (d *Detector) Detect(candles []models.Candle, filter []Type) []Pattern {
	allowed := make(map[Type]bool, len(filter))
	for _, t := range filter {
		allowed[t] = true
	}
	want := func(t Type) bool { return len(allowed) == 0 || allowed[t] }

	start := len(candles) - d.Lookback
	if start < 0 {
		start = 0
	}

	var found []Pattern
	add := func(t Type, dir string, i int) {
		if !want(t) {
			return
		}
		found = append(found, Pattern{
			Type:        t,
			Direction:   dir,
			Reliability: reliability(t, candles, i),
			Index:       i,
			Time:        candles[i].OpenTime,
			Price:       candles[i].Close,
		})
	}

	for i := start; i < len(candles); i++ {
		c := candles[i]

		// Одиночные свечи
		switch {
		case isHammer(c) && priorDecline(candles, i):
			add(Hammer, Bullish, i)
		case isShootingStar(c) && priorAdvance(candles, i):
			add(ShootingStar, Bearish, i)
		case isDoji(c):
			add(Doji, Neutral, i)
		}

		// Двухсвечные
		if i >= 1 {
			prev := candles[i-1]
			if isBullishEngulfing(prev, c) {
				add(BullishEngulfing, Bullish, i)
			}
			if isBearishEngulfing(prev, c) {
				add(BearishEngulfing, Bearish, i)
			}
		}

		// Трехсвечные
		if i >= 2 {
			c1, c2 := candles[i-2], candles[i-1]
			if isMorningStar(c1, c2, c) {
				add(MorningStar, Bullish, i)
			}
			if isEveningStar(c1, c2, c) {
				add(EveningStar, Bearish, i)
			}
			if isThreeWhiteSoldiers(c1, c2, c) {
				add(ThreeWhiteSoldiers, Bullish, i)
			}
			if isThreeBlackCrows(c1, c2, c) {
				add(ThreeBlackCrows, Bearish, i)
			}
		}
	}

	sort.SliceStable(found, func(i, j int) bool {
		return found[i].Index > found[j].Index
	})
	return found
}

// MaxReliability максимальная надежность среди паттернов (0 если пусто)
func MaxReliability(patterns []Pattern) float64 {
	var best float64
	for _, p := range patterns {
		best = math.Max(best, p.Reliability)
	}
	return best
}

// MaxReliabilityFor максимальная надежность паттернов заданного направления
func MaxReliabilityFor(patterns []Pattern, direction string) float64 {
	var best float64
	for _, p := range patterns {
		if p.Direction == direction {
			best = math.Max(best, p.Reliability)
		}
	}
	return best
}

// reliability базовая надежность с поправками на объем и размер свечи
func reliability(t Type, candles []models.Candle, i int) float64 {
	r := baseReliability[t]

	// Объем выше среднего за предыдущие 10 свечей усиливает паттерн
	from := i - 10
	if from < 0 {
		from = 0
	}
	if i > from {
		var total float64
		for _, c := range candles[from:i] {
			total += c.Volume
		}
		avg := total / float64(i-from)
		if avg > 0 {
			switch ratio := candles[i].Volume / avg; {
			case ratio >= 1.5:
				r += 0.1
			case ratio >= 1.2:
				r += 0.05
			case ratio < 0.7:
				r -= 0.05
			}
		}
	}

	// Диапазон свечи больше среднего усиливает паттерн
	if avgRange := averageRange(candles[from:i]); avgRange > 0 {
		if rng(candles[i]) > avgRange*1.3 {
			r += 0.05
		}
	}

	return math.Round(clamp(r, 0, 1)*100) / 100
}

func isHammer(c models.Candle) bool {
	b, r := body(c), rng(c)
	if r == 0 || b == 0 {
		return false
	}
	lower := math.Min(c.Open, c.Close) - c.Low
	upper := c.High - math.Max(c.Open, c.Close)
	return lower >= b*2 && upper <= r*0.1
}

func isShootingStar(c models.Candle) bool {
	b, r := body(c), rng(c)
	if r == 0 || b == 0 {
		return false
	}
	lower := math.Min(c.Open, c.Close) - c.Low
	upper := c.High - math.Max(c.Open, c.Close)
	return upper >= b*2 && lower <= r*0.1
}

// isDoji тело меньше 10% диапазона
func isDoji(c models.Candle) bool {
	r := rng(c)
	if r == 0 {
		return false
	}
	return body(c)/r < 0.10
}

func isBullishEngulfing(c1, c2 models.Candle) bool {
	return bearish(c1) && bullish(c2) &&
		c2.Open <= c1.Close && c2.Close >= c1.Open && body(c2) > body(c1)
}

func isBearishEngulfing(c1, c2 models.Candle) bool {
	return bullish(c1) && bearish(c2) &&
		c2.Open >= c1.Close && c2.Close <= c1.Open && body(c2) > body(c1)
}

func isMorningStar(c1, c2, c3 models.Candle) bool {
	if !bearish(c1) || !bullish(c3) || body(c1) < rng(c1)*0.6 {
		return false
	}
	// Маленькое тело второй свечи и закрытие третьей выше середины первой
	return body(c2) < body(c1)*0.3 &&
		math.Max(c2.Open, c2.Close) <= c1.Close &&
		c3.Close > (c1.Open+c1.Close)/2
}

func isEveningStar(c1, c2, c3 models.Candle) bool {
	if !bullish(c1) || !bearish(c3) || body(c1) < rng(c1)*0.6 {
		return false
	}
	return body(c2) < body(c1)*0.3 &&
		math.Min(c2.Open, c2.Close) >= c1.Close &&
		c3.Close < (c1.Open+c1.Close)/2
}

func isThreeWhiteSoldiers(c1, c2, c3 models.Candle) bool {
	for _, c := range []models.Candle{c1, c2, c3} {
		if !bullish(c) || body(c) < rng(c)*0.5 {
			return false
		}
	}
	return c2.Close > c1.Close && c3.Close > c2.Close &&
		c2.Open >= c1.Open && c2.Open <= c1.Close &&
		c3.Open >= c2.Open && c3.Open <= c2.Close
}

func isThreeBlackCrows(c1, c2, c3 models.Candle) bool {
	for _, c := range []models.Candle{c1, c2, c3} {
		if !bearish(c) || body(c) < rng(c)*0.5 {
			return false
		}
	}
	return c2.Close < c1.Close && c3.Close < c2.Close &&
		c2.Open <= c1.Open && c2.Open >= c1.Close &&
		c3.Open <= c2.Open && c3.Open >= c2.Close
}

// priorDecline снижение цены на предыдущих свечах; без истории считается выполненным
func priorDecline(candles []models.Candle, i int) bool {
	if i < 3 {
		return true
	}
	return candles[i-1].Close < candles[i-3].Close
}

func priorAdvance(candles []models.Candle, i int) bool {
	if i < 3 {
		return true
	}
	return candles[i-1].Close > candles[i-3].Close
}

func averageRange(candles []models.Candle) float64 {
	if len(candles) == 0 {
		return 0
	}
	var total float64
	for _, c := range candles {
		total += rng(c)
	}
	return total / float64(len(candles))
}

func bullish(c models.Candle) bool { return c.Close > c.Open }
func bearish(c models.Candle) bool { return c.Close < c.Open }
func body(c models.Candle) float64 { return math.Abs(c.Close - c.Open) }
func rng(c models.Candle) float64 { return c.High - c.Low }

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
