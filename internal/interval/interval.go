// Package interval переводит интервалы свечей между человеческой формой (1m, 4h, 1d)
// и кодами Bybit V5 (1, 240, D).
package interval

import (
	"fmt"
	"strings"
	"time"

	"github.com/skalibog/bybit-mcp/pkg/logger"
	"go.uber.org/zap"
)

// Interval интервал свечи
type Interval int

const (
	M1 Interval = iota + 1
	M3
	M5
	M15
	M30
	H1
	H2
	H3
	H4
	H6
	H12
	D1
	W1
	Mo1
)

type definition struct {
	human    string
	wire     string
	duration time.Duration
}

var table = map[Interval]definition{
	M1:  {"1m", "1", time.Minute},
	M3:  {"3m", "3", 3 * time.Minute},
	M5:  {"5m", "5", 5 * time.Minute},
	M15: {"15m", "15", 15 * time.Minute},
	M30: {"30m", "30", 30 * time.Minute},
	H1:  {"1h", "60", time.Hour},
	H2:  {"2h", "120", 2 * time.Hour},
	H3:  {"3h", "180", 3 * time.Hour},
	H4:  {"4h", "240", 4 * time.Hour},
	H6:  {"6h", "360", 6 * time.Hour},
	H12: {"12h", "720", 12 * time.Hour},
	D1:  {"1d", "D", 24 * time.Hour},
	W1:  {"1w", "W", 7 * 24 * time.Hour},
	Mo1: {"1M", "M", 30 * 24 * time.Hour},
}

var (
	byHuman = make(map[string]Interval, len(table))
	byWire  = make(map[string]Interval, len(table))
)

func init() {
	for iv, s := range table {
		byHuman[s.human] = iv
		byWire[s.wire] = iv
	}
	// Альтернативные написания
	byHuman["1D"] = D1
	byHuman["1W"] = W1
	byHuman["1H"] = H1
}

// All возвращает все интервалы по возрастанию
func All() []Interval {
	out := make([]Interval, 0, len(table))
	for iv := M1; iv <= Mo1; iv++ {
		out = append(out, iv)
	}
	return out
}

// Parse разбирает человеческую форму интервала
func Parse(human string) (Interval, error) {
	if iv, ok := byHuman[strings.TrimSpace(human)]; ok {
		return iv, nil
	}
	return 0, fmt.Errorf("неизвестный интервал: %q", human)
}

// FromWire разбирает код интервала биржи
func FromWire(wire string) (Interval, error) {
	if iv, ok := byWire[strings.TrimSpace(wire)]; ok {
		return iv, nil
	}
	return 0, fmt.Errorf("неизвестный код интервала: %q", wire)
}

// String возвращает человеческую форму
func (i Interval) String() string {
	if s, ok := table[i]; ok {
		return s.human
	}
	return fmt.Sprintf("Interval(%d)", int(i))
}

// Wire возвращает код интервала для API биржи
func (i Interval) Wire() string {
	return table[i].wire
}

// Duration возвращает длительность одной свечи
func (i Interval) Duration() time.Duration {
	return table[i].duration
}

// Valid сообщает, определен ли интервал
func (i Interval) Valid() bool {
	_, ok := table[i]
	return ok
}

// ToWire переводит человеческую форму в код биржи. Неизвестные значения
// возвращаются как есть с предупреждением в логе.
func ToWire(human string) string {
	iv, err := Parse(human)
	if err != nil {
		if _, wireErr := FromWire(human); wireErr == nil {
			return human
		}
		logger.Warn("Неизвестный интервал, передаем как есть", zap.String("interval", human))
		return human
	}
	return iv.Wire()
}

// ToHuman переводит код биржи в человеческую форму. Неизвестные значения
// возвращаются как есть с предупреждением в логе.
func ToHuman(wire string) string {
	iv, err := FromWire(wire)
	if err != nil {
		if _, humanErr := Parse(wire); humanErr == nil {
			return wire
		}
		logger.Warn("Неизвестный код интервала, передаем как есть", zap.String("interval", wire))
		return wire
	}
	return iv.String()
}
