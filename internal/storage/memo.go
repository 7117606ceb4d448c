package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/skalibog/bybit-mcp/pkg/logger"
	"github.com/skalibog/bybit-mcp/pkg/models"
	"go.uber.org/zap"
)

// DefaultKlineTTL время жизни свечей в кэше
const DefaultKlineTTL = 15 * time.Second

type klineEntry struct {
	candles  []models.Candle
	inserted time.Time
}

// Memo кэширует свечи поверх MarketData на короткое время, чтобы сканер и
// мультитаймфреймовый анализ не запрашивали одни и те же свечи повторно.
// Остальные методы проксируются без изменений.
type Memo struct {
	MarketData

	mu     sync.RWMutex
	klines map[string]klineEntry
	ttl    time.Duration
	now    func() time.Time
}

// NewMemo создает кэширующую обертку над источником
func NewMemo(src MarketData, ttl time.Duration) *Memo {
	if ttl <= 0 {
		ttl = DefaultKlineTTL
	}
	return &Memo{
		MarketData: src,
		klines:     make(map[string]klineEntry),
		ttl:        ttl,
		now:        time.Now,
	}
}

// GetKlines возвращает свечи из кэша или загружает их из источника
func (m *Memo) GetKlines(ctx context.Context, category, symbol, timeframe string, limit int) ([]models.Candle, error) {
	key := fmt.Sprintf("%s|%s|%s|%d", category, symbol, timeframe, limit)

	m.mu.RLock()
	entry, ok := m.klines[key]
	m.mu.RUnlock()
	if ok && m.now().Sub(entry.inserted) < m.ttl {
		return entry.candles, nil
	}

	candles, err := m.MarketData.GetKlines(ctx, category, symbol, timeframe, limit)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.klines[key] = klineEntry{candles: candles, inserted: m.now()}
	m.mu.Unlock()

	logger.Debug("Свечи сохранены в кэш",
		zap.String("symbol", symbol),
		zap.String("timeframe", timeframe),
		zap.Int("count", len(candles)))
	return candles, nil
}

// Purge удаляет просроченные записи и возвращает число удаленных
func (m *Memo) Purge() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	removed := 0
	for key, entry := range m.klines {
		if now.Sub(entry.inserted) >= m.ttl {
			delete(m.klines, key)
			removed++
		}
	}
	return removed
}
