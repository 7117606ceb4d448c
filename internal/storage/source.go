// Package storage описывает источник рыночных данных для анализаторов и
// кратковременный кэш свечей поверх него. Данные живут только в памяти.
package storage

import (
	"context"

	"github.com/skalibog/bybit-mcp/pkg/models"
)

// MarketData интерфейс источника рыночных данных. Реализуется exchange.Client.
type MarketData interface {
	// Методы для свечей (старые первыми)
	GetKlines(ctx context.Context, category, symbol, timeframe string, limit int) ([]models.Candle, error)

	// Методы для тикеров
	GetTickers(ctx context.Context, category, symbol string) ([]models.Ticker, error)
	GetTicker(ctx context.Context, category, symbol string) (*models.Ticker, error)

	// Методы для стакана заявок
	GetOrderBook(ctx context.Context, category, symbol string, limit int) (*models.OrderBook, error)

	// Методы для деривативов (новые первыми)
	GetFundingHistory(ctx context.Context, category, symbol string, limit int) ([]models.FundingRate, error)
	GetOpenInterest(ctx context.Context, category, symbol, intervalTime string, limit int) ([]models.OpenInterest, error)
}
