// Package balance сводит балансы аккаунтов SPOT, CONTRACT и UNIFIED в одно представление.
package balance

import (
	"context"
	"strings"

	"github.com/skalibog/bybit-mcp/internal/exchange"
	"github.com/skalibog/bybit-mcp/pkg/logger"
	"github.com/skalibog/bybit-mcp/pkg/models"
	"go.uber.org/zap"
)

// WalletSource источник балансов (эндпоинт wallet-balance)
type WalletSource interface {
	GetWalletBalance(ctx context.Context, account models.AccountType, coin string) (*exchange.CoinBalance, error)
}

// Resolver запрашивает балансы по всем типам аккаунтов через общий кэш
type Resolver struct {
	source WalletSource
	cache  *Cache
}

// NewResolver создает резолвер балансов
func NewResolver(source WalletSource, cache *Cache) *Resolver {
	if cache == nil {
		cache = NewCache(DefaultTTL)
	}
	return &Resolver{source: source, cache: cache}
}

// Cache возвращает кэш резолвера
func (r *Resolver) Cache() *Cache {
	return r.cache
}

// AccountTypeFor определяет тип аккаунта для категории рынка
func AccountTypeFor(category string, preferUnified bool) models.AccountType {
	if preferUnified {
		return models.AccountUnified
	}
	if strings.EqualFold(category, "spot") {
		return models.AccountSpot
	}
	return models.AccountContract
}

// GetBalance возвращает баланс монеты на одном аккаунте. Ошибки не
// пробрасываются, а превращаются в запись с success=false.
func (r *Resolver) GetBalance(ctx context.Context, account models.AccountType, coin string, useCache bool) models.BalanceEntry {
	coin = strings.ToUpper(coin)
	if useCache {
		if cached, ok := r.cache.Get(account, coin); ok {
			return cached
		}
	}

	bal, err := r.source.GetWalletBalance(ctx, account, coin)
	if err != nil {
		logger.Debug("Баланс аккаунта недоступен",
			zap.String("account", string(account)), zap.String("coin", coin), zap.Error(err))
		return models.BalanceEntry{Account: account, Coin: coin, Success: false, Error: err.Error()}
	}

	entry := models.BalanceEntry{
		Account:   account,
		Coin:      coin,
		Total:     nonNegative(bal.Total),
		Available: nonNegative(bal.Available),
		Success:   true,
	}
	r.cache.Set(entry)
	return entry
}

// GetAllAccountBalances опрашивает SPOT, CONTRACT и UNIFIED в этом порядке.
// Итоги суммируются только по успешным записям.
func (r *Resolver) GetAllAccountBalances(ctx context.Context, coin string, useCache bool) models.CombinedBalance {
	combined := models.CombinedBalance{Coin: strings.ToUpper(coin)}

	for _, account := range models.AccountTypes {
		entry := r.GetBalance(ctx, account, coin, useCache)
		switch account {
		case models.AccountSpot:
			combined.Spot = entry
		case models.AccountContract:
			combined.Contract = entry
		case models.AccountUnified:
			combined.Unified = entry
		}
		if entry.Success {
			combined.Total += entry.Total
			combined.Available += entry.Available
		}
	}

	logger.Debug("Сводный баланс",
		zap.String("coin", combined.Coin),
		zap.Float64("total", combined.Total),
		zap.Float64("available", combined.Available))
	return combined
}

// ResolveSpotBalance ищет баланс для спотовой операции: сначала SPOT,
// при неудаче UNIFIED. Кэш не используется, нужен актуальный остаток.
func (r *Resolver) ResolveSpotBalance(ctx context.Context, coin string) models.BalanceEntry {
	entry := r.GetBalance(ctx, models.AccountSpot, coin, false)
	if entry.Success {
		return entry
	}

	logger.Info("Баланс SPOT недоступен, пробуем UNIFIED",
		zap.String("coin", entry.Coin), zap.String("error", entry.Error))
	return r.GetBalance(ctx, models.AccountUnified, coin, false)
}

func nonNegative(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}
