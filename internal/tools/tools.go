// Package tools содержит каталог инструментов сервера: рыночные данные,
// анализ, сканирование, проверку сетапов, работу со счетом, торговлю и
// мониторинг позиций. Каждый инструмент описан типизированной структурой
// аргументов и регистрируется в mcp.Registry.
package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/skalibog/bybit-mcp/internal/analysis/funding"
	"github.com/skalibog/bybit-mcp/internal/analysis/market"
	"github.com/skalibog/bybit-mcp/internal/analysis/oianalysis"
	"github.com/skalibog/bybit-mcp/internal/analysis/orderbook"
	"github.com/skalibog/bybit-mcp/internal/balance"
	"github.com/skalibog/bybit-mcp/internal/config"
	"github.com/skalibog/bybit-mcp/internal/exchange"
	"github.com/skalibog/bybit-mcp/internal/mcp"
	"github.com/skalibog/bybit-mcp/internal/monitor"
	"github.com/skalibog/bybit-mcp/internal/scanner"
	"github.com/skalibog/bybit-mcp/internal/storage"
	"github.com/skalibog/bybit-mcp/internal/validation"
	"github.com/skalibog/bybit-mcp/pkg/models"
)

// Значения по умолчанию для аргументов
const (
	DefaultCategory   = "linear"
	DefaultTimeframe  = "1h"
	DefaultLimit      = 20
	DefaultMarketType = "futures"
	DefaultCoin       = "USDT"
)

// Типы рынка
const (
	MarketSpot    = "spot"
	MarketFutures = "futures"
	MarketBoth    = "both"
)

// Exchange операции биржи, которые используют инструменты. Реализуется exchange.Client.
type Exchange interface {
	storage.MarketData
	balance.WalletSource
	monitor.StopSetter

	GetInstrument(ctx context.Context, category, symbol string) (*models.Instrument, error)
	GetPositions(ctx context.Context, category, symbol string) ([]models.Position, error)
	GetOrderHistory(ctx context.Context, category, symbol string, limit int) ([]models.Order, error)
	PlaceOrder(ctx context.Context, req exchange.OrderRequest) (*exchange.OrderResult, error)
	CancelOrder(ctx context.Context, category, symbol, orderID string) (*exchange.OrderResult, error)
}

// StreamFactory создает новый поток позиций для каждого запуска мониторинга
type StreamFactory func() monitor.PositionSource

// Toolbox общие зависимости инструментов
type Toolbox struct {
	config   *config.Config
	exchange Exchange
	market   *storage.Memo
	balances *balance.Resolver
	analyzer *market.Analyzer
	engine   *validation.Engine
	scanner  *scanner.Scanner
	funding  *funding.Analyzer
	oi       *oianalysis.Analyzer
	book     *orderbook.Analyzer
	streams  StreamFactory

	monitorMu sync.Mutex
	monitor   *monitor.Monitor
}

// New собирает аналитические компоненты поверх биржи
func New(cfg *config.Config, ex Exchange, streams StreamFactory) *Toolbox {
	memo := storage.NewMemo(ex, cfg.Cache.KlineTTL)
	analyzer := market.NewAnalyzer(cfg.Analysis, memo)
	engine := validation.NewEngine(cfg.Risk, cfg.Analysis.Levels.NearPct)

	return &Toolbox{
		config:   cfg,
		exchange: ex,
		market:   memo,
		balances: balance.NewResolver(ex, balance.NewCache(cfg.Cache.BalanceTTL)),
		analyzer: analyzer,
		engine:   engine,
		scanner:  scanner.New(cfg.Scanner, analyzer, engine),
		funding:  funding.NewAnalyzer(cfg.Analysis.Funding),
		oi:       oianalysis.NewAnalyzer(cfg.Analysis.OpenInterest),
		book:     orderbook.NewAnalyzer(cfg.Analysis.OrderBook),
		streams:  streams,
	}
}

// Balances возвращает резолвер балансов
func (t *Toolbox) Balances() *balance.Resolver { return t.balances }

// Tools возвращает полный каталог инструментов
func (t *Toolbox) Tools() []mcp.Tool {
	var out []mcp.Tool
	out = append(out, t.marketTools()...)
	out = append(out, t.analysisTools()...)
	out = append(out, t.scanTools()...)
	out = append(out, t.accountTools()...)
	out = append(out, t.tradingTools()...)
	out = append(out, t.monitoringTools()...)
	return out
}

// Register регистрирует каталог в реестре
func (t *Toolbox) Register(r *mcp.Registry) error {
	return r.Register(t.Tools()...)
}

// Shutdown останавливает мониторинг, если он запущен
func (t *Toolbox) Shutdown() {
	t.monitorMu.Lock()
	m := t.monitor
	t.monitorMu.Unlock()
	if m != nil && m.Running() {
		_ = m.Stop()
	}
}

// categoriesFor переводит тип рынка в категории Bybit
func categoriesFor(marketType string) []string {
	switch strings.ToLower(marketType) {
	case MarketSpot:
		return []string{"spot"}
	case MarketBoth:
		return []string{"spot", "linear"}
	default:
		return []string{"linear"}
	}
}

func normalizeSymbol(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// apiFailure превращает отказ биржи в бизнес-ошибку; прочие ошибки возвращаются как есть
func apiFailure(err error, format string, args ...any) (models.ActionResult, error) {
	err = exchange.Normalize(err)
	var apiErr *exchange.APIError
	if errors.As(err, &apiErr) && !apiErr.IsAuth() {
		res := models.Fail("%s: %s", fmt.Sprintf(format, args...), apiErr.Message)
		res.Data = map[string]any{"ret_code": apiErr.Code}
		return res, nil
	}
	return models.ActionResult{}, err
}
