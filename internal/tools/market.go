package tools

import (
	"context"
	"fmt"

	"github.com/skalibog/bybit-mcp/internal/analysis/market"
	"github.com/skalibog/bybit-mcp/internal/mcp"
	"github.com/skalibog/bybit-mcp/pkg/logger"
	"github.com/skalibog/bybit-mcp/pkg/models"
	"go.uber.org/zap"
)

type marketOverviewArgs struct {
	MarketType string `json:"market_type" default:"futures" validate:"oneof=spot futures both" desc:"Тип рынка: spot, futures или both"`
	TopN       int    `json:"top_n" default:"5" validate:"min=1,max=50" desc:"Сколько инструментов показывать в каждом топе"`
}

type allTickersArgs struct {
	MarketType   string  `json:"market_type" default:"futures" validate:"oneof=spot futures both" desc:"Тип рынка: spot, futures или both"`
	SortBy       string  `json:"sort_by" default:"volume" validate:"oneof=volume change name" desc:"Сортировка: volume, change или name"`
	Limit        int     `json:"limit" default:"20" validate:"min=1,max=1000" desc:"Максимум тикеров в ответе"`
	MinVolume24h float64 `json:"min_volume_24h" validate:"gte=0" desc:"Минимальный оборот за 24ч в USDT"`
}

type symbolArgs struct {
	Symbol   string `json:"symbol" validate:"required" desc:"Торговая пара, например BTCUSDT"`
	Category string `json:"category" default:"linear" validate:"oneof=spot linear inverse" desc:"Категория: spot, linear или inverse"`
}

type derivativeArgs struct {
	Symbol   string `json:"symbol" validate:"required" desc:"Торговая пара, например BTCUSDT"`
	Category string `json:"category" default:"linear" validate:"oneof=linear inverse" desc:"Категория деривативов: linear или inverse"`
}

// MarketOverview обзор одной категории
type MarketOverview struct {
	Category string `json:"category"`
	market.Overview
}

func (t *Toolbox) marketTools() []mcp.Tool {
	return []mcp.Tool{
		mcp.NewTool("get_market_overview",
			"Обзор рынка: настроение по доле растущих инструментов, лидеры роста, падения и оборота",
			t.marketOverview),
		mcp.NewTool("get_all_tickers",
			"Список тикеров с сортировкой по обороту, изменению цены или имени",
			t.allTickers),
		mcp.NewTool("get_asset_price",
			"Текущая цена инструмента и статистика за 24 часа",
			t.assetPrice),
		mcp.NewTool("get_funding_rate",
			"Текущая ставка финансирования, годовая доходность, тренд и интерпретация",
			t.fundingRate),
		mcp.NewTool("get_open_interest",
			"Открытый интерес: текущее значение, изменение, тренд и дивергенция с ценой",
			t.openInterest),
		mcp.NewTool("check_liquidity",
			"Оценка ликвидности по стакану: спред, глубина в пределах 1% и 2%, дисбаланс, оценка 0-10",
			t.checkLiquidity),
	}
}

func (t *Toolbox) tickersFor(ctx context.Context, marketType string) (map[string][]models.Ticker, error) {
	out := make(map[string][]models.Ticker)
	for _, category := range categoriesFor(marketType) {
		tickers, err := t.exchange.GetTickers(ctx, category, "")
		if err != nil {
			return nil, fmt.Errorf("ошибка получения тикеров %s: %w", category, err)
		}
		out[category] = tickers
	}
	return out, nil
}

func (t *Toolbox) marketOverview(ctx context.Context, args marketOverviewArgs) (any, error) {
	byCategory, err := t.tickersFor(ctx, args.MarketType)
	if err != nil {
		return nil, err
	}

	overviews := make([]MarketOverview, 0, len(byCategory))
	for _, category := range categoriesFor(args.MarketType) {
		ov := market.BuildOverview(byCategory[category], args.TopN)
		overviews = append(overviews, MarketOverview{Category: category, Overview: ov})
		logger.Debug("Обзор рынка",
			zap.String("category", category),
			zap.String("sentiment", ov.Sentiment),
			zap.Int("total", ov.Total))
	}

	return map[string]any{
		"market_type": args.MarketType,
		"markets":     overviews,
	}, nil
}

func (t *Toolbox) allTickers(ctx context.Context, args allTickersArgs) (any, error) {
	byCategory, err := t.tickersFor(ctx, args.MarketType)
	if err != nil {
		return nil, err
	}

	var all []models.Ticker
	for _, category := range categoriesFor(args.MarketType) {
		for _, tk := range byCategory[category] {
			if tk.Turnover24h < args.MinVolume24h {
				continue
			}
			all = append(all, tk)
		}
	}
	total := len(all)
	sorted := market.SortTickers(all, args.SortBy)
	if len(sorted) > args.Limit {
		sorted = sorted[:args.Limit]
	}

	return map[string]any{
		"market_type": args.MarketType,
		"sort_by":     args.SortBy,
		"total":       total,
		"count":       len(sorted),
		"tickers":     sorted,
	}, nil
}

func (t *Toolbox) assetPrice(ctx context.Context, args symbolArgs) (any, error) {
	symbol := normalizeSymbol(args.Symbol)
	tk, err := t.exchange.GetTicker(ctx, args.Category, symbol)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"symbol":         tk.Symbol,
		"category":       args.Category,
		"price":          tk.LastPrice,
		"mark_price":     tk.MarkPrice,
		"change_pct_24h": tk.ChangePct24h,
		"high_24h":       tk.High24h,
		"low_24h":        tk.Low24h,
		"volume_24h":     tk.Volume24h,
		"turnover_24h":   tk.Turnover24h,
		"bid":            tk.Bid1Price,
		"ask":            tk.Ask1Price,
	}, nil
}

func (t *Toolbox) fundingRate(ctx context.Context, args derivativeArgs) (any, error) {
	return t.funding.Analyze(ctx, t.exchange, args.Category, normalizeSymbol(args.Symbol))
}

func (t *Toolbox) openInterest(ctx context.Context, args derivativeArgs) (any, error) {
	return t.oi.Analyze(ctx, t.market, args.Category, normalizeSymbol(args.Symbol))
}

func (t *Toolbox) checkLiquidity(ctx context.Context, args symbolArgs) (any, error) {
	return t.book.Analyze(ctx, t.exchange, args.Category, normalizeSymbol(args.Symbol))
}
