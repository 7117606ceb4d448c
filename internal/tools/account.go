package tools

import (
	"context"

	"github.com/skalibog/bybit-mcp/internal/mcp"
	"github.com/skalibog/bybit-mcp/pkg/models"
)

type accountInfoArgs struct {
	Coin     string `json:"coin" default:"USDT" desc:"Монета баланса"`
	UseCache bool   `json:"use_cache" default:"true" desc:"Использовать кэш балансов"`
}

type positionsArgs struct {
	Category string `json:"category" default:"linear" validate:"oneof=linear inverse" desc:"Категория деривативов: linear или inverse"`
	Symbol   string `json:"symbol,omitempty" desc:"Фильтр по торговой паре"`
}

type orderHistoryArgs struct {
	Category string `json:"category" default:"linear" validate:"oneof=spot linear inverse" desc:"Категория: spot, linear или inverse"`
	Symbol   string `json:"symbol,omitempty" desc:"Фильтр по торговой паре"`
	Limit    int    `json:"limit" default:"20" validate:"min=1,max=50" desc:"Число ордеров"`
}

// AccountInfo сводка по счету
type AccountInfo struct {
	Balance       models.CombinedBalance `json:"balance"`
	CacheTTL      string                 `json:"cache_ttl"`
	OpenPositions int                    `json:"open_positions"`
	PositionsErr  string                 `json:"positions_error,omitempty"`
}

func (t *Toolbox) accountTools() []mcp.Tool {
	return []mcp.Tool{
		mcp.NewTool("get_account_info",
			"Балансы монеты на аккаунтах SPOT, CONTRACT и UNIFIED с итогами по успешным аккаунтам",
			t.accountInfo),
		mcp.NewTool("get_open_positions",
			"Открытые позиции с ценой входа, маркировочной ценой, PnL, стопами и ценой ликвидации",
			t.openPositions),
		mcp.NewTool("get_order_history",
			"История ордеров",
			t.orderHistory),
	}
}

func (t *Toolbox) accountInfo(ctx context.Context, args accountInfoArgs) (any, error) {
	coin := normalizeSymbol(args.Coin)
	if coin == "" {
		coin = DefaultCoin
	}
	info := AccountInfo{
		Balance:  t.balances.GetAllAccountBalances(ctx, coin, args.UseCache),
		CacheTTL: t.balances.Cache().TTL().String(),
	}

	positions, err := t.exchange.GetPositions(ctx, DefaultCategory, "")
	if err != nil {
		info.PositionsErr = err.Error()
	} else {
		info.OpenPositions = len(positions)
	}
	return info, nil
}

func (t *Toolbox) openPositions(ctx context.Context, args positionsArgs) (any, error) {
	positions, err := t.exchange.GetPositions(ctx, args.Category, normalizeSymbol(args.Symbol))
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"category":  args.Category,
		"count":     len(positions),
		"positions": positions,
	}, nil
}

func (t *Toolbox) orderHistory(ctx context.Context, args orderHistoryArgs) (any, error) {
	orders, err := t.exchange.GetOrderHistory(ctx, args.Category, normalizeSymbol(args.Symbol), args.Limit)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"category": args.Category,
		"count":    len(orders),
		"orders":   orders,
	}, nil
}
