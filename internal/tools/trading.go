package tools

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/skalibog/bybit-mcp/internal/exchange"
	"github.com/skalibog/bybit-mcp/internal/mcp"
	"github.com/skalibog/bybit-mcp/pkg/logger"
	"github.com/skalibog/bybit-mcp/pkg/models"
	"go.uber.org/zap"
)

type placeOrderArgs struct {
	Symbol     string   `json:"symbol" validate:"required" desc:"Торговая пара, например BTCUSDT"`
	Side       string   `json:"side" validate:"required,oneof=Buy Sell buy sell long short" desc:"Buy или Sell"`
	OrderType  string   `json:"order_type" default:"Market" validate:"oneof=Market Limit market limit" desc:"Market или Limit"`
	Quantity   float64  `json:"quantity" validate:"gt=0" desc:"Количество в базовой монете"`
	Price      *float64 `json:"price,omitempty" validate:"omitempty,gt=0" desc:"Цена для лимитного ордера"`
	StopLoss   *float64 `json:"stop_loss,omitempty" validate:"omitempty,gt=0" desc:"Стоп-лосс"`
	TakeProfit *float64 `json:"take_profit,omitempty" validate:"omitempty,gt=0" desc:"Тейк-профит"`
	Category   string   `json:"category" default:"linear" validate:"oneof=spot linear inverse" desc:"Категория: spot, linear или inverse"`
	ReduceOnly bool     `json:"reduce_only" desc:"Только уменьшение позиции"`
}

type closePositionArgs struct {
	Symbol   string `json:"symbol" validate:"required" desc:"Торговая пара, например BTCUSDT"`
	Category string `json:"category" default:"linear" validate:"oneof=spot linear inverse" desc:"Категория: spot, linear или inverse"`
	Reason   string `json:"reason,omitempty" desc:"Причина закрытия для журнала"`
}

type modifyPositionArgs struct {
	Symbol     string   `json:"symbol" validate:"required" desc:"Торговая пара, например BTCUSDT"`
	StopLoss   *float64 `json:"stop_loss,omitempty" validate:"omitempty,gte=0" desc:"Новый стоп-лосс; 0 снимает стоп"`
	TakeProfit *float64 `json:"take_profit,omitempty" validate:"omitempty,gte=0" desc:"Новый тейк-профит; 0 снимает тейк"`
	Category   string   `json:"category" default:"linear" validate:"oneof=linear inverse" desc:"Категория деривативов: linear или inverse"`
}

type cancelOrderArgs struct {
	OrderID  string `json:"order_id" validate:"required" desc:"Идентификатор ордера"`
	Symbol   string `json:"symbol" validate:"required" desc:"Торговая пара"`
	Category string `json:"category" default:"linear" validate:"oneof=spot linear inverse" desc:"Категория: spot, linear или inverse"`
}

type breakevenArgs struct {
	Symbol     string  `json:"symbol" validate:"required" desc:"Торговая пара"`
	EntryPrice float64 `json:"entry_price" validate:"gt=0" desc:"Цена входа, на которую переносится стоп"`
	Category   string  `json:"category" default:"linear" validate:"oneof=linear inverse" desc:"Категория деривативов: linear или inverse"`
}

type trailingArgs struct {
	Symbol           string   `json:"symbol" validate:"required" desc:"Торговая пара"`
	TrailingDistance float64  `json:"trailing_distance" validate:"gt=0" desc:"Расстояние трейлинга в цене или в процентах"`
	DistanceType     string   `json:"distance_type" default:"price" validate:"oneof=price percent" desc:"price: расстояние в цене, percent: в процентах от маркировочной цены"`
	ActivePrice      *float64 `json:"active_price,omitempty" validate:"omitempty,gt=0" desc:"Цена активации трейлинга"`
	Category         string   `json:"category" default:"linear" validate:"oneof=linear inverse" desc:"Категория деривативов: linear или inverse"`
}

func (t *Toolbox) tradingTools() []mcp.Tool {
	return []mcp.Tool{
		mcp.NewTool("place_order",
			"Размещение рыночного или лимитного ордера с опциональными стоп-лоссом и тейк-профитом",
			t.placeOrder),
		mcp.NewTool("close_position",
			"Закрытие позиции рыночным ордером; для spot продается весь доступный баланс монеты (SPOT, затем UNIFIED)",
			t.closePosition),
		mcp.NewTool("modify_position",
			"Изменение стоп-лосса и тейк-профита открытой позиции",
			t.modifyPosition),
		mcp.NewTool("cancel_order",
			"Отмена ордера",
			t.cancelOrder),
		mcp.NewTool("move_to_breakeven",
			"Перенос стоп-лосса позиции на цену входа",
			t.moveToBreakeven),
		mcp.NewTool("activate_trailing_stop",
			"Включение трейлинг-стопа для позиции",
			t.activateTrailing),
	}
}

// orderSide приводит направление к Buy/Sell
func orderSide(side string) string {
	switch strings.ToLower(side) {
	case "sell", "short":
		return "Sell"
	default:
		return "Buy"
	}
}

// closingSide сторона ордера, закрывающего позицию
func closingSide(side models.Side) string {
	if side == models.Short {
		return "Buy"
	}
	return "Sell"
}

// roundQty округляет количество по шагу инструмента и проверяет минимум.
// Если параметры инструмента недоступны, количество не округляется.
func (t *Toolbox) roundQty(ctx context.Context, category, symbol string, qty float64) (decimal.Decimal, *models.Instrument, bool) {
	inst, err := t.exchange.GetInstrument(ctx, category, symbol)
	if err != nil {
		logger.Warn("Параметры инструмента недоступны, количество не округляется",
			zap.String("symbol", symbol), zap.Error(err))
		return decimal.NewFromFloat(qty), nil, true
	}
	rounded := exchange.RoundToStep(qty, inst.QtyStep)
	if minQty, err := decimal.NewFromString(inst.MinOrderQty); err == nil && rounded.LessThan(minQty) {
		return rounded, inst, false
	}
	return rounded, inst, rounded.IsPositive()
}

func (t *Toolbox) placeOrder(ctx context.Context, args placeOrderArgs) (any, error) {
	symbol := normalizeSymbol(args.Symbol)
	orderType := "Market"
	if strings.EqualFold(args.OrderType, "Limit") {
		orderType = "Limit"
	}
	if orderType == "Limit" && args.Price == nil {
		return models.Fail("для лимитного ордера нужна цена"), nil
	}

	qty, inst, ok := t.roundQty(ctx, args.Category, symbol, args.Quantity)
	if !ok {
		minQty := ""
		if inst != nil {
			minQty = inst.MinOrderQty
		}
		return models.Fail("количество %s меньше минимального %s для %s", qty, minQty, symbol), nil
	}

	req := exchange.OrderRequest{
		Category:   args.Category,
		Symbol:     symbol,
		Side:       orderSide(args.Side),
		OrderType:  orderType,
		Qty:        qty,
		Price:      exchange.Dec(args.Price),
		StopLoss:   exchange.Dec(args.StopLoss),
		TakeProfit: exchange.Dec(args.TakeProfit),
		ReduceOnly: args.ReduceOnly,
	}
	if args.Category == "spot" {
		req.MarketUnit = "baseCoin"
	}

	res, err := t.exchange.PlaceOrder(ctx, req)
	if err != nil {
		return apiFailure(err, "ордер %s не размещен", symbol)
	}
	t.balances.Cache().Clear()

	logger.Info("Ордер размещен",
		zap.String("symbol", symbol),
		zap.String("side", req.Side),
		zap.String("type", orderType),
		zap.String("qty", qty.String()),
		zap.String("order_id", res.OrderID))

	return models.ActionResult{
		Success: true,
		Message: "ордер размещен",
		Data: map[string]any{
			"order_id":      res.OrderID,
			"order_link_id": res.OrderLinkID,
			"symbol":        symbol,
			"side":          req.Side,
			"order_type":    orderType,
			"qty":           qty.String(),
		},
	}, nil
}

func (t *Toolbox) closePosition(ctx context.Context, args closePositionArgs) (any, error) {
	symbol := normalizeSymbol(args.Symbol)
	if args.Category == "spot" {
		return t.closeSpot(ctx, symbol, args.Reason)
	}

	positions, err := t.exchange.GetPositions(ctx, args.Category, symbol)
	if err != nil {
		return nil, err
	}
	var pos *models.Position
	for i := range positions {
		if positions[i].Symbol == symbol && positions[i].Open() {
			pos = &positions[i]
			break
		}
	}
	if pos == nil {
		return models.Fail("нет открытой позиции по %s", symbol), nil
	}

	req := exchange.OrderRequest{
		Category:   args.Category,
		Symbol:     symbol,
		Side:       closingSide(pos.Side),
		OrderType:  "Market",
		Qty:        decimal.NewFromFloat(pos.Size),
		ReduceOnly: true,
	}
	res, err := t.exchange.PlaceOrder(ctx, req)
	if err != nil {
		return apiFailure(err, "позиция %s не закрыта", symbol)
	}
	t.balances.Cache().Clear()

	logger.Info("Позиция закрыта",
		zap.String("symbol", symbol),
		zap.String("side", string(pos.Side)),
		zap.Float64("size", pos.Size),
		zap.String("reason", args.Reason))

	return models.ActionResult{
		Success: true,
		Message: "позиция закрыта",
		Data: map[string]any{
			"order_id":       res.OrderID,
			"symbol":         symbol,
			"side":           req.Side,
			"qty":            req.Qty.String(),
			"entry_price":    pos.EntryPrice,
			"mark_price":     pos.MarkPrice,
			"unrealized_pnl": pos.UnrealizedPnl,
			"reason":         args.Reason,
		},
	}, nil
}

// closeSpot продает весь доступный баланс базовой монеты. Баланс ищется
// на SPOT, при неудаче на UNIFIED.
func (t *Toolbox) closeSpot(ctx context.Context, symbol, reason string) (any, error) {
	base, step := strings.TrimSuffix(symbol, "USDT"), ""
	if inst, err := t.exchange.GetInstrument(ctx, "spot", symbol); err == nil {
		if inst.BaseCoin != "" {
			base = inst.BaseCoin
		}
		step = inst.QtyStep
	} else {
		logger.Warn("Параметры инструмента недоступны", zap.String("symbol", symbol), zap.Error(err))
	}

	entry := t.balances.ResolveSpotBalance(ctx, base)
	if !entry.Success {
		return models.Fail("баланс %s не найден ни на SPOT, ни на UNIFIED: %s", base, entry.Error), nil
	}
	if entry.Available <= 0 {
		return models.Fail("нет доступного баланса %s на %s", base, entry.Account), nil
	}

	qty := exchange.RoundToStep(entry.Available, step)
	if !qty.IsPositive() {
		return models.Fail("доступный баланс %s меньше шага количества %s", base, step), nil
	}

	res, err := t.exchange.PlaceOrder(ctx, exchange.OrderRequest{
		Category:   "spot",
		Symbol:     symbol,
		Side:       "Sell",
		OrderType:  "Market",
		Qty:        qty,
		MarketUnit: "baseCoin",
	})
	if err != nil {
		return apiFailure(err, "продажа %s не выполнена", symbol)
	}
	t.balances.Cache().Invalidate("", base)

	logger.Info("Спотовая позиция закрыта",
		zap.String("symbol", symbol),
		zap.String("account", string(entry.Account)),
		zap.String("qty", qty.String()),
		zap.String("reason", reason))

	return models.ActionResult{
		Success: true,
		Message: "позиция закрыта",
		Data: map[string]any{
			"order_id": res.OrderID,
			"symbol":   symbol,
			"side":     "Sell",
			"qty":      qty.String(),
			"account":  entry.Account,
			"reason":   reason,
		},
	}, nil
}

func (t *Toolbox) modifyPosition(ctx context.Context, args modifyPositionArgs) (any, error) {
	if args.StopLoss == nil && args.TakeProfit == nil {
		return models.Fail("укажите stop_loss или take_profit"), nil
	}
	symbol := normalizeSymbol(args.Symbol)
	req := exchange.TradingStopRequest{
		Category:   args.Category,
		Symbol:     symbol,
		StopLoss:   exchange.Dec(args.StopLoss),
		TakeProfit: exchange.Dec(args.TakeProfit),
	}
	if err := t.exchange.SetTradingStop(ctx, req); err != nil {
		return apiFailure(err, "позиция %s не изменена", symbol)
	}

	data := map[string]any{"symbol": symbol}
	if args.StopLoss != nil {
		data["stop_loss"] = *args.StopLoss
	}
	if args.TakeProfit != nil {
		data["take_profit"] = *args.TakeProfit
	}
	return models.ActionResult{Success: true, Message: "позиция изменена", Data: data}, nil
}

func (t *Toolbox) cancelOrder(ctx context.Context, args cancelOrderArgs) (any, error) {
	symbol := normalizeSymbol(args.Symbol)
	res, err := t.exchange.CancelOrder(ctx, args.Category, symbol, args.OrderID)
	if err != nil {
		return apiFailure(err, "ордер %s не отменен", args.OrderID)
	}
	return models.ActionResult{
		Success: true,
		Message: "ордер отменен",
		Data:    map[string]any{"order_id": res.OrderID, "symbol": symbol},
	}, nil
}

func (t *Toolbox) moveToBreakeven(ctx context.Context, args breakevenArgs) (any, error) {
	symbol := normalizeSymbol(args.Symbol)
	sl := decimal.NewFromFloat(args.EntryPrice)
	err := t.exchange.SetTradingStop(ctx, exchange.TradingStopRequest{
		Category: args.Category,
		Symbol:   symbol,
		StopLoss: &sl,
	})
	if err != nil {
		return apiFailure(err, "стоп %s не перенесен в безубыток", symbol)
	}

	logger.Info("Стоп перенесен в безубыток", zap.String("symbol", symbol), zap.String("new_sl", sl.String()))
	return models.ActionResult{
		Success: true,
		Message: "стоп перенесен в безубыток",
		Data:    map[string]any{"symbol": symbol, "new_sl": args.EntryPrice},
	}, nil
}

func (t *Toolbox) activateTrailing(ctx context.Context, args trailingArgs) (any, error) {
	symbol := normalizeSymbol(args.Symbol)

	distance := args.TrailingDistance
	if args.DistanceType == "percent" {
		positions, err := t.exchange.GetPositions(ctx, args.Category, symbol)
		if err != nil {
			return nil, err
		}
		if len(positions) == 0 || positions[0].MarkPrice <= 0 {
			return models.Fail("нет открытой позиции по %s", symbol), nil
		}
		distance = positions[0].MarkPrice * args.TrailingDistance / 100
	}

	step := ""
	if inst, err := t.exchange.GetInstrument(ctx, args.Category, symbol); err == nil {
		step = inst.TickSize
	}
	trailing := exchange.RoundToStep(distance, step)
	if !trailing.IsPositive() {
		return models.Fail("расстояние трейлинга меньше шага цены %s", step), nil
	}

	err := t.exchange.SetTradingStop(ctx, exchange.TradingStopRequest{
		Category:     args.Category,
		Symbol:       symbol,
		TrailingStop: &trailing,
		ActivePrice:  exchange.Dec(args.ActivePrice),
	})
	if err != nil {
		return apiFailure(err, "трейлинг %s не включен", symbol)
	}

	data := map[string]any{
		"symbol":            symbol,
		"trailing_distance": trailing.String(),
		"distance_type":     args.DistanceType,
	}
	if args.ActivePrice != nil {
		data["active_price"] = *args.ActivePrice
	}
	logger.Info("Трейлинг-стоп включен", zap.String("symbol", symbol), zap.String("distance", trailing.String()))
	return models.ActionResult{Success: true, Message: "трейлинг-стоп включен", Data: data}, nil
}
