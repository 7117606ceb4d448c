package exchange

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OrderRequest параметры нового ордера
type OrderRequest struct {
	Category    string
	Symbol      string
	Side        string // Buy | Sell
	OrderType   string // Market | Limit
	Qty         decimal.Decimal
	Price       *decimal.Decimal
	StopLoss    *decimal.Decimal
	TakeProfit  *decimal.Decimal
	ReduceOnly  bool
	MarketUnit  string // для spot: baseCoin | quoteCoin
	OrderLinkID string
}

// OrderResult идентификаторы созданного ордера
type OrderResult struct {
	OrderID     string `json:"orderId"`
	OrderLinkID string `json:"orderLinkId"`
}

func (r OrderRequest) body() map[string]any {
	body := map[string]any{
		"category":    r.Category,
		"symbol":      r.Symbol,
		"side":        r.Side,
		"orderType":   r.OrderType,
		"qty":         r.Qty.String(),
		"orderLinkId": r.OrderLinkID,
	}
	if r.Price != nil && strings.EqualFold(r.OrderType, "Limit") {
		body["price"] = r.Price.String()
		body["timeInForce"] = "GTC"
	}
	if r.StopLoss != nil {
		body["stopLoss"] = r.StopLoss.String()
	}
	if r.TakeProfit != nil {
		body["takeProfit"] = r.TakeProfit.String()
	}
	if r.ReduceOnly {
		body["reduceOnly"] = true
	}
	if r.MarketUnit != "" && r.Category == "spot" {
		body["marketUnit"] = r.MarketUnit
	}
	if r.Category != "spot" {
		body["positionIdx"] = 0
	}
	return body
}

// PlaceOrder размещает ордер
func (c *Client) PlaceOrder(ctx context.Context, req OrderRequest) (*OrderResult, error) {
	if !req.Qty.IsPositive() {
		return nil, fmt.Errorf("количество должно быть положительным: %s", req.Qty)
	}
	if req.OrderLinkID == "" {
		req.OrderLinkID = NewOrderLinkID()
	}

	var res OrderResult
	if err := c.signedPost(ctx, "/v5/order/create", req.body(), &res); err != nil {
		return nil, fmt.Errorf("ошибка размещения ордера %s: %w", req.Symbol, err)
	}
	if res.OrderLinkID == "" {
		res.OrderLinkID = req.OrderLinkID
	}
	return &res, nil
}

// CancelOrder отменяет ордер
func (c *Client) CancelOrder(ctx context.Context, category, symbol, orderID string) (*OrderResult, error) {
	body := map[string]any{
		"category": category,
		"symbol":   symbol,
		"orderId":  orderID,
	}

	var res OrderResult
	if err := c.signedPost(ctx, "/v5/order/cancel", body, &res); err != nil {
		return nil, fmt.Errorf("ошибка отмены ордера %s: %w", orderID, err)
	}
	return &res, nil
}

// TradingStopRequest изменение SL/TP/трейлинга позиции
type TradingStopRequest struct {
	Category     string
	Symbol       string
	StopLoss     *decimal.Decimal
	TakeProfit   *decimal.Decimal
	TrailingStop *decimal.Decimal // расстояние в цене
	ActivePrice  *decimal.Decimal
}

// SetTradingStop устанавливает стоп-лосс, тейк-профит или трейлинг для позиции
func (c *Client) SetTradingStop(ctx context.Context, req TradingStopRequest) error {
	body := map[string]any{
		"category":    req.Category,
		"symbol":      req.Symbol,
		"tpslMode":    "Full",
		"positionIdx": 0,
	}
	if req.StopLoss != nil {
		body["stopLoss"] = req.StopLoss.String()
	}
	if req.TakeProfit != nil {
		body["takeProfit"] = req.TakeProfit.String()
	}
	if req.TrailingStop != nil {
		body["trailingStop"] = req.TrailingStop.String()
	}
	if req.ActivePrice != nil {
		body["activePrice"] = req.ActivePrice.String()
	}
	if len(body) == 4 {
		return fmt.Errorf("не указаны параметры для изменения позиции %s", req.Symbol)
	}

	if err := c.signedPost(ctx, "/v5/position/trading-stop", body, nil); err != nil {
		return fmt.Errorf("ошибка изменения позиции %s: %w", req.Symbol, err)
	}
	return nil
}

// NewOrderLinkID генерирует клиентский идентификатор ордера (не длиннее 36 символов)
func NewOrderLinkID() string {
	return "mcp-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:28]
}

// RoundToStep округляет количество вниз до шага инструмента
func RoundToStep(qty float64, step string) decimal.Decimal {
	value := decimal.NewFromFloat(qty)
	stepDec, err := decimal.NewFromString(step)
	if err != nil || !stepDec.IsPositive() {
		return value
	}
	return value.Div(stepDec).Floor().Mul(stepDec)
}

// Dec переводит цену в decimal; nil для nil
func Dec(v *float64) *decimal.Decimal {
	if v == nil {
		return nil
	}
	d := decimal.NewFromFloat(*v)
	return &d
}
