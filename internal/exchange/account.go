package exchange

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/skalibog/bybit-mcp/pkg/models"
)

// ErrCoinNotFound монеты нет в ответе wallet-balance
var ErrCoinNotFound = errors.New("монета не найдена в балансе аккаунта")

// CoinBalance баланс монеты на аккаунте
type CoinBalance struct {
	Account   models.AccountType
	Coin      string
	Total     float64
	Available float64
	Locked    float64
	USDValue  float64
}

type rawWallet struct {
	AccountType    string    `json:"accountType"`
	TotalEquity    string    `json:"totalEquity"`
	TotalWalletBal string    `json:"totalWalletBalance"`
	TotalAvailable string    `json:"totalAvailableBalance"`
	Coins          []rawCoin `json:"coin"`
}

type rawCoin struct {
	Coin                string `json:"coin"`
	WalletBalance       string `json:"walletBalance"`
	AvailableToWithdraw string `json:"availableToWithdraw"`
	Free                string `json:"free"`
	Locked              string `json:"locked"`
	UsdValue            string `json:"usdValue"`
}

// GetWalletBalance получает баланс монеты на аккаунте указанного типа
func (c *Client) GetWalletBalance(ctx context.Context, account models.AccountType, coin string) (*CoinBalance, error) {
	coin = strings.ToUpper(coin)
	params := url.Values{"accountType": {string(account)}}
	if coin != "" {
		params.Set("coin", coin)
	}

	var res listResult[rawWallet]
	if err := c.signedGet(ctx, "/v5/account/wallet-balance", params, &res); err != nil {
		return nil, fmt.Errorf("ошибка получения баланса %s: %w", account, err)
	}

	for _, wallet := range res.List {
		for _, rc := range wallet.Coins {
			if !strings.EqualFold(rc.Coin, coin) {
				continue
			}
			total := parseFloat(rc.WalletBalance)
			locked := parseFloat(rc.Locked)
			available := parseFloat(rc.AvailableToWithdraw)
			if rc.AvailableToWithdraw == "" {
				if rc.Free != "" {
					available = parseFloat(rc.Free)
				} else {
					available = total - locked
				}
			}
			if available < 0 {
				available = 0
			}
			return &CoinBalance{
				Account:   account,
				Coin:      coin,
				Total:     total,
				Available: available,
				Locked:    locked,
				USDValue:  parseFloat(rc.UsdValue),
			}, nil
		}
	}
	return nil, fmt.Errorf("%w: %s на %s", ErrCoinNotFound, coin, account)
}

type rawPosition struct {
	Symbol        string `json:"symbol"`
	Category      string `json:"category"`
	Side          string `json:"side"`
	Size          string `json:"size"`
	AvgPrice      string `json:"avgPrice"`
	EntryPrice    string `json:"entryPrice"`
	MarkPrice     string `json:"markPrice"`
	Leverage      string `json:"leverage"`
	UnrealisedPnl string `json:"unrealisedPnl"`
	PnlPct        string `json:"unrealisedPnlPct"`
	StopLoss      string `json:"stopLoss"`
	TakeProfit    string `json:"takeProfit"`
	TrailingStop  string `json:"trailingStop"`
	LiqPrice      string `json:"liqPrice"`
	CreatedTime   string `json:"createdTime"`
	UpdatedTime   string `json:"updatedTime"`
}

// toModel переводит позицию биржи в модель. Размер 0 означает закрытую позицию.
func (r rawPosition) toModel() models.Position {
	entry := parseFloat(r.AvgPrice)
	if entry == 0 {
		entry = parseFloat(r.EntryPrice)
	}
	side := models.Long
	if strings.EqualFold(r.Side, "Sell") {
		side = models.Short
	}
	leverage := parseFloat(r.Leverage)
	if leverage < 1 {
		leverage = 1
	}

	p := models.Position{
		Symbol:        r.Symbol,
		Category:      r.Category,
		Side:          side,
		Size:          parseFloat(r.Size),
		EntryPrice:    entry,
		MarkPrice:     parseFloat(r.MarkPrice),
		Leverage:      leverage,
		UnrealizedPnl: parseFloat(r.UnrealisedPnl),
		StopLoss:      optionalFloat(r.StopLoss),
		TakeProfit:    optionalFloat(r.TakeProfit),
		TrailingStop:  optionalFloat(r.TrailingStop),
		LiqPrice:      optionalFloat(r.LiqPrice),
		CreatedAt:     parseMillis(r.CreatedTime),
		UpdatedAt:     parseMillis(r.UpdatedTime),
	}
	if r.PnlPct != "" {
		if v, err := strconv.ParseFloat(r.PnlPct, 64); err == nil {
			p.UnrealizedPnlPct = &v
		}
	}
	return p
}

// GetPositions получает открытые позиции. Без symbol берутся все позиции с расчетом в USDT.
func (c *Client) GetPositions(ctx context.Context, category, symbol string) ([]models.Position, error) {
	params := url.Values{"category": {category}}
	if symbol != "" {
		params.Set("symbol", symbol)
	} else {
		params.Set("settleCoin", "USDT")
	}

	var res listResult[rawPosition]
	if err := c.signedGet(ctx, "/v5/position/list", params, &res); err != nil {
		return nil, fmt.Errorf("ошибка получения позиций: %w", err)
	}

	positions := make([]models.Position, 0, len(res.List))
	for _, raw := range res.List {
		if raw.Category == "" {
			raw.Category = category
		}
		p := raw.toModel()
		if !p.Open() {
			continue
		}
		positions = append(positions, p)
	}
	return positions, nil
}

// GetPosition получает открытую позицию по символу; nil если позиции нет
func (c *Client) GetPosition(ctx context.Context, category, symbol string) (*models.Position, error) {
	positions, err := c.GetPositions(ctx, category, symbol)
	if err != nil {
		return nil, err
	}
	for i := range positions {
		if positions[i].Symbol == symbol {
			return &positions[i], nil
		}
	}
	return nil, nil
}

type rawOrder struct {
	OrderID     string `json:"orderId"`
	OrderLinkID string `json:"orderLinkId"`
	Symbol      string `json:"symbol"`
	Side        string `json:"side"`
	OrderType   string `json:"orderType"`
	Price       string `json:"price"`
	Qty         string `json:"qty"`
	CumExecQty  string `json:"cumExecQty"`
	AvgPrice    string `json:"avgPrice"`
	OrderStatus string `json:"orderStatus"`
	CreatedTime string `json:"createdTime"`
}

// GetOrderHistory получает историю ордеров
func (c *Client) GetOrderHistory(ctx context.Context, category, symbol string, limit int) ([]models.Order, error) {
	params := url.Values{"category": {category}}
	if symbol != "" {
		params.Set("symbol", symbol)
	}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}

	var res listResult[rawOrder]
	if err := c.signedGet(ctx, "/v5/order/history", params, &res); err != nil {
		return nil, fmt.Errorf("ошибка получения истории ордеров: %w", err)
	}

	orders := make([]models.Order, 0, len(res.List))
	for _, o := range res.List {
		orders = append(orders, models.Order{
			OrderID:     o.OrderID,
			OrderLinkID: o.OrderLinkID,
			Symbol:      o.Symbol,
			Side:        o.Side,
			OrderType:   o.OrderType,
			Price:       parseFloat(o.Price),
			Qty:         parseFloat(o.Qty),
			CumExecQty:  parseFloat(o.CumExecQty),
			AvgPrice:    parseFloat(o.AvgPrice),
			Status:      o.OrderStatus,
			CreatedAt:   parseMillis(o.CreatedTime),
		})
	}
	return orders, nil
}
