package exchange

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/skalibog/bybit-mcp/internal/interval"
	"github.com/skalibog/bybit-mcp/pkg/logger"
	"github.com/skalibog/bybit-mcp/pkg/models"
	"go.uber.org/zap"
)

type rawTicker struct {
	Symbol       string `json:"symbol"`
	LastPrice    string `json:"lastPrice"`
	MarkPrice    string `json:"markPrice"`
	Price24hPcnt string `json:"price24hPcnt"`
	Volume24h    string `json:"volume24h"`
	Turnover24h  string `json:"turnover24h"`
	HighPrice24h string `json:"highPrice24h"`
	LowPrice24h  string `json:"lowPrice24h"`
	FundingRate  string `json:"fundingRate"`
	OpenInterest string `json:"openInterest"`
	Bid1Price    string `json:"bid1Price"`
	Ask1Price    string `json:"ask1Price"`
}

// GetTickers получает тикеры категории. Пустой symbol означает все инструменты.
// Тикеры без цены отбрасываются.
func (c *Client) GetTickers(ctx context.Context, category, symbol string) ([]models.Ticker, error) {
	params := url.Values{"category": {category}}
	if symbol != "" {
		params.Set("symbol", symbol)
	}

	var res listResult[rawTicker]
	if err := c.publicGet(ctx, "/v5/market/tickers", params, &res); err != nil {
		return nil, fmt.Errorf("ошибка получения тикеров: %w", err)
	}

	tickers := make([]models.Ticker, 0, len(res.List))
	for _, t := range res.List {
		last := parseFloat(t.LastPrice)
		if last <= 0 {
			continue
		}
		tickers = append(tickers, models.Ticker{
			Symbol:       t.Symbol,
			Category:     category,
			LastPrice:    last,
			MarkPrice:    parseFloat(t.MarkPrice),
			Volume24h:    parseFloat(t.Volume24h),
			Turnover24h:  parseFloat(t.Turnover24h),
			ChangePct24h: parseFloat(t.Price24hPcnt) * 100,
			High24h:      parseFloat(t.HighPrice24h),
			Low24h:       parseFloat(t.LowPrice24h),
			FundingRate:  parseFloat(t.FundingRate),
			OpenInterest: parseFloat(t.OpenInterest),
			Bid1Price:    parseFloat(t.Bid1Price),
			Ask1Price:    parseFloat(t.Ask1Price),
		})
	}
	return tickers, nil
}

// GetTicker получает тикер одного символа
func (c *Client) GetTicker(ctx context.Context, category, symbol string) (*models.Ticker, error) {
	tickers, err := c.GetTickers(ctx, category, symbol)
	if err != nil {
		return nil, err
	}
	if len(tickers) == 0 {
		return nil, fmt.Errorf("тикер %s не найден в категории %s", symbol, category)
	}
	return &tickers[0], nil
}

// GetKlines получает исторические свечи в хронологическом порядке (старые первыми)
func (c *Client) GetKlines(ctx context.Context, category, symbol, tf string, limit int) ([]models.Candle, error) {
	params := url.Values{
		"category": {category},
		"symbol":   {symbol},
		"interval": {interval.ToWire(tf)},
	}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}

	var res listResult[[]string]
	if err := c.publicGet(ctx, "/v5/market/kline", params, &res); err != nil {
		return nil, fmt.Errorf("ошибка получения свечей: %w", err)
	}

	human := interval.ToHuman(interval.ToWire(tf))
	candles := make([]models.Candle, 0, len(res.List))
	// Bybit отдает свечи от новых к старым
	for i := len(res.List) - 1; i >= 0; i-- {
		row := res.List[i]
		if len(row) < 6 {
			continue
		}
		candle := models.Candle{
			Symbol:   symbol,
			Interval: human,
			OpenTime: parseMillis(row[0]),
			Open:     parseFloat(row[1]),
			High:     parseFloat(row[2]),
			Low:      parseFloat(row[3]),
			Close:    parseFloat(row[4]),
			Volume:   parseFloat(row[5]),
		}
		if len(row) > 6 {
			candle.Turnover = parseFloat(row[6])
		}
		if err := candle.Validate(); err != nil {
			logger.Warn("Пропущена некорректная свеча",
				zap.String("symbol", symbol), zap.Time("ts", candle.OpenTime), zap.Error(err))
			continue
		}
		candles = append(candles, candle)
	}
	return candles, nil
}

type rawOrderBook struct {
	Symbol string     `json:"s"`
	Bids   [][]string `json:"b"`
	Asks   [][]string `json:"a"`
	Ts     int64      `json:"ts"`
}

// GetOrderBook получает стакан заявок
func (c *Client) GetOrderBook(ctx context.Context, category, symbol string, limit int) (*models.OrderBook, error) {
	params := url.Values{"category": {category}, "symbol": {symbol}}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}

	var raw rawOrderBook
	if err := c.publicGet(ctx, "/v5/market/orderbook", params, &raw); err != nil {
		return nil, fmt.Errorf("ошибка получения стакана: %w", err)
	}

	return &models.OrderBook{
		Symbol:    symbol,
		Timestamp: time.UnixMilli(raw.Ts),
		Bids:      convertLevels(raw.Bids),
		Asks:      convertLevels(raw.Asks),
	}, nil
}

func convertLevels(rows [][]string) []models.OrderBookLevel {
	levels := make([]models.OrderBookLevel, 0, len(rows))
	for _, row := range rows {
		if len(row) < 2 {
			continue
		}
		levels = append(levels, models.OrderBookLevel{Price: parseFloat(row[0]), Amount: parseFloat(row[1])})
	}
	return levels
}

type rawFunding struct {
	Symbol               string `json:"symbol"`
	FundingRate          string `json:"fundingRate"`
	FundingRateTimestamp string `json:"fundingRateTimestamp"`
}

// GetFundingHistory получает историю ставок финансирования (новые первыми)
func (c *Client) GetFundingHistory(ctx context.Context, category, symbol string, limit int) ([]models.FundingRate, error) {
	params := url.Values{"category": {category}, "symbol": {symbol}}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}

	var res listResult[rawFunding]
	if err := c.publicGet(ctx, "/v5/market/funding/history", params, &res); err != nil {
		return nil, fmt.Errorf("ошибка получения ставок финансирования: %w", err)
	}

	rates := make([]models.FundingRate, 0, len(res.List))
	for _, r := range res.List {
		rates = append(rates, models.FundingRate{
			Symbol:    r.Symbol,
			Rate:      parseFloat(r.FundingRate),
			Timestamp: parseMillis(r.FundingRateTimestamp),
		})
	}
	return rates, nil
}

type rawOpenInterest struct {
	OpenInterest string `json:"openInterest"`
	Timestamp    string `json:"timestamp"`
}

// GetOpenInterest получает историю открытого интереса (новые первыми)
func (c *Client) GetOpenInterest(ctx context.Context, category, symbol, intervalTime string, limit int) ([]models.OpenInterest, error) {
	if intervalTime == "" {
		intervalTime = "1h"
	}
	params := url.Values{"category": {category}, "symbol": {symbol}, "intervalTime": {intervalTime}}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}

	var res listResult[rawOpenInterest]
	if err := c.publicGet(ctx, "/v5/market/open-interest", params, &res); err != nil {
		return nil, fmt.Errorf("ошибка получения открытого интереса: %w", err)
	}

	data := make([]models.OpenInterest, 0, len(res.List))
	for _, r := range res.List {
		data = append(data, models.OpenInterest{
			Symbol:    symbol,
			Value:     parseFloat(r.OpenInterest),
			Timestamp: parseMillis(r.Timestamp),
		})
	}
	return data, nil
}

type rawInstrument struct {
	Symbol        string `json:"symbol"`
	BaseCoin      string `json:"baseCoin"`
	QuoteCoin     string `json:"quoteCoin"`
	LotSizeFilter struct {
		BasePrecision string `json:"basePrecision"`
		QtyStep       string `json:"qtyStep"`
		MinOrderQty   string `json:"minOrderQty"`
	} `json:"lotSizeFilter"`
	PriceFilter struct {
		TickSize string `json:"tickSize"`
	} `json:"priceFilter"`
}

// GetInstrument получает параметры инструмента (шаг количества и цены)
func (c *Client) GetInstrument(ctx context.Context, category, symbol string) (*models.Instrument, error) {
	params := url.Values{"category": {category}, "symbol": {symbol}}

	var res listResult[rawInstrument]
	if err := c.publicGet(ctx, "/v5/market/instruments-info", params, &res); err != nil {
		return nil, fmt.Errorf("ошибка получения параметров инструмента: %w", err)
	}
	if len(res.List) == 0 {
		return nil, fmt.Errorf("инструмент %s не найден в категории %s", symbol, category)
	}

	raw := res.List[0]
	step := raw.LotSizeFilter.QtyStep
	if step == "" {
		step = raw.LotSizeFilter.BasePrecision
	}
	return &models.Instrument{
		Symbol:      raw.Symbol,
		Category:    category,
		BaseCoin:    raw.BaseCoin,
		QuoteCoin:   raw.QuoteCoin,
		QtyStep:     step,
		MinOrderQty: raw.LotSizeFilter.MinOrderQty,
		TickSize:    raw.PriceFilter.TickSize,
	}, nil
}
