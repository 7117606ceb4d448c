package models

import (
	"fmt"
	"time"
)

// Candle представляет свечу (OHLCV)
type Candle struct {
	Symbol   string    `json:"symbol,omitempty"`
	Interval string    `json:"interval,omitempty"`
	OpenTime time.Time `json:"ts"`
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
	Volume   float64   `json:"volume"`
	Turnover float64   `json:"turnover,omitempty"`
}

// Validate проверяет инварианты свечи
func (c Candle) Validate() error {
	if c.High < c.Open || c.High < c.Close {
		return fmt.Errorf("high %v ниже open/close", c.High)
	}
	if c.Low > c.Open || c.Low > c.Close {
		return fmt.Errorf("low %v выше open/close", c.Low)
	}
	if c.Volume < 0 {
		return fmt.Errorf("отрицательный объем %v", c.Volume)
	}
	return nil
}

// Ticker снимок тикера за 24 часа
type Ticker struct {
	Symbol       string  `json:"symbol"`
	Category     string  `json:"category,omitempty"`
	LastPrice    float64 `json:"last_price"`
	MarkPrice    float64 `json:"mark_price,omitempty"`
	Volume24h    float64 `json:"volume_24h"`
	Turnover24h  float64 `json:"turnover_24h"`
	ChangePct24h float64 `json:"change_pct_24h"`
	High24h      float64 `json:"high_24h,omitempty"`
	Low24h       float64 `json:"low_24h,omitempty"`
	FundingRate  float64 `json:"funding_rate,omitempty"`
	OpenInterest float64 `json:"open_interest,omitempty"`
	Bid1Price    float64 `json:"bid1_price,omitempty"`
	Ask1Price    float64 `json:"ask1_price,omitempty"`
}

// OrderBookLevel представляет уровень стакана
type OrderBookLevel struct {
	Price  float64 `json:"price"`
	Amount float64 `json:"amount"`
}

// OrderBook представляет стакан заявок
type OrderBook struct {
	Symbol    string           `json:"symbol"`
	Timestamp time.Time        `json:"timestamp"`
	Bids      []OrderBookLevel `json:"bids"`
	Asks      []OrderBookLevel `json:"asks"`
}

// FundingRate представляет ставку финансирования
type FundingRate struct {
	Symbol    string    `json:"symbol"`
	Rate      float64   `json:"rate"`
	Timestamp time.Time `json:"timestamp"`
}

// OpenInterest представляет открытый интерес
type OpenInterest struct {
	Symbol    string    `json:"symbol"`
	Value     float64   `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}

// Instrument параметры торгового инструмента
type Instrument struct {
	Symbol      string `json:"symbol"`
	Category    string `json:"category"`
	BaseCoin    string `json:"base_coin"`
	QuoteCoin   string `json:"quote_coin"`
	QtyStep     string `json:"qty_step"`
	MinOrderQty string `json:"min_order_qty"`
	TickSize    string `json:"tick_size"`
}

// Side направление позиции
type Side string

const (
	Long  Side = "long"
	Short Side = "short"
)

// Opposite возвращает противоположное направление
func (s Side) Opposite() Side {
	if s == Long {
		return Short
	}
	return Long
}

// Position открытая позиция
type Position struct {
	Symbol           string    `json:"symbol"`
	Category         string    `json:"category,omitempty"`
	Side             Side      `json:"side"`
	Size             float64   `json:"size"`
	EntryPrice       float64   `json:"entry_price"`
	MarkPrice        float64   `json:"mark_price"`
	Leverage         float64   `json:"leverage"`
	UnrealizedPnl    float64   `json:"unrealized_pnl"`
	UnrealizedPnlPct *float64  `json:"unrealized_pnl_pct,omitempty"`
	StopLoss         *float64  `json:"stop_loss,omitempty"`
	TakeProfit       *float64  `json:"take_profit,omitempty"`
	TrailingStop     *float64  `json:"trailing_stop,omitempty"`
	LiqPrice         *float64  `json:"liq_price,omitempty"`
	CreatedAt        time.Time `json:"created_at,omitempty"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Open сообщает, открыта ли позиция
func (p Position) Open() bool {
	return p.Size > 0
}

// Order ордер из истории
type Order struct {
	OrderID     string    `json:"order_id"`
	OrderLinkID string    `json:"order_link_id,omitempty"`
	Symbol      string    `json:"symbol"`
	Side        string    `json:"side"`
	OrderType   string    `json:"order_type"`
	Price       float64   `json:"price"`
	Qty         float64   `json:"qty"`
	CumExecQty  float64   `json:"cum_exec_qty"`
	AvgPrice    float64   `json:"avg_price"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
}

// AccountType тип аккаунта Bybit
type AccountType string

const (
	AccountSpot     AccountType = "SPOT"
	AccountContract AccountType = "CONTRACT"
	AccountUnified  AccountType = "UNIFIED"
)

// AccountTypes порядок опроса аккаунтов
var AccountTypes = []AccountType{AccountSpot, AccountContract, AccountUnified}

// BalanceEntry баланс монеты на одном аккаунте
type BalanceEntry struct {
	Account   AccountType `json:"account"`
	Coin      string      `json:"coin"`
	Total     float64     `json:"total"`
	Available float64     `json:"available"`
	Success   bool        `json:"success"`
	Error     string      `json:"error,omitempty"`
}

// CombinedBalance сводный баланс по трем аккаунтам
type CombinedBalance struct {
	Coin      string       `json:"coin"`
	Spot      BalanceEntry `json:"spot"`
	Contract  BalanceEntry `json:"contract"`
	Unified   BalanceEntry `json:"unified"`
	Total     float64      `json:"total"`
	Available float64      `json:"available"`
}

// Entries возвращает записи в порядке опроса
func (c CombinedBalance) Entries() []BalanceEntry {
	return []BalanceEntry{c.Spot, c.Contract, c.Unified}
}

// ActionResult результат торговой операции. Бизнес-ошибки передаются
// через Success=false, а не через error.
type ActionResult struct {
	Success bool           `json:"success"`
	Message string         `json:"message,omitempty"`
	Data    map[string]any `json:"data,omitempty"`
}

// Fail формирует бизнес-ошибку
func Fail(format string, args ...any) ActionResult {
	return ActionResult{Success: false, Message: fmt.Sprintf(format, args...)}
}
