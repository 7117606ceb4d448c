package tools

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/skalibog/bybit-mcp/internal/config"
	"github.com/skalibog/bybit-mcp/internal/exchange"
	"github.com/skalibog/bybit-mcp/internal/mcp"
	"github.com/skalibog/bybit-mcp/internal/monitor"
	"github.com/skalibog/bybit-mcp/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type envelope struct {
	RetCode int    `json:"retCode"`
	RetMsg  string `json:"retMsg"`
	Result  any    `json:"result"`
}

type reply struct {
	code   int
	msg    string
	result any
}

// fakeBybit минимальная имитация эндпоинтов Bybit V5
type fakeBybit struct {
	mu          sync.Mutex
	wallets     map[string]reply
	walletCalls map[string]int
	instruments map[string]any
	positions   []map[string]string
	orderReply  *reply
	orders      []map[string]any
	stops       []map[string]any
	cancels     []map[string]any
}

func newFakeBybit() *fakeBybit {
	return &fakeBybit{
		wallets:     make(map[string]reply),
		walletCalls: make(map[string]int),
		instruments: map[string]any{
			"spot:BTCUSDT": map[string]any{
				"symbol": "BTCUSDT", "baseCoin": "BTC", "quoteCoin": "USDT",
				"lotSizeFilter": map[string]string{"basePrecision": "0.000001", "minOrderQty": "0.000048"},
				"priceFilter":   map[string]string{"tickSize": "0.01"},
			},
			"linear:BTCUSDT": map[string]any{
				"symbol": "BTCUSDT", "baseCoin": "BTC", "quoteCoin": "USDT",
				"lotSizeFilter": map[string]string{"qtyStep": "0.001", "minOrderQty": "0.001"},
				"priceFilter":   map[string]string{"tickSize": "0.10"},
			},
		},
	}
}

func write(w http.ResponseWriter, r reply) {
	_ = json.NewEncoder(w).Encode(envelope{RetCode: r.code, RetMsg: r.msg, Result: r.result})
}

func decodeBody(r *http.Request) map[string]any {
	var body map[string]any
	_ = json.NewDecoder(r.Body).Decode(&body)
	return body
}

func (f *fakeBybit) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v5/account/wallet-balance", func(w http.ResponseWriter, r *http.Request) {
		account := r.URL.Query().Get("accountType")
		f.mu.Lock()
		f.walletCalls[account]++
		rep, ok := f.wallets[account]
		f.mu.Unlock()
		if !ok {
			rep = reply{result: map[string]any{"list": []any{}}}
		}
		write(w, rep)
	})
	mux.HandleFunc("/v5/market/instruments-info", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		inst, ok := f.instruments[q.Get("category")+":"+q.Get("symbol")]
		list := []any{}
		if ok {
			list = append(list, inst)
		}
		write(w, reply{result: map[string]any{"list": list}})
	})
	mux.HandleFunc("/v5/position/list", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		list := f.positions
		f.mu.Unlock()
		if list == nil {
			list = []map[string]string{}
		}
		write(w, reply{result: map[string]any{"list": list}})
	})
	mux.HandleFunc("/v5/order/create", func(w http.ResponseWriter, r *http.Request) {
		body := decodeBody(r)
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.orderReply != nil {
			write(w, *f.orderReply)
			return
		}
		f.orders = append(f.orders, body)
		write(w, reply{result: map[string]any{"orderId": "ord-1", "orderLinkId": body["orderLinkId"]}})
	})
	mux.HandleFunc("/v5/order/cancel", func(w http.ResponseWriter, r *http.Request) {
		body := decodeBody(r)
		f.mu.Lock()
		f.cancels = append(f.cancels, body)
		f.mu.Unlock()
		write(w, reply{result: map[string]any{"orderId": body["orderId"]}})
	})
	mux.HandleFunc("/v5/position/trading-stop", func(w http.ResponseWriter, r *http.Request) {
		body := decodeBody(r)
		f.mu.Lock()
		f.stops = append(f.stops, body)
		f.mu.Unlock()
		write(w, reply{result: map[string]any{}})
	})
	return mux
}

func coinWallet(account, coin, total, available string) reply {
	return reply{result: map[string]any{"list": []any{map[string]any{
		"accountType": account,
		"coin": []any{map[string]string{
			"coin": coin, "walletBalance": total, "availableToWithdraw": available,
		}},
	}}}}
}

// idleStream поток без обновлений, завершается по отмене контекста
type idleStream struct{}

func (idleStream) Run(ctx context.Context, _ chan<- models.Position) error {
	<-ctx.Done()
	return ctx.Err()
}

func newToolbox(t *testing.T, fake *fakeBybit) (*Toolbox, *mcp.Registry) {
	t.Helper()
	srv := httptest.NewServer(fake.handler())
	t.Cleanup(srv.Close)

	cfg := config.Default()
	cfg.Exchange.BaseURL = srv.URL
	cfg.Exchange.RequestsPerSec = 0
	client := exchange.NewClient(cfg.Exchange, config.Credentials{APIKey: "key", APISecret: "secret"})

	tb := New(cfg, client, func() monitor.PositionSource { return idleStream{} })
	t.Cleanup(tb.Shutdown)

	reg := mcp.NewRegistry()
	require.NoError(t, tb.Register(reg))
	return tb, reg
}

func call(t *testing.T, reg *mcp.Registry, name string, args any) (map[string]any, bool) {
	t.Helper()
	raw, err := json.Marshal(args)
	require.NoError(t, err)

	res := reg.Call(context.Background(), name, raw)
	require.Len(t, res.Content, 1)

	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(res.Content[0].Text), &out))
	return out, res.IsError
}

func TestCatalog(t *testing.T) {
	_, reg := newToolbox(t, newFakeBybit())

	seen := make(map[string]bool)
	for _, tool := range reg.List() {
		assert.False(t, seen[tool.Name], "дубликат %s", tool.Name)
		seen[tool.Name] = true
	}

	for _, name := range []string{
		"get_market_overview", "get_all_tickers", "get_asset_price",
		"analyze_asset", "calculate_indicators", "detect_patterns",
		"find_support_resistance", "get_btc_correlation", "get_funding_rate",
		"get_open_interest", "check_liquidity", "check_tf_alignment",
		"scan_market", "validate_entry",
		"find_oversold_assets", "find_overbought_assets",
		"find_breakout_opportunities", "find_trend_reversals",
		"get_account_info", "get_open_positions", "get_order_history",
		"place_order", "close_position", "modify_position", "cancel_order",
		"move_to_breakeven", "activate_trailing_stop",
		"start_position_monitoring", "stop_position_monitoring", "get_monitoring_status",
	} {
		assert.True(t, seen[name], "нет инструмента %s", name)
	}
}

func TestCloseSpotFallsBackToUnified(t *testing.T) {
	fake := newFakeBybit()
	fake.wallets["SPOT"] = reply{code: 10001, msg: "accountType only support UNIFIED."}
	fake.wallets["UNIFIED"] = coinWallet("UNIFIED", "BTC", "0.001", "0.001")
	_, reg := newToolbox(t, fake)

	out, isErr := call(t, reg, "close_position", map[string]any{"symbol": "btcusdt", "category": "spot"})
	require.False(t, isErr)
	assert.Equal(t, true, out["success"], out["message"])

	data := out["data"].(map[string]any)
	assert.Equal(t, "UNIFIED", data["account"])
	assert.Equal(t, "0.001", data["qty"])
	assert.Equal(t, "ord-1", data["order_id"])

	assert.Equal(t, 1, fake.walletCalls["SPOT"])
	assert.Equal(t, 1, fake.walletCalls["UNIFIED"])
	assert.Zero(t, fake.walletCalls["CONTRACT"])

	require.Len(t, fake.orders, 1)
	order := fake.orders[0]
	assert.Equal(t, "spot", order["category"])
	assert.Equal(t, "Sell", order["side"])
	assert.Equal(t, "Market", order["orderType"])
	assert.Equal(t, "0.001", order["qty"])
	assert.Equal(t, "baseCoin", order["marketUnit"])
}

func TestCloseSpotWithoutBalance(t *testing.T) {
	fake := newFakeBybit()
	fake.wallets["SPOT"] = reply{code: 10001, msg: "accountType only support UNIFIED."}
	fake.wallets["UNIFIED"] = coinWallet("UNIFIED", "BTC", "0", "0")
	_, reg := newToolbox(t, fake)

	out, isErr := call(t, reg, "close_position", map[string]any{"symbol": "BTCUSDT", "category": "spot"})
	require.False(t, isErr)
	assert.Equal(t, false, out["success"])
	assert.Contains(t, out["message"], "нет доступного баланса BTC")
	assert.Empty(t, fake.orders)
}

func TestCloseDerivativeWithoutPosition(t *testing.T) {
	fake := newFakeBybit()
	_, reg := newToolbox(t, fake)

	out, isErr := call(t, reg, "close_position", map[string]any{"symbol": "BTCUSDT"})
	require.False(t, isErr)
	assert.Equal(t, false, out["success"])
	assert.Contains(t, out["message"], "нет открытой позиции")
	assert.Empty(t, fake.orders)
}

func TestCloseDerivativePlacesReduceOnlyOrder(t *testing.T) {
	fake := newFakeBybit()
	fake.positions = []map[string]string{{
		"symbol": "BTCUSDT", "side": "Buy", "size": "0.01",
		"avgPrice": "60000", "markPrice": "61000", "unrealisedPnl": "10",
	}}
	_, reg := newToolbox(t, fake)

	out, _ := call(t, reg, "close_position", map[string]any{"symbol": "BTCUSDT", "reason": "цель"})
	assert.Equal(t, true, out["success"])

	require.Len(t, fake.orders, 1)
	order := fake.orders[0]
	assert.Equal(t, "linear", order["category"])
	assert.Equal(t, "Sell", order["side"])
	assert.Equal(t, "0.01", order["qty"])
	assert.Equal(t, true, order["reduceOnly"])
}

func TestPlaceOrder(t *testing.T) {
	t.Run("лимитный без цены", func(t *testing.T) {
		fake := newFakeBybit()
		_, reg := newToolbox(t, fake)

		out, _ := call(t, reg, "place_order", map[string]any{
			"symbol": "BTCUSDT", "side": "buy", "order_type": "Limit", "quantity": 0.01,
		})
		assert.Equal(t, false, out["success"])
		assert.Empty(t, fake.orders)
	})

	t.Run("количество округляется по шагу", func(t *testing.T) {
		fake := newFakeBybit()
		_, reg := newToolbox(t, fake)

		out, _ := call(t, reg, "place_order", map[string]any{
			"symbol": "BTCUSDT", "side": "long", "quantity": 0.0159, "stop_loss": 59000.5,
		})
		assert.Equal(t, true, out["success"], out["message"])

		require.Len(t, fake.orders, 1)
		assert.Equal(t, "Buy", fake.orders[0]["side"])
		assert.Equal(t, "0.015", fake.orders[0]["qty"])
		assert.Equal(t, "59000.5", fake.orders[0]["stopLoss"])
	})

	t.Run("меньше минимального количества", func(t *testing.T) {
		fake := newFakeBybit()
		_, reg := newToolbox(t, fake)

		out, _ := call(t, reg, "place_order", map[string]any{
			"symbol": "BTCUSDT", "side": "Sell", "quantity": 0.0004,
		})
		assert.Equal(t, false, out["success"])
		assert.Empty(t, fake.orders)
	})

	t.Run("отказ биржи становится бизнес-ошибкой", func(t *testing.T) {
		fake := newFakeBybit()
		fake.orderReply = &reply{code: 110007, msg: "ab not enough for new order"}
		_, reg := newToolbox(t, fake)

		out, isErr := call(t, reg, "place_order", map[string]any{
			"symbol": "BTCUSDT", "side": "Buy", "quantity": 0.01,
		})
		require.False(t, isErr)
		assert.Equal(t, false, out["success"])
		assert.Contains(t, out["message"], "ab not enough for new order")
		assert.EqualValues(t, 110007, out["data"].(map[string]any)["ret_code"])
	})

	t.Run("ошибка ключей возвращается как ошибка инструмента", func(t *testing.T) {
		fake := newFakeBybit()
		fake.orderReply = &reply{code: 10003, msg: "API key is invalid."}
		_, reg := newToolbox(t, fake)

		out, isErr := call(t, reg, "place_order", map[string]any{
			"symbol": "BTCUSDT", "side": "Buy", "quantity": 0.01,
		})
		assert.True(t, isErr)
		assert.Equal(t, "place_order", out["tool"])
		assert.Contains(t, out["error"], "API key is invalid.")
	})

	t.Run("неверная сторона", func(t *testing.T) {
		_, reg := newToolbox(t, newFakeBybit())

		out, isErr := call(t, reg, "place_order", map[string]any{
			"symbol": "BTCUSDT", "side": "up", "quantity": 0.01,
		})
		assert.True(t, isErr)
		assert.Contains(t, out["error"], "side")
	})
}

func TestModifyPosition(t *testing.T) {
	fake := newFakeBybit()
	_, reg := newToolbox(t, fake)

	out, _ := call(t, reg, "modify_position", map[string]any{"symbol": "BTCUSDT"})
	assert.Equal(t, false, out["success"])
	assert.Empty(t, fake.stops)

	out, _ = call(t, reg, "modify_position", map[string]any{"symbol": "BTCUSDT", "take_profit": 70000})
	assert.Equal(t, true, out["success"])
	require.Len(t, fake.stops, 1)
	assert.Equal(t, "70000", fake.stops[0]["takeProfit"])
	assert.NotContains(t, fake.stops[0], "stopLoss")
}

func TestMoveToBreakeven(t *testing.T) {
	fake := newFakeBybit()
	_, reg := newToolbox(t, fake)

	out, _ := call(t, reg, "move_to_breakeven", map[string]any{"symbol": "BTCUSDT", "entry_price": 65000})
	assert.Equal(t, true, out["success"])
	require.Len(t, fake.stops, 1)
	assert.Equal(t, "65000", fake.stops[0]["stopLoss"])
}

func TestActivateTrailingStopInPercent(t *testing.T) {
	fake := newFakeBybit()
	fake.positions = []map[string]string{{
		"symbol": "BTCUSDT", "side": "Buy", "size": "0.01", "avgPrice": "60000", "markPrice": "62000",
	}}
	_, reg := newToolbox(t, fake)

	out, _ := call(t, reg, "activate_trailing_stop", map[string]any{
		"symbol": "BTCUSDT", "trailing_distance": 1.5, "distance_type": "percent",
	})
	assert.Equal(t, true, out["success"], out["message"])
	require.Len(t, fake.stops, 1)
	assert.Equal(t, "930", fake.stops[0]["trailingStop"])
}

func TestCancelOrder(t *testing.T) {
	fake := newFakeBybit()
	_, reg := newToolbox(t, fake)

	out, _ := call(t, reg, "cancel_order", map[string]any{"order_id": "abc", "symbol": "ethusdt"})
	assert.Equal(t, true, out["success"])
	require.Len(t, fake.cancels, 1)
	assert.Equal(t, "ETHUSDT", fake.cancels[0]["symbol"])
	assert.Equal(t, "abc", fake.cancels[0]["orderId"])
}

func TestAccountInfoCombinesAccounts(t *testing.T) {
	fake := newFakeBybit()
	fake.wallets["SPOT"] = coinWallet("SPOT", "USDT", "20", "20")
	fake.wallets["CONTRACT"] = coinWallet("CONTRACT", "USDT", "10", "10")
	fake.wallets["UNIFIED"] = reply{code: 10001, msg: "accountType only support CONTRACT."}
	_, reg := newToolbox(t, fake)

	out, isErr := call(t, reg, "get_account_info", map[string]any{})
	require.False(t, isErr)

	balance := out["balance"].(map[string]any)
	assert.EqualValues(t, 30, balance["total"])
	assert.Equal(t, true, balance["spot"].(map[string]any)["success"])
	assert.Equal(t, true, balance["contract"].(map[string]any)["success"])
	assert.Equal(t, false, balance["unified"].(map[string]any)["success"])

	// повторный вызов берет успешные записи из кэша
	call(t, reg, "get_account_info", map[string]any{})
	assert.Equal(t, 1, fake.walletCalls["SPOT"])
	assert.Equal(t, 1, fake.walletCalls["CONTRACT"])
}

func TestMonitoringLifecycle(t *testing.T) {
	_, reg := newToolbox(t, newFakeBybit())

	out, _ := call(t, reg, "get_monitoring_status", nil)
	assert.Equal(t, false, out["running"])

	out, _ = call(t, reg, "stop_position_monitoring", nil)
	assert.Equal(t, false, out["success"])

	out, _ = call(t, reg, "start_position_monitoring", map[string]any{
		"symbols": []string{"btcusdt"}, "move_to_breakeven_at": 1.0,
	})
	require.Equal(t, true, out["success"], out["message"])
	cfg := out["data"].(map[string]any)["config"].(map[string]any)
	assert.Equal(t, []any{"BTCUSDT"}, cfg["symbols"])
	assert.EqualValues(t, 2, cfg["trailing_pct"])

	out, _ = call(t, reg, "start_position_monitoring", map[string]any{})
	assert.Equal(t, false, out["success"])

	out, _ = call(t, reg, "get_monitoring_status", nil)
	assert.Equal(t, true, out["running"])

	out, _ = call(t, reg, "stop_position_monitoring", nil)
	assert.Equal(t, true, out["success"])

	out, _ = call(t, reg, "get_monitoring_status", nil)
	assert.Equal(t, false, out["running"])
}

func TestMonitoringTimeLimitArgument(t *testing.T) {
	_, reg := newToolbox(t, newFakeBybit())

	out, isErr := call(t, reg, "start_position_monitoring", map[string]any{"max_time_in_trade_hours": 24})
	assert.True(t, isErr, "неизвестный ключ отклоняется")
	assert.Contains(t, out["error"], "max_time_in_trade_hours")

	out, _ = call(t, reg, "start_position_monitoring", map[string]any{"max_time_in_trade": 24})
	require.Equal(t, true, out["success"], out["message"])
	cfg := out["data"].(map[string]any)["config"].(map[string]any)
	assert.EqualValues(t, 24*time.Hour, cfg["max_time_in_trade"])
}

func TestCategoriesFor(t *testing.T) {
	assert.Equal(t, []string{"spot"}, categoriesFor("spot"))
	assert.Equal(t, []string{"linear"}, categoriesFor("futures"))
	assert.Equal(t, []string{"spot", "linear"}, categoriesFor("both"))
}
