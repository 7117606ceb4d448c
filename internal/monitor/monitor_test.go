package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/skalibog/bybit-mcp/internal/exchange"
	"github.com/skalibog/bybit-mcp/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func f(v float64) *float64 { return &v }

func long(symbol string, entry, mark float64) models.Position {
	return models.Position{Symbol: symbol, Side: models.Long, Size: 1, EntryPrice: entry, MarkPrice: mark, Leverage: 1}
}

type stopRecorder struct {
	mu   sync.Mutex
	reqs []exchange.TradingStopRequest
	err  error
}

func (s *stopRecorder) SetTradingStop(_ context.Context, req exchange.TradingStopRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reqs = append(s.reqs, req)
	return s.err
}

func countEvents(events []Event, typ EventType, action string) int {
	n := 0
	for _, e := range events {
		if e.Type == typ && (action == "" || e.Action == action) {
			n++
		}
	}
	return n
}

func TestProfitPct(t *testing.T) {
	assert.InDelta(t, 5.0, ProfitPct(long("BTCUSDT", 100, 105)), 1e-9)

	short := models.Position{Side: models.Short, EntryPrice: 100, MarkPrice: 95}
	assert.InDelta(t, 5.0, ProfitPct(short), 1e-9)

	short.UnrealizedPnlPct = f(12.5)
	assert.Equal(t, 12.5, ProfitPct(short), "значение биржи имеет приоритет")

	assert.Zero(t, ProfitPct(models.Position{MarkPrice: 10}))
}

func TestBreakevenFiresOnce(t *testing.T) {
	m := New(Config{MoveToBreakevenAt: f(1)}, Callbacks{}, nil, nil)
	ctx := context.Background()

	m.Handle(ctx, long("ETHUSDT", 100, 100.5))
	assert.Equal(t, StateOpen, m.State("ETHUSDT"))

	m.Handle(ctx, long("ETHUSDT", 100, 101.5))
	m.Handle(ctx, long("ETHUSDT", 100, 101.5))
	m.Handle(ctx, long("ETHUSDT", 100, 102))

	assert.Equal(t, StateBreakevenShifted, m.State("ETHUSDT"))
	events := m.Snapshot().Events
	assert.Equal(t, 1, countEvents(events, EventActionTaken, ActionMoveToBreakeven))
	assert.Equal(t, 4, countEvents(events, EventPriceUpdate, ""))

	for _, e := range events {
		if e.Action == ActionMoveToBreakeven {
			assert.Equal(t, 100.0, e.Data["new_sl"])
			assert.Equal(t, false, e.Data["executed"])
		}
	}
}

func TestBreakevenSkippedWhenStopAlreadyAtEntry(t *testing.T) {
	m := New(Config{MoveToBreakevenAt: f(1)}, Callbacks{}, nil, nil)
	pos := long("SOLUSDT", 100, 103)
	pos.StopLoss = f(100.5)

	m.Handle(context.Background(), pos)
	assert.Equal(t, StateBreakevenShifted, m.State("SOLUSDT"))
	assert.Zero(t, countEvents(m.Snapshot().Events, EventActionTaken, ""))
}

func TestTrailingActivation(t *testing.T) {
	rec := &stopRecorder{}
	m := New(Config{MoveToBreakevenAt: f(1), EnableTrailingAt: f(3), AutoExecute: true}, Callbacks{}, rec, nil)
	ctx := context.Background()

	m.Handle(ctx, long("BTCUSDT", 100, 101.5))
	assert.Equal(t, StateBreakevenShifted, m.State("BTCUSDT"))

	m.Handle(ctx, long("BTCUSDT", 100, 104))
	assert.Equal(t, StateTrailingActive, m.State("BTCUSDT"))

	m.Handle(ctx, long("BTCUSDT", 100, 100.2))
	assert.Equal(t, StateTrailingActive, m.State("BTCUSDT"), "состояние не откатывается")

	require.Len(t, rec.reqs, 2)
	require.NotNil(t, rec.reqs[0].StopLoss)
	assert.Equal(t, "100", rec.reqs[0].StopLoss.String())
	require.NotNil(t, rec.reqs[1].TrailingStop)
	assert.Equal(t, "2.08", rec.reqs[1].TrailingStop.String())

	var trailing Event
	for _, e := range m.Snapshot().Events {
		if e.Action == ActionEnableTrailing {
			trailing = e
		}
	}
	assert.Equal(t, DefaultTrailingPct, trailing.Data["trailing_pct"])
	assert.Equal(t, true, trailing.Data["executed"])
}

func TestAutoExecuteFailureEmitsWarning(t *testing.T) {
	rec := &stopRecorder{err: errors.New("retCode=10001")}
	m := New(Config{MoveToBreakevenAt: f(1), AutoExecute: true}, Callbacks{}, rec, nil)

	m.Handle(context.Background(), long("XRPUSDT", 1, 1.05))
	events := m.Snapshot().Events
	assert.Equal(t, 1, countEvents(events, EventWarning, ActionMoveToBreakeven))
	assert.Equal(t, 1, countEvents(events, EventActionTaken, ActionMoveToBreakeven))
}

func TestClosedThenReopened(t *testing.T) {
	m := New(Config{MoveToBreakevenAt: f(1)}, Callbacks{}, nil, nil)
	ctx := context.Background()

	m.Handle(ctx, long("ADAUSDT", 1, 1.02))
	closed := long("ADAUSDT", 0, 0)
	closed.Size = 0
	m.Handle(ctx, closed)
	assert.Equal(t, StateClosed, m.State("ADAUSDT"))

	m.Handle(ctx, long("ADAUSDT", 1, 1))
	assert.Equal(t, StateOpen, m.State("ADAUSDT"))

	m.Handle(ctx, long("ADAUSDT", 1, 1.02))
	assert.Equal(t, 2, countEvents(m.Snapshot().Events, EventActionTaken, ActionMoveToBreakeven))
}

func TestMaxTimeInTrade(t *testing.T) {
	now := time.Unix(1700000000, 0)
	m := New(Config{MaxTimeInTrade: 2 * time.Hour}, Callbacks{}, nil, nil)
	m.now = func() time.Time { return now }
	ctx := context.Background()

	m.Handle(ctx, long("BNBUSDT", 500, 505))
	m.Tick(ctx)
	assert.Zero(t, countEvents(m.Snapshot().Events, EventExitSignal, ""))

	now = now.Add(3 * time.Hour)
	m.Tick(ctx)
	m.Tick(ctx)
	m.Handle(ctx, long("BNBUSDT", 500, 506))

	events := m.Snapshot().Events
	require.Equal(t, 1, countEvents(events, EventExitSignal, ActionExit))
	for _, e := range events {
		if e.Type == EventExitSignal {
			assert.Equal(t, "max_time_in_trade", e.Data["reason"])
		}
	}
}

func TestTimeInTradeStartsAtOpen(t *testing.T) {
	now := time.Unix(1700000000, 0)
	m := New(Config{MaxTimeInTrade: 24 * time.Hour}, Callbacks{}, nil, nil)
	m.now = func() time.Time { return now }
	ctx := context.Background()

	// createdTime биржи давно в прошлом: символ торговался раньше
	pos := long("SOLUSDT", 100, 101)
	pos.CreatedAt = now.Add(-90 * 24 * time.Hour)
	m.Handle(ctx, pos)
	m.Tick(ctx)
	assert.Zero(t, countEvents(m.Snapshot().Events, EventExitSignal, ""), "новая сделка")

	now = now.Add(25 * time.Hour)
	m.Tick(ctx)
	require.Equal(t, 1, countEvents(m.Snapshot().Events, EventExitSignal, ActionExit))

	closed := long("SOLUSDT", 0, 0)
	closed.Size = 0
	m.Handle(ctx, closed)

	now = now.Add(time.Hour)
	m.Handle(ctx, pos)
	m.Tick(ctx)
	assert.Equal(t, 1, countEvents(m.Snapshot().Events, EventExitSignal, ActionExit), "после переоткрытия отсчет заново")

	now = now.Add(25 * time.Hour)
	m.Tick(ctx)
	assert.Equal(t, 2, countEvents(m.Snapshot().Events, EventExitSignal, ActionExit))
}

type candleStub struct {
	candles []models.Candle
}

func (c candleStub) GetKlines(context.Context, string, string, string, int) ([]models.Candle, error) {
	return c.candles, nil
}

// бычья структура и закрытие ниже предпоследнего минимума
func reversalCandles() []models.Candle {
	base := []float64{100, 102, 104, 106, 108, 110, 108, 106, 104, 102,
		104, 106, 108, 110, 112, 114, 112, 110, 108, 106,
		108, 110, 112, 114, 116, 118, 116, 114, 112}
	var out []models.Candle
	for _, p := range base {
		out = append(out, models.Candle{Open: p, Close: p, High: p + 1, Low: p - 1})
	}
	for i := 0; i < 2; i++ {
		out = append(out, models.Candle{Open: 90, Close: 90, High: 91, Low: 89})
	}
	return out
}

func TestExitOnReversal(t *testing.T) {
	m := New(Config{ExitOnReversal: true}, Callbacks{}, nil, candleStub{candles: reversalCandles()})
	ctx := context.Background()

	m.Handle(ctx, long("LINKUSDT", 15, 15.1))
	m.Tick(ctx)
	m.Tick(ctx)

	events := m.Snapshot().Events
	require.Equal(t, 1, countEvents(events, EventExitSignal, ActionExit))
	for _, e := range events {
		if e.Type == EventExitSignal {
			assert.Equal(t, "structure_reversal", e.Data["reason"])
		}
	}

	// для шорта медвежья смена характера не является разворотом
	m2 := New(Config{ExitOnReversal: true}, Callbacks{}, nil, candleStub{candles: reversalCandles()})
	m2.Handle(ctx, models.Position{Symbol: "LINKUSDT", Side: models.Short, Size: 1, EntryPrice: 15, MarkPrice: 14})
	m2.Tick(ctx)
	assert.Zero(t, countEvents(m2.Snapshot().Events, EventExitSignal, ""))
}

func TestCallbacksAreDispatched(t *testing.T) {
	got := make(chan Event, 10)
	m := New(Config{MoveToBreakevenAt: f(1)}, Callbacks{
		OnPriceUpdate: func(Event) { panic("сбой обработчика") },
		OnActionTaken: func(e Event) { got <- e },
	}, nil, nil)

	m.Handle(context.Background(), long("DOGEUSDT", 0.1, 0.2))

	select {
	case e := <-got:
		assert.Equal(t, ActionMoveToBreakeven, e.Action)
		assert.Equal(t, "DOGEUSDT", e.Symbol)
	case <-time.After(time.Second):
		t.Fatal("обработчик не вызван")
	}
}

func TestSymbolFilter(t *testing.T) {
	m := New(Config{Symbols: []string{"BTCUSDT"}}, Callbacks{}, nil, nil)
	m.Handle(context.Background(), long("ETHUSDT", 100, 101))
	assert.Equal(t, StateAbsent, m.State("ETHUSDT"))
}

type fakeStream struct {
	positions []models.Position
}

func (s *fakeStream) Run(ctx context.Context, out chan<- models.Position) error {
	for _, p := range s.positions {
		select {
		case out <- p:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	<-ctx.Done()
	return ctx.Err()
}

func TestStartStop(t *testing.T) {
	m := New(Config{}, Callbacks{}, nil, nil)
	src := &fakeStream{positions: []models.Position{long("BTCUSDT", 60000, 61000)}}

	require.NoError(t, m.Start(context.Background(), src))
	assert.ErrorIs(t, m.Start(context.Background(), src), ErrAlreadyRunning)
	assert.True(t, m.Running())

	require.Eventually(t, func() bool { return m.State("BTCUSDT") == StateOpen }, time.Second, 5*time.Millisecond)

	require.NoError(t, m.Stop())
	assert.False(t, m.Running())
	assert.Equal(t, StateClosed, m.State("BTCUSDT"))
	assert.ErrorIs(t, m.Stop(), ErrNotRunning)

	snap := m.Snapshot()
	require.Len(t, snap.Positions, 1)
	assert.Equal(t, StateClosed, snap.Positions[0].State)
}

func TestEventLogWraps(t *testing.T) {
	l := newEventLog(3)
	for i := 0; i < 5; i++ {
		l.add(Event{Symbol: string(rune('a' + i))})
	}
	got := l.list()
	require.Len(t, got, 3)
	assert.Equal(t, "c", got[0].Symbol)
	assert.Equal(t, "e", got[2].Symbol)

	small := newEventLog(3)
	small.add(Event{Symbol: "x"})
	assert.Len(t, small.list(), 1)
}
