// Package monitor отслеживает открытые позиции по потоку обновлений биржи
// и применяет автоматические действия: перевод стопа в безубыток, включение
// трейлинг-стопа, выход по времени и по смене характера рынка.
package monitor

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/skalibog/bybit-mcp/internal/analysis/structure"
	"github.com/skalibog/bybit-mcp/internal/config"
	"github.com/skalibog/bybit-mcp/internal/exchange"
	"github.com/skalibog/bybit-mcp/pkg/logger"
	"github.com/skalibog/bybit-mcp/pkg/models"
	"go.uber.org/zap"
)

// State состояние позиции
type State string

const (
	StateAbsent           State = "absent"
	StateOpen             State = "open"
	StateBreakevenShifted State = "breakeven_shifted"
	StateTrailingActive   State = "trailing_active"
	StateClosed           State = "closed"
)

var (
	// ErrAlreadyRunning мониторинг уже запущен
	ErrAlreadyRunning = errors.New("мониторинг уже запущен")
	// ErrNotRunning мониторинг не запущен
	ErrNotRunning = errors.New("мониторинг не запущен")
)

// DefaultTrailingPct расстояние трейлинга по умолчанию, %
const DefaultTrailingPct = 2.0

// Config параметры автоматических действий. Пороги nil отключены.
type Config struct {
	Category          string        `json:"category"`
	Symbols           []string      `json:"symbols,omitempty"`
	MoveToBreakevenAt *float64      `json:"move_to_breakeven_at,omitempty"`
	EnableTrailingAt  *float64      `json:"enable_trailing_at,omitempty"`
	TrailingPct       float64       `json:"trailing_pct"`
	MaxTimeInTrade    time.Duration `json:"max_time_in_trade,omitempty"`
	ExitOnReversal    bool          `json:"exit_on_reversal"`
	ReversalTimeframe string        `json:"reversal_timeframe"`
	AutoExecute       bool          `json:"auto_execute"`
	PollInterval      time.Duration `json:"poll_interval"`
	EventBuffer       int           `json:"-"`
}

// PositionSource поток обновлений позиций. Реализуется exchange.PositionStream.
type PositionSource interface {
	Run(ctx context.Context, out chan<- models.Position) error
}

// StopSetter изменение стопов позиции на бирже
type StopSetter interface {
	SetTradingStop(ctx context.Context, req exchange.TradingStopRequest) error
}

// CandleSource свечи для проверки смены характера
type CandleSource interface {
	GetKlines(ctx context.Context, category, symbol, timeframe string, limit int) ([]models.Candle, error)
}

// Position отслеживаемая позиция
type Position struct {
	Symbol     string      `json:"symbol"`
	Side       models.Side `json:"side"`
	Size       float64     `json:"size"`
	State      State       `json:"state"`
	EntryPrice float64     `json:"entry_price"`
	MarkPrice  float64     `json:"mark_price"`
	StopLoss   *float64    `json:"stop_loss,omitempty"`
	TakeProfit *float64    `json:"take_profit,omitempty"`
	ProfitPct  float64     `json:"profit_pct"`
	FirstOpen  time.Time   `json:"first_open"`
	UpdatedAt  time.Time   `json:"updated_at"`

	breakevenFired bool
	trailingFired  bool
	timeExitFired  bool
	reversalFired  bool
}

// Status снимок состояния мониторинга
type Status struct {
	Running   bool       `json:"running"`
	StartedAt time.Time  `json:"started_at,omitempty"`
	Config    Config     `json:"config"`
	Positions []Position `json:"positions"`
	Events    []Event    `json:"events"`
}

// Monitor монитор позиций
type Monitor struct {
	config    Config
	callbacks Callbacks
	stops     StopSetter
	candles   CandleSource
	structure *structure.Analyzer
	events    *eventLog
	now       func() time.Time

	mu        sync.RWMutex
	positions map[string]*Position
	running   bool
	startedAt time.Time
	cancel    context.CancelFunc
	done      chan struct{}
}

// New создает монитор. stops и candles могут быть nil: тогда автоисполнение
// и проверка разворота недоступны.
func New(cfg Config, callbacks Callbacks, stops StopSetter, candles CandleSource) *Monitor {
	if cfg.TrailingPct <= 0 {
		cfg.TrailingPct = DefaultTrailingPct
	}
	if cfg.Category == "" {
		cfg.Category = "linear"
	}
	if cfg.ReversalTimeframe == "" {
		cfg.ReversalTimeframe = "15m"
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Minute
	}
	return &Monitor{
		config:    cfg,
		callbacks: callbacks,
		stops:     stops,
		candles:   candles,
		structure: structure.NewAnalyzer(config.StructureConfig{}),
		events:    newEventLog(cfg.EventBuffer),
		now:       time.Now,
		positions: make(map[string]*Position),
	}
}

// Config возвращает параметры мониторинга
func (m *Monitor) Config() Config { return m.config }

// Start запускает чтение потока позиций в фоне
func (m *Monitor) Start(ctx context.Context, src PositionSource) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return ErrAlreadyRunning
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.running = true
	m.startedAt = m.now()
	m.cancel = cancel
	m.done = make(chan struct{})
	done := m.done
	m.mu.Unlock()

	updates := make(chan models.Position, 64)
	go func() {
		if err := src.Run(runCtx, updates); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Поток позиций завершился с ошибкой", zap.Error(err))
			m.dispatch(Event{Type: EventWarning, Action: "stream_failed",
				Data: map[string]any{"error": err.Error()}, Time: m.now()})
		}
	}()
	go m.loop(runCtx, updates, done)

	logger.Info("Мониторинг позиций запущен",
		zap.String("category", m.config.Category),
		zap.Bool("auto_execute", m.config.AutoExecute))
	return nil
}

func (m *Monitor) loop(ctx context.Context, updates <-chan models.Position, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(m.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case pos := <-updates:
			m.Handle(ctx, pos)
		case <-ticker.C:
			m.Tick(ctx)
		}
	}
}

// Stop останавливает мониторинг и переводит все позиции в closed
func (m *Monitor) Stop() error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return ErrNotRunning
	}
	cancel, done := m.cancel, m.done
	m.running = false
	m.mu.Unlock()

	cancel()
	<-done

	m.mu.Lock()
	for _, p := range m.positions {
		p.State = StateClosed
	}
	m.mu.Unlock()

	logger.Info("Мониторинг позиций остановлен")
	return nil
}

// Running сообщает, запущен ли мониторинг
func (m *Monitor) Running() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.running
}

// State состояние позиции по символу
func (m *Monitor) State(symbol string) State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if p, ok := m.positions[symbol]; ok {
		return p.State
	}
	return StateAbsent
}

// Snapshot возвращает копию состояния
func (m *Monitor) Snapshot() Status {
	m.mu.RLock()
	st := Status{
		Running:   m.running,
		StartedAt: m.startedAt,
		Config:    m.config,
		Positions: make([]Position, 0, len(m.positions)),
	}
	for _, p := range m.positions {
		st.Positions = append(st.Positions, *p)
	}
	m.mu.RUnlock()

	st.Events = m.events.list()
	return st
}

// action отложенное действие, исполняемое вне блокировки
type action struct {
	symbol string
	name   string
	price  float64
}

// Handle обрабатывает обновление позиции
func (m *Monitor) Handle(ctx context.Context, pos models.Position) {
	if !m.watched(pos.Symbol) {
		return
	}
	now := m.now()

	m.mu.Lock()
	p := m.positions[pos.Symbol]
	if !pos.Open() {
		if p != nil && p.State != StateClosed {
			p.State = StateClosed
			p.UpdatedAt = now
			m.mu.Unlock()
			m.dispatch(Event{Type: EventPriceUpdate, Symbol: pos.Symbol,
				Data: map[string]any{"state": StateClosed}, Time: now})
			return
		}
		m.mu.Unlock()
		return
	}

	if p == nil || p.State == StateClosed {
		// время в сделке считается от первого обновления открытой позиции:
		// createdTime биржи относится к символу, а не к текущей сделке
		p = &Position{Symbol: pos.Symbol, State: StateOpen, FirstOpen: now}
		m.positions[pos.Symbol] = p
	}
	p.Side = pos.Side
	p.Size = pos.Size
	p.EntryPrice = pos.EntryPrice
	p.MarkPrice = pos.MarkPrice
	p.StopLoss = pos.StopLoss
	p.TakeProfit = pos.TakeProfit
	p.ProfitPct = ProfitPct(pos)
	p.UpdatedAt = now

	events := []Event{{
		Type:   EventPriceUpdate,
		Symbol: p.Symbol,
		Data: map[string]any{
			"mark_price": p.MarkPrice,
			"profit_pct": p.ProfitPct,
			"state":      p.State,
		},
		Time: now,
	}}
	var actions []action

	if th := m.config.MoveToBreakevenAt; th != nil && !p.breakevenFired && p.ProfitPct >= *th {
		p.breakevenFired = true
		if p.State == StateOpen {
			p.State = StateBreakevenShifted
		}
		if !stopAtBreakeven(p) {
			actions = append(actions, action{symbol: p.Symbol, name: ActionMoveToBreakeven, price: p.EntryPrice})
		}
	}

	if th := m.config.EnableTrailingAt; th != nil && !p.trailingFired && p.ProfitPct >= *th {
		p.trailingFired = true
		p.State = StateTrailingActive
		actions = append(actions, action{symbol: p.Symbol, name: ActionEnableTrailing, price: p.MarkPrice})
	}

	if ev, ok := m.checkTime(p, now); ok {
		events = append(events, ev)
	}
	m.mu.Unlock()

	for _, ev := range events {
		m.dispatch(ev)
	}
	for _, a := range actions {
		m.execute(ctx, a)
	}
}

// Tick проверяет время в сделке и смену характера для открытых позиций
func (m *Monitor) Tick(ctx context.Context) {
	now := m.now()

	m.mu.Lock()
	var events []Event
	var reversal []Position
	for _, p := range m.positions {
		if p.State == StateClosed {
			continue
		}
		if ev, ok := m.checkTime(p, now); ok {
			events = append(events, ev)
		}
		if m.config.ExitOnReversal && !p.reversalFired {
			reversal = append(reversal, *p)
		}
	}
	m.mu.Unlock()

	for _, ev := range events {
		m.dispatch(ev)
	}
	for _, p := range reversal {
		m.checkReversal(ctx, p)
	}
}

// checkTime вызывается под блокировкой
func (m *Monitor) checkTime(p *Position, now time.Time) (Event, bool) {
	limit := m.config.MaxTimeInTrade
	if limit <= 0 || p.timeExitFired || now.Sub(p.FirstOpen) <= limit {
		return Event{}, false
	}
	p.timeExitFired = true
	return Event{
		Type:   EventExitSignal,
		Symbol: p.Symbol,
		Action: ActionExit,
		Data: map[string]any{
			"reason":         "max_time_in_trade",
			"hours_in_trade": now.Sub(p.FirstOpen).Hours(),
			"profit_pct":     p.ProfitPct,
		},
		Time: now,
	}, true
}

func (m *Monitor) checkReversal(ctx context.Context, p Position) {
	if m.candles == nil {
		return
	}
	candles, err := m.candles.GetKlines(ctx, m.config.Category, p.Symbol, m.config.ReversalTimeframe, 100)
	if err != nil {
		m.dispatch(Event{Type: EventWarning, Symbol: p.Symbol, Action: "reversal_check_failed",
			Data: map[string]any{"error": err.Error()}, Time: m.now()})
		return
	}

	res := m.structure.Analyze(candles)
	reversed := (p.Side == models.Long && res.HasBearishChoCh()) ||
		(p.Side == models.Short && res.HasBullishChoCh())
	if !reversed {
		return
	}

	m.mu.Lock()
	cur, ok := m.positions[p.Symbol]
	if !ok || cur.State == StateClosed || cur.reversalFired {
		m.mu.Unlock()
		return
	}
	cur.reversalFired = true
	m.mu.Unlock()

	m.dispatch(Event{
		Type:   EventExitSignal,
		Symbol: p.Symbol,
		Action: ActionExit,
		Data: map[string]any{
			"reason":    "structure_reversal",
			"timeframe": m.config.ReversalTimeframe,
			"choch":     res.ChoCh,
		},
		Time: m.now(),
	})
}

// execute формирует событие действия и при AutoExecute применяет его на бирже
func (m *Monitor) execute(ctx context.Context, a action) {
	data := map[string]any{"executed": false}
	req := exchange.TradingStopRequest{Category: m.config.Category, Symbol: a.symbol}

	switch a.name {
	case ActionMoveToBreakeven:
		data["new_sl"] = a.price
		sl := decimal.NewFromFloat(a.price)
		req.StopLoss = &sl
	case ActionEnableTrailing:
		distance := a.price * m.config.TrailingPct / 100
		data["trailing_pct"] = m.config.TrailingPct
		data["trailing_distance"] = distance
		d := decimal.NewFromFloat(distance)
		req.TrailingStop = &d
	}

	if m.config.AutoExecute && m.stops != nil {
		if err := m.stops.SetTradingStop(ctx, req); err != nil {
			logger.Warn("Не удалось выполнить действие мониторинга",
				zap.String("symbol", a.symbol), zap.String("action", a.name), zap.Error(err))
			m.dispatch(Event{Type: EventWarning, Symbol: a.symbol, Action: a.name,
				Data: map[string]any{"error": err.Error()}, Time: m.now()})
		} else {
			data["executed"] = true
		}
	}

	m.dispatch(Event{Type: EventActionTaken, Symbol: a.symbol, Action: a.name, Data: data, Time: m.now()})
}

func (m *Monitor) watched(symbol string) bool {
	if len(m.config.Symbols) == 0 {
		return true
	}
	for _, s := range m.config.Symbols {
		if s == symbol {
			return true
		}
	}
	return false
}

// ProfitPct прибыль позиции в процентах. Значение биржи используется, если
// оно передано, иначе считается по цене входа и маркировки.
func ProfitPct(pos models.Position) float64 {
	if pos.UnrealizedPnlPct != nil && !math.IsNaN(*pos.UnrealizedPnlPct) {
		return *pos.UnrealizedPnlPct
	}
	if pos.EntryPrice <= 0 {
		return 0
	}
	pct := (pos.MarkPrice - pos.EntryPrice) / pos.EntryPrice * 100
	if pos.Side == models.Short {
		return -pct
	}
	return pct
}

// stopAtBreakeven стоп уже на уровне входа или лучше
func stopAtBreakeven(p *Position) bool {
	if p.StopLoss == nil || *p.StopLoss <= 0 {
		return false
	}
	if p.Side == models.Short {
		return *p.StopLoss <= p.EntryPrice
	}
	return *p.StopLoss >= p.EntryPrice
}
