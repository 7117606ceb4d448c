package monitor

import (
	"sync"
	"time"

	"github.com/skalibog/bybit-mcp/pkg/logger"
	"go.uber.org/zap"
)

// EventType тип события мониторинга
type EventType string

const (
	EventPriceUpdate EventType = "price_update"
	EventActionTaken EventType = "action_taken"
	EventExitSignal  EventType = "exit_signal"
	EventWarning     EventType = "warning"
)

// Действия
const (
	ActionMoveToBreakeven = "move_to_breakeven"
	ActionEnableTrailing  = "enable_trailing"
	ActionExit            = "exit"
)

// Event событие мониторинга
type Event struct {
	Type   EventType      `json:"type"`
	Symbol string         `json:"symbol"`
	Action string         `json:"action,omitempty"`
	Data   map[string]any `json:"data,omitempty"`
	Time   time.Time      `json:"time"`
}

// Callbacks обработчики событий. Вызываются в отдельных горутинах,
// монитор не ждет их завершения и не повторяет вызов.
type Callbacks struct {
	OnPriceUpdate func(Event)
	OnActionTaken func(Event)
	OnExitSignal  func(Event)
	OnWarning     func(Event)
}

func (c Callbacks) handler(t EventType) func(Event) {
	switch t {
	case EventPriceUpdate:
		return c.OnPriceUpdate
	case EventActionTaken:
		return c.OnActionTaken
	case EventExitSignal:
		return c.OnExitSignal
	case EventWarning:
		return c.OnWarning
	}
	return nil
}

// eventLog кольцевой буфер последних событий
type eventLog struct {
	mu    sync.Mutex
	items []Event
	next  int
	full  bool
}

func newEventLog(size int) *eventLog {
	if size <= 0 {
		size = 200
	}
	return &eventLog{items: make([]Event, size)}
}

func (l *eventLog) add(e Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.items[l.next] = e
	l.next = (l.next + 1) % len(l.items)
	if l.next == 0 {
		l.full = true
	}
}

// list возвращает события от старых к новым
func (l *eventLog) list() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.full {
		return append([]Event(nil), l.items[:l.next]...)
	}
	out := make([]Event, 0, len(l.items))
	out = append(out, l.items[l.next:]...)
	return append(out, l.items[:l.next]...)
}

// dispatch сохраняет событие и вызывает обработчик без ожидания
func (m *Monitor) dispatch(e Event) {
	m.events.add(e)

	fn := m.callbacks.handler(e.Type)
	if fn == nil {
		return
	}
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("Паника в обработчике события мониторинга",
					zap.String("type", string(e.Type)),
					zap.String("symbol", e.Symbol),
					zap.Any("panic", r))
			}
		}()
		fn(e)
	}()
}
