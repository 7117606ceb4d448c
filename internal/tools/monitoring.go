package tools

import (
	"context"
	"time"

	"github.com/skalibog/bybit-mcp/internal/mcp"
	"github.com/skalibog/bybit-mcp/internal/monitor"
	"github.com/skalibog/bybit-mcp/pkg/logger"
	"github.com/skalibog/bybit-mcp/pkg/models"
	"go.uber.org/zap"
)

type startMonitoringArgs struct {
	Category          string   `json:"category" default:"linear" validate:"oneof=linear inverse" desc:"Категория деривативов: linear или inverse"`
	Symbols           []string `json:"symbols,omitempty" desc:"Символы для отслеживания; пусто означает все позиции"`
	MoveToBreakevenAt *float64 `json:"move_to_breakeven_at,omitempty" validate:"omitempty,gt=0" desc:"Прибыль в процентах для переноса стопа в безубыток"`
	EnableTrailingAt  *float64 `json:"enable_trailing_at,omitempty" validate:"omitempty,gt=0" desc:"Прибыль в процентах для включения трейлинга"`
	TrailingPct       float64  `json:"trailing_pct" validate:"gte=0,lte=50" desc:"Расстояние трейлинга в процентах; 0 означает значение из настроек"`
	MaxTimeInTrade    float64  `json:"max_time_in_trade" validate:"gte=0" desc:"Максимальное время в сделке в часах; 0 отключает проверку"`
	ExitOnReversal    bool     `json:"exit_on_reversal" desc:"Сигнал на выход при смене характера против позиции"`
	ReversalTimeframe string   `json:"reversal_timeframe,omitempty" validate:"omitempty,oneof=1m 5m 15m 30m 1h 4h 1d" desc:"Таймфрейм проверки разворота"`
	AutoExecute       bool     `json:"auto_execute" desc:"Исполнять перенос стопа и трейлинг автоматически"`
}

type noArgs struct{}

func (t *Toolbox) monitoringTools() []mcp.Tool {
	return []mcp.Tool{
		mcp.NewTool("start_position_monitoring",
			"Запуск мониторинга позиций по потоку биржи: безубыток, трейлинг, лимит времени и выход при развороте",
			t.startMonitoring),
		mcp.NewTool("stop_position_monitoring",
			"Остановка мониторинга позиций",
			t.stopMonitoring),
		mcp.NewTool("get_monitoring_status",
			"Состояние мониторинга: параметры, отслеживаемые позиции и последние события",
			t.monitoringStatus),
	}
}

func logEvent(msg string) func(monitor.Event) {
	return func(e monitor.Event) {
		logger.Info(msg,
			zap.String("symbol", e.Symbol),
			zap.String("action", e.Action),
			zap.Any("data", e.Data))
	}
}

func (t *Toolbox) startMonitoring(ctx context.Context, args startMonitoringArgs) (any, error) {
	t.monitorMu.Lock()
	defer t.monitorMu.Unlock()

	if t.monitor != nil && t.monitor.Running() {
		return models.Fail("мониторинг уже запущен"), nil
	}
	if t.streams == nil {
		return models.Fail("поток позиций недоступен"), nil
	}

	defaults := t.config.Monitor
	cfg := monitor.Config{
		Category:          args.Category,
		MoveToBreakevenAt: args.MoveToBreakevenAt,
		EnableTrailingAt:  args.EnableTrailingAt,
		TrailingPct:       args.TrailingPct,
		MaxTimeInTrade:    time.Duration(args.MaxTimeInTrade * float64(time.Hour)),
		ExitOnReversal:    args.ExitOnReversal,
		ReversalTimeframe: args.ReversalTimeframe,
		AutoExecute:       args.AutoExecute,
		PollInterval:      defaults.PollInterval,
		EventBuffer:       defaults.EventBuffer,
	}
	for _, s := range args.Symbols {
		if s = normalizeSymbol(s); s != "" {
			cfg.Symbols = append(cfg.Symbols, s)
		}
	}
	if cfg.TrailingPct <= 0 {
		cfg.TrailingPct = defaults.TrailingPct
	}
	if cfg.ReversalTimeframe == "" {
		cfg.ReversalTimeframe = defaults.ReversalTimeframe
	}

	m := monitor.New(cfg, monitor.Callbacks{
		OnPriceUpdate: func(e monitor.Event) {
			logger.Debug("Обновление позиции", zap.String("symbol", e.Symbol), zap.Any("data", e.Data))
		},
		OnActionTaken: logEvent("Действие мониторинга"),
		OnExitSignal:  logEvent("Сигнал на выход"),
		OnWarning:     logEvent("Предупреждение мониторинга"),
	}, t.exchange, t.market)

	// мониторинг живет дольше вызова инструмента
	if err := m.Start(context.WithoutCancel(ctx), t.streams()); err != nil {
		return models.Fail("мониторинг не запущен: %v", err), nil
	}
	t.monitor = m

	return models.ActionResult{
		Success: true,
		Message: "мониторинг запущен",
		Data:    map[string]any{"config": m.Config()},
	}, nil
}

func (t *Toolbox) stopMonitoring(_ context.Context, _ noArgs) (any, error) {
	t.monitorMu.Lock()
	m := t.monitor
	t.monitorMu.Unlock()

	if m == nil || !m.Running() {
		return models.Fail("мониторинг не запущен"), nil
	}
	if err := m.Stop(); err != nil {
		return models.Fail("%v", err), nil
	}
	st := m.Snapshot()
	return models.ActionResult{
		Success: true,
		Message: "мониторинг остановлен",
		Data:    map[string]any{"positions": len(st.Positions), "events": len(st.Events)},
	}, nil
}

func (t *Toolbox) monitoringStatus(_ context.Context, _ noArgs) (any, error) {
	t.monitorMu.Lock()
	m := t.monitor
	t.monitorMu.Unlock()

	if m == nil {
		return map[string]any{"running": false}, nil
	}
	return m.Snapshot(), nil
}
