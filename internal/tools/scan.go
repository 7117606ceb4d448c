package tools

import (
	"context"
	"sort"

	"github.com/skalibog/bybit-mcp/internal/mcp"
	"github.com/skalibog/bybit-mcp/internal/scanner"
)

type scanArgs struct {
	Criteria     string  `json:"criteria" default:"any" validate:"oneof=any oversold overbought breakout reversal" desc:"Критерий отбора: any, oversold, overbought, breakout, reversal"`
	MarketType   string  `json:"market_type" default:"futures" validate:"oneof=spot futures both" desc:"Тип рынка: spot, futures или both"`
	MinVolume24h float64 `json:"min_volume_24h" validate:"gte=0" desc:"Минимальный оборот за 24ч в USDT; 0 означает значение из настроек"`
	Limit        int     `json:"limit" default:"20" validate:"min=1,max=100" desc:"Максимум возможностей в ответе"`
}

type presetArgs struct {
	MarketType   string  `json:"market_type" default:"futures" validate:"oneof=spot futures both" desc:"Тип рынка: spot, futures или both"`
	MinVolume24h float64 `json:"min_volume_24h" validate:"gte=0" desc:"Минимальный оборот за 24ч в USDT; 0 означает значение из настроек"`
	Limit        int     `json:"limit" default:"10" validate:"min=1,max=100" desc:"Максимум возможностей в ответе"`
}

// ScanReport результат сканирования
type ScanReport struct {
	Criteria      string           `json:"criteria"`
	MarketType    string           `json:"market_type"`
	Count         int              `json:"count"`
	Opportunities []scanner.Record `json:"opportunities"`
}

func (t *Toolbox) scanTools() []mcp.Tool {
	return []mcp.Tool{
		mcp.NewTool("scan_market",
			"Сканирование ликвидных USDT-пар по критерию с оценкой каждого сетапа по десяти критериям",
			t.scanMarket),
		t.presetTool("find_oversold_assets", scanner.Oversold,
			"Инструменты в перепроданности (RSI ниже 30) с оценкой сетапа на покупку"),
		t.presetTool("find_overbought_assets", scanner.Overbought,
			"Инструменты в перекупленности (RSI выше 70) с оценкой сетапа на продажу"),
		t.presetTool("find_breakout_opportunities", scanner.Breakout,
			"Инструменты со сломом структуры (BOS) в направлении тренда"),
		t.presetTool("find_trend_reversals", scanner.Reversal,
			"Инструменты со сменой характера рынка (ChoCh)"),
	}
}

func (t *Toolbox) presetTool(name, preset, description string) mcp.Tool {
	return mcp.NewTool(name, description, func(ctx context.Context, args presetArgs) (any, error) {
		return t.scan(ctx, scanArgs{
			Criteria:     preset,
			MarketType:   args.MarketType,
			MinVolume24h: args.MinVolume24h,
			Limit:        args.Limit,
		})
	})
}

func (t *Toolbox) scanMarket(ctx context.Context, args scanArgs) (any, error) {
	return t.scan(ctx, args)
}

// scan сканирует категории типа рынка и сводит результаты в один рейтинг
func (t *Toolbox) scan(ctx context.Context, args scanArgs) (*ScanReport, error) {
	var records []scanner.Record
	for _, category := range categoriesFor(args.MarketType) {
		found, err := t.scanner.Scan(ctx, scanner.Criteria{
			Preset:       args.Criteria,
			Category:     category,
			MinVolume24h: args.MinVolume24h,
			Limit:        args.Limit,
		})
		if err != nil {
			return nil, err
		}
		records = append(records, found...)
	}

	sort.SliceStable(records, func(i, j int) bool {
		if records[i].Score != records[j].Score {
			return records[i].Score > records[j].Score
		}
		return records[i].Turnover24h > records[j].Turnover24h
	})
	if len(records) > args.Limit {
		records = records[:args.Limit]
	}
	if records == nil {
		records = []scanner.Record{}
	}

	return &ScanReport{
		Criteria:      args.Criteria,
		MarketType:    args.MarketType,
		Count:         len(records),
		Opportunities: records,
	}, nil
}
