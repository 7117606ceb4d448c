package market

import (
	"sort"
	"strings"

	"github.com/skalibog/bybit-mcp/internal/analysis/technical"
	"github.com/skalibog/bybit-mcp/pkg/models"
)

// Поля сортировки тикеров
const (
	SortByVolume = "volume"
	SortByChange = "change"
	SortByName   = "name"
)

// Overview обзор рынка по снимку тикеров
type Overview struct {
	Sentiment   string          `json:"sentiment"`
	Total       int             `json:"total"`
	Gainers     int             `json:"gainers"`
	Losers      int             `json:"losers"`
	GainerRatio float64         `json:"gainer_ratio"`
	AvgChange   float64         `json:"avg_change_pct"`
	Turnover    float64         `json:"turnover_24h"`
	TopGainers  []models.Ticker `json:"top_gainers"`
	TopLosers   []models.Ticker `json:"top_losers"`
	TopVolume   []models.Ticker `json:"top_volume"`
}

// BuildOverview считает настроение рынка по доле растущих инструментов
// и выбирает topN лидеров роста, падения и оборота
func BuildOverview(tickers []models.Ticker, topN int) Overview {
	if topN <= 0 {
		topN = 5
	}
	ov := Overview{
		Sentiment:  technical.Neutral,
		Total:      len(tickers),
		TopGainers: []models.Ticker{},
		TopLosers:  []models.Ticker{},
		TopVolume:  []models.Ticker{},
	}
	if len(tickers) == 0 {
		return ov
	}

	var sumChange float64
	for _, t := range tickers {
		sumChange += t.ChangePct24h
		ov.Turnover += t.Turnover24h
		switch {
		case t.ChangePct24h > 0:
			ov.Gainers++
		case t.ChangePct24h < 0:
			ov.Losers++
		}
	}
	ov.AvgChange = sumChange / float64(len(tickers))
	ov.GainerRatio = float64(ov.Gainers) / float64(len(tickers))

	switch {
	case ov.GainerRatio >= 0.6:
		ov.Sentiment = technical.Bullish
	case ov.GainerRatio <= 0.4:
		ov.Sentiment = technical.Bearish
	}

	byChange := SortTickers(tickers, SortByChange)
	ov.TopGainers = head(filterTickers(byChange, func(t models.Ticker) bool { return t.ChangePct24h > 0 }), topN)

	losers := filterTickers(byChange, func(t models.Ticker) bool { return t.ChangePct24h < 0 })
	for i, j := 0, len(losers)-1; i < j; i, j = i+1, j-1 {
		losers[i], losers[j] = losers[j], losers[i]
	}
	ov.TopLosers = head(losers, topN)

	ov.TopVolume = head(SortTickers(tickers, SortByVolume), topN)
	return ov
}

// SortTickers возвращает отсортированную копию: volume и change по убыванию, name по алфавиту
func SortTickers(tickers []models.Ticker, by string) []models.Ticker {
	out := append([]models.Ticker(nil), tickers...)
	switch strings.ToLower(by) {
	case SortByChange:
		sort.SliceStable(out, func(i, j int) bool { return out[i].ChangePct24h > out[j].ChangePct24h })
	case SortByName:
		sort.SliceStable(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	default:
		sort.SliceStable(out, func(i, j int) bool { return out[i].Turnover24h > out[j].Turnover24h })
	}
	return out
}

// SentimentLabel переводит направление обзора в шкалу positive/neutral/negative
func (o Overview) SentimentLabel() string {
	switch o.Sentiment {
	case technical.Bullish:
		return "positive"
	case technical.Bearish:
		return "negative"
	default:
		return "neutral"
	}
}

func filterTickers(tickers []models.Ticker, keep func(models.Ticker) bool) []models.Ticker {
	out := make([]models.Ticker, 0, len(tickers))
	for _, t := range tickers {
		if keep(t) {
			out = append(out, t)
		}
	}
	return out
}

func head(tickers []models.Ticker, n int) []models.Ticker {
	if len(tickers) > n {
		return tickers[:n]
	}
	return tickers
}
