package orderbook

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/skalibog/bybit-mcp/internal/config"
	"github.com/skalibog/bybit-mcp/pkg/models"
)

// ErrEmptyBook стакан без одной из сторон
var ErrEmptyBook = errors.New("стакан пуст")

// Source источник стакана заявок
type Source interface {
	GetOrderBook(ctx context.Context, category, symbol string, limit int) (*models.OrderBook, error)
}

// Depth объем в пределах процента от средней цены (в котируемой валюте)
type Depth struct {
	BidUSD float64 `json:"bid_usd"`
	AskUSD float64 `json:"ask_usd"`
}

// Liquidity оценка ликвидности инструмента
type Liquidity struct {
	Symbol    string                  `json:"symbol"`
	BestBid   float64                 `json:"best_bid"`
	BestAsk   float64                 `json:"best_ask"`
	MidPrice  float64                 `json:"mid_price"`
	SpreadPct float64                 `json:"spread_pct"`
	Depth1Pct Depth                   `json:"depth_1pct"`
	Depth2Pct Depth                   `json:"depth_2pct"`
	Imbalance float64                 `json:"imbalance"`
	Score     float64                 `json:"liquidity_score"`
	Rating    string                  `json:"rating"`
	Walls     []models.OrderBookLevel `json:"walls,omitempty"`
	Signal    float64                 `json:"signal"`
	Levels    int                     `json:"levels"`
}

// Analyzer реализует анализатор стакана заявок
type Analyzer struct {
	config config.OrderBookConfig
}

// NewAnalyzer создает новый анализатор стакана заявок
func NewAnalyzer(cfg config.OrderBookConfig) *Analyzer {
	return &Analyzer{
		config: cfg,
	}
}

// Analyze загружает стакан и оценивает ликвидность
func (a *Analyzer) Analyze(ctx context.Context, src Source, category, symbol string) (*Liquidity, error) {
	book, err := src.GetOrderBook(ctx, category, symbol, a.config.Depth)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения стакана: %w", err)
	}
	return a.Evaluate(book)
}

// Evaluate оценивает ликвидность по стакану
func (a *Analyzer) Evaluate(book *models.OrderBook) (*Liquidity, error) {
	bids, asks := sortLevels(book)
	if len(bids) == 0 || len(asks) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptyBook, book.Symbol)
	}

	mid := (bids[0].Price + asks[0].Price) / 2
	l := &Liquidity{
		Symbol:    book.Symbol,
		BestBid:   bids[0].Price,
		BestAsk:   asks[0].Price,
		MidPrice:  mid,
		SpreadPct: (asks[0].Price - bids[0].Price) / mid * 100,
		Depth1Pct: depthWithin(bids, asks, mid, 0.01),
		Depth2Pct: depthWithin(bids, asks, mid, 0.02),
		Imbalance: a.calculateImbalance(bids, asks),
		Levels:    len(bids) + len(asks),
	}
	l.Score = liquidityScore(l.SpreadPct, l.Depth2Pct)
	l.Rating = rating(l.Score)
	l.Walls = append(findSignificantLevels(bids), findSignificantLevels(asks)...)
	l.Signal = l.Imbalance*0.6 + a.calculateSpreads(bids, asks)*0.4

	return l, nil
}

func sortLevels(book *models.OrderBook) ([]models.OrderBookLevel, []models.OrderBookLevel) {
	bids := make([]models.OrderBookLevel, 0, len(book.Bids))
	for _, b := range book.Bids {
		if b.Price > 0 && b.Amount > 0 {
			bids = append(bids, b)
		}
	}
	asks := make([]models.OrderBookLevel, 0, len(book.Asks))
	for _, a := range book.Asks {
		if a.Price > 0 && a.Amount > 0 {
			asks = append(asks, a)
		}
	}

	// Сортируем биды по убыванию цены
	sort.Slice(bids, func(i, j int) bool {
		return bids[i].Price > bids[j].Price
	})

	// Сортируем аски по возрастанию цены
	sort.Slice(asks, func(i, j int) bool {
		return asks[i].Price < asks[j].Price
	})

	return bids, asks
}

// calculateImbalance дисбаланс спроса и предложения от -100 до 100
func (a *Analyzer) calculateImbalance(bids, asks []models.OrderBookLevel) float64 {
	var totalBidVolume, totalAskVolume float64
	for _, bid := range bids {
		totalBidVolume += bid.Amount
	}
	for _, ask := range asks {
		totalAskVolume += ask.Amount
	}

	totalVolume := totalBidVolume + totalAskVolume
	if totalVolume == 0 {
		return 0
	}

	// Положительные значения указывают на преобладание покупателей
	imbalance := (totalBidVolume - totalAskVolume) / totalVolume * 100
	if math.Abs(imbalance) < a.config.ImbalanceThreshold {
		imbalance = 0
	}
	return imbalance
}

// depthWithin объем заявок в пределах доли pct от средней цены
func depthWithin(bids, asks []models.OrderBookLevel, mid, pct float64) Depth {
	var d Depth
	for _, bid := range bids {
		if 1-bid.Price/mid <= pct {
			d.BidUSD += bid.Price * bid.Amount
		}
	}
	for _, ask := range asks {
		if ask.Price/mid-1 <= pct {
			d.AskUSD += ask.Price * ask.Amount
		}
	}
	return d
}

// liquidityScore оценка от 0 до 10: до 4 баллов за спред и до 6 за глубину в 2%
func liquidityScore(spreadPct float64, depth Depth) float64 {
	var spreadScore float64
	switch {
	case spreadPct <= 0.02:
		spreadScore = 4
	case spreadPct <= 0.05:
		spreadScore = 3
	case spreadPct <= 0.1:
		spreadScore = 2
	case spreadPct <= 0.5:
		spreadScore = 1
	}

	// Меньшая из сторон: ликвидность ограничена слабой стороной
	side := math.Min(depth.BidUSD, depth.AskUSD)
	var depthScore float64
	if side > 0 {
		// 1k$ = 0 баллов, 10M$ = 6 баллов, логарифмическая шкала
		depthScore = clamp((math.Log10(side)-3)*1.5, 0, 6)
	}

	return math.Round((spreadScore+depthScore)*10) / 10
}

func rating(score float64) string {
	switch {
	case score >= 8:
		return "excellent"
	case score >= 6:
		return "good"
	case score >= 4:
		return "moderate"
	default:
		return "poor"
	}
}

// calculateSpreads сравнивает среднее расстояние между уровнями бидов и асков
func (a *Analyzer) calculateSpreads(bids, asks []models.OrderBookLevel) float64 {
	bidSpreads := calculateAverageSpreads(bids, 5)
	askSpreads := calculateAverageSpreads(asks, 5)

	// Более широкие спреды на асках означают меньшее сопротивление сверху
	if bidSpreads > 0 && askSpreads > 0 {
		return (askSpreads - bidSpreads) / math.Max(bidSpreads, askSpreads) * 50
	}
	return 0
}

// findSignificantLevels находит уровни с объемом в 3 раза выше среднего
func findSignificantLevels(levels []models.OrderBookLevel) []models.OrderBookLevel {
	if len(levels) == 0 {
		return nil
	}

	var totalVolume float64
	for _, level := range levels {
		totalVolume += level.Amount
	}
	avgVolume := totalVolume / float64(len(levels))

	var significant []models.OrderBookLevel
	for _, level := range levels {
		if level.Amount > avgVolume*3 {
			significant = append(significant, level)
		}
	}
	return significant
}

// calculateAverageSpreads средний относительный шаг между соседними уровнями
func calculateAverageSpreads(levels []models.OrderBookLevel, count int) float64 {
	if len(levels) < count+1 {
		count = len(levels) - 1
	}
	if count <= 0 {
		return 0
	}

	var totalSpread float64
	for i := 0; i < count; i++ {
		higher := math.Max(levels[i].Price, levels[i+1].Price)
		lower := math.Min(levels[i].Price, levels[i+1].Price)
		totalSpread += (higher - lower) / lower
	}
	return totalSpread / float64(count)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
