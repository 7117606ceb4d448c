package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/skalibog/bybit-mcp/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingSource struct {
	MarketData
	calls int
	err   error
}

func (s *countingSource) GetKlines(_ context.Context, _, symbol, timeframe string, limit int) ([]models.Candle, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return []models.Candle{{Symbol: symbol, Interval: timeframe, Close: float64(limit)}}, nil
}

func TestMemoCachesKlines(t *testing.T) {
	src := &countingSource{}
	now := time.Unix(1700000000, 0)
	m := NewMemo(src, 10*time.Second)
	m.now = func() time.Time { return now }

	ctx := context.Background()
	_, err := m.GetKlines(ctx, "linear", "BTCUSDT", "1h", 100)
	require.NoError(t, err)
	_, err = m.GetKlines(ctx, "linear", "BTCUSDT", "1h", 100)
	require.NoError(t, err)
	assert.Equal(t, 1, src.calls)

	_, err = m.GetKlines(ctx, "linear", "BTCUSDT", "4h", 100)
	require.NoError(t, err)
	assert.Equal(t, 2, src.calls)

	now = now.Add(10 * time.Second)
	_, err = m.GetKlines(ctx, "linear", "BTCUSDT", "1h", 100)
	require.NoError(t, err)
	assert.Equal(t, 3, src.calls)
}

func TestMemoDoesNotCacheErrors(t *testing.T) {
	src := &countingSource{err: errors.New("timeout")}
	m := NewMemo(src, 0)

	_, err := m.GetKlines(context.Background(), "linear", "ETHUSDT", "1h", 50)
	assert.Error(t, err)
	_, err = m.GetKlines(context.Background(), "linear", "ETHUSDT", "1h", 50)
	assert.Error(t, err)
	assert.Equal(t, 2, src.calls)
}

func TestMemoPurge(t *testing.T) {
	src := &countingSource{}
	now := time.Unix(1700000000, 0)
	m := NewMemo(src, time.Second)
	m.now = func() time.Time { return now }

	_, _ = m.GetKlines(context.Background(), "spot", "A", "1h", 10)
	_, _ = m.GetKlines(context.Background(), "spot", "B", "1h", 10)
	assert.Equal(t, 0, m.Purge())

	now = now.Add(2 * time.Second)
	assert.Equal(t, 2, m.Purge())
}
