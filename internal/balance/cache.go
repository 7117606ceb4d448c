package balance

import (
	"strings"
	"sync"
	"time"

	"github.com/skalibog/bybit-mcp/pkg/models"
)

// DefaultTTL время жизни записи кэша по умолчанию
const DefaultTTL = 30 * time.Second

type cacheKey struct {
	account models.AccountType
	coin    string
}

type cacheEntry struct {
	value      models.BalanceEntry
	insertedAt time.Time
}

// Cache потокобезопасный кэш балансов по ключу (тип аккаунта, монета) с TTL
type Cache struct {
	mu    sync.RWMutex
	items map[cacheKey]cacheEntry
	ttl   time.Duration
	now   func() time.Time
}

// NewCache создает кэш с указанным TTL; ttl <= 0 заменяется на DefaultTTL
func NewCache(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		items: make(map[cacheKey]cacheEntry),
		ttl:   ttl,
		now:   time.Now,
	}
}

// TTL возвращает время жизни записи
func (c *Cache) TTL() time.Duration {
	return c.ttl
}

func keyOf(account models.AccountType, coin string) cacheKey {
	return cacheKey{account: account, coin: strings.ToUpper(coin)}
}

// Get возвращает запись, только если она моложе TTL
func (c *Cache) Get(account models.AccountType, coin string) (models.BalanceEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	cached, ok := c.items[keyOf(account, coin)]
	if !ok {
		return models.BalanceEntry{}, false
	}
	if c.now().Sub(cached.insertedAt) >= c.ttl {
		return models.BalanceEntry{}, false
	}
	return cached.value, true
}

// Set сохраняет запись по ключу (entry.Account, entry.Coin)
func (c *Cache) Set(entry models.BalanceEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items[keyOf(entry.Account, entry.Coin)] = cacheEntry{value: entry, insertedAt: c.now()}
}

// Invalidate удаляет записи. Пустой account или coin означает "любой".
// Возвращает число удаленных записей.
func (c *Cache) Invalidate(account models.AccountType, coin string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	coin = strings.ToUpper(coin)
	removed := 0
	for k := range c.items {
		if account != "" && k.account != account {
			continue
		}
		if coin != "" && k.coin != coin {
			continue
		}
		delete(c.items, k)
		removed++
	}
	return removed
}

// Clear удаляет все записи
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[cacheKey]cacheEntry)
}

// Len возвращает число записей, включая просроченные
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}
