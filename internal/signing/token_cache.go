package signing

import (
	"container/list"
	"sync"
	"time"
)

const (
	tokenCacheSize = 1024
	tokenCacheTTL  = 5 * time.Minute
)

type cacheEntry struct {
	token       string
	recipientID string
	expiresAt   time.Time
}

// tokenCache is a bounded LRU mapping access tokens to recipient ids so
// repeated signing-session requests skip the recipient scan. Entries expire
// after a short TTL; token revocation therefore lags by at most the TTL.
type tokenCache struct {
	mu    sync.Mutex
	max   int
	ttl   time.Duration
	order *list.List
	items map[string]*list.Element
}

func newTokenCache() *tokenCache {
	return &tokenCache{
		max:   tokenCacheSize,
		ttl:   tokenCacheTTL,
		order: list.New(),
		items: make(map[string]*list.Element),
	}
}

func (c *tokenCache) get(token string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.items[token]
	if !ok {
		return "", false
	}
	entry := el.Value.(cacheEntry)
	if time.Now().After(entry.expiresAt) {
		c.order.Remove(el)
		delete(c.items, token)
		return "", false
	}
	c.order.MoveToFront(el)
	return entry.recipientID, true
}

func (c *tokenCache) put(token, recipientID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[token]; ok {
		el.Value = cacheEntry{token: token, recipientID: recipientID, expiresAt: time.Now().Add(c.ttl)}
		c.order.MoveToFront(el)
		return
	}
	for c.order.Len() >= c.max {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.order.Remove(oldest)
		delete(c.items, oldest.Value.(cacheEntry).token)
	}
	el := c.order.PushFront(cacheEntry{token: token, recipientID: recipientID, expiresAt: time.Now().Add(c.ttl)})
	c.items[token] = el
}

func (c *tokenCache) drop(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[token]; ok {
		c.order.Remove(el)
		delete(c.items, token)
	}
}
