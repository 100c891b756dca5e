package services

import (
	"time"

	"relaychat/internal/models"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"
)

// IdempotencyCache remembers the outcome of recent sends by tempId. Entries
// live for the recency window; concurrent sends of the same key share one
// execution. Failures are never cached.
type IdempotencyCache struct {
	recent *expirable.LRU[string, *models.Message]
	flight singleflight.Group
}

func NewIdempotencyCache(size int, ttl time.Duration) *IdempotencyCache {
	if size <= 0 {
		size = 10000
	}
	return &IdempotencyCache{
		recent: expirable.NewLRU[string, *models.Message](size, nil, ttl),
	}
}

// Do returns the cached message for key, or runs fn once and caches its result.
// replayed is true when the result was produced by an earlier call.
func (c *IdempotencyCache) Do(key string, fn func() (*models.Message, error)) (*models.Message, bool, error) {
	if msg, ok := c.recent.Get(key); ok {
		return msg, true, nil
	}

	ran := false
	v, err, _ := c.flight.Do(key, func() (interface{}, error) {
		if msg, ok := c.recent.Get(key); ok {
			return msg, nil
		}

		ran = true
		msg, err := fn()
		if err != nil {
			return nil, err
		}
		c.recent.Add(key, msg)
		return msg, nil
	})
	if err != nil {
		return nil, false, err
	}
	return v.(*models.Message), !ran, nil
}

// Len reports how many results are cached
func (c *IdempotencyCache) Len() int {
	return c.recent.Len()
}

func idempotencyKey(senderID, conversationID, tempID string) string {
	return senderID + "|" + conversationID + "|" + tempID
}
