package idempotency

import (
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/payward/payward/internal/pkg/cache"
)

// RedisCache fronts replay lookups with the shared Redis client. All
// operations are best-effort; Redis being down only costs the fast path.
type RedisCache struct{}

func NewRedisCache() *RedisCache {
	return &RedisCache{}
}

func (RedisCache) GetResponse(key string) (*CachedResponse, bool) {
	var response CachedResponse
	if err := cache.GetJSON(key, &response); err != nil {
		if !cache.IsMiss(err) {
			log.Debugf("[Idempotency] cache read failed for %s: %v", key, err)
		}
		return nil, false
	}
	return &response, true
}

func (RedisCache) SetResponse(key string, response *CachedResponse, ttl time.Duration) {
	if err := cache.SetJSON(key, response, ttl); err != nil {
		log.Debugf("[Idempotency] cache write failed for %s: %v", key, err)
	}
}
