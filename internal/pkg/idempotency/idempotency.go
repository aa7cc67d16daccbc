package idempotency

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/payward/payward/app/models"
	"github.com/payward/payward/app/repository"
	"github.com/payward/payward/internal/pkg/apperrors"
)

// CachedResponse is the stored outcome replayed for a repeated key.
type CachedResponse struct {
	StatusCode  int    `json:"status_code"`
	Body        string `json:"body"`
	RequestHash string `json:"request_hash"`
}

// ResponseCache is an optional fast lookup layer in front of the database.
// Misses and cache errors fall through to the repository.
type ResponseCache interface {
	GetResponse(key string) (*CachedResponse, bool)
	SetResponse(key string, response *CachedResponse, ttl time.Duration)
}

// Guard maps (key, merchant) to a previously computed response and detects
// conflicting key reuse.
type Guard struct {
	repo  repository.IdempotencyRepository
	cache ResponseCache
	ttl   time.Duration
	now   func() time.Time
}

// NewGuard creates a guard from an injected repository. The cache may be nil.
func NewGuard(repo repository.IdempotencyRepository, cache ResponseCache) *Guard {
	return &Guard{
		repo:  repo,
		cache: cache,
		ttl:   models.IdempotencyRecordTTL,
		now:   time.Now,
	}
}

// NewGuardFromDB creates a guard from a GORM DB handle.
func NewGuardFromDB(db *gorm.DB, cache ResponseCache) *Guard {
	return NewGuard(repository.NewIdempotencyRepository(db), cache)
}

// HashBody returns the stable content digest used to detect conflicting
// reuse of a key.
func HashBody(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

func cacheKey(key string, merchantID uint) string {
	return fmt.Sprintf("idem:%d:%s", merchantID, key)
}

// Check looks up a previously stored response for (key, merchant). It
// returns the cached response for an identical request, a conflict error
// when the key was reused with a different body, and (nil, nil) when the
// caller should proceed with the operation.
func (g *Guard) Check(key string, merchantID uint, method, path string, body []byte) (*CachedResponse, error) {
	hash := HashBody(body)

	if g.cache != nil {
		if cached, ok := g.cache.GetResponse(cacheKey(key, merchantID)); ok {
			if cached.RequestHash != hash {
				return nil, apperrors.Conflict("idempotency key reused with different parameters")
			}
			return cached, nil
		}
	}

	record, err := g.repo.GetActive(key, merchantID, g.now())
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, apperrors.Internal("idempotency lookup failed", err)
	}

	if record.RequestHash != hash {
		return nil, apperrors.Conflict("idempotency key reused with different parameters")
	}

	response := &CachedResponse{
		StatusCode:  record.ResponseStatusCode,
		Body:        record.ResponseBody,
		RequestHash: record.RequestHash,
	}
	g.warmCache(key, merchantID, response, record.ExpiresAt)
	return response, nil
}

// Save persists the response for later replay. It must be called only after
// the protected operation completed successfully. The insert is guarded by
// the (key, merchant_id) uniqueness constraint; losing a concurrent insert
// race is not an error, the first stored response simply wins.
func (g *Guard) Save(key string, merchantID uint, method, path string, body []byte, statusCode int, responseBody []byte) error {
	expiresAt := g.now().Add(g.ttl)
	record := &models.IdempotencyRecord{
		Key:                key,
		MerchantID:         merchantID,
		RequestHash:        HashBody(body),
		RequestMethod:      method,
		RequestPath:        path,
		RequestBody:        string(body),
		ResponseStatusCode: statusCode,
		ResponseBody:       string(responseBody),
		ExpiresAt:          expiresAt,
	}

	created, stored, err := g.repo.CreateIfAbsent(record)
	if err != nil {
		return apperrors.Internal("failed to persist idempotency record", err)
	}
	if !created {
		log.Warnf("[Idempotency] lost insert race for key %s (merchant %d), keeping first response", key, merchantID)
	}

	g.warmCache(key, merchantID, &CachedResponse{
		StatusCode:  stored.ResponseStatusCode,
		Body:        stored.ResponseBody,
		RequestHash: stored.RequestHash,
	}, stored.ExpiresAt)
	return nil
}

func (g *Guard) warmCache(key string, merchantID uint, response *CachedResponse, expiresAt time.Time) {
	if g.cache == nil {
		return
	}
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return
	}
	g.cache.SetResponse(cacheKey(key, merchantID), response, ttl)
}
