package idempotency

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/payward/payward/app/models"
	"github.com/payward/payward/internal/pkg/apperrors"
)

type fakeRepo struct {
	records map[string]*models.IdempotencyRecord
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{records: make(map[string]*models.IdempotencyRecord)}
}

func fakeRepoKey(key string, merchantID uint) string {
	return fmt.Sprintf("%d/%s", merchantID, key)
}

func (f *fakeRepo) CreateIfAbsent(record *models.IdempotencyRecord) (bool, *models.IdempotencyRecord, error) {
	k := fakeRepoKey(record.Key, record.MerchantID)
	if existing, ok := f.records[k]; ok {
		return false, existing, nil
	}
	f.records[k] = record
	return true, record, nil
}

func (f *fakeRepo) GetActive(key string, merchantID uint, now time.Time) (*models.IdempotencyRecord, error) {
	record, ok := f.records[fakeRepoKey(key, merchantID)]
	if !ok || record.IsExpired(now) {
		return nil, gorm.ErrRecordNotFound
	}
	return record, nil
}

func (f *fakeRepo) DeleteExpired(now time.Time) (int64, error) {
	var n int64
	for k, record := range f.records {
		if record.IsExpired(now) {
			delete(f.records, k)
			n++
		}
	}
	return n, nil
}

type fakeCache struct {
	entries map[string]*CachedResponse
	hits    int
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: make(map[string]*CachedResponse)}
}

func (f *fakeCache) GetResponse(key string) (*CachedResponse, bool) {
	response, ok := f.entries[key]
	if ok {
		f.hits++
	}
	return response, ok
}

func (f *fakeCache) SetResponse(key string, response *CachedResponse, ttl time.Duration) {
	f.entries[key] = response
}

func TestGuardCheckMissSignalsProceed(t *testing.T) {
	guard := NewGuard(newFakeRepo(), nil)

	cached, err := guard.Check("key-1", 1, "POST", "/transactions/process", []byte(`{"amount":100}`))
	require.NoError(t, err)
	assert.Nil(t, cached)
}

func TestGuardReplayReturnsStoredResponse(t *testing.T) {
	guard := NewGuard(newFakeRepo(), nil)
	body := []byte(`{"amount":2500,"currency":"USD"}`)

	require.NoError(t, guard.Save("key-1", 1, "POST", "/transactions/process", body, 201, []byte(`{"id":"tx-1"}`)))

	cached, err := guard.Check("key-1", 1, "POST", "/transactions/process", body)
	require.NoError(t, err)
	require.NotNil(t, cached)
	assert.Equal(t, 201, cached.StatusCode)
	assert.Equal(t, `{"id":"tx-1"}`, cached.Body)
}

func TestGuardConflictOnDifferentBody(t *testing.T) {
	guard := NewGuard(newFakeRepo(), nil)

	require.NoError(t, guard.Save("key-1", 1, "POST", "/transactions/process", []byte(`{"amount":2500}`), 201, []byte(`{}`)))

	cached, err := guard.Check("key-1", 1, "POST", "/transactions/process", []byte(`{"amount":9999}`))
	require.Error(t, err)
	assert.Nil(t, cached)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeConflict))
}

func TestGuardScopesKeysByMerchant(t *testing.T) {
	guard := NewGuard(newFakeRepo(), nil)
	body := []byte(`{"amount":100}`)

	require.NoError(t, guard.Save("key-1", 1, "POST", "/transactions/process", body, 201, []byte(`{}`)))

	cached, err := guard.Check("key-1", 2, "POST", "/transactions/process", body)
	require.NoError(t, err)
	assert.Nil(t, cached)
}

func TestGuardIgnoresExpiredRecords(t *testing.T) {
	repo := newFakeRepo()
	guard := NewGuard(repo, nil)
	body := []byte(`{"amount":100}`)

	require.NoError(t, guard.Save("key-1", 1, "POST", "/transactions/process", body, 201, []byte(`{}`)))

	// Jump past the retention window.
	guard.now = func() time.Time { return time.Now().Add(models.IdempotencyRecordTTL + time.Minute) }

	cached, err := guard.Check("key-1", 1, "POST", "/transactions/process", body)
	require.NoError(t, err)
	assert.Nil(t, cached)
}

func TestGuardWarmCacheServesReplay(t *testing.T) {
	repo := newFakeRepo()
	cache := newFakeCache()
	guard := NewGuard(repo, cache)
	body := []byte(`{"amount":100}`)

	require.NoError(t, guard.Save("key-1", 1, "POST", "/transactions/process", body, 201, []byte(`{"id":"tx-1"}`)))

	// Wipe the repo; a warm cache must still answer the replay.
	repo.records = map[string]*models.IdempotencyRecord{}

	cached, err := guard.Check("key-1", 1, "POST", "/transactions/process", body)
	require.NoError(t, err)
	require.NotNil(t, cached)
	assert.Equal(t, 201, cached.StatusCode)
	assert.Equal(t, 1, cache.hits)
}

func TestGuardCacheHitStillDetectsConflict(t *testing.T) {
	cache := newFakeCache()
	guard := NewGuard(newFakeRepo(), cache)
	body := []byte(`{"amount":100}`)

	require.NoError(t, guard.Save("key-1", 1, "POST", "/transactions/process", body, 201, []byte(`{}`)))

	_, err := guard.Check("key-1", 1, "POST", "/transactions/process", []byte(`{"amount":200}`))
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeConflict))
}

func TestGuardLostInsertRaceKeepsFirstResponse(t *testing.T) {
	repo := newFakeRepo()
	guard := NewGuard(repo, nil)
	body := []byte(`{"amount":100}`)

	require.NoError(t, guard.Save("key-1", 1, "POST", "/transactions/process", body, 201, []byte(`{"id":"first"}`)))
	require.NoError(t, guard.Save("key-1", 1, "POST", "/transactions/process", body, 201, []byte(`{"id":"second"}`)))

	cached, err := guard.Check("key-1", 1, "POST", "/transactions/process", body)
	require.NoError(t, err)
	require.NotNil(t, cached)
	assert.Equal(t, `{"id":"first"}`, cached.Body)
}
