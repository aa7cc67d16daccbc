package webhook

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/payward/payward/app/models"
)

type fakeWebhookRepo struct {
	configs []models.WebhookConfig
	events  []*models.WebhookEvent
}

func (f *fakeWebhookRepo) CreateConfig(config *models.WebhookConfig) error {
	config.ID = uint(len(f.configs) + 1)
	f.configs = append(f.configs, *config)
	return nil
}

func (f *fakeWebhookRepo) GetConfigByID(id uint, merchantID uint) (*models.WebhookConfig, error) {
	for i := range f.configs {
		if f.configs[i].ID == id && f.configs[i].MerchantID == merchantID {
			cp := f.configs[i]
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeWebhookRepo) GetConfigByIDAny(id uint) (*models.WebhookConfig, error) {
	for i := range f.configs {
		if f.configs[i].ID == id {
			cp := f.configs[i]
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeWebhookRepo) ListConfigsByMerchant(merchantID uint, activeOnly bool) ([]models.WebhookConfig, error) {
	var out []models.WebhookConfig
	for _, c := range f.configs {
		if c.MerchantID != merchantID {
			continue
		}
		if activeOnly && !c.IsActive {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func (f *fakeWebhookRepo) DeleteConfig(id uint, merchantID uint) error {
	return nil
}

func (f *fakeWebhookRepo) CreateEvent(event *models.WebhookEvent) error {
	event.ID = uint(len(f.events) + 1)
	f.events = append(f.events, event)
	return nil
}

func (f *fakeWebhookRepo) ListDueEvents(now time.Time, maxAttempts int, limit int) ([]models.WebhookEvent, error) {
	var due []models.WebhookEvent
	for _, e := range f.events {
		if !e.Success && e.AttemptCount < maxAttempts && e.NextAttemptAt != nil && !e.NextAttemptAt.After(now) {
			due = append(due, *e)
		}
	}
	return due, nil
}

func (f *fakeWebhookRepo) HasNewerAttempt(event *models.WebhookEvent) (bool, error) {
	for _, e := range f.events {
		if e.WebhookConfigID == event.WebhookConfigID &&
			e.EventType == event.EventType &&
			e.PayloadJSON == event.PayloadJSON &&
			e.AttemptCount > event.AttemptCount {
			return true, nil
		}
	}
	return false, nil
}

type fakeIdemRepo struct {
	purged int64
}

func (f *fakeIdemRepo) CreateIfAbsent(record *models.IdempotencyRecord) (bool, *models.IdempotencyRecord, error) {
	return true, record, nil
}

func (f *fakeIdemRepo) GetActive(key string, merchantID uint, now time.Time) (*models.IdempotencyRecord, error) {
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeIdemRepo) DeleteExpired(now time.Time) (int64, error) {
	f.purged++
	return 1, nil
}

func newTestDispatcher(repo *fakeWebhookRepo) *Dispatcher {
	d := NewDispatcher(repo)
	d.client = &http.Client{Timeout: 2 * time.Second}
	return d
}

func TestDispatchRecordsOneEventPerConfig(t *testing.T) {
	var okBody []byte
	var okSig string
	okServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		okBody, _ = io.ReadAll(r.Body)
		okSig = r.Header.Get(SignatureHeader)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"received":true}`))
	}))
	defer okServer.Close()

	failServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("boom"))
	}))
	defer failServer.Close()

	repo := &fakeWebhookRepo{}
	require.NoError(t, repo.CreateConfig(&models.WebhookConfig{MerchantID: 1, URL: okServer.URL, Secret: "secret-one", IsActive: true}))
	require.NoError(t, repo.CreateConfig(&models.WebhookConfig{MerchantID: 1, URL: failServer.URL, Secret: "secret-two", IsActive: true}))

	d := newTestDispatcher(repo)
	d.Dispatch(1, "tx-uuid-1", EventTransactionCaptured, map[string]interface{}{"amount": 1000})

	require.Len(t, repo.events, 2)

	first, second := repo.events[0], repo.events[1]
	assert.True(t, first.Success)
	require.NotNil(t, first.ResponseStatusCode)
	assert.Equal(t, http.StatusOK, *first.ResponseStatusCode)
	assert.Equal(t, `{"received":true}`, first.ResponseBody)
	assert.Nil(t, first.NextAttemptAt)

	assert.False(t, second.Success)
	require.NotNil(t, second.ResponseStatusCode)
	assert.Equal(t, http.StatusInternalServerError, *second.ResponseStatusCode)
	require.NotNil(t, second.NextAttemptAt)

	// The delivered envelope is signed with the config secret.
	assert.True(t, VerifySignature(okBody, okSig, "secret-one"))

	var envelope Envelope
	require.NoError(t, json.Unmarshal(okBody, &envelope))
	assert.Equal(t, EventTransactionCaptured, envelope.EventType)
	assert.NotEmpty(t, envelope.EventID)
	assert.Equal(t, "tx-uuid-1", envelope.Data["transaction_id"])
	assert.Equal(t, float64(1000), envelope.Data["amount"])
}

func TestDispatchSkipsInactiveConfigs(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	repo := &fakeWebhookRepo{}
	require.NoError(t, repo.CreateConfig(&models.WebhookConfig{MerchantID: 1, URL: server.URL, Secret: "s", IsActive: false}))

	d := newTestDispatcher(repo)
	d.Dispatch(1, "tx-uuid-1", EventTransactionAuthorized, nil)

	assert.Empty(t, repo.events)
}

func TestDispatchUnreachableEndpointRecordsError(t *testing.T) {
	repo := &fakeWebhookRepo{}
	require.NoError(t, repo.CreateConfig(&models.WebhookConfig{MerchantID: 1, URL: "http://127.0.0.1:1", Secret: "s", IsActive: true}))

	d := newTestDispatcher(repo)
	d.Dispatch(1, "tx-uuid-1", EventTransactionFailed, nil)

	require.Len(t, repo.events, 1)
	event := repo.events[0]
	assert.False(t, event.Success)
	assert.Nil(t, event.ResponseStatusCode)
	assert.NotEmpty(t, event.ErrorMessage)
	require.NotNil(t, event.NextAttemptAt)
}

func TestRetryBackoffDoubles(t *testing.T) {
	assert.Equal(t, time.Minute, retryBackoff(1))
	assert.Equal(t, 2*time.Minute, retryBackoff(2))
	assert.Equal(t, 4*time.Minute, retryBackoff(3))
	assert.Equal(t, time.Hour, retryBackoff(10))
}

func TestWorkerRetriesDueEvents(t *testing.T) {
	var delivered int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		delivered++
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	repo := &fakeWebhookRepo{}
	require.NoError(t, repo.CreateConfig(&models.WebhookConfig{MerchantID: 1, URL: server.URL, Secret: "s", IsActive: true}))

	past := time.Now().Add(-time.Minute)
	require.NoError(t, repo.CreateEvent(&models.WebhookEvent{
		WebhookConfigID: 1,
		EventType:       EventTransactionCaptured,
		PayloadJSON:     `{"event_type":"transaction.captured"}`,
		Success:         false,
		AttemptCount:    1,
		LastAttemptedAt: past,
		NextAttemptAt:   &past,
	}))

	idemRepo := &fakeIdemRepo{}
	worker := NewWorker(repo, idemRepo, newTestDispatcher(repo))
	worker.Sweep(time.Now())

	assert.Equal(t, 1, delivered)
	require.Len(t, repo.events, 2)
	retry := repo.events[1]
	assert.Equal(t, 2, retry.AttemptCount)
	assert.True(t, retry.Success)
	assert.Equal(t, int64(1), idemRepo.purged)

	// A second sweep finds the successful newer attempt and stays quiet.
	worker.Sweep(time.Now())
	assert.Equal(t, 1, delivered)
	assert.Len(t, repo.events, 2)
}

func TestWorkerRespectsAttemptCap(t *testing.T) {
	repo := &fakeWebhookRepo{}
	require.NoError(t, repo.CreateConfig(&models.WebhookConfig{MerchantID: 1, URL: "http://127.0.0.1:1", Secret: "s", IsActive: true}))

	past := time.Now().Add(-time.Minute)
	require.NoError(t, repo.CreateEvent(&models.WebhookEvent{
		WebhookConfigID: 1,
		EventType:       EventTransactionCaptured,
		PayloadJSON:     `{}`,
		Success:         false,
		AttemptCount:    DefaultMaxAttempts,
		LastAttemptedAt: past,
		NextAttemptAt:   &past,
	}))

	worker := NewWorker(repo, &fakeIdemRepo{}, newTestDispatcher(repo))
	worker.Sweep(time.Now())

	assert.Len(t, repo.events, 1)
}

func TestWorkerSkipsInactiveConfig(t *testing.T) {
	repo := &fakeWebhookRepo{}
	require.NoError(t, repo.CreateConfig(&models.WebhookConfig{MerchantID: 1, URL: "http://127.0.0.1:1", Secret: "s", IsActive: false}))

	past := time.Now().Add(-time.Minute)
	require.NoError(t, repo.CreateEvent(&models.WebhookEvent{
		WebhookConfigID: 1,
		EventType:       EventTransactionCaptured,
		PayloadJSON:     `{}`,
		Success:         false,
		AttemptCount:    1,
		LastAttemptedAt: past,
		NextAttemptAt:   &past,
	}))

	worker := NewWorker(repo, &fakeIdemRepo{}, newTestDispatcher(repo))
	worker.Sweep(time.Now())

	assert.Len(t, repo.events, 1)
}

func TestWorkerRestartsAfterStop(t *testing.T) {
	repo := &fakeWebhookRepo{}
	worker := NewWorker(repo, &fakeIdemRepo{}, newTestDispatcher(repo))

	worker.Start()
	worker.Stop()

	// A second Start must hand the loop a live stop channel, otherwise it
	// exits immediately on the one closed by the previous Stop.
	worker.Start()
	select {
	case <-worker.stopCh:
		t.Fatal("restarted worker observed a closed stop channel")
	default:
	}
	worker.Stop()
}

func TestEventTypeForStatus(t *testing.T) {
	assert.Equal(t, EventTransactionAuthorized, EventTypeForStatus(models.TX_STATUS_AUTHORIZED))
	assert.Equal(t, EventTransactionRefunded, EventTypeForStatus(models.TX_STATUS_REFUNDED))
	assert.Equal(t, "", EventTypeForStatus(models.TX_STATUS_PENDING))
}
