package controllers

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/payward/payward/app/models"
	"github.com/payward/payward/app/repository"
	"github.com/payward/payward/internal/pkg/gateway"
	"github.com/payward/payward/internal/pkg/idempotency"
	"github.com/payward/payward/internal/pkg/ledger"
	"github.com/payward/payward/internal/pkg/merchantcontext"
	"github.com/payward/payward/internal/pkg/webhook"
)

const testMerchantID uint = 1

// memTxRepo is an in-memory TransactionRepository for handler tests.
type memTxRepo struct {
	mu     sync.Mutex
	nextID uint
	byUUID map[string]*models.Transaction
}

func newMemTxRepo() *memTxRepo {
	return &memTxRepo{byUUID: map[string]*models.Transaction{}}
}

func copyTx(tx *models.Transaction) *models.Transaction {
	cp := *tx
	return &cp
}

func (r *memTxRepo) Create(tx *models.Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	tx.ID = r.nextID
	tx.CreatedAt = time.Now()
	r.byUUID[tx.UUID] = copyTx(tx)
	return nil
}

func (r *memTxRepo) GetByUUID(uuid string, merchantID uint) (*models.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tx, ok := r.byUUID[uuid]
	if !ok || tx.MerchantID != merchantID {
		return nil, gorm.ErrRecordNotFound
	}
	return copyTx(tx), nil
}

func (r *memTxRepo) GetByUUIDAny(uuid string) (*models.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tx, ok := r.byUUID[uuid]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return copyTx(tx), nil
}

func (r *memTxRepo) GetByGatewayReference(referenceID string) (*models.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, tx := range r.byUUID {
		if tx.GatewayReferenceID == referenceID {
			return copyTx(tx), nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *memTxRepo) Update(tx *models.Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byUUID[tx.UUID]; !ok {
		return gorm.ErrRecordNotFound
	}
	r.byUUID[tx.UUID] = copyTx(tx)
	return nil
}

func (r *memTxRepo) List(merchantID uint, filter repository.TransactionFilter) ([]models.Transaction, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Transaction
	for _, tx := range r.byUUID {
		if tx.MerchantID != merchantID {
			continue
		}
		if filter.Status != "" && tx.Status != filter.Status {
			continue
		}
		if filter.Currency != "" && tx.Currency != filter.Currency {
			continue
		}
		out = append(out, *copyTx(tx))
	}
	return out, int64(len(out)), nil
}

func (r *memTxRepo) Transact(fn func(repo repository.TransactionRepository) error) error {
	return fn(r)
}

// memIdemRepo is an in-memory IdempotencyRepository.
type memIdemRepo struct {
	mu      sync.Mutex
	nextID  uint
	records map[string]*models.IdempotencyRecord
}

func newMemIdemRepo() *memIdemRepo {
	return &memIdemRepo{records: map[string]*models.IdempotencyRecord{}}
}

func idemKey(key string, merchantID uint) string {
	return fmt.Sprintf("%d:%s", merchantID, key)
}

func (r *memIdemRepo) CreateIfAbsent(record *models.IdempotencyRecord) (bool, *models.IdempotencyRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := idemKey(record.Key, record.MerchantID)
	if existing, ok := r.records[k]; ok {
		cp := *existing
		return false, &cp, nil
	}
	r.nextID++
	record.ID = r.nextID
	cp := *record
	r.records[k] = &cp
	stored := *record
	return true, &stored, nil
}

func (r *memIdemRepo) GetActive(key string, merchantID uint, now time.Time) (*models.IdempotencyRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[idemKey(key, merchantID)]
	if !ok || !rec.ExpiresAt.After(now) {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *rec
	return &cp, nil
}

func (r *memIdemRepo) DeleteExpired(now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for k, rec := range r.records {
		if !rec.ExpiresAt.After(now) {
			delete(r.records, k)
			n++
		}
	}
	return n, nil
}

// memWebhookRepo is an in-memory WebhookRepository.
type memWebhookRepo struct {
	mu      sync.Mutex
	nextID  uint
	configs map[uint]*models.WebhookConfig
	events  []models.WebhookEvent
}

func newMemWebhookRepo() *memWebhookRepo {
	return &memWebhookRepo{configs: map[uint]*models.WebhookConfig{}}
}

func (r *memWebhookRepo) CreateConfig(config *models.WebhookConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	config.ID = r.nextID
	config.CreatedAt = time.Now()
	cp := *config
	r.configs[config.ID] = &cp
	return nil
}

func (r *memWebhookRepo) GetConfigByID(id uint, merchantID uint) (*models.WebhookConfig, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cfg, ok := r.configs[id]
	if !ok || cfg.MerchantID != merchantID {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *cfg
	return &cp, nil
}

func (r *memWebhookRepo) GetConfigByIDAny(id uint) (*models.WebhookConfig, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cfg, ok := r.configs[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *cfg
	return &cp, nil
}

func (r *memWebhookRepo) ListConfigsByMerchant(merchantID uint, activeOnly bool) ([]models.WebhookConfig, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.WebhookConfig
	for _, cfg := range r.configs {
		if cfg.MerchantID != merchantID {
			continue
		}
		if activeOnly && !cfg.IsActive {
			continue
		}
		out = append(out, *cfg)
	}
	return out, nil
}

func (r *memWebhookRepo) DeleteConfig(id uint, merchantID uint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cfg, ok := r.configs[id]
	if !ok || cfg.MerchantID != merchantID {
		return gorm.ErrRecordNotFound
	}
	delete(r.configs, id)
	return nil
}

func (r *memWebhookRepo) CreateEvent(event *models.WebhookEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	event.ID = uint(len(r.events) + 1)
	r.events = append(r.events, *event)
	return nil
}

func (r *memWebhookRepo) ListDueEvents(now time.Time, maxAttempts int, limit int) ([]models.WebhookEvent, error) {
	return nil, nil
}

func (r *memWebhookRepo) HasNewerAttempt(event *models.WebhookEvent) (bool, error) {
	return false, nil
}

// stubGateway answers every call instantly with a fixed outcome.
type stubGateway struct {
	failing bool
	refSeq  int
	mu      sync.Mutex
}

func (g *stubGateway) result() *gateway.Result {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.refSeq++
	return &gateway.Result{
		Status:      "succeeded",
		ReferenceID: fmt.Sprintf("gw_ref_%d", g.refSeq),
		Raw:         map[string]interface{}{"outcome": "approved"},
	}
}

func (g *stubGateway) Authorize(ctx context.Context, req gateway.AuthorizeRequest) (*gateway.Result, error) {
	if g.failing {
		return nil, gateway.ErrDeclined
	}
	return g.result(), nil
}

func (g *stubGateway) Capture(ctx context.Context, referenceID string, amount int64, correlationID string) (*gateway.Result, error) {
	if g.failing {
		return nil, gateway.ErrDeclined
	}
	return g.result(), nil
}

func (g *stubGateway) Refund(ctx context.Context, referenceID string, amount int64, correlationID string) (*gateway.Result, error) {
	if g.failing {
		return nil, gateway.ErrDeclined
	}
	return g.result(), nil
}

func listAllFilter() repository.TransactionFilter {
	return repository.TransactionFilter{Page: 1, Limit: 100}
}

// testEnv bundles an app wired against in-memory repositories with a stub
// auth middleware standing in for the API key check.
type testEnv struct {
	app     *fiber.App
	txRepo  *memTxRepo
	gateway *stubGateway
	hooks   *memWebhookRepo
}

func newTestEnv() *testEnv {
	txRepo := newMemTxRepo()
	gw := &stubGateway{}
	hooks := newMemWebhookRepo()

	svc := ledger.NewService(txRepo, gw, ledger.PolicyPermissive, time.Second)
	guard := idempotency.NewGuard(newMemIdemRepo(), nil)
	dispatcher := webhook.NewDispatcher(hooks)

	tc := NewTransactionController(svc, guard, dispatcher)
	gc := NewGatewayEventController(svc)
	wc := NewWebhookConfigController(hooks)

	app := fiber.New()
	app.Post("/api/v1/webhooks/gateway-events", gc.HandleGatewayEvent)

	authed := app.Group("", func(c *fiber.Ctx) error {
		c.Locals(merchantcontext.ContextKey, merchantcontext.MerchantContext{
			MerchantID:      testMerchantID,
			Name:            "Test Merchant",
			IsAuthenticated: true,
		})
		return c.Next()
	})
	authed.Post("/api/v1/transactions/process", tc.HandleProcess)
	authed.Post("/api/v1/transactions/:id/capture", tc.HandleCapture)
	authed.Post("/api/v1/transactions/:id/refund", tc.HandleRefund)
	authed.Get("/api/v1/transactions/:id", tc.HandleGet)
	authed.Get("/api/v1/transactions", tc.HandleList)
	authed.Post("/api/v1/webhooks/configs", wc.HandleCreate)
	authed.Get("/api/v1/webhooks/configs", wc.HandleList)
	authed.Delete("/api/v1/webhooks/configs/:id", wc.HandleDelete)

	return &testEnv{app: app, txRepo: txRepo, gateway: gw, hooks: hooks}
}
