package repository

import (
	"time"

	"github.com/payward/payward/app/models"
	"gorm.io/gorm"
)

// TransactionFilter narrows and pages transaction listings.
type TransactionFilter struct {
	Status   string
	Currency string
	Page     int
	Limit    int
	SortBy   string
}

// MerchantRepository defines the interface for merchant lookups
type MerchantRepository interface {
	Create(merchant *models.Merchant) error
	GetByID(id uint) (*models.Merchant, error)
	GetByAPIKeyHash(hash string) (*models.Merchant, error)
	TouchAPIKeyUsage(id uint, at time.Time) error
}

// TransactionRepository defines the interface for transaction persistence.
// Transact runs fn against a repository bound to a single database
// transaction so ledger mutations commit as one unit.
type TransactionRepository interface {
	Create(tx *models.Transaction) error
	GetByUUID(uuid string, merchantID uint) (*models.Transaction, error)
	GetByUUIDAny(uuid string) (*models.Transaction, error)
	GetByGatewayReference(referenceID string) (*models.Transaction, error)
	Update(tx *models.Transaction) error
	List(merchantID uint, filter TransactionFilter) ([]models.Transaction, int64, error)
	Transact(fn func(repo TransactionRepository) error) error
}

// IdempotencyRepository defines the interface for idempotency records
type IdempotencyRepository interface {
	CreateIfAbsent(record *models.IdempotencyRecord) (bool, *models.IdempotencyRecord, error)
	GetActive(key string, merchantID uint, now time.Time) (*models.IdempotencyRecord, error)
	DeleteExpired(now time.Time) (int64, error)
}

// WebhookRepository defines the interface for webhook configs and the
// per-attempt delivery log
type WebhookRepository interface {
	CreateConfig(config *models.WebhookConfig) error
	GetConfigByID(id uint, merchantID uint) (*models.WebhookConfig, error)
	GetConfigByIDAny(id uint) (*models.WebhookConfig, error)
	ListConfigsByMerchant(merchantID uint, activeOnly bool) ([]models.WebhookConfig, error)
	DeleteConfig(id uint, merchantID uint) error
	CreateEvent(event *models.WebhookEvent) error
	ListDueEvents(now time.Time, maxAttempts int, limit int) ([]models.WebhookEvent, error)
	HasNewerAttempt(event *models.WebhookEvent) (bool, error)
}

// Repositories struct holds all repository instances
type Repositories struct {
	Merchant    MerchantRepository
	Transaction TransactionRepository
	Idempotency IdempotencyRepository
	Webhook     WebhookRepository
}

// NewRepositories creates a new instance of all repositories
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		Merchant:    NewMerchantRepository(db),
		Transaction: NewTransactionRepository(db),
		Idempotency: NewIdempotencyRepository(db),
		Webhook:     NewWebhookRepository(db),
	}
}
