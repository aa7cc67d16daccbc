package repository

import (
	"strings"

	"github.com/payward/payward/app/models"
	"gorm.io/gorm"
)

type transactionRepository struct {
	db *gorm.DB
}

// NewTransactionRepository creates a transaction repository backed by GORM.
func NewTransactionRepository(db *gorm.DB) TransactionRepository {
	return &transactionRepository{db: db}
}

func (r *transactionRepository) Create(tx *models.Transaction) error {
	return r.db.Create(tx).Error
}

func (r *transactionRepository) GetByUUID(uuid string, merchantID uint) (*models.Transaction, error) {
	var tx models.Transaction
	err := r.db.Where("uuid = ? AND merchant_id = ?", uuid, merchantID).First(&tx).Error
	if err != nil {
		return nil, err
	}
	return &tx, nil
}

func (r *transactionRepository) GetByUUIDAny(uuid string) (*models.Transaction, error) {
	var tx models.Transaction
	err := r.db.Where("uuid = ?", uuid).First(&tx).Error
	if err != nil {
		return nil, err
	}
	return &tx, nil
}

func (r *transactionRepository) GetByGatewayReference(referenceID string) (*models.Transaction, error) {
	var tx models.Transaction
	err := r.db.Where("gateway_reference_id = ?", referenceID).First(&tx).Error
	if err != nil {
		return nil, err
	}
	return &tx, nil
}

func (r *transactionRepository) Update(tx *models.Transaction) error {
	return r.db.Save(tx).Error
}

// sortColumns whitelists sort_by values so user input never reaches ORDER BY
// verbatim.
var sortColumns = map[string]string{
	"created_at": "created_at",
	"updated_at": "updated_at",
	"amount":     "amount",
	"status":     "status",
}

func (r *transactionRepository) List(merchantID uint, filter TransactionFilter) ([]models.Transaction, int64, error) {
	q := r.db.Model(&models.Transaction{}).Where("merchant_id = ?", merchantID)
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if filter.Currency != "" {
		q = q.Where("currency = ?", strings.ToUpper(filter.Currency))
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	limit := filter.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	page := filter.Page
	if page <= 0 {
		page = 1
	}
	sortBy, ok := sortColumns[filter.SortBy]
	if !ok {
		sortBy = "created_at"
	}

	var txs []models.Transaction
	err := q.Order(sortBy + " DESC").Offset((page - 1) * limit).Limit(limit).Find(&txs).Error
	return txs, total, err
}

func (r *transactionRepository) Transact(fn func(repo TransactionRepository) error) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		return fn(&transactionRepository{db: tx})
	})
}
