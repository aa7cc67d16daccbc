package repository

import (
	"time"

	"github.com/payward/payward/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type idempotencyRepository struct {
	db *gorm.DB
}

// NewIdempotencyRepository creates an idempotency repository backed by GORM.
func NewIdempotencyRepository(db *gorm.DB) IdempotencyRepository {
	return &idempotencyRepository{db: db}
}

// CreateIfAbsent inserts the record unless a row for (key, merchant_id)
// already exists. The uniqueness constraint, not a prior read, decides the
// winner, so concurrent duplicates collapse to a single stored response.
func (r *idempotencyRepository) CreateIfAbsent(record *models.IdempotencyRecord) (bool, *models.IdempotencyRecord, error) {
	tx := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "key"},
			{Name: "merchant_id"},
		},
		DoNothing: true,
	}).Create(record)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	var stored models.IdempotencyRecord
	if err := r.db.Where("`key` = ? AND merchant_id = ?", record.Key, record.MerchantID).
		First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

func (r *idempotencyRepository) GetActive(key string, merchantID uint, now time.Time) (*models.IdempotencyRecord, error) {
	var record models.IdempotencyRecord
	err := r.db.Where("`key` = ? AND merchant_id = ? AND expires_at > ?", key, merchantID, now).
		First(&record).Error
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (r *idempotencyRepository) DeleteExpired(now time.Time) (int64, error) {
	tx := r.db.Where("expires_at <= ?", now).Delete(&models.IdempotencyRecord{})
	return tx.RowsAffected, tx.Error
}
