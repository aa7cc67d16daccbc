package repository

import (
	"time"

	"github.com/payward/payward/app/models"
	"gorm.io/gorm"
)

type merchantRepository struct {
	db *gorm.DB
}

// NewMerchantRepository creates a merchant repository backed by GORM.
func NewMerchantRepository(db *gorm.DB) MerchantRepository {
	return &merchantRepository{db: db}
}

func (r *merchantRepository) Create(merchant *models.Merchant) error {
	return r.db.Create(merchant).Error
}

func (r *merchantRepository) GetByID(id uint) (*models.Merchant, error) {
	var merchant models.Merchant
	err := r.db.First(&merchant, id).Error
	if err != nil {
		return nil, err
	}
	return &merchant, nil
}

func (r *merchantRepository) GetByAPIKeyHash(hash string) (*models.Merchant, error) {
	var merchant models.Merchant
	err := r.db.Where("api_key_hash = ?", hash).First(&merchant).Error
	if err != nil {
		return nil, err
	}
	return &merchant, nil
}

func (r *merchantRepository) TouchAPIKeyUsage(id uint, at time.Time) error {
	return r.db.Model(&models.Merchant{}).
		Where("id = ?", id).
		Updates(map[string]any{"api_key_last_used_at": at}).Error
}
