package repository

import (
	"time"

	"github.com/payward/payward/app/models"
	"gorm.io/gorm"
)

type webhookRepository struct {
	db *gorm.DB
}

// NewWebhookRepository creates a webhook repository backed by GORM.
func NewWebhookRepository(db *gorm.DB) WebhookRepository {
	return &webhookRepository{db: db}
}

func (r *webhookRepository) CreateConfig(config *models.WebhookConfig) error {
	return r.db.Create(config).Error
}

func (r *webhookRepository) GetConfigByID(id uint, merchantID uint) (*models.WebhookConfig, error) {
	var config models.WebhookConfig
	err := r.db.Where("id = ? AND merchant_id = ?", id, merchantID).First(&config).Error
	if err != nil {
		return nil, err
	}
	return &config, nil
}

func (r *webhookRepository) GetConfigByIDAny(id uint) (*models.WebhookConfig, error) {
	var config models.WebhookConfig
	err := r.db.Where("id = ?", id).First(&config).Error
	if err != nil {
		return nil, err
	}
	return &config, nil
}

func (r *webhookRepository) ListConfigsByMerchant(merchantID uint, activeOnly bool) ([]models.WebhookConfig, error) {
	q := r.db.Where("merchant_id = ?", merchantID)
	if activeOnly {
		q = q.Where("is_active = ?", true)
	}
	var configs []models.WebhookConfig
	err := q.Order("id ASC").Find(&configs).Error
	return configs, err
}

// DeleteConfig removes a config and its delivery history in one unit.
func (r *webhookRepository) DeleteConfig(id uint, merchantID uint) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		var config models.WebhookConfig
		if err := tx.Where("id = ? AND merchant_id = ?", id, merchantID).First(&config).Error; err != nil {
			return err
		}
		if err := tx.Where("webhook_config_id = ?", config.ID).Delete(&models.WebhookEvent{}).Error; err != nil {
			return err
		}
		return tx.Delete(&config).Error
	})
}

func (r *webhookRepository) CreateEvent(event *models.WebhookEvent) error {
	return r.db.Create(event).Error
}

func (r *webhookRepository) ListDueEvents(now time.Time, maxAttempts int, limit int) ([]models.WebhookEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	var events []models.WebhookEvent
	err := r.db.
		Where("success = ? AND attempt_count < ? AND next_attempt_at IS NOT NULL AND next_attempt_at <= ?", false, maxAttempts, now).
		Order("next_attempt_at ASC").
		Limit(limit).
		Find(&events).Error
	return events, err
}

// HasNewerAttempt reports whether a later attempt row already exists for
// the same config and payload, so the retry worker never double-delivers
// an event that a previous sweep already retried.
func (r *webhookRepository) HasNewerAttempt(event *models.WebhookEvent) (bool, error) {
	var count int64
	err := r.db.Model(&models.WebhookEvent{}).
		Where("webhook_config_id = ? AND event_type = ? AND payload_json = ? AND attempt_count > ?",
			event.WebhookConfigID, event.EventType, event.PayloadJSON, event.AttemptCount).
		Count(&count).Error
	return count > 0, err
}
