package models

import (
	"encoding/json"
	"time"

	"github.com/go-playground/validator/v10"
)

// WebhookConfig is a merchant-registered endpoint for outbound event
// notifications. Deleting a config cascades its delivery history.
type WebhookConfig struct {
	ID                  uint      `gorm:"primaryKey" json:"id"`
	MerchantID          uint      `gorm:"not null;index" json:"merchant_id"`
	URL                 string    `gorm:"type:varchar(2048);not null" json:"url" validate:"required,url"`
	Secret              string    `gorm:"type:varchar(191);not null" json:"-" validate:"required,min=16"`
	IsActive            bool      `gorm:"default:true;index" json:"is_active"`
	SubscribedEventsRaw string    `gorm:"type:text" json:"-"`
	CreatedAt           time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt           time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (w *WebhookConfig) Validate() error {
	v := validator.New()

	return v.Struct(w)
}

// SubscribedEventTypes decodes the stored event type set. An empty or
// unreadable column means "all events".
func (w *WebhookConfig) SubscribedEventTypes() []string {
	if w.SubscribedEventsRaw == "" {
		return nil
	}
	var types []string
	if err := json.Unmarshal([]byte(w.SubscribedEventsRaw), &types); err != nil {
		return nil
	}
	return types
}

// SetSubscribedEventTypes encodes the event type set for storage.
func (w *WebhookConfig) SetSubscribedEventTypes(types []string) error {
	if len(types) == 0 {
		w.SubscribedEventsRaw = ""
		return nil
	}
	raw, err := json.Marshal(types)
	if err != nil {
		return err
	}
	w.SubscribedEventsRaw = string(raw)
	return nil
}
