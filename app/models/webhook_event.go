package models

import "time"

// WebhookEvent records a single outbound delivery attempt. Exactly one row
// is written per config per dispatch, regardless of outcome, and rows are
// never mutated afterwards; retries produce new rows.
type WebhookEvent struct {
	ID                 uint          `gorm:"primaryKey" json:"id"`
	WebhookConfigID    uint          `gorm:"not null;index" json:"webhook_config_id"`
	WebhookConfig      WebhookConfig `gorm:"constraint:OnDelete:CASCADE" json:"-"`
	EventType          string        `gorm:"type:varchar(100);not null;index" json:"event_type"`
	PayloadJSON        string        `gorm:"type:longtext;not null" json:"payload_json"`
	ResponseStatusCode *int          `gorm:"default:null" json:"response_status_code,omitempty"`
	ResponseBody       string        `gorm:"type:text" json:"response_body"`
	Success            bool          `gorm:"default:false;index" json:"success"`
	ErrorMessage       string        `gorm:"type:text" json:"error_message"`
	AttemptCount       int           `gorm:"not null;default:1" json:"attempt_count"`
	LastAttemptedAt    time.Time     `gorm:"not null" json:"last_attempted_at"`
	NextAttemptAt      *time.Time    `gorm:"type:timestamp;default:null;index" json:"next_attempt_at,omitempty"`
	CreatedAt          time.Time     `gorm:"autoCreateTime" json:"created_at"`
}
