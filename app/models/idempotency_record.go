package models

import "time"

// IdempotencyRecordTTL is the retention window for cached responses.
const IdempotencyRecordTTL = 24 * time.Hour

// IdempotencyRecord stores the response produced for a (key, merchant)
// pair so retransmissions replay instead of re-executing. Rows are
// immutable once written; expiry-based removal is the only mutation.
type IdempotencyRecord struct {
	ID                 uint      `gorm:"primaryKey" json:"id"`
	Key                string    `gorm:"type:varchar(191);not null;index:ux_idempotency_key_merchant,unique,priority:1" json:"key"`
	MerchantID         uint      `gorm:"not null;index:ux_idempotency_key_merchant,unique,priority:2;index" json:"merchant_id"`
	RequestHash        string    `gorm:"type:char(64);not null" json:"request_hash"`
	RequestMethod      string    `gorm:"type:varchar(10);not null" json:"request_method"`
	RequestPath        string    `gorm:"type:varchar(255);not null" json:"request_path"`
	RequestBody        string    `gorm:"type:longtext" json:"request_body"`
	ResponseStatusCode int       `gorm:"not null" json:"response_status_code"`
	ResponseBody       string    `gorm:"type:longtext" json:"response_body"`
	ExpiresAt          time.Time `gorm:"not null;index" json:"expires_at"`
	CreatedAt          time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// IsExpired reports whether the record fell out of the retention window.
func (r *IdempotencyRecord) IsExpired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}
