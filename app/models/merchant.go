package models

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const (
	MERCHANT_STATUS_ACTIVE   = "active"
	MERCHANT_STATUS_DISABLED = "disabled"
)

// Merchant is the account an API key resolves to. Account management itself
// lives outside this service; rows here exist so requests can be
// authenticated and scoped.
type Merchant struct {
	ID               uint           `gorm:"primaryKey" json:"id"`
	Name             string         `gorm:"type:varchar(150)" json:"name" validate:"required,min=3,max=150"`
	Email            string         `gorm:"uniqueIndex;type:varchar(200)" json:"email" validate:"required,email,min=5,max=200"`
	SecretHash       string         `gorm:"type:text" json:"-"`
	APIKeyHash       string         `gorm:"type:char(64);uniqueIndex" json:"-"`
	APIKeyLastUsedAt *time.Time     `gorm:"type:timestamp;default:null" json:"api_key_last_used_at"`
	Status           string         `gorm:"type:varchar(50);default:'active'" json:"status" validate:"oneof=active disabled"`
	CreatedAt        time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt        gorm.DeletedAt `gorm:"index" json:"-"`
}

func (m *Merchant) Validate() error {
	v := validator.New()

	return v.Struct(m)
}

// IsActive reports whether the merchant may call the API.
func (m *Merchant) IsActive() bool {
	return m.Status == MERCHANT_STATUS_ACTIVE
}

// SetSecret hashes and stores the dashboard secret.
func (m *Merchant) SetSecret(secret string) error {
	bytes, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	m.SecretHash = string(bytes)
	return nil
}

// CheckSecret compares the given secret with the stored hash.
func (m *Merchant) CheckSecret(secret string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(m.SecretHash), []byte(secret))

	return err == nil
}

// HashAPIKey returns the SHA-256 hash for the provided API key.
func HashAPIKey(raw string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(raw)))
	return hex.EncodeToString(sum[:])
}

// GenerateAPIKey creates a new random API key, stores its hash on the
// merchant and returns the plaintext key. The plaintext is never persisted.
func (m *Merchant) GenerateAPIKey() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	rawKey := "pw_" + hex.EncodeToString(b)
	m.APIKeyHash = HashAPIKey(rawKey)
	return rawKey, nil
}
