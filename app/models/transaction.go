package models

import (
	"time"

	"github.com/go-playground/validator/v10"
	"gorm.io/gorm"
)

const (
	TX_STATUS_PENDING            = "pending"
	TX_STATUS_AUTHORIZED         = "authorized"
	TX_STATUS_CAPTURED           = "captured"
	TX_STATUS_PARTIALLY_REFUNDED = "partially_refunded"
	TX_STATUS_REFUNDED           = "refunded"
	TX_STATUS_FAILED             = "failed"
	TX_STATUS_VOIDED             = "voided"
	TX_STATUS_DISPUTED           = "disputed"
)

// transactionTransitions is the authoritative lifecycle table. A status with
// an empty target set is terminal.
var transactionTransitions = map[string][]string{
	TX_STATUS_PENDING:            {TX_STATUS_AUTHORIZED, TX_STATUS_FAILED},
	TX_STATUS_AUTHORIZED:         {TX_STATUS_CAPTURED, TX_STATUS_VOIDED, TX_STATUS_FAILED},
	TX_STATUS_CAPTURED:           {TX_STATUS_REFUNDED, TX_STATUS_PARTIALLY_REFUNDED, TX_STATUS_DISPUTED},
	TX_STATUS_PARTIALLY_REFUNDED: {TX_STATUS_REFUNDED},
	TX_STATUS_REFUNDED:           {},
	TX_STATUS_FAILED:             {},
	TX_STATUS_VOIDED:             {},
	TX_STATUS_DISPUTED:           {},
}

// CanTransition reports whether the lifecycle table allows moving a
// transaction from one status to another.
func CanTransition(from, to string) bool {
	targets, ok := transactionTransitions[from]
	if !ok {
		return false
	}
	for _, t := range targets {
		if t == to {
			return true
		}
	}
	return false
}

// IsTerminalStatus reports whether a status has no outgoing transitions.
func IsTerminalStatus(status string) bool {
	targets, ok := transactionTransitions[status]
	return ok && len(targets) == 0
}

// IsValidStatus reports whether the status appears in the lifecycle table.
func IsValidStatus(status string) bool {
	_, ok := transactionTransitions[status]
	return ok
}

// Transaction is a single payment run through the
// authorize/capture/refund lifecycle. Amounts are integer minor currency
// units; amount_captured never exceeds amount and amount_refunded never
// exceeds amount_captured.
type Transaction struct {
	ID                  uint           `gorm:"primaryKey" json:"-"`
	UUID                string         `gorm:"type:char(36);uniqueIndex" json:"id"`
	MerchantID          uint           `gorm:"not null;index" json:"merchant_id"`
	Amount              int64          `gorm:"not null" json:"amount" validate:"gt=0"`
	Currency            string         `gorm:"type:char(3);not null" json:"currency" validate:"len=3"`
	Status              string         `gorm:"type:varchar(30);not null;default:'pending';index" json:"status"`
	PaymentMethodType   string         `gorm:"type:varchar(50)" json:"payment_method_type"`
	GatewayReferenceID  string         `gorm:"type:varchar(191);index" json:"gateway_reference_id"`
	AmountCaptured      int64          `gorm:"not null;default:0" json:"amount_captured"`
	AmountRefunded      int64          `gorm:"not null;default:0" json:"amount_refunded"`
	IdempotencyKey      string         `gorm:"type:varchar(191)" json:"idempotency_key,omitempty"`
	GatewayResponseJSON string         `gorm:"type:longtext" json:"-"`
	FailureReason       string         `gorm:"type:text" json:"failure_reason,omitempty"`
	CustomerID          string         `gorm:"type:varchar(191)" json:"customer_id,omitempty"`
	Description         string         `gorm:"type:text" json:"description,omitempty"`
	MetadataJSON        string         `gorm:"type:longtext" json:"-"`
	CreatedAt           time.Time      `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt           time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt           gorm.DeletedAt `gorm:"index" json:"-"`
}

func (t *Transaction) Validate() error {
	v := validator.New()

	return v.Struct(t)
}

// CapturableAmount returns how much of the authorization is still open.
func (t *Transaction) CapturableAmount() int64 {
	return t.Amount - t.AmountCaptured
}

// RefundableAmount returns how much captured money can still be returned.
func (t *Transaction) RefundableAmount() int64 {
	return t.AmountCaptured - t.AmountRefunded
}
