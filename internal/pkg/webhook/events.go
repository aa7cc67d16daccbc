package webhook

import "github.com/payward/payward/app/models"

// Event types delivered to merchant endpoints.
const (
	EventTransactionAuthorized        = "transaction.authorized"
	EventTransactionCaptured          = "transaction.captured"
	EventTransactionRefunded          = "transaction.refunded"
	EventTransactionPartiallyRefunded = "transaction.partially_refunded"
	EventTransactionFailed            = "transaction.failed"
	EventTransactionVoided            = "transaction.voided"
	EventTransactionDisputed          = "transaction.disputed"
)

var statusEventTypes = map[string]string{
	models.TX_STATUS_AUTHORIZED:         EventTransactionAuthorized,
	models.TX_STATUS_CAPTURED:           EventTransactionCaptured,
	models.TX_STATUS_REFUNDED:           EventTransactionRefunded,
	models.TX_STATUS_PARTIALLY_REFUNDED: EventTransactionPartiallyRefunded,
	models.TX_STATUS_FAILED:             EventTransactionFailed,
	models.TX_STATUS_VOIDED:             EventTransactionVoided,
	models.TX_STATUS_DISPUTED:           EventTransactionDisputed,
}

// EventTypeForStatus maps a transaction status to its outbound event type.
// The empty string means the status has no merchant-facing event.
func EventTypeForStatus(status string) string {
	return statusEventTypes[status]
}

// TransactionEventData builds the event payload for a transaction state
// change.
func TransactionEventData(tx *models.Transaction) map[string]interface{} {
	return map[string]interface{}{
		"status":          tx.Status,
		"amount":          tx.Amount,
		"currency":        tx.Currency,
		"amount_captured": tx.AmountCaptured,
		"amount_refunded": tx.AmountRefunded,
	}
}
