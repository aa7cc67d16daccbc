package merchantcontext

// Shared Locals keys used across controllers and middlewares
const (
	ContextKey    = "MERCHANT_CONTEXT"
	KeyMerchantID = "merchant_id"
)
