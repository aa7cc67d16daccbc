package merchantcontext

import "github.com/gofiber/fiber/v2"

// MerchantContext represents the authenticated merchant for a request
type MerchantContext struct {
	MerchantID      uint   `json:"merchant_id"`
	Name            string `json:"name"`
	IsAuthenticated bool   `json:"is_authenticated"`
}

// GetMerchantContext retrieves the merchant context from fiber context
// Returns an anonymous context if none is set
func GetMerchantContext(c *fiber.Ctx) MerchantContext {
	if ctx := c.Locals(ContextKey); ctx != nil {
		return ctx.(MerchantContext)
	}
	return MerchantContext{IsAuthenticated: false}
}

// IsAuthenticated checks if the current request carries a valid merchant
func IsAuthenticated(c *fiber.Ctx) bool {
	return GetMerchantContext(c).IsAuthenticated
}

// GetMerchantID returns the current merchant's ID, or 0 if unauthenticated
func GetMerchantID(c *fiber.Ctx) uint {
	return GetMerchantContext(c).MerchantID
}
