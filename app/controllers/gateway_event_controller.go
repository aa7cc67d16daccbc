package controllers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/payward/payward/app/models"
	"github.com/payward/payward/internal/pkg/ledger"
	"github.com/payward/payward/internal/pkg/metrics/counter"
)

// GatewaySignatureHeader authenticates inbound gateway notifications.
// Only presence is checked: the simulated gateway does not share a
// verification secret, so full signature validation is a known gap.
const GatewaySignatureHeader = "X-Gateway-Signature"

// GatewayEventController receives asynchronous status notifications from
// the payment gateway and folds them into the ledger.
type GatewayEventController struct {
	ledger *ledger.Service
}

func NewGatewayEventController(svc *ledger.Service) *GatewayEventController {
	return &GatewayEventController{ledger: svc}
}

type gatewayEventRequest struct {
	EventType string           `json:"event_type"`
	Data      gatewayEventData `json:"data"`
}

type gatewayEventData struct {
	TransactionID string                 `json:"transaction_id"`
	Status        string                 `json:"status"`
	Metadata      map[string]interface{} `json:"metadata"`
}

// ourRef extracts the correlation id we attached when calling the gateway.
func (d gatewayEventData) ourRef() string {
	if d.Metadata == nil {
		return ""
	}
	ref, _ := d.Metadata["our_ref"].(string)
	return ref
}

// HandleGatewayEvent acknowledges every well-formed notification with 200,
// even ones it cannot apply. The gateway retries non-2xx responses forever,
// so rejecting unknown event types would only generate noise.
func (gc *GatewayEventController) HandleGatewayEvent(c *fiber.Ctx) error {
	if c.Get(GatewaySignatureHeader) == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing gateway signature"})
	}

	var req gatewayEventRequest
	if err := c.BodyParser(&req); err != nil || req.EventType == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "validation_error", "message": "Malformed event payload"})
	}

	if err := counter.AddGatewayEvent(req.EventType); err != nil {
		log.Debugf("[GatewayEvents] failed to bump event counter: %v", err)
	}

	if status, ok := mapGatewayEvent(req.EventType, req.Data.Status); ok {
		gc.applyEvent(req, status)
	} else {
		log.Infof("[GatewayEvents] ignoring unknown event type %s (status %s)", req.EventType, req.Data.Status)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"received":   true,
		"event_type": req.EventType,
	})
}

func (gc *GatewayEventController) applyEvent(req gatewayEventRequest, status string) {
	ourRef := req.Data.ourRef()
	if ourRef == "" {
		// Some gateways omit echoed metadata on async events. Fall back to
		// resolving by the gateway's own transaction id.
		if req.Data.TransactionID == "" {
			log.Warnf("[GatewayEvents] event %s carries no transaction reference", req.EventType)
			return
		}
		tx, err := gc.ledger.ResolveGatewayReference(req.Data.TransactionID)
		if err != nil {
			log.Warnf("[GatewayEvents] event %s references unknown gateway transaction %s: %v", req.EventType, req.Data.TransactionID, err)
			return
		}
		ourRef = tx.UUID
	}

	raw := map[string]interface{}{
		"gateway_transaction_id": req.Data.TransactionID,
		"gateway_event_type":     req.EventType,
	}
	if _, err := gc.ledger.ApplyExternalStatus(ourRef, status, raw); err != nil {
		log.Warnf("[GatewayEvents] could not apply %s to transaction %s: %v", status, ourRef, err)
	}
}

// mapGatewayEvent translates the gateway's event vocabulary into ledger
// statuses. payment_succeeded is ambiguous and disambiguated by the status
// field the gateway sends alongside it.
func mapGatewayEvent(eventType, status string) (string, bool) {
	switch eventType {
	case "payment_succeeded":
		switch status {
		case models.TX_STATUS_CAPTURED:
			return models.TX_STATUS_CAPTURED, true
		case models.TX_STATUS_AUTHORIZED:
			return models.TX_STATUS_AUTHORIZED, true
		}
		return "", false
	case "payment_failed":
		return models.TX_STATUS_FAILED, true
	case "charge_refunded":
		return models.TX_STATUS_REFUNDED, true
	case "charge_disputed":
		return models.TX_STATUS_DISPUTED, true
	}
	return "", false
}
