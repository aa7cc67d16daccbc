package controllers

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/payward/payward/app/models"
	"github.com/payward/payward/app/repository"
	"github.com/payward/payward/internal/pkg/apperrors"
	"github.com/payward/payward/internal/pkg/idempotency"
	"github.com/payward/payward/internal/pkg/ledger"
	"github.com/payward/payward/internal/pkg/merchantcontext"
	"github.com/payward/payward/internal/pkg/metrics/counter"
	"github.com/payward/payward/internal/pkg/webhook"
)

// IdempotencyKeyHeader carries the caller-chosen key that makes payment
// requests safe to retry.
const IdempotencyKeyHeader = "X-Idempotency-Key"

// TransactionController exposes the payment lifecycle over HTTP. Every
// handler expects APIKeyAuthMiddleware to have resolved the merchant first.
type TransactionController struct {
	ledger     *ledger.Service
	guard      *idempotency.Guard
	dispatcher *webhook.Dispatcher
}

func NewTransactionController(svc *ledger.Service, guard *idempotency.Guard, dispatcher *webhook.Dispatcher) *TransactionController {
	return &TransactionController{
		ledger:     svc,
		guard:      guard,
		dispatcher: dispatcher,
	}
}

type amountRequest struct {
	Amount *int64 `json:"amount"`
}

// HandleProcess authorizes a new payment. The idempotency key header is
// mandatory here: replays return the stored response with 200, a reused key
// with a different body is rejected with 409.
func (tc *TransactionController) HandleProcess(c *fiber.Ctx) error {
	merchant := merchantcontext.GetMerchantContext(c)
	if !merchant.IsAuthenticated {
		return respondError(c, apperrors.Auth("merchant authentication required"))
	}

	key := c.Get(IdempotencyKeyHeader)
	if key == "" {
		return respondError(c, apperrors.Validation("missing "+IdempotencyKeyHeader+" header"))
	}

	body := c.Body()
	cached, err := tc.guard.Check(key, merchant.MerchantID, c.Method(), c.Path(), body)
	if err != nil {
		return respondError(c, err)
	}
	if cached != nil {
		c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
		return c.Status(fiber.StatusOK).SendString(cached.Body)
	}

	var input ledger.ProcessInput
	if err := json.Unmarshal(body, &input); err != nil {
		return respondError(c, apperrors.Validation("invalid request body"))
	}
	input.IdempotencyKey = key

	tx, procErr := tc.ledger.Process(c.UserContext(), merchant.MerchantID, input)
	if procErr != nil {
		// A declined authorization is a completed outcome: record the exact
		// error response under the key so a retry replays the decline
		// instead of re-charging the customer.
		if tx != nil && apperrors.HasCode(procErr, apperrors.CodeGatewayAuthorize) {
			appErr := apperrors.From(procErr)
			errBody, merr := json.Marshal(fiber.Map{"error": appErr.Code, "message": appErr.Message})
			if merr == nil {
				if err := tc.guard.Save(key, merchant.MerchantID, c.Method(), c.Path(), body, appErr.Status, errBody); err != nil {
					log.Warnf("[Transactions] failed to record declined response for key %s: %v", key, err)
				}
			}
			tc.notify(merchant.MerchantID, tx)
		}
		return respondError(c, procErr)
	}

	respBody := tc.recordOutcome(key, merchant.MerchantID, c.Method(), c.Path(), body, fiber.StatusCreated, tx)
	c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	return c.Status(fiber.StatusCreated).Send(respBody)
}

// HandleCapture collects an authorized amount.
func (tc *TransactionController) HandleCapture(c *fiber.Ctx) error {
	return tc.handleFollowUp(c, tc.ledger.Capture)
}

// HandleRefund returns captured money to the customer.
func (tc *TransactionController) HandleRefund(c *fiber.Ctx) error {
	return tc.handleFollowUp(c, tc.ledger.Refund)
}

// handleFollowUp runs capture and refund, which share their request shape
// and replay rules. The idempotency header is optional on follow-up
// operations but honored when present; gateway faults are never recorded so
// a retry actually retries.
func (tc *TransactionController) handleFollowUp(c *fiber.Ctx, op func(ctx context.Context, merchantID uint, txUUID string, amount *int64) (*models.Transaction, error)) error {
	merchant := merchantcontext.GetMerchantContext(c)
	if !merchant.IsAuthenticated {
		return respondError(c, apperrors.Auth("merchant authentication required"))
	}

	txUUID := c.Params("id")
	body := c.Body()

	key := c.Get(IdempotencyKeyHeader)
	if key != "" {
		cached, err := tc.guard.Check(key, merchant.MerchantID, c.Method(), c.Path(), body)
		if err != nil {
			return respondError(c, err)
		}
		if cached != nil {
			c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
			return c.Status(fiber.StatusOK).SendString(cached.Body)
		}
	}

	var req amountRequest
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			return respondError(c, apperrors.Validation("invalid request body"))
		}
	}

	tx, opErr := op(c.UserContext(), merchant.MerchantID, txUUID, req.Amount)
	if opErr != nil {
		if tx != nil && tx.Status == models.TX_STATUS_FAILED {
			tc.notify(merchant.MerchantID, tx)
		}
		return respondError(c, opErr)
	}

	respBody, err := json.Marshal(tx)
	if err != nil {
		return respondError(c, apperrors.Internal("failed to encode transaction", err))
	}
	if key != "" {
		if err := tc.guard.Save(key, merchant.MerchantID, c.Method(), c.Path(), body, fiber.StatusOK, respBody); err != nil {
			log.Warnf("[Transactions] failed to record idempotent response for key %s: %v", key, err)
		}
	}
	tc.notify(merchant.MerchantID, tx)

	c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	return c.Status(fiber.StatusOK).Send(respBody)
}

// HandleGet returns a single transaction scoped to the calling merchant.
func (tc *TransactionController) HandleGet(c *fiber.Ctx) error {
	merchant := merchantcontext.GetMerchantContext(c)
	if !merchant.IsAuthenticated {
		return respondError(c, apperrors.Auth("merchant authentication required"))
	}

	tx, err := tc.ledger.Get(merchant.MerchantID, c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(tx)
}

// HandleList returns the merchant's transactions with optional status and
// currency filters plus pagination.
func (tc *TransactionController) HandleList(c *fiber.Ctx) error {
	merchant := merchantcontext.GetMerchantContext(c)
	if !merchant.IsAuthenticated {
		return respondError(c, apperrors.Auth("merchant authentication required"))
	}

	filter := repository.TransactionFilter{
		Status:   c.Query("status"),
		Currency: c.Query("currency"),
		SortBy:   c.Query("sortBy"),
	}
	if page, err := strconv.Atoi(c.Query("page", "1")); err == nil {
		filter.Page = page
	}
	if limit, err := strconv.Atoi(c.Query("limit", "20")); err == nil {
		filter.Limit = limit
	}

	if filter.Status != "" && !models.IsValidStatus(filter.Status) {
		return respondError(c, apperrors.Validation("unknown status filter "+filter.Status))
	}

	txs, total, err := tc.ledger.List(merchant.MerchantID, filter)
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(fiber.Map{
		"data": txs,
		"meta": fiber.Map{
			"page":  filter.Page,
			"limit": filter.Limit,
			"total": total,
		},
	})
}

// recordOutcome marshals the final transaction state, stores it under the
// idempotency key and hands the matching event to the webhook dispatcher.
// The returned bytes are exactly what replays will see.
func (tc *TransactionController) recordOutcome(key string, merchantID uint, method, path string, requestBody []byte, statusCode int, tx *models.Transaction) []byte {
	respBody, err := json.Marshal(tx)
	if err != nil {
		log.Errorf("[Transactions] failed to encode transaction %s: %v", tx.UUID, err)
		respBody = []byte(`{}`)
	}
	if err := tc.guard.Save(key, merchantID, method, path, requestBody, statusCode, respBody); err != nil {
		log.Warnf("[Transactions] failed to record idempotent response for key %s: %v", key, err)
	}
	tc.notify(merchantID, tx)
	return respBody
}

// notify dispatches the lifecycle event for the transaction's current
// status off the request path. Delivery results are persisted by the
// dispatcher and never affect the API response.
func (tc *TransactionController) notify(merchantID uint, tx *models.Transaction) {
	if err := counter.AddTransactionOutcome(tx.Status); err != nil {
		log.Debugf("[Transactions] failed to bump outcome counter: %v", err)
	}
	eventType := webhook.EventTypeForStatus(tx.Status)
	if eventType == "" {
		return
	}
	data := webhook.TransactionEventData(tx)
	go tc.dispatcher.Dispatch(merchantID, tx.UUID, eventType, data)
}
