package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/payward/payward/app/models"
	"github.com/payward/payward/app/repository"
	"github.com/payward/payward/internal/pkg/apperrors"
	"github.com/payward/payward/internal/pkg/env"
	"github.com/payward/payward/internal/pkg/gateway"
)

// TransitionPolicy controls how externally reported statuses are enforced
// against the lifecycle table.
type TransitionPolicy string

const (
	// PolicyPermissive applies illegal transitions anyway and logs a
	// warning. This tolerates out-of-order events from the gateway at the
	// cost of trusting it over the local lifecycle table.
	PolicyPermissive TransitionPolicy = "permissive"
	// PolicyStrict rejects illegal transitions with a validation error.
	PolicyStrict TransitionPolicy = "strict"
)

// Service drives transactions through the authorize/capture/refund
// lifecycle and keeps the monetary bookkeeping consistent.
type Service struct {
	repo           repository.TransactionRepository
	gateway        gateway.Client
	policy         TransitionPolicy
	gatewayTimeout time.Duration
	validate       *validator.Validate
}

// NewService creates a ledger service from injected dependencies.
func NewService(repo repository.TransactionRepository, gw gateway.Client, policy TransitionPolicy, gatewayTimeout time.Duration) *Service {
	if policy != PolicyStrict {
		policy = PolicyPermissive
	}
	if gatewayTimeout <= 0 {
		gatewayTimeout = 15 * time.Second
	}
	return &Service{
		repo:           repo,
		gateway:        gw,
		policy:         policy,
		gatewayTimeout: gatewayTimeout,
		validate:       validator.New(),
	}
}

// NewServiceFromDB creates a ledger service from a GORM DB handle, reading
// the transition policy and gateway timeout from the environment.
func NewServiceFromDB(db *gorm.DB, gw gateway.Client) *Service {
	return NewService(repository.NewTransactionRepository(db), gw, PolicyFromEnv(), GatewayTimeoutFromEnv())
}

// PolicyFromEnv reads LEDGER_TRANSITION_POLICY, defaulting to permissive.
func PolicyFromEnv() TransitionPolicy {
	return TransitionPolicy(strings.ToLower(env.GetEnv("LEDGER_TRANSITION_POLICY", string(PolicyPermissive))))
}

// GatewayTimeoutFromEnv reads GATEWAY_TIMEOUT_MS, defaulting to 15 seconds.
func GatewayTimeoutFromEnv() time.Duration {
	timeoutMS, err := strconv.Atoi(env.GetEnv("GATEWAY_TIMEOUT_MS", "15000"))
	if err != nil || timeoutMS <= 0 {
		timeoutMS = 15000
	}
	return time.Duration(timeoutMS) * time.Millisecond
}

// ProcessInput is the validated payload for creating and authorizing a
// transaction.
type ProcessInput struct {
	Amount               int64                  `json:"amount" validate:"required,gt=0"`
	Currency             string                 `json:"currency" validate:"required,len=3,alpha"`
	PaymentMethodType    string                 `json:"payment_method_type" validate:"required"`
	PaymentMethodDetails map[string]interface{} `json:"payment_method_details"`
	CustomerID           string                 `json:"customer_id"`
	Description          string                 `json:"description"`
	Metadata             map[string]interface{} `json:"metadata"`
	IdempotencyKey       string                 `json:"-"`
}

// Process creates a pending transaction and runs the gateway authorization.
// On gateway failure the failed row is persisted AND an authorize error is
// returned; both the stored failure and the client-visible error are part
// of the contract.
func (s *Service) Process(ctx context.Context, merchantID uint, in ProcessInput) (*models.Transaction, error) {
	if err := s.validate.Struct(in); err != nil {
		return nil, apperrors.Validation(err.Error())
	}

	metadataJSON := ""
	if len(in.Metadata) > 0 {
		raw, err := json.Marshal(in.Metadata)
		if err != nil {
			return nil, apperrors.Validation("metadata is not serializable")
		}
		metadataJSON = string(raw)
	}

	tx := &models.Transaction{
		UUID:              uuid.New().String(),
		MerchantID:        merchantID,
		Amount:            in.Amount,
		Currency:          strings.ToUpper(in.Currency),
		Status:            models.TX_STATUS_PENDING,
		PaymentMethodType: in.PaymentMethodType,
		CustomerID:        in.CustomerID,
		Description:       in.Description,
		IdempotencyKey:    in.IdempotencyKey,
		MetadataJSON:      metadataJSON,
	}
	if err := s.repo.Create(tx); err != nil {
		return nil, apperrors.Internal("failed to create transaction", err)
	}

	gwCtx, cancel := context.WithTimeout(ctx, s.gatewayTimeout)
	defer cancel()

	res, err := s.gateway.Authorize(gwCtx, gateway.AuthorizeRequest{
		Amount:        tx.Amount,
		Currency:      tx.Currency,
		MethodType:    tx.PaymentMethodType,
		MethodDetails: in.PaymentMethodDetails,
		CorrelationID: tx.UUID,
	})
	if err != nil {
		tx.Status = models.TX_STATUS_FAILED
		tx.FailureReason = err.Error()
		if updateErr := s.repo.Update(tx); updateErr != nil {
			log.Errorf("[Ledger] failed to persist failed authorization for %s: %v", tx.UUID, updateErr)
		}
		return tx, apperrors.GatewayAuthorize("payment authorization failed", err)
	}

	tx.Status = models.TX_STATUS_AUTHORIZED
	tx.GatewayReferenceID = res.ReferenceID
	tx.GatewayResponseJSON = marshalRaw(res.Raw)
	if err := s.repo.Update(tx); err != nil {
		return nil, apperrors.Internal("failed to persist authorized transaction", err)
	}
	return tx, nil
}

// Capture collects some or all of an authorized amount. A nil amount
// captures the full authorization.
func (s *Service) Capture(ctx context.Context, merchantID uint, txUUID string, amount *int64) (*models.Transaction, error) {
	var result *models.Transaction
	var opErr error

	err := s.repo.Transact(func(repo repository.TransactionRepository) error {
		tx, err := repo.GetByUUID(txUUID, merchantID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				opErr = apperrors.NotFound("transaction not found")
				return nil
			}
			return err
		}

		if tx.Status != models.TX_STATUS_AUTHORIZED {
			opErr = apperrors.Validation("cannot capture transaction in status " + tx.Status)
			return nil
		}

		amt := tx.Amount
		if amount != nil {
			amt = *amount
		}
		if amt <= 0 {
			opErr = apperrors.Validation("capture amount must be positive")
			return nil
		}
		if amt > tx.Amount {
			opErr = apperrors.Validation("capture amount exceeds authorized amount")
			return nil
		}

		gwCtx, cancel := context.WithTimeout(ctx, s.gatewayTimeout)
		defer cancel()

		res, gwErr := s.gateway.Capture(gwCtx, tx.GatewayReferenceID, amt, tx.UUID)
		if gwErr != nil {
			// The reservation is in an unknown state at the gateway, so
			// this is a system fault, unlike a declined authorization.
			tx.Status = models.TX_STATUS_FAILED
			tx.FailureReason = gwErr.Error()
			if err := repo.Update(tx); err != nil {
				return err
			}
			result = tx
			opErr = apperrors.GatewayOperation("gateway capture failed", gwErr)
			return nil
		}

		tx.Status = models.TX_STATUS_CAPTURED
		tx.AmountCaptured += amt
		tx.GatewayResponseJSON = mergeRaw(tx.GatewayResponseJSON, res.Raw)
		if err := repo.Update(tx); err != nil {
			return err
		}
		result = tx
		return nil
	})
	if err != nil {
		return nil, apperrors.Internal("capture failed", err)
	}
	if opErr != nil {
		return result, opErr
	}
	return result, nil
}

// Refund returns some or all of the captured amount. A nil amount refunds
// everything still available.
func (s *Service) Refund(ctx context.Context, merchantID uint, txUUID string, amount *int64) (*models.Transaction, error) {
	var result *models.Transaction
	var opErr error

	err := s.repo.Transact(func(repo repository.TransactionRepository) error {
		tx, err := repo.GetByUUID(txUUID, merchantID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				opErr = apperrors.NotFound("transaction not found")
				return nil
			}
			return err
		}

		if tx.Status != models.TX_STATUS_CAPTURED && tx.Status != models.TX_STATUS_PARTIALLY_REFUNDED {
			opErr = apperrors.Validation("cannot refund transaction in status " + tx.Status)
			return nil
		}

		available := tx.RefundableAmount()
		amt := available
		if amount != nil {
			amt = *amount
		}
		if amt <= 0 {
			opErr = apperrors.Validation("refund amount must be positive")
			return nil
		}
		if amt > available {
			opErr = apperrors.Validation("refund amount exceeds available amount")
			return nil
		}

		gwCtx, cancel := context.WithTimeout(ctx, s.gatewayTimeout)
		defer cancel()

		res, gwErr := s.gateway.Refund(gwCtx, tx.GatewayReferenceID, amt, tx.UUID)
		if gwErr != nil {
			tx.FailureReason = gwErr.Error()
			if err := repo.Update(tx); err != nil {
				return err
			}
			result = tx
			opErr = apperrors.GatewayOperation("gateway refund failed", gwErr)
			return nil
		}

		tx.AmountRefunded += amt
		if tx.AmountRefunded == tx.AmountCaptured {
			tx.Status = models.TX_STATUS_REFUNDED
		} else {
			tx.Status = models.TX_STATUS_PARTIALLY_REFUNDED
		}
		tx.GatewayResponseJSON = mergeRaw(tx.GatewayResponseJSON, res.Raw)
		if err := repo.Update(tx); err != nil {
			return err
		}
		result = tx
		return nil
	})
	if err != nil {
		return nil, apperrors.Internal("refund failed", err)
	}
	if opErr != nil {
		return result, opErr
	}
	return result, nil
}

// ApplyExternalStatus applies a status reported by the gateway and merges
// the accompanying gateway data into the stored response. Under the
// permissive policy an illegal transition is logged and applied anyway so
// out-of-order gateway events never wedge a transaction; under the strict
// policy it is rejected.
func (s *Service) ApplyExternalStatus(txUUID string, newStatus string, gatewayData map[string]interface{}) (*models.Transaction, error) {
	if !models.IsValidStatus(newStatus) {
		return nil, apperrors.Validation("unknown transaction status " + newStatus)
	}

	tx, err := s.repo.GetByUUIDAny(txUUID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NotFound("transaction not found")
		}
		return nil, apperrors.Internal("transaction lookup failed", err)
	}

	if !models.CanTransition(tx.Status, newStatus) {
		if s.policy == PolicyStrict {
			return nil, apperrors.Validation("illegal transition from " + tx.Status + " to " + newStatus)
		}
		log.Warnf("[Ledger] applying illegal transition %s -> %s for transaction %s (permissive policy)", tx.Status, newStatus, tx.UUID)
	}

	tx.Status = newStatus
	tx.GatewayResponseJSON = mergeRaw(tx.GatewayResponseJSON, gatewayData)
	if err := s.repo.Update(tx); err != nil {
		return nil, apperrors.Internal("failed to persist external status", err)
	}
	return tx, nil
}

// ResolveGatewayReference finds the transaction a gateway-side transaction
// id belongs to. Used when a gateway event arrives without our correlation
// reference in its metadata.
func (s *Service) ResolveGatewayReference(referenceID string) (*models.Transaction, error) {
	tx, err := s.repo.GetByGatewayReference(referenceID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NotFound("no transaction for gateway reference")
		}
		return nil, apperrors.Internal("gateway reference lookup failed", err)
	}
	return tx, nil
}

// Get returns a merchant-scoped transaction.
func (s *Service) Get(merchantID uint, txUUID string) (*models.Transaction, error) {
	tx, err := s.repo.GetByUUID(txUUID, merchantID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NotFound("transaction not found")
		}
		return nil, apperrors.Internal("transaction lookup failed", err)
	}
	return tx, nil
}

// List returns a filtered, paginated transaction page plus the total count.
func (s *Service) List(merchantID uint, filter repository.TransactionFilter) ([]models.Transaction, int64, error) {
	if filter.Status != "" && !models.IsValidStatus(filter.Status) {
		return nil, 0, apperrors.Validation("unknown status filter " + filter.Status)
	}
	txs, total, err := s.repo.List(merchantID, filter)
	if err != nil {
		return nil, 0, apperrors.Internal("transaction listing failed", err)
	}
	return txs, total, nil
}

func marshalRaw(raw map[string]interface{}) string {
	if len(raw) == 0 {
		return ""
	}
	data, err := json.Marshal(raw)
	if err != nil {
		log.Errorf("[Ledger] failed to marshal gateway response: %v", err)
		return ""
	}
	return string(data)
}

// mergeRaw folds new gateway data into the stored response JSON, keeping
// earlier keys that the new data does not override.
func mergeRaw(existingJSON string, raw map[string]interface{}) string {
	if len(raw) == 0 {
		return existingJSON
	}
	merged := make(map[string]interface{})
	if existingJSON != "" {
		if err := json.Unmarshal([]byte(existingJSON), &merged); err != nil {
			log.Warnf("[Ledger] stored gateway response is unreadable, replacing it: %v", err)
			merged = make(map[string]interface{})
		}
	}
	for k, v := range raw {
		merged[k] = v
	}
	return marshalRaw(merged)
}
