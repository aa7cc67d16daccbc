package webhook

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/payward/payward/app/models"
	"github.com/payward/payward/app/repository"
	"github.com/payward/payward/internal/pkg/metrics/counter"
)

const (
	// deliveryTimeout bounds a single outbound POST.
	deliveryTimeout = 10 * time.Second
	// responseBodyLimit caps how much of a merchant response is stored.
	responseBodyLimit = 4096
)

// Envelope is the signed payload delivered to merchant endpoints.
type Envelope struct {
	EventID   string                 `json:"event_id"`
	EventType string                 `json:"event_type"`
	Timestamp string                 `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Dispatcher signs and delivers event payloads to every active webhook
// config of a merchant and records one delivery-attempt row per config.
// Delivery failure is recorded, never propagated to the caller.
type Dispatcher struct {
	repo   repository.WebhookRepository
	client *http.Client
	now    func() time.Time
}

// NewDispatcher creates a dispatcher from an injected repository.
func NewDispatcher(repo repository.WebhookRepository) *Dispatcher {
	return &Dispatcher{
		repo:   repo,
		client: &http.Client{Timeout: deliveryTimeout},
		now:    time.Now,
	}
}

// NewDispatcherFromDB creates a dispatcher from a GORM DB handle.
func NewDispatcherFromDB(db *gorm.DB) *Dispatcher {
	return NewDispatcher(repository.NewWebhookRepository(db))
}

// Dispatch delivers one event to all active configs of the merchant. Every
// active config receives every event; subscription filtering is left to the
// receiving side. Configs are processed sequentially and independently, so
// one failing endpoint never blocks the others from being recorded.
func (d *Dispatcher) Dispatch(merchantID uint, transactionUUID string, eventType string, data map[string]interface{}) {
	configs, err := d.repo.ListConfigsByMerchant(merchantID, true)
	if err != nil {
		log.Errorf("[Webhook] failed to load configs for merchant %d: %v", merchantID, err)
		return
	}
	if len(configs) == 0 {
		return
	}

	payload, err := d.buildPayload(transactionUUID, eventType, data)
	if err != nil {
		log.Errorf("[Webhook] failed to build payload for merchant %d: %v", merchantID, err)
		return
	}

	for i := range configs {
		d.DeliverAttempt(&configs[i], eventType, payload, 1)
	}
}

func (d *Dispatcher) buildPayload(transactionUUID string, eventType string, data map[string]interface{}) ([]byte, error) {
	eventData := map[string]interface{}{"transaction_id": transactionUUID}
	for k, v := range data {
		eventData[k] = v
	}
	envelope := Envelope{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: d.now().UTC().Format(time.RFC3339),
		Data:      eventData,
	}
	return json.Marshal(envelope)
}

// DeliverAttempt POSTs the signed payload to one config and writes exactly
// one WebhookEvent row for the attempt. The returned row mirrors what was
// stored.
func (d *Dispatcher) DeliverAttempt(config *models.WebhookConfig, eventType string, payload []byte, attempt int) *models.WebhookEvent {
	event := &models.WebhookEvent{
		WebhookConfigID: config.ID,
		EventType:       eventType,
		PayloadJSON:     string(payload),
		AttemptCount:    attempt,
		LastAttemptedAt: d.now(),
	}

	statusCode, responseBody, deliveryErr := d.post(config, payload)
	if deliveryErr != nil {
		event.ErrorMessage = deliveryErr.Error()
	}
	if statusCode != 0 {
		code := statusCode
		event.ResponseStatusCode = &code
		event.ResponseBody = responseBody
	}
	event.Success = deliveryErr == nil && statusCode >= 200 && statusCode < 300
	if !event.Success {
		next := d.now().Add(retryBackoff(attempt))
		event.NextAttemptAt = &next
		log.Warnf("[Webhook] delivery to config %d failed (attempt %d, status %d): %s",
			config.ID, attempt, statusCode, event.ErrorMessage)
	}

	if err := d.repo.CreateEvent(event); err != nil {
		log.Errorf("[Webhook] failed to record delivery attempt for config %d: %v", config.ID, err)
	}
	if err := counter.AddWebhookDelivery(event.Success); err != nil {
		log.Debugf("[Webhook] failed to bump delivery counter: %v", err)
	}
	return event
}

func (d *Dispatcher) post(config *models.WebhookConfig, payload []byte) (int, string, error) {
	req, err := http.NewRequest(http.MethodPost, config.URL, bytes.NewReader(payload))
	if err != nil {
		return 0, "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, Sign(payload, config.Secret))

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, responseBodyLimit))
	return resp.StatusCode, string(body), nil
}

// retryBackoff doubles per attempt: 1m, 2m, 4m, ...
func retryBackoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	backoff := time.Minute << (attempt - 1)
	if backoff > time.Hour {
		backoff = time.Hour
	}
	return backoff
}
