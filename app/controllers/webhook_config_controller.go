package controllers

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/payward/payward/app/models"
	"github.com/payward/payward/app/repository"
	"github.com/payward/payward/internal/pkg/apperrors"
	"github.com/payward/payward/internal/pkg/merchantcontext"
)

// WebhookConfigController manages a merchant's notification endpoints.
type WebhookConfigController struct {
	repo repository.WebhookRepository
}

func NewWebhookConfigController(repo repository.WebhookRepository) *WebhookConfigController {
	return &WebhookConfigController{repo: repo}
}

type createWebhookConfigRequest struct {
	URL                  string   `json:"url"`
	Secret               string   `json:"secret"`
	SubscribedEventTypes []string `json:"subscribed_event_types"`
}

type webhookConfigResponse struct {
	ID                   uint     `json:"id"`
	URL                  string   `json:"url"`
	IsActive             bool     `json:"is_active"`
	SubscribedEventTypes []string `json:"subscribed_event_types,omitempty"`
	CreatedAt            string   `json:"created_at"`
	// Secret is only echoed on creation so the merchant can store it.
	Secret string `json:"secret,omitempty"`
}

// HandleCreate registers a new endpoint. When the merchant does not supply
// a signing secret one is generated and returned exactly once.
func (wc *WebhookConfigController) HandleCreate(c *fiber.Ctx) error {
	merchant := merchantcontext.GetMerchantContext(c)
	if !merchant.IsAuthenticated {
		return respondError(c, apperrors.Auth("merchant authentication required"))
	}

	var req createWebhookConfigRequest
	if err := c.BodyParser(&req); err != nil {
		return respondError(c, apperrors.Validation("invalid request body"))
	}

	generated := false
	if req.Secret == "" {
		secret, err := generateWebhookSecret()
		if err != nil {
			return respondError(c, apperrors.Internal("failed to generate webhook secret", err))
		}
		req.Secret = secret
		generated = true
	}

	config := &models.WebhookConfig{
		MerchantID: merchant.MerchantID,
		URL:        req.URL,
		Secret:     req.Secret,
		IsActive:   true,
	}
	if err := config.SetSubscribedEventTypes(req.SubscribedEventTypes); err != nil {
		return respondError(c, apperrors.Validation("invalid subscribed event types"))
	}
	if err := config.Validate(); err != nil {
		return respondError(c, apperrors.Validation(err.Error()))
	}

	if err := wc.repo.CreateConfig(config); err != nil {
		return respondError(c, apperrors.Internal("failed to store webhook config", err))
	}

	resp := toWebhookConfigResponse(config)
	if generated {
		resp.Secret = config.Secret
	}
	return c.Status(fiber.StatusCreated).JSON(resp)
}

// HandleList returns all of the merchant's endpoints, active or not.
func (wc *WebhookConfigController) HandleList(c *fiber.Ctx) error {
	merchant := merchantcontext.GetMerchantContext(c)
	if !merchant.IsAuthenticated {
		return respondError(c, apperrors.Auth("merchant authentication required"))
	}

	configs, err := wc.repo.ListConfigsByMerchant(merchant.MerchantID, false)
	if err != nil {
		return respondError(c, apperrors.Internal("failed to list webhook configs", err))
	}

	out := make([]webhookConfigResponse, 0, len(configs))
	for i := range configs {
		out = append(out, toWebhookConfigResponse(&configs[i]))
	}
	return c.JSON(fiber.Map{"data": out})
}

// HandleDelete removes an endpoint and its delivery history.
func (wc *WebhookConfigController) HandleDelete(c *fiber.Ctx) error {
	merchant := merchantcontext.GetMerchantContext(c)
	if !merchant.IsAuthenticated {
		return respondError(c, apperrors.Auth("merchant authentication required"))
	}

	id, err := strconv.ParseUint(c.Params("id"), 10, 64)
	if err != nil {
		return respondError(c, apperrors.Validation("invalid webhook config id"))
	}

	if _, err := wc.repo.GetConfigByID(uint(id), merchant.MerchantID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return respondError(c, apperrors.NotFound("webhook config not found"))
		}
		return respondError(c, apperrors.Internal("failed to load webhook config", err))
	}

	if err := wc.repo.DeleteConfig(uint(id), merchant.MerchantID); err != nil {
		return respondError(c, apperrors.Internal("failed to delete webhook config", err))
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func toWebhookConfigResponse(config *models.WebhookConfig) webhookConfigResponse {
	return webhookConfigResponse{
		ID:                   config.ID,
		URL:                  config.URL,
		IsActive:             config.IsActive,
		SubscribedEventTypes: config.SubscribedEventTypes(),
		CreatedAt:            config.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
}

func generateWebhookSecret() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return "whsec_" + hex.EncodeToString(buf), nil
}
