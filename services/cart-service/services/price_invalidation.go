package services

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/yashrajoria/storefront/services/cart-service/models"
)

// PriceInvalidator drops a cached product price.
type PriceInvalidator interface {
	DeletePrice(ctx context.Context, productID int64) error
}

// ProductEventHandler evicts cached prices when the product service reports a
// product change. New items then see the new price; existing items keep their
// snapshot.
type ProductEventHandler struct {
	cache  PriceInvalidator
	logger *zap.Logger
}

func NewProductEventHandler(cache PriceInvalidator, logger *zap.Logger) *ProductEventHandler {
	return &ProductEventHandler{cache: cache, logger: logger}
}

// Handle processes one raw product event, bare or wrapped in an SNS envelope.
// Malformed and unrelated events are dropped. Only a failed eviction is
// returned so the transport can redeliver.
func (h *ProductEventHandler) Handle(ctx context.Context, body []byte) error {
	var envelope struct {
		Message string `json:"Message"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Message != "" {
		body = []byte(envelope.Message)
	}

	var event models.ProductEvent
	if err := json.Unmarshal(body, &event); err != nil {
		h.logger.Warn("Invalid product event", zap.Error(err))
		return nil
	}
	if event.Event != models.ProductUpdated && event.Event != models.ProductDeleted {
		return nil
	}

	id, err := event.NumericProductID()
	if err != nil {
		h.logger.Warn("Product event without numeric product_id", zap.String("event", event.Event), zap.Error(err))
		return nil
	}
	if err := h.cache.DeletePrice(ctx, id); err != nil {
		h.logger.Error("Failed to evict cached price", zap.Int64("product_id", id), zap.Error(err))
		return err
	}
	h.logger.Debug("Evicted cached price", zap.Int64("product_id", id), zap.String("event", event.Event))
	return nil
}
