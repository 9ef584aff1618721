package handler

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/hitoshi/strmonitor/internal/middleware"
	"github.com/hitoshi/strmonitor/internal/model"
)

// stripeSignatureHeader はStripeの署名ヘッダー名。
const stripeSignatureHeader = "Stripe-Signature"

// BillingWebhookProcessor は決済Webhookの処理インターフェース。
type BillingWebhookProcessor interface {
	HandleWebhook(ctx context.Context, payload []byte, signatureHeader string) error
}

// WebhookHandler は決済プロバイダーからのWebhookを受け付ける。
type WebhookHandler struct {
	billing BillingWebhookProcessor
}

// NewWebhookHandler はWebhookHandlerを生成する。
func NewWebhookHandler(billing BillingWebhookProcessor) *WebhookHandler {
	return &WebhookHandler{billing: billing}
}

// Stripe は署名を検証するため、ボディを加工せずにそのまま渡す。
// POST /api/webhooks/stripe
func (h *WebhookHandler) Stripe(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			middleware.WriteAPIError(w, http.StatusRequestEntityTooLarge, model.NewInvalidRequestError("payload too large"))
			return
		}
		middleware.WriteAPIError(w, http.StatusBadRequest, model.NewInvalidRequestError(err.Error()))
		return
	}

	if err := h.billing.HandleWebhook(r.Context(), payload, r.Header.Get(stripeSignatureHeader)); err != nil {
		handleServiceError(w, r, err)
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]bool{"received": true})
}
