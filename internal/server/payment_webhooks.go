package server

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	checkoutdomain "github.com/smallbiznis/coursemart/internal/checkout/domain"
	paymentdomain "github.com/smallbiznis/coursemart/internal/payment/domain"
)

const maxWebhookBody = 1 << 20

type injectPaymentEventRequest struct {
	Provider        string          `json:"provider"`
	ExternalEventID string          `json:"externalEventId"`
	CheckoutID      flexibleID      `json:"checkoutId"`
	Status          string          `json:"status"`
	Payload         json.RawMessage `json:"payload"`
}

// HandlePaymentWebhook verifies and applies a provider callback. Redelivered
// events are acknowledged with the stored record.
func (s *Server) HandlePaymentWebhook(c *gin.Context) {
	provider := strings.TrimSpace(c.Param("provider"))
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	result, err := s.webhooks.IngestWebhook(c.Request.Context(), provider, payload, c.Request.Header)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if result == nil {
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok", "data": result})
}

// InjectPaymentEvent feeds a provider event by hand, e.g. to replay a
// callback the provider never delivered.
func (s *Server) InjectPaymentEvent(c *gin.Context) {
	var req injectPaymentEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	checkoutID, err := req.CheckoutID.Parse()
	if err != nil {
		AbortWithError(c, newValidationError("checkoutId", "invalid_checkout_id", "invalid checkoutId"))
		return
	}
	provider := strings.TrimSpace(req.Provider)
	if provider == "" {
		provider = paymentdomain.ProviderManual
	}

	result, err := s.payments.ProcessPaymentEvent(c.Request.Context(), paymentdomain.ProcessRequest{
		Provider:        provider,
		ExternalEventID: strings.TrimSpace(req.ExternalEventID),
		CheckoutID:      checkoutID,
		Status:          checkoutdomain.Status(strings.ToLower(strings.TrimSpace(req.Status))),
		Payload:         req.Payload,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	status := http.StatusCreated
	if result.Replayed {
		status = http.StatusOK
	}
	c.JSON(status, gin.H{"data": result})
}
