package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	checkoutdomain "github.com/smallbiznis/coursemart/internal/checkout/domain"
	checkoutflowdomain "github.com/smallbiznis/coursemart/internal/checkoutflow/domain"
)

type startCheckoutRequest struct {
	CourseID              flexibleID `json:"courseId"`
	Email                 string     `json:"email"`
	Method                string     `json:"method"`
	BnplInstallmentsCount *int       `json:"bnplInstallmentsCount"`
	ConsentAccepted       bool       `json:"consentAccepted"`
}

type attachCheckoutRequest struct {
	CheckoutID flexibleID `json:"checkoutId"`
}

type confirmIdentityRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

type resendVerificationRequest struct {
	Email string `json:"email"`
}

func (s *Server) StartCheckout(c *gin.Context) {
	var req startCheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	courseID, err := req.CourseID.Parse()
	if err != nil {
		AbortWithError(c, newValidationError("courseId", "invalid_course_id", "invalid courseId"))
		return
	}

	result, err := s.flow.StartCheckout(c.Request.Context(), actorFromContext(c), checkoutflowdomain.StartRequest{
		CourseID:              courseID,
		Email:                 strings.TrimSpace(req.Email),
		Method:                checkoutdomain.Method(strings.ToLower(strings.TrimSpace(req.Method))),
		BnplInstallmentsCount: req.BnplInstallmentsCount,
		ConsentAccepted:       req.ConsentAccepted,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	status := http.StatusCreated
	if result.Reused {
		status = http.StatusOK
	}
	c.JSON(status, gin.H{"data": result})
}

func (s *Server) AttachCheckout(c *gin.Context) {
	var req attachCheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	checkoutID, err := req.CheckoutID.Parse()
	if err != nil {
		AbortWithError(c, newValidationError("checkoutId", "invalid_checkout_id", "invalid checkoutId"))
		return
	}

	checkout, err := s.flow.AttachCheckout(c.Request.Context(), actorFromContext(c), checkoutID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": checkout})
}

func (s *Server) ConfirmIdentity(c *gin.Context) {
	var req confirmIdentityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	result, err := s.flow.ConfirmIdentity(c.Request.Context(), strings.TrimSpace(req.Email), strings.TrimSpace(req.Code))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": result})
}

func (s *Server) ResendVerification(c *gin.Context) {
	var req resendVerificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	if err := s.flow.ResendVerification(c.Request.Context(), strings.TrimSpace(req.Email)); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "queued"})
}

func (s *Server) GetCheckout(c *gin.Context) {
	checkoutID, ok := pathID(c, "id")
	if !ok {
		return
	}
	checkout, err := s.flow.Get(c.Request.Context(), actorFromContext(c), checkoutID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": checkout})
}

func (s *Server) GetCheckoutStatus(c *gin.Context) {
	checkoutID, ok := pathID(c, "id")
	if !ok {
		return
	}
	checkout, err := s.flow.Get(c.Request.Context(), actorFromContext(c), checkoutID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"id":            checkout.ID,
		"status":        checkout.Status,
		"terminal":      checkout.Status.Terminal(),
		"expiresAt":     checkout.ExpiresAt,
		"paidAt":        checkout.PaidAt,
		"provisionedAt": checkout.ProvisionedAt,
	}})
}

func (s *Server) GetCheckoutTimeline(c *gin.Context) {
	checkoutID, ok := pathID(c, "id")
	if !ok {
		return
	}
	ctx := c.Request.Context()
	checkout, err := s.flow.Get(ctx, actorFromContext(c), checkoutID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	events, err := s.payments.Timeline(ctx, checkout.ID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": gin.H{"checkout": checkout, "events": events}})
}

func (s *Server) RetryCheckout(c *gin.Context) {
	checkoutID, ok := pathID(c, "id")
	if !ok {
		return
	}
	checkout, err := s.flow.Retry(c.Request.Context(), actorFromContext(c), checkoutID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": checkout})
}

func (s *Server) CancelCheckout(c *gin.Context) {
	checkoutID, ok := pathID(c, "id")
	if !ok {
		return
	}
	result, err := s.flow.Cancel(c.Request.Context(), actorFromContext(c), checkoutID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": result})
}

func (s *Server) ConfirmCheckoutPaid(c *gin.Context) {
	checkoutID, ok := pathID(c, "id")
	if !ok {
		return
	}
	result, err := s.flow.ConfirmPaid(c.Request.Context(), checkoutID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": result})
}
