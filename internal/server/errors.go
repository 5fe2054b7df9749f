package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	accessdomain "github.com/smallbiznis/coursemart/internal/access/domain"
	auditdomain "github.com/smallbiznis/coursemart/internal/audit/domain"
	"github.com/smallbiznis/coursemart/internal/authorization"
	bnpldomain "github.com/smallbiznis/coursemart/internal/bnpl/domain"
	catalogdomain "github.com/smallbiznis/coursemart/internal/catalog/domain"
	checkoutdomain "github.com/smallbiznis/coursemart/internal/checkout/domain"
	checkoutflowdomain "github.com/smallbiznis/coursemart/internal/checkoutflow/domain"
	entitlementdomain "github.com/smallbiznis/coursemart/internal/entitlement/domain"
	idempotencydomain "github.com/smallbiznis/coursemart/internal/idempotency/domain"
	identitydomain "github.com/smallbiznis/coursemart/internal/identity/domain"
	outboxdomain "github.com/smallbiznis/coursemart/internal/outbox/domain"
	paymentdomain "github.com/smallbiznis/coursemart/internal/payment/domain"
	purchasedomain "github.com/smallbiznis/coursemart/internal/purchase/domain"
	reconciliationdomain "github.com/smallbiznis/coursemart/internal/reconciliation/domain"
	userdomain "github.com/smallbiznis/coursemart/internal/user/domain"
	"github.com/smallbiznis/coursemart/pkg/db/pagination"
	"gorm.io/gorm"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrNotFound       = errors.New("not_found")
	ErrInvalidRequest = errors.New("invalid_request")
	ErrRateLimited    = errors.New("rate_limited")
	ErrInternal       = errors.New("internal_error")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Code:    "internal_error",
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		code := "invalid_request"
		if len(vErr.Errors) == 1 {
			code = vErr.Errors[0].Code
		}
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Code:    code,
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	var transitionErr *checkoutdomain.TransitionError
	if errors.As(err, &transitionErr) {
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Code:    checkoutdomain.ErrInvalidTransition.Error(),
			Message: transitionErr.Error(),
		}
	}

	switch {
	case isValidationError(err):
		code := rootCode(err)
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Code:    code,
			Message: "validation error",
			Errors: []ValidationError{
				{Field: validationErrorField(err), Code: code, Message: "invalid value"},
			},
		}
	case isUnauthorizedError(err):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Code:    rootCode(err),
			Message: "unauthorized",
		}
	case isForbiddenError(err):
		return http.StatusForbidden, errorPayload{
			Type:    "forbidden",
			Code:    rootCode(err),
			Message: "forbidden",
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Code:    rootCode(err),
			Message: "not found",
		}
	case isConflictError(err):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Code:    rootCode(err),
			Message: conflictMessage(err),
		}
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests, errorPayload{
			Type:    "rate_limited",
			Code:    ErrRateLimited.Error(),
			Message: "too many requests",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Code:    "internal_error",
			Message: "internal server error",
		}
	}
}

// rootCode returns the innermost error text, which is the sentinel code
// regardless of the context wrapped around it.
func rootCode(err error) string {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return err.Error()
		}
		err = next
	}
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, userdomain.ErrInvalidEmail),
		errors.Is(err, userdomain.ErrInvalidRole),
		errors.Is(err, userdomain.ErrInvalidID),
		errors.Is(err, identitydomain.ErrInvalidEmail),
		errors.Is(err, identitydomain.ErrInvalidState),
		errors.Is(err, catalogdomain.ErrInvalidTitle),
		errors.Is(err, catalogdomain.ErrInvalidPrice),
		errors.Is(err, catalogdomain.ErrInvalidCurrency),
		errors.Is(err, catalogdomain.ErrInvalidTeacher),
		errors.Is(err, checkoutdomain.ErrInvalidMethod),
		errors.Is(err, checkoutdomain.ErrInvalidStatus),
		errors.Is(err, checkoutdomain.ErrInvalidAmount),
		errors.Is(err, checkoutdomain.ErrInvalidEmail),
		errors.Is(err, bnpldomain.ErrInvalidInstallments),
		errors.Is(err, bnpldomain.ErrInvalidAmount),
		errors.Is(err, paymentdomain.ErrInvalidProvider),
		errors.Is(err, paymentdomain.ErrInvalidEvent),
		errors.Is(err, paymentdomain.ErrInvalidPayload),
		errors.Is(err, purchasedomain.ErrInvalidMethod),
		errors.Is(err, entitlementdomain.ErrInvalidRequest),
		errors.Is(err, outboxdomain.ErrInvalidStatus),
		errors.Is(err, idempotencydomain.ErrInvalidKey),
		errors.Is(err, auditdomain.ErrInvalidAction),
		errors.Is(err, auditdomain.ErrInvalidPageToken),
		errors.Is(err, pagination.ErrInvalidPageToken):
		return true
	default:
		return false
	}
}

func isUnauthorizedError(err error) bool {
	switch {
	case errors.Is(err, ErrUnauthorized),
		errors.Is(err, authorization.ErrUnauthenticated),
		errors.Is(err, checkoutflowdomain.ErrAuthenticationRequired),
		errors.Is(err, paymentdomain.ErrInvalidSignature):
		return true
	default:
		return false
	}
}

func isForbiddenError(err error) bool {
	switch {
	case errors.Is(err, ErrForbidden),
		errors.Is(err, authorization.ErrForbidden),
		errors.Is(err, catalogdomain.ErrNotCourseOwner),
		errors.Is(err, checkoutflowdomain.ErrNotCheckoutOwner),
		errors.Is(err, purchasedomain.ErrNotOwner),
		errors.Is(err, reconciliationdomain.ErrSelfHealStudentOnly):
		return true
	default:
		return false
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, userdomain.ErrNotFound),
		errors.Is(err, identitydomain.ErrNotFound),
		errors.Is(err, catalogdomain.ErrCourseNotFound),
		errors.Is(err, catalogdomain.ErrLessonNotFound),
		errors.Is(err, accessdomain.ErrLessonNotFound),
		errors.Is(err, checkoutdomain.ErrNotFound),
		errors.Is(err, purchasedomain.ErrNotFound),
		errors.Is(err, entitlementdomain.ErrNotFound),
		errors.Is(err, outboxdomain.ErrNotFound),
		errors.Is(err, bnpldomain.ErrNoPlan),
		errors.Is(err, paymentdomain.ErrProviderNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

func isConflictError(err error) bool {
	switch {
	case errors.Is(err, checkoutflowdomain.ErrConsentRequired),
		errors.Is(err, checkoutflowdomain.ErrEmailCollision),
		errors.Is(err, checkoutflowdomain.ErrAlreadyPurchased),
		errors.Is(err, checkoutflowdomain.ErrCourseUnavailable),
		errors.Is(err, checkoutdomain.ErrAlreadyPaid),
		errors.Is(err, checkoutdomain.ErrNotRetryable),
		errors.Is(err, checkoutdomain.ErrConcurrentUpdate),
		errors.Is(err, checkoutdomain.ErrInvalidTransition),
		errors.Is(err, identitydomain.ErrInvalidCode),
		errors.Is(err, identitydomain.ErrIdentityMismatch),
		errors.Is(err, entitlementdomain.ErrIdentityUnverified),
		errors.Is(err, entitlementdomain.ErrInvalidTransition),
		errors.Is(err, entitlementdomain.ErrConcurrentUpdate),
		errors.Is(err, userdomain.ErrEmailTaken),
		errors.Is(err, bnpldomain.ErrPlanCompleted),
		errors.Is(err, outboxdomain.ErrNotRetryable),
		errors.Is(err, idempotencydomain.ErrConflict),
		errors.Is(err, idempotencydomain.ErrInFlight),
		errors.Is(err, reconciliationdomain.ErrProfileIncomplete):
		return true
	default:
		return false
	}
}

func conflictMessage(err error) string {
	switch {
	case errors.Is(err, checkoutflowdomain.ErrConsentRequired):
		return "consent to the offer terms is required"
	case errors.Is(err, checkoutflowdomain.ErrEmailCollision):
		return "email belongs to a registered account; log in and attach the checkout"
	case errors.Is(err, checkoutflowdomain.ErrAlreadyPurchased):
		return "course already purchased"
	case errors.Is(err, checkoutdomain.ErrAlreadyPaid):
		return "checkout already paid"
	case errors.Is(err, idempotencydomain.ErrConflict):
		return "idempotency key reused with a different request"
	case errors.Is(err, idempotencydomain.ErrInFlight):
		return "a request with this idempotency key is in progress"
	default:
		return "conflict"
	}
}

func validationErrorField(err error) string {
	switch {
	case errors.Is(err, userdomain.ErrInvalidEmail),
		errors.Is(err, identitydomain.ErrInvalidEmail),
		errors.Is(err, checkoutdomain.ErrInvalidEmail):
		return "email"
	case errors.Is(err, checkoutdomain.ErrInvalidMethod),
		errors.Is(err, purchasedomain.ErrInvalidMethod):
		return "method"
	case errors.Is(err, bnpldomain.ErrInvalidInstallments):
		return "bnplInstallmentsCount"
	case errors.Is(err, catalogdomain.ErrInvalidTitle):
		return "title"
	case errors.Is(err, catalogdomain.ErrInvalidPrice),
		errors.Is(err, checkoutdomain.ErrInvalidAmount),
		errors.Is(err, bnpldomain.ErrInvalidAmount):
		return "price"
	case errors.Is(err, catalogdomain.ErrInvalidCurrency):
		return "currency"
	case errors.Is(err, idempotencydomain.ErrInvalidKey):
		return "x-idempotency-key"
	case errors.Is(err, auditdomain.ErrInvalidPageToken),
		errors.Is(err, pagination.ErrInvalidPageToken):
		return "page_token"
	default:
		return "request"
	}
}

// classifyErrorForLog feeds the request log with the same type/code pair the
// client receives.
func classifyErrorForLog(err error) (string, string) {
	_, payload := mapError(err)
	return payload.Type, payload.Code
}
