package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/karipay/toyyibpay-bridge/internal/ghl"
	integrationdomain "github.com/karipay/toyyibpay-bridge/internal/integration/domain"
	"github.com/karipay/toyyibpay-bridge/internal/toyyibpay"
	transactiondomain "github.com/karipay/toyyibpay-bridge/internal/transaction/domain"
	"github.com/karipay/toyyibpay-bridge/internal/transaction/ingress"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized   = errors.New("unauthorized")
	ErrInternal       = errors.New("internal_error")
	ErrNotFound       = errors.New("not_found")
	ErrInvalidRequest = errors.New("invalid_request")
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

func mapError(err error) (int, errorPayload) {
	switch {
	case isValidationError(err):
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{Field: "request", Code: err.Error(), Message: "invalid request"},
			},
		}
	case errors.Is(err, ErrUnauthorized),
		errors.Is(err, integrationdomain.ErrInvalidAPIKey):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case errors.Is(err, toyyibpay.ErrRequestFailed),
		errors.Is(err, toyyibpay.ErrUnexpectedResponse):
		return http.StatusBadGateway, errorPayload{
			Type:    "upstream_error",
			Message: "payment provider request failed",
		}
	case errors.Is(err, ghl.ErrUnauthorized),
		errors.Is(err, ghl.ErrTransport),
		errors.Is(err, ghl.ErrUnexpectedStatus):
		return http.StatusBadGateway, errorPayload{
			Type:    "upstream_error",
			Message: "marketplace request failed",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, transactiondomain.ErrInvalidRequest),
		errors.Is(err, transactiondomain.ErrInvalidCurrency),
		errors.Is(err, integrationdomain.ErrInvalidLocation),
		errors.Is(err, integrationdomain.ErrInvalidConfig),
		errors.Is(err, integrationdomain.ErrInvalidMode),
		errors.Is(err, integrationdomain.ErrModeNotConfigured),
		errors.Is(err, toyyibpay.ErrConfigIncomplete),
		errors.Is(err, ingress.ErrInvalidCallback):
		return true
	default:
		return false
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, transactiondomain.ErrNotFound),
		errors.Is(err, integrationdomain.ErrNotFound),
		errors.Is(err, integrationdomain.ErrConfigNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}
