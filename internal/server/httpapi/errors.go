package httpapi

import (
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/dmitrijs2005/fermentstation/internal/common"
)

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	Field     string `json:"field,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// classify maps a service error to a status and a stable error code.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, common.ErrAccountLocked):
		return http.StatusLocked, "account_locked"
	case errors.Is(err, common.ErrAuthenticationFailed):
		return http.StatusUnauthorized, "authentication_failed"
	case errors.Is(err, common.ErrTokenInvalidOrExpired):
		return http.StatusBadRequest, "token_invalid_or_expired"
	case errors.Is(err, common.ErrValidation):
		return http.StatusBadRequest, "validation_error"
	case errors.Is(err, common.ErrExternalService):
		return http.StatusBadGateway, "external_service_error"
	case errors.Is(err, common.ErrorNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, common.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, common.ErrorAlreadyExists):
		return http.StatusConflict, "already_exists"
	}
	return http.StatusInternalServerError, "internal_error"
}

var messages = map[string]string{
	"account_locked":           "too many failed attempts, try again later",
	"authentication_failed":    "invalid email or password",
	"token_invalid_or_expired": "link is invalid or has expired",
	"external_service_error":   "an external service is unavailable",
	"not_found":                "not found",
	"forbidden":                "forbidden",
	"already_exists":           "already exists",
	"internal_error":           "internal error",
}

// fail writes err as JSON and aborts the chain. Internal details never leave
// the process; validation errors keep their field and message.
func (h *handlers) fail(c *gin.Context, err error) {
	status, code := classify(err)
	body := errorBody{Error: code, Message: messages[code], RequestID: requestIDFrom(c)}

	var ve *common.ValidationError
	if errors.As(err, &ve) {
		body.Field = ve.Field
		body.Message = ve.Message
	} else if code == "validation_error" {
		body.Message = err.Error()
	}

	var le *common.LockedError
	if errors.As(err, &le) {
		c.Header("Retry-After", strconv.Itoa(int(math.Ceil(le.RetryAfter.Seconds()))))
	}

	switch {
	case status >= http.StatusInternalServerError:
		h.log.Error(c.Request.Context(), "request failed", "path", c.FullPath(), "error", err)
	case status == http.StatusLocked:
		h.log.Warn(c.Request.Context(), "request refused", "path", c.FullPath())
	}
	c.AbortWithStatusJSON(status, body)
}

// failExternal counts outbound failures against service before failing.
func (h *handlers) failExternal(c *gin.Context, service string, err error) {
	if errors.Is(err, common.ErrExternalService) {
		h.metrics.ExternalErrors.WithLabelValues(service).Inc()
	}
	h.fail(c, err)
}

func badRequest(field, msg string) error {
	return common.NewValidationError(field, msg)
}
