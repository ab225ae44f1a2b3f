package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/dmitrijs2005/fermentstation/internal/common"
	"github.com/dmitrijs2005/fermentstation/internal/logging"
	"github.com/dmitrijs2005/fermentstation/internal/server/metrics"
	"github.com/dmitrijs2005/fermentstation/internal/server/models"
)

const (
	RequestIDHeader   = "X-Request-ID"
	SessionCookieName = "fs_session"

	requestIDKey   = "request_id"
	identityKey    = "identity"
	maxRequestID   = 128
	bearerPrefixLn = len("bearer ")
)

// requestID propagates the caller's X-Request-ID or generates one.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(RequestIDHeader))
		if id == "" || len(id) > maxRequestID {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header(RequestIDHeader, id)
		c.Request = c.Request.WithContext(logging.WithRequestID(c.Request.Context(), id))
		c.Next()
	}
}

func requestIDFrom(c *gin.Context) string {
	return c.GetString(requestIDKey)
}

// accessLog logs one line per request and feeds the request metrics.
func accessLog(log logging.Logger, m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		d := time.Since(start)
		status := c.Writer.Status()

		if m != nil {
			m.ObserveRequest(c.Request.Method, c.FullPath(), status, d)
		}
		args := []any{
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", status,
			"duration", d,
			"client_ip", c.ClientIP(),
		}
		if status >= http.StatusInternalServerError {
			log.Warn(c.Request.Context(), "http request", args...)
			return
		}
		log.Info(c.Request.Context(), "http request", args...)
	}
}

func recovery(log logging.Logger) gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, rec any) {
		log.Error(c.Request.Context(), "panic recovered", "panic", rec, "path", c.Request.URL.Path)
		c.AbortWithStatusJSON(http.StatusInternalServerError, errorBody{
			Error:     "internal_error",
			Message:   messages["internal_error"],
			RequestID: requestIDFrom(c),
		})
	})
}

// sessionToken reads the session from the cookie, then from a bearer header.
func sessionToken(c *gin.Context) string {
	if v, err := c.Cookie(SessionCookieName); err == nil && v != "" {
		return v
	}
	h := c.GetHeader("Authorization")
	if len(h) > bearerPrefixLn && strings.EqualFold(h[:bearerPrefixLn], "bearer ") {
		return strings.TrimSpace(h[bearerPrefixLn:])
	}
	return ""
}

// requireSession resolves the session to an identity or answers 401.
func (h *handlers) requireSession(c *gin.Context) {
	token := sessionToken(c)
	if token == "" {
		h.unauthenticated(c)
		return
	}
	id, err := h.auth.ValidateSession(c.Request.Context(), token)
	if err != nil {
		if errors.Is(err, common.ErrTokenInvalidOrExpired) || errors.Is(err, common.ErrAuthenticationFailed) {
			h.unauthenticated(c)
			return
		}
		h.fail(c, err)
		return
	}
	c.Set(identityKey, *id)
	c.Next()
}

func (h *handlers) unauthenticated(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody{
		Error:     "unauthenticated",
		Message:   "sign in required",
		RequestID: requestIDFrom(c),
	})
}

func (h *handlers) requireAdmin(c *gin.Context) {
	if !identityFrom(c).IsAdmin() {
		h.fail(c, common.ErrForbidden)
		return
	}
	c.Next()
}

func identityFrom(c *gin.Context) models.Identity {
	v, _ := c.Get(identityKey)
	id, _ := v.(models.Identity)
	return id
}
