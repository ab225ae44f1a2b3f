package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/dmitrijs2005/fermentstation/internal/common"
	"github.com/dmitrijs2005/fermentstation/internal/server/metrics"
	"github.com/dmitrijs2005/fermentstation/internal/server/models"
	"github.com/dmitrijs2005/fermentstation/internal/server/services"
)

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Tenant   string `json:"tenant"`
}

type passwordRequest struct {
	Password string `json:"password"`
}

type emailRequest struct {
	Email string `json:"email"`
}

type identityResponse struct {
	UserID   string `json:"user_id"`
	TenantID string `json:"tenant_id"`
	Email    string `json:"email"`
	Role     string `json:"role"`
}

type loginResponse struct {
	Token     string           `json:"token"`
	ExpiresAt time.Time        `json:"expires_at"`
	User      identityResponse `json:"user"`
}

func toIdentity(id models.Identity) identityResponse {
	return identityResponse{UserID: id.UserID, TenantID: id.TenantID, Email: id.Email, Role: id.Role}
}

// bind decodes the JSON body into v; a malformed body is a validation error.
func (h *handlers) bind(c *gin.Context, v any) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		h.fail(c, badRequest("body", "malformed JSON"))
		return false
	}
	return true
}

// register is self-service sign-up; the role is decided by the service.
func (h *handlers) register(c *gin.Context) {
	var req registerRequest
	if !h.bind(c, &req) {
		return
	}
	u, err := h.auth.Register(c.Request.Context(), services.RegisterInput{
		Email:    req.Email,
		Password: req.Password,
		Tenant:   req.Tenant,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, identityResponse{UserID: u.ID, TenantID: u.TenantID, Email: u.Email, Role: u.Role})
}

func (h *handlers) login(c *gin.Context) {
	var req credentialsRequest
	if !h.bind(c, &req) {
		return
	}
	res, err := h.auth.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, common.ErrAccountLocked):
			h.metrics.Login(metrics.LoginLocked)
		case errors.Is(err, common.ErrAuthenticationFailed):
			h.metrics.Login(metrics.LoginFailed)
		}
		h.fail(c, err)
		return
	}
	h.metrics.Login(metrics.LoginSuccess)

	maxAge := int(time.Until(res.ExpiresAt).Seconds())
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(SessionCookieName, res.Token, maxAge, "/", "", h.secureCookies, true)
	c.JSON(http.StatusOK, loginResponse{Token: res.Token, ExpiresAt: res.ExpiresAt, User: toIdentity(res.Identity)})
}

func (h *handlers) logout(c *gin.Context) {
	if token := sessionToken(c); token != "" {
		if err := h.auth.Logout(c.Request.Context(), token); err != nil {
			h.fail(c, err)
			return
		}
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(SessionCookieName, "", -1, "/", "", h.secureCookies, true)
	c.Status(http.StatusNoContent)
}

func (h *handlers) session(c *gin.Context) {
	c.JSON(http.StatusOK, toIdentity(identityFrom(c)))
}

func (h *handlers) changePassword(c *gin.Context) {
	var req passwordRequest
	if !h.bind(c, &req) {
		return
	}
	if err := h.auth.ChangePassword(c.Request.Context(), identityFrom(c).UserID, req.Password); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// requestReset answers the same way whether or not the address is known.
func (h *handlers) requestReset(c *gin.Context) {
	var req emailRequest
	if !h.bind(c, &req) {
		return
	}
	err := h.auth.RequestPasswordReset(c.Request.Context(), services.ResetRequest{
		Email:     req.Email,
		IP:        c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	})
	if err != nil {
		h.failExternal(c, "email", err)
		return
	}
	h.metrics.ResetRequests.Inc()
	c.JSON(http.StatusAccepted, gin.H{"status": "if the address is registered, a reset link has been sent"})
}

func (h *handlers) verifyReset(c *gin.Context) {
	email, err := h.auth.VerifyResetToken(c.Request.Context(), c.Param("token"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"email": email})
}

func (h *handlers) resetPassword(c *gin.Context) {
	var req passwordRequest
	if !h.bind(c, &req) {
		return
	}
	if err := h.auth.ResetPassword(c.Request.Context(), c.Param("token"), req.Password); err != nil {
		h.fail(c, err)
		return
	}
	h.metrics.ResetsCompleted.Inc()
	c.Status(http.StatusNoContent)
}
