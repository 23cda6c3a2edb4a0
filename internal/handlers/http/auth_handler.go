package http

import (
	"net/http"

	"playloop/internal/core/services"
	"playloop/pkg/errors"

	"github.com/gin-gonic/gin"
)

type TokenResponse struct {
	Token     string `json:"token"`
	ExpiresIn int    `json:"expires_in"`
}

// RefreshToken issues a fresh token for an admitted session. The session
// must still exist.
func (h *SessionHandler) RefreshToken(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}

	claims, err := services.SessionClaimsFromContext(c.Request.Context())
	if err != nil || claims.SessionID != session.ID() {
		c.Error(errors.NewUnauthorizedError("session not authorized"))
		return
	}

	token, err := h.auth.GenerateToken(session.ID())
	if err != nil {
		c.Error(errors.NewInternalError("failed to generate token"))
		return
	}

	expiresIn := 0
	if refreshed, err := h.auth.ValidateToken(token); err == nil && refreshed.ExpiresAt != nil && refreshed.IssuedAt != nil {
		expiresIn = int(refreshed.ExpiresAt.Sub(refreshed.IssuedAt.Time).Seconds())
	}

	c.JSON(http.StatusOK, TokenResponse{Token: token, ExpiresIn: expiresIn})
}
