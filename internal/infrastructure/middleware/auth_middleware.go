package middleware

import (
	"errors"
	"net/http"
	"strings"

	"playloop/internal/core/domain"
	"playloop/internal/core/services"

	"github.com/gin-gonic/gin"
)

const sessionIDKey = "session_id"

// bearerToken reads the Authorization header, falling back to the token
// query parameter for WebSocket upgrades from browsers.
func bearerToken(c *gin.Context) (string, error) {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		if token := c.Query("token"); token != "" {
			return token, nil
		}
		return "", errors.New("authorization header required")
	}

	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		return "", errors.New("invalid authorization header format")
	}
	return parts[1], nil
}

// SessionAuthMiddleware admits requests whose token was issued for the
// session named by the :id route parameter.
func SessionAuthMiddleware(authService services.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := bearerToken(c)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}

		claims, err := authService.ValidateToken(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}

		sessionID := domain.SessionID(c.Param("id"))
		if err := authService.Authorize(claims, sessionID); err != nil {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "token not valid for this session"})
			return
		}

		c.Request = c.Request.WithContext(services.WithSessionClaims(c.Request.Context(), claims))
		c.Set(sessionIDKey, sessionID)
		c.Next()
	}
}

// SessionID returns the session admitted by SessionAuthMiddleware.
func SessionID(c *gin.Context) (domain.SessionID, bool) {
	v, ok := c.Get(sessionIDKey)
	if !ok {
		return "", false
	}
	id, ok := v.(domain.SessionID)
	return id, ok
}
