package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/poyaz/multi-squid-ipv4-proxy-api-sub001/internal/api/response"
)

// AdminTokenAuth guards the admin API with a static bearer token.
func AdminTokenAuth(token string) gin.HandlerFunc {
	expected := strings.TrimSpace(token)

	return func(c *gin.Context) {
		provided := strings.TrimSpace(c.GetHeader("X-Admin-Token"))
		if provided == "" {
			provided = bearerTokenFromRequest(c.GetHeader("Authorization"))
		}

		if expected == "" || subtle.ConstantTimeCompare([]byte(provided), []byte(expected)) != 1 {
			response.Fail(c, http.StatusUnauthorized, response.ErrUnauthorized, "unauthorized")
			c.Abort()
			return
		}

		c.Next()
	}
}

func bearerTokenFromRequest(header string) string {
	auth := strings.TrimSpace(header)
	if len(auth) < 7 || !strings.EqualFold(auth[:7], "Bearer ") {
		return ""
	}
	return strings.TrimSpace(auth[7:])
}
