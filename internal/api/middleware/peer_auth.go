package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	jwt "github.com/golang-jwt/jwt/v5"

	"github.com/poyaz/multi-squid-ipv4-proxy-api-sub001/internal/api/response"
	jwtutil "github.com/poyaz/multi-squid-ipv4-proxy-api-sub001/pkg/jwt"
)

const ContextPeerHostKey = "peer_host"

// PeerAuth accepts requests signed with the cluster secret.
func PeerAuth(secret []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerTokenFromRequest(c.GetHeader("Authorization"))
		if token == "" {
			response.Fail(c, http.StatusUnauthorized, response.ErrUnauthorized, "unauthorized")
			c.Abort()
			return
		}

		claims, err := jwtutil.ParsePeerToken(token, secret)
		if err != nil {
			code := response.ErrUnauthorized
			if errors.Is(err, jwt.ErrTokenExpired) {
				code = response.ErrTokenExpired
			}
			response.Fail(c, http.StatusUnauthorized, code, "unauthorized")
			c.Abort()
			return
		}

		c.Set(ContextPeerHostKey, claims.Host)
		c.Next()
	}
}

func PeerHost(c *gin.Context) string {
	value, ok := c.Get(ContextPeerHostKey)
	if !ok {
		return ""
	}
	host, _ := value.(string)
	return host
}
