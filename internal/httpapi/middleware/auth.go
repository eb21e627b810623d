package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/chat-platform/internal/chat"
	"github.com/suPer8Hu/chat-platform/internal/common"
)

const IdentityKey = "identity"

// AuthRequired accepts the token from x-access-token or Authorization: Bearer.
func AuthRequired(v chat.Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := strings.TrimSpace(c.GetHeader("x-access-token"))
		if token == "" {
			token = strings.TrimSpace(c.GetHeader("Authorization"))
		}
		if token == "" {
			common.Fail(c, http.StatusUnauthorized, 40100, "missing token")
			return
		}

		ident, err := v.Verify(c.Request.Context(), token)
		if err != nil {
			common.Fail(c, http.StatusUnauthorized, 40101, "invalid token")
			return
		}
		c.Set(IdentityKey, ident)
		c.Next()
	}
}

func IdentityFrom(c *gin.Context) (chat.Identity, bool) {
	v, ok := c.Get(IdentityKey)
	if !ok {
		return chat.Identity{}, false
	}
	ident, ok := v.(chat.Identity)
	return ident, ok
}
