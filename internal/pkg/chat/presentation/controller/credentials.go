package controller

import (
	"strings"

	"github.com/gin-gonic/gin"
)

// bearerToken reads the credential from the Authorization header, falling back
// to the token query parameter for browser websocket clients that cannot set
// headers.
func bearerToken(c *gin.Context) string {
	if h := strings.TrimSpace(c.GetHeader("Authorization")); h != "" {
		if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
			return strings.TrimSpace(h[7:])
		}
		return h
	}
	return strings.TrimSpace(c.Query("token"))
}
