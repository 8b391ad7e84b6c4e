package main

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// bearerAuth rejects requests missing a valid `Authorization: Bearer
// <token>` header with HTTP 401 and a JSON-RPC -32001 error, comparing
// the token in constant time per spec.md §6.
func bearerAuth(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		const prefix = "Bearer "
		if !strings.HasPrefix(header, prefix) {
			rejectUnauthorized(c, "missing or malformed Authorization header")
			return
		}
		given := strings.TrimPrefix(header, prefix)
		if subtle.ConstantTimeCompare([]byte(given), []byte(token)) != 1 {
			rejectUnauthorized(c, "invalid token")
			return
		}
		c.Next()
	}
}

func rejectUnauthorized(c *gin.Context, reason string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"jsonrpc": "2.0",
		"error":   gin.H{"code": -32001, "message": reason},
	})
}
