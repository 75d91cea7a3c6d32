package httpapi

import (
	"net"
	"net/http"

	"github.com/gin-gonic/gin"
)

// LocalOnly rejects requests whose client address is not loopback
// (127.0.0.0/8 or ::1).
func LocalOnly() gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := net.ParseIP(c.ClientIP())
		if ip == nil || !ip.IsLoopback() {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		c.Next()
	}
}
