package middleware

import (
	"net/http"
	"time"

	"relaychat/pkg/logger"

	"github.com/gin-gonic/gin"
)

// RequestLogger logs each request through the structured logger
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		logger.LogRequest(c.Request.Method, path, c.ClientIP(), c.Request.UserAgent(), time.Since(start), c.Writer.Status())
	}
}

// Recovery turns handler panics into 500 responses and logs them
func Recovery() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logger.WithFields(map[string]interface{}{
			"path":  c.Request.URL.Path,
			"panic": recovered,
		}).Error("Recovered from HTTP handler panic")
		c.AbortWithStatus(http.StatusInternalServerError)
	})
}
