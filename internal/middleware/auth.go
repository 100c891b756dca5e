package middleware

import (
	"net/http"

	"relaychat/internal/utils"
	"relaychat/pkg/logger"

	"github.com/gin-gonic/gin"
)

// SessionAuth validates the bearer token of a REST request and stores the
// resolved user id under "user_id".
func SessionAuth(verifier utils.TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, _ := utils.TokenFromRequest(c.Request)
		if tokenString == "" {
			utils.ErrorResponse(c, http.StatusUnauthorized, "Missing session token")
			c.Abort()
			return
		}

		userID, err := verifier.VerifyToken(tokenString)
		if err != nil {
			logger.LogSecurityEvent("rest_auth_failed", "", c.ClientIP(), map[string]interface{}{
				"path":  c.Request.URL.Path,
				"error": err.Error(),
			})
			utils.ErrorResponse(c, http.StatusUnauthorized, "Invalid session token")
			c.Abort()
			return
		}

		c.Set("user_id", userID)
		c.Next()
	}
}
