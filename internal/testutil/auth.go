package testutil

import (
	"net/http"
	"strings"

	"kb-platform-console/internal/models"

	"github.com/gin-gonic/gin"
)

// bearerAuth rejects requests without the backend's token once one is
// configured.
func (b *Backend) bearerAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		b.mu.Lock()
		want := b.Token
		b.mu.Unlock()

		if want == "" {
			c.Next()
			return
		}

		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.JSON(http.StatusUnauthorized, models.ErrorResponse{
				Error: models.ErrorDetail{Code: "AUTHENTICATION_ERROR", Message: "Missing authorization header"},
			})
			c.Abort()
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" || parts[1] != want {
			c.JSON(http.StatusUnauthorized, models.ErrorResponse{
				Error: models.ErrorDetail{Code: "AUTHENTICATION_ERROR", Message: "Invalid or expired token"},
			})
			c.Abort()
			return
		}

		c.Next()
	}
}
