package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pramodkumar0813/DI-Skill-Bridge/internal/auth"
	"github.com/rs/zerolog/log"
)

// UserIDKey is the gin context key holding the authenticated user id.
const UserIDKey = "user_id"

// JWTAuth rejects requests without a valid platform access token in the
// Authorization header.
func JWTAuth(jwtSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Authorization header required",
			})
			return
		}

		claims, err := auth.ParseToken(jwtSecret, authHeader)
		if err != nil {
			log.Debug().Err(err).Str("path", c.FullPath()).Msg("rejected bearer token")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Invalid token",
			})
			return
		}

		c.Set(UserIDKey, string(claims.UserID))
		c.Next()
	}
}
