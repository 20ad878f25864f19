package middleware

import (
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/veloview/timeline-backend-go/pkg/response"
)

const userIDKey = "userID"

// Auth validates the Bearer token and stores the token subject as the
// requesting user id.
func Auth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			response.Unauthorized(c, "missing bearer token")
			c.Abort()
			return
		}
		raw := strings.TrimPrefix(header, "Bearer ")

		token, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
			}
			return []byte(secret), nil
		})
		if err != nil || !token.Valid {
			response.Unauthorized(c, "invalid token")
			c.Abort()
			return
		}

		subject, err := token.Claims.GetSubject()
		if err != nil || subject == "" {
			response.Unauthorized(c, "token has no subject")
			c.Abort()
			return
		}

		c.Set(userIDKey, subject)
		c.Next()
	}
}

// UserID returns the authenticated user id stored by Auth.
func UserID(c *gin.Context) string {
	return c.GetString(userIDKey)
}
