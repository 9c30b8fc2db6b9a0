package middlewares

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/taskhubio/taskhub/internal/auth"
	"github.com/taskhubio/taskhub/internal/domain/user"
)

// Keep these interfaces small so tests can fake them easily.
type TokenVerifier interface {
	Validate(token string) (*auth.Claims, error)
}

type UserGetter interface {
	GetByID(ctx context.Context, id string) (user.User, error)
}

type AuthMiddleware struct {
	jwt   TokenVerifier
	users UserGetter
}

func NewAuthMiddleware(jwt TokenVerifier, users UserGetter) *AuthMiddleware {
	return &AuthMiddleware{jwt: jwt, users: users}
}

const (
	ctxUserKey   = "auth.user"
	ctxUserIDKey = "auth.userID"
	ctxEmailKey  = "auth.email"
)

func abortUnauthorized(c *gin.Context, message string) {
	c.Header("WWW-Authenticate", "Bearer")
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"error": gin.H{
			"code":    "unauthorized",
			"message": message,
		},
	})
}

// RequireAuth accepts only bearer tokens that verify AND whose subject still
// exists in the store. A token for a deleted user is as unauthorized as no
// token at all.
func (m *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			abortUnauthorized(c, "Missing or invalid Authorization header")
			return
		}

		raw := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer"))
		if raw == "" {
			abortUnauthorized(c, "Missing or invalid access token")
			return
		}

		claims, err := m.jwt.Validate(raw)
		if err != nil {
			abortUnauthorized(c, "Invalid or expired access token")
			return
		}

		u, err := m.users.GetByID(c.Request.Context(), claims.UserID)
		if err != nil {
			if errors.Is(err, user.ErrNotFound) {
				abortUnauthorized(c, "Invalid or expired access token")
				return
			}

			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"error": gin.H{
					"code":    "internal_error",
					"message": "Could not resolve user",
				},
			})
			return
		}

		SetAuthenticatedUser(c, u)

		c.Next()
	}
}

// SetAuthenticatedUser stashes the resolved identity on the context. Handler
// tests call it directly to simulate a request that passed RequireAuth.
func SetAuthenticatedUser(c *gin.Context, u user.User) {
	c.Set(ctxUserKey, u)
	c.Set(ctxUserIDKey, u.ID)
	c.Set(ctxEmailKey, u.Email)
}

// Helpers so handlers don't need to know the magic keys.

func UserFromContext(c *gin.Context) (user.User, bool) {
	v, ok := c.Get(ctxUserKey)
	if !ok {
		return user.User{}, false
	}
	u, ok := v.(user.User)
	return u, ok
}

func UserIDFromContext(c *gin.Context) (string, bool) {
	v, ok := c.Get(ctxUserIDKey)
	if !ok {
		return "", false
	}
	id, ok := v.(string)
	return id, ok
}
