package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/paulinevos/joindin-api/internal/account"
	"github.com/paulinevos/joindin-api/internal/storage"
)

const callerKey = "auth.caller"

type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

type TokenStore interface {
	GetAccessToken(ctx context.Context, token string) (*storage.AccessToken, error)
}

// RequireToken authenticates the request from its bearer token and
// stashes the resolved caller on the context. Expired and revoked
// tokens read the same as unknown ones.
func RequireToken(store TokenStore, clock Clock) gin.HandlerFunc {
	if clock == nil {
		clock = systemClock{}
	}
	return func(c *gin.Context) {
		raw := strings.TrimSpace(c.GetHeader("Authorization"))
		scheme, value, found := strings.Cut(raw, " ")
		if !found || !strings.EqualFold(scheme, "Bearer") || value == "" {
			unauthorized(c)
			return
		}

		at, err := store.GetAccessToken(c.Request.Context(), strings.TrimSpace(value))
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				unauthorized(c)
				return
			}
			c.AbortWithStatusJSON(http.StatusInternalServerError,
				errorResponse{Code: "INTERNAL_ERROR", Message: "An unexpected error occurred"})
			return
		}

		now := clock.Now()
		if at.RevokedAt != nil || !at.ExpiresAt.After(now) {
			unauthorized(c)
			return
		}

		c.Set(callerKey, account.Caller{UserID: at.UserID, ClientID: at.ClientID})
		c.Next()
	}
}

func unauthorized(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusUnauthorized,
		errorResponse{Code: "UNAUTHORIZED", Message: "You must be logged in to perform this action"})
}

func callerFrom(c *gin.Context) (account.Caller, bool) {
	v, ok := c.Get(callerKey)
	if !ok {
		return account.Caller{}, false
	}
	caller, ok := v.(account.Caller)
	return caller, ok
}
