package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"log/slog"

	"github.com/paulinevos/joindin-api/internal/apierr"
	"github.com/paulinevos/joindin-api/internal/rate"
	"github.com/paulinevos/joindin-api/internal/token"
	"github.com/paulinevos/joindin-api/libs/metrics"
)

type GrantIssuer interface {
	IssueFromPasswordGrant(ctx context.Context, clientID, clientSecret, username, password string) (*token.Grant, error)
}

type TokenHandler struct {
	Issuer  GrantIssuer
	Limiter rate.Limiter
	Logger  *slog.Logger
	Clock   Clock
}

func NewTokenHandler(issuer GrantIssuer, limiter rate.Limiter, logger *slog.Logger) *TokenHandler {
	return &TokenHandler{
		Issuer:  issuer,
		Limiter: limiter,
		Logger:  logger,
		Clock:   systemClock{},
	}
}

func (h *TokenHandler) RegisterRoutes(r gin.IRouter) {
	r.POST("/v2.1/token", h.Issue)
}

type tokenRequest struct {
	GrantType    string `json:"grant_type"`
	Username     string `json:"username"`
	Password     string `json:"password"`
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	UserURI     string `json:"user_uri"`
}

// Issue handles the password grant exchange. Attempts are rate limited
// per source address before any credential is inspected.
func (h *TokenHandler) Issue(c *gin.Context) {
	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Code: "VALIDATION_FAILED", Message: "Invalid request payload"})
		return
	}

	if req.GrantType != "password" {
		c.JSON(http.StatusBadRequest, errorResponse{Code: "VALIDATION_FAILED", Message: "Grant type not recognised"})
		return
	}

	ip := c.ClientIP()
	allowed, retryAfter, err := h.Limiter.Allow(c.Request.Context(), ip, h.Clock.Now())
	if err != nil {
		h.Logger.Error("rate limiter failed", "error", err)
		allowed = true
	}
	if !allowed {
		metrics.LoginAttempts.WithLabelValues("rate_limited").Inc()
		c.Header("Retry-After", strconv.Itoa(int(retryAfter/time.Second)+1))
		c.JSON(http.StatusTooManyRequests, errorResponse{Code: "RATE_LIMITED", Message: "Too many login attempts. Try again later"})
		return
	}

	grant, err := h.Issuer.IssueFromPasswordGrant(c.Request.Context(), req.ClientID, req.ClientSecret, req.Username, req.Password)
	if err != nil {
		metrics.LoginAttempts.WithLabelValues("failure").Inc()
		apiErr := apierr.From(err)
		if apiErr.Kind == apierr.KindInternal {
			h.Logger.Error("password grant failed", "error", err)
		}
		renderError(c, err)
		return
	}

	metrics.LoginAttempts.WithLabelValues("success").Inc()
	c.JSON(http.StatusOK, tokenResponse{AccessToken: grant.AccessToken, UserURI: grant.UserURI})
}
