package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"log/slog"

	"github.com/paulinevos/joindin-api/internal/account"
	"github.com/paulinevos/joindin-api/internal/storage"
)

type AccountService interface {
	Create(ctx context.Context, req account.CreateRequest) (int64, error)
	Update(ctx context.Context, caller account.Caller, targetID int64, req account.UpdateRequest) error
	Delete(ctx context.Context, caller account.Caller, targetID int64) error
	SetTrusted(ctx context.Context, caller account.Caller, targetID int64, req account.TrustedRequest) error
	RequestPasswordReset(ctx context.Context, username string) error
	Get(ctx context.Context, id int64) (*storage.User, error)
	GetByUsername(ctx context.Context, username string) (*storage.User, error)
}

type VerificationRedeemer interface {
	RedeemEmailVerification(ctx context.Context, tok string) error
	RedeemPasswordReset(ctx context.Context, tok string, newPassword string) error
}

type UserHandler struct {
	Service       AccountService
	Verifications VerificationRedeemer
	Logger        *slog.Logger
	BaseURL       string
}

func NewUserHandler(service AccountService, verifications VerificationRedeemer, logger *slog.Logger, baseURL string) *UserHandler {
	return &UserHandler{
		Service:       service,
		Verifications: verifications,
		Logger:        logger,
		BaseURL:       baseURL,
	}
}

// RegisterRoutes wires the user surface. authed guards the mutating
// endpoints that act on behalf of a logged-in caller.
func (h *UserHandler) RegisterRoutes(r gin.IRouter, authed gin.HandlerFunc) {
	r.POST("/v2.1/users", h.Register)
	r.POST("/v2.1/users/verifications", h.Verify)
	r.POST("/v2.1/users/passwords", h.ResetPassword)
	r.POST("/v2.1/emails/reset-password", h.RequestReset)
	r.GET("/v2.1/users", h.Lookup)
	r.GET("/v2.1/users/:id", h.Get)
	r.PUT("/v2.1/users/:id", authed, h.Update)
	r.DELETE("/v2.1/users/:id", authed, h.Delete)
	r.POST("/v2.1/users/:id/trusted", authed, h.SetTrusted)
}

type registerRequest struct {
	Username        string `json:"username"`
	FullName        string `json:"full_name"`
	Email           string `json:"email"`
	Password        string `json:"password"`
	TwitterUsername string `json:"twitter_username"`
	Biography       string `json:"biography"`
	AutoVerifyUser  bool   `json:"auto_verify_user"`
}

// Register creates a new account. The response body is empty; the new
// resource is announced through the Location header.
func (h *UserHandler) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Code: "VALIDATION_FAILED", Message: "Invalid request payload"})
		return
	}

	id, err := h.Service.Create(c.Request.Context(), account.CreateRequest{
		Username:        req.Username,
		FullName:        req.FullName,
		Email:           req.Email,
		Password:        req.Password,
		TwitterUsername: req.TwitterUsername,
		Biography:       req.Biography,
		AutoVerify:      req.AutoVerifyUser,
	})
	if err != nil {
		renderError(c, err)
		return
	}

	c.Header("Location", fmt.Sprintf("%s/v2.1/users/%d", h.BaseURL, id))
	c.Status(http.StatusCreated)
}

type verifyRequest struct {
	Token string `json:"token"`
}

func (h *UserHandler) Verify(c *gin.Context) {
	var req verifyRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Token == "" {
		c.JSON(http.StatusBadRequest, errorResponse{Code: "VALIDATION_FAILED", Message: "'token' is a required field"})
		return
	}

	if err := h.Verifications.RedeemEmailVerification(c.Request.Context(), req.Token); err != nil {
		renderError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type resetPasswordRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

func (h *UserHandler) ResetPassword(c *gin.Context) {
	var req resetPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Token == "" {
		c.JSON(http.StatusBadRequest, errorResponse{Code: "VALIDATION_FAILED", Message: "'token' is a required field"})
		return
	}

	if err := h.Verifications.RedeemPasswordReset(c.Request.Context(), req.Token, req.Password); err != nil {
		renderError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type requestResetRequest struct {
	Username string `json:"username"`
}

// RequestReset starts the forgot-password flow. The reset email is sent
// before the response returns, so acceptance means the mail went out.
func (h *UserHandler) RequestReset(c *gin.Context) {
	var req requestResetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Code: "VALIDATION_FAILED", Message: "Invalid request payload"})
		return
	}

	if err := h.Service.RequestPasswordReset(c.Request.Context(), req.Username); err != nil {
		renderError(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

type userView struct {
	URI             string `json:"uri"`
	Username        string `json:"username"`
	FullName        string `json:"full_name"`
	TwitterUsername string `json:"twitter_username"`
	Biography       string `json:"biography"`
	Verified        bool   `json:"verified"`
	Trusted         bool   `json:"trusted"`
	Admin           bool   `json:"admin"`
}

type usersResponse struct {
	Users []userView `json:"users"`
}

func (h *UserHandler) view(u *storage.User) userView {
	return userView{
		URI:             fmt.Sprintf("%s/v2.1/users/%d", h.BaseURL, u.ID),
		Username:        u.Username,
		FullName:        u.FullName,
		TwitterUsername: u.TwitterUsername,
		Biography:       u.Biography,
		Verified:        u.Verified,
		Trusted:         u.Trusted,
		Admin:           u.Admin,
	}
}

func (h *UserHandler) Get(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	user, err := h.Service.Get(c.Request.Context(), id)
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, usersResponse{Users: []userView{h.view(user)}})
}

func (h *UserHandler) Lookup(c *gin.Context) {
	username := c.Query("username")
	if username == "" {
		c.JSON(http.StatusBadRequest, errorResponse{Code: "VALIDATION_FAILED", Message: "'username' is a required field"})
		return
	}

	user, err := h.Service.GetByUsername(c.Request.Context(), username)
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, usersResponse{Users: []userView{h.view(user)}})
}

type updateRequest struct {
	Username        *string `json:"username"`
	FullName        *string `json:"full_name"`
	Email           *string `json:"email"`
	Password        *string `json:"password"`
	OldPassword     *string `json:"old_password"`
	TwitterUsername *string `json:"twitter_username"`
	Biography       *string `json:"biography"`
}

func (h *UserHandler) Update(c *gin.Context) {
	caller, ok := callerFrom(c)
	if !ok {
		unauthorized(c)
		return
	}
	id, ok := parseID(c)
	if !ok {
		return
	}

	var req updateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Code: "VALIDATION_FAILED", Message: "Invalid request payload"})
		return
	}

	err := h.Service.Update(c.Request.Context(), caller, id, account.UpdateRequest{
		Username:        req.Username,
		FullName:        req.FullName,
		Email:           req.Email,
		Password:        req.Password,
		OldPassword:     req.OldPassword,
		TwitterUsername: req.TwitterUsername,
		Biography:       req.Biography,
	})
	if err != nil {
		renderError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *UserHandler) Delete(c *gin.Context) {
	caller, ok := callerFrom(c)
	if !ok {
		unauthorized(c)
		return
	}
	id, ok := parseID(c)
	if !ok {
		return
	}

	if err := h.Service.Delete(c.Request.Context(), caller, id); err != nil {
		renderError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// SetTrusted decodes the trusted flag without losing the difference
// between an absent field, a genuine boolean and junk. The service
// settles authorization before it looks at the value, so the decode
// result is carried over verbatim.
func (h *UserHandler) SetTrusted(c *gin.Context) {
	caller, ok := callerFrom(c)
	if !ok {
		unauthorized(c)
		return
	}
	id, ok := parseID(c)
	if !ok {
		return
	}

	var body struct {
		Trusted json.RawMessage `json:"trusted"`
	}
	req := account.TrustedRequest{}
	if err := c.ShouldBindJSON(&body); err != nil {
		req.Malformed = true
	} else if len(body.Trusted) > 0 {
		var trusted bool
		if err := json.Unmarshal(body.Trusted, &trusted); err != nil {
			req.Malformed = true
		} else {
			req.Trusted = &trusted
		}
	}

	if err := h.Service.SetTrusted(c.Request.Context(), caller, id, req); err != nil {
		renderError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func parseID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusNotFound, errorResponse{Code: "NOT_FOUND", Message: "User not found"})
		return 0, false
	}
	return id, true
}
