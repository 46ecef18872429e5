package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"log/slog"

	"github.com/paulinevos/joindin-api/internal/notify"
)

type ContactGate interface {
	ClientPermittedPasswordGrantWithSecret(ctx context.Context, clientID, clientSecret string) (bool, error)
}

type ContactMailer interface {
	SendContact(ctx context.Context, msg notify.ContactMessage) error
}

// ContactHandler forwards contact-form submissions by email. Only
// trusted clients proving their secret may submit.
type ContactHandler struct {
	Gate   ContactGate
	Mailer ContactMailer
	Logger *slog.Logger
}

func NewContactHandler(gate ContactGate, mailer ContactMailer, logger *slog.Logger) *ContactHandler {
	return &ContactHandler{Gate: gate, Mailer: mailer, Logger: logger}
}

func (h *ContactHandler) RegisterRoutes(r gin.IRouter) {
	r.POST("/v2.1/contact", h.Submit)
}

type contactRequest struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	Name         string `json:"name"`
	Email        string `json:"email"`
	Subject      string `json:"subject"`
	Comment      string `json:"comment"`
}

func (h *ContactHandler) Submit(c *gin.Context) {
	var req contactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Code: "VALIDATION_FAILED", Message: "Invalid request payload"})
		return
	}

	permitted, err := h.Gate.ClientPermittedPasswordGrantWithSecret(c.Request.Context(), req.ClientID, req.ClientSecret)
	if err != nil {
		h.Logger.Error("client check failed", "error", err)
		c.JSON(http.StatusInternalServerError, errorResponse{Code: "INTERNAL_ERROR", Message: "An unexpected error occurred"})
		return
	}
	if !permitted {
		c.JSON(http.StatusForbidden, errorResponse{Code: "FORBIDDEN", Message: "This client cannot perform this action"})
		return
	}

	var missing []string
	for _, field := range []struct {
		name  string
		value string
	}{
		{"name", req.Name},
		{"email", req.Email},
		{"subject", req.Subject},
		{"comment", req.Comment},
	} {
		if strings.TrimSpace(field.value) == "" {
			missing = append(missing, fmt.Sprintf("'%s'", field.name))
		}
	}
	if len(missing) > 0 {
		verb := "is"
		noun := "field"
		if len(missing) > 1 {
			verb = "are"
			noun = "fields"
		}
		c.JSON(http.StatusBadRequest, errorResponse{
			Code:    "VALIDATION_FAILED",
			Message: fmt.Sprintf("The %s %s %s required", noun, strings.Join(missing, ", "), verb),
		})
		return
	}

	err = h.Mailer.SendContact(c.Request.Context(), notify.ContactMessage{
		Name:    req.Name,
		Email:   req.Email,
		Subject: req.Subject,
		Comment: req.Comment,
	})
	if err != nil {
		h.Logger.Error("contact email failed", "error", err)
		c.JSON(http.StatusInternalServerError, errorResponse{Code: "INTERNAL_ERROR", Message: "An unexpected error occurred"})
		return
	}

	c.Status(http.StatusAccepted)
}
