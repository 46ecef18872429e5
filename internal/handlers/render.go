// Package handlers exposes the account and credential core over HTTP.
// Each handler owns a narrow consumer-defined interface of the services
// it calls, so tests run against small in-memory fakes.
package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/paulinevos/joindin-api/internal/apierr"
)

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// renderError maps a service error onto the wire. Internal details never
// leave the process; the taxonomy message is the caller-facing text.
func renderError(c *gin.Context, err error) {
	apiErr := apierr.From(err)
	msg := apiErr.Message
	if apiErr.Kind == apierr.KindInternal {
		msg = "An unexpected error occurred"
	}
	c.JSON(apiErr.Kind.Status(), errorResponse{Code: apiErr.Kind.Code(), Message: msg})
}
