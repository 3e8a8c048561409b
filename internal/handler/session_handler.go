package handler

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/attendance-dashboard/internal/dto"
	"github.com/noah-isme/attendance-dashboard/internal/middleware"
	"github.com/noah-isme/attendance-dashboard/internal/models"
	"github.com/noah-isme/attendance-dashboard/internal/service"
	appErrors "github.com/noah-isme/attendance-dashboard/pkg/errors"
	"github.com/noah-isme/attendance-dashboard/pkg/response"
)

type sessionRegistry interface {
	SignIn(ctx context.Context, req models.SignInRequest) (*service.Dashboard, error)
	SignOut(ctx context.Context, accessToken string) error
}

// SessionHandler creates and tears down dashboards.
type SessionHandler struct {
	registry sessionRegistry
}

// NewSessionHandler constructs the handler.
func NewSessionHandler(registry sessionRegistry) *SessionHandler {
	return &SessionHandler{registry: registry}
}

// SignIn godoc
// @Summary Start a dashboard session from a backend login response
// @Tags Session
// @Accept json
// @Produce json
// @Param payload body models.SignInRequest true "Backend login response"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /session [post]
func (h *SessionHandler) SignIn(c *gin.Context) {
	var req models.SignInRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid sign in payload"))
		return
	}

	dashboard, err := h.registry.SignIn(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	identity := dashboard.Identity()
	response.Created(c, dto.SignInResponse{
		DashboardID: identity.DashboardID,
		ExpiresAt:   identity.ExpiresAt,
		Dashboard:   dashboard.Snapshot(),
	})
}

// SignOut godoc
// @Summary End the dashboard session
// @Tags Session
// @Security BearerAuth
// @Success 204
// @Router /session [delete]
func (h *SessionHandler) SignOut(c *gin.Context) {
	token, err := middleware.BearerToken(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	if err := h.registry.SignOut(c.Request.Context(), token); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
