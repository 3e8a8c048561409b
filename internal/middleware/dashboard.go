package middleware

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/attendance-dashboard/internal/service"
	appErrors "github.com/noah-isme/attendance-dashboard/pkg/errors"
	"github.com/noah-isme/attendance-dashboard/pkg/response"
)

const (
	// ContextDashboardKey is the gin context key storing the caller's dashboard.
	ContextDashboardKey = "currentDashboard"
	// ContextTokenKey is the gin context key storing the caller's access token.
	ContextTokenKey = "accessToken"
)

type dashboardResolver interface {
	Resolve(ctx context.Context, accessToken string) (*service.Dashboard, error)
}

// BearerToken extracts the access token from the Authorization header.
func BearerToken(c *gin.Context) (string, error) {
	header := c.GetHeader("Authorization")
	if header == "" {
		return "", appErrors.ErrUnauthorized
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", appErrors.Clone(appErrors.ErrUnauthorized, "invalid authorization header")
	}
	return strings.TrimSpace(parts[1]), nil
}

// Dashboard resolves the caller's dashboard from the bearer token.
func Dashboard(resolver dashboardResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := BearerToken(c)
		if err != nil {
			response.Error(c, err)
			c.Abort()
			return
		}

		dashboard, err := resolver.Resolve(c.Request.Context(), token)
		if err != nil {
			response.Error(c, err)
			c.Abort()
			return
		}

		c.Set(ContextTokenKey, token)
		c.Set(ContextDashboardKey, dashboard)
		c.Next()
	}
}
