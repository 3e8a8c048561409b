package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/attendance-dashboard/internal/models"
	"github.com/noah-isme/attendance-dashboard/internal/service"
	appErrors "github.com/noah-isme/attendance-dashboard/pkg/errors"
)

type fakeResolver struct {
	dashboard *service.Dashboard
	err       error
	tokens    []string
}

func (f *fakeResolver) Resolve(_ context.Context, token string) (*service.Dashboard, error) {
	f.tokens = append(f.tokens, token)
	return f.dashboard, f.err
}

func performRequest(router *gin.Engine, header string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestDashboardMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	dashboard := service.NewDashboard(service.DashboardParams{
		Identity: models.Identity{DashboardID: "dash-1", User: models.UserInfo{Role: models.RoleStudent}},
	})
	resolver := &fakeResolver{dashboard: dashboard}

	router := gin.New()
	router.GET("/protected", Dashboard(resolver), func(c *gin.Context) {
		value, ok := c.Get(ContextDashboardKey)
		require.True(t, ok)
		assert.Same(t, dashboard, value)
		assert.Equal(t, "abc.def.ghi", c.GetString(ContextTokenKey))
		c.Status(http.StatusOK)
	})

	assert.Equal(t, http.StatusOK, performRequest(router, "Bearer abc.def.ghi").Code)
	assert.Equal(t, []string{"abc.def.ghi"}, resolver.tokens)

	assert.Equal(t, http.StatusUnauthorized, performRequest(router, "").Code)
	assert.Equal(t, http.StatusUnauthorized, performRequest(router, "Basic dXNlcjpwYXNz").Code)
	assert.Len(t, resolver.tokens, 1)

	resolver.err = appErrors.Clone(appErrors.ErrUnauthorized, "no dashboard session for token")
	rec := performRequest(router, "Bearer stale")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "no dashboard session for token")
}

type recordedRequest struct {
	method string
	path   string
	status int
}

type fakeObserver struct {
	requests []recordedRequest
}

func (f *fakeObserver) ObserveHTTPRequest(method, path string, status int, _ time.Duration) {
	f.requests = append(f.requests, recordedRequest{method: method, path: path, status: status})
}

func TestMetricsMiddlewareUsesRouteTemplate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	observer := &fakeObserver{}
	router := gin.New()
	router.Use(Metrics(observer))
	router.POST("/sessions/:sessionId/activate", func(c *gin.Context) { c.Status(http.StatusConflict) })

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/sessions/17/activate", nil))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nowhere/123", nil))

	assert.Equal(t, []recordedRequest{
		{method: http.MethodPost, path: "/sessions/:sessionId/activate", status: http.StatusConflict},
		{method: http.MethodGet, path: "unmatched", status: http.StatusNotFound},
	}, observer.requests)
}
