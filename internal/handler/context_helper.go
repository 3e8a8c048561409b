package handler

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/attendance-dashboard/internal/dto"
	"github.com/noah-isme/attendance-dashboard/internal/middleware"
	"github.com/noah-isme/attendance-dashboard/internal/models"
	"github.com/noah-isme/attendance-dashboard/internal/service"
)

// dashboardActions is the action set of one signed-in dashboard.
type dashboardActions interface {
	Identity() models.Identity
	Records() []models.AttendanceRecord
	Snapshot() dto.DashboardSnapshot
	RefreshData(ctx context.Context) error
	MarkAttendance(ctx context.Context, req service.MarkAttendanceRequest) (*models.MarkAttendanceResult, error)
	StatsForCourse(courseID models.ID) models.AttendanceStats
	ActivateSession(ctx context.Context, sessionID models.ID) (models.SessionActivation, error)
	DeactivateSession(ctx context.Context, sessionID models.ID) (models.SessionActivation, error)
	LoadCourseAnalytics(ctx context.Context, courseID models.ID) (models.AnalyticsResult, error)
	LoadSummary(ctx context.Context, view models.SummaryView) (models.Summary, error)
}

func dashboardFromContext(c *gin.Context) dashboardActions {
	value, exists := c.Get(middleware.ContextDashboardKey)
	if !exists {
		return nil
	}
	dashboard, ok := value.(dashboardActions)
	if !ok {
		return nil
	}
	return dashboard
}
