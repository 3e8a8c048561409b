package dto

import (
	"time"

	"github.com/noah-isme/attendance-dashboard/internal/models"
)

// DashboardSnapshot is a read-only copy of one dashboard's state.
type DashboardSnapshot struct {
	DashboardID string                               `json:"dashboard_id"`
	User        models.UserInfo                      `json:"user"`
	Role        models.UserRole                      `json:"role"`
	Records     []models.AttendanceRecord            `json:"records"`
	Sessions    []models.Session                     `json:"sessions"`
	Courses     []models.Course                      `json:"courses"`
	Stats       models.AttendanceStats               `json:"stats"`
	Activations []models.SessionActivation           `json:"activations"`
	Analytics   map[models.ID]models.AnalyticsResult `json:"analytics"`
	Summary     models.Summary                       `json:"summary"`
	Loading     bool                                 `json:"loading"`
	Error       string                               `json:"error,omitempty"`
	GeneratedAt time.Time                            `json:"generated_at"`
}

// SignInResponse is returned once a dashboard has been created for a token.
type SignInResponse struct {
	DashboardID string            `json:"dashboard_id"`
	ExpiresAt   time.Time         `json:"expires_at"`
	Dashboard   DashboardSnapshot `json:"dashboard"`
}

// MarkAttendanceResponse wraps the backend acknowledgement with the refreshed stats.
type MarkAttendanceResponse struct {
	Result models.MarkAttendanceResult `json:"result"`
	Stats  models.AttendanceStats      `json:"stats"`
}

// SessionActivationResponse reports the tracker state after a transition.
type SessionActivationResponse struct {
	Activation models.SessionActivation `json:"activation"`
}
