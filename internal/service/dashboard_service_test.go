package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/attendance-dashboard/internal/dto"
	"github.com/noah-isme/attendance-dashboard/internal/models"
	appErrors "github.com/noah-isme/attendance-dashboard/pkg/errors"
)

var pngCapture = append([]byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"), make([]byte, 32)...)

func identityFor(role models.UserRole) models.Identity {
	return models.Identity{
		DashboardID: "dash-1",
		User:        models.UserInfo{ID: "42", Email: "user@campus.edu", FullName: "Test User", Role: role},
		AccessToken: "token",
		ExpiresAt:   time.Date(2024, 3, 4, 18, 0, 0, 0, time.UTC),
	}
}

func newTestDashboard(role models.UserRole, api DashboardAPI, cfg DashboardConfig) *Dashboard {
	clock := newFixedClock()
	return NewDashboard(DashboardParams{
		Identity: identityFor(role),
		API:      api,
		Config:   cfg,
		Now:      clock.Now,
	})
}

// blockingMarkAPI holds MarkAttendance until release is closed.
type blockingMarkAPI struct {
	*fakeDashboardAPI
	started chan struct{}
	release chan struct{}
}

func (b *blockingMarkAPI) MarkAttendance(ctx context.Context, sessionID models.ID, image []byte, filename, contentType string) (*models.MarkAttendanceResult, error) {
	close(b.started)
	<-b.release
	return b.fakeDashboardAPI.MarkAttendance(ctx, sessionID, image, filename, contentType)
}

// blockingActivateAPI holds ActivateSession until release is closed.
type blockingActivateAPI struct {
	*fakeDashboardAPI
	started chan struct{}
	release chan struct{}
}

func (b *blockingActivateAPI) ActivateSession(ctx context.Context, sessionID models.ID) error {
	close(b.started)
	<-b.release
	return b.fakeDashboardAPI.ActivateSession(ctx, sessionID)
}

func TestDashboardMarkAttendanceTriggersOneStudentReload(t *testing.T) {
	api := &fakeDashboardAPI{
		records: recordsWithStatuses(models.AttendanceStatusPresent),
	}
	dashboard := newTestDashboard(models.RoleStudent, api, DashboardConfig{MaxUploadBytes: 1024})

	result, err := dashboard.MarkAttendance(context.Background(), MarkAttendanceRequest{SessionID: "s7", Image: pngCapture})
	require.NoError(t, err)
	assert.True(t, result.Success)

	assert.Equal(t, 1, api.callCount("mark"))
	assert.Equal(t, 2, api.callCount("my-attendance"))
	assert.Equal(t, 1, api.callCount("available-sessions"))
	assert.Equal(t, 4, api.totalCalls(), "one upload plus three fetches")

	require.Len(t, api.marks, 1)
	assert.Equal(t, "image/png", api.marks[0].contentType)
	assert.Equal(t, "capture.png", api.marks[0].filename)
	assert.Len(t, dashboard.Records(), 1)
}

func TestDashboardMarkAttendancePropagatesBackendMessage(t *testing.T) {
	api := &fakeDashboardAPI{markErr: appErrors.Backend(400, "Face not recognized")}
	dashboard := newTestDashboard(models.RoleStudent, api, DashboardConfig{})

	_, err := dashboard.MarkAttendance(context.Background(), MarkAttendanceRequest{SessionID: "s7", Image: pngCapture})
	require.Error(t, err)
	assert.Equal(t, "Face not recognized", err.Error())
	assert.Equal(t, 400, appErrors.FromError(err).Status)
	assert.Equal(t, "Face not recognized", dashboard.Snapshot().Error)
	assert.Equal(t, 1, api.totalCalls(), "failed marks do not reload")
}

func TestDashboardMarkAttendanceValidation(t *testing.T) {
	api := &fakeDashboardAPI{}
	dashboard := newTestDashboard(models.RoleStudent, api, DashboardConfig{MaxUploadBytes: 16})

	_, err := dashboard.MarkAttendance(context.Background(), MarkAttendanceRequest{SessionID: "s7"})
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	_, err = dashboard.MarkAttendance(context.Background(), MarkAttendanceRequest{SessionID: "s7", Image: pngCapture})
	assert.ErrorIs(t, err, appErrors.ErrValidation, "too large")

	dashboard = newTestDashboard(models.RoleStudent, api, DashboardConfig{})
	_, err = dashboard.MarkAttendance(context.Background(), MarkAttendanceRequest{SessionID: "s7", Image: []byte("plain text, not an image")})
	require.ErrorIs(t, err, appErrors.ErrValidation)
	assert.Contains(t, err.Error(), "unsupported image type")

	assert.Zero(t, api.callCount("mark"))
}

func TestDashboardMarkAttendanceRejectsCompletedSession(t *testing.T) {
	records := recordsWithStatuses(models.AttendanceStatusPresent, models.AttendanceStatusPending)
	api := &fakeDashboardAPI{records: records}
	dashboard := newTestDashboard(models.RoleStudent, api, DashboardConfig{})
	require.NoError(t, dashboard.RefreshData(context.Background()))

	_, err := dashboard.MarkAttendance(context.Background(), MarkAttendanceRequest{SessionID: records[0].SessionID, Image: pngCapture})
	assert.ErrorIs(t, err, appErrors.ErrConflict)

	_, err = dashboard.MarkAttendance(context.Background(), MarkAttendanceRequest{SessionID: records[1].SessionID, Image: pngCapture})
	assert.NoError(t, err, "pending records may still be completed")
}

func TestDashboardMarkAttendanceRejectsConcurrentMark(t *testing.T) {
	api := &blockingMarkAPI{fakeDashboardAPI: &fakeDashboardAPI{}, started: make(chan struct{}), release: make(chan struct{})}
	dashboard := newTestDashboard(models.RoleStudent, api, DashboardConfig{})

	done := make(chan error, 1)
	go func() {
		_, err := dashboard.MarkAttendance(context.Background(), MarkAttendanceRequest{SessionID: "s7", Image: pngCapture})
		done <- err
	}()
	<-api.started

	_, err := dashboard.MarkAttendance(context.Background(), MarkAttendanceRequest{SessionID: "s7", Image: pngCapture})
	assert.ErrorIs(t, err, appErrors.ErrConflict)

	close(api.release)
	require.NoError(t, <-done)
	assert.Equal(t, 1, api.callCount("mark"))
}

func TestDashboardRoleGuards(t *testing.T) {
	api := &fakeDashboardAPI{}
	lecturer := newTestDashboard(models.RoleLecturer, api, DashboardConfig{})
	_, err := lecturer.MarkAttendance(context.Background(), MarkAttendanceRequest{SessionID: "s7", Image: pngCapture})
	assert.ErrorIs(t, err, appErrors.ErrForbidden)

	student := newTestDashboard(models.RoleStudent, api, DashboardConfig{})
	_, err = student.ActivateSession(context.Background(), "s1")
	assert.ErrorIs(t, err, appErrors.ErrForbidden)
	_, err = student.LoadCourseAnalytics(context.Background(), "c1")
	assert.ErrorIs(t, err, appErrors.ErrForbidden)

	assert.Zero(t, api.totalCalls())
}

func TestDashboardActivateSessionRefreshesLecturerSessions(t *testing.T) {
	api := &fakeDashboardAPI{
		courses: []models.Course{{ID: "c1", ActiveSessions: []models.Session{{ID: "s1"}}}},
	}
	dashboard := newTestDashboard(models.RoleHOD, api, DashboardConfig{})

	activation, err := dashboard.ActivateSession(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, models.ActivationActive, activation.State)
	assert.Equal(t, models.MutationConfirmed, activation.Mutation.Phase)
	assert.Equal(t, []models.ID{"s1"}, api.activated)
	assert.Equal(t, 1, api.callCount("my-courses"))

	snapshot := dashboard.Snapshot()
	require.Len(t, snapshot.Sessions, 1)
	assert.Equal(t, models.ActivationActive, snapshot.Sessions[0].ActivationState)
	assert.Equal(t, models.RoleLecturer, snapshot.Role)

	api.mu.Lock()
	api.courses = []models.Course{{ID: "c1"}}
	api.mu.Unlock()
	activation, err = dashboard.DeactivateSession(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, models.ActivationInactive, activation.State)
	assert.Equal(t, []models.ID{"s1"}, api.deactivated)
	assert.Empty(t, dashboard.Snapshot().Sessions)
}

func TestDashboardActivateSessionFailureRollsBack(t *testing.T) {
	api := &fakeDashboardAPI{activateErr: appErrors.Backend(404, "Session not found")}
	dashboard := newTestDashboard(models.RoleLecturer, api, DashboardConfig{})

	activation, err := dashboard.ActivateSession(context.Background(), "s1")
	require.Error(t, err)
	assert.Equal(t, "Session not found", err.Error())
	assert.Equal(t, models.ActivationInactive, activation.State)
	assert.Equal(t, models.MutationRolledBack, activation.Mutation.Phase)
	assert.Zero(t, api.callCount("my-courses"), "no refetch after a failed mutation")
	assert.Equal(t, "Session not found", dashboard.Snapshot().Error)
}

func TestDashboardActivateSessionRejectsSecondCallInFlight(t *testing.T) {
	api := &blockingActivateAPI{
		fakeDashboardAPI: &fakeDashboardAPI{courses: []models.Course{{ID: "c1", ActiveSessions: []models.Session{{ID: "s1"}}}}},
		started:          make(chan struct{}),
		release:          make(chan struct{}),
	}
	dashboard := newTestDashboard(models.RoleLecturer, api, DashboardConfig{})

	done := make(chan error, 1)
	go func() {
		_, err := dashboard.ActivateSession(context.Background(), "s1")
		done <- err
	}()
	<-api.started
	assert.Equal(t, models.ActivationActivating, dashboard.Activation("s1").State)

	_, err := dashboard.ActivateSession(context.Background(), "s1")
	assert.ErrorIs(t, err, appErrors.ErrConflict)

	close(api.release)
	require.NoError(t, <-done)
	assert.Equal(t, models.ActivationActive, dashboard.Activation("s1").State)
	assert.Equal(t, 1, api.callCount("activate"))
}

func TestDashboardDeactivateInactiveSessionConflicts(t *testing.T) {
	api := &fakeDashboardAPI{}
	dashboard := newTestDashboard(models.RoleLecturer, api, DashboardConfig{})

	_, err := dashboard.DeactivateSession(context.Background(), "s1")
	assert.ErrorIs(t, err, appErrors.ErrConflict)
	assert.Equal(t, models.ActivationInactive, dashboard.Activation("s1").State)
	assert.Zero(t, api.callCount("deactivate"))
}

func TestDashboardLoadCourseAnalytics(t *testing.T) {
	analytics := models.EmptyCourseAnalytics("c1")
	analytics.CourseName = "Algorithms"
	analytics.TotalStudents = 30
	api := &fakeDashboardAPI{analytics: &analytics}
	dashboard := newTestDashboard(models.RoleLecturer, api, DashboardConfig{AnalyticsFallback: true})

	result, err := dashboard.LoadCourseAnalytics(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, models.AnalyticsSourceBackend, result.Source)
	assert.False(t, result.Unavailable())
	assert.Equal(t, 30, result.Analytics.TotalStudents)

	api.analytics = nil
	api.analyticsErr = appErrors.Clone(appErrors.ErrNetwork, "backend unreachable")
	result, err = dashboard.LoadCourseAnalytics(context.Background(), "c1")
	require.NoError(t, err)
	assert.True(t, result.Unavailable())
	assert.Equal(t, models.EmptyCourseAnalytics("c1"), result.Analytics)
	assert.Equal(t, "backend unreachable", result.Reason)

	cached := dashboard.Snapshot().Analytics
	require.Contains(t, cached, models.ID("c1"))
	assert.Equal(t, models.AnalyticsSourceFallback, cached["c1"].Source, "refetch replaces the entry")
}

func TestDashboardLoadCourseAnalyticsWithoutFallback(t *testing.T) {
	api := &fakeDashboardAPI{analyticsErr: appErrors.Backend(503, "maintenance")}
	dashboard := newTestDashboard(models.RoleLecturer, api, DashboardConfig{})

	_, err := dashboard.LoadCourseAnalytics(context.Background(), "c1")
	require.Error(t, err)
	assert.Equal(t, "maintenance", err.Error())
	assert.Empty(t, dashboard.Snapshot().Analytics)
}

func TestDashboardLoadCourseAnalyticsForbiddenIsNotMasked(t *testing.T) {
	api := &fakeDashboardAPI{analyticsErr: appErrors.Backend(403, "Not your course")}
	dashboard := newTestDashboard(models.RoleLecturer, api, DashboardConfig{AnalyticsFallback: true})

	_, err := dashboard.LoadCourseAnalytics(context.Background(), "c1")
	require.Error(t, err)
	assert.Equal(t, "Not your course", err.Error())
}

func TestFallbackEligible(t *testing.T) {
	assert.True(t, fallbackEligible(appErrors.ErrNetwork))
	assert.True(t, fallbackEligible(appErrors.Backend(500, "boom")))
	assert.True(t, fallbackEligible(appErrors.Backend(404, "Not Found")))
	assert.False(t, fallbackEligible(appErrors.Backend(422, "bad id")))
	assert.False(t, fallbackEligible(errors.New("decode failure")))
}

func TestDashboardLoadSummary(t *testing.T) {
	api := &fakeDashboardAPI{
		today:   &models.TodayAttendance{ID: "1", Date: "2024-03-04", Status: models.AttendanceStatusPresent},
		monthly: &models.MonthlyStats{TotalDays: 20, PresentDays: 18, Month: "2024-03"},
	}
	dashboard := newTestDashboard(models.RoleStudent, api, DashboardConfig{})

	summary, err := dashboard.LoadSummary(context.Background(), models.SummaryToday)
	require.NoError(t, err)
	require.NotNil(t, summary.Today)
	assert.Nil(t, summary.Monthly)

	summary, err = dashboard.LoadSummary(context.Background(), models.SummaryMonthly)
	require.NoError(t, err)
	assert.NotNil(t, summary.Today, "earlier views are kept")
	assert.Equal(t, 18, summary.Monthly.PresentDays)

	_, err = dashboard.LoadSummary(context.Background(), models.SummaryView("yearly"))
	assert.ErrorIs(t, err, appErrors.ErrValidation)
}

func TestDashboardStatsForCourse(t *testing.T) {
	records := []models.AttendanceRecord{
		{ID: "1", CourseID: "c1", SessionID: "s1", Status: models.AttendanceStatusPresent},
		{ID: "2", CourseID: "c2", SessionID: "s2", Status: models.AttendanceStatusAbsent},
		{ID: "3", CourseID: "c1", SessionID: "s3", Status: models.AttendanceStatusAbsent},
	}
	dashboard := newTestDashboard(models.RoleStudent, &fakeDashboardAPI{records: records}, DashboardConfig{})
	require.NoError(t, dashboard.RefreshData(context.Background()))

	c1 := dashboard.StatsForCourse("c1")
	assert.Equal(t, 2, c1.TotalSessions)
	assert.Equal(t, 50, c1.AttendanceRate)
	assert.Equal(t, models.StatsStatusPoor, c1.Status)

	all := dashboard.StatsForCourse("")
	assert.Equal(t, 3, all.TotalSessions)
	assert.Equal(t, models.StatsStatusNoData, dashboard.StatsForCourse("c9").Status)
}

func TestDashboardSubscribe(t *testing.T) {
	api := &fakeDashboardAPI{records: recordsWithStatuses(models.AttendanceStatusPresent)}
	dashboard := newTestDashboard(models.RoleStudent, api, DashboardConfig{})

	var mu sync.Mutex
	var snapshots []dto.DashboardSnapshot
	unsubscribe := dashboard.Subscribe(func(s dto.DashboardSnapshot) {
		mu.Lock()
		snapshots = append(snapshots, s)
		mu.Unlock()
	})

	require.NoError(t, dashboard.RefreshData(context.Background()))
	mu.Lock()
	require.GreaterOrEqual(t, len(snapshots), 2)
	assert.True(t, snapshots[0].Loading)
	last := snapshots[len(snapshots)-1]
	mu.Unlock()
	assert.False(t, last.Loading)
	assert.Len(t, last.Records, 1)

	unsubscribe()
	mu.Lock()
	seen := len(snapshots)
	mu.Unlock()
	require.NoError(t, dashboard.RefreshData(context.Background()))
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, seen, len(snapshots))
}

func TestDashboardSubscribeDuringConcurrentRefreshes(t *testing.T) {
	api := &fakeDashboardAPI{courses: []models.Course{{ID: "c1", ActiveSessions: []models.Session{{ID: "s1"}}}}}
	dashboard := newTestDashboard(models.RoleLecturer, api, DashboardConfig{})

	var mu sync.Mutex
	delivered := 0
	dashboard.Subscribe(func(dto.DashboardSnapshot) {
		mu.Lock()
		delivered++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, dashboard.RefreshData(context.Background()))
		}()
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.GreaterOrEqual(t, delivered, 16)
	snapshot := dashboard.Snapshot()
	assert.False(t, snapshot.Loading)
	assert.Equal(t, models.ActivationActive, dashboard.Activation("s1").State)
}

func TestDashboardClose(t *testing.T) {
	api := &fakeDashboardAPI{records: recordsWithStatuses(models.AttendanceStatusPresent)}
	dashboard := newTestDashboard(models.RoleStudent, api, DashboardConfig{})
	require.NoError(t, dashboard.RefreshData(context.Background()))

	dashboard.Close()
	dashboard.Close()
	assert.True(t, dashboard.Closed())
	assert.Empty(t, dashboard.Records())
	assert.ErrorIs(t, dashboard.RefreshData(context.Background()), appErrors.ErrSessionClosed)
	_, err := dashboard.MarkAttendance(context.Background(), MarkAttendanceRequest{SessionID: "s1", Image: pngCapture})
	assert.ErrorIs(t, err, appErrors.ErrSessionClosed)
	_, err = dashboard.LoadSummary(context.Background(), models.SummaryToday)
	assert.ErrorIs(t, err, appErrors.ErrSessionClosed)
}
