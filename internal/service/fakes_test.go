package service

import (
	"context"
	"sync"
	"time"

	"github.com/noah-isme/attendance-dashboard/internal/models"
)

const (
	testTimeout = 2 * time.Second
	testTick    = 5 * time.Millisecond
)

type markCall struct {
	sessionID   models.ID
	image       []byte
	filename    string
	contentType string
}

// fakeDashboardAPI serves canned backend payloads and counts every call.
type fakeDashboardAPI struct {
	mu sync.Mutex

	records     []models.AttendanceRecord
	recordsErr  error
	sessions    []models.Session
	sessionsErr error
	courses     []models.Course
	coursesErr  error

	markResult *models.MarkAttendanceResult
	markErr    error
	marks      []markCall

	analytics    *models.CourseAnalytics
	analyticsErr error

	activateErr   error
	deactivateErr error
	activated     []models.ID
	deactivated   []models.ID

	today      *models.TodayAttendance
	weekly     *models.WeeklyStats
	monthly    *models.MonthlyStats
	summaryErr error

	// gate blocks MyCourses until closed when set.
	gate chan struct{}

	calls map[string]int
}

func (f *fakeDashboardAPI) count(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	f.calls[name]++
}

func (f *fakeDashboardAPI) callCount(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *fakeDashboardAPI) totalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := 0
	for _, n := range f.calls {
		total += n
	}
	return total
}

func (f *fakeDashboardAPI) resetCalls() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = nil
}

func (f *fakeDashboardAPI) MyAttendance(context.Context, models.ID) ([]models.AttendanceRecord, error) {
	f.count("my-attendance")
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.AttendanceRecord(nil), f.records...), f.recordsErr
}

func (f *fakeDashboardAPI) AvailableSessions(context.Context) ([]models.Session, error) {
	f.count("available-sessions")
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.Session(nil), f.sessions...), f.sessionsErr
}

func (f *fakeDashboardAPI) MyCourses(ctx context.Context) ([]models.Course, error) {
	f.count("my-courses")
	f.mu.Lock()
	gate := f.gate
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.Course(nil), f.courses...), f.coursesErr
}

func (f *fakeDashboardAPI) MarkAttendance(_ context.Context, sessionID models.ID, image []byte, filename, contentType string) (*models.MarkAttendanceResult, error) {
	f.count("mark")
	f.mu.Lock()
	defer f.mu.Unlock()
	f.marks = append(f.marks, markCall{sessionID: sessionID, image: image, filename: filename, contentType: contentType})
	if f.markErr != nil {
		return nil, f.markErr
	}
	if f.markResult != nil {
		return f.markResult, nil
	}
	return &models.MarkAttendanceResult{Success: true, Status: models.AttendanceStatusPresent}, nil
}

func (f *fakeDashboardAPI) CourseAnalytics(_ context.Context, courseID models.ID) (*models.CourseAnalytics, error) {
	f.count("analytics")
	if f.analyticsErr != nil {
		return nil, f.analyticsErr
	}
	if f.analytics != nil {
		return f.analytics, nil
	}
	empty := models.EmptyCourseAnalytics(courseID)
	return &empty, nil
}

func (f *fakeDashboardAPI) ActivateSession(_ context.Context, sessionID models.ID) error {
	f.count("activate")
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.activateErr != nil {
		return f.activateErr
	}
	f.activated = append(f.activated, sessionID)
	return nil
}

func (f *fakeDashboardAPI) DeactivateSession(_ context.Context, sessionID models.ID) error {
	f.count("deactivate")
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deactivateErr != nil {
		return f.deactivateErr
	}
	f.deactivated = append(f.deactivated, sessionID)
	return nil
}

func (f *fakeDashboardAPI) Today(context.Context) (*models.TodayAttendance, error) {
	f.count("today")
	return f.today, f.summaryErr
}

func (f *fakeDashboardAPI) WeeklyStats(context.Context) (*models.WeeklyStats, error) {
	f.count("weekly")
	return f.weekly, f.summaryErr
}

func (f *fakeDashboardAPI) MonthlyStats(context.Context) (*models.MonthlyStats, error) {
	f.count("monthly")
	return f.monthly, f.summaryErr
}

type fakeLoadMetrics struct {
	fakeMutationMetrics
	loads []error
}

func (f *fakeLoadMetrics) ObserveLoad(_ models.UserRole, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loads = append(f.loads, err)
}
