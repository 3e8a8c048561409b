package models

import "time"

// SessionAnalytics summarises one session of a course.
type SessionAnalytics struct {
	SessionID      ID         `json:"session_id"`
	Date           string     `json:"date"`
	PresentCount   int        `json:"present_count"`
	LateCount      int        `json:"late_count"`
	AbsentCount    int        `json:"absent_count"`
	AttendanceRate float64    `json:"attendance_rate"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
}

// StudentAnalytics summarises one enrolled student of a course.
type StudentAnalytics struct {
	StudentID      ID      `json:"student_id"`
	Name           string  `json:"name"`
	AttendanceRate float64 `json:"attendance_rate"`
	Absences       int     `json:"absences"`
}

// CourseAnalytics is the lecturer analytics payload for a course.
type CourseAnalytics struct {
	CourseID              ID                       `json:"course_id"`
	CourseName            string                   `json:"course_name"`
	TotalStudents         int                      `json:"total_students"`
	TotalSessions         int                      `json:"total_sessions"`
	AverageAttendanceRate float64                  `json:"average_attendance_rate"`
	StatusBreakdown       map[AttendanceStatus]int `json:"status_breakdown"`
	Sessions              []SessionAnalytics       `json:"sessions"`
	AtRiskStudents        []StudentAnalytics       `json:"at_risk_students"`
}

// AnalyticsSource tells consumers whether analytics came from the backend or the fallback.
type AnalyticsSource string

const (
	AnalyticsSourceBackend  AnalyticsSource = "backend"
	AnalyticsSourceFallback AnalyticsSource = "fallback"
)

// AnalyticsResult is either real backend data or a structurally identical fallback.
type AnalyticsResult struct {
	Source    AnalyticsSource `json:"source"`
	Analytics CourseAnalytics `json:"analytics"`
	FetchedAt time.Time       `json:"fetched_at"`

	// Reason carries the backend failure that triggered the fallback.
	Reason string `json:"reason,omitempty"`
}

// Unavailable reports whether the payload is fallback data.
func (r AnalyticsResult) Unavailable() bool {
	return r.Source == AnalyticsSourceFallback
}

// EmptyCourseAnalytics returns the zero payload for a course with every collection allocated,
// so the JSON shape matches a real backend response.
func EmptyCourseAnalytics(courseID ID) CourseAnalytics {
	return CourseAnalytics{
		CourseID:        courseID,
		StatusBreakdown: map[AttendanceStatus]int{},
		Sessions:        []SessionAnalytics{},
		AtRiskStudents:  []StudentAnalytics{},
	}
}

// SystemMetrics is a lightweight snapshot of gateway instrumentation.
type SystemMetrics struct {
	RequestsTotal            uint64    `json:"requests_total"`
	AverageRequestDurationMs float64   `json:"average_request_duration_ms"`
	BackendCalls             uint64    `json:"backend_calls"`
	BackendFailures          uint64    `json:"backend_failures"`
	AverageBackendDurationMs float64   `json:"average_backend_duration_ms"`
	IdentityCacheHits        uint64    `json:"identity_cache_hits"`
	IdentityCacheMisses      uint64    `json:"identity_cache_misses"`
	ActiveDashboards         int       `json:"active_dashboards"`
	Goroutines               int       `json:"goroutines"`
	GeneratedAt              time.Time `json:"generated_at"`
}
