package models

// StatsStatus classifies an attendance rate.
type StatsStatus string

const (
	StatsStatusNoData  StatsStatus = "no-data"
	StatsStatusPoor    StatsStatus = "poor"
	StatsStatusWarning StatsStatus = "warning"
	StatsStatusGood    StatsStatus = "good"
)

// AttendanceStats is derived from a record list and never persisted.
type AttendanceStats struct {
	TotalSessions   int         `json:"total_sessions"`
	PresentSessions int         `json:"present_sessions"`
	LateSessions    int         `json:"late_sessions"`
	AbsentSessions  int         `json:"absent_sessions"`
	AttendanceRate  int         `json:"attendance_rate"`
	Status          StatsStatus `json:"status"`
}
