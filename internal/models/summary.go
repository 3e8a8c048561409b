package models

// SummaryView names one of the backend's summary endpoints.
type SummaryView string

const (
	SummaryToday   SummaryView = "today"
	SummaryWeekly  SummaryView = "weekly"
	SummaryMonthly SummaryView = "monthly"
)

// Valid returns true when the view is a supported value.
func (v SummaryView) Valid() bool {
	switch v {
	case SummaryToday, SummaryWeekly, SummaryMonthly:
		return true
	default:
		return false
	}
}

// TodayAttendance is today's record for the signed-in user. The backend synthesises an
// absent record when nothing was captured yet.
type TodayAttendance struct {
	ID           ID               `json:"id"`
	UserID       ID               `json:"user_id"`
	Date         string           `json:"date"`
	CheckInTime  *string          `json:"check_in_time,omitempty"`
	CheckOutTime *string          `json:"check_out_time,omitempty"`
	TotalHours   *float64         `json:"total_hours,omitempty"`
	Status       AttendanceStatus `json:"status"`
	Location     *string          `json:"location,omitempty"`
}

// WeeklyStats mirrors the backend's weekly statistics payload.
type WeeklyStats struct {
	PresentDays    int     `json:"present_days"`
	TotalDays      int     `json:"total_days"`
	AvgHours       float64 `json:"avg_hours"`
	TotalHours     float64 `json:"total_hours"`
	AttendanceRate float64 `json:"attendance_rate"`
	WeekStart      string  `json:"week_start"`
	WeekEnd        string  `json:"week_end"`
}

// MonthlyStats mirrors the backend's monthly statistics payload.
type MonthlyStats struct {
	TotalDays      int     `json:"total_days"`
	PresentDays    int     `json:"present_days"`
	AbsentDays     int     `json:"absent_days"`
	LateDays       int     `json:"late_days"`
	OvertimeDays   int     `json:"overtime_days"`
	TotalHours     float64 `json:"total_hours"`
	AvgHours       float64 `json:"avg_hours"`
	OvertimeHours  float64 `json:"overtime_hours"`
	AttendanceRate float64 `json:"attendance_rate"`
	Month          string  `json:"month"`
}

// Summary holds whichever summary views have been loaded.
type Summary struct {
	Today   *TodayAttendance `json:"today,omitempty"`
	Weekly  *WeeklyStats     `json:"weekly,omitempty"`
	Monthly *MonthlyStats    `json:"monthly,omitempty"`
}
