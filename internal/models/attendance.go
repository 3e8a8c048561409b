package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// AttendanceStatus is the outcome recorded for one student in one session.
type AttendanceStatus string

const (
	AttendanceStatusPresent AttendanceStatus = "present"
	AttendanceStatusAbsent  AttendanceStatus = "absent"
	AttendanceStatusLate    AttendanceStatus = "late"
	AttendanceStatusExcused AttendanceStatus = "excused"
	AttendanceStatusPending AttendanceStatus = "pending"
)

// Valid returns true when the status is a supported value.
func (s AttendanceStatus) Valid() bool {
	switch s {
	case AttendanceStatusPresent, AttendanceStatusAbsent, AttendanceStatusLate, AttendanceStatusExcused, AttendanceStatusPending:
		return true
	default:
		return false
	}
}

// statusAliases folds the backend's wider status vocabulary into the dashboard's.
// A blank status takes the backend column default.
var statusAliases = map[string]AttendanceStatus{
	"leave":           AttendanceStatusExcused,
	"holiday":         AttendanceStatusExcused,
	"early_departure": AttendanceStatusPresent,
	"overtime":        AttendanceStatusPresent,
	"":                AttendanceStatusAbsent,
}

// ParseAttendanceStatus normalises case and backend aliases. Unknown values are an error.
func ParseAttendanceStatus(raw string) (AttendanceStatus, error) {
	value := strings.ToLower(strings.TrimSpace(raw))
	if alias, ok := statusAliases[value]; ok {
		return alias, nil
	}
	status := AttendanceStatus(value)
	if !status.Valid() {
		return "", fmt.Errorf("unknown attendance status %q", raw)
	}
	return status, nil
}

// UnmarshalText decodes through ParseAttendanceStatus so "PRESENT" and "present" decode alike.
func (s *AttendanceStatus) UnmarshalText(text []byte) error {
	status, err := ParseAttendanceStatus(string(text))
	if err != nil {
		return err
	}
	*s = status
	return nil
}

// AttendanceRecord is one attendance event of the signed-in student.
type AttendanceRecord struct {
	ID        ID               `json:"id"`
	CourseID  ID               `json:"course_id"`
	SessionID ID               `json:"session_id"`
	Status    AttendanceStatus `json:"status"`
	Timestamp time.Time        `json:"timestamp"`
}

// Completed reports whether the record settles the session for the student.
func (r AttendanceRecord) Completed() bool {
	return r.Status != AttendanceStatusPending
}

// MarkAttendanceResult is the backend acknowledgement of a face capture upload.
type MarkAttendanceResult struct {
	Success    bool             `json:"success"`
	Message    string           `json:"message"`
	Status     AttendanceStatus `json:"status,omitempty"`
	Confidence *float64         `json:"confidence,omitempty"`
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// UnmarshalJSON accepts the backend's naive ISO timestamps and falls back to
// created_at when no timestamp is present.
func (r *AttendanceRecord) UnmarshalJSON(data []byte) error {
	type alias AttendanceRecord
	var raw struct {
		alias
		Timestamp string `json:"timestamp"`
		CreatedAt string `json:"created_at"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*r = AttendanceRecord(raw.alias)
	if r.Status == "" {
		r.Status = AttendanceStatusAbsent
	}
	value := raw.Timestamp
	if value == "" {
		value = raw.CreatedAt
	}
	if value == "" {
		return nil
	}
	ts, err := parseTimestamp(value)
	if err != nil {
		return err
	}
	r.Timestamp = ts
	return nil
}

func parseTimestamp(value string) (time.Time, error) {
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported timestamp %q", value)
}
