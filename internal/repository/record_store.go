package repository

import (
	"sync"

	"github.com/noah-isme/attendance-dashboard/internal/models"
)

// RecordStore holds the raw collections fetched for one dashboard. Every setter
// replaces the full collection; the backend is the source of truth per fetch.
type RecordStore struct {
	mu       sync.RWMutex
	records  []models.AttendanceRecord
	sessions []models.Session
	courses  []models.Course
}

// NewRecordStore returns an empty store.
func NewRecordStore() *RecordStore {
	return &RecordStore{}
}

// SetRecords replaces the attendance records.
func (s *RecordStore) SetRecords(records []models.AttendanceRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append([]models.AttendanceRecord(nil), records...)
}

// Records returns a copy of all records in backend order.
func (s *RecordStore) Records() []models.AttendanceRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.AttendanceRecord(nil), s.records...)
}

// RecordsForCourse filters records by course preserving their order.
func (s *RecordStore) RecordsForCourse(courseID models.ID) []models.AttendanceRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.AttendanceRecord, 0, len(s.records))
	for _, r := range s.records {
		if r.CourseID == courseID {
			out = append(out, r)
		}
	}
	return out
}

// HasCompletedRecord reports whether a settled record exists for the session.
func (s *RecordStore) HasCompletedRecord(sessionID models.ID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.records {
		if r.SessionID == sessionID && r.Completed() {
			return true
		}
	}
	return false
}

// SetSessions replaces the session list.
func (s *RecordStore) SetSessions(sessions []models.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions = append([]models.Session(nil), sessions...)
}

// Sessions returns a copy of the session list.
func (s *RecordStore) Sessions() []models.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Session(nil), s.sessions...)
}

// SetCourses replaces the course list.
func (s *RecordStore) SetCourses(courses []models.Course) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.courses = append([]models.Course(nil), courses...)
}

// Courses returns a copy of the course list.
func (s *RecordStore) Courses() []models.Course {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Course(nil), s.courses...)
}

// Reset drops every collection.
func (s *RecordStore) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records, s.sessions, s.courses = nil, nil, nil
}
