package models

import "time"

// ActivationState tracks whether a session is open for marking.
type ActivationState string

const (
	ActivationInactive     ActivationState = "inactive"
	ActivationActivating   ActivationState = "activating"
	ActivationActive       ActivationState = "active"
	ActivationDeactivating ActivationState = "deactivating"
)

// InFlight reports whether a transition is waiting on the backend.
func (s ActivationState) InFlight() bool {
	return s == ActivationActivating || s == ActivationDeactivating
}

// Session is a bounded window during which a lecturer accepts attendance marks.
type Session struct {
	ID        ID         `json:"id"`
	CourseID  ID         `json:"course_id"`
	Title     string     `json:"title,omitempty"`
	Location  string     `json:"location,omitempty"`
	StartTime *time.Time `json:"start_time,omitempty"`
	EndTime   *time.Time `json:"end_time,omitempty"`

	// ActivationState is derived locally and never sent to the backend.
	ActivationState ActivationState `json:"activation_state,omitempty"`
}

// Course is a lecturer-owned course as returned by /courses/my-courses.
type Course struct {
	ID             ID        `json:"id"`
	Code           string    `json:"code,omitempty"`
	Name           string    `json:"name"`
	ActiveSessions []Session `json:"active_sessions,omitempty"`
}

// MutationKind names the transition a mutation attempts.
type MutationKind string

const (
	MutationActivate   MutationKind = "activate"
	MutationDeactivate MutationKind = "deactivate"
)

// MutationPhase is the two-phase lifecycle of an optimistic mutation.
type MutationPhase string

const (
	MutationPending    MutationPhase = "pending"
	MutationConfirmed  MutationPhase = "confirmed"
	MutationRolledBack MutationPhase = "rolled_back"
)

// Mutation records the latest optimistic transition attempted for a session.
type Mutation struct {
	Kind      MutationKind    `json:"kind"`
	Phase     MutationPhase   `json:"phase"`
	From      ActivationState `json:"from"`
	StartedAt time.Time       `json:"started_at"`
	SettledAt *time.Time      `json:"settled_at,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// SessionActivation is the tracker's view of one session.
type SessionActivation struct {
	SessionID ID              `json:"session_id"`
	State     ActivationState `json:"state"`
	StartTime *time.Time      `json:"start_time,omitempty"`
	EndTime   *time.Time      `json:"end_time,omitempty"`
	Mutation  *Mutation       `json:"mutation,omitempty"`
}
