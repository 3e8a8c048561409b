package models

import "time"

// UserRole mirrors the backend's role enumeration.
type UserRole string

const (
	RoleStudent  UserRole = "student"
	RoleLecturer UserRole = "lecturer"
	RoleAdmin    UserRole = "admin"
	RoleHOD      UserRole = "hod"
)

// Valid returns true when the role is a supported value.
func (r UserRole) Valid() bool {
	switch r {
	case RoleStudent, RoleLecturer, RoleAdmin, RoleHOD:
		return true
	default:
		return false
	}
}

// DashboardRole selects which data set the dashboard loads. Admins and heads of
// department manage classes the way lecturers do.
func (r UserRole) DashboardRole() UserRole {
	switch r {
	case RoleLecturer, RoleAdmin, RoleHOD:
		return RoleLecturer
	case RoleStudent:
		return RoleStudent
	default:
		return ""
	}
}

// UserInfo is the user object returned by the backend on login.
type UserInfo struct {
	ID           ID       `json:"id" validate:"required"`
	Email        string   `json:"email" validate:"required,email"`
	FullName     string   `json:"full_name"`
	Role         UserRole `json:"role" validate:"required,user_role"`
	MatricNumber *string  `json:"matric_number,omitempty"`
	StaffID      *string  `json:"staff_id,omitempty"`
	Department   *string  `json:"department,omitempty"`
}

// Identity is the signed-in user kept in session storage for the life of a dashboard.
// AccessToken never leaves the process; storage is keyed by its hash instead.
type Identity struct {
	DashboardID string    `json:"dashboard_id"`
	User        UserInfo  `json:"user"`
	AccessToken string    `json:"-"`
	ExpiresAt   time.Time `json:"expires_at"`
	SignedInAt  time.Time `json:"signed_in_at"`
}

// Role returns the dashboard role of the identity.
func (i Identity) Role() UserRole {
	return i.User.Role.DashboardRole()
}
