package identity

import (
	"time"

	"attendtrack/internal/auth"
)

// User is a registered person. Admins manage the roster, users are the ones
// whose attendance is tracked.
type User struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Email         string    `json:"email"`
	PasswordHash  string    `json:"-"`
	Role          string    `json:"role"`
	Department    string    `json:"department,omitempty"`
	EmployeeID    string    `json:"employeeId,omitempty"`
	ImageURL      string    `json:"imageUrl,omitempty"`
	ImagePublicID string    `json:"-"`
	IsActive      bool      `json:"isActive"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// NewUser is the input of a registration.
type NewUser struct {
	Name       string
	Email      string
	Password   string
	Role       string
	Department string
	EmployeeID string
	// Image is an optional base64 data URL.
	Image string
}

// UserPatch changes selected fields. Nil fields are left alone.
type UserPatch struct {
	Name       *string
	Email      *string
	Role       *string
	Department *string
	EmployeeID *string
	IsActive   *bool
	Image      *string
}

// UserFilter narrows List. Search matches name, email or employee id.
type UserFilter struct {
	Role       string
	Department string
	Search     string
}

// DepartmentCount is one row of the per-department breakdown.
type DepartmentCount struct {
	Department string `json:"department"`
	Count      int    `json:"count"`
}

// Stats summarises the roster.
type Stats struct {
	TotalUsers      int               `json:"totalUsers"`
	ActiveUsers     int               `json:"activeUsers"`
	TotalAdmins     int               `json:"totalAdmins"`
	DepartmentStats []DepartmentCount `json:"departmentStats"`
}

// Session is a successful login.
type Session struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
	User      User      `json:"user"`
}

// Actor is the authenticated caller of a mutating operation.
type Actor struct {
	ID   string
	Role string
}

func (a Actor) IsAdmin() bool { return a.Role == auth.RoleAdmin }

func validRole(r string) bool {
	return r == auth.RoleAdmin || r == auth.RoleUser
}
