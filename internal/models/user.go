package models

import "time"

// UserRole represents the available roles for the RBAC system. Admin-panel
// operators carry SUPERADMIN or ADMIN; STAFF manage day-to-day records;
// MEMBER accounts exist so attendees can reference a registered user.
type UserRole string

const (
	RoleSuperAdmin UserRole = "SUPERADMIN"
	RoleAdmin      UserRole = "ADMIN"
	RoleStaff      UserRole = "STAFF"
	RoleMember     UserRole = "MEMBER"
)

// CanManageContent reports whether the role may create or preview
// unpublished content.
func (r UserRole) CanManageContent() bool {
	switch r {
	case RoleSuperAdmin, RoleAdmin, RoleStaff:
		return true
	default:
		return false
	}
}

// User represents an application user stored in the users table.
type User struct {
	ID           string     `db:"id" json:"id"`
	Email        string     `db:"email" json:"email"`
	PasswordHash string     `db:"password_hash" json:"-"`
	FullName     string     `db:"full_name" json:"full_name"`
	Role         UserRole   `db:"role" json:"role"`
	Active       bool       `db:"active" json:"active"`
	LastLogin    *time.Time `db:"last_login" json:"last_login,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
}

// UserFilter captures filtering criteria for listing users.
type UserFilter struct {
	Role      *UserRole
	Active    *bool
	Search    string
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}
