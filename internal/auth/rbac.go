package auth

import "strings"

type Role string

const (
	RoleStaff Role = "staff"
	RoleUser  Role = "user"
)

func NormalizeRole(role string) Role {
	switch strings.ToLower(strings.TrimSpace(role)) {
	case string(RoleStaff):
		return RoleStaff
	default:
		return RoleUser
	}
}

// RoleFor maps the staff flag of a user to a role.
func RoleFor(staff bool) Role {
	if staff {
		return RoleStaff
	}
	return RoleUser
}

func IsStaff(role string) bool {
	return NormalizeRole(role) == RoleStaff
}
