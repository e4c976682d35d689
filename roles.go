package authclient

import "strings"

// UserRole is the user's role
type UserRole string

const (
	// RoleAdmin manages the platform
	RoleAdmin UserRole = "ADMIN"
	// RoleBroker manages policies on behalf of customers
	RoleBroker UserRole = "BROKER"
	// RoleUser is a policy holder
	RoleUser UserRole = "USER"
)

const (
	LandingAdmin   = "/admin"
	LandingBroker  = "/broker/policies"
	LandingDefault = "/dashboard"
	LoginPath      = "/login"
	RegisterPath   = "/register"
)

// landingPages is the only role to route mapping. Navigation, the route gate
// and the CLI all read it through LandingPage.
var landingPages = map[UserRole]string{
	RoleAdmin:  LandingAdmin,
	RoleBroker: LandingBroker,
	RoleUser:   LandingDefault,
}

// LandingPage returns the canonical landing route for role. It is total:
// unknown or empty roles resolve to LandingDefault.
func LandingPage(role UserRole) string {
	if path, ok := landingPages[role.Normalize()]; ok {
		return path
	}
	return LandingDefault
}

// Normalize upper cases and trims the role. The server is not consistent
// about casing.
func (r UserRole) Normalize() UserRole {
	return UserRole(strings.ToUpper(strings.TrimSpace(string(r))))
}

// IsValid checks if the role is one of the predefined valid roles
func (r UserRole) IsValid() bool {
	switch r.Normalize() {
	case RoleAdmin, RoleBroker, RoleUser:
		return true
	default:
		return false
	}
}

func (r UserRole) String() string {
	return string(r)
}

// In reports whether r is one of roles.
func (r UserRole) In(roles ...UserRole) bool {
	n := r.Normalize()
	for _, role := range roles {
		if role.Normalize() == n {
			return true
		}
	}
	return false
}

// GetAllRoles returns all predefined roles
func GetAllRoles() []UserRole {
	return []UserRole{
		RoleAdmin,
		RoleBroker,
		RoleUser,
	}
}

// ParseRole safely parses a string into a UserRole type
func ParseRole(roleStr string) (UserRole, bool) {
	role := UserRole(roleStr).Normalize()
	return role, role.IsValid()
}
