package model

type Role string

const (
	RoleUser      Role = "user"
	RoleGuide     Role = "guide"
	RoleLeadGuide Role = "lead-guide"
	RoleAdmin     Role = "admin"
)

var roles = []Role{RoleUser, RoleGuide, RoleLeadGuide, RoleAdmin}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	for _, known := range roles {
		if r == known {
			return true
		}
	}
	return false
}

// Allowed reports whether r is in the required set. An empty set allows nobody.
func (r Role) Allowed(required ...Role) bool {
	for _, want := range required {
		if r == want {
			return true
		}
	}
	return false
}
