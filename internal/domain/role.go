package domain

// UserRole is the account type of an event-portal user
type UserRole string

const (
	RoleParticipant UserRole = "participant"
	RoleOrganizer   UserRole = "organizer"
	RoleAdmin       UserRole = "admin"
)

// IsValid checks if a role is valid
func (r UserRole) IsValid() bool {
	switch r {
	case RoleParticipant, RoleOrganizer, RoleAdmin:
		return true
	}
	return false
}

// SelfAssignable reports whether a user may pick this role at registration.
func (r UserRole) SelfAssignable() bool {
	return r == RoleParticipant || r == RoleOrganizer
}

// String returns the string representation of the role
func (r UserRole) String() string {
	return string(r)
}
