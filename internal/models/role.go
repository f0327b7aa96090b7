package models

import (
	"fmt"
	"strings"
)

// TeamRole is the closed set of roles a membership can carry.
type TeamRole string

const (
	TeamRoleOwner  TeamRole = "owner"
	TeamRoleAdmin  TeamRole = "admin"
	TeamRoleMember TeamRole = "member"
)

// ParseTeamRole converts user input into a TeamRole.
func ParseTeamRole(value string) (TeamRole, error) {
	role := TeamRole(strings.ToLower(strings.TrimSpace(value)))
	if !role.Valid() {
		return "", fmt.Errorf("unknown team role %q", value)
	}
	return role, nil
}

// Valid reports whether the role is one of the known team roles.
func (r TeamRole) Valid() bool {
	switch r {
	case TeamRoleOwner, TeamRoleAdmin, TeamRoleMember:
		return true
	default:
		return false
	}
}

// Assignable reports whether the role may be granted through invitations or role changes.
// Ownership only originates from team creation.
func (r TeamRole) Assignable() bool {
	switch r {
	case TeamRoleAdmin, TeamRoleMember:
		return true
	default:
		return false
	}
}

func (r TeamRole) String() string {
	return string(r)
}
