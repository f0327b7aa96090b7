// Package policy provides authorization decisions for team actions.
package policy

import "github.com/charlesng35/teamshot/internal/models"

// Action represents an operation an actor may attempt against a team.
type Action int

const (
	// ActionViewTeam allows reading team details, members and own credits.
	ActionViewTeam Action = iota + 1
	// ActionUseCredits allows spending credits allocated to the actor.
	ActionUseCredits
	// ActionManageMembers allows changing member roles and removing members.
	ActionManageMembers
	// ActionManageInvitations allows creating, listing and revoking invitations.
	ActionManageInvitations
	// ActionManageCredits allows allocating, distributing and reassigning credits.
	ActionManageCredits
	// ActionAssignAdmin allows promoting members to admin.
	ActionAssignAdmin
	// ActionUpdateSettings allows editing the team name, slug and description.
	ActionUpdateSettings
	// ActionDeleteTeam allows deleting the team and everything it owns.
	ActionDeleteTeam
	// ActionGrantCredits allows adding credits to the pool without a payment provider.
	ActionGrantCredits
)

var actionNames = map[Action]string{
	ActionViewTeam:          "team.view",
	ActionUseCredits:        "credits.use",
	ActionManageMembers:     "members.manage",
	ActionManageInvitations: "invitations.manage",
	ActionManageCredits:     "credits.manage",
	ActionAssignAdmin:       "members.assign_admin",
	ActionUpdateSettings:    "team.update",
	ActionDeleteTeam:        "team.delete",
	ActionGrantCredits:      "credits.grant",
}

// String returns the dotted name of the action, used in logs and metrics.
func (a Action) String() string {
	if name, ok := actionNames[a]; ok {
		return name
	}
	return "unknown"
}

// TeamContext is the actor's relationship to a team, resolved once per request.
type TeamContext struct {
	Team       *models.Team
	ActorID    string
	Membership *models.Membership
}

// Role returns the role the actor holds in the team, or "" when the actor has no access.
// The recorded owner is treated as owner even if the membership row is missing.
func (tc TeamContext) Role() models.TeamRole {
	if tc.Team == nil || tc.ActorID == "" {
		return ""
	}
	if tc.Team.OwnerID == tc.ActorID {
		return models.TeamRoleOwner
	}
	if tc.Membership.IsActive() && tc.Membership.UserID == tc.ActorID && tc.Membership.TeamID == tc.Team.ID {
		return tc.Membership.Role
	}
	return ""
}

// HasTeamAccess reports whether the actor owns the team or holds an active membership.
func (tc TeamContext) HasTeamAccess() bool {
	return tc.Role() != ""
}

// IsOwnerOrAdmin reports whether the actor can manage the team.
func (tc TeamContext) IsOwnerOrAdmin() bool {
	switch tc.Role() {
	case models.TeamRoleOwner, models.TeamRoleAdmin:
		return true
	default:
		return false
	}
}

// IsOwner reports whether the actor owns the team.
func (tc TeamContext) IsOwner() bool {
	return tc.Role() == models.TeamRoleOwner
}

// Can reports whether the actor may perform the action.
func Can(tc TeamContext, action Action) bool {
	switch action {
	case ActionViewTeam, ActionUseCredits:
		return tc.HasTeamAccess()
	case ActionManageMembers, ActionManageInvitations, ActionManageCredits:
		return tc.IsOwnerOrAdmin()
	case ActionAssignAdmin, ActionUpdateSettings, ActionDeleteTeam, ActionGrantCredits:
		return tc.IsOwner()
	default:
		return false
	}
}

// CanAssignRole reports whether the actor may set another member's role to target.
func CanAssignRole(tc TeamContext, target models.TeamRole) bool {
	if !target.Assignable() {
		return false
	}
	if target == models.TeamRoleAdmin {
		return Can(tc, ActionAssignAdmin)
	}
	return Can(tc, ActionManageMembers)
}

// CanRemoveMember reports whether the actor may remove the given membership.
// Members may always remove themselves; the owner can never be removed.
func CanRemoveMember(tc TeamContext, target *models.Membership) bool {
	if target == nil || !target.IsActive() {
		return false
	}
	if target.Role == models.TeamRoleOwner || (tc.Team != nil && target.UserID == tc.Team.OwnerID) {
		return false
	}
	if target.UserID == tc.ActorID {
		return tc.HasTeamAccess()
	}
	return Can(tc, ActionManageMembers)
}
