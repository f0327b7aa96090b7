package services

import (
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/charlesng35/teamshot/internal/models"
	"github.com/charlesng35/teamshot/internal/policy"
)

func loadTeam(db *gorm.DB, teamID string) (*models.Team, error) {
	teamID = strings.TrimSpace(teamID)
	if teamID == "" {
		return nil, ErrTeamNotFound
	}

	var team models.Team
	err := db.First(&team, "id = ?", teamID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrTeamNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load team: %w", err)
	}
	return &team, nil
}

// loadActiveMembership returns the user's active membership in the team, or nil when there is none.
func loadActiveMembership(db *gorm.DB, teamID, userID string) (*models.Membership, error) {
	var membership models.Membership
	err := models.ActiveMemberships(db).
		Where("team_id = ? AND user_id = ?", teamID, userID).
		First(&membership).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load membership: %w", err)
	}
	return &membership, nil
}

func loadTeamContext(db *gorm.DB, teamID, actorID string) (policy.TeamContext, error) {
	team, err := loadTeam(db, teamID)
	if err != nil {
		return policy.TeamContext{}, err
	}

	tc := policy.TeamContext{Team: team, ActorID: strings.TrimSpace(actorID)}
	if tc.ActorID == "" {
		return tc, nil
	}

	membership, err := loadActiveMembership(db, team.ID, tc.ActorID)
	if err != nil {
		return policy.TeamContext{}, err
	}
	tc.Membership = membership
	return tc, nil
}

// authorizeTeam loads the actor's team context and checks it against action.
func authorizeTeam(db *gorm.DB, teamID, actorID string, action policy.Action) (policy.TeamContext, error) {
	tc, err := loadTeamContext(db, teamID, actorID)
	if err != nil {
		return policy.TeamContext{}, err
	}
	if !policy.Can(tc, action) {
		return tc, ErrTeamForbidden
	}
	return tc, nil
}
