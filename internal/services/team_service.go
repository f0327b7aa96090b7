package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gosimple/slug"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/charlesng35/teamshot/internal/models"
	"github.com/charlesng35/teamshot/internal/policy"
	apperrors "github.com/charlesng35/teamshot/pkg/errors"
	"github.com/charlesng35/teamshot/pkg/validator"
)

// CreateTeamInput captures new team metadata. An empty slug is derived from the name.
type CreateTeamInput struct {
	Name        string `json:"name" validate:"required,min=2,max=255,teamname"`
	Slug        string `json:"slug" validate:"required,min=2,max=255,slug"`
	Description string `json:"description" validate:"max=2000"`
}

// UpdateTeamInput describes mutable team fields.
type UpdateTeamInput struct {
	Name        *string
	Slug        *string
	Description *string
}

// TeamMembership pairs a team with the role the user holds in it.
type TeamMembership struct {
	Team     models.Team     `json:"team"`
	Role     models.TeamRole `json:"role"`
	JoinedAt time.Time       `json:"joined_at"`
}

// TeamOption customises TeamService behaviour.
type TeamOption func(*TeamService)

// WithTeamClock injects a custom clock primarily for testing.
func WithTeamClock(clock func() time.Time) TeamOption {
	return func(s *TeamService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// TeamService handles team lifecycle and membership management.
type TeamService struct {
	db           *gorm.DB
	auditService *AuditService
	now          func() time.Time
}

// NewTeamService constructs a TeamService instance.
func NewTeamService(db *gorm.DB, auditService *AuditService, opts ...TeamOption) (*TeamService, error) {
	if db == nil {
		return nil, errors.New("team service: db is required")
	}
	svc := &TeamService{
		db:           db,
		auditService: auditService,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// Create registers a new team owned by ownerID. The team, the owner's membership
// and an empty credit pool are written in one transaction.
func (s *TeamService) Create(ctx context.Context, ownerID string, input CreateTeamInput) (*models.Team, error) {
	ctx = ensureContext(ctx)

	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return nil, apperrors.ErrUnauthorized
	}

	input.Name = strings.TrimSpace(input.Name)
	input.Description = strings.TrimSpace(input.Description)
	input.Slug = strings.TrimSpace(input.Slug)
	if input.Slug == "" {
		input.Slug = slug.Make(input.Name)
	}
	if err := validator.ValidateStruct(input); err != nil {
		return nil, apperrors.NewBadRequest(err.Error())
	}

	now := s.now()
	team := &models.Team{
		BaseModel:   models.BaseModel{CreatedAt: now, UpdatedAt: now},
		Name:        input.Name,
		Slug:        input.Slug,
		Description: input.Description,
		OwnerID:     ownerID,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var owner models.User
		if err := tx.Select("id").First(&owner, "id = ?", ownerID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrUserNotFound
			}
			return fmt.Errorf("load owner: %w", err)
		}

		if err := tx.Create(team).Error; err != nil {
			if isUniqueConstraintError(err) {
				return ErrSlugTaken
			}
			return fmt.Errorf("create team: %w", err)
		}

		membership := &models.Membership{
			TeamID:   team.ID,
			UserID:   ownerID,
			Role:     models.TeamRoleOwner,
			JoinedAt: now,
		}
		if err := tx.Create(membership).Error; err != nil {
			return fmt.Errorf("create owner membership: %w", err)
		}

		return tx.Clauses(clause.OnConflict{DoNothing: true}).
			Create(&models.TeamCredit{TeamID: team.ID}).Error
	})
	if err != nil {
		var appErr *apperrors.AppError
		if errors.As(err, &appErr) {
			return nil, err
		}
		return nil, fmt.Errorf("team service: %w", err)
	}

	recordAudit(s.auditService, ctx, AuditEntry{
		ActorID:  ownerID,
		TeamID:   team.ID,
		Action:   "team.create",
		Resource: team.ID,
		Result:   auditResultSuccess,
		Metadata: map[string]any{"name": team.Name, "slug": team.Slug},
	})

	return team, nil
}

// GetByID loads a team by id.
func (s *TeamService) GetByID(ctx context.Context, id string) (*models.Team, error) {
	ctx = ensureContext(ctx)
	return loadTeam(s.db.WithContext(ctx), id)
}

// GetBySlug loads a team by its slug.
func (s *TeamService) GetBySlug(ctx context.Context, teamSlug string) (*models.Team, error) {
	ctx = ensureContext(ctx)

	var team models.Team
	err := s.db.WithContext(ctx).First(&team, "slug = ?", strings.TrimSpace(teamSlug)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrTeamNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("team service: load team by slug: %w", err)
	}
	return &team, nil
}

// Context resolves the actor's relationship to the team.
func (s *TeamService) Context(ctx context.Context, teamID, actorID string) (policy.TeamContext, error) {
	ctx = ensureContext(ctx)
	return loadTeamContext(s.db.WithContext(ctx), teamID, actorID)
}

// Authorize resolves the actor's team context and fails with ErrTeamForbidden unless action is allowed.
func (s *TeamService) Authorize(ctx context.Context, teamID, actorID string, action policy.Action) (policy.TeamContext, error) {
	ctx = ensureContext(ctx)
	return authorizeTeam(s.db.WithContext(ctx), teamID, actorID, action)
}

// ListForUser returns every team the user actively belongs to, oldest membership first.
func (s *TeamService) ListForUser(ctx context.Context, userID string) ([]TeamMembership, error) {
	ctx = ensureContext(ctx)

	var memberships []models.Membership
	if err := models.ActiveMemberships(s.db.WithContext(ctx)).
		Preload("Team").
		Where("user_id = ?", userID).
		Order("joined_at ASC").
		Find(&memberships).Error; err != nil {
		return nil, fmt.Errorf("team service: list teams: %w", err)
	}

	teams := make([]TeamMembership, 0, len(memberships))
	for _, m := range memberships {
		if m.Team == nil {
			continue
		}
		role := m.Role
		if m.Team.OwnerID == userID {
			role = models.TeamRoleOwner
		}
		teams = append(teams, TeamMembership{Team: *m.Team, Role: role, JoinedAt: m.JoinedAt})
	}
	return teams, nil
}

// DefaultTeam returns the team a user lands on after signing in: the oldest team they own,
// otherwise the team they joined first.
func (s *TeamService) DefaultTeam(ctx context.Context, userID string) (*TeamMembership, error) {
	teams, err := s.ListForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(teams) == 0 {
		return nil, ErrTeamNotFound
	}

	var owned *TeamMembership
	for i := range teams {
		if teams[i].Role != models.TeamRoleOwner {
			continue
		}
		if owned == nil || teams[i].Team.CreatedAt.Before(owned.Team.CreatedAt) {
			owned = &teams[i]
		}
	}
	if owned != nil {
		return owned, nil
	}
	return &teams[0], nil
}

// Update modifies team metadata. Only the owner may change settings.
func (s *TeamService) Update(ctx context.Context, actorID, teamID string, input UpdateTeamInput) (*models.Team, error) {
	ctx = ensureContext(ctx)

	tc, err := authorizeTeam(s.db.WithContext(ctx), teamID, actorID, policy.ActionUpdateSettings)
	if err != nil {
		return nil, err
	}
	team := tc.Team

	updates := map[string]any{}
	if input.Name != nil {
		name := strings.TrimSpace(*input.Name)
		if err := validator.ValidateVar(name, "required,min=2,max=255,teamname"); err != nil {
			return nil, apperrors.NewBadRequest("team name must be 2-255 letters, digits, spaces or hyphens")
		}
		if name != team.Name {
			updates["name"] = name
		}
	}
	if input.Slug != nil {
		value := strings.TrimSpace(*input.Slug)
		if err := validator.ValidateVar(value, "required,min=2,max=255,slug"); err != nil {
			return nil, apperrors.NewBadRequest("slug must be 2-255 lowercase letters, digits or hyphens and start and end with a letter or digit")
		}
		if value != team.Slug {
			updates["slug"] = value
		}
	}
	if input.Description != nil {
		updates["description"] = strings.TrimSpace(*input.Description)
	}

	if len(updates) == 0 {
		return team, nil
	}

	if err := s.db.WithContext(ctx).Model(team).Updates(updates).Error; err != nil {
		if isUniqueConstraintError(err) {
			return nil, ErrSlugTaken
		}
		return nil, fmt.Errorf("team service: update team: %w", err)
	}

	reloaded, err := loadTeam(s.db.WithContext(ctx), team.ID)
	if err != nil {
		return nil, fmt.Errorf("team service: reload team: %w", err)
	}

	recordAudit(s.auditService, ctx, AuditEntry{
		ActorID:  actorID,
		TeamID:   team.ID,
		Action:   "team.update",
		Resource: team.ID,
		Result:   auditResultSuccess,
		Metadata: updates,
	})

	return reloaded, nil
}

// Delete removes the team together with its memberships, invitations and credit records.
func (s *TeamService) Delete(ctx context.Context, actorID, teamID string) error {
	ctx = ensureContext(ctx)

	tc, err := authorizeTeam(s.db.WithContext(ctx), teamID, actorID, policy.ActionDeleteTeam)
	if err != nil {
		return err
	}
	id := tc.Team.ID

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		dependents := []any{
			&models.MemberCredit{},
			&models.TeamCredit{},
			&models.Payment{},
			&models.Invitation{},
			&models.Membership{},
		}
		for _, model := range dependents {
			if err := tx.Where("team_id = ?", id).Delete(model).Error; err != nil {
				return fmt.Errorf("delete %T: %w", model, err)
			}
		}
		return tx.Delete(&models.Team{}, "id = ?", id).Error
	})
	if err != nil {
		return fmt.Errorf("team service: delete team: %w", err)
	}

	recordAudit(s.auditService, ctx, AuditEntry{
		ActorID:  actorID,
		TeamID:   id,
		Action:   "team.delete",
		Resource: id,
		Result:   auditResultSuccess,
		Metadata: map[string]any{"slug": tc.Team.Slug},
	})
	return nil
}

// ListMembers returns the team's active memberships with their users, in join order.
func (s *TeamService) ListMembers(ctx context.Context, teamID string) ([]models.Membership, error) {
	ctx = ensureContext(ctx)

	if _, err := loadTeam(s.db.WithContext(ctx), teamID); err != nil {
		return nil, err
	}

	var members []models.Membership
	if err := models.ActiveMemberships(s.db.WithContext(ctx)).
		Preload("User").
		Where("team_id = ?", teamID).
		Order("joined_at ASC").
		Find(&members).Error; err != nil {
		return nil, fmt.Errorf("team service: list members: %w", err)
	}
	return members, nil
}

// UpdateMemberRole changes the role of an active member. The owner's role is immutable,
// nobody can be promoted to owner, and only the owner may grant admin.
func (s *TeamService) UpdateMemberRole(ctx context.Context, actorID, teamID, memberID string, role models.TeamRole) (*models.Membership, error) {
	ctx = ensureContext(ctx)
	db := s.db.WithContext(ctx)

	tc, err := authorizeTeam(db, teamID, actorID, policy.ActionManageMembers)
	if err != nil {
		return nil, err
	}
	if !role.Valid() {
		return nil, ErrInvalidRole
	}
	if !policy.CanAssignRole(tc, role) {
		return nil, ErrTeamForbidden
	}

	target, err := s.findMember(db, tc.Team.ID, memberID)
	if err != nil {
		return nil, err
	}
	if target.Role == models.TeamRoleOwner || target.UserID == tc.Team.OwnerID {
		return nil, ErrInvalidTarget
	}

	previous := target.Role
	if previous != role {
		res := models.ActiveMemberships(db.Model(&models.Membership{})).
			Where("id = ?", target.ID).
			Update("role", role)
		if res.Error != nil {
			return nil, fmt.Errorf("team service: update role: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return nil, ErrMemberNotFound
		}
		target.Role = role
	}

	recordAudit(s.auditService, ctx, AuditEntry{
		ActorID:  actorID,
		TeamID:   tc.Team.ID,
		Action:   "team.member.role",
		Resource: target.ID,
		Result:   auditResultSuccess,
		Metadata: map[string]any{"user_id": target.UserID, "from": previous, "to": role},
	})

	return target, nil
}

// RemoveMember soft-removes a membership. Owners and admins may remove anyone but the owner;
// any member may remove themselves.
func (s *TeamService) RemoveMember(ctx context.Context, actorID, teamID, memberID string) error {
	ctx = ensureContext(ctx)
	db := s.db.WithContext(ctx)

	tc, err := loadTeamContext(db, teamID, actorID)
	if err != nil {
		return err
	}
	if !tc.HasTeamAccess() {
		return ErrTeamForbidden
	}

	target, err := s.findMember(db, tc.Team.ID, memberID)
	if err != nil {
		return err
	}
	if target.UserID != tc.ActorID && !policy.Can(tc, policy.ActionManageMembers) {
		return ErrTeamForbidden
	}
	if !policy.CanRemoveMember(tc, target) {
		return ErrInvalidTarget
	}

	now := s.now()
	res := models.ActiveMemberships(db.Model(&models.Membership{})).
		Where("id = ?", target.ID).
		Updates(map[string]any{"removed_at": now, "removed_by": tc.ActorID})
	if res.Error != nil {
		return fmt.Errorf("team service: remove member: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrMemberNotFound
	}

	recordAudit(s.auditService, ctx, AuditEntry{
		ActorID:  actorID,
		TeamID:   tc.Team.ID,
		Action:   "team.member.remove",
		Resource: target.ID,
		Result:   auditResultSuccess,
		Metadata: map[string]any{"user_id": target.UserID, "self": target.UserID == tc.ActorID},
	})
	return nil
}

func (s *TeamService) findMember(db *gorm.DB, teamID, memberID string) (*models.Membership, error) {
	var member models.Membership
	err := models.ActiveMemberships(db).
		Where("id = ? AND team_id = ?", strings.TrimSpace(memberID), teamID).
		First(&member).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrMemberNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("team service: load member: %w", err)
	}
	return &member, nil
}
