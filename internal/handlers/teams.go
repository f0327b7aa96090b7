package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/teamshot/internal/models"
	"github.com/charlesng35/teamshot/internal/services"
	"github.com/charlesng35/teamshot/pkg/response"
)

// TeamHandler exposes team lifecycle and membership endpoints.
type TeamHandler struct {
	svc *services.TeamService
}

// NewTeamHandler constructs a TeamHandler.
func NewTeamHandler(svc *services.TeamService) *TeamHandler {
	return &TeamHandler{svc: svc}
}

type createTeamRequest struct {
	Name        string `json:"name" validate:"required,min=2,max=255"`
	Slug        string `json:"slug" validate:"omitempty,min=2,max=255"`
	Description string `json:"description" validate:"max=2000"`
}

type updateTeamRequest struct {
	Name        *string `json:"name" validate:"omitempty,min=2,max=255"`
	Slug        *string `json:"slug" validate:"omitempty,min=2,max=255"`
	Description *string `json:"description" validate:"omitempty,max=2000"`
}

type updateMemberRequest struct {
	Role string `json:"role" validate:"required,oneof=admin member"`
}

type teamResponse struct {
	models.Team
	Role models.TeamRole `json:"role"`
}

// GET /api/teams
func (h *TeamHandler) List(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	teams, err := h.svc.ListForUser(requestContext(c), userID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, teams)
}

// POST /api/teams
func (h *TeamHandler) Create(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	var req createTeamRequest
	if !bindAndValidate(c, &req) {
		return
	}

	team, err := h.svc.Create(requestContext(c), userID, services.CreateTeamInput{
		Name:        req.Name,
		Slug:        req.Slug,
		Description: req.Description,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusCreated, teamResponse{Team: *team, Role: models.TeamRoleOwner})
}

// GET /api/teams/:slug
func (h *TeamHandler) Get(c *gin.Context) {
	tc, ok := teamScope(c)
	if !ok {
		return
	}
	response.Success(c, http.StatusOK, teamResponse{Team: *tc.Team, Role: tc.Role()})
}

// PATCH /api/teams/:slug
func (h *TeamHandler) Update(c *gin.Context) {
	tc, ok := teamScope(c)
	if !ok {
		return
	}

	var req updateTeamRequest
	if !bindAndValidate(c, &req) {
		return
	}

	team, err := h.svc.Update(requestContext(c), tc.ActorID, tc.Team.ID, services.UpdateTeamInput{
		Name:        req.Name,
		Slug:        req.Slug,
		Description: req.Description,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, teamResponse{Team: *team, Role: tc.Role()})
}

// DELETE /api/teams/:slug
func (h *TeamHandler) Delete(c *gin.Context) {
	tc, ok := teamScope(c)
	if !ok {
		return
	}

	if err := h.svc.Delete(requestContext(c), tc.ActorID, tc.Team.ID); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"deleted": true})
}

// GET /api/teams/:slug/members
func (h *TeamHandler) ListMembers(c *gin.Context) {
	tc, ok := teamScope(c)
	if !ok {
		return
	}

	members, err := h.svc.ListMembers(requestContext(c), tc.Team.ID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, members)
}

// PATCH /api/teams/:slug/members/:memberId
func (h *TeamHandler) UpdateMember(c *gin.Context) {
	tc, ok := teamScope(c)
	if !ok {
		return
	}

	var req updateMemberRequest
	if !bindAndValidate(c, &req) {
		return
	}
	role, err := models.ParseTeamRole(req.Role)
	if err != nil {
		response.Error(c, services.ErrInvalidRole)
		return
	}

	member, err := h.svc.UpdateMemberRole(requestContext(c), tc.ActorID, tc.Team.ID, c.Param("memberId"), role)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, member)
}

// DELETE /api/teams/:slug/members/:memberId
func (h *TeamHandler) RemoveMember(c *gin.Context) {
	tc, ok := teamScope(c)
	if !ok {
		return
	}

	if err := h.svc.RemoveMember(requestContext(c), tc.ActorID, tc.Team.ID, c.Param("memberId")); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"removed": true})
}
